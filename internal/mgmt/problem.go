package mgmt

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	rerrors "github.com/p-blackswan/roadmap-agent/internal/errors"
)

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

// errorResponse maps a coordinator error onto a problem response. Storage
// details are logged, not returned.
func (s *Server) errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, rerrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound, "not_found", "Not Found", err.Error())
	case errors.Is(err, rerrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest, "invalid_input", "Bad Request", err.Error())
	case errors.Is(err, rerrors.ErrInvalidPosition):
		return problemResponse(c, fiber.StatusBadRequest, "invalid_position", "Bad Request", err.Error())
	case errors.Is(err, rerrors.ErrInvalidTransition):
		return problemResponse(c, fiber.StatusBadRequest, "invalid_transition", "Bad Request", err.Error())
	case errors.Is(err, rerrors.ErrConflict):
		return problemResponse(c, fiber.StatusConflict, "conflict", "Conflict",
			"The project was modified concurrently; retry the request")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return problemResponse(c, fiber.StatusServiceUnavailable, "cancelled", "Service Unavailable", err.Error())
	}

	errType := "internal_error"
	if rerrors.IsStorage(err) {
		errType = "storage_failure"
	}
	s.metrics.RecordError("mgmt", errType)
	s.logger.Error().Err(err).Str("path", c.Path()).Str("method", c.Method()).Msg("request failed")
	return problemResponse(c, fiber.StatusInternalServerError, errType, "Internal Server Error",
		"An internal error occurred")
}
