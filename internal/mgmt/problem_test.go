package mgmt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/p-blackswan/roadmap-agent/internal/errors"
)

func TestErrorResponse_StatusMapping(t *testing.T) {
	s := &Server{logger: zerolog.Nop()}

	tests := []struct {
		name     string
		err      error
		status   int
		problem  string
		noDetail bool
	}{
		{"not found", rerrors.NotFound("task", "t1"), fiber.StatusNotFound, "not_found", false},
		{"bad position", fmt.Errorf("move: %w", rerrors.ErrInvalidPosition), fiber.StatusBadRequest, "invalid_position", false},
		{"bad transition", fmt.Errorf("x -> y: %w", rerrors.ErrInvalidTransition), fiber.StatusBadRequest, "invalid_transition", false},
		{"conflict after retries", rerrors.Storage("move_task", fmt.Errorf("project p1 version 3: %w", rerrors.ErrConflict)), fiber.StatusConflict, "conflict", false},
		{"cancelled", context.Canceled, fiber.StatusServiceUnavailable, "cancelled", false},
		{"storage", rerrors.Storage("append_task", errors.New("disk I/O error")), fiber.StatusInternalServerError, "storage_failure", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return s.errorResponse(c, tt.err) })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			var problem ProblemDetail
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
			assert.Equal(t, tt.problem, problem.Type)
			if tt.noDetail {
				assert.NotContains(t, problem.Detail, "disk")
			}
		})
	}
}
