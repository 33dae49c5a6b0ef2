package mgmt

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/roadmap-agent/internal/health"
	"github.com/p-blackswan/roadmap-agent/internal/metrics"
	"github.com/p-blackswan/roadmap-agent/internal/requestid"
	"github.com/p-blackswan/roadmap-agent/internal/roadmap"
)

// ServerConfig holds configuration for the management API server.
type ServerConfig struct {
	ListenAddr  string
	AuthConfig  AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
}

// Server is the management API Fiber application.
type Server struct {
	app      *fiber.App
	coord    *roadmap.Coordinator
	renderer roadmap.Renderer
	checker  *health.Checker
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	config   ServerConfig
}

// NewServer creates and configures a new management API server. renderer
// backs GET /projects/:id/roadmap; checker and m may be nil.
func NewServer(
	cfg ServerConfig,
	coord *roadmap.Coordinator,
	renderer roadmap.Renderer,
	checker *health.Checker,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	if checker == nil {
		checker = health.NewChecker(logger)
	}
	s := &Server{
		coord:    coord,
		renderer: renderer,
		checker:  checker,
		metrics:  m,
		logger:   logger.With().Str("component", "mgmt_server").Logger(),
		config:   cfg,
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// Params and headers outlive the request in lock keys and logs.
		Immutable:             true,
		ErrorHandler:          s.customErrorHandler,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s.setupMiddleware(cfg)
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID: honour an incoming id, otherwise mint one, and carry it
	// into the coordinator through the user context.
	s.app.Use(func(c *fiber.Ctx) error {
		ctx, reqID := requestid.Ensure(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-Actor-ID",
			AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, s.logger))

	// Audit
	s.app.Use(func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		err := c.Next()
		lg := requestid.Logger(c.UserContext(), s.logger)
		lg.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Str("actor", actorOf(c)).
			Int("status", c.Response().StatusCode()).
			Msg("mgmt api request")
		return err
	})
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", health.LivenessHandler())
	s.app.Get("/readyz", s.checker.ReadinessHandler())
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	v1 := s.app.Group("/api/v1")

	v1.Post("/projects", s.createProject)
	v1.Get("/projects", s.listProjects)
	v1.Get("/projects/:id", s.getProject)
	v1.Patch("/projects/:id", s.updateProject)
	v1.Delete("/projects/:id", s.deactivateProject)

	v1.Put("/projects/:id/channel", s.bindChannel)
	v1.Delete("/projects/:id/channel", s.unbindChannel)
	v1.Post("/projects/:id/sync", s.syncProject)
	v1.Get("/projects/:id/roadmap", s.renderRoadmap)
	v1.Get("/projects/:id/events", s.listEvents)

	v1.Get("/projects/:id/tasks", s.listTasks)
	v1.Post("/projects/:id/tasks", s.appendTask)

	v1.Get("/tasks/:id", s.getTask)
	v1.Patch("/tasks/:id", s.updateTask)
	v1.Delete("/tasks/:id", s.deleteTask)
	v1.Post("/tasks/:id/move", s.moveTask)
	v1.Post("/tasks/:id/up", s.moveTaskUp)
	v1.Post("/tasks/:id/down", s.moveTaskDown)
	v1.Post("/tasks/:id/status", s.setTaskStatus)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}
	s.logger.Info().Str("addr", addr).Msg("management API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("management API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	detail := err.Error()
	if code == fiber.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Str("method", c.Method()).Msg("unhandled error")
		detail = "An internal error occurred"
	}

	return c.Status(code).JSON(ProblemDetail{
		Type:     "http_error",
		Title:    utils.StatusMessage(code),
		Status:   code,
		Detail:   detail,
		Instance: c.Path(),
	})
}
