// Package api serves the review queue over HTTP: document listing, the
// validation and learning operations, scan triggering and /metrics.
package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/gmsas95/paperflow/internal/config"
	"github.com/gmsas95/paperflow/internal/lifecycle"
	"github.com/gmsas95/paperflow/internal/llm"
	"github.com/gmsas95/paperflow/internal/metrics"
	"github.com/gmsas95/paperflow/internal/scanner"
	"github.com/gmsas95/paperflow/internal/store"
)

// Pipeline is the part of pipeline.Service the API drives
type Pipeline interface {
	Scan(ctx context.Context) (*scanner.Report, error)
	ApplySuggestions(ctx context.Context, documentID string) error
	Validate(ctx context.Context, documentID string, o lifecycle.Overrides) (*store.Document, error)
	Reprocess(ctx context.Context, documentID string) error
	Confirm(ctx context.Context, documentID, fieldCode, user string) error
	Correct(ctx context.Context, documentID, fieldCode, value, user string) error
	Suggestions(ctx context.Context, fieldCode string, correspondentID *uint, limit int) ([]store.ExtractionHistory, error)
	Supersede(ctx context.Context, documentID string) error
}

// Server handles the HTTP API
type Server struct {
	app      *fiber.App
	config   config.APIConfig
	store    *store.Store
	pipeline Pipeline
	metrics  *metrics.Metrics
	ai       llm.Completer
	logger   *zap.Logger
	version  string
}

// New creates the API server. ai may be nil when no provider is configured.
func New(cfg config.APIConfig, st *store.Store, p Pipeline, m *metrics.Metrics, ai llm.Completer, version string, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          10 * time.Minute,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		app:      app,
		config:   cfg,
		store:    st,
		pipeline: p,
		metrics:  m,
		ai:       ai,
		logger:   logger,
		version:  version,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(requestLogger(s.logger))
	if len(s.config.AllowOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(s.config.AllowOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization",
			AllowMethods: "GET, POST, DELETE, OPTIONS",
		}))
	}

	s.app.Get("/api/health", s.handleHealth)
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	api := s.app.Group("/api")
	if s.config.JWTSecret != "" {
		api.Use(s.authMiddleware())
	}

	api.Get("/status", s.handleStatus)
	api.Post("/scan", s.handleScan)

	api.Get("/documents", s.handleListDocuments)
	api.Get("/documents/:id", s.handleGetDocument)
	api.Delete("/documents/:id", s.handleSupersede)
	api.Post("/documents/:id/apply", s.handleApply)
	api.Post("/documents/:id/validate", s.handleValidate)
	api.Post("/documents/:id/reprocess", s.handleReprocess)
	api.Post("/documents/:id/fields/:code/confirm", s.handleConfirm)
	api.Post("/documents/:id/fields/:code/correct", s.handleCorrect)

	api.Get("/fields/:code/suggestions", s.handleSuggestions)
}

// App exposes the fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address until Shutdown
func (s *Server) Start() error {
	s.logger.Info("Review API listening", zap.String("address", s.config.Address))
	return s.app.Listen(s.config.Address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}

func requestLogger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)))
		return err
	}
}
