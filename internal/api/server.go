// Package api serves the local HTTP control surface of the daemon: fan
// status, manual override leases and profile reloads.
package api

import (
	"context"
	"time"

	"codeberg.org/mutker/fanctl/internal/errors"
	"codeberg.org/mutker/fanctl/internal/fancontrol"
	"codeberg.org/mutker/fanctl/internal/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const (
	DefaultListen  = "127.0.0.1:7123"
	requestTimeout = 2 * time.Second
)

// FanController is the part of a fan controller the API drives.
type FanController interface {
	Index() int
	Status() fancontrol.Status
	Override(ctx context.Context, speed uint8) error
}

// ReloadFunc reloads the fan profiles from disk into every controller.
type ReloadFunc func(ctx context.Context) error

// Server represents the API server
type Server struct {
	app    *fiber.App
	fans   map[int]FanController
	order  []int
	reload ReloadFunc
	logger logger.Logger
}

// NewServer creates a new API server
func NewServer(fans []FanController, reload ReloadFunc, log logger.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
		IdleTimeout:           30 * time.Second,
		DisableStartupMessage: true,
		AppName:               "fanctl",
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		app:    app,
		fans:   make(map[int]FanController, len(fans)),
		reload: reload,
		logger: log,
	}
	for _, fan := range fans {
		s.fans[fan.Index()] = fan
		s.order = append(s.order, fan.Index())
	}

	app.Use(recover.New())
	app.Use(s.logRequest)
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	api := s.app.Group("/api")

	api.Get("/health", s.healthCheck)

	api.Get("/fans", s.getFans)
	api.Get("/fans/:id", s.getFan)
	api.Post("/fans/:id/override", s.overrideFan)

	api.Post("/profile/reload", s.reloadProfiles)
}

// Start listens on address until Shutdown is called.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("listen", address).Msg("API server listening")
	return s.app.Listen(address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the underlying fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) logRequest(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		status = fiberErr.Code
	}

	s.logger.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("API request")

	return err
}

// errorHandler renders handler errors as {"error": "..."}.
func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		status = fiberErr.Code
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
