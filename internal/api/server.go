// Package api exposes the moderation console's HTTP surface: triggering
// syncs, running batch draft jobs, polling job progress, and approving
// replies.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server represents the API server
type Server struct {
	echo     *echo.Echo
	handlers *Handlers
	port     int
}

// NewServer creates a new API server
func NewServer(port int, handlers *Handlers) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:     e,
		handlers: handlers,
		port:     port,
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")

	v1.POST("/accounts/:id/sync", s.handlers.TriggerSync)
	v1.POST("/accounts/:id/sync/enqueue", s.handlers.EnqueueSync)
	v1.GET("/accounts/:id/messages", s.handlers.ListMessages)

	v1.POST("/draft-jobs", s.handlers.StartDraftJob)
	v1.GET("/jobs/:id", s.handlers.GetJobStatus)

	v1.POST("/messages/:id/approve", s.handlers.ApproveMessage)
}

// Start begins the API server and blocks until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
