// Package server exposes the service's HTTP control surface: trigger
// endpoints, run status, health, and metrics.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/biobanking/blaze-sync/internal/history"
)

// Store is the remote-store surface the HTTP layer needs: the wipe
// operation and a liveness probe. *blaze.Client implements it.
type Store interface {
	DeleteEverything(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Server is the HTTP layer over a Runner.
type Server struct {
	echo   *echo.Echo
	runner *Runner
	store  history.Store
	remote Store
	log    zerolog.Logger
}

// New builds the echo server and registers all routes. tokenSecret guards
// the mutating endpoints; empty disables the guard.
func New(runner *Runner, store history.Store, remote Store, tokenSecret string, log zerolog.Logger) *Server {
	s := &Server{runner: runner, store: store, remote: remote, log: log}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(Recovery(log))
	e.Use(RequestID())
	e.Use(Logger(log))

	e.GET("/health", s.health)
	e.GET("/status", s.status)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	guarded := e.Group("", BearerAuth(tokenSecret))
	guarded.POST("/sync", s.triggerFull)
	guarded.POST("/sync/conditions", s.triggerConditions)
	guarded.DELETE("/records", s.deleteRecords)

	s.echo = e
	return s
}

// Start listens on the given address until the server is shut down.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) health(c echo.Context) error {
	blazeStatus := "up"
	code := http.StatusOK
	if err := s.remote.Ping(c.Request().Context()); err != nil {
		blazeStatus = "down"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]string{
		"status":  "ok",
		"blaze":   blazeStatus,
		"version": "0.1.0",
	})
}

func (s *Server) status(c echo.Context) error {
	runs, err := s.store.Recent(c.Request().Context(), 20)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load run history")
	}
	if runs == nil {
		runs = []history.Run{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"running": s.runner.Running(),
		"runs":    runs,
	})
}

func (s *Server) trigger(c echo.Context, kind string) error {
	if err := s.runner.Trigger(kind); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "started", "kind": kind})
}

func (s *Server) triggerFull(c echo.Context) error {
	return s.trigger(c, history.KindFull)
}

func (s *Server) triggerConditions(c echo.Context) error {
	return s.trigger(c, history.KindConditions)
}

func (s *Server) deleteRecords(c echo.Context) error {
	if s.runner.Running() {
		return echo.NewHTTPError(http.StatusConflict, ErrRunInProgress.Error())
	}
	if err := s.remote.DeleteEverything(c.Request().Context()); err != nil {
		s.log.Error().Err(err).Msg("delete records failed")
		return echo.NewHTTPError(http.StatusBadGateway, "failed to delete remote records")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}
