// Package http provides the HTTP API for behaviord.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/automation"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/engine"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/logging"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/store"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/telemetry"
)

// Server provides HTTP endpoints for the engine.
type Server struct {
	echo    *echo.Echo
	engine  *engine.Engine
	health  func() telemetry.HealthStatus
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Health reports telemetry health on /health. Optional.
	Health func() telemetry.HealthStatus

	// Meter for request metrics. Defaults to the global meter provider.
	Meter metric.Meter
}

// NewServer creates a new HTTP server.
func NewServer(eng *engine.Engine, logger *zap.Logger, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	metrics := NewHTTPMetrics(logger)
	if cfg.Meter != nil {
		metrics = newHTTPMetrics(cfg.Meter, logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		engine:  eng,
		health:  cfg.Health,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), reqID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/events", s.handleTrackEvent)
	v1.POST("/notifications", s.handleNotification)
	v1.PATCH("/rules/:id", s.handleRuleStatus)

	users := v1.Group("/users/:id")
	users.POST("/analyze", s.handleAnalyze)
	users.GET("/rules", s.handleListRules)
	users.POST("/route", s.handleRoute)
	users.POST("/routing-history", s.handleRoutingHistory)
	users.GET("/preferences", s.handleGetPreferences)
	users.PUT("/preferences", s.handlePutPreferences)
	users.POST("/notification-rules", s.handleNotificationRule)
}

// handleHealth reports scheduler and telemetry state. The service is healthy
// while telemetry is merely degraded.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status:    "ok",
		Scheduler: s.engine.Services().Scheduler().Running(),
	}
	if s.health != nil {
		h := s.health()
		resp.Telemetry = &h
		if h.Degraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// statusFor maps domain errors to HTTP errors.
func (s *Server) statusFor(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, behavior.ErrEmptyUserID),
		errors.Is(err, behavior.ErrEmptyEventType),
		errors.Is(err, automation.ErrInvalidStatus),
		errors.Is(err, notify.ErrInvalidPriority),
		errors.Is(err, notify.ErrInvalidClock):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrStopped):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	s.logger.Error(op+" failed",
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, op+" failed")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be mounted or exercised with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
