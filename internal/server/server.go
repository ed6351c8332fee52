// Package server exposes the chat pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/agent"
	"github.com/mohammad-safakhou/counsel/internal/preprocess"
	"github.com/mohammad-safakhou/counsel/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	WelcomeMessage = "Welcome to the Legal AI Chatbot Backend"
	maxBodySize    = "32M"
)

// Runner is the pipeline entry point the chat handler calls.
type Runner interface {
	RunAgent(ctx context.Context, query, sessionID string, files []preprocess.Upload) (agent.FinalResponse, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Server is the echo instance plus the resources it owns.
type Server struct {
	echo    *echo.Echo
	limiter limiterStore
	log     zerolog.Logger
}

type Option func(*options)

type options struct {
	metrics     *telemetry.Metrics
	limiter     limiterStore
	metricsPath string
}

func WithMetrics(m *telemetry.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithLimiterStore overrides the store built from the rate limit config.
func WithLimiterStore(s middleware.RateLimiterStore) Option {
	return func(o *options) { o.limiter = wrapStore(s) }
}

// New builds the HTTP surface around runner.
func New(cfg config.Config, runner Runner, logger zerolog.Logger, opts ...Option) (*Server, error) {
	o := options{metricsPath: "/metrics"}
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.With().Str("component", "http").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(log)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestLogger(log, o.metrics))
	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, echo.HeaderXRequestID},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(maxBodySize))

	limiter := o.limiter
	if limiter == nil {
		var err error
		limiter, err = newLimiterStore(cfg.Server.RateLimit, cfg.Storage.Redis, log)
		if err != nil {
			return nil, err
		}
	}
	if limiter != nil {
		e.Use(rateLimit(limiter))
	}

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": WelcomeMessage})
	})
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET(o.metricsPath, echo.WrapHandler(promhttp.Handler()))
	(&chatHandler{runner: runner, log: log}).Register(e)

	return &Server{echo: e, limiter: limiter, log: log}, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases the limiter store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	if s.limiter != nil {
		if cerr := s.limiter.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
