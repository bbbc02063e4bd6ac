// Package server provides the HTTP server and Echo setup for the media API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/memohai/mediastore/internal/auth"
	"github.com/memohai/mediastore/internal/logger"
	"github.com/memohai/mediastore/internal/metrics"
)

// Server is the HTTP server (Echo) with JWT middleware and registered handlers.
type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

// Handler registers routes on the Echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

// Options configures the listener and middleware.
type Options struct {
	Addr              string
	JWTSecret         string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	Metrics           metrics.Recorder
}

// NewServer builds the Echo server with recovery, request IDs, request
// logging, optional JWT verification and the given handlers.
func NewServer(log *slog.Logger, opts Options, handlers ...Handler) *Server {
	if log == nil {
		log = slog.Default()
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	rec := metrics.OrNoop(opts.Metrics)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = opts.ReadTimeout
	e.Server.ReadHeaderTimeout = opts.ReadHeaderTimeout
	e.Server.WriteTimeout = opts.WriteTimeout
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithContext(req.Context(), log.With(slog.String("request_id", rid)))))
			return next(c)
		}
	})
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			rec.RecordRequest(v.Method, route, v.Status, v.Latency)
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
				slog.String("remote_ip", c.RealIP()),
			}
			if sub, err := auth.SubjectFromContext(c); err == nil {
				attrs = append(attrs, slog.String("identity", sub))
			} else if id := c.Request().Header.Get(auth.UserIDHeader); id != "" {
				attrs = append(attrs, slog.String("identity", id))
			}
			if v.Error != nil {
				attrs = append(attrs, slog.Any("error", v.Error))
			}
			log.Info("request", attrs...)
			return nil
		},
	}))
	// Inside the logger so recovered panics are logged and counted as 500s.
	e.Use(middleware.Recover())
	if opts.JWTSecret != "" {
		e.Use(auth.JWTMiddleware(opts.JWTSecret, func(c echo.Context) bool {
			switch c.Request().URL.Path {
			case "/ping", "/health", "/metrics":
				return true
			}
			return false
		}))
	}

	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}

	return &Server{
		echo:   e,
		addr:   opts.Addr,
		logger: log.With(slog.String("component", "server")),
	}
}

// Echo exposes the underlying instance, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server (blocks until shutdown).
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server using the given context.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
