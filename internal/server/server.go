package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/memohai/guardrelay/internal/auth"
)

// Handler registers routes on the server.
type Handler interface {
	Register(e *echo.Echo)
}

// Options configures a Server.
type Options struct {
	Addr string
	// JWTSecret enables token checks on every route outside the public set. Empty disables auth.
	JWTSecret string
}

type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

var (
	jwtExactSkipPaths = map[string]struct{}{
		"/":               {},
		"/ping":           {},
		"/health":         {},
		"/api/health":     {},
		"/api/auth/login": {},
	}
	jwtPrefixSkipPaths = []string{
		"/assets/",
	}
)

func NewServer(log *slog.Logger, opts Options, handlers ...Handler) *Server {
	if log == nil {
		log = slog.Default()
	}
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		addr = ":3000"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", redactToken(v.URI)),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	if strings.TrimSpace(opts.JWTSecret) != "" {
		e.Use(auth.JWTMiddleware(opts.JWTSecret, func(c echo.Context) bool {
			return shouldSkipJWT(c.Request().URL.Path)
		}))
	}
	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}

	return &Server{
		echo:   e,
		addr:   addr,
		logger: log.With(slog.String("component", "server")),
	}
}

// Echo exposes the router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func shouldSkipJWT(path string) bool {
	if _, ok := jwtExactSkipPaths[path]; ok {
		return true
	}
	for _, prefix := range jwtPrefixSkipPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// redactToken hides the ?token= query value websocket clients send.
func redactToken(uri string) string {
	idx := strings.Index(uri, "token=")
	if idx < 0 {
		return uri
	}
	end := strings.IndexByte(uri[idx:], '&')
	if end < 0 {
		return uri[:idx] + "token=REDACTED"
	}
	return uri[:idx] + "token=REDACTED" + uri[idx+end:]
}
