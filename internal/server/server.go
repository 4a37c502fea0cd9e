package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chatrelay/chatrelay/internal/auth"
)

// Handler registers routes on the shared echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

type Config struct {
	Addr                  string
	JWTSecret             string
	ContentSecurityPolicy string
	CORSOrigins           []string
	BodyLimit             string
}

type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

var (
	publicExactPaths = map[string]struct{}{
		"/":               {},
		"/ping":           {},
		"/health":         {},
		"/metrics":        {},
		"/api/auth/login": {},
		"/api/auth/url":   {},
		"/api/webhook":    {},
		"/webhook":        {},
	}
	publicPrefixPaths = []string{
		"/media/",
	}
)

// NewServer builds the echo instance. Every route outside the public paths
// requires a bearer token that both verifies and maps to a stored session.
func NewServer(log *slog.Logger, cfg Config, tokens *auth.TokenStore, handlers ...Handler) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = ":3000"
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "10M"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	logger := log.With(slog.String("component", "server"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         middleware.DefaultSecureConfig.XSSProtection,
		ContentTypeNosniff:    middleware.DefaultSecureConfig.ContentTypeNosniff,
		XFrameOptions:         middleware.DefaultSecureConfig.XFrameOptions,
		ContentSecurityPolicy: cfg.ContentSecurityPolicy,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	skipper := func(c echo.Context) bool {
		return shouldSkipAuth(c.Request().URL.Path)
	}
	e.Use(auth.JWTMiddleware(cfg.JWTSecret, skipper))
	e.Use(auth.SessionMiddleware(tokens, skipper))

	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}
	return &Server{echo: e, addr: addr, logger: logger}
}

func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets tests drive the server without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func shouldSkipAuth(path string) bool {
	if _, ok := publicExactPaths[path]; ok {
		return true
	}
	for _, prefix := range publicPrefixPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
