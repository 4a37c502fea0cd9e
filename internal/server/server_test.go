package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chatrelay/chatrelay/internal/auth"
	"github.com/chatrelay/chatrelay/internal/docstore/badgerdb"
)

func TestShouldSkipAuth(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{path: "/", want: true},
		{path: "/ping", want: true},
		{path: "/api/webhook", want: true},
		{path: "/webhook", want: true},
		{path: "/api/auth/login", want: true},
		{path: "/api/auth/url", want: true},
		{path: "/media/line-images/1_a.jpg", want: true},
		{path: "/media", want: false},
		{path: "/api/auth/logout", want: false},
		{path: "/api/orders", want: false},
		{path: "/api/chats/events", want: false},
	}

	for _, tc := range cases {
		got := shouldSkipAuth(tc.path)
		if got != tc.want {
			t.Fatalf("path=%q want=%v got=%v", tc.path, tc.want, got)
		}
	}
}

type routes struct{}

func (routes) Register(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	e.GET("/api/orders", func(c echo.Context) error {
		session, err := auth.SessionFromContext(c)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, session.UserID)
	})
}

func newTestServer(t *testing.T) (*Server, *auth.TokenStore) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	docs, err := badgerdb.OpenInMemory(log)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = docs.Close() })
	tokens := auth.NewTokenStore(log, docs)
	srv := NewServer(log, Config{JWTSecret: "secret", ContentSecurityPolicy: "default-src 'none'"}, tokens, routes{}, nil)
	return srv, tokens
}

func TestServerAuthAndHeaders(t *testing.T) {
	srv, tokens := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ping status = %d", rec.Code)
	}
	if got := rec.Header().Get(echo.HeaderContentSecurityPolicy); got != "default-src 'none'" {
		t.Fatalf("csp = %q", got)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}

	token, _, err := auth.GenerateToken("U1", "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown session status = %d", rec.Code)
	}

	if _, err := tokens.Save(context.Background(), auth.Session{Token: token, UserID: "U1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "U1" {
		t.Fatalf("authenticated status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestServerCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set(echo.HeaderOrigin, "https://shop.example")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code >= 300 {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "*" {
		t.Fatalf("allow origin = %q", got)
	}
}
