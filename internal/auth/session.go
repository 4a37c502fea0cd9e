package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chatrelay/chatrelay/internal/docstore"
	"github.com/chatrelay/chatrelay/internal/line"
)

const (
	Collection = "auth_tokens"

	contextKeySession = "session"
)

var ErrInvalidSession = errors.New("invalid session")

// Session is one issued bearer token and the LINE login it came from.
type Session struct {
	Key                 string       `json:"-"`
	Token               string       `json:"token"`
	UpstreamAccessToken string       `json:"upstreamAccessToken"`
	UserID              string       `json:"userId"`
	Profile             line.Profile `json:"profile"`
	CreatedAt           int64        `json:"createdAt"`
}

// TokenStore keeps sessions in the auth_tokens collection.
type TokenStore struct {
	docs   docstore.Store
	logger *slog.Logger
}

func NewTokenStore(log *slog.Logger, docs docstore.Store) *TokenStore {
	return &TokenStore{
		docs:   docs,
		logger: log.With(slog.String("component", "auth_tokens")),
	}
}

// Save stores s and returns it with its document key.
func (s *TokenStore) Save(ctx context.Context, session Session) (Session, error) {
	if strings.TrimSpace(session.Token) == "" {
		return Session{}, fmt.Errorf("session token is required")
	}
	if session.CreatedAt == 0 {
		session.CreatedAt = time.Now().UnixMilli()
	}
	key, err := s.docs.Push(ctx, Collection, session)
	if err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	session.Key = key
	return session, nil
}

// FindByToken returns the session for token or ErrInvalidSession.
func (s *TokenStore) FindByToken(ctx context.Context, token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrInvalidSession
	}
	snaps, err := s.docs.Query(ctx, Collection, docstore.Query{Field: "token", Equals: token, Limit: 1})
	if err != nil {
		return Session{}, fmt.Errorf("lookup session: %w", err)
	}
	if len(snaps) == 0 {
		return Session{}, ErrInvalidSession
	}
	var session Session
	if err := snaps[0].Decode(&session); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	session.Key = snaps[0].Key
	return session, nil
}

// Revoke deletes the session stored for token.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	session, err := s.FindByToken(ctx, token)
	if err != nil {
		return err
	}
	return s.docs.Delete(ctx, Collection, session.Key)
}

// SessionMiddleware resolves the bearer token checked by JWTMiddleware to a
// stored session. Tokens that verify but were never issued, or were revoked,
// are rejected.
func SessionMiddleware(store *TokenStore, skipper middleware.Skipper) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = middleware.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}
			raw, err := RawTokenFromContext(c)
			if err != nil {
				return err
			}
			session, err := store.FindByToken(c.Request().Context(), raw)
			if err != nil {
				if errors.Is(err, ErrInvalidSession) {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
				}
				store.logger.Error("session lookup failed", slog.Any("error", err))
				return echo.NewHTTPError(http.StatusInternalServerError, "session lookup failed")
			}
			SetSession(c, session)
			return next(c)
		}
	}
}

// SetSession attaches session to the request context.
func SetSession(c echo.Context, session Session) {
	c.Set(contextKeySession, session)
}

// SessionFromContext returns the session attached by SessionMiddleware.
func SessionFromContext(c echo.Context) (Session, error) {
	session, ok := c.Get(contextKeySession).(Session)
	if !ok {
		return Session{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	return session, nil
}
