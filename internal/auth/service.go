package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/chatrelay/chatrelay/internal/line"
)

// CodeExchanger is the LINE Login side of Login.
type CodeExchanger interface {
	AuthCodeURL(redirectURI, state string) string
	Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)
	UserProfile(ctx context.Context, accessToken string) (line.Profile, error)
}

type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      line.Profile `json:"user"`
}

// AuthorizeURL is where the browser starts LINE Login. State comes back on
// the redirect and must be checked by the caller before posting the code.
type AuthorizeURL struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// Service turns LINE Login codes into local bearer tokens.
type Service struct {
	exchanger CodeExchanger
	tokens    *TokenStore
	secret    string
	expiresIn time.Duration
	logger    *slog.Logger
}

func NewService(log *slog.Logger, exchanger CodeExchanger, tokens *TokenStore, secret string, expiresIn time.Duration) *Service {
	return &Service{
		exchanger: exchanger,
		tokens:    tokens,
		secret:    secret,
		expiresIn: expiresIn,
		logger:    log.With(slog.String("service", "auth")),
	}
}

func (s *Service) Login(ctx context.Context, code, redirectURI string) (LoginResult, error) {
	if strings.TrimSpace(code) == "" {
		return LoginResult{}, fmt.Errorf("authorization code is required")
	}
	upstream, err := s.exchanger.Exchange(ctx, code, redirectURI)
	if err != nil {
		return LoginResult{}, err
	}
	profile, err := s.exchanger.UserProfile(ctx, upstream.AccessToken)
	if err != nil {
		return LoginResult{}, err
	}
	if strings.TrimSpace(profile.UserID) == "" {
		return LoginResult{}, fmt.Errorf("line profile has no user id")
	}

	token, expiresAt, err := GenerateToken(profile.UserID, s.secret, s.expiresIn)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign token: %w", err)
	}
	if _, err := s.tokens.Save(ctx, Session{
		Token:               token,
		UpstreamAccessToken: upstream.AccessToken,
		UserID:              profile.UserID,
		Profile:             profile,
	}); err != nil {
		return LoginResult{}, err
	}
	s.logger.Info("user logged in", slog.String("user_id", profile.UserID))
	return LoginResult{Token: token, ExpiresAt: expiresAt, User: profile}, nil
}

func (s *Service) AuthURL(redirectURI string) (AuthorizeURL, error) {
	if strings.TrimSpace(redirectURI) == "" {
		return AuthorizeURL{}, fmt.Errorf("redirect uri is required")
	}
	state := uuid.NewString()
	return AuthorizeURL{URL: s.exchanger.AuthCodeURL(redirectURI, state), State: state}, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}
