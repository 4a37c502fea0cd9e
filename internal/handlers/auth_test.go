package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/auth"
	"github.com/chatrelay/chatrelay/internal/line"
	"github.com/chatrelay/chatrelay/internal/ratelimit"
)

type fakeLoginService struct {
	err      error
	code     string
	redirect string
}

func (f *fakeLoginService) Login(_ context.Context, code, redirectURI string) (auth.LoginResult, error) {
	f.code = code
	f.redirect = redirectURI
	if f.err != nil {
		return auth.LoginResult{}, f.err
	}
	return auth.LoginResult{Token: "tok", User: line.Profile{UserID: "U1", DisplayName: "Amy"}}, nil
}

func (f *fakeLoginService) Logout(context.Context, string) error {
	return nil
}

func (f *fakeLoginService) AuthURL(redirectURI string) (auth.AuthorizeURL, error) {
	return auth.AuthorizeURL{URL: "https://access.line.test/authorize?redirect_uri=" + redirectURI, State: "st"}, nil
}

func TestLogin(t *testing.T) {
	r := require.New(t)
	svc := &fakeLoginService{}
	e := echo.New()
	NewAuthHandler(discardLogger(), svc, nil, ratelimit.LoginRule(10)).Register(e)

	rec := doJSON(e, http.MethodPost, "/api/auth/login", `{"code":"abc","redirectUri":"https://app/cb"}`)
	r.Equal(http.StatusOK, rec.Code, rec.Body.String())
	r.Equal("abc", svc.code)
	r.Equal("https://app/cb", svc.redirect)
	r.Contains(rec.Body.String(), `"token":"tok"`)
	r.Contains(rec.Body.String(), `"userId":"U1"`)

	rec = doJSON(e, http.MethodPost, "/api/auth/login", `{"redirectUri":"x"}`)
	r.Equal(http.StatusBadRequest, rec.Code)

	svc.err = errors.New("exchange code: oauth2: invalid_grant")
	rec = doJSON(e, http.MethodPost, "/api/auth/login", `{"code":"bad"}`)
	r.Equal(http.StatusUnauthorized, rec.Code)

	svc.err = &line.APIError{StatusCode: 500}
	rec = doJSON(e, http.MethodPost, "/api/auth/login", `{"code":"bad"}`)
	r.Equal(http.StatusBadGateway, rec.Code)
}

func TestAuthURL(t *testing.T) {
	r := require.New(t)
	e := echo.New()
	NewAuthHandler(discardLogger(), &fakeLoginService{}, nil, ratelimit.LoginRule(10)).Register(e)

	rec := doJSON(e, http.MethodGet, "/api/auth/url?redirectUri=https://app/cb", "")
	r.Equal(http.StatusOK, rec.Code)
	r.Contains(rec.Body.String(), `"state":"st"`)
	r.Contains(rec.Body.String(), "redirect_uri=https://app/cb")

	rec = doJSON(e, http.MethodGet, "/api/auth/url", "")
	r.Equal(http.StatusBadRequest, rec.Code)
}
