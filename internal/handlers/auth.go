package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chatrelay/chatrelay/internal/auth"
	"github.com/chatrelay/chatrelay/internal/line"
	"github.com/chatrelay/chatrelay/internal/ratelimit"
)

type LoginService interface {
	Login(ctx context.Context, code, redirectURI string) (auth.LoginResult, error)
	Logout(ctx context.Context, token string) error
	AuthURL(redirectURI string) (auth.AuthorizeURL, error)
}

type AuthHandler struct {
	service   LoginService
	limiter   *ratelimit.Limiter
	loginRule ratelimit.Rule
	logger    *slog.Logger
}

type LoginRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
}

// NewAuthHandler builds the login endpoints. limiter may be nil.
func NewAuthHandler(log *slog.Logger, service LoginService, limiter *ratelimit.Limiter, loginRule ratelimit.Rule) *AuthHandler {
	return &AuthHandler{
		service:   service,
		limiter:   limiter,
		loginRule: loginRule,
		logger:    log.With(slog.String("handler", "auth")),
	}
}

func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/api/auth/login", h.Login, ratelimit.Middleware(h.limiter, h.loginRule))
	e.POST("/api/auth/logout", h.Logout)
	e.GET("/api/auth/url", h.AuthURL)
}

// AuthURL returns the LINE Login authorization URL for redirectUri.
func (h *AuthHandler) AuthURL(c echo.Context) error {
	redirectURI := strings.TrimSpace(c.QueryParam("redirectUri"))
	if redirectURI == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "redirectUri is required")
	}
	res, err := h.service.AuthURL(redirectURI)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

// Login godoc
// @Summary Exchange a LINE Login code for a bearer token
// @Tags auth
// @Param payload body LoginRequest true "Authorization code"
// @Success 200 {object} auth.LoginResult
// @Failure 400 {object} echo.HTTPError
// @Failure 401 {object} echo.HTTPError
// @Router /api/auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Code) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}
	res, err := h.service.Login(c.Request().Context(), req.Code, req.RedirectURI)
	if err != nil {
		h.logger.Warn("login failed", slog.Any("error", err))
		var apiErr *line.APIError
		if errors.As(err, &apiErr) {
			return echo.NewHTTPError(http.StatusBadGateway, "line api error")
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "login failed")
	}
	return c.JSON(http.StatusOK, res)
}

func (h *AuthHandler) Logout(c echo.Context) error {
	raw, err := auth.RawTokenFromContext(c)
	if err != nil {
		return err
	}
	if err := h.service.Logout(c.Request().Context(), raw); err != nil {
		if errors.Is(err, auth.ErrInvalidSession) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
