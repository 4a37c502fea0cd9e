package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chatrelay/chatrelay/internal/line"
)

type Pusher interface {
	Push(ctx context.Context, to string, messages []json.RawMessage) (json.RawMessage, error)
}

type PushRequest struct {
	To       string            `json:"to"`
	Messages []json.RawMessage `json:"messages"`
}

// PushHandler sends operator messages to LINE users.
type PushHandler struct {
	pusher Pusher
	logger *slog.Logger
}

func NewPushHandler(log *slog.Logger, pusher Pusher) *PushHandler {
	return &PushHandler{
		pusher: pusher,
		logger: log.With(slog.String("handler", "push")),
	}
}

func (h *PushHandler) Register(e *echo.Echo) {
	e.POST("/api/messages", h.Push)
}

// Push godoc
// @Summary Push messages to a LINE user, group or room
// @Tags messages
// @Param payload body PushRequest true "Recipient and LINE message objects"
// @Success 200 {object} map[string]any
// @Failure 400 {object} echo.HTTPError
// @Failure 502 {object} map[string]any
// @Router /api/messages [post]
func (h *PushHandler) Push(c echo.Context) error {
	var req PushRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.To) == "" || len(req.Messages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "to and messages are required")
	}
	resp, err := h.pusher.Push(c.Request().Context(), req.To, req.Messages)
	if err != nil {
		h.logger.Warn("push failed", slog.String("to", req.To), slog.Any("error", err))
		var apiErr *line.APIError
		if errors.As(err, &apiErr) {
			return c.JSON(http.StatusBadGateway, map[string]any{
				"error":   "Failed to send message",
				"status":  apiErr.StatusCode,
				"details": apiErr.Body,
			})
		}
		return c.JSON(http.StatusBadGateway, map[string]any{
			"error":   "Failed to send message",
			"details": err.Error(),
		})
	}
	if len(resp) == 0 {
		resp = json.RawMessage(`{}`)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data":    resp,
	})
}
