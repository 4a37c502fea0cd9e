package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chatrelay/chatrelay/internal/chat"
	"github.com/chatrelay/chatrelay/internal/message"
	"github.com/chatrelay/chatrelay/internal/message/event"
)

const (
	defaultMessagePageSize = 50
	maxMessagePageSize     = 500
	sseHeartbeatInterval   = 20 * time.Second
)

type ChatReader interface {
	Get(ctx context.Context, userID string) (chat.Aggregate, error)
	List(ctx context.Context) ([]chat.Aggregate, error)
	MarkRead(ctx context.Context, userID string) (chat.Aggregate, error)
}

// ChatHandler is the inbox API over chat aggregates and stored messages.
type ChatHandler struct {
	chats     ChatReader
	messages  message.Reader
	events    event.Subscriber
	heartbeat time.Duration
	logger    *slog.Logger
}

func NewChatHandler(log *slog.Logger, chats ChatReader, messages message.Reader, events event.Subscriber) *ChatHandler {
	return &ChatHandler{
		chats:     chats,
		messages:  messages,
		events:    events,
		heartbeat: sseHeartbeatInterval,
		logger:    log.With(slog.String("handler", "chats")),
	}
}

func (h *ChatHandler) Register(e *echo.Echo) {
	group := e.Group("/api/chats")
	group.GET("", h.List)
	group.GET("/events", h.StreamEvents)
	group.GET("/:userId", h.Get)
	group.GET("/:userId/messages", h.ListMessages)
	group.POST("/:userId/read", h.MarkRead)
}

func (h *ChatHandler) List(c echo.Context) error {
	chats, err := h.chats.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, chats)
}

func (h *ChatHandler) Get(c echo.Context) error {
	agg, err := h.chats.Get(c.Request().Context(), strings.TrimSpace(c.Param("userId")))
	if err != nil {
		return chatError(err)
	}
	return c.JSON(http.StatusOK, agg)
}

// ListMessages godoc
// @Summary List the latest messages of a chat in arrival order
// @Tags chats
// @Param userId path string true "Chat id"
// @Param limit query int false "Maximum number of messages"
// @Success 200 {array} message.StoredRecord
// @Router /api/chats/{userId}/messages [get]
func (h *ChatHandler) ListMessages(c echo.Context) error {
	chatID := strings.TrimSpace(c.Param("userId"))
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat id is required")
	}
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	records, err := h.messages.ListByChat(c.Request().Context(), chatID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, records)
}

func (h *ChatHandler) MarkRead(c echo.Context) error {
	agg, err := h.chats.MarkRead(c.Request().Context(), strings.TrimSpace(c.Param("userId")))
	if err != nil {
		return chatError(err)
	}
	return c.JSON(http.StatusOK, agg)
}

// StreamEvents streams message_created and chat_updated events. The optional
// chatId query parameter narrows the stream to one chat.
func (h *ChatHandler) StreamEvents(c echo.Context) error {
	chatID := strings.TrimSpace(c.QueryParam("chatId"))

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	writer := bufio.NewWriter(c.Response().Writer)

	_, stream, cancel := h.events.Subscribe(chatID, 128)
	defer cancel()

	if err := writeSSEJSON(writer, flusher, map[string]any{"type": "ready", "chatId": chatID}); err != nil {
		return nil
	}

	heartbeatTicker := time.NewTicker(h.heartbeat)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-heartbeatTicker.C:
			if err := writeSSEJSON(writer, flusher, map[string]any{"type": "ping"}); err != nil {
				return nil
			}
		case evt, ok := <-stream:
			if !ok {
				return nil
			}
			if err := writeSSEJSON(writer, flusher, evt); err != nil {
				h.logger.Debug("sse client gone", slog.Any("error", err))
				return nil
			}
		}
	}
}

func chatError(err error) error {
	if errors.Is(err, chat.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "chat not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultMessagePageSize, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(limit, maxMessagePageSize), nil
}

func writeSSEData(writer *bufio.Writer, flusher http.Flusher, payload string) error {
	if _, err := writer.WriteString(fmt.Sprintf("data: %s\n\n", payload)); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEJSON(writer *bufio.Writer, flusher http.Flusher, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return writeSSEData(writer, flusher, string(data))
}
