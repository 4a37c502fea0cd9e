package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chatrelay/chatrelay/internal/line"
	"github.com/chatrelay/chatrelay/internal/metrics"
)

// MaxWebhookBodyBytes caps the webhook body read before verification.
const MaxWebhookBodyBytes = 1 << 20

const (
	DispatchAccepted = "accepted"
	DispatchIgnored  = "ignored"
)

// EventDispatcher queues events for background processing. It accepts all
// of them or, once it no longer accepts work, none and returns false.
type EventDispatcher interface {
	Dispatch(events ...line.Event) bool
}

// DispatchResult is the per-event entry of the webhook response.
type DispatchResult struct {
	WebhookEventID string `json:"webhookEventId"`
	Type           string `json:"type"`
	Status         string `json:"status"`
}

// LineWebhookHandler receives LINE webhook deliveries. It acknowledges as
// soon as every event is handed to the dispatcher.
type LineWebhookHandler struct {
	channelSecret string
	dispatcher    EventDispatcher
	logger        *slog.Logger
}

func NewLineWebhookHandler(log *slog.Logger, channelSecret string, dispatcher EventDispatcher) *LineWebhookHandler {
	return &LineWebhookHandler{
		channelSecret: channelSecret,
		dispatcher:    dispatcher,
		logger:        log.With(slog.String("handler", "line_webhook")),
	}
}

func (h *LineWebhookHandler) Register(e *echo.Echo) {
	e.POST("/api/webhook", h.Receive)
	e.POST("/webhook", h.Receive)
}

// Receive godoc
// @Summary Receive LINE webhook events
// @Tags webhook
// @Param X-Line-Signature header string true "HMAC-SHA256 of the body"
// @Success 200 {array} DispatchResult
// @Failure 400 {object} echo.HTTPError
// @Failure 413 {object} echo.HTTPError
// @Router /api/webhook [post]
func (h *LineWebhookHandler) Receive(c echo.Context) error {
	body, err := readLimited(c.Request().Body, MaxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			metrics.WebhookRequests.WithLabelValues("too_large").Inc()
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
		}
		metrics.WebhookRequests.WithLabelValues("bad_payload").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "read body failed")
	}

	signature := c.Request().Header.Get(line.SignatureHeader)
	if !line.VerifySignature(h.channelSecret, body, signature) {
		metrics.WebhookRequests.WithLabelValues("bad_signature").Inc()
		h.logger.Warn("webhook signature rejected", slog.String("remote_ip", c.RealIP()))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid signature")
	}

	var req line.WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		metrics.WebhookRequests.WithLabelValues("bad_payload").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook payload")
	}

	results := make([]DispatchResult, 0, len(req.Events))
	accepted := make([]line.Event, 0, len(req.Events))
	for _, ev := range req.Events {
		result := DispatchResult{
			WebhookEventID: ev.WebhookEventID,
			Type:           ev.Type,
			Status:         DispatchIgnored,
		}
		if ev.Type == line.EventTypeMessage && ev.Message != nil {
			accepted = append(accepted, ev)
			result.Status = DispatchAccepted
		}
		results = append(results, result)
	}
	// The batch is queued as a whole so a 503 means nothing was taken and
	// LINE's redelivery replays the complete delivery.
	if len(accepted) > 0 && !h.dispatcher.Dispatch(accepted...) {
		metrics.WebhookRequests.WithLabelValues("unavailable").Inc()
		return echo.NewHTTPError(http.StatusServiceUnavailable, "shutting down")
	}
	for _, result := range results {
		if result.Status == DispatchIgnored {
			metrics.EventsProcessed.WithLabelValues(strings.TrimSpace(result.Type), "ignored").Inc()
		}
	}

	metrics.WebhookRequests.WithLabelValues("accepted").Inc()
	h.logger.Debug("webhook accepted",
		slog.String("destination", req.Destination),
		slog.Int("events", len(req.Events)),
	)
	return c.JSON(http.StatusOK, results)
}

var errBodyTooLarge = errors.New("body too large")

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}
