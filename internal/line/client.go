package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/chatrelay/chatrelay/internal/config"
)

// ErrContentTooLarge is returned when LINE announces a content body above
// the configured cap.
var ErrContentTooLarge = errors.New("line content too large")

// APIError is a non-2xx answer from the LINE API. Body holds the upstream
// error document as returned.
type APIError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if body == "" {
		return fmt.Sprintf("line api status %d", e.StatusCode)
	}
	return fmt.Sprintf("line api status %d: %s", e.StatusCode, body)
}

// Content is a message content stream. The caller closes Body.
type Content struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// Client talks to the LINE Messaging API with the channel access token.
type Client struct {
	logger          *slog.Logger
	httpClient      *http.Client
	accessToken     string
	apiBase         string
	dataBase        string
	maxContentBytes int64
}

func NewClient(log *slog.Logger, cfg config.LineConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout()}
	}
	return &Client{
		logger:          log.With(slog.String("component", "line_client")),
		httpClient:      httpClient,
		accessToken:     strings.TrimSpace(cfg.ChannelAccessToken),
		apiBase:         strings.TrimRight(cfg.APIBaseURL, "/"),
		dataBase:        strings.TrimRight(cfg.DataAPIBaseURL, "/"),
		maxContentBytes: cfg.MaxContentBytes,
	}
}

// Profile fetches the profile of a user who added the bot.
func (c *Client) Profile(ctx context.Context, userID string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, fmt.Errorf("user id is required")
	}
	var profile Profile
	endpoint := c.apiBase + "/v2/bot/profile/" + url.PathEscape(userID)
	if err := c.doJSON(ctx, http.MethodGet, endpoint, c.accessToken, nil, &profile); err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}

// FetchContent opens the binary content of an image, video, audio or file
// message. Thumbnails of videos are addressed by their own id.
func (c *Client) FetchContent(ctx context.Context, messageID string) (*Content, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, fmt.Errorf("message id is required")
	}
	endpoint := c.dataBase + "/v2/bot/message/" + url.PathEscape(messageID) + "/content"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build content request: %w", err)
	}
	c.authorize(req, c.accessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch content: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()
		return nil, fmt.Errorf("fetch content: %w", readAPIError(resp))
	}
	if c.maxContentBytes > 0 && resp.ContentLength > c.maxContentBytes {
		defer func() {
			_ = resp.Body.Close()
		}()
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrContentTooLarge, resp.ContentLength, c.maxContentBytes)
	}
	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return &Content{
		Body:          resp.Body,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
	}, nil
}

// Reply answers an event through its one-shot reply token.
func (c *Client) Reply(ctx context.Context, replyToken string, messages ...json.RawMessage) error {
	replyToken = strings.TrimSpace(replyToken)
	if replyToken == "" {
		return fmt.Errorf("reply token is required")
	}
	if len(messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	payload := map[string]any{
		"replyToken": replyToken,
		"messages":   messages,
	}
	if err := c.doJSON(ctx, http.MethodPost, c.apiBase+"/v2/bot/message/reply", c.accessToken, payload, nil); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

// Push sends messages to a user, group or room and returns LINE's response body.
func (c *Client) Push(ctx context.Context, to string, messages []json.RawMessage) (json.RawMessage, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}
	payload := map[string]any{
		"to":       to,
		"messages": messages,
	}
	var out json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, c.apiBase+"/v2/bot/message/push", c.accessToken, payload, &out); err != nil {
		return nil, fmt.Errorf("push: %w", err)
	}
	return out, nil
}

func (c *Client) authorize(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) doJSON(ctx context.Context, method, endpoint, token string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req, token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := readAPIError(resp)
		c.logger.Debug("line api error", slog.String("endpoint", endpoint), slog.Int("status", apiErr.StatusCode))
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if json.Valid(raw) {
		apiErr.Body = raw
	} else if len(bytes.TrimSpace(raw)) > 0 {
		quoted, _ := json.Marshal(string(raw))
		apiErr.Body = quoted
	}
	return apiErr
}
