package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chatrelay/chatrelay/internal/line"
	"github.com/chatrelay/chatrelay/internal/media"
)

type fakeProfiles struct {
	profiles map[string]line.Profile
	err      error
}

func (f *fakeProfiles) Profile(_ context.Context, userID string) (line.Profile, error) {
	if f.err != nil {
		return line.Profile{}, f.err
	}
	p, ok := f.profiles[userID]
	if !ok {
		return line.Profile{}, errors.New("not found")
	}
	return p, nil
}

type fakeContent struct {
	mu      sync.Mutex
	bodies  map[string]string
	fetched []string
}

func (f *fakeContent) FetchContent(_ context.Context, messageID string) (*line.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, messageID)
	body, ok := f.bodies[messageID]
	if !ok {
		return nil, &line.APIError{StatusCode: 404}
	}
	return &line.Content{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeContent) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

type fakeUploader struct {
	mu      sync.Mutex
	err     error
	uploads []media.UploadInput
}

func (f *fakeUploader) Upload(_ context.Context, input media.UploadInput) (media.Asset, error) {
	if f.err != nil {
		return media.Asset{}, f.err
	}
	_, _ = io.ReadAll(input.Reader)
	f.mu.Lock()
	f.uploads = append(f.uploads, input)
	f.mu.Unlock()
	key := string(input.Namespace) + "/" + input.Name
	return media.Asset{Key: key, URL: "https://cdn.test/" + key}, nil
}

type sentReply struct {
	token string
	text  string
}

type fakeReplier struct {
	mu      sync.Mutex
	err     error
	replies []sentReply
}

func (f *fakeReplier) Reply(_ context.Context, token string, messages ...json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, raw := range messages {
		var msg struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(raw, &msg)
		f.replies = append(f.replies, sentReply{token: token, text: msg.Text})
	}
	return f.err
}

func (f *fakeReplier) sent() []sentReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentReply(nil), f.replies...)
}

type fakeClaimer struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
	err      error
}

func newFakeClaimer() *fakeClaimer {
	return &fakeClaimer{claimed: map[string]bool{}}
}

func (f *fakeClaimer) Claim(_ context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func (f *fakeClaimer) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claimed, key)
	f.released = append(f.released, key)
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func textEvent(eventID, userID, text string) line.Event {
	return line.Event{
		Type:           line.EventTypeMessage,
		WebhookEventID: eventID,
		ReplyToken:     "R-" + eventID,
		Source:         line.Source{Type: "user", UserID: userID},
		Message:        &line.Message{ID: "M-" + eventID, Type: line.MessageTypeText, Text: text},
	}
}

func mediaEvent(eventID, userID, msgType string) line.Event {
	return line.Event{
		Type:           line.EventTypeMessage,
		WebhookEventID: eventID,
		ReplyToken:     "R-" + eventID,
		Source:         line.Source{Type: "user", UserID: userID},
		Message:        &line.Message{ID: "M-" + eventID, Type: msgType},
	}
}
