package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/chatrelay/chatrelay/internal/docstore"
	"github.com/chatrelay/chatrelay/internal/message/event"
)

var ErrNotFound = errors.New("chat not found")

// Maintainer keeps the per-user chat aggregates current.
type Maintainer struct {
	docs      docstore.Store
	logger    *slog.Logger
	publisher event.Publisher
}

func NewMaintainer(log *slog.Logger, docs docstore.Store, publishers ...event.Publisher) *Maintainer {
	if log == nil {
		log = slog.Default()
	}
	var publisher event.Publisher
	if len(publishers) > 0 {
		publisher = publishers[0]
	}
	return &Maintainer{
		docs:      docs,
		logger:    log.With(slog.String("service", "chat")),
		publisher: publisher,
	}
}

// Upsert records a received message in one atomic mutation: the aggregate
// is created with unreadCount 1 on the first message, later messages bump
// unreadCount and overwrite profile, last message and updatedAt.
func (m *Maintainer) Upsert(ctx context.Context, userID string, profile Profile, content string, at time.Time) (Aggregate, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Aggregate{}, fmt.Errorf("user id is required")
	}
	at = at.UTC()
	snap, err := m.docs.Apply(ctx, Collection, userID, docstore.Mutation{
		Create: map[string]any{
			"userId":    userID,
			"createdAt": at,
		},
		Set: map[string]any{
			"userName":   profile.Name,
			"userAvatar": profile.Avatar,
			"lastMessage": LastMessage{
				Content:   content,
				Timestamp: at,
			},
			"updatedAt": at,
		},
		Increment: map[string]int64{"unreadCount": 1},
	})
	if err != nil {
		return Aggregate{}, fmt.Errorf("upsert chat %s: %w", userID, err)
	}
	agg, err := decodeAggregate(snap)
	if err != nil {
		return Aggregate{}, err
	}
	m.publishUpdated(agg)
	return agg, nil
}

func (m *Maintainer) Get(ctx context.Context, userID string) (Aggregate, error) {
	snap, err := m.docs.Get(ctx, Collection, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return Aggregate{}, ErrNotFound
	}
	if err != nil {
		return Aggregate{}, err
	}
	return decodeAggregate(snap)
}

// List returns every chat, most recently updated first.
func (m *Maintainer) List(ctx context.Context) ([]Aggregate, error) {
	snaps, err := m.docs.Query(ctx, Collection, docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	out := make([]Aggregate, 0, len(snaps))
	for _, snap := range snaps {
		agg, err := decodeAggregate(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// MarkRead resets the unread counter once a reader has seen the chat.
func (m *Maintainer) MarkRead(ctx context.Context, userID string) (Aggregate, error) {
	err := m.docs.Update(ctx, Collection, userID, map[string]any{"unreadCount": 0})
	if errors.Is(err, docstore.ErrNotFound) {
		return Aggregate{}, ErrNotFound
	}
	if err != nil {
		return Aggregate{}, fmt.Errorf("mark chat read: %w", err)
	}
	agg, err := m.Get(ctx, userID)
	if err != nil {
		return Aggregate{}, err
	}
	m.publishUpdated(agg)
	return agg, nil
}

func decodeAggregate(snap docstore.Snapshot) (Aggregate, error) {
	var agg Aggregate
	if err := snap.Decode(&agg); err != nil {
		return Aggregate{}, fmt.Errorf("decode chat %s: %w", snap.Key, err)
	}
	if agg.UserID == "" {
		agg.UserID = snap.Key
	}
	return agg, nil
}

func (m *Maintainer) publishUpdated(agg Aggregate) {
	if m.publisher == nil {
		return
	}
	payload, err := json.Marshal(agg)
	if err != nil {
		m.logger.Warn("marshal chat event failed", slog.Any("error", err))
		return
	}
	m.publisher.Publish(event.Event{
		Type:   event.EventTypeChatUpdated,
		ChatID: agg.UserID,
		Data:   payload,
	})
}
