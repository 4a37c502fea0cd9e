package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatrelay/chatrelay/internal/docstore"
	"github.com/chatrelay/chatrelay/internal/message/event"
)

// Collection holds message records.
const Collection = "messages"

// Store appends message records to the document store.
type Store struct {
	docs      docstore.Store
	logger    *slog.Logger
	publisher event.Publisher
}

func NewStore(log *slog.Logger, docs docstore.Store, publishers ...event.Publisher) *Store {
	if log == nil {
		log = slog.Default()
	}
	var publisher event.Publisher
	if len(publishers) > 0 {
		publisher = publishers[0]
	}
	return &Store{
		docs:      docs,
		logger:    log.With(slog.String("service", "message")),
		publisher: publisher,
	}
}

// Append stores record under a new key. A record carrying a dedup key that
// was stored before is rejected with ErrDuplicate and nothing is written.
func (s *Store) Append(ctx context.Context, record Record) (string, error) {
	if strings.TrimSpace(record.ChatID) == "" {
		return "", fmt.Errorf("chat id is required")
	}
	if strings.TrimSpace(record.Timestamp) == "" {
		return "", fmt.Errorf("timestamp is required")
	}
	var opts []docstore.PushOption
	record.Aggregated = false
	if record.DedupKey != "" {
		opts = append(opts, docstore.WithDedupKey(record.DedupKey))
	}
	key, err := s.docs.Push(ctx, Collection, record, opts...)
	if errors.Is(err, docstore.ErrDuplicate) {
		return "", ErrDuplicate
	}
	if err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	s.publishCreated(StoredRecord{Key: key, Record: record})
	return key, nil
}

// FindByDedupKey returns the record stored with dedupKey, or ErrNotFound.
func (s *Store) FindByDedupKey(ctx context.Context, dedupKey string) (StoredRecord, error) {
	if dedupKey == "" {
		return StoredRecord{}, ErrNotFound
	}
	key, err := s.docs.LookupDedup(ctx, Collection, dedupKey)
	if errors.Is(err, docstore.ErrNotFound) {
		return StoredRecord{}, ErrNotFound
	}
	if err != nil {
		return StoredRecord{}, fmt.Errorf("lookup dedup key: %w", err)
	}
	return s.Get(ctx, key)
}

// MarkAggregated flags the record as counted in its chat aggregate.
func (s *Store) MarkAggregated(ctx context.Context, key string) error {
	err := s.docs.Update(ctx, Collection, key, map[string]any{"aggregated": true})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("mark message aggregated: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (StoredRecord, error) {
	snap, err := s.docs.Get(ctx, Collection, key)
	if errors.Is(err, docstore.ErrNotFound) {
		return StoredRecord{}, ErrNotFound
	}
	if err != nil {
		return StoredRecord{}, err
	}
	return decodeRecord(snap)
}

// ListByChat returns the newest limit records of a chat in arrival order.
// limit <= 0 returns all of them.
func (s *Store) ListByChat(ctx context.Context, chatID string, limit int) ([]StoredRecord, error) {
	snaps, err := s.docs.Query(ctx, Collection, docstore.Query{
		Field:      "chatId",
		Equals:     chatID,
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]StoredRecord, len(snaps))
	for i, snap := range snaps {
		rec, err := decodeRecord(snap)
		if err != nil {
			return nil, err
		}
		out[len(snaps)-1-i] = rec
	}
	return out, nil
}

func decodeRecord(snap docstore.Snapshot) (StoredRecord, error) {
	var rec Record
	if err := snap.Decode(&rec); err != nil {
		return StoredRecord{}, fmt.Errorf("decode message %s: %w", snap.Key, err)
	}
	return StoredRecord{Key: snap.Key, Record: rec}, nil
}

func (s *Store) publishCreated(rec StoredRecord) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("marshal message event failed", slog.Any("error", err))
		return
	}
	s.publisher.Publish(event.Event{
		Type:   event.EventTypeMessageCreated,
		ChatID: rec.ChatID,
		Data:   payload,
	})
}
