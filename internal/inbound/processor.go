package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chatrelay/chatrelay/internal/chat"
	"github.com/chatrelay/chatrelay/internal/line"
	"github.com/chatrelay/chatrelay/internal/message"
	"github.com/chatrelay/chatrelay/internal/metrics"
)

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type Replier interface {
	Reply(ctx context.Context, replyToken string, messages ...json.RawMessage) error
}

// Claimer reserves an event key across processes so concurrent
// redeliveries are processed once.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type ProcessorConfig struct {
	// ReplyTemplate renders the reply to text messages; "%s" is replaced by
	// the received text.
	ReplyTemplate string
	Claimer       Claimer
}

// Processor runs the per-event pipeline: normalize, store, update the chat,
// reply. The steps of one event run strictly in that order. Events sharing
// a dedup key are handled one at a time within the process.
type Processor struct {
	logger        *slog.Logger
	normalizer    *Normalizer
	messages      message.Writer
	chats         chat.Upserter
	replier       Replier
	claimer       Claimer
	replyTemplate string
	locks         *keyLocks
}

func NewProcessor(log *slog.Logger, normalizer *Normalizer, messages message.Writer, chats chat.Upserter, replier Replier, cfg ProcessorConfig) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		logger:        log.With(slog.String("component", "processor")),
		normalizer:    normalizer,
		messages:      messages,
		chats:         chats,
		replier:       replier,
		claimer:       cfg.Claimer,
		replyTemplate: cfg.ReplyTemplate,
		locks:         newKeyLocks(),
	}
}

// Handle processes one webhook event. A redelivered event whose record was
// stored but never counted in its chat gets the chat update and reply it
// missed; otherwise redeliveries are reported as duplicates.
func (p *Processor) Handle(ctx context.Context, ev line.Event) (Outcome, error) {
	if ev.Type != line.EventTypeMessage || ev.Message == nil {
		return OutcomeIgnored, nil
	}
	key := ev.DedupKey()
	log := p.logger.With(
		slog.String("webhook_event_id", ev.WebhookEventID),
		slog.String("message_id", ev.Message.ID),
		slog.String("message_type", ev.Message.Type),
		slog.String("user_id", ev.Source.UserID),
		slog.Bool("redelivery", ev.IsRedelivery()),
	)

	var pending *message.StoredRecord
	if key != "" {
		unlock := p.locks.lock(key)
		defer unlock()

		existing, err := p.messages.FindByDedupKey(ctx, key)
		switch {
		case err == nil && existing.Aggregated:
			log.Info("duplicate event skipped")
			return OutcomeDuplicate, nil
		case err == nil:
			pending = &existing
		case errors.Is(err, message.ErrNotFound):
		default:
			log.Warn("dedup lookup failed", slog.Any("error", err))
		}
		if p.claimer != nil {
			claimed, err := p.claimer.Claim(ctx, key)
			if err != nil {
				log.Warn("dedup claim failed, continuing", slog.Any("error", err))
			} else if !claimed {
				log.Info("event already claimed elsewhere")
				return OutcomeDuplicate, nil
			}
		}
	}

	stored := pending
	if stored == nil {
		record := p.normalizer.Normalize(ctx, ev)
		record.DedupKey = key
		recordKey, err := p.messages.Append(ctx, record)
		if err != nil {
			if errors.Is(err, message.ErrDuplicate) {
				log.Info("duplicate event skipped at store")
				return OutcomeDuplicate, nil
			}
			p.release(ctx, log, key)
			return "", fmt.Errorf("store message: %w", err)
		}
		stored = &message.StoredRecord{Key: recordKey, Record: record}
	} else {
		log.Info("stored message missing from chat, applying it", slog.String("record_key", pending.Key))
	}

	at, err := time.Parse(time.RFC3339Nano, stored.Timestamp)
	if err != nil {
		at = time.Now().UTC()
	}
	profile := chat.Profile{Name: stored.SenderName, Avatar: stored.SenderAvatar}
	if _, err := p.chats.Upsert(ctx, stored.ChatID, profile, stored.Content, at); err != nil {
		p.release(ctx, log, key)
		return "", fmt.Errorf("update chat: %w", err)
	}
	if err := p.messages.MarkAggregated(ctx, stored.Key); err != nil {
		log.Error("mark message aggregated failed", slog.String("record_key", stored.Key), slog.Any("error", err))
	}

	if stored.Type == message.TypeText {
		p.reply(ctx, log, ev.ReplyToken, ev.Message.Text)
	}
	return OutcomeProcessed, nil
}

func (p *Processor) reply(ctx context.Context, log *slog.Logger, token, text string) {
	if p.replier == nil || strings.TrimSpace(token) == "" {
		return
	}
	if err := p.replier.Reply(ctx, token, line.TextMessage(p.renderReply(text))); err != nil {
		metrics.ReplyFailures.Inc()
		log.Warn("reply failed", slog.Any("error", err))
	}
}

func (p *Processor) renderReply(text string) string {
	if p.replyTemplate == "" {
		return text
	}
	if strings.Contains(p.replyTemplate, "%s") {
		return strings.Replace(p.replyTemplate, "%s", text, 1)
	}
	return p.replyTemplate + text
}

func (p *Processor) release(ctx context.Context, log *slog.Logger, key string) {
	if p.claimer == nil || key == "" {
		return
	}
	if err := p.claimer.Release(ctx, key); err != nil {
		log.Warn("release dedup claim failed", slog.Any("error", err))
	}
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyLocks hands out one mutex per key and forgets it when unused.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: map[string]*keyLock{}}
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
