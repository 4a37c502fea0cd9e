// Package messaging mirrors chat and message events onto NATS so other
// relay instances and services can follow them without polling the store.
package messaging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/message/event"
)

type NATSClient struct {
	conn    *nats.Conn
	subject string
	origin  string
	logger  *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSClient connects to cfg.URL and reconnects forever on disconnect.
func NewNATSClient(log *slog.Logger, cfg config.NATSConfig) (*NATSClient, error) {
	logger := log.With(slog.String("component", "nats"))
	opts := []nats.Option{
		nats.Name("chatrelay"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected", slog.Any("error", err))
				return
			}
			logger.Warn("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.Info("connected", slog.String("url", nc.ConnectedUrl()))

	subject := strings.TrimSpace(cfg.Subject)
	if subject == "" {
		subject = config.DefaultNATSSubject
	}
	return &NATSClient{conn: nc, subject: subject, origin: uuid.NewString(), logger: logger}, nil
}

// Subject returns the subject an event of type t is published on.
func Subject(prefix string, t event.EventType) string {
	return prefix + "." + string(t)
}

// Origin is the instance id stamped on every published event.
func (c *NATSClient) Origin() string {
	return c.origin
}

// Publish implements event.Publisher. Failures are logged, never returned,
// so a NATS outage cannot stall message ingestion.
func (c *NATSClient) Publish(evt event.Event) {
	if evt.Origin == "" {
		evt.Origin = c.origin
	}
	data, err := json.Marshal(evt)
	if err != nil {
		c.logger.Error("marshal event", slog.Any("error", err))
		return
	}
	if err := c.conn.Publish(Subject(c.subject, evt.Type), data); err != nil {
		c.logger.Warn("publish event", slog.String("type", string(evt.Type)), slog.Any("error", err))
	}
}

// Subscribe delivers decoded events of every type under the client subject.
func (c *NATSClient) Subscribe(handler func(event.Event)) error {
	sub, err := c.conn.Subscribe(c.subject+".>", func(msg *nats.Msg) {
		var evt event.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			c.logger.Warn("drop malformed event", slog.String("subject", msg.Subject), slog.Any("error", err))
			return
		}
		handler(evt)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", c.subject, err)
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Forward republishes events from other instances into dst, so local
// subscribers see messages handled anywhere. Events this client published
// itself are skipped; dst already received them. It returns once the server
// has registered the subscription.
func (c *NATSClient) Forward(dst event.Publisher) error {
	if err := c.Subscribe(c.forwarder(dst)); err != nil {
		return err
	}
	return c.Flush()
}

func (c *NATSClient) forwarder(dst event.Publisher) func(event.Event) {
	return func(evt event.Event) {
		if evt.Origin == c.origin {
			return
		}
		dst.Publish(evt)
	}
}

// Flush waits until the server has processed everything published so far.
func (c *NATSClient) Flush() error {
	return c.conn.Flush()
}

// Close drains subscriptions and the connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("drain subscription", slog.Any("error", err))
		}
	}
	c.subs = nil
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("drain connection", slog.Any("error", err))
	}
}
