// Package metrics holds the Prometheus collectors of the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WebhookRequests counts webhook deliveries by result:
	// "accepted", "bad_signature", "bad_payload", "too_large", "unavailable".
	WebhookRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_webhook_requests_total",
		Help: "Webhook requests received from LINE",
	}, []string{"result"})

	// EventsProcessed counts events by message type and outcome:
	// "processed", "duplicate", "ignored", "failed".
	EventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_events_total",
		Help: "Webhook events handled by the inbound pipeline",
	}, []string{"type", "outcome"})

	// EventDuration records the time spent processing one event.
	EventDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatrelay_event_duration_seconds",
		Help:    "Inbound event processing latency in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	// MediaFailures counts media fetch or upload failures by message type.
	MediaFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_media_failures_total",
		Help: "Media fetch or upload failures",
	}, []string{"type"})

	// ReplyFailures counts replies LINE did not accept.
	ReplyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_reply_failures_total",
		Help: "Replies that failed to send",
	})

	// QueueDepth tracks events waiting for a worker.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_dispatch_queue_depth",
		Help: "Events waiting in the dispatch queue",
	})

	// QueueOverflow counts events run outside the worker pool because the
	// queue was full.
	QueueOverflow = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_dispatch_overflow_total",
		Help: "Events processed in a detached goroutine because the queue was full",
	})
)

func init() {
	prometheus.MustRegister(
		WebhookRequests,
		EventsProcessed,
		EventDuration,
		MediaFailures,
		ReplyFailures,
		QueueDepth,
		QueueOverflow,
	)
}

// EventDrops reports how many store events in-process subscribers missed
// because their buffer was full.
func EventDrops(dropped func() uint64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "chatrelay_event_stream_dropped_total",
		Help: "Store events not delivered to a full subscriber",
	}, func() float64 {
		return float64(dropped())
	})
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
