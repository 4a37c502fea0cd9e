package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatrelay/chatrelay/internal/line"
	"github.com/chatrelay/chatrelay/internal/metrics"
)

const (
	defaultWorkers      = 4
	defaultQueueSize    = 256
	defaultEventTimeout = 2 * time.Minute
	errorBufferSize     = 64
)

type EventHandler interface {
	Handle(ctx context.Context, ev line.Event) (Outcome, error)
}

// ProcessingError reports an event whose processing failed.
type ProcessingError struct {
	Event line.Event
	Err   error
	At    time.Time
}

func (e ProcessingError) Error() string {
	return fmt.Sprintf("event %s: %v", e.Event.WebhookEventID, e.Err)
}

func (e ProcessingError) Unwrap() error {
	return e.Err
}

type DispatcherConfig struct {
	Workers      int
	QueueSize    int
	EventTimeout time.Duration
	// OnError is called from the error reporter goroutine for every failure.
	OnError func(ProcessingError)
}

// Dispatcher decouples webhook acknowledgement from processing: events go
// to a bounded queue drained by a worker pool. When the queue is full the
// event runs in its own goroutine rather than being dropped.
type Dispatcher struct {
	handler      EventHandler
	logger       *slog.Logger
	queue        chan line.Event
	errs         chan ProcessingError
	workers      int
	eventTimeout time.Duration
	onError      func(ProcessingError)

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	started   bool
	workersWG sync.WaitGroup
	detached  sync.WaitGroup
	reporter  chan struct{}
}

func NewDispatcher(log *slog.Logger, handler EventHandler, cfg DispatcherConfig) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = defaultEventTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler:      handler,
		logger:       log.With(slog.String("component", "dispatcher")),
		queue:        make(chan line.Event, cfg.QueueSize),
		errs:         make(chan ProcessingError, errorBufferSize),
		workers:      cfg.Workers,
		eventTimeout: cfg.EventTimeout,
		onError:      cfg.OnError,
		ctx:          ctx,
		cancel:       cancel,
		reporter:     make(chan struct{}),
	}
}

// Start launches the worker pool and the error reporter.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.mu.Lock()
		d.started = true
		d.mu.Unlock()
		d.logger.Info("dispatcher start", slog.Int("workers", d.workers), slog.Int("queue_size", cap(d.queue)))
		go d.reportErrors()
		for i := 0; i < d.workers; i++ {
			d.workersWG.Add(1)
			go d.work()
		}
	})
}

// Dispatch hands events over for processing and never blocks. Either every
// event is accepted or, after Shutdown, none is and it returns false.
func (d *Dispatcher) Dispatch(events ...line.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("dispatcher closed, events rejected", slog.Int("events", len(events)))
		return false
	}
	for _, ev := range events {
		d.enqueue(ev)
	}
	return true
}

func (d *Dispatcher) enqueue(ev line.Event) {
	select {
	case d.queue <- ev:
		metrics.QueueDepth.Inc()
	default:
		metrics.QueueOverflow.Inc()
		d.logger.Warn("dispatch queue full, processing detached", slog.String("webhook_event_id", ev.WebhookEventID))
		d.detached.Add(1)
		go func() {
			defer d.detached.Done()
			d.process(ev)
		}()
	}
}

// Shutdown stops accepting events and waits for queued and running events
// until ctx expires, at which point in-flight work is cancelled.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		// Nobody drains the queue; run what is left inline.
		for ev := range d.queue {
			metrics.QueueDepth.Dec()
			d.process(ev)
		}
	}

	done := make(chan struct{})
	go func() {
		d.workersWG.Wait()
		d.detached.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn("dispatcher shutdown deadline reached, cancelling in-flight events")
		return ctx.Err()
	}
	d.cancel()
	close(d.errs)
	if started {
		<-d.reporter
	} else {
		for pe := range d.errs {
			d.logError(pe)
		}
	}
	d.logger.Info("dispatcher stopped")
	return nil
}

func (d *Dispatcher) work() {
	defer d.workersWG.Done()
	for ev := range d.queue {
		metrics.QueueDepth.Dec()
		d.process(ev)
	}
}

func (d *Dispatcher) process(ev line.Event) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(d.ctx, d.eventTimeout)
	defer cancel()

	outcome, err := d.safeHandle(ctx, ev)
	metrics.EventDuration.Observe(time.Since(start).Seconds())
	msgType := ev.Type
	if ev.Message != nil {
		msgType = ev.Message.Type
	}
	if err != nil {
		metrics.EventsProcessed.WithLabelValues(msgType, "failed").Inc()
		d.report(ProcessingError{Event: ev, Err: err, At: time.Now()})
		return
	}
	metrics.EventsProcessed.WithLabelValues(msgType, string(outcome)).Inc()
}

func (d *Dispatcher) safeHandle(ctx context.Context, ev line.Event) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.handler.Handle(ctx, ev)
}

func (d *Dispatcher) report(pe ProcessingError) {
	select {
	case d.errs <- pe:
	default:
		d.logError(pe)
	}
}

func (d *Dispatcher) reportErrors() {
	defer close(d.reporter)
	for pe := range d.errs {
		d.logError(pe)
	}
}

func (d *Dispatcher) logError(pe ProcessingError) {
	attrs := []any{
		slog.String("webhook_event_id", pe.Event.WebhookEventID),
		slog.String("event_type", pe.Event.Type),
		slog.String("user_id", pe.Event.Source.UserID),
		slog.Any("error", pe.Err),
	}
	if pe.Event.Message != nil {
		attrs = append(attrs,
			slog.String("message_id", pe.Event.Message.ID),
			slog.String("message_type", pe.Event.Message.Type))
	}
	d.logger.Error("event processing failed", attrs...)
	if d.onError != nil {
		d.onError(pe)
	}
}
