package event

import (
	"testing"
	"time"
)

func TestHubDeliversByChat(t *testing.T) {
	hub := NewHub()
	_, all, cancelAll := hub.Subscribe("", 4)
	defer cancelAll()
	_, onlyU1, cancelU1 := hub.Subscribe("U1", 4)
	defer cancelU1()

	hub.Publish(Event{Type: EventTypeMessageCreated, ChatID: "U2"})
	hub.Publish(Event{Type: EventTypeMessageCreated, ChatID: "U1"})

	if got := receive(t, all); got.ChatID != "U2" {
		t.Fatalf("expected U2 first on wildcard stream, got %q", got.ChatID)
	}
	if got := receive(t, all); got.ChatID != "U1" {
		t.Fatalf("expected U1 on wildcard stream, got %q", got.ChatID)
	}
	got := receive(t, onlyU1)
	if got.ChatID != "U1" || got.At.IsZero() {
		t.Fatalf("unexpected event on U1 stream: %+v", got)
	}
	select {
	case evt := <-onlyU1:
		t.Fatalf("unexpected extra event: %+v", evt)
	default:
	}
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub()
	_, stream, cancel := hub.Subscribe("", 1)
	defer cancel()

	hub.Publish(Event{ChatID: "U1"})
	hub.Publish(Event{ChatID: "U1"})

	if hub.Dropped() != 1 {
		t.Fatalf("expected one dropped event, got %d", hub.Dropped())
	}
	receive(t, stream)
}

func TestHubCancelClosesStream(t *testing.T) {
	hub := NewHub()
	_, stream, cancel := hub.Subscribe("U1", 1)
	cancel()
	cancel()
	if _, ok := <-stream; ok {
		t.Fatal("expected closed stream")
	}
	hub.Publish(Event{ChatID: "U1"})
}

type recordingPublisher struct{ events []Event }

func (r *recordingPublisher) Publish(evt Event) { r.events = append(r.events, evt) }

func TestFanoutSkipsNil(t *testing.T) {
	first := &recordingPublisher{}
	second := &recordingPublisher{}
	fan := NewFanout(first, nil, second)
	fan.Publish(Event{ChatID: "U1"})
	if len(fan) != 2 || len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("unexpected fanout delivery: %d %d %d", len(fan), len(first.events), len(second.events))
	}
}

func receive(t *testing.T, stream <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-stream:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}
