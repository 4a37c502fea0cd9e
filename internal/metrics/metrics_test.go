package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestEventDropsFollowsSource(t *testing.T) {
	var dropped uint64
	reg := prometheus.NewRegistry()
	if err := reg.Register(EventDrops(func() uint64 { return dropped })); err != nil {
		t.Fatalf("register: %v", err)
	}

	read := func() float64 {
		t.Helper()
		families, err := reg.Gather()
		if err != nil {
			t.Fatalf("gather: %v", err)
		}
		if len(families) != 1 || len(families[0].GetMetric()) != 1 {
			t.Fatalf("unexpected families: %v", families)
		}
		return families[0].GetMetric()[0].GetCounter().GetValue()
	}

	if got := read(); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	dropped = 3
	if got := read(); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}
