package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signal-core/internal/events"
)

func TestMonitorForwardsDrift(t *testing.T) {
	bus := events.NewBus()
	got := make(chan string, 1)
	m := &Monitor{
		Bus:     bus,
		Metrics: NewMetrics(),
		AlertFn: func(_ context.Context, title, body string) error {
			got <- title + "|" + body
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventDriftDetected, events.DriftEvent{PositionID: "p1", Symbol: "BTC-USDT", Field: "size", Requested: 1, Actual: 0.9})

	select {
	case s := <-got:
		if !strings.Contains(s, "BTC-USDT") || !strings.Contains(s, "size") {
			t.Fatalf("unexpected alert %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert not delivered")
	}
}

func TestMetricsHandlerAndNilSafety(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.SignalAccepted()
	nilMetrics.ExchangeTimer("place_order").Stop()

	m := NewMetrics()
	m.SignalAccepted()
	m.OrderRecorded("MARKET", "FILLED")
	m.Redemption("open_position", "executed")
	m.ExchangeTimer("place_order").Stop()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"signalcore_signals_total 1",
		`signalcore_orders_total{status="FILLED",tier="MARKET"} 1`,
		"signalcore_exchange_call_seconds_count",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
