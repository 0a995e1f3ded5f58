package monitor

import (
	"context"
	"fmt"
	"log"

	"signal-core/internal/events"
)

// Monitor watches the event bus and forwards operator-relevant events
// (drift, failed orders) to an alert function.
type Monitor struct {
	Bus     *events.Bus
	Metrics *Metrics
	AlertFn func(ctx context.Context, title, body string) error
}

var watched = []events.Event{events.EventDriftDetected, events.EventOrderFailed}

// Start subscribes and processes events until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.SubscribeMany(watched, 64)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				m.handle(ctx, msg)
			}
		}
	}()
}

func (m *Monitor) handle(ctx context.Context, msg any) {
	env, ok := msg.(events.Envelope)
	if !ok {
		return
	}
	title, body := formatAlert(env)
	if title == "" {
		return
	}
	if d, ok := env.Data.(events.DriftEvent); ok {
		m.Metrics.Drift(d.Field)
	}
	if m.AlertFn == nil {
		log.Printf("⚠️ %s: %s", title, body)
		return
	}
	if err := m.AlertFn(ctx, title, body); err != nil {
		log.Printf("monitor: alert delivery failed: %v", err)
	}
}

func formatAlert(env events.Envelope) (string, string) {
	switch d := env.Data.(type) {
	case events.DriftEvent:
		return fmt.Sprintf("⚠️ Drift on %s", d.Symbol),
			fmt.Sprintf("position %s %s requested=%v actual=%v", d.PositionID, d.Field, d.Requested, d.Actual)
	case events.OrderEvent:
		return fmt.Sprintf("❌ Order failed on %s", d.Symbol),
			fmt.Sprintf("order %s (%s): %s", d.OrderID, d.EntryTier, d.Error)
	default:
		return "", ""
	}
}
