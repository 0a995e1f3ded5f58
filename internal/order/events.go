package order

import (
	"signal-core/internal/events"
	"signal-core/pkg/db"
)

// EmitOrderUpdate publishes an order state change.
func EmitOrderUpdate(bus *events.Bus, e events.Event, o *db.Order, errMsg string) {
	if bus == nil || o == nil {
		return
	}
	bus.Publish(e, events.OrderEvent{
		OrderID:   o.ID,
		SignalID:  o.SignalID,
		Symbol:    o.Symbol,
		EntryTier: o.EntryTier,
		Status:    o.Status,
		Qty:       o.Qty,
		Price:     o.Price,
		Error:     errMsg,
	})
}

// EmitPositionUpdate publishes a position change.
func EmitPositionUpdate(bus *events.Bus, e events.Event, p *db.Position) {
	if bus == nil || p == nil {
		return
	}
	bus.Publish(e, events.PositionEvent{
		PositionID:  p.ID,
		SignalID:    p.SignalID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		Size:        p.Size,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   p.ExitPrice,
		RealizedPnL: p.RealizedPnL,
		Reason:      p.ExitReason,
	})
}
