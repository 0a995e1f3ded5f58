package events

import "time"

// Event enumerates lifecycle topics published by the engine.
type Event string

const (
	EventSignalCreated  Event = "signal.created"
	EventOrderPlaced    Event = "order.placed"
	EventOrderFailed    Event = "order.failed"
	EventOrderCancelled Event = "order.cancelled"
	EventPositionOpened Event = "position.opened"
	EventPositionClosed Event = "position.closed"
	EventPositionSynced Event = "position.synced"
	EventTargetReached  Event = "price.target_reached"
	EventDriftDetected  Event = "reconcile.drift"
	EventStopsUpdated   Event = "position.stops_updated"
)

// All lists every topic, used by subscribers that stream everything.
var All = []Event{
	EventSignalCreated, EventOrderPlaced, EventOrderFailed, EventOrderCancelled,
	EventPositionOpened, EventPositionClosed, EventPositionSynced,
	EventTargetReached, EventDriftDetected, EventStopsUpdated,
}

// Envelope is what stream subscribers receive.
type Envelope struct {
	Type Event     `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// OrderEvent describes an order state change.
type OrderEvent struct {
	OrderID   string  `json:"order_id"`
	SignalID  string  `json:"signal_id"`
	Symbol    string  `json:"symbol"`
	EntryTier string  `json:"entry_tier"`
	Status    string  `json:"status"`
	Qty       float64 `json:"qty"`
	Price     float64 `json:"price"`
	Error     string  `json:"error,omitempty"`
}

// PositionEvent describes a position state change.
type PositionEvent struct {
	PositionID  string  `json:"position_id"`
	SignalID    string  `json:"signal_id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Size        float64 `json:"size"`
	EntryPrice  float64 `json:"entry_price"`
	ExitPrice   float64 `json:"exit_price,omitempty"`
	RealizedPnL float64 `json:"realized_pnl,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// DriftEvent reports a requested-vs-actual mismatch.
type DriftEvent struct {
	PositionID string  `json:"position_id"`
	Symbol     string  `json:"symbol"`
	Field      string  `json:"field"`
	Requested  float64 `json:"requested"`
	Actual     float64 `json:"actual"`
}
