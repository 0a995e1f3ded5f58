package common

import "errors"

// ErrNoPosition is matched (via errors.Is) by exchange errors meaning the
// position to close no longer exists on the venue.
var ErrNoPosition = errors.New("no position to close")

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PositionSide denotes the hedge-mode leg an order acts on.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Opposite returns the closing side for a position leg.
func (p PositionSide) Opposite() Side {
	if p == PositionShort {
		return SideBuy
	}
	return SideSell
}

// OpeningSide returns the order side that increases a position leg.
func (p PositionSide) OpeningSide() Side {
	if p == PositionShort {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the perpetual-swap order types in use.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// IsProtective reports whether the type is a stop-loss or take-profit trigger.
func (t OrderType) IsProtective() bool {
	return t == OrderTypeStopMarket || t == OrderTypeTakeProfitMarket
}

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol       string
	Side         Side
	PositionSide PositionSide
	Type         OrderType
	Qty          float64
	Price        float64 // LIMIT only
	StopPrice    float64 // STOP_MARKET / TAKE_PROFIT_MARKET
	ClientID     string
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	AvgPrice        float64
}

// Position is the venue's view of one position leg.
type Position struct {
	Symbol        string
	PositionSide  PositionSide
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
}

// OpenOrder is a resting order on the venue.
type OpenOrder struct {
	Symbol       string
	OrderID      string
	ClientID     string
	Side         Side
	PositionSide PositionSide
	Type         OrderType
	Qty          float64
	Price        float64
	StopPrice    float64
	Status       OrderStatus
}
