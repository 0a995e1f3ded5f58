package api

import (
	"time"

	"github.com/samber/lo"

	"signal-core/pkg/db"
)

type signalView struct {
	ID              string     `json:"id"`
	SourceID        string     `json:"source_id,omitempty"`
	Symbol          string     `json:"symbol"`
	Direction       string     `json:"direction"`
	Leverage        int        `json:"leverage"`
	EntryPrices     []float64  `json:"entry_prices"`
	TakeProfits     []float64  `json:"take_profits"`
	StopLoss        float64    `json:"stop_loss"`
	Notes           string     `json:"notes,omitempty"`
	Status          string     `json:"status"`
	Result          string     `json:"result,omitempty"`
	RealizedPnL     float64    `json:"realized_pnl"`
	TotalMarginUsed float64    `json:"total_margin_used"`
	CreatedAt       time.Time  `json:"created_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

type orderView struct {
	ID              string     `json:"id"`
	SignalID        string     `json:"signal_id"`
	Symbol          string     `json:"symbol"`
	Side            string     `json:"side"`
	PositionSide    string     `json:"position_side"`
	Kind            string     `json:"kind"`
	EntryTier       string     `json:"entry_tier"`
	Price           float64    `json:"price"`
	Qty             float64    `json:"qty"`
	Margin          float64    `json:"margin"`
	Leverage        int        `json:"leverage"`
	ExchangeOrderID string     `json:"bingx_order_id,omitempty"`
	Status          string     `json:"status"`
	Error           string     `json:"error,omitempty"`
	IsDemo          bool       `json:"is_demo"`
	AlertedAt       *time.Time `json:"alerted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type positionView struct {
	ID            string     `json:"id"`
	SignalID      string     `json:"signal_id"`
	OrderID       string     `json:"order_id,omitempty"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Size          float64    `json:"size"`
	EntryPrice    float64    `json:"entry_price"`
	Leverage      int        `json:"leverage"`
	MarginUsed    float64    `json:"margin_used"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	StopLoss      float64    `json:"stop_loss"`
	TakeProfit    float64    `json:"take_profit"`
	Status        string     `json:"status"`
	ExitPrice     float64    `json:"exit_price,omitempty"`
	RealizedPnL   float64    `json:"realized_pnl"`
	ExitReason    string     `json:"exit_reason,omitempty"`
	IsDemo        bool       `json:"is_demo"`
	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

type watchView struct {
	ID               string   `json:"id"`
	SignalID         string   `json:"signal_id,omitempty"`
	Symbol           string   `json:"symbol"`
	EntryTier        string   `json:"entry_tier"`
	Direction        string   `json:"direction"`
	TargetPrice      float64  `json:"target_price"`
	Margin           float64  `json:"margin"`
	TargetPercentage float64  `json:"target_percentage,omitempty"`
	ReferencePrice   *float64 `json:"reference_price,omitempty"`
	Status           string   `json:"status"`
}

func toSignalView(s db.Signal) signalView {
	return signalView{
		ID: s.ID, SourceID: s.SourceID, Symbol: s.Symbol, Direction: s.Direction,
		Leverage: s.Leverage, EntryPrices: s.EntryPrices, TakeProfits: s.TakeProfits,
		StopLoss: s.StopLoss, Notes: s.Notes, Status: s.Status, Result: s.Result,
		RealizedPnL: s.RealizedPnL, TotalMarginUsed: s.TotalMarginUsed,
		CreatedAt: s.CreatedAt, ClosedAt: s.ClosedAt,
	}
}

func toOrderViews(orders []db.Order) []orderView {
	return lo.Map(orders, func(o db.Order, _ int) orderView {
		return orderView{
			ID: o.ID, SignalID: o.SignalID, Symbol: o.Symbol, Side: o.Side,
			PositionSide: o.PositionSide, Kind: o.Kind, EntryTier: o.EntryTier,
			Price: o.Price, Qty: o.Qty, Margin: o.Margin, Leverage: o.Leverage,
			ExchangeOrderID: o.ExchangeOrderID, Status: o.Status, Error: o.Error,
			IsDemo: o.IsDemo, AlertedAt: o.AlertedAt, CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
		}
	})
}

func toPositionViews(positions []db.Position) []positionView {
	return lo.Map(positions, func(p db.Position, _ int) positionView {
		return positionView{
			ID: p.ID, SignalID: p.SignalID, OrderID: p.OrderID, Symbol: p.Symbol, Side: p.Side,
			Size: p.Size, EntryPrice: p.EntryPrice, Leverage: p.Leverage, MarginUsed: p.MarginUsed,
			UnrealizedPnL: p.UnrealizedPnL, StopLoss: p.StopLoss, TakeProfit: p.TakeProfit,
			Status: p.Status, ExitPrice: p.ExitPrice, RealizedPnL: p.RealizedPnL,
			ExitReason: p.ExitReason, IsDemo: p.IsDemo, OpenedAt: p.OpenedAt, ClosedAt: p.ClosedAt,
		}
	})
}

func toWatchViews(rows []db.WatchlistEntry) []watchView {
	return lo.Map(rows, func(w db.WatchlistEntry, _ int) watchView {
		return watchView{
			ID: w.ID, SignalID: w.SignalID, Symbol: w.Symbol, EntryTier: w.EntryTier,
			Direction: w.Direction, TargetPrice: w.TargetPrice, Margin: w.Margin,
			TargetPercentage: w.TargetPercentage, ReferencePrice: w.ReferencePrice, Status: w.Status,
		}
	})
}
