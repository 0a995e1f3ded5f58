package order

import (
	"strings"

	"signal-core/internal/apperr"
	"signal-core/pkg/db"
)

// Entry types accepted in a signal.
const (
	EntryMarket = "market"
	EntryLimit  = "limit"
)

const (
	maxEntries     = 3
	maxTakeProfits = 5
	maxLeverage    = 100
)

// EntryRequest is one enabled entry of a signal.
type EntryRequest struct {
	Type   string  `json:"type"`
	Price  float64 `json:"price"`
	Margin float64 `json:"margin"`
}

// SignalRequest is the inbound signal submission.
type SignalRequest struct {
	Symbol         string         `json:"symbol"`
	Direction      string         `json:"direction"`
	Leverage       int            `json:"leverage"`
	Notes          string         `json:"notes,omitempty"`
	SourceID       string         `json:"source_id,omitempty"`
	TakeProfits    []float64      `json:"take_profits,omitempty"`
	StopLoss       float64        `json:"stop_loss,omitempty"`
	EnabledEntries []EntryRequest `json:"enabled_entries"`
}

// EntryResult reports the outcome of one entry.
type EntryResult struct {
	EntryType    string  `json:"entry_type"`
	Success      bool    `json:"success"`
	PositionSize float64 `json:"position_size"`
	Price        float64 `json:"price"`
	BingXOrderID string  `json:"bingx_order_id,omitempty"`
	OrderID      string  `json:"order_id,omitempty"`
	Message      string  `json:"message"`
}

// FanOutResult is returned for a submitted signal. Orders has one element
// per enabled entry, in request order.
type FanOutResult struct {
	SignalID        string        `json:"signal_id"`
	Orders          []EntryResult `json:"orders"`
	TotalMarginUsed float64       `json:"total_margin_used"`
}

// Normalize upper-cases direction and lower-cases entry types in place.
func (r *SignalRequest) Normalize() {
	r.Symbol = strings.TrimSpace(r.Symbol)
	r.Direction = strings.ToUpper(strings.TrimSpace(r.Direction))
	for i := range r.EnabledEntries {
		r.EnabledEntries[i].Type = strings.ToLower(strings.TrimSpace(r.EnabledEntries[i].Type))
	}
}

// Validate rejects a malformed signal before any side effect.
func (r SignalRequest) Validate() error {
	if r.Symbol == "" {
		return apperr.Validation("symbol is required")
	}
	if r.Direction != db.SideLong && r.Direction != db.SideShort {
		return apperr.Validation("direction must be LONG or SHORT, got %q", r.Direction)
	}
	if r.Leverage < 1 || r.Leverage > maxLeverage {
		return apperr.Validation("leverage must be between 1 and %d, got %d", maxLeverage, r.Leverage)
	}
	if n := len(r.EnabledEntries); n == 0 || n > maxEntries {
		return apperr.Validation("between 1 and %d entries required, got %d", maxEntries, n)
	}
	if len(r.TakeProfits) > maxTakeProfits {
		return apperr.Validation("at most %d take-profits allowed, got %d", maxTakeProfits, len(r.TakeProfits))
	}
	for i, e := range r.EnabledEntries {
		switch e.Type {
		case EntryMarket:
		case EntryLimit:
			if e.Price <= 0 {
				return apperr.Validation("entry %d: limit price must be positive", i+1)
			}
		default:
			return apperr.Validation("entry %d: unknown type %q", i+1, e.Type)
		}
		if e.Margin <= 0 {
			return apperr.Validation("entry %d: margin must be positive", i+1)
		}
		if e.Price < 0 {
			return apperr.Validation("entry %d: price must not be negative", i+1)
		}
	}
	if r.StopLoss < 0 {
		return apperr.Validation("stop_loss must not be negative")
	}
	return nil
}

// tierFor maps an entry's position in the request to its tier.
func tierFor(i int) string {
	switch i {
	case 0:
		return db.TierMarket
	case 1:
		return db.TierEntry2
	default:
		return db.TierEntry3
	}
}

func firstPositive(vals []float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
