package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Direction / position side.
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Signal statuses and results.
const (
	SignalActive = "ACTIVE"
	SignalClosed = "CLOSED"

	ResultWin       = "WIN"
	ResultLoss      = "LOSS"
	ResultBreakeven = "BREAKEVEN"
)

// Order kinds, tiers and statuses.
const (
	KindMarket = "MARKET"
	KindLimit  = "LIMIT"

	TierMarket     = "MARKET"
	TierEntry2     = "ENTRY_2"
	TierEntry3     = "ENTRY_3"
	TierStopLoss   = "STOP_LOSS"
	TierTakeProfit = "TAKE_PROFIT"

	OrderNew       = "NEW"
	OrderPending   = "PENDING"
	OrderFilled    = "FILLED"
	OrderCancelled = "CANCELLED"
	OrderFailed    = "FAILED"
)

// Position statuses.
const (
	PositionOpen   = "OPEN"
	PositionClosed = "CLOSED"
)

// Watchlist statuses.
const (
	WatchActive    = "active"
	WatchTriggered = "triggered"
	WatchCancelled = "cancelled"
)

// Signal is a directional trade idea with its aggregate performance.
type Signal struct {
	ID              string
	SourceID        string
	Symbol          string
	Direction       string
	Leverage        int
	EntryPrices     []float64
	TakeProfits     []float64
	StopLoss        float64
	Notes           string
	Status          string
	Result          string
	RealizedPnL     float64
	TotalMarginUsed float64
	CreatedAt       time.Time
	ClosedAt        *time.Time
}

// Order is one entry (or protective) order belonging to a signal.
type Order struct {
	ID              string
	SignalID        string
	Symbol          string
	Side            string // BUY / SELL
	PositionSide    string // LONG / SHORT
	Kind            string
	EntryTier       string
	Price           float64
	Qty             float64
	Margin          float64
	Leverage        int
	ExchangeOrderID string
	Status          string
	Error           string
	IsDemo          bool
	AlertedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsTerminal reports whether the order can no longer change state.
func (o Order) IsTerminal() bool {
	switch o.Status {
	case OrderFilled, OrderCancelled, OrderFailed:
		return true
	}
	return false
}

// Position tracks one leveraged exposure opened for a signal.
type Position struct {
	ID            string
	SignalID      string
	OrderID       string
	Symbol        string
	Side          string
	Size          float64
	EntryPrice    float64
	Leverage      int
	MarginUsed    float64
	UnrealizedPnL float64
	StopLoss      float64
	TakeProfit    float64
	Status        string
	ExitPrice     float64
	RealizedPnL   float64
	ExitReason    string
	IsDemo        bool
	OpenedAt      time.Time
	ClosedAt      *time.Time
}

// WatchlistEntry is a target entry that has not been turned into an exchange order yet.
type WatchlistEntry struct {
	ID               string
	SignalID         string
	Symbol           string
	EntryTier        string
	Direction        string
	TargetPrice      float64
	Margin           float64
	TargetPercentage float64
	ReferencePrice   *float64
	Status           string
	AlertedAt        *time.Time
	CreatedAt        time.Time
}

// SourceStats aggregates closed-signal outcomes per signal source.
type SourceStats struct {
	SourceID     string
	TotalSignals int
	Wins         int
	Losses       int
	Breakevens   int
	TotalPnL     float64
	UpdatedAt    time.Time
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// ----------------------------------------
// Signal Queries
// ----------------------------------------

// CreateSignal inserts a new signal row.
func (d *Database) CreateSignal(ctx context.Context, s Signal) error {
	entries, err := json.Marshal(orEmpty(s.EntryPrices))
	if err != nil {
		return fmt.Errorf("marshal entry prices: %w", err)
	}
	tps, err := json.Marshal(orEmpty(s.TakeProfits))
	if err != nil {
		return fmt.Errorf("marshal take profits: %w", err)
	}
	if s.Status == "" {
		s.Status = SignalActive
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err = d.DB.ExecContext(ctx, `
		INSERT INTO signals (
			id, source_id, symbol, direction, leverage, entry_prices, take_profits,
			stop_loss, notes, status, result, realized_pnl, total_margin_used, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.SourceID, s.Symbol, s.Direction, s.Leverage, string(entries), string(tps),
		s.StopLoss, s.Notes, s.Status, s.Result, s.RealizedPnL, s.TotalMarginUsed, s.CreatedAt,
	)
	return err
}

// GetSignal loads a signal by id.
func (d *Database) GetSignal(ctx context.Context, id string) (*Signal, error) {
	var (
		s            Signal
		entries, tps string
		closedAt     sql.NullTime
	)
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, source_id, symbol, direction, leverage, entry_prices, take_profits,
		       COALESCE(stop_loss, 0), notes, status, result, COALESCE(realized_pnl, 0),
		       COALESCE(total_margin_used, 0), created_at, closed_at
		FROM signals WHERE id = ?
	`, id).Scan(&s.ID, &s.SourceID, &s.Symbol, &s.Direction, &s.Leverage, &entries, &tps,
		&s.StopLoss, &s.Notes, &s.Status, &s.Result, &s.RealizedPnL,
		&s.TotalMarginUsed, &s.CreatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query signal: %w", err)
	}
	if err := json.Unmarshal([]byte(entries), &s.EntryPrices); err != nil {
		return nil, fmt.Errorf("decode entry prices of signal %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(tps), &s.TakeProfits); err != nil {
		return nil, fmt.Errorf("decode take-profits of signal %s: %w", id, err)
	}
	s.ClosedAt = nullTimePtr(closedAt)
	return &s, nil
}

// SetSignalMargin stores the aggregate margin of successfully placed entries.
func (d *Database) SetSignalMargin(ctx context.Context, id string, margin float64) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE signals SET total_margin_used = ? WHERE id = ?`, margin, id)
	return err
}

// ApplySignalPnL adds pnl to the cumulative realized PnL and records the
// win/loss/breakeven classification of this close.
func (d *Database) ApplySignalPnL(ctx context.Context, id string, pnl float64) error {
	result := ResultBreakeven
	switch {
	case pnl > 0:
		result = ResultWin
	case pnl < 0:
		result = ResultLoss
	}
	res, err := d.DB.ExecContext(ctx, `
		UPDATE signals
		SET realized_pnl = COALESCE(realized_pnl, 0) + ?, result = ?
		WHERE id = ?
	`, pnl, result, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseSignalIfFlat closes the signal when no OPEN position references it.
// It reports whether this call performed the transition.
func (d *Database) CloseSignalIfFlat(ctx context.Context, id string) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE signals
		SET status = ?, closed_at = ?
		WHERE id = ? AND status = ?
		  AND NOT EXISTS (SELECT 1 FROM positions WHERE signal_id = ? AND status = ?)
	`, SignalClosed, time.Now().UTC(), id, SignalActive, id, PositionOpen)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RefreshSourceStats recomputes the aggregate outcome counters for a signal source.
func (d *Database) RefreshSourceStats(ctx context.Context, sourceID string) error {
	if sourceID == "" {
		return nil
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signal_sources (source_id, total_signals, wins, losses, breakevens, total_pnl, updated_at)
		SELECT ?,
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN result = 'WIN' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN result = 'LOSS' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN result = 'BREAKEVEN' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(realized_pnl), 0),
		       ?
		FROM signals WHERE source_id = ? AND status = 'CLOSED'
		ON CONFLICT(source_id) DO UPDATE SET
			total_signals = excluded.total_signals,
			wins = excluded.wins,
			losses = excluded.losses,
			breakevens = excluded.breakevens,
			total_pnl = excluded.total_pnl,
			updated_at = excluded.updated_at
	`, sourceID, time.Now().UTC(), sourceID)
	return err
}

// GetSourceStats returns the aggregate counters for a source.
func (d *Database) GetSourceStats(ctx context.Context, sourceID string) (*SourceStats, error) {
	var st SourceStats
	err := d.DB.QueryRowContext(ctx, `
		SELECT source_id, total_signals, wins, losses, breakevens, total_pnl, updated_at
		FROM signal_sources WHERE source_id = ?
	`, sourceID).Scan(&st.SourceID, &st.TotalSignals, &st.Wins, &st.Losses, &st.Breakevens, &st.TotalPnL, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query source stats: %w", err)
	}
	return &st, nil
}

func orEmpty(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
