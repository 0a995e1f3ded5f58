package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const positionColumns = `
	id, signal_id, order_id, symbol, side, size, entry_price, leverage, margin_used,
	unrealized_pnl, stop_loss, take_profit, status, exit_price, realized_pnl, exit_reason,
	is_demo, opened_at, closed_at`

func scanPosition(r rowScanner) (Position, error) {
	var (
		p      Position
		closed sql.NullTime
	)
	err := r.Scan(&p.ID, &p.SignalID, &p.OrderID, &p.Symbol, &p.Side, &p.Size, &p.EntryPrice,
		&p.Leverage, &p.MarginUsed, &p.UnrealizedPnL, &p.StopLoss, &p.TakeProfit, &p.Status,
		&p.ExitPrice, &p.RealizedPnL, &p.ExitReason, &p.IsDemo, &p.OpenedAt, &closed)
	p.ClosedAt = nullTimePtr(closed)
	return p, err
}

// CreatePosition inserts an OPEN position. A second OPEN position for the same
// (signal, symbol, side) yields ErrOpenPositionExists.
func (d *Database) CreatePosition(ctx context.Context, p Position) error {
	if p.Status == "" {
		p.Status = PositionOpen
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (
			id, signal_id, order_id, symbol, side, size, entry_price, leverage, margin_used,
			unrealized_pnl, stop_loss, take_profit, status, is_demo, opened_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.SignalID, p.OrderID, p.Symbol, p.Side, p.Size, p.EntryPrice, p.Leverage, p.MarginUsed,
		p.UnrealizedPnL, p.StopLoss, p.TakeProfit, p.Status, p.IsDemo, p.OpenedAt,
	)
	if isUniqueViolation(err) {
		return ErrOpenPositionExists
	}
	return err
}

// GetPosition loads a position by id.
func (d *Database) GetPosition(ctx context.Context, id string) (*Position, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query position: %w", err)
	}
	return &p, nil
}

// GetOpenPosition returns the OPEN position for (signal, symbol, side) if any.
func (d *Database) GetOpenPosition(ctx context.Context, signalID, symbol, side string) (*Position, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE signal_id = ? AND symbol = ? AND side = ? AND status = ?
	`, signalID, symbol, side, PositionOpen)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query open position: %w", err)
	}
	return &p, nil
}

// HasOpenPosition reports whether any OPEN position references the signal.
func (d *Database) HasOpenPosition(ctx context.Context, signalID string) (bool, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM positions WHERE signal_id = ? AND status = ?
	`, signalID, PositionOpen).Scan(&n)
	return n > 0, err
}

// CountOpenPositions counts OPEN positions in the given account mode.
func (d *Database) CountOpenPositions(ctx context.Context, isDemo bool) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM positions WHERE status = ? AND is_demo = ?
	`, PositionOpen, isDemo).Scan(&n)
	return n, err
}

// OpenLegExposure counts the OPEN positions on one (symbol, side) leg and
// sums their sizes. Several signals may share a leg on the exchange.
func (d *Database) OpenLegExposure(ctx context.Context, symbol, side string, isDemo bool) (int, float64, error) {
	var (
		n    int
		size float64
	)
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size), 0) FROM positions
		WHERE status = ? AND symbol = ? AND side = ? AND is_demo = ?
	`, PositionOpen, symbol, side, isDemo).Scan(&n, &size)
	if err != nil {
		return 0, 0, fmt.Errorf("leg exposure %s %s: %w", symbol, side, err)
	}
	return n, size, nil
}

// ListPositions returns positions filtered by status ("" = all), newest first.
func (d *Database) ListPositions(ctx context.Context, status string, limit int) ([]Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY opened_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ListSignalPositions returns every position opened for a signal, oldest first.
func (d *Database) ListSignalPositions(ctx context.Context, signalID string) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions
		WHERE signal_id = ? ORDER BY opened_at ASC`, signalID)
	if err != nil {
		return nil, fmt.Errorf("query signal positions: %w", err)
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// MergeFill adds a fill to an OPEN position, volume-weighting the entry price.
func (d *Database) MergeFill(ctx context.Context, id string, qty, price, margin float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE positions
		SET entry_price = CASE WHEN size + ? > 0 THEN (entry_price * size + ? * ?) / (size + ?) ELSE entry_price END,
		    size = size + ?,
		    margin_used = margin_used + ?
		WHERE id = ? AND status = ?
	`, qty, price, qty, qty, qty, margin, id, PositionOpen)
	if err != nil {
		return fmt.Errorf("merge fill into %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExchangeSnapshot holds the authoritative fields read back from the exchange.
type ExchangeSnapshot struct {
	EntryPrice    float64
	Size          float64
	UnrealizedPnL float64
	StopLoss      float64
	TakeProfit    float64
}

// ApplyExchangeSnapshot overwrites a position's exchange-owned fields.
func (d *Database) ApplyExchangeSnapshot(ctx context.Context, id string, s ExchangeSnapshot) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE positions
		SET entry_price = ?, size = ?, unrealized_pnl = ?, stop_loss = ?, take_profit = ?
		WHERE id = ?
	`, s.EntryPrice, s.Size, s.UnrealizedPnL, s.StopLoss, s.TakeProfit, id)
	return err
}

// SetPositionStops records requested protective levels on an OPEN position.
func (d *Database) SetPositionStops(ctx context.Context, id string, stopLoss, takeProfit float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE positions SET stop_loss = ?, take_profit = ? WHERE id = ? AND status = ?
	`, stopLoss, takeProfit, id, PositionOpen)
	if err != nil {
		return fmt.Errorf("set stops %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClosePosition marks an OPEN position CLOSED. It reports whether this call
// performed the transition.
func (d *Database) ClosePosition(ctx context.Context, id string, exitPrice, pnl float64, reason string) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE positions
		SET status = ?, exit_price = ?, realized_pnl = ?, exit_reason = ?, closed_at = ?, unrealized_pnl = 0
		WHERE id = ? AND status = ?
	`, PositionClosed, exitPrice, pnl, reason, time.Now().UTC(), id, PositionOpen)
	if err != nil {
		return false, fmt.Errorf("close position %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DriftRecord is one requested-vs-actual mismatch found during reconciliation.
type DriftRecord struct {
	PositionID string
	Symbol     string
	Field      string
	Requested  float64
	Actual     float64
}

// InsertDrift persists a drift record for audit.
func (d *Database) InsertDrift(ctx context.Context, r DriftRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO drift_log (position_id, symbol, field, requested, actual, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.PositionID, r.Symbol, r.Field, r.Requested, r.Actual, time.Now().UTC())
	return err
}

// CountDrift returns how many drift rows exist for a position.
func (d *Database) CountDrift(ctx context.Context, positionID string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM drift_log WHERE position_id = ?`, positionID).Scan(&n)
	return n, err
}
