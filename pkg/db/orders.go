package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const orderColumns = `
	id, signal_id, symbol, side, position_side, kind, entry_tier, price, qty, margin,
	leverage, COALESCE(exchange_order_id, ''), status, error, is_demo, alerted_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (Order, error) {
	var (
		o       Order
		alerted sql.NullTime
	)
	err := r.Scan(&o.ID, &o.SignalID, &o.Symbol, &o.Side, &o.PositionSide, &o.Kind, &o.EntryTier,
		&o.Price, &o.Qty, &o.Margin, &o.Leverage, &o.ExchangeOrderID, &o.Status, &o.Error,
		&o.IsDemo, &alerted, &o.CreatedAt, &o.UpdatedAt)
	o.AlertedAt = nullTimePtr(alerted)
	return o, err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, signal_id, symbol, side, position_side, kind, entry_tier, price, qty, margin,
			leverage, exchange_order_id, status, error, is_demo, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.SignalID, o.Symbol, o.Side, o.PositionSide, o.Kind, o.EntryTier, o.Price, o.Qty, o.Margin,
		o.Leverage, nullableString(o.ExchangeOrderID), o.Status, o.Error, o.IsDemo, o.CreatedAt, now,
	)
	return err
}

// GetOrder loads an order by id.
func (d *Database) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

// ListOrdersByStatus returns orders in any of the given statuses, oldest first.
func (d *Database) ListOrdersByStatus(ctx context.Context, statuses ...string) ([]Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	rows, err := d.DB.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status IN (`+inClause(len(statuses))+`) ORDER BY created_at ASC`,
		statusArgs(statuses)...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListOrders returns the most recent orders, optionally filtered by signal.
func (d *Database) ListOrders(ctx context.Context, signalID string, limit int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	args := []any{}
	if signalID != "" {
		query += ` WHERE signal_id = ?`
		args = append(args, signalID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]Order, error) {
	var res []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// TransitionOrder moves an order to status `to` only if it is currently in one of
// `from`. It reports whether this call won the transition; callers racing on the
// same order see exactly one true.
func (d *Database) TransitionOrder(ctx context.Context, id, to string, from ...string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition order %s: no source statuses", id)
	}
	args := append([]any{to, time.Now().UTC(), id}, statusArgs(from)...)
	res, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (`+inClause(len(from))+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("transition order %s -> %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FillOrder marks an order FILLED with its exchange order id, conditional on the
// current status being one of from.
func (d *Database) FillOrder(ctx context.Context, id, exchangeOrderID string, from ...string) (bool, error) {
	args := append([]any{OrderFilled, nullableString(exchangeOrderID), time.Now().UTC(), id}, statusArgs(from)...)
	res, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET status = ?, exchange_order_id = COALESCE(?, exchange_order_id), error = '', updated_at = ?
		WHERE id = ? AND status IN (`+inClause(len(from))+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("fill order %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetOrderError records the last exchange error for an order without changing status.
func (d *Database) SetOrderError(ctx context.Context, id, msg string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE orders SET error = ?, updated_at = ? WHERE id = ?`,
		msg, time.Now().UTC(), id)
	return err
}

// MarkOrderAlerted stamps alerted_at on a PENDING order and reports whether
// this call set it. A stamp at or before rearmBefore counts as expired and is
// replaced; a zero rearmBefore only matches unstamped rows.
func (d *Database) MarkOrderAlerted(ctx context.Context, id string, rearmBefore time.Time) (bool, error) {
	query := `UPDATE orders SET alerted_at = ? WHERE id = ? AND status = ? AND (alerted_at IS NULL`
	args := []any{time.Now().UTC(), id, OrderPending}
	if !rearmBefore.IsZero() {
		query += ` OR alerted_at <= ?`
		args = append(args, rearmBefore.UTC())
	}
	res, err := d.DB.ExecContext(ctx, query+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ClearOrderAlert removes the alerted_at stamp so the next transition into
// reached alerts again.
func (d *Database) ClearOrderAlert(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET alerted_at = NULL WHERE id = ? AND alerted_at IS NOT NULL
	`, id)
	if err != nil {
		return fmt.Errorf("clear alert %s: %w", id, err)
	}
	return nil
}

// CancelOpenOrders cancels PENDING/NEW LIMIT orders for a symbol (optionally
// scoped to one signal) and returns the orders this call cancelled.
func (d *Database) CancelOpenOrders(ctx context.Context, symbol, signalID string) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE symbol = ? AND kind = ? AND status IN (?, ?)`
	args := []any{symbol, KindLimit, OrderPending, OrderNew}
	if signalID != "" {
		query += ` AND signal_id = ?`
		args = append(args, signalID)
	}
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cancellable orders: %w", err)
	}
	candidates, err := collectOrders(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var cancelled []Order
	for _, o := range candidates {
		ok, err := d.TransitionOrder(ctx, o.ID, OrderCancelled, OrderPending, OrderNew)
		if err != nil {
			return cancelled, err
		}
		if ok {
			o.Status = OrderCancelled
			cancelled = append(cancelled, o)
		}
	}
	return cancelled, nil
}
