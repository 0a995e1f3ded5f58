package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const watchColumns = `
	id, signal_id, symbol, entry_tier, direction, target_price, margin, target_percentage,
	reference_price, status, alerted_at, created_at`

func scanWatch(r rowScanner) (WatchlistEntry, error) {
	var (
		w       WatchlistEntry
		ref     sql.NullFloat64
		alerted sql.NullTime
	)
	err := r.Scan(&w.ID, &w.SignalID, &w.Symbol, &w.EntryTier, &w.Direction, &w.TargetPrice,
		&w.Margin, &w.TargetPercentage, &ref, &w.Status, &alerted, &w.CreatedAt)
	if ref.Valid {
		v := ref.Float64
		w.ReferencePrice = &v
	}
	w.AlertedAt = nullTimePtr(alerted)
	return w, err
}

// CreateWatchlistEntry inserts an active watchlist row.
func (d *Database) CreateWatchlistEntry(ctx context.Context, w WatchlistEntry) error {
	if w.Status == "" {
		w.Status = WatchActive
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	var ref any
	if w.ReferencePrice != nil {
		ref = *w.ReferencePrice
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO watchlist (
			id, signal_id, symbol, entry_tier, direction, target_price, margin, target_percentage,
			reference_price, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.SignalID, w.Symbol, w.EntryTier, w.Direction, w.TargetPrice, w.Margin, w.TargetPercentage,
		ref, w.Status, w.CreatedAt, now)
	return err
}

// ListActiveWatchlist returns every active watchlist row.
func (d *Database) ListActiveWatchlist(ctx context.Context) ([]WatchlistEntry, error) {
	return d.listWatch(ctx, `WHERE status = ?`, WatchActive)
}

// ListWatchlistBySignal returns all rows for a signal regardless of status.
func (d *Database) ListWatchlistBySignal(ctx context.Context, signalID string) ([]WatchlistEntry, error) {
	return d.listWatch(ctx, `WHERE signal_id = ?`, signalID)
}

func (d *Database) listWatch(ctx context.Context, where string, args ...any) ([]WatchlistEntry, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+watchColumns+` FROM watchlist `+where+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	var res []WatchlistEntry
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watchlist: %w", err)
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// MarkWatchlistTriggered moves an active row to triggered; reports whether this call did it.
func (d *Database) MarkWatchlistTriggered(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res, err := d.DB.ExecContext(ctx, `
		UPDATE watchlist SET status = ?, alerted_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, WatchTriggered, now, now, id, WatchActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RearmWatchlist returns a triggered row to active after its alert could not
// be delivered.
func (d *Database) RearmWatchlist(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE watchlist SET status = ?, alerted_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, WatchActive, time.Now().UTC(), id, WatchTriggered)
	if err != nil {
		return fmt.Errorf("rearm watchlist %s: %w", id, err)
	}
	return nil
}

// CancelWatchlist cancels active rows for a symbol. Empty tier or signalID widen the match.
func (d *Database) CancelWatchlist(ctx context.Context, symbol, tier, signalID string) (int64, error) {
	query := `UPDATE watchlist SET status = ?, updated_at = ? WHERE symbol = ? AND status IN (?, ?)`
	args := []any{WatchCancelled, time.Now().UTC(), symbol, WatchActive, WatchTriggered}
	if tier != "" {
		query += ` AND entry_tier = ?`
		args = append(args, tier)
	}
	if signalID != "" {
		query += ` AND signal_id = ?`
		args = append(args, signalID)
	}
	res, err := d.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cancel watchlist %s: %w", symbol, err)
	}
	return res.RowsAffected()
}
