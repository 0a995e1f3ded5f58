package reconciliation

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
)

// DefaultEpsilon is the relative tolerance below which requested and actual
// values are considered equal.
const DefaultEpsilon = 0.0001

// ExchangeClient is the read side of the venue used for reconciliation.
type ExchangeClient interface {
	GetPositions(ctx context.Context, symbol string) ([]common.Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error)
}

// Requested holds what the engine asked for. Zero fields are not compared.
type Requested struct {
	EntryPrice float64
	Size       float64
	StopLoss   float64
	TakeProfit float64
}

// Service overwrites local position fields with the exchange's view.
type Service struct {
	exchange ExchangeClient
	database *db.Database
	bus      *events.Bus
	metrics  *monitor.Metrics
	epsilon  float64
}

// Report describes one position reconciliation.
type Report struct {
	PositionID string              `json:"position_id"`
	Symbol     string              `json:"symbol"`
	Found      bool                `json:"found"`
	Snapshot   db.ExchangeSnapshot `json:"snapshot"`
	SharedLeg  bool                `json:"shared_leg,omitempty"`
	Diffs      []PositionDiff      `json:"diffs,omitempty"`
}

// PositionDiff is a requested-vs-actual mismatch.
type PositionDiff struct {
	Field     string  `json:"field"`
	Requested float64 `json:"requested"`
	Actual    float64 `json:"actual"`
}

// SweepReport summarises a reconcile pass over all OPEN positions.
type SweepReport struct {
	Timestamp time.Time `json:"timestamp"`
	Checked   int       `json:"checked"`
	Synced    int       `json:"synced"`
	Missing   []string  `json:"missing,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
	Reports   []*Report `json:"reports"`
}

// NewService creates a reconciliation service.
func NewService(exchange ExchangeClient, database *db.Database, bus *events.Bus, metrics *monitor.Metrics) *Service {
	return &Service{
		exchange: exchange,
		database: database,
		bus:      bus,
		metrics:  metrics,
		epsilon:  DefaultEpsilon,
	}
}

// ReconcilePosition reads the exchange's position and protective orders for
// pos.Symbol and overwrites entry price, size, unrealized PnL, stop-loss and
// take-profit. When other OPEN positions share the exchange leg, only the
// position's own stops are taken over and the leg size is checked against the
// local total. Differences from req are logged and persisted as drift, never
// returned as errors. Exchange read failures are returned and nothing is
// overwritten.
func (s *Service) ReconcilePosition(ctx context.Context, pos *db.Position, req Requested) (*Report, error) {
	positions, err := s.exchange.GetPositions(ctx, pos.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch positions %s: %w", pos.Symbol, err)
	}
	orders, err := s.exchange.GetOpenOrders(ctx, pos.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch open orders %s: %w", pos.Symbol, err)
	}

	report := &Report{PositionID: pos.ID, Symbol: pos.Symbol}
	exPos, ok := matchPosition(positions, pos.Side)
	if !ok {
		log.Printf("⚠️ Reconcile: %s %s position %s not found on exchange", pos.Symbol, pos.Side, pos.ID)
		return report, nil
	}
	report.Found = true

	holders, legSize, err := s.database.OpenLegExposure(ctx, pos.Symbol, pos.Side, pos.IsDemo)
	if err != nil {
		return nil, err
	}
	report.SharedLeg = holders > 1

	stop, tp := protectiveLevels(orders, pos, exPos.EntryPrice, !report.SharedLeg)
	snap := db.ExchangeSnapshot{
		EntryPrice:    exPos.EntryPrice,
		Size:          exPos.Size,
		UnrealizedPnL: exPos.UnrealizedPnL,
		StopLoss:      stop,
		TakeProfit:    tp,
	}
	if report.SharedLeg {
		// The exchange reports the aggregate leg; keep this position's own figures.
		snap.EntryPrice, snap.Size, snap.UnrealizedPnL = pos.EntryPrice, pos.Size, pos.UnrealizedPnL
		req.EntryPrice, req.Size = 0, 0
	}
	if err := s.database.ApplyExchangeSnapshot(ctx, pos.ID, snap); err != nil {
		return nil, fmt.Errorf("apply snapshot %s: %w", pos.ID, err)
	}
	report.Snapshot = snap
	pos.EntryPrice, pos.Size, pos.UnrealizedPnL = snap.EntryPrice, snap.Size, snap.UnrealizedPnL
	pos.StopLoss, pos.TakeProfit = snap.StopLoss, snap.TakeProfit

	diffs := s.compare(req, snap)
	if report.SharedLeg {
		if d, ok := s.diff("leg_size", legSize, exPos.Size); ok {
			diffs = append(diffs, d)
		}
	}
	for _, d := range diffs {
		report.Diffs = append(report.Diffs, d)
		s.recordDrift(ctx, pos, d)
	}

	s.bus.Publish(events.EventPositionSynced, events.PositionEvent{
		PositionID: pos.ID,
		SignalID:   pos.SignalID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
	})
	return report, nil
}

// ReconcileOpen sweeps every OPEN position, comparing against the locally
// recorded values. Per-position failures are collected, not fatal.
func (s *Service) ReconcileOpen(ctx context.Context) (*SweepReport, error) {
	open, err := s.database.ListPositions(ctx, db.PositionOpen, 0)
	if err != nil {
		return nil, err
	}
	sweep := &SweepReport{Timestamp: time.Now().UTC(), Checked: len(open)}
	for i := range open {
		p := &open[i]
		req := Requested{EntryPrice: p.EntryPrice, Size: p.Size, StopLoss: p.StopLoss, TakeProfit: p.TakeProfit}
		rep, err := s.ReconcilePosition(ctx, p, req)
		if err != nil {
			log.Printf("❌ Reconcile %s: %v", p.ID, err)
			sweep.Errors = append(sweep.Errors, fmt.Sprintf("%s: %v", p.ID, err))
			continue
		}
		if !rep.Found {
			sweep.Missing = append(sweep.Missing, p.ID)
		} else {
			sweep.Synced++
		}
		sweep.Reports = append(sweep.Reports, rep)
	}
	s.metrics.SetOpenPositions(len(open))

	if len(sweep.Errors) == 0 && len(sweep.Missing) == 0 {
		log.Printf("✅ Reconciliation OK - %d open positions synced", sweep.Synced)
	}
	return sweep, nil
}

func (s *Service) compare(req Requested, snap db.ExchangeSnapshot) []PositionDiff {
	var diffs []PositionDiff
	check := func(field string, requested, actual float64) {
		if d, ok := s.diff(field, requested, actual); ok {
			diffs = append(diffs, d)
		}
	}
	check("entry_price", req.EntryPrice, snap.EntryPrice)
	check("size", req.Size, snap.Size)
	check("stop_loss", req.StopLoss, snap.StopLoss)
	check("take_profit", req.TakeProfit, snap.TakeProfit)
	return diffs
}

func (s *Service) diff(field string, requested, actual float64) (PositionDiff, bool) {
	if requested <= 0 || math.Abs(actual-requested)/requested <= s.epsilon {
		return PositionDiff{}, false
	}
	return PositionDiff{Field: field, Requested: requested, Actual: actual}, true
}

func (s *Service) recordDrift(ctx context.Context, pos *db.Position, d PositionDiff) {
	log.Printf("⚠️ Drift %s %s %s: requested=%v actual=%v", pos.Symbol, pos.ID, d.Field, d.Requested, d.Actual)
	err := s.database.InsertDrift(ctx, db.DriftRecord{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Field:      d.Field,
		Requested:  d.Requested,
		Actual:     d.Actual,
	})
	if err != nil {
		log.Printf("❌ Failed to persist drift for %s: %v", pos.ID, err)
	}
	s.metrics.Drift(d.Field)
	s.bus.Publish(events.EventDriftDetected, events.DriftEvent{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Field:      d.Field,
		Requested:  d.Requested,
		Actual:     d.Actual,
	})
}

func matchPosition(positions []common.Position, side string) (common.Position, bool) {
	for _, p := range positions {
		if string(p.PositionSide) == side && p.Size > 0 {
			return p, true
		}
	}
	return common.Position{}, false
}

// protectiveLevels picks the stop-loss and the nearest take-profit placed for
// pos. With exclusive set and no tagged orders found, any protective order on
// the leg counts, which covers orders placed by hand on the venue.
func protectiveLevels(orders []common.OpenOrder, pos *db.Position, entry float64, exclusive bool) (stop, tp float64) {
	side := common.PositionSide(pos.Side)
	var own, leg []common.OpenOrder
	for _, o := range orders {
		if o.PositionSide != side || o.StopPrice <= 0 || !o.Type.IsProtective() {
			continue
		}
		leg = append(leg, o)
		if o.OwnedBy(pos.ID) {
			own = append(own, o)
		}
	}
	if len(own) == 0 && exclusive {
		own = leg
	}
	for _, o := range own {
		switch o.Type {
		case common.OrderTypeStopMarket:
			stop = o.StopPrice
		case common.OrderTypeTakeProfitMarket:
			if tp == 0 || math.Abs(o.StopPrice-entry) < math.Abs(tp-entry) {
				tp = o.StopPrice
			}
		}
	}
	return stop, tp
}
