// Package stops replaces the protective stop-loss and take-profit orders of
// an open position.
package stops

import (
	"context"
	"errors"
	"log"

	"signal-core/internal/apperr"
	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/internal/order"
	"signal-core/internal/reconciliation"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
)

// Result describes the protective levels in force after an update.
type Result struct {
	Success    bool                          `json:"success"`
	Message    string                        `json:"message"`
	PositionID string                        `json:"position_id"`
	StopLoss   float64                       `json:"stop_loss"`
	TakeProfit float64                       `json:"take_profit"`
	Cancelled  int                           `json:"cancelled_orders"`
	Drift      []reconciliation.PositionDiff `json:"drift,omitempty"`
}

// Service manages protective orders.
type Service struct {
	db         *db.Database
	exchange   common.Gateway
	reconciler order.Reconciler

	bus     *events.Bus
	metrics *monitor.Metrics
}

func NewService(database *db.Database, gw common.Gateway, reconciler order.Reconciler) *Service {
	return &Service{db: database, exchange: gw, reconciler: reconciler}
}

// SetBus publishes stop changes on bus.
func (s *Service) SetBus(bus *events.Bus) { s.bus = bus }

// SetMetrics attaches prometheus collectors.
func (s *Service) SetMetrics(m *monitor.Metrics) { s.metrics = m }

// UpdateStops cancels the position's resting protective orders and places
// new ones. A zero level is left absent. The position is then reconciled
// against the requested levels so any drift is recorded.
func (s *Service) UpdateStops(ctx context.Context, positionID string, stopLoss, takeProfit float64) (*Result, error) {
	pos, err := s.load(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if err := validateLevels(pos.Side, stopLoss, takeProfit); err != nil {
		return nil, err
	}
	return s.apply(ctx, pos, stopLoss, takeProfit)
}

// MoveToBreakeven moves the stop-loss to the reconciled entry price and keeps
// the current take-profit.
func (s *Service) MoveToBreakeven(ctx context.Context, positionID string) (*Result, error) {
	pos, err := s.load(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if s.reconciler != nil {
		if _, err := s.reconciler.ReconcilePosition(ctx, pos, reconciliation.Requested{}); err != nil {
			log.Printf("⚠️ stops: refresh %s before breakeven: %v", pos.ID, err)
		}
	}
	if pos.EntryPrice <= 0 {
		return nil, apperr.Validation("position %s has no entry price", pos.ID)
	}
	res, err := s.apply(ctx, pos, pos.EntryPrice, pos.TakeProfit)
	if err != nil {
		return nil, err
	}
	res.Message = "stop-loss moved to entry"
	return res, nil
}

func (s *Service) load(ctx context.Context, id string) (*db.Position, error) {
	if id == "" {
		return nil, apperr.Validation("position_id is required")
	}
	pos, err := s.db.GetPosition(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("position %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if pos.Status != db.PositionOpen {
		return nil, apperr.Conflict("position %s is %s", id, pos.Status)
	}
	return pos, nil
}

func validateLevels(side string, stopLoss, takeProfit float64) error {
	if stopLoss < 0 || takeProfit < 0 {
		return apperr.Validation("stop levels must not be negative")
	}
	if stopLoss == 0 || takeProfit == 0 {
		return nil
	}
	if side == db.SideLong && stopLoss >= takeProfit {
		return apperr.Validation("LONG stop-loss %v must be below take-profit %v", stopLoss, takeProfit)
	}
	if side == db.SideShort && stopLoss <= takeProfit {
		return apperr.Validation("SHORT stop-loss %v must be above take-profit %v", stopLoss, takeProfit)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, pos *db.Position, stopLoss, takeProfit float64) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	side := common.PositionSide(pos.Side)

	t := s.metrics.ExchangeTimer("update_stops")
	cancelled, err := order.CancelProtective(ctx, s.exchange, pos.ID, pos.Symbol, side)
	if err != nil {
		t.Stop()
		return nil, apperr.Exchange(err, "cancel protective orders for %s", pos.ID)
	}
	err = order.PlaceProtective(ctx, s.exchange, pos.ID, pos.Symbol, side, pos.Size, stopLoss, takeProfit)
	t.Stop()
	if err != nil {
		log.Printf("❌ stops: place protective orders for %s: %v", pos.ID, err)
		return nil, apperr.Exchange(err, "place protective orders for %s", pos.ID)
	}

	if err := s.db.SetPositionStops(ctx, pos.ID, stopLoss, takeProfit); err != nil {
		return nil, err
	}
	pos.StopLoss, pos.TakeProfit = stopLoss, takeProfit

	res := &Result{Success: true, Message: "stops updated", PositionID: pos.ID, Cancelled: cancelled}
	if s.reconciler != nil {
		rep, err := s.reconciler.ReconcilePosition(ctx, pos, reconciliation.Requested{StopLoss: stopLoss, TakeProfit: takeProfit})
		if err != nil {
			log.Printf("⚠️ stops: reconcile %s: %v", pos.ID, err)
		} else {
			res.Drift = rep.Diffs
		}
	}
	res.StopLoss, res.TakeProfit = pos.StopLoss, pos.TakeProfit

	order.EmitPositionUpdate(s.bus, events.EventStopsUpdated, pos)
	log.Printf("✅ stops: %s %s sl=%v tp=%v (replaced %d)", pos.Symbol, pos.Side, res.StopLoss, res.TakeProfit, cancelled)
	return res, nil
}
