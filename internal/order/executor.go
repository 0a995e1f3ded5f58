package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"signal-core/internal/apperr"
	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/internal/reconciliation"
	"signal-core/internal/risk"
	"signal-core/internal/sizing"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
)

// Reconciler re-reads exchange state after a mutating action.
type Reconciler interface {
	ReconcilePosition(ctx context.Context, pos *db.Position, req reconciliation.Requested) (*reconciliation.Report, error)
}

// Executor persists orders, sends them to the exchange gateway, records the
// resulting positions and emits updates.
type Executor struct {
	DB      *db.Database
	Bus     *events.Bus
	Gateway common.Gateway
	Sizer   *sizing.Calculator
	Demo    bool

	Reconciler    Reconciler
	Metrics       *monitor.Metrics
	LeverageDelay time.Duration
}

func NewExecutor(database *db.Database, bus *events.Bus, gw common.Gateway, sizer *sizing.Calculator, demo bool) *Executor {
	return &Executor{
		DB:      database,
		Bus:     bus,
		Gateway: gw,
		Sizer:   sizer,
		Demo:    demo,
	}
}

// SetReconciler configures the post-fill reconciliation step.
func (e *Executor) SetReconciler(r Reconciler) {
	e.Reconciler = r
}

// SetMetrics attaches prometheus collectors.
func (e *Executor) SetMetrics(m *monitor.Metrics) {
	e.Metrics = m
}

// SetLeverageDelay sets the pause between the leverage call and the order.
func (e *Executor) SetLeverageDelay(d time.Duration) {
	e.LeverageDelay = d
}

// Fill describes a completed market entry.
type Fill struct {
	Position        *db.Position
	ExchangeOrderID string
	Price           float64
	Merged          bool
}

// Execute sets leverage, places a market order for o.Qty and records the
// position. o must be NEW; on success it is moved to FILLED. An exchange
// failure is returned as an apperr exchange error and leaves o untouched so
// the caller decides between FAILED and a retryable state.
func (e *Executor) Execute(ctx context.Context, o *db.Order) (*Fill, error) {
	side := common.PositionSide(o.PositionSide)

	t := e.Metrics.ExchangeTimer("set_leverage")
	err := e.Gateway.SetLeverage(ctx, o.Symbol, side, o.Leverage)
	t.Stop()
	if err != nil {
		log.Printf("⚠️ executor: set leverage %dx on %s %s failed: %v", o.Leverage, o.Symbol, side, err)
	}
	if e.LeverageDelay > 0 {
		select {
		case <-time.After(e.LeverageDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t = e.Metrics.ExchangeTimer("submit_order")
	res, err := e.Gateway.SubmitOrder(ctx, common.OrderRequest{
		Symbol:       o.Symbol,
		Side:         side.OpeningSide(),
		PositionSide: side,
		Type:         common.OrderTypeMarket,
		Qty:          o.Qty,
		ClientID:     o.ID,
	})
	t.Stop()
	if err != nil {
		log.Printf("❌ executor: market %s %s qty=%v failed: %v", o.Symbol, side, o.Qty, err)
		return nil, apperr.Exchange(err, "place market order for %s", o.Symbol)
	}

	price := o.Price
	if price <= 0 {
		price = res.AvgPrice
	}
	if price <= 0 {
		if p, err := e.Gateway.GetPrice(ctx, o.Symbol); err == nil {
			price = p
		}
	}

	stopLoss, takeProfit := e.signalStops(ctx, o.SignalID)
	pos, merged, err := e.recordPosition(ctx, o, price, stopLoss, takeProfit)
	if err != nil {
		log.Printf("❌ executor: order %s filled on exchange (%s) but position not recorded: %v", o.ID, res.ExchangeOrderID, err)
		if serr := e.DB.SetOrderError(ctx, o.ID, "position not recorded: "+err.Error()); serr != nil {
			log.Printf("❌ executor: record error on order %s: %v", o.ID, serr)
		}
	}

	ok, ferr := e.DB.FillOrder(ctx, o.ID, res.ExchangeOrderID, db.OrderNew)
	if ferr != nil {
		log.Printf("❌ executor: mark order %s filled: %v", o.ID, ferr)
	} else if !ok {
		log.Printf("⚠️ executor: order %s was no longer NEW when marking filled", o.ID)
	}
	o.Status = db.OrderFilled
	o.ExchangeOrderID = res.ExchangeOrderID
	e.Metrics.OrderRecorded(o.EntryTier, db.OrderFilled)
	EmitOrderUpdate(e.Bus, events.EventOrderPlaced, o, "")

	if err != nil {
		return nil, fmt.Errorf("record position for order %s: %w", o.ID, err)
	}

	if stopLoss > 0 || takeProfit > 0 {
		if err := risk.ValidateStops(pos.Side, pos.EntryPrice, stopLoss, takeProfit); err != nil {
			log.Printf("⚠️ executor: %s stops on the wrong side of entry: %v", pos.ID, err)
		}
		if merged {
			if _, err := CancelProtective(ctx, e.Gateway, pos.ID, o.Symbol, side); err != nil {
				log.Printf("⚠️ executor: cancel previous protective orders for %s: %v", pos.ID, err)
			}
		}
		if err := PlaceProtective(ctx, e.Gateway, pos.ID, o.Symbol, side, pos.Size, stopLoss, takeProfit); err != nil {
			log.Printf("⚠️ executor: protective orders for %s: %v", pos.ID, err)
		}
	}

	if e.Reconciler != nil {
		req := reconciliation.Requested{EntryPrice: pos.EntryPrice, Size: pos.Size, StopLoss: stopLoss, TakeProfit: takeProfit}
		if _, err := e.Reconciler.ReconcilePosition(ctx, pos, req); err != nil {
			log.Printf("⚠️ executor: reconcile %s after fill: %v", pos.ID, err)
		}
	}

	EmitPositionUpdate(e.Bus, events.EventPositionOpened, pos)
	log.Printf("✅ executor: %s %s qty=%v @ %v filled (exch_id=%s, position=%s)", o.Symbol, side, o.Qty, price, res.ExchangeOrderID, pos.ID)

	return &Fill{Position: pos, ExchangeOrderID: res.ExchangeOrderID, Price: price, Merged: merged}, nil
}

// recordPosition creates the OPEN position, or merges the fill into the one
// already open for (signal, symbol, side).
func (e *Executor) recordPosition(ctx context.Context, o *db.Order, price, stopLoss, takeProfit float64) (*db.Position, bool, error) {
	pos := db.Position{
		ID:         uuid.NewString(),
		SignalID:   o.SignalID,
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       o.PositionSide,
		Size:       o.Qty,
		EntryPrice: price,
		Leverage:   o.Leverage,
		MarginUsed: o.Margin,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		IsDemo:     o.IsDemo,
	}
	err := e.DB.CreatePosition(ctx, pos)
	if err == nil {
		return &pos, false, nil
	}
	if !errors.Is(err, db.ErrOpenPositionExists) {
		return nil, false, err
	}

	existing, err := e.DB.GetOpenPosition(ctx, o.SignalID, o.Symbol, o.PositionSide)
	if err != nil {
		return nil, false, err
	}
	if err := e.DB.MergeFill(ctx, existing.ID, o.Qty, price, o.Margin); err != nil {
		return nil, false, err
	}
	merged, err := e.DB.GetPosition(ctx, existing.ID)
	if err != nil {
		return nil, false, err
	}
	log.Printf("executor: merged %v %s into open position %s (size=%v entry=%v)", o.Qty, o.Symbol, merged.ID, merged.Size, merged.EntryPrice)
	return merged, true, nil
}

// signalStops returns the signal's stop-loss and first take-profit.
func (e *Executor) signalStops(ctx context.Context, signalID string) (float64, float64) {
	sig, err := e.DB.GetSignal(ctx, signalID)
	if err != nil {
		log.Printf("⚠️ executor: load signal %s: %v", signalID, err)
		return 0, 0
	}
	return sig.StopLoss, firstPositive(sig.TakeProfits)
}
