package order

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/google/uuid"

	"signal-core/internal/events"
	"signal-core/internal/symbols"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
)

// Submit validates a signal, stores it and places each entry independently.
// Market entries go to the exchange now; limit entries become PENDING orders
// with a watchlist row. A failing entry never aborts its siblings.
func (e *Executor) Submit(ctx context.Context, req SignalRequest) (*FanOutResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	// Once orders start going out the work must finish even if the caller leaves.
	ctx = context.WithoutCancel(ctx)

	entryPrices := make([]float64, len(req.EnabledEntries))
	for i, en := range req.EnabledEntries {
		entryPrices[i] = en.Price
	}
	sig := db.Signal{
		ID:          uuid.NewString(),
		SourceID:    req.SourceID,
		Symbol:      symbols.SwapSymbol(req.Symbol),
		Direction:   req.Direction,
		Leverage:    req.Leverage,
		EntryPrices: entryPrices,
		TakeProfits: req.TakeProfits,
		StopLoss:    req.StopLoss,
		Notes:       req.Notes,
	}
	if err := e.DB.CreateSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("store signal: %w", err)
	}
	e.Metrics.SignalAccepted()
	e.Bus.Publish(events.EventSignalCreated, sig)
	log.Printf("📡 Signal %s: %s %s %dx with %d entries", sig.ID, sig.Symbol, sig.Direction, sig.Leverage, len(req.EnabledEntries))

	result := &FanOutResult{SignalID: sig.ID, Orders: make([]EntryResult, 0, len(req.EnabledEntries))}
	for i, en := range req.EnabledEntries {
		res := e.placeEntry(ctx, &sig, tierFor(i), en)
		if res.Success {
			result.TotalMarginUsed += en.Margin
		}
		result.Orders = append(result.Orders, res)
	}

	if err := e.DB.SetSignalMargin(ctx, sig.ID, result.TotalMarginUsed); err != nil {
		log.Printf("⚠️ Signal %s: store margin used: %v", sig.ID, err)
	}
	return result, nil
}

func (e *Executor) placeEntry(ctx context.Context, sig *db.Signal, tier string, en EntryRequest) EntryResult {
	res := EntryResult{EntryType: tier, Price: en.Price}
	side := common.PositionSide(sig.Direction)

	price := en.Price
	if en.Type == EntryMarket && price <= 0 {
		p, err := e.Gateway.GetPrice(ctx, sig.Symbol)
		if err != nil {
			log.Printf("⚠️ Signal %s: no reference price for %s market entry: %v", sig.ID, sig.Symbol, err)
		} else {
			price = p
		}
	}

	qty, err := e.Sizer.Quantity(en.Margin, sig.Leverage, price, sig.Symbol)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	res.PositionSize = qty
	res.Price = price

	o := db.Order{
		ID:           uuid.NewString(),
		SignalID:     sig.ID,
		Symbol:       sig.Symbol,
		Side:         string(side.OpeningSide()),
		PositionSide: sig.Direction,
		EntryTier:    tier,
		Price:        price,
		Qty:          qty,
		Margin:       en.Margin,
		Leverage:     sig.Leverage,
		IsDemo:       e.Demo,
	}
	res.OrderID = o.ID

	if en.Type == EntryLimit {
		return e.placeLimit(ctx, sig, &o, res)
	}
	return e.placeMarket(ctx, &o, res)
}

func (e *Executor) placeMarket(ctx context.Context, o *db.Order, res EntryResult) EntryResult {
	o.Kind = db.KindMarket
	o.Status = db.OrderNew
	if err := e.DB.CreateOrder(ctx, *o); err != nil {
		res.Message = "store order: " + err.Error()
		return res
	}

	fill, err := e.Execute(ctx, o)
	if err != nil {
		if o.Status == db.OrderFilled {
			// The exchange accepted it; only local bookkeeping failed.
			res.Success = true
			res.BingXOrderID = o.ExchangeOrderID
			res.Message = err.Error()
			return res
		}
		e.failOrder(ctx, o, err)
		res.Message = err.Error()
		return res
	}

	res.Success = true
	res.Price = fill.Price
	res.BingXOrderID = fill.ExchangeOrderID
	res.Message = "market order filled"
	if fill.Merged {
		res.Message = "market order filled, merged into open position"
	}
	return res
}

func (e *Executor) placeLimit(ctx context.Context, sig *db.Signal, o *db.Order, res EntryResult) EntryResult {
	o.Kind = db.KindLimit
	o.Status = db.OrderPending
	if err := e.DB.CreateOrder(ctx, *o); err != nil {
		res.Message = "store order: " + err.Error()
		return res
	}

	w := db.WatchlistEntry{
		ID:          uuid.NewString(),
		SignalID:    sig.ID,
		Symbol:      sig.Symbol,
		EntryTier:   o.EntryTier,
		Direction:   sig.Direction,
		TargetPrice: o.Price,
		Margin:      o.Margin,
		Status:      db.WatchActive,
	}
	if ref := firstPositive(sig.EntryPrices); ref > 0 && ref != o.Price {
		w.ReferencePrice = &ref
		w.TargetPercentage = math.Round((o.Price-ref)/ref*100*10000) / 10000
	}
	if err := e.DB.CreateWatchlistEntry(ctx, w); err != nil {
		log.Printf("⚠️ Signal %s: watchlist row for %s: %v", sig.ID, o.EntryTier, err)
	}

	e.Metrics.OrderRecorded(o.EntryTier, db.OrderPending)
	EmitOrderUpdate(e.Bus, events.EventOrderPlaced, o, "")
	res.Success = true
	res.Message = fmt.Sprintf("limit order pending at %v", o.Price)
	return res
}

func (e *Executor) failOrder(ctx context.Context, o *db.Order, cause error) {
	if _, err := e.DB.TransitionOrder(ctx, o.ID, db.OrderFailed, db.OrderNew); err != nil {
		log.Printf("❌ executor: mark order %s failed: %v", o.ID, err)
	}
	if err := e.DB.SetOrderError(ctx, o.ID, cause.Error()); err != nil {
		log.Printf("❌ executor: store error for order %s: %v", o.ID, err)
	}
	o.Status = db.OrderFailed
	e.Metrics.OrderRecorded(o.EntryTier, db.OrderFailed)
	EmitOrderUpdate(e.Bus, events.EventOrderFailed, o, cause.Error())
}
