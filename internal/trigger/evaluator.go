// Package trigger evaluates pending limit entries and watchlist targets
// against live prices and raises one-tap approval alerts.
package trigger

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/internal/notify"
	"signal-core/internal/token"
	"signal-core/pkg/cache"
	"signal-core/pkg/db"
)

// Alert states.
const (
	AlertNormal  = "normal"
	AlertClose   = "close"
	AlertReached = "reached"
)

// Price states.
const (
	PriceOK          = "ok"
	PriceUnavailable = "unavailable"
)

// Item kinds.
const (
	KindOrder     = "order"
	KindWatchlist = "watchlist"
)

// closeBandPct is the distance (in percent) within which a target counts as close.
const closeBandPct = 0.1

// PriceSource returns the last traded price for a symbol.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Notifier delivers a reached-target alert.
type Notifier interface {
	TargetReached(ctx context.Context, a notify.TargetAlert) error
}

// Item is one evaluated target.
type Item struct {
	Kind         string  `json:"kind"`
	ID           string  `json:"id"`
	SignalID     string  `json:"signal_id,omitempty"`
	Symbol       string  `json:"symbol"`
	Direction    string  `json:"direction"`
	EntryTier    string  `json:"entry_tier"`
	TargetPrice  float64 `json:"target_price"`
	CurrentPrice float64 `json:"current_price"`
	DistancePct  float64 `json:"distance_pct"`
	PriceStatus  string  `json:"price_status"`
	Alert        string  `json:"alert"`
	Notified     bool    `json:"notified"`
	margin       float64
	linked       bool
	alerted      bool
}

// TickReport summarises one evaluation pass.
type TickReport struct {
	Checked     int    `json:"checked"`
	Reached     int    `json:"reached"`
	Close       int    `json:"close"`
	Unavailable int    `json:"unavailable"`
	Items       []Item `json:"items"`
}

// Config tunes the evaluator.
type Config struct {
	Concurrency int
	Cache       *cache.PriceCache
}

// Evaluator is stateless between ticks apart from the price cache.
type Evaluator struct {
	db       *db.Database
	prices   PriceSource
	tokens   *token.Service
	notifier Notifier
	cache    *cache.PriceCache
	limit    int

	bus     *events.Bus
	metrics *monitor.Metrics
}

func NewEvaluator(database *db.Database, prices PriceSource, tokens *token.Service, notifier Notifier, cfg Config) *Evaluator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewPriceCache(0)
	}
	return &Evaluator{
		db:       database,
		prices:   prices,
		tokens:   tokens,
		notifier: notifier,
		cache:    cfg.Cache,
		limit:    cfg.Concurrency,
	}
}

// SetBus publishes reached targets on bus.
func (e *Evaluator) SetBus(bus *events.Bus) { e.bus = bus }

// SetMetrics attaches prometheus collectors.
func (e *Evaluator) SetMetrics(m *monitor.Metrics) { e.metrics = m }

// Classify returns the alert state and signed distance to target in percent.
// A non-positive current price is reported as unavailable by the caller.
func Classify(direction string, target, current float64) (string, float64) {
	distance := (target - current) / current * 100
	if direction == db.SideShort {
		switch {
		case current >= target:
			return AlertReached, distance
		case distance >= 0 && distance <= closeBandPct:
			return AlertClose, distance
		}
		return AlertNormal, distance
	}
	switch {
	case current <= target:
		return AlertReached, distance
	case distance >= -closeBandPct && distance <= 0:
		return AlertClose, distance
	}
	return AlertNormal, distance
}

// Tick loads every PENDING limit order and active watchlist row, prices them
// and notifies on the first transition into reached.
func (e *Evaluator) Tick(ctx context.Context) (*TickReport, error) {
	timer := e.metrics.TickTimer()
	defer timer.Stop()

	pending, err := e.db.ListOrdersByStatus(ctx, db.OrderPending)
	if err != nil {
		return nil, err
	}
	pending = lo.Filter(pending, func(o db.Order, _ int) bool { return o.Kind == db.KindLimit })
	watch, err := e.db.ListActiveWatchlist(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(pending)+len(watch))
	byTier := make(map[string]*db.Order, len(pending))
	for i := range pending {
		o := &pending[i]
		byTier[o.SignalID+"|"+o.EntryTier] = o
		items = append(items, Item{
			Kind: KindOrder, ID: o.ID, SignalID: o.SignalID, Symbol: o.Symbol,
			Direction: o.PositionSide, EntryTier: o.EntryTier, TargetPrice: o.Price,
			margin: o.Margin, alerted: o.AlertedAt != nil,
		})
	}
	for _, w := range watch {
		_, linked := byTier[w.SignalID+"|"+w.EntryTier]
		items = append(items, Item{
			Kind: KindWatchlist, ID: w.ID, SignalID: w.SignalID, Symbol: w.Symbol,
			Direction: w.Direction, EntryTier: w.EntryTier, TargetPrice: w.TargetPrice,
			margin: w.Margin, linked: linked && w.SignalID != "",
		})
	}

	symbols := lo.Uniq(lo.Map(items, func(it Item, _ int) string { return it.Symbol }))
	prices := e.fetchPrices(ctx, symbols)

	report := &TickReport{Checked: len(items)}
	for i := range items {
		it := &items[i]
		current, ok := prices[it.Symbol]
		if !ok || current <= 0 {
			it.PriceStatus = PriceUnavailable
			it.Alert = AlertNormal
			report.Unavailable++
			continue
		}
		it.PriceStatus = PriceOK
		it.CurrentPrice = current
		it.Alert, it.DistancePct = Classify(it.Direction, it.TargetPrice, current)
		it.DistancePct = math.Round(it.DistancePct*10000) / 10000

		switch it.Alert {
		case AlertClose:
			report.Close++
			e.rearm(ctx, it)
		case AlertReached:
			report.Reached++
			it.Notified = e.onReached(ctx, it)
		default:
			e.rearm(ctx, it)
		}
	}
	report.Items = items
	return report, nil
}

func (e *Evaluator) fetchPrices(ctx context.Context, symbols []string) map[string]float64 {
	var (
		mu  sync.Mutex
		out = make(map[string]float64, len(symbols))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)
	for _, sym := range symbols {
		g.Go(func() error {
			p, err := e.cache.GetOrFetch(gctx, sym, e.prices.GetPrice)
			if err != nil {
				log.Printf("⚠️ trigger: price for %s unavailable: %v", sym, err)
				return nil
			}
			mu.Lock()
			out[sym] = p
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// rearm clears the alert stamp of an order that left the reached band, so a
// fresh transition issues new tokens.
func (e *Evaluator) rearm(ctx context.Context, it *Item) {
	if it.Kind != KindOrder || !it.alerted {
		return
	}
	if err := e.db.ClearOrderAlert(ctx, it.ID); err != nil {
		log.Printf("❌ trigger: %v", err)
	}
}

// undo reverts the stamp taken in onReached after the alert could not go out.
func (e *Evaluator) undo(ctx context.Context, it *Item) {
	var err error
	switch {
	case it.Kind == KindOrder:
		err = e.db.ClearOrderAlert(ctx, it.ID)
	case !it.linked:
		err = e.db.RearmWatchlist(ctx, it.ID)
	}
	if err != nil {
		log.Printf("❌ trigger: %v", err)
	}
}

// onReached stamps the row and notifies on a transition into reached. An order
// stamped longer ago than the token lifetime counts as a new transition, since
// its tokens have expired. It reports whether a notification was sent.
func (e *Evaluator) onReached(ctx context.Context, it *Item) bool {
	alert := notify.TargetAlert{
		SignalID:     it.SignalID,
		Symbol:       it.Symbol,
		Direction:    it.Direction,
		EntryTier:    it.EntryTier,
		TargetPrice:  it.TargetPrice,
		CurrentPrice: it.CurrentPrice,
		Margin:       it.margin,
	}

	switch it.Kind {
	case KindOrder:
		first, err := e.db.MarkOrderAlerted(ctx, it.ID, time.Now().Add(-e.tokens.TTL()))
		if err != nil {
			log.Printf("❌ trigger: stamp order %s: %v", it.ID, err)
			return false
		}
		if !first {
			return false
		}
		alert.OrderID = it.ID
		if alert.OpenToken, err = e.tokens.IssueDefault(it.ID, token.ActionOpenPosition); err != nil {
			log.Printf("❌ trigger: issue open token for %s: %v", it.ID, err)
			e.undo(ctx, it)
			return false
		}
		if alert.CancelToken, err = e.tokens.IssueDefault(it.ID, token.ActionCancelOrder); err != nil {
			log.Printf("❌ trigger: issue cancel token for %s: %v", it.ID, err)
			e.undo(ctx, it)
			return false
		}
	case KindWatchlist:
		first, err := e.db.MarkWatchlistTriggered(ctx, it.ID)
		if err != nil {
			log.Printf("❌ trigger: mark watchlist %s: %v", it.ID, err)
			return false
		}
		// Rows mirroring a pending order are announced through the order.
		if !first || it.linked {
			return false
		}
	}

	log.Printf("🎯 trigger: %s %s %s reached target %v (current %v)", it.Kind, it.Symbol, it.Direction, it.TargetPrice, it.CurrentPrice)
	e.metrics.TargetReached()

	published := alert
	published.OpenToken, published.CancelToken = "", ""
	e.bus.Publish(events.EventTargetReached, published)

	if e.notifier == nil {
		return false
	}
	if err := e.notifier.TargetReached(ctx, alert); err != nil {
		log.Printf("⚠️ trigger: notify %s: %v (will retry on the next tick)", it.ID, err)
		e.undo(ctx, it)
		return false
	}
	return true
}
