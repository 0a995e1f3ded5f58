package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func seedSignal(t *testing.T, d *Database, id string) {
	t.Helper()
	err := d.CreateSignal(context.Background(), Signal{
		ID:          id,
		SourceID:    "src-1",
		Symbol:      "BTC-USDT",
		Direction:   SideLong,
		Leverage:    10,
		EntryPrices: []float64{50000, 49000},
		TakeProfits: []float64{52000},
		StopLoss:    48000,
	})
	if err != nil {
		t.Fatalf("create signal: %v", err)
	}
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	d := newTestDB(t)
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSignalRoundTrip(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedSignal(t, d, "sig-1")

	s, err := d.GetSignal(ctx, "sig-1")
	if err != nil {
		t.Fatalf("get signal: %v", err)
	}
	if s.Status != SignalActive || len(s.EntryPrices) != 2 || s.EntryPrices[1] != 49000 {
		t.Fatalf("unexpected signal: %+v", s)
	}
	if _, err := d.GetSignal(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionOrderSingleWinner(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedSignal(t, d, "sig-1")
	if err := d.CreateOrder(ctx, Order{
		ID: "ord-1", SignalID: "sig-1", Symbol: "BTC-USDT", Side: "BUY", PositionSide: SideLong,
		Kind: KindLimit, EntryTier: TierEntry2, Price: 49000, Qty: 0.002, Margin: 10, Leverage: 10,
		Status: OrderPending,
	}); err != nil {
		t.Fatalf("create order: %v", err)
	}

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := d.TransitionOrder(ctx, "ord-1", OrderNew, OrderPending)
			if err != nil {
				t.Errorf("transition: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	ok, err := d.FillOrder(ctx, "ord-1", "ex-99", OrderNew)
	if err != nil || !ok {
		t.Fatalf("fill: ok=%v err=%v", ok, err)
	}
	o, err := d.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != OrderFilled || o.ExchangeOrderID != "ex-99" || !o.IsTerminal() {
		t.Fatalf("unexpected order: %+v", o)
	}
}

func TestOneOpenPositionPerSignalSymbolSide(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedSignal(t, d, "sig-1")

	p := Position{ID: "pos-1", SignalID: "sig-1", Symbol: "BTC-USDT", Side: SideLong, Size: 0.002, EntryPrice: 50000, Leverage: 10}
	if err := d.CreatePosition(ctx, p); err != nil {
		t.Fatalf("create position: %v", err)
	}
	p.ID = "pos-2"
	if err := d.CreatePosition(ctx, p); !errors.Is(err, ErrOpenPositionExists) {
		t.Fatalf("expected ErrOpenPositionExists, got %v", err)
	}

	closed, err := d.ClosePosition(ctx, "pos-1", 51000, 2, "manual")
	if err != nil || !closed {
		t.Fatalf("close: closed=%v err=%v", closed, err)
	}
	again, err := d.ClosePosition(ctx, "pos-1", 51000, 2, "manual")
	if err != nil || again {
		t.Fatalf("second close should be a no-op: closed=%v err=%v", again, err)
	}
	if err := d.CreatePosition(ctx, p); err != nil {
		t.Fatalf("new open position after close: %v", err)
	}
}

func TestMergeFillWeightsEntry(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedSignal(t, d, "sig-1")
	if err := d.CreatePosition(ctx, Position{ID: "pos-1", SignalID: "sig-1", Symbol: "BTC-USDT", Side: SideLong, Size: 1, EntryPrice: 100, MarginUsed: 10}); err != nil {
		t.Fatalf("create position: %v", err)
	}
	if err := d.MergeFill(ctx, "pos-1", 1, 200, 20); err != nil {
		t.Fatalf("merge: %v", err)
	}
	p, err := d.GetPosition(ctx, "pos-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Size != 2 || p.EntryPrice != 150 || p.MarginUsed != 30 {
		t.Fatalf("unexpected merged position: %+v", p)
	}
}

func TestCloseSignalIfFlatAndStats(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedSignal(t, d, "sig-1")
	if err := d.CreatePosition(ctx, Position{ID: "pos-1", SignalID: "sig-1", Symbol: "BTC-USDT", Side: SideLong, Size: 1, EntryPrice: 100}); err != nil {
		t.Fatalf("create position: %v", err)
	}

	closed, err := d.CloseSignalIfFlat(ctx, "sig-1")
	if err != nil || closed {
		t.Fatalf("signal with open position must stay active: closed=%v err=%v", closed, err)
	}
	if _, err := d.ClosePosition(ctx, "pos-1", 110, 10, "manual"); err != nil {
		t.Fatalf("close position: %v", err)
	}
	if err := d.ApplySignalPnL(ctx, "sig-1", 10); err != nil {
		t.Fatalf("apply pnl: %v", err)
	}
	closed, err = d.CloseSignalIfFlat(ctx, "sig-1")
	if err != nil || !closed {
		t.Fatalf("expected signal closed: closed=%v err=%v", closed, err)
	}
	if err := d.RefreshSourceStats(ctx, "src-1"); err != nil {
		t.Fatalf("refresh stats: %v", err)
	}
	st, err := d.GetSourceStats(ctx, "src-1")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if st.TotalSignals != 1 || st.Wins != 1 || st.TotalPnL != 10 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestCancelOpenOrdersAndWatchlist(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedSignal(t, d, "sig-1")
	seedSignal(t, d, "sig-2")

	for _, o := range []Order{
		{ID: "a", SignalID: "sig-1", Symbol: "BTC-USDT", Kind: KindLimit, EntryTier: TierEntry2, Status: OrderPending},
		{ID: "b", SignalID: "sig-2", Symbol: "BTC-USDT", Kind: KindLimit, EntryTier: TierEntry2, Status: OrderPending},
		{ID: "c", SignalID: "sig-1", Symbol: "BTC-USDT", Kind: KindMarket, EntryTier: TierMarket, Status: OrderFilled},
	} {
		o.Side, o.PositionSide, o.Qty = "BUY", SideLong, 1
		if err := d.CreateOrder(ctx, o); err != nil {
			t.Fatalf("create order %s: %v", o.ID, err)
		}
	}
	if err := d.CreateWatchlistEntry(ctx, WatchlistEntry{ID: "w1", SignalID: "sig-1", Symbol: "BTC-USDT", EntryTier: TierEntry2, Direction: SideLong, TargetPrice: 49000}); err != nil {
		t.Fatalf("create watch: %v", err)
	}

	cancelled, err := d.CancelOpenOrders(ctx, "BTC-USDT", "sig-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].ID != "a" {
		t.Fatalf("expected only order a cancelled, got %+v", cancelled)
	}
	n, err := d.CancelWatchlist(ctx, "BTC-USDT", "", "sig-1")
	if err != nil || n != 1 {
		t.Fatalf("cancel watchlist: n=%d err=%v", n, err)
	}
	active, err := d.ListActiveWatchlist(ctx)
	if err != nil || len(active) != 0 {
		t.Fatalf("expected no active rows: %v %v", active, err)
	}
}

func TestMarkWatchlistTriggeredOnce(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	ref := 50000.0
	if err := d.CreateWatchlistEntry(ctx, WatchlistEntry{ID: "w1", Symbol: "ETH-USDT", Direction: SideShort, TargetPrice: 3000, ReferencePrice: &ref}); err != nil {
		t.Fatalf("create watch: %v", err)
	}
	first, err := d.MarkWatchlistTriggered(ctx, "w1")
	if err != nil || !first {
		t.Fatalf("first trigger: %v %v", first, err)
	}
	second, err := d.MarkWatchlistTriggered(ctx, "w1")
	if err != nil || second {
		t.Fatalf("second trigger should not win: %v %v", second, err)
	}
	rows, err := d.ListWatchlistBySignal(ctx, "")
	if err != nil || len(rows) != 1 || rows[0].ReferencePrice == nil || *rows[0].ReferencePrice != ref {
		t.Fatalf("unexpected rows: %+v %v", rows, err)
	}
}

func TestOrderAlertStampRearm(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedSignal(t, d, "sig-1")
	if err := d.CreateOrder(ctx, Order{
		ID: "ord-1", SignalID: "sig-1", Symbol: "BTC-USDT", Side: "BUY", PositionSide: SideLong,
		Kind: KindLimit, EntryTier: TierEntry2, Price: 49000, Qty: 0.002, Margin: 10, Leverage: 10,
		Status: OrderPending,
	}); err != nil {
		t.Fatalf("create order: %v", err)
	}

	rearmBefore := time.Now().Add(-time.Hour)
	if ok, err := d.MarkOrderAlerted(ctx, "ord-1", rearmBefore); err != nil || !ok {
		t.Fatalf("first stamp: %v %v", ok, err)
	}
	if ok, _ := d.MarkOrderAlerted(ctx, "ord-1", rearmBefore); ok {
		t.Fatalf("fresh stamp must not be taken twice")
	}

	if err := d.ClearOrderAlert(ctx, "ord-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	o, _ := d.GetOrder(ctx, "ord-1")
	if o.AlertedAt != nil {
		t.Fatalf("alert stamp not cleared: %v", o.AlertedAt)
	}
	if ok, _ := d.MarkOrderAlerted(ctx, "ord-1", rearmBefore); !ok {
		t.Fatalf("cleared order should be stampable again")
	}

	if _, err := d.DB.ExecContext(ctx, `UPDATE orders SET alerted_at = ? WHERE id = ?`,
		time.Now().Add(-2*time.Hour).UTC(), "ord-1"); err != nil {
		t.Fatalf("age stamp: %v", err)
	}
	if ok, _ := d.MarkOrderAlerted(ctx, "ord-1", time.Time{}); ok {
		t.Fatalf("zero cutoff never re-stamps")
	}
	if ok, _ := d.MarkOrderAlerted(ctx, "ord-1", rearmBefore); !ok {
		t.Fatalf("stamp older than the cutoff should re-stamp")
	}

	if _, err := d.TransitionOrder(ctx, "ord-1", OrderNew, OrderPending); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if ok, _ := d.MarkOrderAlerted(ctx, "ord-1", time.Now()); ok {
		t.Fatalf("non-pending order must not be stamped")
	}
}

func TestGetSignalCorruptPrices(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedSignal(t, d, "sig-1")
	if _, err := d.DB.ExecContext(ctx, `UPDATE signals SET entry_prices = 'not-json' WHERE id = ?`, "sig-1"); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}
	if _, err := d.GetSignal(ctx, "sig-1"); err == nil {
		t.Fatal("expected a decode error for corrupt entry prices")
	}
}

func TestRearmWatchlist(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	_ = d.CreateWatchlistEntry(ctx, WatchlistEntry{ID: "w1", Symbol: "ETH-USDT", Direction: SideLong, TargetPrice: 3000})
	if first, _ := d.MarkWatchlistTriggered(ctx, "w1"); !first {
		t.Fatalf("expected trigger")
	}
	if err := d.RearmWatchlist(ctx, "w1"); err != nil {
		t.Fatalf("rearm: %v", err)
	}
	if first, _ := d.MarkWatchlistTriggered(ctx, "w1"); !first {
		t.Fatalf("re-armed entry should trigger again")
	}
}

func TestSetPositionStopsOnlyWhileOpen(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedSignal(t, d, "sig-1")
	_ = d.CreatePosition(ctx, Position{ID: "pos-1", SignalID: "sig-1", Symbol: "BTC-USDT", Side: SideLong, Size: 1, EntryPrice: 100})

	if err := d.SetPositionStops(ctx, "pos-1", 90, 120); err != nil {
		t.Fatalf("set stops: %v", err)
	}
	p, _ := d.GetPosition(ctx, "pos-1")
	if p.StopLoss != 90 || p.TakeProfit != 120 {
		t.Fatalf("unexpected stops %+v", p)
	}

	if _, err := d.ClosePosition(ctx, "pos-1", 110, 10, "manual"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.SetPositionStops(ctx, "pos-1", 95, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("closed position should not accept stops, got %v", err)
	}
}

func TestListSignalPositions(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedSignal(t, d, "sig-1")
	seedSignal(t, d, "sig-2")
	_ = d.CreatePosition(ctx, Position{ID: "pos-1", SignalID: "sig-1", Symbol: "BTC-USDT", Side: SideLong, Size: 1, EntryPrice: 100})
	_ = d.CreatePosition(ctx, Position{ID: "pos-2", SignalID: "sig-1", Symbol: "ETH-USDT", Side: SideLong, Size: 1, EntryPrice: 10})
	_ = d.CreatePosition(ctx, Position{ID: "pos-3", SignalID: "sig-2", Symbol: "BTC-USDT", Side: SideLong, Size: 1, EntryPrice: 100})

	got, err := d.ListSignalPositions(ctx, "sig-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 positions for sig-1, got %+v", got)
	}
	for _, p := range got {
		if p.SignalID != "sig-1" {
			t.Fatalf("foreign position %+v", p)
		}
	}
}
