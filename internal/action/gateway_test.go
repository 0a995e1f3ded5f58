package action

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signal-core/internal/apperr"
	"signal-core/internal/order"
	"signal-core/internal/reconciliation"
	"signal-core/internal/risk"
	"signal-core/internal/sizing"
	"signal-core/internal/symbols"
	"signal-core/internal/token"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/exchanges/paper"
)

type fixture struct {
	db     *db.Database
	gw     *paper.Gateway
	tokens *token.Service
	action *Gateway
}

func newFixture(t *testing.T, maxOpen int) *fixture {
	t.Helper()
	d, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	gw := paper.NewGateway(10_000, paper.SimConfig{})
	gw.SetPrice("BTC-USDT", 49000)
	exec := order.NewExecutor(d, nil, gw, sizing.NewCalculator(symbols.Default()), true)
	exec.SetReconciler(reconciliation.NewService(gw, d, nil, nil))

	tokens, _ := token.NewService("secret", time.Hour)
	g := NewGateway(d, tokens, exec, risk.NewManager(d, risk.Config{MaxOpenPositions: maxOpen}))

	ctx := context.Background()
	_ = d.CreateSignal(ctx, db.Signal{ID: "sig-1", Symbol: "BTC-USDT", Direction: db.SideLong, Leverage: 10})
	if err := d.CreateOrder(ctx, db.Order{
		ID: "ord-1", SignalID: "sig-1", Symbol: "BTC-USDT", Side: "BUY", PositionSide: db.SideLong,
		Kind: db.KindLimit, EntryTier: db.TierEntry2, Price: 49000, Qty: 0.002, Margin: 10, Leverage: 10,
		Status: db.OrderPending, IsDemo: true,
	}); err != nil {
		t.Fatalf("create order: %v", err)
	}
	_ = d.CreateWatchlistEntry(ctx, db.WatchlistEntry{ID: "w-1", SignalID: "sig-1", Symbol: "BTC-USDT",
		EntryTier: db.TierEntry2, Direction: db.SideLong, TargetPrice: 49000, Margin: 10})
	return &fixture{db: d, gw: gw, tokens: tokens, action: g}
}

func (f *fixture) issue(t *testing.T, action string) string {
	t.Helper()
	tok, err := f.tokens.IssueDefault("ord-1", action)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func (f *fixture) marketSubmits() int {
	n := 0
	for _, r := range f.gw.Submitted() {
		if r.Type == common.OrderTypeMarket {
			n++
		}
	}
	return n
}

func countPositions(t *testing.T, d *db.Database) int {
	t.Helper()
	var n int
	if err := d.DB.QueryRow(`SELECT COUNT(*) FROM positions`).Scan(&n); err != nil {
		t.Fatalf("count positions: %v", err)
	}
	return n
}

func TestOpenPositionTwice(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	tok := f.issue(t, token.ActionOpenPosition)

	first, err := f.action.Redeem(ctx, tok)
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if !first.Success || first.AlreadyOpened || first.PositionID == "" || first.ExchangeOrderID == "" {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := f.action.Redeem(ctx, tok)
	if err != nil {
		t.Fatalf("second redeem: %v", err)
	}
	if !second.Success || !second.AlreadyOpened {
		t.Fatalf("expected already_opened, got %+v", second)
	}
	if n := countPositions(t, f.db); n != 1 {
		t.Fatalf("expected 1 position, got %d", n)
	}
	o, _ := f.db.GetOrder(ctx, "ord-1")
	if o.Status != db.OrderFilled || o.ExchangeOrderID != first.ExchangeOrderID {
		t.Fatalf("unexpected order %+v", o)
	}
}

func TestConcurrentOpenRedemptions(t *testing.T) {
	f := newFixture(t, 0)
	tok := f.issue(t, token.ActionOpenPosition)

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		opened  int
		handled int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.action.OpenPosition(context.Background(), tok)
			if err != nil {
				t.Errorf("redeem: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.AlreadyHandled || res.AlreadyOpened {
				handled++
			} else {
				opened++
			}
		}()
	}
	wg.Wait()

	if opened != 1 || handled != racers-1 {
		t.Fatalf("opened=%d handled=%d", opened, handled)
	}
	if n := countPositions(t, f.db); n != 1 {
		t.Fatalf("expected exactly one position, got %d", n)
	}
	if n := f.marketSubmits(); n != 1 {
		t.Fatalf("expected one market order on the exchange, got %d", n)
	}
}

func TestOpenExchangeFailureIsRetryable(t *testing.T) {
	f := newFixture(t, 0)
	f.action.SetLedger(token.NewMemoryLedger())
	ctx := context.Background()
	tok := f.issue(t, token.ActionOpenPosition)

	f.gw.FailNext("submit", errors.New("timeout"))
	if _, err := f.action.Redeem(ctx, tok); !errors.Is(err, apperr.ErrExchange) {
		t.Fatalf("expected exchange error, got %v", err)
	}
	o, _ := f.db.GetOrder(ctx, "ord-1")
	if o.Status != db.OrderPending || o.Error == "" {
		t.Fatalf("order should be back to PENDING with error, got %+v", o)
	}

	res, err := f.action.Redeem(ctx, tok)
	if err != nil || !res.Success || res.AlreadyHandled {
		t.Fatalf("retry should open: %+v %v", res, err)
	}
	o, _ = f.db.GetOrder(ctx, "ord-1")
	if o.Status != db.OrderFilled || o.Error != "" {
		t.Fatalf("expected FILLED with error cleared, got %+v", o)
	}
}

func TestOpenRespectsPositionCap(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	_ = f.db.CreateSignal(ctx, db.Signal{ID: "sig-2", Symbol: "ETH-USDT", Direction: db.SideLong, Leverage: 5})
	_ = f.db.CreatePosition(ctx, db.Position{ID: "pos-x", SignalID: "sig-2", Symbol: "ETH-USDT", Side: db.SideLong, Size: 1, EntryPrice: 3000, IsDemo: true})

	_, err := f.action.Redeem(ctx, f.issue(t, token.ActionOpenPosition))
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	o, _ := f.db.GetOrder(ctx, "ord-1")
	if o.Status != db.OrderPending || f.marketSubmits() != 0 {
		t.Fatalf("cap rejection must not mutate: %+v", o)
	}
}

func TestOpenWhenSignalAlreadyHasPosition(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	_ = f.db.CreatePosition(ctx, db.Position{ID: "pos-1", SignalID: "sig-1", Symbol: "BTC-USDT", Side: db.SideLong, Size: 0.002, EntryPrice: 50000})

	res, err := f.action.Redeem(ctx, f.issue(t, token.ActionOpenPosition))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !res.AlreadyOpened {
		t.Fatalf("expected already_opened, got %+v", res)
	}
	o, _ := f.db.GetOrder(ctx, "ord-1")
	if o.Status != db.OrderFilled || f.marketSubmits() != 0 {
		t.Fatalf("expected FILLED without exchange call, got %+v", o)
	}
}

func TestCancelOrderTwice(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	tok := f.issue(t, token.ActionCancelOrder)

	first, err := f.action.CancelOrder(ctx, tok)
	if err != nil || !first.Success || first.AlreadyHandled {
		t.Fatalf("first cancel: %+v %v", first, err)
	}
	second, err := f.action.CancelOrder(ctx, tok)
	if err != nil || !second.Success || !second.AlreadyHandled {
		t.Fatalf("second cancel: %+v %v", second, err)
	}

	o, _ := f.db.GetOrder(ctx, "ord-1")
	if o.Status != db.OrderCancelled {
		t.Fatalf("expected CANCELLED, got %s", o.Status)
	}
	watch, _ := f.db.ListWatchlistBySignal(ctx, "sig-1")
	if len(watch) != 1 || watch[0].Status != db.WatchCancelled {
		t.Fatalf("watchlist should cascade: %+v", watch)
	}
}

func TestRedeemRejections(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	if _, err := f.action.OpenPosition(ctx, f.issue(t, token.ActionCancelOrder)); !errors.Is(err, apperr.ErrAuth) {
		t.Fatalf("wrong action should be auth error, got %v", err)
	}
	if _, err := f.action.Redeem(ctx, "garbage"); !errors.Is(err, apperr.ErrAuth) {
		t.Fatalf("malformed token should be auth error, got %v", err)
	}
	missing, _ := f.tokens.IssueDefault("nope", token.ActionCancelOrder)
	if _, err := f.action.Redeem(ctx, missing); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown order should be not found, got %v", err)
	}
	expired, _ := f.tokens.Issue("ord-1", token.ActionOpenPosition, -time.Minute)
	if _, err := f.action.Redeem(ctx, expired); !errors.Is(err, apperr.ErrAuth) {
		t.Fatalf("expired token should be auth error, got %v", err)
	}
}
