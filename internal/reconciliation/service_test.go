package reconciliation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"signal-core/internal/events"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/exchanges/paper"
)

func setup(t *testing.T) (*Service, *db.Database, *paper.Gateway, *events.Bus) {
	t.Helper()
	d, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx := context.Background()
	if err := d.CreateSignal(ctx, db.Signal{ID: "sig-1", Symbol: "BTC-USDT", Direction: db.SideLong, Leverage: 10}); err != nil {
		t.Fatalf("create signal: %v", err)
	}
	gw := paper.NewGateway(1000, paper.SimConfig{})
	bus := events.NewBus()
	return NewService(gw, d, bus, nil), d, gw, bus
}

func openOnVenue(t *testing.T, gw *paper.Gateway, qty float64) {
	t.Helper()
	_, err := gw.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTC-USDT", Side: common.SideBuy, PositionSide: common.PositionLong,
		Type: common.OrderTypeMarket, Qty: qty,
	})
	if err != nil {
		t.Fatalf("venue open: %v", err)
	}
}

func TestReconcileOverwritesAndRecordsDrift(t *testing.T) {
	svc, d, gw, bus := setup(t)
	ctx := context.Background()
	drift, unsub := bus.Subscribe(events.EventDriftDetected, 8)
	defer unsub()

	gw.SetPrice("BTC-USDT", 50100)
	openOnVenue(t, gw, 0.002)
	_, _ = gw.SubmitOrder(ctx, common.OrderRequest{Symbol: "BTC-USDT", Side: common.SideSell, PositionSide: common.PositionLong, Type: common.OrderTypeStopMarket, StopPrice: 48000})
	_, _ = gw.SubmitOrder(ctx, common.OrderRequest{Symbol: "BTC-USDT", Side: common.SideSell, PositionSide: common.PositionLong, Type: common.OrderTypeTakeProfitMarket, StopPrice: 55000})
	_, _ = gw.SubmitOrder(ctx, common.OrderRequest{Symbol: "BTC-USDT", Side: common.SideSell, PositionSide: common.PositionLong, Type: common.OrderTypeTakeProfitMarket, StopPrice: 52000})

	pos := db.Position{ID: "pos-1", SignalID: "sig-1", Symbol: "BTC-USDT", Side: db.SideLong, Size: 0.002, EntryPrice: 50000, Leverage: 10, MarginUsed: 10}
	if err := d.CreatePosition(ctx, pos); err != nil {
		t.Fatalf("create position: %v", err)
	}

	rep, err := svc.ReconcilePosition(ctx, &pos, Requested{EntryPrice: 50000, Size: 0.002, StopLoss: 48000, TakeProfit: 52000})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rep.Found || len(rep.Diffs) != 1 || rep.Diffs[0].Field != "entry_price" {
		t.Fatalf("expected a single entry_price drift, got %+v", rep)
	}

	stored, err := d.GetPosition(ctx, "pos-1")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if stored.EntryPrice != 50100 || stored.StopLoss != 48000 || stored.TakeProfit != 52000 {
		t.Fatalf("exchange values not applied: %+v", stored)
	}
	if n, _ := d.CountDrift(ctx, "pos-1"); n != 1 {
		t.Fatalf("expected 1 drift row, got %d", n)
	}
	select {
	case <-drift:
	case <-time.After(time.Second):
		t.Fatal("drift event not published")
	}
}

func TestReconcileWithinToleranceHasNoDrift(t *testing.T) {
	svc, d, gw, _ := setup(t)
	ctx := context.Background()
	gw.SetPrice("BTC-USDT", 50002)
	openOnVenue(t, gw, 0.002)

	pos := db.Position{ID: "pos-1", SignalID: "sig-1", Symbol: "BTC-USDT", Side: db.SideLong, Size: 0.002, EntryPrice: 50000}
	_ = d.CreatePosition(ctx, pos)

	rep, err := svc.ReconcilePosition(ctx, &pos, Requested{EntryPrice: 50000, Size: 0.002})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(rep.Diffs) != 0 {
		t.Fatalf("4e-5 relative difference should be tolerated, got %+v", rep.Diffs)
	}
}

func TestReconcileExchangeErrorLeavesRowUntouched(t *testing.T) {
	svc, d, gw, _ := setup(t)
	ctx := context.Background()
	gw.SetPrice("BTC-USDT", 51000)
	openOnVenue(t, gw, 0.002)

	pos := db.Position{ID: "pos-1", SignalID: "sig-1", Symbol: "BTC-USDT", Side: db.SideLong, Size: 0.002, EntryPrice: 50000}
	_ = d.CreatePosition(ctx, pos)

	gw.FailNext("orders", errors.New("timeout"))
	if _, err := svc.ReconcilePosition(ctx, &pos, Requested{}); err == nil {
		t.Fatal("expected exchange read error")
	}
	stored, _ := d.GetPosition(ctx, "pos-1")
	if stored.EntryPrice != 50000 {
		t.Fatalf("row must not be overwritten on failure: %+v", stored)
	}
}

func TestReconcileOpenReportsMissing(t *testing.T) {
	svc, d, gw, _ := setup(t)
	ctx := context.Background()
	gw.SetPrice("BTC-USDT", 50000)
	openOnVenue(t, gw, 0.002)

	_ = d.CreatePosition(ctx, db.Position{ID: "pos-1", SignalID: "sig-1", Symbol: "BTC-USDT", Side: db.SideLong, Size: 0.002, EntryPrice: 50000})
	_ = d.CreatePosition(ctx, db.Position{ID: "pos-2", SignalID: "sig-1", Symbol: "BTC-USDT", Side: db.SideShort, Size: 0.001, EntryPrice: 50000})

	sweep, err := svc.ReconcileOpen(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sweep.Checked != 2 || sweep.Synced != 1 || len(sweep.Missing) != 1 || sweep.Missing[0] != "pos-2" {
		t.Fatalf("unexpected sweep %+v", sweep)
	}
}

func TestReconcileSharedLegKeepsPositionFigures(t *testing.T) {
	svc, d, gw, _ := setup(t)
	ctx := context.Background()
	_ = d.CreateSignal(ctx, db.Signal{ID: "sig-2", Symbol: "BTC-USDT", Direction: db.SideLong, Leverage: 10})

	gw.SetPrice("BTC-USDT", 50100)
	openOnVenue(t, gw, 0.002)
	openOnVenue(t, gw, 0.003)
	_, _ = gw.SubmitOrder(ctx, common.OrderRequest{Symbol: "BTC-USDT", Side: common.SideSell, PositionSide: common.PositionLong,
		Type: common.OrderTypeStopMarket, StopPrice: 48000, ClientID: common.ProtectiveClientID("pos-a", common.OrderTypeStopMarket)})
	_, _ = gw.SubmitOrder(ctx, common.OrderRequest{Symbol: "BTC-USDT", Side: common.SideSell, PositionSide: common.PositionLong,
		Type: common.OrderTypeStopMarket, StopPrice: 49000, ClientID: common.ProtectiveClientID("pos-b", common.OrderTypeStopMarket)})

	_ = d.CreatePosition(ctx, db.Position{ID: "pos-a", SignalID: "sig-1", Symbol: "BTC-USDT", Side: db.SideLong, Size: 0.002, EntryPrice: 50000, StopLoss: 48000})
	posB := db.Position{ID: "pos-b", SignalID: "sig-2", Symbol: "BTC-USDT", Side: db.SideLong, Size: 0.003, EntryPrice: 50200, StopLoss: 49000}
	_ = d.CreatePosition(ctx, posB)

	rep, err := svc.ReconcilePosition(ctx, &posB, Requested{EntryPrice: 50200, Size: 0.003, StopLoss: 49000})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rep.SharedLeg || len(rep.Diffs) != 0 {
		t.Fatalf("expected a clean shared-leg report, got %+v", rep)
	}
	stored, _ := d.GetPosition(ctx, "pos-b")
	if stored.Size != 0.003 || stored.EntryPrice != 50200 || stored.StopLoss != 49000 {
		t.Fatalf("leg aggregate must not overwrite the position: %+v", stored)
	}

	// A fill the engine never recorded shows up as leg drift.
	openOnVenue(t, gw, 0.001)
	rep, err = svc.ReconcilePosition(ctx, &posB, Requested{StopLoss: 49000})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(rep.Diffs) != 1 || rep.Diffs[0].Field != "leg_size" || math.Abs(rep.Diffs[0].Actual-0.006) > 1e-9 {
		t.Fatalf("expected leg_size drift, got %+v", rep.Diffs)
	}
	if stored, _ := d.GetPosition(ctx, "pos-b"); stored.Size != 0.003 {
		t.Fatalf("size overwritten on shared leg: %+v", stored)
	}
}
