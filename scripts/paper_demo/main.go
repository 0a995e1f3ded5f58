package main

import (
	"context"
	"log"
	"sync"
	"time"

	"signal-core/internal/action"
	"signal-core/internal/events"
	"signal-core/internal/notify"
	"signal-core/internal/order"
	"signal-core/internal/reconciliation"
	"signal-core/internal/risk"
	"signal-core/internal/settlement"
	"signal-core/internal/sizing"
	"signal-core/internal/symbols"
	"signal-core/internal/token"
	"signal-core/internal/trigger"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/paper"
)

// paper_demo walks one signal through its whole lifecycle against the
// in-memory venue and an in-memory database.
//
// Usage:
//   go run ./scripts/paper_demo
//
// It will:
//   1) Submit a LONG signal with a market entry and a limit entry.
//   2) Move the price onto the limit target and run one tick.
//   3) Redeem the cancel token of the limit entry.
//   4) Close the position at a profit and print the settlement.

type captureNotifier struct {
	mu     sync.Mutex
	alerts []notify.TargetAlert
}

func (c *captureNotifier) TargetReached(_ context.Context, a notify.TargetAlert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	log.Printf("📡 target reached: %s %s %.2f (now %.2f)", a.Symbol, a.EntryTier, a.TargetPrice, a.CurrentPrice)
	return nil
}

func main() {
	log.Println("=== paper demo starting ===")
	ctx := context.Background()

	database, err := db.New(":memory:")
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	bus := events.NewBus()
	gw := paper.NewGateway(10000, paper.SimConfig{FeeRate: 0.0005})
	gw.SetPrice("BTC-USDT", 50000)

	recon := reconciliation.NewService(gw, database, bus, nil)
	exec := order.NewExecutor(database, bus, gw, sizing.NewCalculator(symbols.Default()), true)
	exec.SetReconciler(recon)

	tokens, err := token.NewService("paper-demo-secret", time.Hour)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}
	actions := action.NewGateway(database, tokens, exec, risk.NewManager(database, risk.Config{}))
	actions.SetLedger(token.NewMemoryLedger())

	n := &captureNotifier{}
	evaluator := trigger.NewEvaluator(database, gw, tokens, n, trigger.Config{Concurrency: 2})
	settle := settlement.NewService(database, gw, config.CascadeSignal)

	log.Println("[STEP 1] submit LONG BTC x10, market 100 USDT + limit 49000 100 USDT")
	res, err := exec.Submit(ctx, order.SignalRequest{
		Symbol:      "BTC",
		Direction:   "LONG",
		Leverage:    10,
		SourceID:    "paper-demo",
		TakeProfits: []float64{53000},
		StopLoss:    47000,
		EnabledEntries: []order.EntryRequest{
			{Type: order.EntryMarket, Margin: 100},
			{Type: order.EntryLimit, Price: 49000, Margin: 100},
		},
	})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	for _, o := range res.Orders {
		log.Printf("   %s success=%v size=%.4f price=%.2f %s", o.EntryType, o.Success, o.PositionSize, o.Price, o.Message)
	}

	log.Println("[STEP 2] price drops to 48950, tick")
	gw.SetPrice("BTC-USDT", 48950)
	report, err := evaluator.Tick(ctx)
	if err != nil {
		log.Fatalf("tick: %v", err)
	}
	log.Printf("   checked=%d reached=%d", report.Checked, report.Reached)

	if len(n.alerts) > 0 {
		log.Println("[STEP 3] redeem cancel token for the limit entry")
		out, err := actions.Redeem(ctx, n.alerts[0].CancelToken)
		if err != nil {
			log.Fatalf("redeem: %v", err)
		}
		log.Printf("   %s: %s", out.Action, out.Message)
	}

	log.Println("[STEP 4] price rallies to 52000, close the position")
	gw.SetPrice("BTC-USDT", 52000)
	open, err := database.ListSignalPositions(ctx, res.SignalID)
	if err != nil || len(open) == 0 {
		log.Fatalf("no position for signal %s: %v", res.SignalID, err)
	}
	closed, err := settle.Close(ctx, settlement.CloseRequest{PositionID: open[0].ID})
	if err != nil {
		log.Fatalf("close: %v", err)
	}
	log.Printf("   exit=%.2f pnl=%.4f cancelled=%d signal_closed=%v",
		closed.ExitPrice, closed.RealizedPnL, closed.CancelledOrders, closed.SignalClosed)

	if st, err := database.GetSourceStats(ctx, "paper-demo"); err == nil {
		log.Printf("   source stats: signals=%d wins=%d losses=%d pnl=%.4f", st.TotalSignals, st.Wins, st.Losses, st.TotalPnL)
	}
	log.Println("=== paper demo finished ===")
}
