package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal-core/internal/action"
	"signal-core/internal/api"
	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/internal/notify"
	"signal-core/internal/order"
	"signal-core/internal/reconciliation"
	"signal-core/internal/risk"
	"signal-core/internal/settlement"
	"signal-core/internal/sizing"
	"signal-core/internal/stops"
	"signal-core/internal/symbols"
	"signal-core/internal/token"
	"signal-core/internal/trigger"
	"signal-core/pkg/cache"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/bingx"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/exchanges/paper"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// `signal-core hash-password <pw>` prints a bcrypt hash for OPERATOR_PASSWORD_HASH.
	if len(os.Args) == 3 && os.Args[1] == "hash-password" {
		hash, err := api.HashPassword(os.Args[2])
		if err != nil {
			log.Fatalf("❌ hash password: %v", err)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}
	log.Printf("✅ config loaded (port=%s cascade=%s dry_run=%v)", cfg.Port, cfg.CascadeScope, cfg.DryRun)
	log.Printf("📁 using database %s", cfg.DBPath)

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	metrics := monitor.NewMetrics()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ database init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("❌ database migrations failed: %v", err)
	}

	rules := symbols.Default()
	if cfg.SymbolRulesPath != "" {
		rules, err = symbols.LoadFile(cfg.SymbolRulesPath)
		if err != nil {
			log.Fatalf("❌ symbol rules: %v", err)
		}
		log.Printf("✅ symbol rules loaded from %s", cfg.SymbolRulesPath)
	}

	gw, venue, demo := newGateway(ctx, cfg)

	recon := reconciliation.NewService(gw, database, bus, metrics)

	exec := order.NewExecutor(database, bus, gw, sizing.NewCalculator(rules), demo)
	exec.SetReconciler(recon)
	exec.SetMetrics(metrics)
	exec.SetLeverageDelay(cfg.LeverageDelay)

	riskMgr := risk.NewManager(database, risk.Config{MaxOpenPositions: cfg.MaxOpenPositions})

	tokens, err := token.NewService(cfg.ActionSecret, cfg.ActionTokenTTL)
	if err != nil {
		log.Fatalf("❌ action tokens: %v", err)
	}
	actions := action.NewGateway(database, tokens, exec, riskMgr)
	actions.SetLedger(newLedger(ctx, cfg))
	actions.SetBus(bus)
	actions.SetMetrics(metrics)

	senders := []notify.Sender{notify.LogSender{}}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("📡 telegram notifications enabled")
	}
	dispatcher := notify.NewDispatcher(cfg.PublicBaseURL, senders...)

	evaluator := trigger.NewEvaluator(database, gw, tokens, dispatcher, trigger.Config{
		Concurrency: cfg.PriceFetchConcurrency,
		Cache:       cache.NewPriceCache(cfg.PriceCacheTTL),
	})
	evaluator.SetBus(bus)
	evaluator.SetMetrics(metrics)

	settle := settlement.NewService(database, gw, cfg.CascadeScope)
	settle.SetBus(bus)
	settle.SetMetrics(metrics)

	stopSvc := stops.NewService(database, gw, recon)
	stopSvc.SetBus(bus)
	stopSvc.SetMetrics(metrics)

	mon := &monitor.Monitor{Bus: bus, Metrics: metrics, AlertFn: dispatcher.Text}
	mon.Start(ctx)

	server := api.NewServer(
		bus,
		database,
		api.Services{
			Executor:   exec,
			Actions:    actions,
			Evaluator:  evaluator,
			Reconciler: recon,
			Settlement: settle,
			Stops:      stopSvc,
		},
		metrics,
		api.AuthConfig{
			JWTSecret:            cfg.JWTSecret,
			OperatorPasswordHash: cfg.OperatorPasswordHash,
			PollerKey:            cfg.PollerKey,
		},
		api.SystemMeta{
			DryRun:  cfg.DryRun,
			Demo:    demo,
			Venue:   venue,
			Version: buildVersion,
		},
	)
	go func() {
		log.Printf("🎯 API listening on :%s (venue=%s)", cfg.Port, venue)
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("❌ API server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("⛔ shutting down")
}

// newGateway returns the paper venue in dry-run mode, the BingX client
// otherwise. demo marks every order and position the process records.
func newGateway(ctx context.Context, cfg *config.Config) (common.Gateway, string, bool) {
	if cfg.DryRun {
		log.Printf("⚠️ dry run: paper venue with %.2f USDT", cfg.DryRunBalance)
		return paper.NewGateway(cfg.DryRunBalance, paper.SimConfig{FeeRate: 0.0005}), "paper", true
	}

	client := bingx.NewClient(bingx.Config{
		APIKey:    cfg.BingXAPIKey,
		APISecret: cfg.BingXAPISecret,
		Demo:      cfg.BingXDemo,
		Timeout:   cfg.ExchangeTimeout,
	})
	venue := "bingx-swap"
	if client.IsDemo() {
		venue = "bingx-swap-demo"
	}

	checkCtx, cancel := context.WithTimeout(ctx, cfg.ExchangeTimeout)
	defer cancel()
	if bal, err := client.GetBalance(checkCtx); err != nil {
		log.Printf("⚠️ bingx balance check failed: %v", err)
	} else {
		log.Printf("✅ bingx connected: equity=%.2f available=%.2f %s",
			float64(bal.Equity), float64(bal.AvailableMargin), bal.Asset)
	}
	return client, venue, client.IsDemo()
}

// newLedger prefers Redis so consumed nonces survive restarts and are shared
// between replicas.
func newLedger(ctx context.Context, cfg *config.Config) token.Ledger {
	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		l, err := token.NewRedisLedger(pingCtx, cfg.RedisURL)
		if err == nil {
			log.Println("✅ redis token ledger connected")
			go func() {
				<-ctx.Done()
				_ = l.Close()
			}()
			return l
		}
		log.Printf("⚠️ redis unavailable, using in-memory ledger: %v", err)
	}

	l := token.NewMemoryLedger()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
	return l
}
