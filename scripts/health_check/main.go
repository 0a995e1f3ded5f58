// Command health_check checks the dependencies of a signal-core deployment
// and exits non-zero when any of them is unhealthy.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"signal-core/internal/token"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/bingx"
)

const (
	statusHealthy   = "HEALTHY"
	statusDegraded  = "DEGRADED"
	statusUnhealthy = "UNHEALTHY"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

func newStatus(service string) HealthStatus {
	return HealthStatus{Service: service, Status: statusHealthy, Timestamp: time.Now()}
}

func main() {
	fmt.Println("🏥 signal-core health check")
	fmt.Println("===========================")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := HealthReport{Overall: statusHealthy}

	cfg, err := config.Load()
	if err != nil {
		report.Services = append(report.Services, HealthStatus{
			Service: "Configuration", Status: statusUnhealthy,
			Message: err.Error(), Timestamp: time.Now(),
		})
	} else {
		report.Services = append(report.Services,
			checkConfig(cfg),
			checkDatabase(ctx, cfg),
			checkExchange(ctx, cfg),
			checkRedis(ctx, cfg),
			checkAPIServer(ctx, cfg),
		)
	}

	report.Overall = overall(report.Services)

	fmt.Println()
	for _, svc := range report.Services {
		icon := "✓"
		switch svc.Status {
		case statusUnhealthy:
			icon = "✗"
		case statusDegraded:
			icon = "⚠"
		}
		fmt.Printf("%s %-14s %-9s %s\n", icon, svc.Service, svc.Status, svc.Message)
	}
	fmt.Printf("\nOverall Status: %s\n", report.Overall)

	if len(os.Args) > 1 && os.Args[1] == "--json" {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	}
	if report.Overall == statusUnhealthy {
		os.Exit(1)
	}
}

func overall(services []HealthStatus) string {
	result := statusHealthy
	for _, svc := range services {
		switch svc.Status {
		case statusUnhealthy:
			return statusUnhealthy
		case statusDegraded:
			result = statusDegraded
		}
	}
	return result
}

func checkConfig(cfg *config.Config) HealthStatus {
	st := newStatus("Configuration")
	st.Message = fmt.Sprintf("port=%s cascade=%s", cfg.Port, cfg.CascadeScope)
	if cfg.OperatorPasswordHash == "" || cfg.PollerKey == "" {
		st.Status = statusDegraded
		st.Message += " (operator login or poller key not configured)"
	}
	return st
}

func checkDatabase(ctx context.Context, cfg *config.Config) HealthStatus {
	st := newStatus("Database")
	database, err := db.New(cfg.DBPath)
	if err != nil {
		st.Status = statusUnhealthy
		st.Message = fmt.Sprintf("open failed: %v", err)
		return st
	}
	defer database.Close()

	if err := database.DB.PingContext(ctx); err != nil {
		st.Status = statusUnhealthy
		st.Message = fmt.Sprintf("ping failed: %v", err)
		return st
	}
	st.Message = cfg.DBPath
	return st
}

func checkExchange(ctx context.Context, cfg *config.Config) HealthStatus {
	st := newStatus("BingX")
	if cfg.DryRun {
		st.Status = statusDegraded
		st.Message = "dry run, paper venue"
		return st
	}
	client := bingx.NewClient(bingx.Config{
		APIKey:    cfg.BingXAPIKey,
		APISecret: cfg.BingXAPISecret,
		Demo:      cfg.BingXDemo,
		Timeout:   cfg.ExchangeTimeout,
	})
	serverTime, err := client.GetServerTime(ctx)
	if err != nil {
		st.Status = statusUnhealthy
		st.Message = fmt.Sprintf("server time: %v", err)
		return st
	}
	if _, err := client.GetBalance(ctx); err != nil {
		st.Status = statusUnhealthy
		st.Message = fmt.Sprintf("signed request: %v", err)
		return st
	}
	network := "LIVE"
	if cfg.BingXDemo {
		network = "DEMO"
	}
	st.Message = fmt.Sprintf("%s (server time %d)", network, serverTime)
	return st
}

func checkRedis(ctx context.Context, cfg *config.Config) HealthStatus {
	st := newStatus("Redis")
	if cfg.RedisURL == "" {
		st.Status = statusDegraded
		st.Message = "not configured, tokens use the in-memory ledger"
		return st
	}
	l, err := token.NewRedisLedger(ctx, cfg.RedisURL)
	if err != nil {
		st.Status = statusUnhealthy
		st.Message = err.Error()
		return st
	}
	_ = l.Close()
	st.Message = "connected"
	return st
}

func checkAPIServer(ctx context.Context, cfg *config.Config) HealthStatus {
	st := newStatus("API Server")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://localhost:%s/health", cfg.Port), nil)
	if err != nil {
		st.Status = statusUnhealthy
		st.Message = err.Error()
		return st
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		st.Status = statusUnhealthy
		st.Message = fmt.Sprintf("not reachable: %v", err)
		return st
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		st.Status = statusDegraded
		st.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return st
	}
	st.Message = "running"
	return st
}
