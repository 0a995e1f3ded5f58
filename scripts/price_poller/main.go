// Command price_poller drives the signal-core price trigger evaluator by
// POSTing /api/tick on a cron schedule.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type tickReport struct {
	Success     bool   `json:"success"`
	Checked     int    `json:"checked"`
	Reached     int    `json:"reached"`
	Close       int    `json:"close"`
	Unavailable int    `json:"unavailable"`
	Error       string `json:"error"`
}

type poller struct {
	url    string
	key    string
	client *http.Client
}

func (p *poller) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	rep, err := p.post(ctx)
	if err != nil {
		log.Printf("❌ tick failed: %v", err)
		return
	}
	if rep.Reached > 0 {
		log.Printf("🎯 tick: checked=%d reached=%d close=%d unavailable=%d",
			rep.Checked, rep.Reached, rep.Close, rep.Unavailable)
		return
	}
	log.Printf("tick: checked=%d close=%d unavailable=%d", rep.Checked, rep.Close, rep.Unavailable)
}

func (p *poller) post(ctx context.Context) (*tickReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/api/tick", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Poller-Key", p.key)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var rep tickReport
	if err := json.Unmarshal(body, &rep); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !rep.Success {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, rep.Error)
	}
	return &rep, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()

	p := &poller{
		url:    strings.TrimRight(getEnv("SIGNAL_CORE_URL", "http://localhost:8080"), "/"),
		key:    os.Getenv("POLLER_KEY"),
		client: &http.Client{Timeout: 60 * time.Second},
	}
	if p.key == "" {
		log.Fatal("❌ POLLER_KEY is required")
	}
	schedule := getEnv("POLL_SCHEDULE", "*/15 * * * * *")

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(schedule, p.tick); err != nil {
		log.Fatalf("❌ invalid POLL_SCHEDULE %q: %v", schedule, err)
	}
	c.Start()
	log.Printf("📡 polling %s/api/tick on %q", p.url, schedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	<-c.Stop().Done()
	log.Println("⛔ poller stopped")
}
