package risk

import (
	"context"
	"fmt"
	"log"
)

// PositionCounter reports how many positions are currently OPEN.
type PositionCounter interface {
	CountOpenPositions(ctx context.Context, isDemo bool) (int, error)
}

// Manager evaluates exposure caps. It holds no mutable state; counts are
// read from persistence on every check.
type Manager struct {
	counter PositionCounter
	cfg     Config
}

// NewManager creates a risk manager.
func NewManager(counter PositionCounter, cfg Config) *Manager {
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = DefaultConfig().WarningThreshold
	}
	return &Manager{counter: counter, cfg: cfg}
}

// CheckOpen decides whether one more position may be opened.
// Count failures reject (fail closed).
func (m *Manager) CheckOpen(ctx context.Context, isDemo bool) (Decision, error) {
	if m.cfg.MaxOpenPositions <= 0 {
		return Decision{Allowed: true, LimitLevel: LevelNormal}, nil
	}
	open, err := m.counter.CountOpenPositions(ctx, isDemo)
	if err != nil {
		return Decision{Allowed: false, Reason: "position count unavailable", LimitLevel: LevelLimit},
			fmt.Errorf("count open positions: %w", err)
	}

	ratio := float64(open+1) / float64(m.cfg.MaxOpenPositions)
	d := Decision{Allowed: true, LimitLevel: LevelNormal, UsageRatio: ratio, Open: open}
	switch {
	case open >= m.cfg.MaxOpenPositions:
		d.Allowed = false
		d.LimitLevel = LevelLimit
		d.Reason = fmt.Sprintf("max open positions reached (%d/%d)", open, m.cfg.MaxOpenPositions)
		log.Printf("⛔ risk: %s", d.Reason)
	case ratio >= m.cfg.WarningThreshold:
		d.LimitLevel = LevelWarning
		d.Warning = fmt.Sprintf("open positions at %.0f%% of cap", ratio*100)
	}
	return d, nil
}
