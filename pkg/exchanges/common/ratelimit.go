package common

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outbound requests and tracks the remaining budget the
// venue reports in response headers.
type RateLimiter struct {
	limiter   *rate.Limiter
	remaining int
	limit     int
	updatedAt time.Time
	mu        sync.RWMutex
}

// NewRateLimiter creates a limiter allowing perSecond requests with the given burst.
// limit is the venue's per-window request allowance, used for usage warnings.
func NewRateLimiter(perSecond float64, burst, limit int) *RateLimiter {
	return &RateLimiter{
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
		limit:     limit,
		remaining: limit,
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// UpdateFromHeader records the remaining request budget from a response header.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	remaining, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	rl.remaining = remaining
	rl.updatedAt = time.Now()
	rl.mu.Unlock()

	if rl.limit <= 0 {
		return
	}
	used := float64(rl.limit-remaining) / float64(rl.limit) * 100
	if used >= 95 {
		log.Printf("rate limit critical: %d/%d remaining (%.1f%% used)", remaining, rl.limit, used)
	} else if used >= 80 {
		log.Printf("rate limit warning: %d/%d remaining (%.1f%% used)", remaining, rl.limit, used)
	}
}

// GetUsage returns current usage information.
func (rl *RateLimiter) GetUsage() (remaining int, limit int, updatedAt time.Time) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.remaining, rl.limit, rl.updatedAt
}
