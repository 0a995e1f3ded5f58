package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger remembers consumed token nonces. It is advisory: the order status
// transitions are what guarantee at-most-once execution.
type Ledger interface {
	// Consume records nonce and reports whether this was its first use.
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
	// Release forgets nonce so a failed redemption can be retried.
	Release(ctx context.Context, nonce string) error
}

// MemoryLedger is a process-local ledger with TTL expiry.
type MemoryLedger struct {
	seen map[string]time.Time // nonce -> expiry
	mu   sync.Mutex
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]time.Time)}
}

func (l *MemoryLedger) Consume(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if exp, ok := l.seen[nonce]; ok && now.Before(exp) {
		return false, nil
	}
	l.seen[nonce] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, nonce string) error {
	l.mu.Lock()
	delete(l.seen, nonce)
	l.mu.Unlock()
	return nil
}

// Cleanup drops expired nonces. Call periodically to bound memory.
func (l *MemoryLedger) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for n, exp := range l.seen {
		if !now.Before(exp) {
			delete(l.seen, n)
		}
	}
}

// redisStore is the part of the go-redis client the ledger uses.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisLedger shares consumed nonces across processes using SETNX with a TTL.
type RedisLedger struct {
	rdb redisStore
}

// NewRedisLedger connects using a redis:// URL and verifies the connection.
func NewRedisLedger(ctx context.Context, redisURL string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisLedger{rdb: rdb}, nil
}

// NewRedisLedgerFromClient wraps an existing client.
func NewRedisLedgerFromClient(rdb redisStore) *RedisLedger {
	return &RedisLedger{rdb: rdb}
}

func ledgerKey(nonce string) string {
	return "action-token:" + nonce
}

func (l *RedisLedger) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, ledgerKey(nonce), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: consume token %s: %w", nonce, err)
	}
	return ok, nil
}

func (l *RedisLedger) Release(ctx context.Context, nonce string) error {
	if err := l.rdb.Del(ctx, ledgerKey(nonce)).Err(); err != nil {
		return fmt.Errorf("redis: release token %s: %w", nonce, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (l *RedisLedger) Close() error {
	return l.rdb.Close()
}
