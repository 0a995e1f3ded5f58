package token

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// fakeRedis keeps SETNX keys in memory with their expiry.
type fakeRedis struct {
	mu      sync.Mutex
	keys    map[string]time.Time
	ttls    map[string]time.Duration
	failSet error
	failDel error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]time.Time), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ any, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return redis.NewBoolResult(false, f.failSet)
	}
	if exp, ok := f.keys[key]; ok && time.Now().Before(exp) {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = time.Now().Add(ttl)
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDel != nil {
		return redis.NewIntResult(0, f.failDel)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisLedgerConsumeRelease(t *testing.T) {
	store := newFakeRedis()
	l := NewRedisLedgerFromClient(store)
	ctx := context.Background()

	first, err := l.Consume(ctx, "n1", time.Hour)
	if err != nil || !first {
		t.Fatalf("first consume: %v %v", first, err)
	}
	if store.ttls["action-token:n1"] != time.Hour {
		t.Fatalf("nonce stored without its ttl: %+v", store.ttls)
	}
	again, err := l.Consume(ctx, "n1", time.Hour)
	if err != nil || again {
		t.Fatalf("replayed nonce must not be consumed twice: %v %v", again, err)
	}

	if err := l.Release(ctx, "n1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	retry, err := l.Consume(ctx, "n1", time.Hour)
	if err != nil || !retry {
		t.Fatalf("released nonce should be consumable: %v %v", retry, err)
	}
}

func TestRedisLedgerErrors(t *testing.T) {
	store := newFakeRedis()
	l := NewRedisLedgerFromClient(store)
	ctx := context.Background()

	store.failSet = errors.New("connection refused")
	if ok, err := l.Consume(ctx, "n1", time.Minute); err == nil || ok {
		t.Fatalf("expected consume error, got %v %v", ok, err)
	}
	store.failDel = errors.New("connection refused")
	if err := l.Release(ctx, "n1"); err == nil {
		t.Fatal("expected release error")
	}
}

func TestRedisLedgerLive(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	l, err := NewRedisLedger(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer l.Close()

	nonce := uuid.NewString()
	t.Cleanup(func() { _ = l.Release(context.Background(), nonce) })
	if ok, err := l.Consume(ctx, nonce, time.Minute); err != nil || !ok {
		t.Fatalf("first consume: %v %v", ok, err)
	}
	if ok, _ := l.Consume(ctx, nonce, time.Minute); ok {
		t.Fatal("replayed nonce consumed twice")
	}
	if err := l.Release(ctx, nonce); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := l.Consume(ctx, nonce, time.Minute); !ok {
		t.Fatal("released nonce should be consumable")
	}
}
