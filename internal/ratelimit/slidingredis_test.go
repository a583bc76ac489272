package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLimiter(t *testing.T) (Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Limiter{Client: client, Prefix: "rl:pricing:"}, mr
}

func TestLimiterSlidingWindow(t *testing.T) {
	limiter, mr := testLimiter(t)
	ctx := context.Background()
	window := 2 * time.Second
	max := 2

	for i := 0; i < max; i++ {
		allowed, remaining, _, err := limiter.Allow(ctx, "calculate:10.0.0.7", window, max)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !allowed {
			t.Fatalf("expected calculation %d to be allowed", i)
		}
		if remaining != max-(i+1) {
			t.Fatalf("unexpected remaining: %d", remaining)
		}
	}

	allowed, remaining, _, err := limiter.Allow(ctx, "calculate:10.0.0.7", window, max)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatal("expected the burst to be rejected")
	}
	if remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", remaining)
	}

	mr.FastForward(window)

	allowed, _, _, err = limiter.Allow(ctx, "calculate:10.0.0.7", window, max)
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !allowed {
		t.Fatal("expected a calculation after the window to be allowed")
	}
}

func TestLimiterIsolatesClients(t *testing.T) {
	limiter, _ := testLimiter(t)
	ctx := context.Background()

	if allowed, _, _, err := limiter.Allow(ctx, "calculate:10.0.0.7", time.Second, 1); err != nil || !allowed {
		t.Fatalf("first client must be allowed: allowed=%v err=%v", allowed, err)
	}
	if allowed, _, _, _ := limiter.Allow(ctx, "calculate:10.0.0.7", time.Second, 1); allowed {
		t.Fatal("first client must be exhausted")
	}
	if allowed, _, _, err := limiter.Allow(ctx, "calculate:10.0.0.8", time.Second, 1); err != nil || !allowed {
		t.Fatalf("a different client must not share the budget: allowed=%v err=%v", allowed, err)
	}
}
