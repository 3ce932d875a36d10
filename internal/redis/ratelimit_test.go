package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time { return c.t }

func setupTestRateLimiter(t *testing.T, limit int, window time.Duration) (*RateLimiter, *stepClock) {
	t.Helper()
	client, _ := setupTestRedis(t)

	clock := &stepClock{t: time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)}
	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{Limit: limit, Window: window})
	limiter.now = clock.now
	return limiter, clock
}

func TestRateLimiter_PollInterval(t *testing.T) {
	limiter, clock := setupTestRateLimiter(t, 1, 10*time.Second)
	ctx := context.Background()

	result, err := limiter.Allow(ctx, "device:till-0007-03")
	if err != nil || !result.Allowed {
		t.Fatalf("first poll should pass: %+v, %v", result, err)
	}

	clock.t = clock.t.Add(4 * time.Second)
	result, err = limiter.Allow(ctx, "device:till-0007-03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("poll 4s later should be rejected")
	}
	if got := result.RetryAfter(clock.t); got != 6 {
		t.Errorf("retry after = %d, want 6", got)
	}

	clock.t = clock.t.Add(6 * time.Second)
	result, err = limiter.Allow(ctx, "device:till-0007-03")
	if err != nil || !result.Allowed {
		t.Fatalf("poll after the interval should pass: %+v, %v", result, err)
	}
}

func TestRateLimiter_RejectedPollsDoNotExtendTheWait(t *testing.T) {
	limiter, clock := setupTestRateLimiter(t, 1, 10*time.Second)
	ctx := context.Background()

	limiter.Allow(ctx, "device:a")
	for i := 0; i < 5; i++ {
		clock.t = clock.t.Add(time.Second)
		if r, _ := limiter.Allow(ctx, "device:a"); r.Allowed {
			t.Fatalf("poll %d should be rejected", i)
		}
	}
	clock.t = clock.t.Add(5 * time.Second)
	if r, _ := limiter.Allow(ctx, "device:a"); !r.Allowed {
		t.Fatal("poll 10s after the last accepted one should pass")
	}
}

func TestRateLimiter_WithinLimit(t *testing.T) {
	limiter, _ := setupTestRateLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "k")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if result.Remaining != 4-i {
			t.Errorf("request %d: remaining = %d, want %d", i, result.Remaining, 4-i)
		}
	}
	if result, _ := limiter.Allow(ctx, "k"); result.Allowed || result.Remaining != 0 {
		t.Fatalf("sixth request should be blocked: %+v", result)
	}
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	limiter, _ := setupTestRateLimiter(t, 1, time.Minute)
	ctx := context.Background()

	limiter.Allow(ctx, "device:a")
	if result, _ := limiter.Allow(ctx, "device:b"); !result.Allowed {
		t.Fatal("device:b has its own window")
	}
}

func TestRateLimiter_AllowN(t *testing.T) {
	limiter, _ := setupTestRateLimiter(t, 10, time.Minute)
	ctx := context.Background()

	result, err := limiter.AllowN(ctx, "k", 5)
	if err != nil || !result.Allowed || result.Remaining != 5 {
		t.Fatalf("unexpected: %+v, %v", result, err)
	}
	if result, _ := limiter.AllowN(ctx, "k", 6); result.Allowed {
		t.Fatal("should be blocked")
	}
}

func TestRateLimiter_ConcurrentPollsAdmitOne(t *testing.T) {
	limiter, _ := setupTestRateLimiter(t, 1, 10*time.Second)
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := limiter.Allow(ctx, "device:till-0007-03")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 1 {
		t.Fatalf("expected exactly one concurrent poll admitted, got %d", got)
	}
}
