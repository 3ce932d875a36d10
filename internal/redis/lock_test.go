package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLocker(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewLocker(client, zap.NewNop())
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "nps:dispatch", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}

	if _, ok, _ := locker.TryLock(ctx, "nps:dispatch", time.Minute); ok {
		t.Fatal("second lock should fail while held")
	}

	if err := locker.Unlock(ctx, "nps:dispatch", token); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, ok, _ := locker.TryLock(ctx, "nps:dispatch", time.Minute); !ok {
		t.Fatal("lock should be free after unlock")
	}

	mr.FastForward(time.Minute + time.Second)
	if _, ok, _ := locker.TryLock(ctx, "nps:dispatch", time.Minute); !ok {
		t.Fatal("lock should expire after its ttl")
	}
}

func TestLocker_StaleTokenDoesNotRelease(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewLocker(client, zap.NewNop())
	ctx := context.Background()

	stale, _, _ := locker.TryLock(ctx, "nps:dispatch", time.Second)
	mr.FastForward(2 * time.Second)
	current, ok, _ := locker.TryLock(ctx, "nps:dispatch", time.Minute)
	if !ok {
		t.Fatal("expired lock should be retaken")
	}

	if err := locker.Unlock(ctx, "nps:dispatch", stale); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, ok, _ := locker.TryLock(ctx, "nps:dispatch", time.Minute); ok {
		t.Fatal("stale token must not release the current holder's lock")
	}
	if err := locker.Unlock(ctx, "nps:dispatch", current); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}
