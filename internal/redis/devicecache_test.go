package redis

import (
	"context"
	"testing"
	"time"
)

func TestDeviceCache(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewDeviceCache(client)
	ctx := context.Background()

	if _, found, err := cache.GetAuthorized(ctx, "till-0007-03"); err != nil || found {
		t.Fatalf("empty cache: found=%v err=%v", found, err)
	}

	if err := cache.SetAuthorized(ctx, "till-0007-03", true, 30*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := cache.SetAuthorized(ctx, "ad7af09b55235f4a", false, 30*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	if ok, found, _ := cache.GetAuthorized(ctx, "till-0007-03"); !found || !ok {
		t.Fatal("expected a cached authorized answer")
	}
	if ok, found, _ := cache.GetAuthorized(ctx, "ad7af09b55235f4a"); !found || ok {
		t.Fatal("expected a cached unauthorized answer")
	}

	if err := cache.Invalidate(ctx, "till-0007-03"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, found, _ := cache.GetAuthorized(ctx, "till-0007-03"); found {
		t.Fatal("entry should be gone after invalidate")
	}

	mr.FastForward(31 * time.Second)
	if _, found, _ := cache.GetAuthorized(ctx, "ad7af09b55235f4a"); found {
		t.Fatal("entry should expire")
	}
}
