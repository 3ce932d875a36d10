package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeviceCache stores recent device authorization answers.
type DeviceCache struct {
	client *Client
}

func NewDeviceCache(client *Client) *DeviceCache {
	return &DeviceCache{client: client}
}

func deviceKey(fingerprint string) string {
	return "device:authorized:" + fingerprint
}

func (c *DeviceCache) GetAuthorized(ctx context.Context, fingerprint string) (bool, bool, error) {
	val, err := c.client.rdb.Get(ctx, deviceKey(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("redis get failed: %w", err)
	}
	return val == "1", true, nil
}

func (c *DeviceCache) SetAuthorized(ctx context.Context, fingerprint string, authorized bool, ttl time.Duration) error {
	val := "0"
	if authorized {
		val = "1"
	}
	if err := c.client.rdb.Set(ctx, deviceKey(fingerprint), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *DeviceCache) Invalidate(ctx context.Context, fingerprint string) error {
	if err := c.client.rdb.Del(ctx, deviceKey(fingerprint)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
