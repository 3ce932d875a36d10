package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// slidingWindowScript trims, counts and admits in one step so concurrent
// requests on the same key cannot both pass. An entry exactly one window old
// has expired. Rejected requests are not added.
//
// KEYS[1] key; ARGV window start, now, limit, n, ttl ms, then n members.
// Reply: {allowed, count before admitting, oldest score or ""}.
var slidingWindowScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local count = redis.call("ZCARD", KEYS[1])
if count + tonumber(ARGV[4]) > tonumber(ARGV[3]) then
	local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
	return {0, count, oldest[2] or ""}
end
for i = 6, #ARGV do
	redis.call("ZADD", KEYS[1], ARGV[2], ARGV[i])
end
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {1, count, ""}
`)

// RateLimitConfig allows Limit requests per Window and key. The device poll
// limiter uses Limit 1 and Window = the minimum poll interval.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int
	// ResetAt is when the next request will be allowed.
	ResetAt time.Time
}

// RetryAfter is the wait until ResetAt, rounded up to whole seconds.
func (r *RateLimitResult) RetryAfter(now time.Time) int {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// RateLimiter is a sliding-window limiter on sorted sets. Rejected requests
// are not counted.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
	now    func() time.Time
}

func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	if config.Limit <= 0 {
		config.Limit = 1
	}
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Window returns the configured window.
func (r *RateLimiter) Window() time.Duration {
	return r.config.Window
}

func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, 1)
}

func (r *RateLimiter) AllowN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	now := r.now()
	windowStart := now.Add(-r.config.Window)

	args := []interface{}{
		strconv.FormatInt(windowStart.UnixNano(), 10),
		strconv.FormatInt(now.UnixNano(), 10),
		r.config.Limit,
		n,
		(r.config.Window + time.Second).Milliseconds(),
	}
	for i := 0; i < n; i++ {
		args = append(args, uuid.NewString())
	}

	res, err := slidingWindowScript.Run(ctx, r.client.rdb, []string{"ratelimit:" + key}, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit script failed: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("redis rate limit script: unexpected reply %v", res)
	}
	allowed, _ := res[0].(int64)
	current, _ := res[1].(int64)
	remaining := r.config.Limit - int(current)

	if allowed == 0 {
		resetAt := now.Add(r.config.Window)
		if oldest, _ := res[2].(string); oldest != "" {
			if score, err := strconv.ParseFloat(oldest, 64); err == nil {
				resetAt = time.Unix(0, int64(score)).Add(r.config.Window)
			}
		}
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("current", current),
			zap.Int("limit", r.config.Limit),
		)
		return &RateLimitResult{
			Allowed:   false,
			Remaining: max(0, remaining),
			ResetAt:   resetAt,
		}, nil
	}

	return &RateLimitResult{
		Allowed:   true,
		Remaining: remaining - n,
		ResetAt:   now.Add(r.config.Window),
	}, nil
}
