package ratelimit

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

// RedisLimiter counts requests in fixed windows shared by every server
// instance. Each window is one key that expires with the window.
type RedisLimiter struct {
	client   redis.Cmdable
	policies Policies
	clock    timex.Clock
}

func NewRedisLimiter(client redis.Cmdable, policies Policies, clock timex.Clock) *RedisLimiter {
	return &RedisLimiter{client: client, policies: policies, clock: clock}
}

func (r *RedisLimiter) Allow(ctx context.Context, route Route, client string) (bool, error) {
	p, ok := r.policies[route]
	if !ok {
		return true, nil
	}

	window := windowIndex(r.clock.Now(), p.Window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", route, client, window)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, p.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= int64(p.Limit), nil
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}
