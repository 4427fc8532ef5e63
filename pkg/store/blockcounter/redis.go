package blockcounter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowIncrementScript atomically increments a counter and (re)sets its TTL
// only when starting a fresh window, so a read-then-write race can never
// reset an in-flight window's expiry.
//
// KEYS[1] = counter key
// ARGV[1] = window seconds
var windowIncrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisCounter is the cloud BlockCounter realization, keyed per rule id.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter returns a BlockCounter backed by addr/db, namespacing keys
// under table (the managed key-value table name from Config).
func NewRedisCounter(addr string, db int, table string) *RedisCounter {
	return &RedisCounter{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		prefix: table + ":blockcounter:",
	}
}

func (c *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	res, err := windowIncrementScript.Run(ctx, c.client, []string{c.prefix + key}, int(window.Seconds())).Result()
	if err != nil {
		return 0, fmt.Errorf("blockcounter: redis increment: %w", err)
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("blockcounter: unexpected script result %T", res)
	}
	return count, nil
}

func (c *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("blockcounter: redis get: %w", err)
	}
	return val, nil
}

func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("blockcounter: redis del: %w", err)
	}
	return nil
}
