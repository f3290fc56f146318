package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"
)

// incrementScript bumps a window counter and starts its expiry on the first hit.
var incrementScript = redis.NewScript(`
local count = redis.call('INCRBY', KEYS[1], ARGV[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return count
`)

// RedisBackend shares counters between instances through Redis.
type RedisBackend struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisBackend creates a backend writing keys under prefix.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "lms:ratelimit:"
	}
	return &RedisBackend{client: client, prefix: prefix, timeout: 2 * time.Second}
}

func (b *RedisBackend) NewCounter(policy Policy) httprate.LimitCounter {
	return &redisCounter{
		client:  b.client,
		prefix:  b.prefix + policy.Name + ":",
		timeout: b.timeout,
		window:  policy.Window,
	}
}

type redisCounter struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration

	mu     sync.RWMutex
	window time.Duration
}

var _ httprate.LimitCounter = (*redisCounter)(nil)

func (c *redisCounter) Config(_ int, windowLength time.Duration) {
	c.mu.Lock()
	c.window = windowLength
	c.mu.Unlock()
}

func (c *redisCounter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

func (c *redisCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	c.mu.RLock()
	window := c.window
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	// the previous window stays readable for the sliding estimate
	ttl := 2 * window
	if err := incrementScript.Run(ctx, c.client, []string{c.key(key, currentWindow)}, amount, ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("rate limit increment: %w", err)
	}
	return nil
}

func (c *redisCounter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	values, err := c.client.MGet(ctx, c.key(key, currentWindow), c.key(key, previousWindow)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit read: %w", err)
	}
	if len(values) != 2 {
		return 0, 0, fmt.Errorf("rate limit read: unexpected reply %v", values)
	}
	curr, err := counterValue(values[0])
	if err != nil {
		return 0, 0, err
	}
	prev, err := counterValue(values[1])
	if err != nil {
		return 0, 0, err
	}
	return curr, prev, nil
}

func (c *redisCounter) key(key string, window time.Time) string {
	return c.prefix + key + ":" + strconv.FormatInt(window.Unix(), 10)
}

func counterValue(v interface{}) (int, error) {
	switch value := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("rate limit read: %w", err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("rate limit read: unexpected value %T", v)
	}
}
