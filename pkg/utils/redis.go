package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
type RedisConfig struct {
	Addr string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		// Every Pub/Sub subscription holds its own connection.
		out.PoolSize = 50
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var slotAcquireScript = redis.NewScript(`
-- KEYS[1] = sorted set of holders scored by lease expiry (ms)
-- ARGV[1] = limit, ARGV[2] = now_ms, ARGV[3] = ttl_ms, ARGV[4] = holder
--
-- Returns 1 if the holder owns a slot, 0 if the limit is reached.
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local expiry = tonumber(ARGV[2]) + tonumber(ARGV[3])
if redis.call('ZSCORE', KEYS[1], ARGV[4]) then
  redis.call('ZADD', KEYS[1], expiry, ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
  return 1
end
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('ZADD', KEYS[1], expiry, ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

var slotReleaseScript = redis.NewScript(`
-- KEYS[1] = sorted set of holders, ARGV[1] = holder
redis.call('ZREM', KEYS[1], ARGV[1])
if redis.call('ZCARD', KEYS[1]) == 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// SlotLimiter caps how many holders may own a slot under one key at a time.
// Leases expire after TTL so a crashed holder never leaks its slot.
// Acquire is idempotent per holder and refreshes the lease.
type SlotLimiter struct {
	RDB    redis.Scripter
	Prefix string
	Limit  int
	TTL    time.Duration

	now func() time.Time
}

var ErrSlotConfig = errors.New("slot limiter misconfigured")

func (l *SlotLimiter) validate(key, holder string) error {
	if l == nil || l.RDB == nil {
		return fmt.Errorf("%w: redis client is nil", ErrSlotConfig)
	}
	if key == "" || holder == "" {
		return fmt.Errorf("%w: key and holder are required", ErrSlotConfig)
	}
	if l.Limit <= 0 {
		return fmt.Errorf("%w: limit must be > 0", ErrSlotConfig)
	}
	if l.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be > 0", ErrSlotConfig)
	}
	return nil
}

func (l *SlotLimiter) key(key string) string {
	if l.Prefix == "" {
		return key
	}
	return l.Prefix + key
}

func (l *SlotLimiter) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

// Acquire reports whether holder owns one of the key's slots.
func (l *SlotLimiter) Acquire(ctx context.Context, key, holder string) (bool, error) {
	if err := l.validate(key, holder); err != nil {
		return false, err
	}
	args := []any{l.Limit, l.clock().UnixMilli(), l.TTL.Milliseconds(), holder}
	res, err := slotAcquireScript.Run(ctx, l.RDB, []string{l.key(key)}, args...).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release gives the holder's slot back. Releasing an unknown holder is a no-op.
func (l *SlotLimiter) Release(ctx context.Context, key, holder string) error {
	if err := l.validate(key, holder); err != nil {
		return err
	}
	return slotReleaseScript.Run(ctx, l.RDB, []string{l.key(key)}, holder).Err()
}

// OnceKeys marks keys as seen with SET NX so a side effect runs once across instances.
type OnceKeys struct {
	RDB    redis.Cmdable
	Prefix string
	TTL    time.Duration
}

func (o OnceKeys) Claim(ctx context.Context, key string) (bool, error) {
	if o.RDB == nil || key == "" {
		return false, ErrSlotConfig
	}
	ttl := o.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	ok, err := o.RDB.SetNX(ctx, o.Prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}
