package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/microcell/microcell/pkg/state"
)

// RedisConfig configures the Redis-backed state store.
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"required"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// KeyPrefix namespaces every state variable, so several orchestrators
	// can share one Redis instance.
	KeyPrefix string `yaml:"key_prefix"`
	// Timeout bounds every round trip; an exceeded deadline surfaces as a
	// transient error and the engine skips the tick.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultRedisConfig targets a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{Addr: "127.0.0.1:6379", KeyPrefix: "sp:", Timeout: 2 * time.Second}
}

// RedisBackend stores each state variable under prefix+name as a
// JSON-encoded assignment. MSET/MGET provide the atomic multi-key writes and
// reads the concurrency model relies on.
type RedisBackend struct {
	client *redis.Client
	prefix string
	rtt    time.Duration
}

// NewRedisBackend connects a Redis client; the connection itself is lazy,
// health is probed per tick through Ping.
func NewRedisBackend(cfg RedisConfig) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	rtt := cfg.Timeout
	if rtt <= 0 {
		rtt = 2 * time.Second
	}
	return &RedisBackend{client: client, prefix: cfg.KeyPrefix, rtt: rtt}
}

// GetBatch implements Backend.
func (b *RedisBackend) GetBatch(ctx context.Context, keys []string) (state.State, error) {
	if len(keys) == 0 {
		return state.New(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.rtt)
	defer cancel()

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = b.prefix + k
	}
	vals, err := b.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return state.New(), NewTransientError("redis mget failed", err).WithOperation("get_batch")
	}
	out := map[string]state.Assignment{}
	for i, raw := range vals {
		if raw == nil {
			continue
		}
		text, ok := raw.(string)
		if !ok {
			continue
		}
		var a state.Assignment
		if err := json.Unmarshal([]byte(text), &a); err != nil {
			return state.New(), NewPermanentError("malformed assignment payload", err).
				WithKey(keys[i]).WithOperation("get_batch")
		}
		out[keys[i]] = a
	}
	return state.FromAssignments(out), nil
}

// Keys implements Backend with a cursor scan over the key prefix.
func (b *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.rtt)
	defer cancel()

	var keys []string
	var cursor uint64
	for {
		batch, next, err := b.client.Scan(ctx, cursor, b.prefix+"*", 512).Result()
		if err != nil {
			return nil, NewTransientError("redis scan failed", err).WithOperation("keys")
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, b.prefix))
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// SetPartial implements Backend. A single MSET keeps the multi-key write
// atomic with respect to readers.
func (b *RedisBackend) SetPartial(ctx context.Context, partial state.State) error {
	if partial.Len() == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.rtt)
	defer cancel()

	pairs := make([]any, 0, partial.Len()*2)
	for k, a := range partial.Assignments() {
		raw, err := json.Marshal(a)
		if err != nil {
			return NewPermanentError("cannot encode assignment", err).WithKey(k).WithOperation("set_partial")
		}
		pairs = append(pairs, b.prefix+k, string(raw))
	}
	if err := b.client.MSet(ctx, pairs...).Err(); err != nil {
		return NewTransientError("redis mset failed", err).WithOperation("set_partial")
	}
	return nil
}

// Ping implements Backend.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.rtt)
	defer cancel()
	if err := b.client.Ping(ctx).Err(); err != nil {
		return NewTransientError("redis unreachable", err).WithOperation("ping")
	}
	return nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error { return b.client.Close() }
