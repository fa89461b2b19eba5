// Package redis mirrors hot state into the cache: the per-(symbol, side)
// ordered tick lists, the live candle records, and the bootstrap snapshots.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"fixfeed/internal/model"
)

// Config configures the cache connection.
type Config struct {
	Host string
	Port int
}

// Cache wraps the Redis client used as the hot mirror of the durable store.
// The client may be swapped by EnsureConnected, so access goes through cl().
type Cache struct {
	mu     sync.Mutex
	opts   *goredis.Options
	client *goredis.Client
	log    zerolog.Logger
}

// New creates the cache client and pings the server within a 5-second budget.
func New(cfg Config, log zerolog.Logger) (*Cache, error) {
	opts := &goredis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Msg("redis connected")
	return &Cache{opts: opts, client: client, log: log}, nil
}

func (c *Cache) cl() *goredis.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.cl() }

// EnsureConnected pings the cache and rebuilds the client only when the ping
// fails. Session reconnect attempts call this in parallel with the TCP dial;
// while the connection is healthy it is a no-op.
func (c *Cache) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.client.Ping(pingCtx).Err(); err == nil {
		return nil
	}

	_ = c.client.Close()
	c.client = goredis.NewClient(c.opts)
	if err := c.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis reconnect: %w", err)
	}
	c.log.Info().Str("addr", c.opts.Addr).Msg("redis reconnected")
	return nil
}

// AppendTick appends the serialized tick to its "ticks_{sym}_{side}" list.
func (c *Cache) AppendTick(ctx context.Context, t model.Tick) error {
	key := model.TickListKey(t.Symbol, t.Side)
	if err := c.cl().RPush(ctx, key, t.JSON()).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

// GetCandle reads a live candle record; returns nil when the key is absent.
func (c *Cache) GetCandle(ctx context.Context, key string) (*model.Candle, error) {
	raw, err := c.cl().Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	var candle model.Candle
	if err := json.Unmarshal(raw, &candle); err != nil {
		return nil, fmt.Errorf("decode candle %s: %w", key, err)
	}
	return &candle, nil
}

// SetCandle writes a live candle record under key.
func (c *Cache) SetCandle(ctx context.Context, key string, candle model.Candle) error {
	if err := c.cl().Set(ctx, key, candle.JSON(), 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// ReplaceList rewrites an entire cache list in one pipeline (DEL then RPUSH).
// Bootstrap uses this to publish snapshots of the durable tables.
func (c *Cache) ReplaceList(ctx context.Context, key string, items [][]byte) error {
	pipe := c.cl().Pipeline()
	pipe.Del(ctx, key)
	if len(items) > 0 {
		args := make([]interface{}, len(items))
		for i, item := range items {
			args[i] = item
		}
		pipe.RPush(ctx, key, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace list %s: %w", key, err)
	}
	return nil
}

// Close releases the client.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client.Close()
}
