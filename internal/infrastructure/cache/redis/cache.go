package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

// Cache keeps the most recent normalized tick per pair in a redis hash so the
// REST surface can answer "what's the price right now" without touching the
// aggregate store.
type Cache struct {
	rdb       *redis.Client
	keyLatest string
	ttl       time.Duration
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = "pricepulse"
	}
	return &Cache{
		rdb:       rdb,
		keyLatest: prefix + ":latest",
		ttl:       ttl,
	}
}

func (c *Cache) SetLatest(ctx context.Context, tick domain.NormalizedTick) error {
	b, err := json.Marshal(tick)
	if err != nil {
		return err
	}

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, c.keyLatest, string(tick.Pair), string(b))
	if c.ttl > 0 {
		pipe.Expire(ctx, c.keyLatest, c.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Cache) Latest(ctx context.Context) ([]domain.NormalizedTick, error) {
	fields, err := c.rdb.HGetAll(ctx, c.keyLatest).Result()
	if err != nil {
		return nil, fmt.Errorf("read latest ticks: %w", err)
	}

	out := make([]domain.NormalizedTick, 0, len(fields))
	for _, pair := range domain.Pairs {
		raw, ok := fields[string(pair)]
		if !ok {
			continue
		}
		var tick domain.NormalizedTick
		if err := json.Unmarshal([]byte(raw), &tick); err != nil {
			continue
		}
		out = append(out, tick)
	}
	return out, nil
}

var _ port.LatestCache = (*Cache)(nil)
