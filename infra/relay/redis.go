package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/fleetcast/core/model"
)

// RedisConfig configures the Redis relay.
type RedisConfig struct {
	// URL is a redis:// connection string.
	URL string `json:"url"`
	// Channel receives every update through PUBLISH.
	Channel string `json:"channel"`
	// Key names a hash holding the latest update per vehicle. Empty disables it.
	Key string `json:"key"`
	// TTL expires the hash when no update arrives for that long.
	TTL time.Duration `json:"ttl"`
}

// RedisRelay publishes updates on a pub/sub channel and keeps the latest
// state per vehicle in a hash.
type RedisRelay struct {
	client  *redis.Client
	channel string
	key     string
	ttl     time.Duration
}

// NewRedisRelay parses cfg.URL and returns a relay. The connection is lazy.
func NewRedisRelay(cfg RedisConfig) (*RedisRelay, error) {
	if cfg.URL == "" {
		cfg.URL = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = "fleet:bus-updates"
	}
	return &RedisRelay{client: redis.NewClient(opts), channel: cfg.Channel, key: cfg.Key, ttl: cfg.TTL}, nil
}

func (r *RedisRelay) Name() string { return "redis" }

func (r *RedisRelay) Publish(ctx context.Context, u model.VehicleUpdate) error {
	b, err := envelope(u)
	if err != nil {
		return err
	}
	if r.key == "" {
		if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
		return nil
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Publish(ctx, r.channel, b)
		p.HSet(ctx, r.key, u.BusID, b)
		if r.ttl > 0 {
			p.Expire(ctx, r.key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *RedisRelay) Close() error { return r.client.Close() }
