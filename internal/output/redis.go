package output

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/torosent/gamestorm/internal/metrics"
)

// Publisher is the subset of *redis.Client used to fan snapshots out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes every snapshot as JSON on one channel.
type RedisPublisher struct {
	client  Publisher
	channel string
	timeout time.Duration
	closer  func() error
}

// DialRedis connects to url and verifies the connection with a PING.
func DialRedis(ctx context.Context, url, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	p := NewRedisPublisher(client, channel)
	p.closer = client.Close
	return p, nil
}

// NewRedisPublisher wraps an existing client.
func NewRedisPublisher(client Publisher, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, timeout: 2 * time.Second}
}

func (p *RedisPublisher) Channel() string { return p.channel }

func (p *RedisPublisher) WriteSnapshot(s metrics.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.client.Publish(ctx, p.channel, payload).Err()
}

func (p *RedisPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
