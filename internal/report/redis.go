package report

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/print-slicer/backend/internal/models"
)

// RedisConfig configures the report publisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	TTL      time.Duration
}

// RedisPublisher publishes msgpack-encoded batch reports to a channel and
// keeps the latest report per batch under "slicer:report:<id>".
type RedisPublisher struct {
	client  *redis.Client
	channel string
	ttl     time.Duration
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisPublisherWithClient(client, cfg.Channel, cfg.TTL), nil
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client *redis.Client, channel string, ttl time.Duration) *RedisPublisher {
	if channel == "" {
		channel = "slicer:batches"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisPublisher{client: client, channel: channel, ttl: ttl}
}

// ReportKey returns the key holding the stored report of batchID.
func ReportKey(batchID string) string { return "slicer:report:" + batchID }

// Publish stores and broadcasts report.
func (p *RedisPublisher) Publish(ctx context.Context, report models.BatchReport) error {
	data, err := msgpack.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	pipe := p.client.TxPipeline()
	pipe.Set(ctx, ReportKey(report.BatchID), data, p.ttl)
	pipe.Publish(ctx, p.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return &DeliveryError{Target: "redis " + p.channel, Transport: true, Err: err}
	}
	return nil
}

// Load returns the stored report of batchID.
func (p *RedisPublisher) Load(ctx context.Context, batchID string) (*models.BatchReport, error) {
	data, err := p.client.Get(ctx, ReportKey(batchID)).Bytes()
	if err != nil {
		return nil, err
	}
	var report models.BatchReport
	if err := msgpack.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &report, nil
}

// Close closes the underlying client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
