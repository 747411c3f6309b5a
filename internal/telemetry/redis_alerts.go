package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/careguard/internal/config"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultAlertChannel = "careguard:security-alerts"
	publishTimeout      = 2 * time.Second
)

// NewRedisClient opens a client for the alert fan-out. It does not dial
// until first use.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// RedisAlertPublisher fans new alerts out on a Redis pub/sub channel for
// dashboards and on-call tooling.
type RedisAlertPublisher struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

func NewRedisAlertPublisher(client redis.UniversalClient, channel string, logger *slog.Logger) *RedisAlertPublisher {
	if channel == "" {
		channel = DefaultAlertChannel
	}
	return &RedisAlertPublisher{client: client, channel: channel, logger: logger}
}

// Channel returns the pub/sub channel alerts are published on.
func (p *RedisAlertPublisher) Channel() string {
	return p.channel
}

// Publish sends alert to the channel. It matches the alert callback
// signature, so failures are logged rather than returned.
func (p *RedisAlertPublisher) Publish(alert models.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.PublishContext(ctx, alert); err != nil {
		p.logger.Warn("failed to publish alert",
			slog.String("alert_id", alert.ID),
			slog.Any("error", err),
		)
	}
}

func (p *RedisAlertPublisher) PublishContext(ctx context.Context, alert models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (p *RedisAlertPublisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
