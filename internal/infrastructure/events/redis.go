package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/ports"
)

const (
	DefaultChannel   = "sea-bridge:session"
	DefaultLatestKey = "sea-bridge:session:latest"
	defaultLatestTTL = 24 * time.Hour
)

// RedisConfig addresses the Redis server and naming.
type RedisConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	Channel   string
	LatestKey string
}

// RedisPublisher publishes every snapshot as JSON on a channel and keeps the
// most recent one under a key for late readers.
type RedisPublisher struct {
	client    *redis.Client
	channel   string
	latestKey string
	ttl       time.Duration
	logger    *slog.Logger
}

var _ ports.SessionObserver = (*RedisPublisher)(nil)

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisPublisher(client, cfg, logger), nil
}

func newRedisPublisher(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &RedisPublisher{
		client:    client,
		channel:   cfg.Channel,
		latestKey: cfg.LatestKey,
		ttl:       defaultLatestTTL,
		logger:    logger,
	}
	if p.channel == "" {
		p.channel = DefaultChannel
	}
	if p.latestKey == "" {
		p.latestKey = DefaultLatestKey
	}
	return p
}

// OnTransition implements ports.SessionObserver. Failures are logged only;
// the session run never depends on Redis.
func (p *RedisPublisher) OnTransition(ctx context.Context, snap domain.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		p.logger.Warn("events.redis.encode_failed", "session_id", snap.SessionID, "error", err)
		return
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.latestKey, payload, p.ttl)
	pipe.Publish(ctx, p.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Warn("events.redis.publish_failed", "session_id", snap.SessionID, "error", err)
	}
}

// Latest returns the most recently published snapshot.
func (p *RedisPublisher) Latest(ctx context.Context) (domain.Snapshot, bool, error) {
	raw, err := p.client.Get(ctx, p.latestKey).Bytes()
	if err == redis.Nil {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Subscribe streams snapshots until ctx is cancelled.
func (p *RedisPublisher) Subscribe(ctx context.Context) (<-chan domain.Snapshot, error) {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan domain.Snapshot)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var snap domain.Snapshot
				if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
					p.logger.Warn("events.redis.decode_failed", "error", err)
					continue
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the connection pool.
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
