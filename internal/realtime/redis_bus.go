package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultRedisChannel = "jobbridge_realtime"

// RedisBusConfig configures cross-process delivery over Redis pub/sub.
type RedisBusConfig struct {
	Address  string
	Password string
	Channel  string
	Local    *Dispatcher
	Logger   *zap.Logger
}

// RedisBus publishes messages through Redis so every process delivers them to
// its own local subscribers.
type RedisBus struct {
	rdb     *goredis.Client
	channel string
	local   *Dispatcher
	logger  *zap.Logger
	clock   func() time.Time
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, cfg RedisBusConfig) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, errors.New("realtime: redis address is required")
	}
	if cfg.Local == nil {
		return nil, errors.New("realtime: local dispatcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	channel := cfg.Channel
	if channel == "" {
		channel = defaultRedisChannel
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("realtime: redis ping: %w", err)
	}
	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		local:   cfg.Local,
		logger:  logger.With(zap.String("component", "redis_bus")),
		clock:   time.Now,
	}, nil
}

// Publish implements Publisher by broadcasting through Redis.
func (b *RedisBus) Publish(ctx context.Context, channel, event string, payload any) error {
	message, err := NewMessage(channel, event, payload, b.clock())
	if err != nil {
		return err
	}
	raw, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes to the Redis channel and delivers every received
// message to the local dispatcher until ctx is done.
func (b *RedisBus) StartForwarder(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("realtime: redis subscribe: %w", err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case received, ok := <-ch:
				if !ok || received == nil {
					return
				}
				b.forward(received.Payload)
			}
		}
	}()
	return nil
}

func (b *RedisBus) forward(payload string) {
	var message Message
	if err := json.Unmarshal([]byte(payload), &message); err != nil || message.Channel == "" {
		b.logger.Warn("dropping malformed realtime payload", zap.Error(err))
		return
	}
	b.local.Deliver(message)
}

// Close releases the Redis client.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
