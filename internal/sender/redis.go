package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"bundleactivator/internal/config"
	"bundleactivator/internal/logger"
	"bundleactivator/internal/network"
)

// RedisSender appends events to a Redis stream, trimmed to MaxLen entries.
type RedisSender struct {
	client *redis.Client
	stream string
	maxLen int64
	mu     sync.RWMutex
	closed bool
}

// NewRedisSender creates a Redis stream sender. Traffic goes through the
// SOCKS5 proxy when one is configured.
func NewRedisSender(cfg config.RedisConfig, socksCfg config.SOCKSConfig) (*RedisSender, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis sender requires an address")
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("redis sender requires a stream name")
	}

	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if dial := network.ContextDialerFunc(socksCfg.Host, socksCfg.Port); dial != nil {
		opts.Dialer = dial
	}

	log := logger.WithComponent("redis-sender")
	log.Info().
		Str("address", cfg.Address).
		Int("db", cfg.DB).
		Str("stream", cfg.Stream).
		Int64("max_len", cfg.MaxLen).
		Bool("socks", socksCfg.Host != "").
		Msg("RedisSender initialized")

	return &RedisSender{
		client: redis.NewClient(opts),
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
	}, nil
}

// Send appends one event to the stream.
func (s *RedisSender) Send(ctx context.Context, ev *Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("sender is closed")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Values: map[string]interface{}{
			"kind":   string(ev.Kind),
			"bundle": ev.Bundle,
			"status": ev.Status,
			"event":  string(payload),
		},
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append event to stream %s: %w", s.stream, err)
	}
	return nil
}

// SendBatch appends events in a single pipeline round trip.
func (s *RedisSender) SendBatch(ctx context.Context, evs []*Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("sender is closed")
	}

	pipe := s.client.Pipeline()
	for _, ev := range evs {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Values: map[string]interface{}{
				"kind":   string(ev.Kind),
				"bundle": ev.Bundle,
				"status": ev.Status,
				"event":  string(payload),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append events to stream %s: %w", s.stream, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
