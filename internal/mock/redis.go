package mock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
)

// RedisConfig holds configuration for the Redis state store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Key is the key holding the flag. Changes are also published on
	// Key + ":events".
	Key string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Address:      "localhost:6379",
		Key:          "apiclient:mock:enabled",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisStore shares the flag between processes through Redis.
type RedisStore struct {
	client *redis.Client
	key    string
	logger observability.Logger

	mu     sync.Mutex
	closed bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisLogger sets the logger for the store.
func WithRedisLogger(logger observability.Logger) RedisOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, opts ...RedisOption) (*RedisStore, error) {
	defaults := DefaultRedisConfig()
	if cfg.Key == "" {
		cfg.Key = defaults.Key
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	s := &RedisStore{
		client: client,
		key:    cfg.Key,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info("connected to Redis mock state store",
		observability.String("address", cfg.Address),
		observability.String("key", cfg.Key),
	)
	return s, nil
}

// Load implements StateStore.
func (s *RedisStore) Load(ctx context.Context) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load mock state: %w", err)
	}

	enabled, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid mock state %q: %w", val, err)
	}
	return enabled, nil
}

// Save implements StateStore. It stores the flag and publishes the change.
func (s *RedisStore) Save(ctx context.Context, enabled bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	val := strconv.FormatBool(enabled)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key, val, 0)
		pipe.Publish(ctx, s.channel(), val)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save mock state: %w", err)
	}
	return nil
}

// Subscribe implements Watcher. It returns once Redis has confirmed the
// subscription.
func (s *RedisStore) Subscribe(ctx context.Context) (Changes, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	pubsub := s.client.Subscribe(ctx, s.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to mock state changes: %w", err)
	}
	return &redisChanges{pubsub: pubsub, logger: s.logger}, nil
}

// redisChanges reads flag changes from a confirmed subscription.
type redisChanges struct {
	pubsub *redis.PubSub
	logger observability.Logger
}

func (c *redisChanges) Run(ctx context.Context, fn func(enabled bool)) error {
	ch := c.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			enabled, err := strconv.ParseBool(msg.Payload)
			if err != nil {
				c.logger.Warn("ignoring invalid mock state change",
					observability.String("payload", msg.Payload),
				)
				continue
			}
			fn(enabled)
		}
	}
}

func (c *redisChanges) Close() error {
	return c.pubsub.Close()
}

// Close implements StateStore.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) channel() string {
	return s.key + ":events"
}

func (s *RedisStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("redis mock state store is closed")
	}
	return nil
}
