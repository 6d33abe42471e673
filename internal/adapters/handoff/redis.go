package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/okian/readyroom/internal/domain/session"
	"github.com/okian/readyroom/pkg/logger"
)

const (
	defaultKeyPrefix = "readyroom:handoff:"
	defaultTTL       = 2 * time.Hour
)

// RedisConfig holds the redis connection settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisStore keeps handoffs in redis so another process can read them.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger logger.Logger
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, log logger.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	s := newRedisStore(client, cfg, log)
	s.logger.Info(ctx, "connected to redis handoff store", logger.String("addr", cfg.Addr), logger.Int("db", cfg.DB))
	return s, nil
}

func newRedisStore(client *redis.Client, cfg RedisConfig, log logger.Logger) *RedisStore {
	if log == nil {
		log = logger.Get().Named("handoff")
	}
	s := &RedisStore{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL, logger: log}
	if s.prefix == "" {
		s.prefix = defaultKeyPrefix
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	return s
}

func (s *RedisStore) key(sessionID string) string { return s.prefix + sessionID }

func (s *RedisStore) Publish(ctx context.Context, h session.Handoff) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode handoff: %w", err)
	}
	if err := s.client.Set(ctx, s.key(h.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store handoff: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (session.Handoff, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Handoff{}, ErrNotFound
	}
	if err != nil {
		return session.Handoff{}, fmt.Errorf("load handoff: %w", err)
	}
	var h session.Handoff
	if err := json.Unmarshal(data, &h); err != nil {
		return session.Handoff{}, fmt.Errorf("decode handoff: %w", err)
	}
	return h, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
