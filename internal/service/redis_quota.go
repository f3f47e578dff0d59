package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/parley/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrFailedToParseRedisURL = errors.New("failed to parse redis connection string")
	ErrRedisNotReady         = errors.New("redis did not become ready within the given time period")
)

// RedisConfig controls how the Redis client is established.
type RedisConfig struct {
	URL            string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

// DefaultRedisConfig returns connection defaults for url.
func DefaultRedisConfig(url string) RedisConfig {
	return RedisConfig{
		URL:            url,
		RetryAttempts:  3,
		RetryInterval:  5 * time.Second,
		ConnectTimeout: 30 * time.Second,
	}
}

// ConnectRedis parses cfg.URL and pings the server, retrying up to
// cfg.RetryAttempts times.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisURL, err)
	}

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for range attempts {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, ErrRedisNotReady
}

// usageKeyTTL keeps a day's counter around after the day starts. Two days
// covers every UTC offset.
const usageKeyTTL = 48 * time.Hour

// RedisQuotaStore keeps daily counters as plain Redis integers. INCR is
// atomic, so concurrent sends are serialized by the server. Per-user limit
// overrides are not stored here; GetUsage reports Limit 0 and the
// configured default applies.
type RedisQuotaStore struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisQuotaStore creates a Redis-backed usage store.
func NewRedisQuotaStore(client redis.UniversalClient, logger *slog.Logger) *RedisQuotaStore {
	return &RedisQuotaStore{
		client: client,
		prefix: "parley",
		logger: logger,
	}
}

func (s *RedisQuotaStore) GetUsage(ctx context.Context, userID uuid.UUID, day domain.Day) (domain.Usage, error) {
	const op = "usage.get"

	n, err := s.client.Get(ctx, s.key(userID, day)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Usage{}, nil
		}
		return domain.Usage{}, domain.Internal(err, op, "failed to read daily usage")
	}
	return domain.Usage{Used: n}, nil
}

func (s *RedisQuotaStore) IncrementUsage(ctx context.Context, userID uuid.UUID, day domain.Day) (int, error) {
	const op = "usage.increment"

	start, err := dayToDate(day)
	if err != nil {
		return 0, domain.Invalid(op, err.Error())
	}
	key := s.key(userID, day)

	var incr *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, start.Add(usageKeyTTL))
		return nil
	})
	if err != nil {
		return 0, domain.Internal(err, op, "failed to increment daily usage")
	}

	return int(incr.Val()), nil
}

// Ping reports whether the server is reachable.
func (s *RedisQuotaStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisQuotaStore) key(userID uuid.UUID, day domain.Day) string {
	return fmt.Sprintf("%s:usage:%s:%s", s.prefix, userID, day)
}
