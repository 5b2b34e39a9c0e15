package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamguard/streamguard/internal/facts"
	"github.com/streamguard/streamguard/internal/retry"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("lookup: cache miss")

// DefaultCacheTTL bounds how stale a cached fact may be.
const DefaultCacheTTL = 5 * time.Minute

const cacheKeyPrefix = "streamguard:facts:"

// Cache is the key-value subset the fact cache needs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache parses a redis:// URL, connects, and pings.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", opts.Addr, err)
	}
	return &RedisCache{rdb: rdb}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return val, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Ping checks connectivity. Used by the health registry.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close shuts down the underlying client.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// CachedStore puts a Cache in front of the beneficiary and session stores.
// Only found records are cached; misses and failures always reach the store
// so the retry executor sees fresh results. Cache errors are logged and
// bypassed.
//
// User history is never cached: a violation recorded after the first lookup
// must be visible to the next judgment.
type CachedStore struct {
	users         UserHistoryStore
	beneficiaries BeneficiaryStore
	sessions      SessionStore
	cache         Cache
	ttl           time.Duration
	logger        *slog.Logger
}

// NewCachedStore wraps the given stores. A non-positive ttl uses
// DefaultCacheTTL.
func NewCachedStore(users UserHistoryStore, beneficiaries BeneficiaryStore, sessions SessionStore, cache Cache, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{
		users:         users,
		beneficiaries: beneficiaries,
		sessions:      sessions,
		cache:         cache,
		ttl:           ttl,
		logger:        logger,
	}
}

func (c *CachedStore) UserHistory(ctx context.Context, userID string) retry.Outcome[facts.UserProfile] {
	return c.users.UserHistory(ctx, userID)
}

func (c *CachedStore) BeneficiaryRisk(ctx context.Context, accountID string) retry.Outcome[facts.BeneficiaryRisk] {
	return cached(ctx, c, "beneficiary:"+accountID, func() retry.Outcome[facts.BeneficiaryRisk] {
		return c.beneficiaries.BeneficiaryRisk(ctx, accountID)
	})
}

func (c *CachedStore) Session(ctx context.Context, transactionID string) retry.Outcome[*SessionRecord] {
	return cached(ctx, c, "session:"+transactionID, func() retry.Outcome[*SessionRecord] {
		return c.sessions.Session(ctx, transactionID)
	})
}

func cached[T any](ctx context.Context, c *CachedStore, key string, load func() retry.Outcome[T]) retry.Outcome[T] {
	key = cacheKeyPrefix + key

	data, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var v T
		jerr := json.Unmarshal(data, &v)
		if jerr == nil {
			cacheRequestsTotal.WithLabelValues("hit").Inc()
			return retry.Found(v)
		}
		cacheRequestsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("corrupt cache entry", "key", key, "error", jerr)
	case errors.Is(err, ErrCacheMiss):
		cacheRequestsTotal.WithLabelValues("miss").Inc()
	default:
		cacheRequestsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("fact cache unavailable", "key", key, "error", err)
	}

	out := load()
	if v, ok := out.Value(); ok {
		if data, err := json.Marshal(v); err == nil {
			if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
				c.logger.Warn("failed to cache fact", "key", key, "error", err)
			}
		}
	}
	return out
}

var (
	_ Cache            = (*RedisCache)(nil)
	_ UserHistoryStore = (*CachedStore)(nil)
	_ BeneficiaryStore = (*CachedStore)(nil)
	_ SessionStore     = (*CachedStore)(nil)
)
