package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// redisEnvelope is the stored cache record. Expiry is enforced both by the
// Redis key TTL and by a client-side check, so a clock-skewed server can
// never hand back a stale price.
type redisEnvelope struct {
	Quote     Quote     `json:"quote"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedisCache is a QuoteCache backed by Redis, for deployments where several
// workers share one quote budget. Redis errors degrade to cache misses.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds connection settings for the shared quote cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NewRedisCache creates a Redis-backed quote cache.
func NewRedisCache(cfg RedisConfig) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})

	return &RedisCache{client: client, keyPrefix: "riskcore:quote:"}
}

// Get returns the live quote for symbol, treating errors, unparseable
// payloads, and expired entries as misses.
func (r *RedisCache) Get(symbol string) (Quote, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	raw, err := r.client.Get(ctx, r.keyPrefix+symbol).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("quote cache read failed")
		}
		return Quote{}, false
	}

	var env redisEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("quote cache entry corrupt")
		r.Invalidate(symbol)
		return Quote{}, false
	}

	if !time.Now().Before(env.ExpiresAt) {
		r.Invalidate(symbol)
		return Quote{}, false
	}

	return env.Quote, true
}

// Put stores the quote for symbol with the given TTL.
func (r *RedisCache) Put(symbol string, q Quote, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	now := time.Now()
	env := redisEnvelope{Quote: q, CachedAt: now, ExpiresAt: now.Add(ttl)}
	data, err := json.Marshal(env)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("quote cache encode failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := r.client.Set(ctx, r.keyPrefix+symbol, data, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("quote cache write failed")
	}
}

// Invalidate drops the entry for symbol.
func (r *RedisCache) Invalidate(symbol string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := r.client.Del(ctx, r.keyPrefix+symbol).Err(); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("quote cache delete failed")
	}
}

// Close releases the Redis connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
