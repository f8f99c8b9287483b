package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harbinger-io/harbinger/internal/domain/model"
)

// Redis key layout.
const (
	scoreKeyPrefix = "harbinger:score:"
	summaryHashKey = "harbinger:summaries"
)

// RedisStore implements Store on Redis: per-VIN score keys with native
// TTL expiry, plus a summary hash for the job-start snapshot read.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Close releases the client's connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Put stores a result under its VIN with the result's own TTL, and
// updates the summary hash in the same pipeline.
func (s *RedisStore) Put(ctx context.Context, r model.RiskScoreResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	summary, err := json.Marshal(Summary{Posterior: r.Posterior, CohortID: r.CohortID})
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	ttl := time.Until(r.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, scoreKeyPrefix+r.VIN, payload, ttl)
	pipe.HSet(ctx, summaryHashKey, r.VIN, summary)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Get returns the current result for a VIN. A key Redis already expired
// reports ErrExpired when the summary hash still knows the VIN, and
// ErrNotFound otherwise.
func (s *RedisStore) Get(ctx context.Context, vin string) (model.RiskScoreResult, error) {
	val, err := s.client.Get(ctx, scoreKeyPrefix+vin).Bytes()
	if errors.Is(err, redis.Nil) {
		known, herr := s.client.HExists(ctx, summaryHashKey, vin).Result()
		if herr == nil && known {
			return model.RiskScoreResult{}, ErrExpired
		}
		return model.RiskScoreResult{}, ErrNotFound
	}
	if err != nil {
		return model.RiskScoreResult{}, fmt.Errorf("redis get failed: %w", err)
	}

	var r model.RiskScoreResult
	if err := json.Unmarshal(val, &r); err != nil {
		return model.RiskScoreResult{}, fmt.Errorf("unmarshal result: %w", err)
	}
	return r, nil
}

// Summaries reads the whole summary hash.
func (s *RedisStore) Summaries(ctx context.Context) (map[string]Summary, error) {
	raw, err := s.client.HGetAll(ctx, summaryHashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	out := make(map[string]Summary, len(raw))
	for vin, payload := range raw {
		var sm Summary
		if err := json.Unmarshal([]byte(payload), &sm); err != nil {
			return nil, fmt.Errorf("unmarshal summary for %s: %w", vin, err)
		}
		out[vin] = sm
	}
	return out, nil
}

// Count returns the number of tracked VINs.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, summaryHashKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hlen failed: %w", err)
	}
	return int(n), nil
}
