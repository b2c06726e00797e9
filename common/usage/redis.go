// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps per-tenant counters in a Redis hash so multiple
// assistant instances share one view of tenant usage.
//
// Key layout: tabletalk:usage:<tenant> with fields monthly_requests,
// monthly_tokens, total_requests, last_request_unix and month ("2006-01").
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Store backed by the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func usageKey(tenantID string) string {
	return "tabletalk:usage:" + tenantID
}

// Record implements Store.
func (s *RedisStore) Record(ctx context.Context, tenantID string, tokens int, at time.Time) (Snapshot, error) {
	key := usageKey(tenantID)
	month := at.UTC().Format("2006-01")

	stored, err := s.client.HGet(ctx, key, "month").Result()
	if err != nil && err != redis.Nil {
		return Snapshot{}, fmt.Errorf("usage: read month for %s: %w", tenantID, err)
	}

	pipe := s.client.TxPipeline()
	if stored != month {
		// New billing month: zero the monthly counters before counting.
		pipe.HSet(ctx, key, "monthly_requests", 0, "monthly_tokens", 0)
	}
	monthlyReqs := pipe.HIncrBy(ctx, key, "monthly_requests", 1)
	monthlyToks := pipe.HIncrBy(ctx, key, "monthly_tokens", int64(tokens))
	totalReqs := pipe.HIncrBy(ctx, key, "total_requests", 1)
	pipe.HSet(ctx, key, "month", month, "last_request_unix", at.UTC().Unix())

	if _, err := pipe.Exec(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("usage: record for %s: %w", tenantID, err)
	}

	return Snapshot{
		MonthlyRequests: int(monthlyReqs.Val()),
		MonthlyTokens:   int(monthlyToks.Val()),
		TotalRequests:   int(totalReqs.Val()),
		LastRequestAt:   at.UTC(),
	}, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, tenantID string) (Snapshot, bool, error) {
	fields, err := s.client.HGetAll(ctx, usageKey(tenantID)).Result()
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("usage: get for %s: %w", tenantID, err)
	}
	if len(fields) == 0 {
		return Snapshot{}, false, nil
	}

	snap := Snapshot{
		MonthlyRequests: atoi(fields["monthly_requests"]),
		MonthlyTokens:   atoi(fields["monthly_tokens"]),
		TotalRequests:   atoi(fields["total_requests"]),
	}
	if unix := atoi(fields["last_request_unix"]); unix > 0 {
		snap.LastRequestAt = time.Unix(int64(unix), 0).UTC()
	}
	return snap, true, nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context, tenantID string) error {
	err := s.client.HSet(ctx, usageKey(tenantID), "monthly_requests", 0, "monthly_tokens", 0).Err()
	if err != nil {
		return fmt.Errorf("usage: reset for %s: %w", tenantID, err)
	}
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
