// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package usage

import (
	"context"
	"time"
)

// Snapshot is the usage state for one tenant. Monthly counters reset when
// a request arrives in a new calendar month relative to LastRequestAt.
type Snapshot struct {
	MonthlyRequests int       `json:"monthly_requests"`
	MonthlyTokens   int       `json:"monthly_tokens"`
	TotalRequests   int       `json:"total_requests"`
	LastRequestAt   time.Time `json:"last_request_at"`
}

// sameBillingMonth reports whether two instants fall in the same calendar
// month (UTC).
func sameBillingMonth(a, b time.Time) bool {
	au, bu := a.UTC(), b.UTC()
	return au.Year() == bu.Year() && au.Month() == bu.Month()
}

// Store tracks per-tenant usage counters. Implementations must be safe
// for concurrent use. Entries are lazily created on first request per
// tenant and never explicitly destroyed; Reset exists for billing cycles.
type Store interface {
	// Record counts one request with the given token usage and returns
	// the snapshot after the update. Failed provider calls are recorded
	// with zero tokens so the request still shows up in billing.
	Record(ctx context.Context, tenantID string, tokens int, at time.Time) (Snapshot, error)

	// Get returns the current snapshot for a tenant.
	Get(ctx context.Context, tenantID string) (Snapshot, bool, error)

	// Reset zeroes the monthly counters for a tenant.
	Reset(ctx context.Context, tenantID string) error
}
