// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package usage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the process-local Store used when no shared backend is
// configured. Counters are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	tenants map[string]*Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*Snapshot)}
}

// Record implements Store.
func (s *MemoryStore) Record(ctx context.Context, tenantID string, tokens int, at time.Time) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.tenants[tenantID]
	if !ok {
		snap = &Snapshot{}
		s.tenants[tenantID] = snap
	}

	if !snap.LastRequestAt.IsZero() && !sameBillingMonth(snap.LastRequestAt, at) {
		snap.MonthlyRequests = 0
		snap.MonthlyTokens = 0
	}

	snap.MonthlyRequests++
	snap.MonthlyTokens += tokens
	snap.TotalRequests++
	snap.LastRequestAt = at

	return *snap, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, tenantID string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.tenants[tenantID]
	if !ok {
		return Snapshot{}, false, nil
	}
	return *snap, true, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap, ok := s.tenants[tenantID]; ok {
		snap.MonthlyRequests = 0
		snap.MonthlyTokens = 0
	}
	return nil
}
