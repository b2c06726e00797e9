// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

// Package assistant implements the conversation core: the booking agent
// loop, the confirmation and name-clarification state machine, and the
// session state they operate on. Provider access goes through the llm
// router; reservation execution goes through the booking contract.
package assistant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tabletalk/platform/assistant/llm"
	"tabletalk/platform/shared/tenant"
)

// Turn is one entry of the conversation history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingConfirmation is a completed-but-unconfirmed action waiting for an
// explicit user yes/no.
type PendingConfirmation struct {
	Action    string         `json:"action"`
	Args      map[string]any `json:"args"`
	Summary   string         `json:"summary"`
	CreatedAt time.Time      `json:"created_at"`
}

// PendingNameClarification is the sub-dialogue state for resolving a
// mismatch between the on-file guest name and the requested name.
type PendingNameClarification struct {
	DBName         string         `json:"db_name"`
	RequestName    string         `json:"request_name"`
	OriginalAction string         `json:"original_action"`
	OriginalArgs   map[string]any `json:"original_args"`
	Attempts       int            `json:"attempts"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Session is the unit of conversational state. The two pending fields are
// mutually exclusive; use the setters so clearing one never leaves the
// other set.
type Session struct {
	mu sync.Mutex

	ID       string
	Tenant   *tenant.Context
	Language string

	History       []Turn
	GatheringInfo map[string]any
	CurrentAgent  string

	pendingConfirmation      *PendingConfirmation
	pendingNameClarification *PendingNameClarification
}

// NewSession creates a session bound to a tenant.
func NewSession(id string, tc *tenant.Context, language string) *Session {
	return &Session{
		ID:            id,
		Tenant:        tc,
		Language:      language,
		GatheringInfo: make(map[string]any),
	}
}

// Lock serializes turns for this session. Two messages arriving close
// together must not both read and mutate the pending state; the second
// waits for the first turn to finish.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// AppendTurn records a conversation turn.
func (s *Session) AppendTurn(role, content string) {
	s.History = append(s.History, Turn{Role: role, Content: content, Timestamp: time.Now().UTC()})
}

// MergeGatheringInfo folds extracted booking fields into the session so
// the executed action and the persisted state never diverge.
func (s *Session) MergeGatheringInfo(fields map[string]any) {
	if s.GatheringInfo == nil {
		s.GatheringInfo = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		s.GatheringInfo[k] = v
	}
}

// PendingConfirmation returns the pending confirmation, if any.
func (s *Session) PendingConfirmation() *PendingConfirmation {
	return s.pendingConfirmation
}

// PendingNameClarification returns the pending clarification, if any.
func (s *Session) PendingNameClarification() *PendingNameClarification {
	return s.pendingNameClarification
}

// HasPending reports whether any pending state exists.
func (s *Session) HasPending() bool {
	return s.pendingConfirmation != nil || s.pendingNameClarification != nil
}

// SetPendingConfirmation stores a pending confirmation, displacing any
// pending clarification.
func (s *Session) SetPendingConfirmation(p *PendingConfirmation) {
	s.pendingNameClarification = nil
	s.pendingConfirmation = p
}

// SetPendingNameClarification stores a pending clarification, displacing
// any pending confirmation.
func (s *Session) SetPendingNameClarification(p *PendingNameClarification) {
	s.pendingConfirmation = nil
	s.pendingNameClarification = p
}

// ClearPending removes both pending states.
func (s *Session) ClearPending() {
	s.pendingConfirmation = nil
	s.pendingNameClarification = nil
}

// ChatHistory converts the session history into chat messages for the
// provider, keeping at most the last limit turns.
func (s *Session) ChatHistory(limit int) []llm.ChatMessage {
	turns := s.History
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]llm.ChatMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, llm.ChatMessage{Role: t.Role, Content: t.Content})
	}
	return out
}

// SessionStore resolves session ids to sessions.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
}

// MemorySessionStore is a process-local session store.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

// Put registers a session.
func (m *MemorySessionStore) Put(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

// Get returns the session for the id.
func (m *MemorySessionStore) Get(_ context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	return s, nil
}
