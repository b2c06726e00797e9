// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package usage

import (
	"database/sql"
	"log"
)

// Recorder persists individual AI request events to PostgreSQL for
// offline billing and analytics. Write failures are logged and swallowed:
// a billing hiccup must never fail a user turn.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a recorder with a database connection.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// AIRequestEvent represents a single provider call to be recorded.
type AIRequestEvent struct {
	TenantID         string
	SessionID        string // Optional: conversation this call belongs to
	Provider         string // "openai", "anthropic"
	Model            string
	AgentContext     string // "confirmation", "translation", "booking", ...
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMs        int64
	Success          bool
	FellBack         bool // True when the secondary provider served this call
}

// RecordAIRequest records an AI request event with token usage and cost.
func (r *Recorder) RecordAIRequest(event AIRequestEvent) error {
	costCents := CalculateCost(event.Provider, event.Model,
		event.PromptTokens, event.CompletionTokens)

	_, err := r.db.Exec(`
		INSERT INTO ai_usage_events (
			tenant_id, session_id, provider, model, agent_context,
			prompt_tokens, completion_tokens, total_tokens,
			estimated_cost_cents, latency_ms, success, fell_back
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, event.TenantID, nullString(event.SessionID), event.Provider,
		event.Model, event.AgentContext, event.PromptTokens,
		event.CompletionTokens, event.TotalTokens, costCents,
		event.LatencyMs, event.Success, event.FellBack)

	if err != nil {
		log.Printf("[USAGE] Failed to record AI request: %v", err)
	}

	return err
}

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
