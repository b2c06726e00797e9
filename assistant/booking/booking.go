// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

// Package booking defines the contract between the conversation core and
// the reservation backend. The core never talks to storage directly; it
// hands fully-gathered, confirmed actions to an Executor and interprets
// the structured result.
package booking

import (
	"context"

	"tabletalk/platform/shared/tenant"
)

// Tool result statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// ErrCodeNameClarificationNeeded signals that the guest-of-record name on
// file differs from the name supplied for this booking. It starts the name
// clarification sub-dialogue instead of failing the turn.
const ErrCodeNameClarificationNeeded = "NAME_CLARIFICATION_NEEDED"

// Action names accepted by Execute.
const (
	ActionCreateReservation = "create_reservation"
	ActionCancelReservation = "cancel_reservation"
)

// ToolError carries a machine-readable failure from the backend.
type ToolError struct {
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ToolResult is the uniform shape every backend operation returns.
type ToolResult struct {
	Status string         `json:"tool_status"`
	Data   map[string]any `json:"data,omitempty"`
	Error  *ToolError     `json:"error,omitempty"`
}

// OK reports whether the operation succeeded.
func (r *ToolResult) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// NeedsNameClarification reports whether the result carries the
// name-mismatch signal, returning the on-file and requested names.
func (r *ToolResult) NeedsNameClarification() (dbName, requestName string, ok bool) {
	if r == nil || r.Error == nil || r.Error.Code != ErrCodeNameClarificationNeeded {
		return "", "", false
	}
	dbName, _ = r.Error.Details["dbName"].(string)
	requestName, _ = r.Error.Details["requestName"].(string)
	return dbName, requestName, true
}

// ReservationID extracts the created reservation id, if present.
func (r *ToolResult) ReservationID() (int64, bool) {
	if r == nil || r.Data == nil {
		return 0, false
	}
	switch v := r.Data["reservation_id"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Executor is implemented by the reservation backend.
type Executor interface {
	// Execute runs a named action with the gathered arguments. It returns
	// an error only for infrastructure failures; domain failures come back
	// inside the ToolResult.
	Execute(ctx context.Context, tc *tenant.Context, action string, args map[string]any) (*ToolResult, error)
}
