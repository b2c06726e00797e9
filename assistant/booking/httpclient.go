// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tabletalk/platform/shared/tenant"
)

// DefaultExecutorTimeout bounds one backend call.
const DefaultExecutorTimeout = 10 * time.Second

// HTTPExecutor forwards actions to the reservation backend over HTTP.
// The backend answers every request with a ToolResult body, including
// domain failures; non-2xx responses are infrastructure errors.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExecutor creates an executor against the given backend base URL.
func NewHTTPExecutor(baseURL string) *HTTPExecutor {
	return &HTTPExecutor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultExecutorTimeout},
	}
}

type executeRequest struct {
	TenantID string         `json:"tenant_id"`
	Action   string         `json:"action"`
	Args     map[string]any `json:"args"`
}

// Execute posts the action to the backend and decodes the ToolResult.
func (e *HTTPExecutor) Execute(ctx context.Context, tc *tenant.Context, action string, args map[string]any) (*ToolResult, error) {
	body, err := json.Marshal(executeRequest{
		TenantID: tc.Restaurant.ID,
		Action:   action,
		Args:     args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/internal/v1/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("booking backend unreachable: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("booking backend returned status %d", resp.StatusCode)
	}

	var result ToolResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode backend response: %w", err)
	}
	return &result, nil
}
