// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"

	"tabletalk/platform/shared/tenant"
)

// Provider is the unified interface for all LLM providers.
// Implementations must be safe for concurrent use.
//
// Both methods honor context cancellation; the router wraps every call in
// a per-call deadline, and a deadline hit is indistinguishable from any
// other provider failure for circuit-breaker accounting.
type Provider interface {
	// Kind returns the provider identity used for routing, breaker
	// lookup, logging, and metrics.
	Kind() tenant.ProviderKind

	// Complete generates a plain-text completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ChatComplete generates a chat completion, including native tool
	// calling. Adapters for non-primary providers translate the uniform
	// (OpenAI-shaped) message list into their own wire format and map
	// the response back.
	ChatComplete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
