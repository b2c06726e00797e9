// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"tabletalk/platform/shared/tenant"
)

func TestGenerateJSONParsesFencedOutput(t *testing.T) {
	prov := &mockProvider{
		kind: tenant.ProviderOpenAI,
		completeFn: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Content: "```json\n{\"intent\": \"positive\", \"confidence\": 0.95}\n```"}, nil
		},
	}
	router := NewRouter(WithProvider(prov))

	obj, err := router.GenerateJSON(context.Background(), "classify", GenerateOptions{}, testTenant(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj["intent"] != "positive" {
		t.Errorf("obj = %v", obj)
	}
}

func TestGenerateJSONRetriesOnMalformedOutput(t *testing.T) {
	var calls int32
	prov := &mockProvider{
		kind: tenant.ProviderOpenAI,
		completeFn: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			if atomic.AddInt32(&calls, 1) < 2 {
				return &CompletionResponse{Content: "sure, here you go!"}, nil
			}
			return &CompletionResponse{Content: `{"intent": "negative"}`}, nil
		},
	}
	router := NewRouter(WithProvider(prov))

	obj, err := router.GenerateJSON(context.Background(), "classify", GenerateOptions{}, testTenant(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj["intent"] != "negative" {
		t.Errorf("obj = %v", obj)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestGenerateJSONExhaustionReturnsRegisteredDefault(t *testing.T) {
	var calls int32
	prov := &mockProvider{
		kind: tenant.ProviderOpenAI,
		completeFn: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			atomic.AddInt32(&calls, 1)
			return &CompletionResponse{Content: "this is not json"}, nil
		},
	}
	router := NewRouter(
		WithProvider(prov),
		WithJSONDefault("confirmation", map[string]any{"intent": "unclear"}),
	)

	obj, err := router.GenerateJSON(context.Background(), "classify",
		GenerateOptions{AgentContext: "confirmation"}, testTenant(t))
	if err != nil {
		t.Fatalf("fail-soft boundary must not error: %v", err)
	}
	if obj["intent"] != "unclear" {
		t.Errorf("obj = %v, want the registered safe default", obj)
	}

	// Exactly 1 + maxRetries attempts.
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestGenerateJSONRetryPromptCarriesParseError(t *testing.T) {
	var secondPrompt string
	var calls int32
	prov := &mockProvider{
		kind: tenant.ProviderOpenAI,
		completeFn: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			if atomic.AddInt32(&calls, 1) == 2 {
				secondPrompt = req.Prompt
			}
			return &CompletionResponse{Content: "nope"}, nil
		},
	}
	router := NewRouter(WithProvider(prov))

	_, _ = router.GenerateJSON(context.Background(), "classify", GenerateOptions{}, testTenant(t))

	if secondPrompt == "" || secondPrompt == "classify" {
		t.Fatal("retry prompt should differ from the original")
	}
	if !strings.Contains(secondPrompt, "could not be used") {
		t.Errorf("retry prompt missing parse feedback: %q", secondPrompt)
	}
}

func TestGenerateJSONSchemaEnforcesRequiredFields(t *testing.T) {
	var calls int32
	prov := &mockProvider{
		kind: tenant.ProviderOpenAI,
		completeFn: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			if atomic.AddInt32(&calls, 1) < 2 {
				return &CompletionResponse{Content: `{"confidence": 0.9}`}, nil
			}
			return &CompletionResponse{Content: `{"intent": "positive", "confidence": 0.9}`}, nil
		},
	}
	router := NewRouter(WithProvider(prov))

	obj, err := router.GenerateJSON(context.Background(), "classify", GenerateOptions{
		Schema: &JSONSchema{Type: "object", Required: []string{"intent"}},
	}, testTenant(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj["intent"] != "positive" {
		t.Errorf("obj = %v", obj)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want a retry after the schema miss", calls)
	}
}

func TestGenerateJSONAbsorbsTotalProviderFailure(t *testing.T) {
	router := NewRouter(
		WithProvider(failingProvider(tenant.ProviderOpenAI)),
		WithProvider(failingProvider(tenant.ProviderAnthropic)),
		WithJSONDefault("overseer", map[string]any{"action": "none"}),
	)

	obj, err := router.GenerateJSON(context.Background(), "plan",
		GenerateOptions{AgentContext: "overseer"}, testTenant(t))
	if err != nil {
		t.Fatalf("provider failure must be absorbed on the JSON path: %v", err)
	}
	if obj["action"] != "none" {
		t.Errorf("obj = %v", obj)
	}
}

func TestGenerateJSONPropagatesAccessDenied(t *testing.T) {
	router := NewRouter(WithProvider(&mockProvider{kind: tenant.ProviderOpenAI}))

	tc := testTenant(t)
	tc.Restaurant.Status = tenant.StatusSuspended

	_, err := router.GenerateJSON(context.Background(), "classify", GenerateOptions{}, tc)
	var denied *tenant.AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected AccessDeniedError, got %v", err)
	}
}

func TestGenerateJSONDefaultIsCopied(t *testing.T) {
	router := NewRouter(
		WithProvider(failingProvider(tenant.ProviderOpenAI)),
		WithProvider(failingProvider(tenant.ProviderAnthropic)),
		WithJSONDefault("confirmation", map[string]any{"intent": "unclear"}),
	)

	first, _ := router.GenerateJSON(context.Background(), "x",
		GenerateOptions{AgentContext: "confirmation"}, testTenant(t))
	first["intent"] = "mutated"

	second, _ := router.GenerateJSON(context.Background(), "x",
		GenerateOptions{AgentContext: "confirmation"}, testTenant(t))
	if second["intent"] != "unclear" {
		t.Error("registered default must not be mutable through returned copies")
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fence without newline", "```{\"a\":1}```", `{"a":1}`},
		{"surrounding whitespace", "  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFences(tt.in); got != tt.want {
				t.Errorf("StripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
