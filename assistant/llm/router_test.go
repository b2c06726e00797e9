// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tabletalk/platform/common/usage"
	"tabletalk/platform/shared/i18n"
	"tabletalk/platform/shared/tenant"
)

// mockProvider is a scriptable Provider for router tests.
type mockProvider struct {
	kind       tenant.ProviderKind
	calls      int32
	chatCalls  int32
	completeFn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	chatFn     func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

func (m *mockProvider) Kind() tenant.ProviderKind { return m.kind }

func (m *mockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.completeFn != nil {
		return m.completeFn(ctx, req)
	}
	return &CompletionResponse{
		Content: "ok from " + string(m.kind),
		Model:   req.Model,
		Usage:   UsageStats{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (m *mockProvider) ChatComplete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	atomic.AddInt32(&m.chatCalls, 1)
	if m.chatFn != nil {
		return m.chatFn(ctx, req)
	}
	return &ChatResponse{
		Message:      ChatMessage{Role: RoleAssistant, Content: "chat ok from " + string(m.kind)},
		FinishReason: "stop",
		Model:        req.Model,
		Usage:        UsageStats{TotalTokens: 20},
	}, nil
}

func failingProvider(kind tenant.ProviderKind) *mockProvider {
	return &mockProvider{
		kind: kind,
		completeFn: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			return nil, NewProviderError(string(kind), ErrCodeServerError, "boom")
		},
		chatFn: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
			return nil, NewProviderError(string(kind), ErrCodeServerError, "boom")
		},
	}
}

func testTenant(t *testing.T) *tenant.Context {
	t.Helper()
	tc, err := tenant.NewContext("rest-1", "pro", tenant.StatusActive,
		"gpt-4o", "claude-3-5-haiku-20241022", 0.7, true)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return tc
}

func TestGenerateContentAccessDenied(t *testing.T) {
	primary := &mockProvider{kind: tenant.ProviderOpenAI}
	router := NewRouter(WithProvider(primary))

	t.Run("nil tenant context", func(t *testing.T) {
		_, err := router.GenerateContent(context.Background(), "hi", GenerateOptions{}, nil)
		var denied *tenant.AccessDeniedError
		if !errors.As(err, &denied) {
			t.Fatalf("expected AccessDeniedError, got %v", err)
		}
	})

	t.Run("feature disabled", func(t *testing.T) {
		tc := testTenant(t)
		tc.Features.AIChat = false
		_, err := router.GenerateContent(context.Background(), "hi", GenerateOptions{}, tc)
		var denied *tenant.AccessDeniedError
		if !errors.As(err, &denied) {
			t.Fatalf("expected AccessDeniedError, got %v", err)
		}
	})

	if atomic.LoadInt32(&primary.calls) != 0 {
		t.Error("denied requests must not reach any provider")
	}
}

func TestGenerateContentPrimarySuccess(t *testing.T) {
	primary := &mockProvider{kind: tenant.ProviderOpenAI}
	secondary := &mockProvider{kind: tenant.ProviderAnthropic}
	store := usage.NewMemoryStore()
	router := NewRouter(WithProvider(primary), WithProvider(secondary), WithUsageStore(store))

	content, err := router.GenerateContent(context.Background(), "hi", GenerateOptions{}, testTenant(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "ok from openai" {
		t.Errorf("content = %q", content)
	}
	if atomic.LoadInt32(&secondary.calls) != 0 {
		t.Error("secondary should not be called when primary succeeds")
	}

	snap, ok, _ := store.Get(context.Background(), "rest-1")
	if !ok || snap.MonthlyRequests != 1 || snap.MonthlyTokens != 15 {
		t.Errorf("usage not recorded: %+v", snap)
	}
}

func TestGenerateContentFailover(t *testing.T) {
	primary := failingProvider(tenant.ProviderOpenAI)
	secondary := &mockProvider{kind: tenant.ProviderAnthropic}
	router := NewRouter(WithProvider(primary), WithProvider(secondary))

	content, err := router.GenerateContent(context.Background(), "hi", GenerateOptions{}, testTenant(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "ok from anthropic" {
		t.Errorf("content = %q, want the secondary's response", content)
	}
	if secondary.completeFn == nil && atomic.LoadInt32(&secondary.calls) != 1 {
		t.Error("secondary should have served the request")
	}
}

func TestGenerateContentSecondaryUsesFallbackModel(t *testing.T) {
	primary := failingProvider(tenant.ProviderOpenAI)
	var gotModel string
	secondary := &mockProvider{
		kind: tenant.ProviderAnthropic,
		completeFn: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			gotModel = req.Model
			return &CompletionResponse{Content: "ok", Model: req.Model}, nil
		},
	}
	router := NewRouter(WithProvider(primary), WithProvider(secondary))

	_, err := router.GenerateContent(context.Background(), "hi", GenerateOptions{}, testTenant(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotModel != "claude-3-5-haiku-20241022" {
		t.Errorf("secondary model = %q, want the tenant's fallback model", gotModel)
	}
}

func TestGenerateContentAllProvidersFailed(t *testing.T) {
	store := usage.NewMemoryStore()
	router := NewRouter(
		WithProvider(failingProvider(tenant.ProviderOpenAI)),
		WithProvider(failingProvider(tenant.ProviderAnthropic)),
		WithUsageStore(store),
	)

	_, err := router.GenerateContent(context.Background(), "hi", GenerateOptions{}, testTenant(t))
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "openai") || !strings.Contains(err.Error(), "anthropic") {
		t.Errorf("aggregate error should name both providers: %v", err)
	}

	// Failed requests are still billed, with zero tokens.
	snap, ok, _ := store.Get(context.Background(), "rest-1")
	if !ok || snap.MonthlyRequests != 1 || snap.MonthlyTokens != 0 {
		t.Errorf("usage = %+v, want one zero-token request", snap)
	}
}

func TestGenerateContentTrippedPrimarySkipsNetworkCall(t *testing.T) {
	primary := failingProvider(tenant.ProviderOpenAI)
	secondary := &mockProvider{kind: tenant.ProviderAnthropic}
	router := NewRouter(WithProvider(primary), WithProvider(secondary))

	// Trip the primary's breaker.
	for i := 0; i < 3; i++ {
		router.Breaker(tenant.ProviderOpenAI).RecordFailure()
	}

	content, err := router.GenerateContent(context.Background(), "hi", GenerateOptions{}, testTenant(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "ok from anthropic" {
		t.Errorf("content = %q", content)
	}
	if atomic.LoadInt32(&primary.calls) != 0 {
		t.Error("tripped breaker must prevent the network call")
	}
}

func TestGenerateContentTimeoutCountsAsFailure(t *testing.T) {
	slow := &mockProvider{
		kind: tenant.ProviderOpenAI,
		completeFn: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return &CompletionResponse{Content: "too late"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	secondary := &mockProvider{kind: tenant.ProviderAnthropic}
	router := NewRouter(WithProvider(slow), WithProvider(secondary), WithCallTimeout(20*time.Millisecond))

	content, err := router.GenerateContent(context.Background(), "hi", GenerateOptions{}, testTenant(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "ok from anthropic" {
		t.Errorf("content = %q, want the secondary's response after primary timeout", content)
	}
	if router.Breaker(tenant.ProviderOpenAI).FailureCount() != 1 {
		t.Error("timeout should be recorded as a breaker failure")
	}
}

func TestGenerateContentModelOverrideRoutesPrimary(t *testing.T) {
	openaiProv := &mockProvider{kind: tenant.ProviderOpenAI}
	anthropicProv := &mockProvider{kind: tenant.ProviderAnthropic}
	router := NewRouter(WithProvider(openaiProv), WithProvider(anthropicProv))

	// The tenant's primary is OpenAI, but the explicit model override
	// routes this call to Anthropic first.
	content, err := router.GenerateContent(context.Background(), "hi",
		GenerateOptions{Model: "claude-3-5-sonnet-20241022"}, testTenant(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "ok from anthropic" {
		t.Errorf("content = %q", content)
	}
	if atomic.LoadInt32(&openaiProv.calls) != 0 {
		t.Error("openai should not have been called")
	}
}

func TestGenerateContentLanguageFallback(t *testing.T) {
	english := &mockProvider{
		kind: tenant.ProviderOpenAI,
		completeFn: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{
				Content: "Thank you for your booking, we are pleased to have you and your guests with us.",
			}, nil
		},
	}
	bundle := i18n.MustLoad()
	router := NewRouter(WithProvider(english), WithFallbackBundle(bundle))

	content, err := router.GenerateContent(context.Background(), "подтверди бронь",
		GenerateOptions{Language: "ru", AgentContext: i18n.ContextConfirmation}, testTenant(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != bundle.Get("ru", i18n.ContextConfirmation) {
		t.Errorf("content = %q, want the canned russian fallback", content)
	}
}

func TestGenerateContentLanguageValidationSkippedForEnglish(t *testing.T) {
	prov := &mockProvider{kind: tenant.ProviderOpenAI}
	router := NewRouter(WithProvider(prov))

	content, err := router.GenerateContent(context.Background(), "hi",
		GenerateOptions{Language: "en"}, testTenant(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "ok from openai" {
		t.Errorf("content = %q, english must pass through unchanged", content)
	}
}

func TestGenerateChatCompletionFailover(t *testing.T) {
	primary := failingProvider(tenant.ProviderOpenAI)
	secondary := &mockProvider{
		kind: tenant.ProviderAnthropic,
		chatFn: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{
				Message: ChatMessage{
					Role: RoleAssistant,
					ToolCalls: []ToolCall{{
						ID:   "call_1",
						Type: "function",
						Function: FunctionCall{
							Name:      "create_reservation",
							Arguments: `{"name":"Ivanov","guests":4}`,
						},
					}},
				},
				FinishReason: "tool_calls",
				Model:        req.Model,
			}, nil
		},
	}
	router := NewRouter(WithProvider(primary), WithProvider(secondary))

	resp, err := router.GenerateChatCompletion(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "book a table for 4"}},
	}, testTenant(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.HasToolCalls() {
		t.Fatal("expected tool calls from the secondary provider")
	}
	if resp.Message.ToolCalls[0].Function.Name != "create_reservation" {
		t.Errorf("tool call = %+v", resp.Message.ToolCalls[0])
	}
}

func TestGenerateChatCompletionBothFail(t *testing.T) {
	router := NewRouter(
		WithProvider(failingProvider(tenant.ProviderOpenAI)),
		WithProvider(failingProvider(tenant.ProviderAnthropic)),
	)

	_, err := router.GenerateChatCompletion(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	}, testTenant(t))
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
}

func TestProviderStatus(t *testing.T) {
	router := NewRouter(
		WithProvider(&mockProvider{kind: tenant.ProviderOpenAI}),
		WithProvider(&mockProvider{kind: tenant.ProviderAnthropic}),
	)

	for i := 0; i < 3; i++ {
		router.Breaker(tenant.ProviderOpenAI).RecordFailure()
	}

	status := router.ProviderStatus()
	if status["openai"].BreakerState != BreakerOpen {
		t.Errorf("openai breaker = %s, want open", status["openai"].BreakerState)
	}
	if status["anthropic"].BreakerState != BreakerClosed {
		t.Errorf("anthropic breaker = %s, want closed", status["anthropic"].BreakerState)
	}
}
