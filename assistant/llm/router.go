// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tabletalk/platform/common/usage"
	"tabletalk/platform/shared/i18n"
	"tabletalk/platform/shared/logger"
	"tabletalk/platform/shared/tenant"
)

// Router defaults.
const (
	// DefaultCallTimeout is the wall-clock budget for one provider call.
	DefaultCallTimeout = 8 * time.Second

	// DefaultMaxTokens bounds responses when neither the caller nor the
	// tenant sets a limit.
	DefaultMaxTokens = 1024

	// DefaultJSONRetries is how many times a failed JSON generation is
	// re-prompted before the safe default is returned.
	DefaultJSONRetries = 2
)

// Default models used when a tenant's fallback model belongs to the same
// provider as its primary and a cross-provider fallback is still needed.
const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-20241022"
)

// ErrAllProvidersFailed is returned when both the primary and the
// secondary provider fail (or are circuit-tripped) for one request.
var ErrAllProvidersFailed = errors.New("all providers failed")

// Router routes generation requests to a primary provider with transparent
// failover to the secondary, gated per provider by a circuit breaker.
// Within one call the primary is always attempted before the secondary;
// there is no randomized or load-balanced ordering.
type Router struct {
	providers      map[tenant.ProviderKind]Provider
	breakers       map[tenant.ProviderKind]*CircuitBreaker
	usage          usage.Store
	recorder       *usage.Recorder
	fallbacks      *i18n.Bundle
	jsonDefaults   map[string]map[string]any
	callTimeout    time.Duration
	maxJSONRetries int
	logger         *logger.Logger
	now            func() time.Time
	breakerOpts    []BreakerOption
}

// RouterOption configures the Router.
type RouterOption func(*Router)

// WithProvider registers a provider. The router creates one circuit
// breaker per registered provider.
func WithProvider(p Provider) RouterOption {
	return func(r *Router) {
		r.providers[p.Kind()] = p
	}
}

// WithUsageStore sets the tenant usage store.
func WithUsageStore(s usage.Store) RouterOption {
	return func(r *Router) {
		r.usage = s
	}
}

// WithUsageRecorder sets the optional per-request billing event recorder.
func WithUsageRecorder(rec *usage.Recorder) RouterOption {
	return func(r *Router) {
		r.recorder = rec
	}
}

// WithFallbackBundle sets the localized fallback string bundle.
func WithFallbackBundle(b *i18n.Bundle) RouterOption {
	return func(r *Router) {
		r.fallbacks = b
	}
}

// WithJSONDefault registers the safe default object returned for an agent
// context when a JSON generation exhausts its retries.
func WithJSONDefault(agentContext string, def map[string]any) RouterOption {
	return func(r *Router) {
		r.jsonDefaults[agentContext] = def
	}
}

// WithCallTimeout sets the per-call wall-clock budget.
func WithCallTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// WithBreakerOptions sets the options applied to every provider breaker.
func WithBreakerOptions(opts ...BreakerOption) RouterOption {
	return func(r *Router) {
		r.breakerOpts = opts
	}
}

// WithRouterLogger sets the logger for the router.
func WithRouterLogger(l *logger.Logger) RouterOption {
	return func(r *Router) {
		r.logger = l
	}
}

// WithRouterClock sets the time source (tests).
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		r.now = now
	}
}

// NewRouter creates a Router with the given options.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		providers:      make(map[tenant.ProviderKind]Provider),
		breakers:       make(map[tenant.ProviderKind]*CircuitBreaker),
		jsonDefaults:   make(map[string]map[string]any),
		callTimeout:    DefaultCallTimeout,
		maxJSONRetries: DefaultJSONRetries,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.usage == nil {
		r.usage = usage.NewMemoryStore()
	}
	if r.fallbacks == nil {
		r.fallbacks = i18n.MustLoad()
	}
	if r.logger == nil {
		r.logger = logger.New("llm-router")
	}

	for kind := range r.providers {
		r.breakers[kind] = NewCircuitBreaker(r.breakerOpts...)
	}

	return r
}

// Breaker returns the circuit breaker for a provider, if registered.
func (r *Router) Breaker(kind tenant.ProviderKind) *CircuitBreaker {
	return r.breakers[kind]
}

// GenerateContent generates plain text for the given prompt. The tenant
// is validated before any network call; the primary provider is attempted
// first, the secondary on failure; the successful response is language
// validated before it is returned. Usage is recorded even on failure,
// with zero tokens, for billing visibility.
func (r *Router) GenerateContent(ctx context.Context, prompt string, opts GenerateOptions, tc *tenant.Context) (string, error) {
	content, err := r.generateRaw(ctx, prompt, opts, tc)
	if err != nil {
		return "", err
	}

	if !MatchesLanguage(content, opts.Language) {
		languageFallbacks.Inc()
		r.logger.Warn(tc.Restaurant.ID, "", "response failed language validation, substituting fallback", map[string]interface{}{
			"language":      opts.Language,
			"agent_context": opts.AgentContext,
		})
		return r.fallbacks.Get(opts.Language, opts.AgentContext), nil
	}

	return content, nil
}

// generateRaw is GenerateContent without the output language check; the
// JSON path uses it directly since canned localized copy is never valid
// JSON.
func (r *Router) generateRaw(ctx context.Context, prompt string, opts GenerateOptions, tc *tenant.Context) (string, error) {
	if err := tenant.Validate(tc); err != nil {
		return "", err
	}

	primaryRef, secondaryRef, err := r.resolveModels(opts.Model, tc)
	if err != nil {
		return "", err
	}

	req := CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: opts.SystemPrompt,
		MaxTokens:    opts.MaxTokens,
		Temperature:  opts.Temperature,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if req.Temperature == nil && tc.Restaurant.Temperature > 0 {
		temp := tc.Restaurant.Temperature
		req.Temperature = &temp
	}

	requestID := uuid.NewString()
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.callTimeout
	}

	start := r.now()

	primaryReq := req
	primaryReq.Model = primaryRef.Name
	resp, primaryErr := r.tryComplete(ctx, primaryRef.Provider(), primaryReq, timeout)
	if primaryErr == nil {
		r.recordUsage(ctx, tc, opts.AgentContext, primaryRef.Provider(), resp.Model, resp.Usage, r.now().Sub(start), true, false)
		return resp.Content, nil
	}

	secondaryReq := req
	secondaryReq.Model = secondaryRef.Name
	r.logger.Warn(tc.Restaurant.ID, "", "primary provider failed, falling back", map[string]interface{}{
		"request_id": requestID,
		"primary":    string(primaryRef.Provider()),
		"secondary":  string(secondaryRef.Provider()),
		"error":      primaryErr.Error(),
	})

	resp, secondaryErr := r.tryComplete(ctx, secondaryRef.Provider(), secondaryReq, timeout)
	if secondaryErr == nil {
		failovers.Inc()
		r.recordUsage(ctx, tc, opts.AgentContext, secondaryRef.Provider(), resp.Model, resp.Usage, r.now().Sub(start), true, true)
		return resp.Content, nil
	}

	r.recordUsage(ctx, tc, opts.AgentContext, primaryRef.Provider(), primaryRef.Name, UsageStats{}, r.now().Sub(start), false, false)
	r.logger.Error(tc.Restaurant.ID, "", "all providers failed", map[string]interface{}{
		"request_id":      requestID,
		"primary_error":   primaryErr.Error(),
		"secondary_error": secondaryErr.Error(),
	})

	return "", fmt.Errorf("%w: %s: %v; %s: %v", ErrAllProvidersFailed,
		primaryRef.Provider(), primaryErr, secondaryRef.Provider(), secondaryErr)
}

// GenerateChatCompletion performs a chat completion with native tool
// calling. The primary provider's API is always attempted first; on
// failure the message list is translated into the secondary provider's
// format by its adapter and the response mapped back, so callers stay
// provider-agnostic.
func (r *Router) GenerateChatCompletion(ctx context.Context, req ChatRequest, tc *tenant.Context) (*ChatResponse, error) {
	if err := tenant.Validate(tc); err != nil {
		return nil, err
	}

	primaryRef, secondaryRef, err := r.resolveModels(req.Model, tc)
	if err != nil {
		return nil, err
	}

	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if req.Temperature == nil && tc.Restaurant.Temperature > 0 {
		temp := tc.Restaurant.Temperature
		req.Temperature = &temp
	}

	requestID := uuid.NewString()
	start := r.now()

	primaryReq := req
	primaryReq.Model = primaryRef.Name
	resp, primaryErr := r.tryChat(ctx, primaryRef.Provider(), primaryReq, r.callTimeout)
	if primaryErr == nil {
		r.recordUsage(ctx, tc, "chat", primaryRef.Provider(), resp.Model, resp.Usage, r.now().Sub(start), true, false)
		return resp, nil
	}

	secondaryReq := req
	secondaryReq.Model = secondaryRef.Name
	r.logger.Warn(tc.Restaurant.ID, "", "primary provider failed for chat completion, falling back", map[string]interface{}{
		"request_id": requestID,
		"primary":    string(primaryRef.Provider()),
		"secondary":  string(secondaryRef.Provider()),
		"error":      primaryErr.Error(),
	})

	resp, secondaryErr := r.tryChat(ctx, secondaryRef.Provider(), secondaryReq, r.callTimeout)
	if secondaryErr == nil {
		failovers.Inc()
		r.recordUsage(ctx, tc, "chat", secondaryRef.Provider(), resp.Model, resp.Usage, r.now().Sub(start), true, true)
		return resp, nil
	}

	r.recordUsage(ctx, tc, "chat", primaryRef.Provider(), primaryRef.Name, UsageStats{}, r.now().Sub(start), false, false)

	return nil, fmt.Errorf("%w: %s: %v; %s: %v", ErrAllProvidersFailed,
		primaryRef.Provider(), primaryErr, secondaryRef.Provider(), secondaryErr)
}

// resolveModels determines the primary model (explicit override or tenant
// default) and the cross-provider secondary model for one call.
func (r *Router) resolveModels(override string, tc *tenant.Context) (tenant.ModelRef, tenant.ModelRef, error) {
	primary := tc.Restaurant.PrimaryModel
	if override != "" {
		ref, err := tenant.ResolveModel(override)
		if err != nil {
			return tenant.ModelRef{}, tenant.ModelRef{}, err
		}
		primary = ref
	}
	if primary.IsZero() {
		return tenant.ModelRef{}, tenant.ModelRef{}, fmt.Errorf("tenant %s has no primary model configured", tc.Restaurant.ID)
	}

	secondaryKind := primary.Provider().Other()
	secondary := tc.Restaurant.FallbackModel
	if secondary.IsZero() || secondary.Provider() != secondaryKind {
		// The configured fallback lives on the same provider as the
		// primary; failover must cross vendors to be useful.
		name := defaultOpenAIModel
		if secondaryKind == tenant.ProviderAnthropic {
			name = defaultAnthropicModel
		}
		ref, err := tenant.ResolveModel(name)
		if err != nil {
			return tenant.ModelRef{}, tenant.ModelRef{}, err
		}
		secondary = ref
	}

	return primary, secondary, nil
}

// tryComplete runs one breaker-gated, deadline-bounded completion call.
// A tripped breaker is an immediate failure without a network call.
func (r *Router) tryComplete(ctx context.Context, kind tenant.ProviderKind, req CompletionRequest, timeout time.Duration) (*CompletionResponse, error) {
	provider, breaker, err := r.providerFor(kind)
	if err != nil {
		return nil, err
	}

	var resp *CompletionResponse
	callErr := r.callWithTimeout(ctx, timeout, string(kind), func(cctx context.Context) error {
		var err error
		resp, err = provider.Complete(cctx, req)
		return err
	})

	r.settle(kind, breaker, callErr)
	if callErr != nil {
		return nil, callErr
	}
	return resp, nil
}

// tryChat is tryComplete for chat completions.
func (r *Router) tryChat(ctx context.Context, kind tenant.ProviderKind, req ChatRequest, timeout time.Duration) (*ChatResponse, error) {
	provider, breaker, err := r.providerFor(kind)
	if err != nil {
		return nil, err
	}

	var resp *ChatResponse
	callErr := r.callWithTimeout(ctx, timeout, string(kind), func(cctx context.Context) error {
		var err error
		resp, err = provider.ChatComplete(cctx, req)
		return err
	})

	r.settle(kind, breaker, callErr)
	if callErr != nil {
		return nil, callErr
	}
	return resp, nil
}

// providerFor looks up the provider and its breaker and applies the
// tripped check.
func (r *Router) providerFor(kind tenant.ProviderKind) (Provider, *CircuitBreaker, error) {
	provider, ok := r.providers[kind]
	if !ok {
		return nil, nil, NewProviderError(string(kind), ErrCodeUnavailable, "provider not configured")
	}

	breaker := r.breakers[kind]
	if breaker.IsTripped() {
		providerRequests.WithLabelValues(string(kind), "tripped").Inc()
		return nil, nil, NewProviderError(string(kind), ErrCodeUnavailable, "circuit breaker open")
	}

	return provider, breaker, nil
}

// settle records the call outcome on the breaker and metrics.
func (r *Router) settle(kind tenant.ProviderKind, breaker *CircuitBreaker, callErr error) {
	if callErr != nil {
		breaker.RecordFailure()
		providerRequests.WithLabelValues(string(kind), "failure").Inc()
	} else {
		breaker.RecordSuccess()
		providerRequests.WithLabelValues(string(kind), "success").Inc()
	}
	observeBreaker(string(kind), breaker.State())
}

// callWithTimeout races fn against the per-call deadline. The provider
// call runs in its own goroutine; if the deadline wins, the call may
// still complete in the background and its result is discarded.
func (r *Router) callWithTimeout(ctx context.Context, timeout time.Duration, provider string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(cctx)
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return NewProviderError(provider, ErrCodeTimeout,
			fmt.Sprintf("call exceeded %s deadline", timeout))
	}
}

// recordUsage updates tenant counters and, when configured, emits a
// billing event. Failures are logged, never propagated.
func (r *Router) recordUsage(ctx context.Context, tc *tenant.Context, agentContext string, kind tenant.ProviderKind, model string, stats UsageStats, latency time.Duration, success, fellBack bool) {
	if _, err := r.usage.Record(ctx, tc.Restaurant.ID, stats.TotalTokens, r.now()); err != nil {
		r.logger.Warn(tc.Restaurant.ID, "", "failed to record tenant usage", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if r.recorder != nil {
		event := usage.AIRequestEvent{
			TenantID:         tc.Restaurant.ID,
			Provider:         string(kind),
			Model:            model,
			AgentContext:     agentContext,
			PromptTokens:     stats.PromptTokens,
			CompletionTokens: stats.CompletionTokens,
			TotalTokens:      stats.TotalTokens,
			LatencyMs:        latency.Milliseconds(),
			Success:          success,
			FellBack:         fellBack,
		}
		go func() {
			_ = r.recorder.RecordAIRequest(event)
		}()
	}
}

// ProviderStatusInfo describes one provider's routing state.
type ProviderStatusInfo struct {
	Provider     string       `json:"provider"`
	BreakerState BreakerState `json:"breaker_state"`
	Failures     int          `json:"consecutive_failures"`
}

// ProviderStatus returns the current status of all registered providers.
func (r *Router) ProviderStatus() map[string]ProviderStatusInfo {
	status := make(map[string]ProviderStatusInfo, len(r.providers))
	for kind, breaker := range r.breakers {
		status[string(kind)] = ProviderStatusInfo{
			Provider:     string(kind),
			BreakerState: breaker.State(),
			Failures:     breaker.FailureCount(),
		}
	}
	return status
}
