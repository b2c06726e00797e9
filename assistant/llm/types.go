// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

// Package llm provides the provider-resilience layer for the booking
// assistant: a unified request/response contract over multiple LLM vendors,
// per-provider circuit breakers, primary/fallback routing, per-tenant usage
// accounting, and output language validation.
package llm

import (
	"fmt"
	"time"
)

// CompletionRequest encapsulates all parameters for a plain-text generation.
// This is the unified request type used across all providers.
type CompletionRequest struct {
	// Prompt is the user's input text/question.
	Prompt string `json:"prompt"`

	// SystemPrompt is an optional system message that sets context/behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// MaxTokens limits the maximum number of tokens in the response.
	// If 0, provider defaults are used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. Nil means provider default.
	Temperature *float64 `json:"temperature,omitempty"`

	// Model is the provider-specific model name to use.
	Model string `json:"model,omitempty"`
}

// CompletionResponse contains the result of a plain-text generation.
type CompletionResponse struct {
	// Content is the generated text response.
	Content string `json:"content"`

	// Model is the actual model used (may differ from requested).
	Model string `json:"model"`

	// Usage contains token usage statistics.
	Usage UsageStats `json:"usage"`

	// Latency is the time taken to generate the response.
	Latency time.Duration `json:"latency"`
}

// UsageStats tracks token usage for billing and monitoring.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chat types. The uniform chat shape follows the primary provider's
// (OpenAI) wire format; the secondary provider's adapter translates in
// both directions so callers stay provider-agnostic.

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is a single message in a chat completion request.
type ChatMessage struct {
	Role string `json:"role"`

	Content string `json:"content,omitempty"`

	// ToolCalls is set on assistant messages that requested tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID ties a tool-result message (Role == "tool") back to the
	// assistant tool call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool declares a function the model may call.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a callable function and its JSON schema.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatRequest is a chat completion request with optional tool calling.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Tools       []Tool        `json:"tools,omitempty"`
	Model       string        `json:"model,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// ChatResponse is the uniform chat completion result.
type ChatResponse struct {
	// Message is the assistant message, including any tool calls.
	Message ChatMessage `json:"message"`

	// FinishReason indicates why generation stopped.
	// Common values: "stop", "tool_calls", "length".
	FinishReason string `json:"finish_reason,omitempty"`

	Model   string        `json:"model"`
	Usage   UsageStats    `json:"usage"`
	Latency time.Duration `json:"latency"`
}

// HasToolCalls reports whether the assistant requested tool execution.
func (r *ChatResponse) HasToolCalls() bool {
	return len(r.Message.ToolCalls) > 0
}

// JSONSchema is the minimal shape check applied to structured generations:
// the decoded value must be of Type and contain every Required key.
type JSONSchema struct {
	Type     string   `json:"type"`
	Required []string `json:"required,omitempty"`
}

// GenerateOptions are per-call options merged over tenant defaults.
type GenerateOptions struct {
	// Model overrides the tenant's primary model (provider-specific name).
	Model string

	// MaxTokens limits the response length. 0 means the router default.
	MaxTokens int

	// Temperature overrides the tenant's configured temperature.
	Temperature *float64

	// SystemPrompt is prepended as a system message when set.
	SystemPrompt string

	// Language is the session language used for output validation and
	// fallback copy. Empty or "en" disables language validation.
	Language string

	// AgentContext names the calling agent ("confirmation", "overseer",
	// "translation", ...). It selects fallback strings and the safe
	// default object for JSON generations.
	AgentContext string

	// Schema, when set, is the minimal shape a JSON generation must match.
	Schema *JSONSchema

	// Timeout overrides the router's per-call timeout.
	Timeout time.Duration
}

// ProviderError represents an error from an LLM provider.
type ProviderError struct {
	// Provider is the name of the provider that returned the error.
	Provider string `json:"provider"`

	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// StatusCode is the HTTP status code (if applicable).
	StatusCode int `json:"status_code,omitempty"`

	// Retryable indicates if the request can be retried.
	Retryable bool `json:"retryable"`

	// Cause is the underlying error (if any).
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Common error codes.
const (
	// ErrCodeRateLimit indicates rate limiting.
	ErrCodeRateLimit = "rate_limit"

	// ErrCodeAuth indicates authentication failure.
	ErrCodeAuth = "authentication_error"

	// ErrCodeInvalidRequest indicates a malformed request.
	ErrCodeInvalidRequest = "invalid_request"

	// ErrCodeServerError indicates a provider server error.
	ErrCodeServerError = "server_error"

	// ErrCodeTimeout indicates the per-call deadline elapsed.
	ErrCodeTimeout = "timeout"

	// ErrCodeUnavailable indicates the provider is unavailable. Circuit
	// breaker rejections surface with this code.
	ErrCodeUnavailable = "unavailable"
)

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, code, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
	}
}

// isRetryableCode determines if an error code is retryable.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}
