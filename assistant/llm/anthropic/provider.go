// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

// Package anthropic provides the LLM provider implementation for
// Anthropic's Claude models against the Messages API. It also carries the
// translation layer between the uniform (OpenAI-shaped) chat contract and
// Anthropic's tool-use wire format, so callers never see vendor-specific
// message shapes.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tabletalk/platform/assistant/llm"
	"tabletalk/platform/shared/tenant"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version
	DefaultAPIVersion = "2023-06-01"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 1024

	// DefaultModel is used when a request carries no model name.
	DefaultModel = "claude-3-5-haiku-20241022"
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the Anthropic provider
type Config struct {
	APIKey     string        // Required: Anthropic API key
	BaseURL    string        // Optional: API base URL (default: https://api.anthropic.com)
	APIVersion string        // Optional: API version (default: 2023-06-01)
	Model      string        // Optional: default model
	Timeout    time.Duration // Optional: HTTP timeout (default: 120s)
}

// Provider implements llm.Provider for Anthropic Claude
type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	client     HTTPClient
}

// NewProvider creates a new Anthropic provider instance
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Provider{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		client:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Kind returns the provider identity.
func (p *Provider) Kind() tenant.ProviderKind {
	return tenant.ProviderAnthropic
}

// Complete generates a plain-text completion for the given request
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	apiReq := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []anthropicMessage{
			{Role: "user", Content: textBlocks(req.Prompt)},
		},
	}
	if req.Temperature != nil {
		apiReq.Temperature = req.Temperature
	}
	if req.SystemPrompt != "" {
		apiReq.System = req.SystemPrompt
	}

	apiResp, err := p.post(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	var contentBuilder strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			contentBuilder.WriteString(block.Text)
		}
	}

	return &llm.CompletionResponse{
		Content: contentBuilder.String(),
		Model:   apiResp.Model,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// ChatComplete generates a chat completion with tool use. The uniform
// message list is translated into Anthropic's format and the response
// mapped back, so the caller sees the primary provider's shape.
func (p *Provider) ChatComplete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	system, messages, err := translateMessages(req.Messages)
	if err != nil {
		return nil, llm.NewProviderError("anthropic", llm.ErrCodeInvalidRequest, err.Error())
	}

	apiReq := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
		Tools:     translateTools(req.Tools),
	}
	if req.Temperature != nil {
		apiReq.Temperature = req.Temperature
	}

	apiResp, err := p.post(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	msg, err := translateResponse(apiResp)
	if err != nil {
		return nil, err
	}

	return &llm.ChatResponse{
		Message:      msg,
		FinishReason: translateStopReason(apiResp.StopReason),
		Model:        apiResp.Model,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// post executes one Messages API call.
func (p *Provider) post(ctx context.Context, apiReq anthropicRequest) (*anthropicResponse, error) {
	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		perr := llm.NewProviderError("anthropic", llm.ErrCodeUnavailable, err.Error())
		perr.Cause = err
		return nil, perr
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &apiResp, nil
}

// parseAPIError parses an API error response into the uniform taxonomy.
func parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	code := llm.ErrCodeServerError
	switch {
	case statusCode == http.StatusTooManyRequests || errResp.Error.Type == "rate_limit_error":
		code = llm.ErrCodeRateLimit
	case statusCode == http.StatusUnauthorized || errResp.Error.Type == "authentication_error":
		code = llm.ErrCodeAuth
	case statusCode == http.StatusServiceUnavailable || errResp.Error.Type == "overloaded_error":
		code = llm.ErrCodeUnavailable
	case statusCode >= 400 && statusCode < 500:
		code = llm.ErrCodeInvalidRequest
	}

	perr := llm.NewProviderError("anthropic", code, message)
	perr.StatusCode = statusCode
	return perr
}
