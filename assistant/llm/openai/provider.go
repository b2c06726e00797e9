// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

// Package openai provides the LLM provider implementation for OpenAI's
// GPT models, built on the go-openai client. The uniform chat shape
// already follows OpenAI's wire format, so translation here is mostly
// one-to-one.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gopenai "github.com/sashabaranov/go-openai"

	"tabletalk/platform/assistant/llm"
	"tabletalk/platform/shared/tenant"
)

// Defaults.
const (
	// DefaultModel is used when a request carries no model name.
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout is the HTTP client timeout. The router applies a
	// tighter per-call deadline through the context.
	DefaultTimeout = 120 * time.Second
)

// Config contains configuration for the OpenAI provider.
type Config struct {
	APIKey  string        // Required: OpenAI API key
	BaseURL string        // Optional: API base URL override
	Model   string        // Optional: default model (default: gpt-4o-mini)
	Timeout time.Duration // Optional: HTTP timeout (default: 120s)
}

// Provider implements llm.Provider for OpenAI.
type Provider struct {
	client *gopenai.Client
	model  string
}

// NewProvider creates a new OpenAI provider instance.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	clientCfg := gopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Provider{
		client: gopenai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Kind returns the provider identity.
func (p *Provider) Kind() tenant.ProviderKind {
	return tenant.ProviderOpenAI
}

// Complete generates a plain-text completion via the chat API.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]gopenai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, gopenai.ChatCompletionMessage{
			Role:    gopenai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, gopenai.ChatCompletionMessage{
		Role:    gopenai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	apiReq := gopenai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		apiReq.Temperature = float32(*req.Temperature)
	}

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewProviderError("openai", llm.ErrCodeServerError, "response contained no choices")
	}

	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: llm.UsageStats{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// ChatComplete generates a chat completion with native tool calling.
func (p *Provider) ChatComplete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	apiReq := gopenai.ChatCompletionRequest{
		Model:     model,
		Messages:  toOpenAIMessages(req.Messages),
		MaxTokens: req.MaxTokens,
		Tools:     toOpenAITools(req.Tools),
	}
	if req.Temperature != nil {
		apiReq.Temperature = float32(*req.Temperature)
	}

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewProviderError("openai", llm.ErrCodeServerError, "response contained no choices")
	}

	choice := resp.Choices[0]
	return &llm.ChatResponse{
		Message:      fromOpenAIMessage(choice.Message),
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		Usage: llm.UsageStats{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}, nil
}

func toOpenAIMessages(messages []llm.ChatMessage) []gopenai.ChatCompletionMessage {
	out := make([]gopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := gopenai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, gopenai.ToolCall{
				ID:   tc.ID,
				Type: gopenai.ToolTypeFunction,
				Function: gopenai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []llm.Tool) []gopenai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]gopenai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, gopenai.Tool{
			Type: gopenai.ToolTypeFunction,
			Function: &gopenai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}

func fromOpenAIMessage(m gopenai.ChatCompletionMessage) llm.ChatMessage {
	msg := llm.ChatMessage{
		Role:    m.Role,
		Content: m.Content,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: llm.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return msg
}

// wrapError maps go-openai errors onto the uniform ProviderError taxonomy.
func wrapError(err error) error {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) {
		code := llm.ErrCodeServerError
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			code = llm.ErrCodeRateLimit
		case apiErr.HTTPStatusCode == http.StatusUnauthorized:
			code = llm.ErrCodeAuth
		case apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500:
			code = llm.ErrCodeInvalidRequest
		}
		perr := llm.NewProviderError("openai", code, apiErr.Message)
		perr.StatusCode = apiErr.HTTPStatusCode
		perr.Cause = err
		return perr
	}

	perr := llm.NewProviderError("openai", llm.ErrCodeUnavailable, err.Error())
	perr.Cause = err
	return perr
}
