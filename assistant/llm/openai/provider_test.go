// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package openai

import (
	"errors"
	"net/http"
	"testing"

	gopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletalk/platform/assistant/llm"
	"tabletalk/platform/shared/tenant"
)

func TestNewProviderDefaults(t *testing.T) {
	provider, err := NewProvider(Config{APIKey: "test-key"})

	require.NoError(t, err)
	assert.Equal(t, tenant.ProviderOpenAI, provider.Kind())
	assert.Equal(t, DefaultModel, provider.model)
}

func TestNewProviderRequiresAPIKey(t *testing.T) {
	_, err := NewProvider(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestToOpenAIMessagesCarriesToolPlumbing(t *testing.T) {
	out := toOpenAIMessages([]llm.ChatMessage{
		{Role: llm.RoleSystem, Content: "You book tables."},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{
			ID:   "call_1",
			Type: "function",
			Function: llm.FunctionCall{
				Name:      "create_reservation",
				Arguments: `{"party_size":2}`,
			},
		}}},
		{Role: llm.RoleTool, ToolCallID: "call_1", Content: `{"status":"SUCCESS"}`},
	})

	require.Len(t, out, 3)
	assert.Equal(t, "system", out[0].Role)

	require.Len(t, out[1].ToolCalls, 1)
	assert.Equal(t, "call_1", out[1].ToolCalls[0].ID)
	assert.Equal(t, gopenai.ToolTypeFunction, out[1].ToolCalls[0].Type)
	assert.Equal(t, "create_reservation", out[1].ToolCalls[0].Function.Name)

	assert.Equal(t, "tool", out[2].Role)
	assert.Equal(t, "call_1", out[2].ToolCallID)
}

func TestToOpenAITools(t *testing.T) {
	assert.Nil(t, toOpenAITools(nil))

	out := toOpenAITools([]llm.Tool{{
		Type: "function",
		Function: llm.FunctionDefinition{
			Name:        "cancel_reservation",
			Description: "Cancel a reservation",
			Parameters:  map[string]any{"type": "object"},
		},
	}})

	require.Len(t, out, 1)
	assert.Equal(t, gopenai.ToolTypeFunction, out[0].Type)
	assert.Equal(t, "cancel_reservation", out[0].Function.Name)
}

func TestFromOpenAIMessage(t *testing.T) {
	msg := fromOpenAIMessage(gopenai.ChatCompletionMessage{
		Role:    "assistant",
		Content: "",
		ToolCalls: []gopenai.ToolCall{{
			ID:   "call_9",
			Type: gopenai.ToolTypeFunction,
			Function: gopenai.FunctionCall{
				Name:      "create_reservation",
				Arguments: `{"time":"19:00"}`,
			},
		}},
	})

	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_9", msg.ToolCalls[0].ID)
	assert.Equal(t, `{"time":"19:00"}`, msg.ToolCalls[0].Function.Arguments)
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
	}{
		{"rate limit", http.StatusTooManyRequests, llm.ErrCodeRateLimit},
		{"auth", http.StatusUnauthorized, llm.ErrCodeAuth},
		{"bad request", http.StatusBadRequest, llm.ErrCodeInvalidRequest},
		{"server error", http.StatusInternalServerError, llm.ErrCodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapError(&gopenai.APIError{
				HTTPStatusCode: tt.status,
				Message:        "boom",
			})
			var perr *llm.ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.code, perr.Code)
			assert.Equal(t, "openai", perr.Provider)
		})
	}

	t.Run("transport error", func(t *testing.T) {
		err := wrapError(errors.New("connection reset"))
		var perr *llm.ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, llm.ErrCodeUnavailable, perr.Code)
	})
}
