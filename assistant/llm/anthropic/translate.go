// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"tabletalk/platform/assistant/llm"
)

// anthropicRequest is the Messages API request body.
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

// anthropicMessage carries a role plus a list of content blocks. Anthropic
// has no system or tool roles inside the message list.
type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

// anthropicBlock is a content block. Which fields are set depends on Type:
// "text" uses Text; "tool_use" uses ID/Name/Input; "tool_result" uses
// ToolUseID/Content.
type anthropicBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Model      string           `json:"model"`
	Role       string           `json:"role"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func textBlocks(text string) []anthropicBlock {
	return []anthropicBlock{{Type: "text", Text: text}}
}

// translateMessages converts the uniform message list into Anthropic's
// shape. System messages are concatenated into the top-level system field,
// assistant tool calls become tool_use blocks, and tool-result messages
// become user messages carrying a tool_result block.
func translateMessages(messages []llm.ChatMessage) (string, []anthropicMessage, error) {
	var system []string
	out := make([]anthropicMessage, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)

		case llm.RoleUser:
			out = append(out, anthropicMessage{
				Role:    "user",
				Content: textBlocks(m.Content),
			})

		case llm.RoleAssistant:
			var blocks []anthropicBlock
			if m.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				if !json.Valid(input) {
					return "", nil, fmt.Errorf("tool call %s carries invalid arguments", tc.ID)
				}
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				})
			}
			if len(blocks) == 0 {
				blocks = textBlocks("")
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: blocks})

		case llm.RoleTool:
			out = append(out, anthropicMessage{
				Role: "user",
				Content: []anthropicBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})

		default:
			return "", nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	return strings.Join(system, "\n\n"), out, nil
}

func translateTools(tools []llm.Tool) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		schema := t.Function.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out = append(out, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}
	return out
}

// translateResponse maps the Anthropic content blocks back into a uniform
// assistant message. Tool-use blocks become tool calls with their input
// re-serialized as an arguments string.
func translateResponse(resp *anthropicResponse) (llm.ChatMessage, error) {
	msg := llm.ChatMessage{Role: llm.RoleAssistant}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := "{}"
			if len(block.Input) > 0 {
				args = string(block.Input)
			}
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: llm.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		default:
			return llm.ChatMessage{}, fmt.Errorf("unexpected content block type %q", block.Type)
		}
	}
	msg.Content = text.String()

	return msg, nil
}

// translateStopReason maps Anthropic stop reasons onto the uniform
// (OpenAI-shaped) finish reasons.
func translateStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
