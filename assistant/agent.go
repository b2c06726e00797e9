// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tabletalk/platform/assistant/booking"
	"tabletalk/platform/assistant/llm"
	"tabletalk/platform/shared/i18n"
	"tabletalk/platform/shared/logger"
)

// Agent contexts. They key the per-context safe defaults on the JSON path
// and the per-context fallback copy.
const (
	AgentBooking      = "booking"
	AgentConfirmation = "confirmation"
	AgentExtraction   = "extraction"
	AgentTranslation  = "translation"
)

// historyLimit caps how many past turns are sent to the provider.
const historyLimit = 20

const bookingSystemPrompt = `You are a restaurant booking assistant. Help the guest
book or cancel a table. Gather the guest name, phone, date, time and party
size before calling a tool. Use create_reservation or cancel_reservation
only once all required details are known; never invent missing details.
Answer in the guest's language.`

// bookingTools are the provider-native tool definitions for the agent loop.
var bookingTools = []llm.Tool{
	{
		Type: "function",
		Function: llm.FunctionDefinition{
			Name:        booking.ActionCreateReservation,
			Description: "Create a reservation once all details are gathered",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":             map[string]any{"type": "string"},
					"phone":            map[string]any{"type": "string"},
					"date":             map[string]any{"type": "string", "description": "YYYY-MM-DD"},
					"time":             map[string]any{"type": "string", "description": "HH:MM"},
					"guests":           map[string]any{"type": "integer"},
					"special_requests": map[string]any{"type": "string"},
				},
				"required": []string{"name", "phone", "date", "time", "guests"},
			},
		},
	},
	{
		Type: "function",
		Function: llm.FunctionDefinition{
			Name:        booking.ActionCancelReservation,
			Description: "Cancel an existing reservation",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reservation_id": map[string]any{"type": "integer"},
					"reason":         map[string]any{"type": "string"},
				},
				"required": []string{"reservation_id"},
			},
		},
	},
}

// BookingAgent drives the free conversation: it sends the dialogue to the
// provider with the booking tools attached, and when the model decides an
// action is complete it packages the action as a pending confirmation
// instead of executing it. Nothing is booked or cancelled without an
// explicit user yes.
type BookingAgent struct {
	gen        Generator
	confirm    *ConfirmationEngine
	translator *Translator
	bundle     *i18n.Bundle
	log        *logger.Logger
}

// NewBookingAgent wires the agent.
func NewBookingAgent(gen Generator, confirm *ConfirmationEngine, translator *Translator, bundle *i18n.Bundle, log *logger.Logger) *BookingAgent {
	if log == nil {
		log = logger.New("booking-agent")
	}
	return &BookingAgent{
		gen:        gen,
		confirm:    confirm,
		translator: translator,
		bundle:     bundle,
		log:        log,
	}
}

// Respond processes one free-form turn. The caller holds the session lock
// and has already appended the user message to the history.
func (a *BookingAgent) Respond(ctx context.Context, sess *Session) (*Reply, error) {
	messages := make([]llm.ChatMessage, 0, historyLimit+2)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: a.systemPrompt(sess)})
	messages = append(messages, sess.ChatHistory(historyLimit)...)

	resp, err := a.gen.GenerateChatCompletion(ctx, llm.ChatRequest{
		Messages: messages,
		Tools:    bookingTools,
	}, sess.Tenant)
	if err != nil {
		return nil, err
	}

	if resp.HasToolCalls() {
		return a.packageToolCall(ctx, sess, resp.Message.ToolCalls[0])
	}

	content := resp.Message.Content
	if !llm.MatchesLanguage(content, sess.Language) {
		a.log.Warn(sess.Tenant.Restaurant.ID, sess.ID, "agent reply failed language check",
			map[string]any{"language": sess.Language})
		content = a.bundle.Get(sess.Language, i18n.ContextDefault)
	}
	return &Reply{Response: content}, nil
}

// packageToolCall turns a completed tool call into a pending confirmation
// with a human-readable, localized summary.
func (a *BookingAgent) packageToolCall(ctx context.Context, sess *Session, tc llm.ToolCall) (*Reply, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		a.log.Error(sess.Tenant.Restaurant.ID, sess.ID, "tool call carried invalid arguments",
			map[string]any{"tool": tc.Function.Name, "error": err.Error()})
		return &Reply{Response: a.bundle.Apology(sess.Language)}, nil
	}
	sess.MergeGatheringInfo(args)

	summary := a.translator.Localize(ctx, sess.Tenant, sess.Language, summarizeAction(tc.Function.Name, args))
	question := a.confirm.RequestConfirmation(sess, tc.Function.Name, args, summary)
	return &Reply{Response: question}, nil
}

func (a *BookingAgent) systemPrompt(sess *Session) string {
	prompt := bookingSystemPrompt
	if name, ok := languageNames[sess.Language]; ok && sess.Language != i18n.DefaultLanguage {
		prompt += fmt.Sprintf("\nThe guest speaks %s.", name)
	}
	if len(sess.GatheringInfo) > 0 {
		prompt += "\nDetails gathered so far: " + argsSummary(sess.GatheringInfo)
	}
	return prompt
}

// summarizeAction renders a pending action in plain English. The result
// is localized before it reaches the user.
func summarizeAction(action string, args map[string]any) string {
	switch action {
	case booking.ActionCreateReservation:
		var b strings.Builder
		fmt.Fprintf(&b, "Reservation for %v", args["guests"])
		if name, ok := args["name"].(string); ok && name != "" {
			fmt.Fprintf(&b, " under the name %s", name)
		}
		if date, ok := args["date"].(string); ok && date != "" {
			fmt.Fprintf(&b, " on %s", date)
		}
		if t, ok := args["time"].(string); ok && t != "" {
			fmt.Fprintf(&b, " at %s", t)
		}
		if sr, ok := args["special_requests"].(string); ok && sr != "" {
			fmt.Fprintf(&b, " (%s)", sr)
		}
		return b.String()
	case booking.ActionCancelReservation:
		return fmt.Sprintf("Cancel reservation %v", args["reservation_id"])
	default:
		return action + " " + argsSummary(args)
	}
}
