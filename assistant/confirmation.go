// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tabletalk/platform/assistant/booking"
	"tabletalk/platform/assistant/llm"
	"tabletalk/platform/shared/i18n"
	"tabletalk/platform/shared/logger"
	"tabletalk/platform/shared/tenant"
)

// Generator is the slice of the llm router the conversation core uses.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string, opts llm.GenerateOptions, tc *tenant.Context) (string, error)
	GenerateJSON(ctx context.Context, prompt string, opts llm.GenerateOptions, tc *tenant.Context) (map[string]any, error)
	GenerateChatCompletion(ctx context.Context, req llm.ChatRequest, tc *tenant.Context) (*llm.ChatResponse, error)
}

// ErrNoPendingConfirmation is returned when a confirmation reply arrives
// for a session with no pending confirmation. Re-invoking after the state
// has been cleared is rejected, not silently accepted.
var ErrNoPendingConfirmation = errors.New("no pending confirmation")

// Confirmation intents.
const (
	intentPositive = "positive"
	intentNegative = "negative"
	intentUnclear  = "unclear"
)

// shortConfirmations are replies that cannot carry an incidental
// correction, so the extraction call is skipped for them.
var shortConfirmations = map[string]struct{}{
	"yes": {}, "yeah": {}, "yep": {}, "sure": {}, "ok": {}, "okay": {},
	"да": {}, "ага": {}, "конечно": {},
	"igen": {}, "jó": {}, "rendben": {},
	"da": {}, "може": {}, "naravno": {},
}

// ConfirmationEngine interprets free-text replies to a pending
// confirmation and triggers the underlying action only on a positive,
// unambiguous answer.
type ConfirmationEngine struct {
	gen    Generator
	exec   booking.Executor
	bundle *i18n.Bundle
	log    *logger.Logger
	now    func() time.Time
}

// NewConfirmationEngine wires the engine.
func NewConfirmationEngine(gen Generator, exec booking.Executor, bundle *i18n.Bundle, log *logger.Logger) *ConfirmationEngine {
	if log == nil {
		log = logger.New("confirmation")
	}
	return &ConfirmationEngine{
		gen:    gen,
		exec:   exec,
		bundle: bundle,
		log:    log,
		now:    time.Now,
	}
}

// RequestConfirmation stores a completed-but-unconfirmed action and
// returns the localized confirmation question. The caller holds the
// session lock.
func (e *ConfirmationEngine) RequestConfirmation(sess *Session, action string, args map[string]any, summary string) string {
	sess.SetPendingConfirmation(&PendingConfirmation{
		Action:    action,
		Args:      args,
		Summary:   summary,
		CreatedAt: e.now().UTC(),
	})
	return summary + "\n\n" + e.bundle.Get(sess.Language, i18n.ContextConfirmation)
}

// Process handles the next user message while a confirmation is pending.
// Any internal failure becomes a localized apology; only AccessDenied
// propagates. The caller holds the session lock.
func (e *ConfirmationEngine) Process(ctx context.Context, sess *Session, rawText string) (reply *Reply, err error) {
	pending := sess.PendingConfirmation()
	if pending == nil {
		return nil, ErrNoPendingConfirmation
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error(sess.Tenant.Restaurant.ID, sess.ID, "confirmation processing panicked",
				map[string]any{"panic": fmt.Sprint(r)})
			reply = &Reply{Response: e.bundle.Apology(sess.Language)}
			err = nil
		}
	}()

	intent, err := e.classifyIntent(ctx, sess, pending, rawText)
	if err != nil {
		var denied *tenant.AccessDeniedError
		if errors.As(err, &denied) {
			return nil, err
		}
		e.log.Error(sess.Tenant.Restaurant.ID, sess.ID, "intent classification failed",
			map[string]any{"error": err.Error()})
		return &Reply{Response: e.bundle.Apology(sess.Language)}, nil
	}

	switch intent {
	case intentPositive:
		return e.confirmAndExecute(ctx, sess, pending, rawText)

	case intentNegative:
		sess.ClearPending()
		return &Reply{Response: e.bundle.Get(sess.Language, i18n.ContextConfirmationDeclined)}, nil

	default:
		// Deliberately no second guess: the raw message goes back to the
		// caller for reprocessing as a fresh turn.
		sess.ClearPending()
		return &Reply{reprocess: true}, nil
	}
}

// classifyIntent asks the provider whether the reply confirms, declines,
// or neither. The JSON path absorbs provider failure into the registered
// safe default, so a degraded provider classifies as unclear.
func (e *ConfirmationEngine) classifyIntent(ctx context.Context, sess *Session, pending *PendingConfirmation, rawText string) (string, error) {
	prompt := fmt.Sprintf(`The user was asked to confirm this action: %s

The user replied: %q

Classify the reply as exactly one of "positive" (clearly confirms),
"negative" (clearly declines), or "unclear" (anything else, including
questions and change requests). Respond with JSON: {"intent": "..."}`,
		pending.Summary, rawText)

	obj, err := e.gen.GenerateJSON(ctx, prompt, llm.GenerateOptions{
		AgentContext: AgentConfirmation,
		Schema:       &llm.JSONSchema{Type: "object", Required: []string{"intent"}},
	}, sess.Tenant)
	if err != nil {
		return "", err
	}

	intent, _ := obj["intent"].(string)
	switch intent {
	case intentPositive, intentNegative:
		return intent, nil
	}
	return intentUnclear, nil
}

// confirmAndExecute merges incidental corrections from the confirming
// message, executes the pending action, and clears the state.
func (e *ConfirmationEngine) confirmAndExecute(ctx context.Context, sess *Session, pending *PendingConfirmation, rawText string) (*Reply, error) {
	if corrections := e.extractCorrections(ctx, sess, rawText); len(corrections) > 0 {
		for k, v := range corrections {
			pending.Args[k] = v
		}
		sess.MergeGatheringInfo(corrections)
	}

	sess.ClearPending()
	return e.execute(ctx, sess, pending.Action, pending.Args)
}

// extractCorrections scans a confirming message for corrections such as
// "yes, but the name is Petrov". Short confirmation tokens skip the
// extraction call entirely.
func (e *ConfirmationEngine) extractCorrections(ctx context.Context, sess *Session, rawText string) map[string]any {
	normalized := strings.ToLower(strings.Trim(strings.TrimSpace(rawText), ".,!"))
	if _, ok := shortConfirmations[normalized]; ok {
		return nil
	}

	prompt := fmt.Sprintf(`The user confirmed a reservation with this message: %q

If the message also corrects any booking detail (name, phone, date, time,
guests, special requests), return the corrected fields as JSON, e.g.
{"name": "Petrov"}. If there are no corrections, return {}.`, rawText)

	obj, err := e.gen.GenerateJSON(ctx, prompt, llm.GenerateOptions{
		AgentContext: AgentExtraction,
	}, sess.Tenant)
	if err != nil {
		// Corrections are best-effort; the confirmed action still runs.
		e.log.Warn(sess.Tenant.Restaurant.ID, sess.ID, "correction extraction failed",
			map[string]any{"error": err.Error()})
		return nil
	}
	return obj
}

// execute runs a booking action and interprets the structured result. A
// name-mismatch signal starts the clarification sub-dialogue instead of
// failing the turn.
func (e *ConfirmationEngine) execute(ctx context.Context, sess *Session, action string, args map[string]any) (*Reply, error) {
	result, err := e.exec.Execute(ctx, sess.Tenant, action, args)
	if err != nil {
		e.log.Error(sess.Tenant.Restaurant.ID, sess.ID, "action execution failed",
			map[string]any{"action": action, "error": err.Error()})
		return &Reply{Response: e.bundle.Apology(sess.Language)}, nil
	}

	if dbName, requestName, ok := result.NeedsNameClarification(); ok {
		sess.SetPendingNameClarification(&PendingNameClarification{
			DBName:         dbName,
			RequestName:    requestName,
			OriginalAction: action,
			OriginalArgs:   args,
			Attempts:       0,
			Timestamp:      e.now().UTC(),
		})
		return &Reply{Response: e.bundle.Getf(sess.Language, i18n.ContextClarificationQuestion,
			dbName, requestName, requestName, dbName)}, nil
	}

	if !result.OK() {
		detail := ""
		if result.Error != nil {
			detail = result.Error.Code
		}
		e.log.Warn(sess.Tenant.Restaurant.ID, sess.ID, "action returned error",
			map[string]any{"action": action, "code": detail})
		return &Reply{Response: e.bundle.Apology(sess.Language)}, nil
	}

	switch action {
	case booking.ActionCancelReservation:
		return &Reply{Response: e.bundle.Get(sess.Language, i18n.ContextCancellationDone)}, nil
	default:
		reply := &Reply{
			Response:   e.bundle.Get(sess.Language, i18n.ContextConfirmationDone),
			HasBooking: true,
		}
		if id, ok := result.ReservationID(); ok {
			reply.ReservationID = id
		}
		return reply, nil
	}
}

// argsSummary renders gathered booking arguments for logs and prompts.
func argsSummary(args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args)
	}
	return string(raw)
}
