// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tabletalk/platform/assistant/llm"
	"tabletalk/platform/shared/i18n"
	"tabletalk/platform/shared/tenant"
)

// Bounds for the clarification sub-dialogue. Past either, the booking is
// never blocked: it resolves to the on-file name.
const (
	clarificationTimeout       = 5 * time.Minute
	clarificationMaxAttempts   = 3
	clarificationMinConfidence = 0.8
)

// ErrNoPendingClarification is returned when a clarification reply
// arrives with no clarification pending.
var ErrNoPendingClarification = errors.New("no pending name clarification")

// nameChoiceTokens maps short replies to a candidate. "new" picks the
// name from this request; "old" picks the name on file. Covers English,
// Russian, Hungarian and Serbian.
var nameChoiceTokens = map[string]string{
	// requested name
	"1": "new", "new": "new", "yes": "new", "yeah": "new",
	"да": "new", "новое": "new", "новая": "new",
	"igen": "new", "új": "new",
	"da": "new", "novo": "new", "ново": "new",
	// on-file name
	"2": "old", "old": "old", "no": "old",
	"нет": "old", "старое": "old", "старая": "old",
	"nem": "old", "régi": "old",
	"ne": "old", "staro": "old", "старо": "old",
}

// ProcessNameClarification handles the next user message while a name
// clarification is pending. The caller holds the session lock.
func (e *ConfirmationEngine) ProcessNameClarification(ctx context.Context, sess *Session, rawText string) (reply *Reply, err error) {
	pending := sess.PendingNameClarification()
	if pending == nil {
		return nil, ErrNoPendingClarification
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error(sess.Tenant.Restaurant.ID, sess.ID, "name clarification panicked",
				map[string]any{"panic": fmt.Sprint(r)})
			reply = &Reply{Response: e.bundle.Apology(sess.Language)}
			err = nil
		}
	}()

	// Past the timeout or the attempt cap, resolve to the on-file name
	// without asking again.
	if e.now().UTC().Sub(pending.Timestamp) > clarificationTimeout || pending.Attempts >= clarificationMaxAttempts {
		e.log.Info(sess.Tenant.Restaurant.ID, sess.ID, "name clarification auto-resolved",
			map[string]any{"resolved": pending.DBName, "attempts": pending.Attempts})
		return e.resolveName(ctx, sess, pending, pending.DBName)
	}

	if name, ok := e.resolveNameFast(rawText, pending); ok {
		return e.resolveName(ctx, sess, pending, name)
	}

	name, err := e.extractNameChoice(ctx, sess, pending, rawText)
	if err != nil {
		var denied *tenant.AccessDeniedError
		if errors.As(err, &denied) {
			return nil, err
		}
		e.log.Warn(sess.Tenant.Restaurant.ID, sess.ID, "name extraction failed",
			map[string]any{"error": err.Error()})
	}
	if name != "" {
		return e.resolveName(ctx, sess, pending, name)
	}

	// Not resolved: count the attempt, refresh the window, ask again.
	pending.Attempts++
	pending.Timestamp = e.now().UTC()
	return &Reply{Response: e.bundle.Getf(sess.Language, i18n.ContextClarificationReask,
		pending.RequestName, pending.DBName)}, nil
}

// resolveNameFast tries pattern matching before any provider call: a
// direct substring match against either candidate, then the multilingual
// short-reply table.
func (e *ConfirmationEngine) resolveNameFast(rawText string, pending *PendingNameClarification) (string, bool) {
	text := strings.ToLower(strings.TrimSpace(rawText))
	if text == "" {
		return "", false
	}

	dbMatch := strings.Contains(text, strings.ToLower(pending.DBName))
	reqMatch := strings.Contains(text, strings.ToLower(pending.RequestName))
	if dbMatch != reqMatch {
		if dbMatch {
			return pending.DBName, true
		}
		return pending.RequestName, true
	}

	token := strings.Trim(text, ".,!?")
	switch nameChoiceTokens[token] {
	case "new":
		return pending.RequestName, true
	case "old":
		return pending.DBName, true
	}
	return "", false
}

// extractNameChoice asks the provider which candidate the user picked.
// Only an exact candidate with confidence at or above the threshold is
// accepted.
func (e *ConfirmationEngine) extractNameChoice(ctx context.Context, sess *Session, pending *PendingNameClarification, rawText string) (string, error) {
	prompt := fmt.Sprintf(`A guest must choose between two names for their reservation:
- %q (the name used in this request)
- %q (the name on file)

The guest replied: %q

Which name did they choose? Respond with JSON:
{"name": "<exactly one of the two names, or empty if undecidable>", "confidence": <0..1>}`,
		pending.RequestName, pending.DBName, rawText)

	obj, err := e.gen.GenerateJSON(ctx, prompt, llm.GenerateOptions{
		AgentContext: AgentExtraction,
		Schema:       &llm.JSONSchema{Type: "object", Required: []string{"name"}},
	}, sess.Tenant)
	if err != nil {
		return "", err
	}

	name, _ := obj["name"].(string)
	confidence, _ := obj["confidence"].(float64)
	if confidence < clarificationMinConfidence {
		return "", nil
	}
	switch name {
	case pending.DBName, pending.RequestName:
		return name, nil
	}
	return "", nil
}

// resolveName clears the clarification state and retries the original
// action with the chosen name.
func (e *ConfirmationEngine) resolveName(ctx context.Context, sess *Session, pending *PendingNameClarification, name string) (*Reply, error) {
	sess.ClearPending()

	args := make(map[string]any, len(pending.OriginalArgs)+1)
	for k, v := range pending.OriginalArgs {
		args[k] = v
	}
	args["name"] = name
	args["name_confirmed"] = true
	sess.MergeGatheringInfo(map[string]any{"name": name})

	return e.execute(ctx, sess, pending.OriginalAction, args)
}
