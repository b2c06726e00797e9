// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tabletalk/platform/shared/tenant"
)

// GenerateJSON generates a JSON object for the given prompt. Up to
// maxJSONRetries re-prompts are made, each appending the previous parse
// error; Markdown code fences are stripped before parsing; when a Schema
// is set the decoded object must contain every required key.
//
// This is a deliberate fail-soft boundary: if every attempt fails
// (including total provider failure) the safe default registered for the
// agent context is returned instead of an error. Only AccessDenied
// propagates.
func (r *Router) GenerateJSON(ctx context.Context, prompt string, opts GenerateOptions, tc *tenant.Context) (map[string]any, error) {
	if err := tenant.Validate(tc); err != nil {
		return nil, err
	}

	// Canned localized copy is never valid JSON, so the language check
	// is skipped on this path.
	opts.Language = ""

	attempts := r.maxJSONRetries + 1
	currentPrompt := prompt
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			currentPrompt = fmt.Sprintf(
				"%s\n\nYour previous reply could not be used: %v. Reply with ONLY a single valid JSON object. No prose, no code fences.",
				prompt, lastErr)
		}

		content, err := r.generateRaw(ctx, currentPrompt, opts, tc)
		if err != nil {
			var denied *tenant.AccessDeniedError
			if errors.As(err, &denied) {
				return nil, err
			}
			lastErr = err
			continue
		}

		obj, err := decodeJSONObject(content, opts.Schema)
		if err != nil {
			lastErr = err
			continue
		}
		return obj, nil
	}

	r.logger.Warn(tc.Restaurant.ID, "", "JSON generation exhausted retries, returning safe default", map[string]interface{}{
		"agent_context": opts.AgentContext,
		"attempts":      attempts,
		"last_error":    fmt.Sprint(lastErr),
	})

	return r.jsonDefault(opts.AgentContext), nil
}

// jsonDefault returns a copy of the registered safe default for an agent
// context, or an empty object when none is registered.
func (r *Router) jsonDefault(agentContext string) map[string]any {
	def, ok := r.jsonDefaults[agentContext]
	if !ok {
		return map[string]any{}
	}

	// Copy through JSON so callers can't mutate the registered default.
	raw, err := json.Marshal(def)
	if err != nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(def))
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// decodeJSONObject strips code fences, parses the content as a JSON
// object and applies the minimal shape check.
func decodeJSONObject(content string, schema *JSONSchema) (map[string]any, error) {
	cleaned := StripCodeFences(content)

	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if schema != nil {
		if schema.Type != "" && schema.Type != "object" {
			return nil, fmt.Errorf("schema type %q is not supported", schema.Type)
		}
		for _, key := range schema.Required {
			if _, ok := obj[key]; !ok {
				return nil, fmt.Errorf("missing required field %q", key)
			}
		}
	}

	return obj, nil
}

// StripCodeFences removes a surrounding Markdown code fence, with or
// without a language tag, from a model reply.
func StripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	// Drop a language tag like "json" on the opening fence line.
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		firstLine := strings.TrimSpace(trimmed[:idx])
		if firstLine != "" && !strings.ContainsAny(firstLine, "{[") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
