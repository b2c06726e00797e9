// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

// Package i18n holds the pre-authored per-language, per-agent-context
// fallback strings. The bundle is loaded once at startup from an embedded
// YAML resource; looking up a string never goes back to a provider, which
// bounds worst-case latency when a generation comes back in the wrong
// language.
package i18n

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed fallbacks.yaml
var fallbacksYAML []byte

// Agent contexts with dedicated fallback copy.
const (
	ContextDefault               = "default"
	ContextApology               = "apology"
	ContextConfirmation          = "confirmation"
	ContextConfirmationDeclined  = "confirmation_declined"
	ContextConfirmationDone      = "confirmation_done"
	ContextCancellationDone      = "cancellation_done"
	ContextClarificationQuestion = "clarification_question"
	ContextClarificationReask    = "clarification_reask"
	ContextGuardrailBlocked      = "guardrail_blocked"
)

// DefaultLanguage is the language used when a session has no language set.
const DefaultLanguage = "en"

// Bundle is the {language x agent context -> string} lookup table.
type Bundle struct {
	strings map[string]map[string]string
}

// Load parses the embedded fallback table. Called once at startup.
func Load() (*Bundle, error) {
	var table map[string]map[string]string
	if err := yaml.Unmarshal(fallbacksYAML, &table); err != nil {
		return nil, fmt.Errorf("failed to parse fallback bundle: %w", err)
	}
	if _, ok := table[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("fallback bundle is missing %q entries", DefaultLanguage)
	}
	return &Bundle{strings: table}, nil
}

// MustLoad is Load for wiring code where a broken embedded bundle is fatal.
func MustLoad() *Bundle {
	b, err := Load()
	if err != nil {
		panic(err)
	}
	return b
}

// Languages returns the languages present in the bundle.
func (b *Bundle) Languages() []string {
	langs := make([]string, 0, len(b.strings))
	for lang := range b.strings {
		langs = append(langs, lang)
	}
	return langs
}

// Get returns the string for the given language and agent context.
// Lookup degrades: language+context, language default, English context,
// English default.
func (b *Bundle) Get(lang, agentContext string) string {
	if lang == "" {
		lang = DefaultLanguage
	}
	if agentContext == "" {
		agentContext = ContextDefault
	}

	if byCtx, ok := b.strings[lang]; ok {
		if s, ok := byCtx[agentContext]; ok {
			return s
		}
		if s, ok := byCtx[ContextDefault]; ok {
			return s
		}
	}

	if s, ok := b.strings[DefaultLanguage][agentContext]; ok {
		return s
	}
	return b.strings[DefaultLanguage][ContextDefault]
}

// Getf returns the formatted string for the given language and context.
func (b *Bundle) Getf(lang, agentContext string, args ...any) string {
	return fmt.Sprintf(b.Get(lang, agentContext), args...)
}

// Apology returns the localized generic apology shown in place of any
// internal failure.
func (b *Bundle) Apology(lang string) string {
	return b.Get(lang, ContextApology)
}
