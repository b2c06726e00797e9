// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package assistant

import (
	"context"
	"fmt"
	"strings"

	"tabletalk/platform/assistant/llm"
	"tabletalk/platform/shared/i18n"
	"tabletalk/platform/shared/logger"
	"tabletalk/platform/shared/tenant"
)

// languageNames gives the provider a readable target instead of a code.
var languageNames = map[string]string{
	"en": "English",
	"ru": "Russian",
	"hu": "Hungarian",
	"sr": "Serbian",
}

// Translator produces user-facing strings in the session's language by
// delegating a short prompt back through the router. Failures fall back
// to the input text rather than surfacing an error to the user.
type Translator struct {
	gen Generator
	log *logger.Logger
}

// NewTranslator wires a translator.
func NewTranslator(gen Generator, log *logger.Logger) *Translator {
	if log == nil {
		log = logger.New("translator")
	}
	return &Translator{gen: gen, log: log}
}

// Localize returns text in the target language. English and unset
// languages pass through untouched; so does any translation failure.
func (t *Translator) Localize(ctx context.Context, tc *tenant.Context, lang, text string) string {
	if lang == "" || lang == i18n.DefaultLanguage || strings.TrimSpace(text) == "" {
		return text
	}
	target, ok := languageNames[lang]
	if !ok {
		target = lang
	}

	prompt := fmt.Sprintf(`Translate the following message into %s. Keep names,
numbers, dates and times exactly as they are. Return only the translation.

%s`, target, text)

	out, err := t.gen.GenerateContent(ctx, prompt, llm.GenerateOptions{
		AgentContext: AgentTranslation,
		Language:     lang,
	}, tc)
	if err != nil {
		t.log.Warn(tc.Restaurant.ID, "", "translation failed, using source text",
			map[string]any{"language": lang, "error": err.Error()})
		return text
	}
	return out
}
