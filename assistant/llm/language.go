// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"strings"
	"unicode"
)

// Output language validation. After a successful generation the router
// checks the response against a lightweight signature of the session
// language: character-set ratios plus an English-loanword-density check.
// A mismatch is not an error; the router substitutes a pre-authored
// fallback string instead of re-asking the provider, which bounds
// worst-case latency. Validation is skipped entirely for English or an
// unset language.

// Common English function words. A reply to a Hungarian guest that is
// mostly built from these is almost certainly in the wrong language.
var englishFunctionWords = map[string]bool{
	"the": true, "and": true, "is": true, "are": true, "your": true,
	"you": true, "for": true, "with": true, "have": true, "this": true,
	"that": true, "would": true, "please": true, "can": true, "will": true,
	"not": true, "our": true, "been": true, "has": true, "was": true,
}

// Characters distinguishing Hungarian from plain-ASCII English.
const hungarianAccents = "áéíóöőúüűÁÉÍÓÖŐÚÜŰ"

// Characters distinguishing Latin-script Serbian.
const serbianLatinAccents = "čćđšžČĆĐŠŽ"

// MatchesLanguage reports whether text plausibly is in the target
// language. lang is a lowercase two-letter code; unknown languages are
// accepted (no signature to check against).
func MatchesLanguage(text, lang string) bool {
	lang = strings.ToLower(lang)
	if lang == "" || lang == "en" {
		return true
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}

	switch lang {
	case "ru":
		return cyrillicRatio(trimmed) >= 0.5
	case "sr":
		// Serbian uses both scripts: accept Cyrillic, or Latin with the
		// diacritics English never has, as long as the reply is not
		// dominated by English function words.
		if cyrillicRatio(trimmed) >= 0.3 {
			return true
		}
		return strings.ContainsAny(trimmed, serbianLatinAccents) && englishWordDensity(trimmed) < 0.4
	case "hu":
		if strings.ContainsAny(trimmed, hungarianAccents) {
			return englishWordDensity(trimmed) < 0.4
		}
		// Short accent-free Hungarian exists ("Rendben, koszonom"), so
		// fall back to the loanword-density check alone.
		return englishWordDensity(trimmed) < 0.25
	default:
		return true
	}
}

// cyrillicRatio returns the share of letters that are Cyrillic.
func cyrillicRatio(text string) float64 {
	var letters, cyrillic int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Cyrillic, r) {
			cyrillic++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(cyrillic) / float64(letters)
}

// englishWordDensity returns the share of words that are common English
// function words.
func englishWordDensity(text string) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}
	var english int
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()")
		if englishFunctionWords[w] {
			english++
		}
	}
	return float64(english) / float64(len(words))
}
