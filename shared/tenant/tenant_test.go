// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package tenant

import (
	"errors"
	"testing"
)

func TestResolveModel(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		wantProv ProviderKind
		wantTier ModelTier
		wantErr  bool
	}{
		{"gpt-4o", "gpt-4o", ProviderOpenAI, TierStandard, false},
		{"gpt-4o-mini", "gpt-4o-mini", ProviderOpenAI, TierFast, false},
		{"claude sonnet", "claude-3-5-sonnet-20241022", ProviderAnthropic, TierStandard, false},
		{"claude haiku", "claude-3-5-haiku-20241022", ProviderAnthropic, TierFast, false},
		{"bare haiku alias", "haiku", ProviderAnthropic, TierFast, false},
		{"bare sonnet alias", "sonnet", ProviderAnthropic, TierStandard, false},
		{"unknown", "llama-70b", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ResolveModel(tt.model)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.model)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.Provider() != tt.wantProv {
				t.Errorf("provider = %s, want %s", ref.Provider(), tt.wantProv)
			}
			if ref.Tier() != tt.wantTier {
				t.Errorf("tier = %s, want %s", ref.Tier(), tt.wantTier)
			}
		})
	}
}

func TestProviderKindOther(t *testing.T) {
	if ProviderOpenAI.Other() != ProviderAnthropic {
		t.Error("openai fallback should be anthropic")
	}
	if ProviderAnthropic.Other() != ProviderOpenAI {
		t.Error("anthropic fallback should be openai")
	}
}

func TestValidate(t *testing.T) {
	valid, err := NewContext("rest-1", "pro", StatusActive, "gpt-4o", "claude-3-5-haiku-20241022", 0.7, true)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	t.Run("active tenant passes", func(t *testing.T) {
		if err := Validate(valid); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("trial tenant passes", func(t *testing.T) {
		tc := *valid
		tc.Restaurant.Status = StatusTrial
		if err := Validate(&tc); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("nil context denied", func(t *testing.T) {
		err := Validate(nil)
		var denied *AccessDeniedError
		if !errors.As(err, &denied) {
			t.Fatalf("expected AccessDeniedError, got %v", err)
		}
	})

	t.Run("feature flag off denied", func(t *testing.T) {
		tc := *valid
		tc.Features.AIChat = false
		var denied *AccessDeniedError
		if !errors.As(Validate(&tc), &denied) {
			t.Fatal("expected AccessDeniedError")
		}
	})

	t.Run("suspended tenant denied", func(t *testing.T) {
		tc := *valid
		tc.Restaurant.Status = StatusSuspended
		var denied *AccessDeniedError
		if !errors.As(Validate(&tc), &denied) {
			t.Fatal("expected AccessDeniedError")
		}
	})
}

func TestNewContextRejectsUnknownModels(t *testing.T) {
	if _, err := NewContext("rest-1", "pro", StatusActive, "mystery-model", "gpt-4o", 0.7, true); err == nil {
		t.Fatal("expected error for unknown primary model")
	}
	if _, err := NewContext("rest-1", "pro", StatusActive, "gpt-4o", "mystery-model", 0.7, true); err == nil {
		t.Fatal("expected error for unknown fallback model")
	}
}
