// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

// Package tenant defines the per-restaurant configuration and entitlement
// contract that gates access to AI features. A Context is required on every
// call into the AI layer; a missing or disabled tenant is a hard error,
// never a transient fault.
package tenant

import (
	"fmt"
	"strings"
)

// ProviderKind identifies an upstream LLM vendor. The set is closed:
// routing decisions are made against this enum, never against raw model
// name strings at call time.
type ProviderKind string

const (
	// ProviderOpenAI represents OpenAI's GPT family.
	ProviderOpenAI ProviderKind = "openai"

	// ProviderAnthropic represents Anthropic's Claude family.
	ProviderAnthropic ProviderKind = "anthropic"
)

// Other returns the opposite provider, used for fallback routing.
func (k ProviderKind) Other() ProviderKind {
	if k == ProviderOpenAI {
		return ProviderAnthropic
	}
	return ProviderOpenAI
}

// ModelTier classifies a model by capability/cost class.
type ModelTier string

const (
	// TierFast is the cheap, low-latency class (haiku, gpt-*-mini).
	TierFast ModelTier = "fast"

	// TierStandard is the default quality class (sonnet, gpt-4o).
	TierStandard ModelTier = "standard"
)

// ModelRef is a model name resolved to its provider and tier. Resolution
// happens once when tenant configuration is loaded, not per request.
type ModelRef struct {
	Kind ModelTier    `json:"tier"`
	Name string       `json:"name"`
	Prov ProviderKind `json:"provider"`
}

// Provider returns the provider kind for this model.
func (m ModelRef) Provider() ProviderKind { return m.Prov }

// Tier returns the capability tier for this model.
func (m ModelRef) Tier() ModelTier { return m.Kind }

// IsZero reports whether the reference is unset.
func (m ModelRef) IsZero() bool { return m.Name == "" }

// ResolveModel maps a configured model name to a ModelRef.
// Unknown names are an error: tenant configuration must not reach the
// router with an unroutable model.
func ResolveModel(name string) (ModelRef, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return ModelRef{}, fmt.Errorf("model name is empty")
	}

	switch {
	case strings.HasPrefix(lower, "gpt") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3"):
		tier := TierStandard
		if strings.Contains(lower, "mini") || strings.Contains(lower, "nano") {
			tier = TierFast
		}
		return ModelRef{Prov: ProviderOpenAI, Kind: tier, Name: name}, nil

	case strings.Contains(lower, "claude") || strings.Contains(lower, "haiku") ||
		strings.Contains(lower, "sonnet") || strings.Contains(lower, "opus"):
		tier := TierStandard
		if strings.Contains(lower, "haiku") {
			tier = TierFast
		}
		return ModelRef{Prov: ProviderAnthropic, Kind: tier, Name: name}, nil
	}

	return ModelRef{}, fmt.Errorf("unknown model %q: cannot determine provider", name)
}

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Restaurant holds the per-restaurant AI configuration.
type Restaurant struct {
	ID            string   `json:"id"`
	Plan          string   `json:"plan"`
	Status        Status   `json:"status"`
	PrimaryModel  ModelRef `json:"primary_model"`
	FallbackModel ModelRef `json:"fallback_model"`
	Temperature   float64  `json:"temperature"`
}

// Features holds the tenant's feature flags.
type Features struct {
	AIChat bool `json:"ai_chat"`
}

// Context is the tenant entitlement contract threaded through every AI
// call. It is required non-nil; absence is a hard error.
type Context struct {
	Restaurant Restaurant `json:"restaurant"`
	Features   Features   `json:"features"`
}

// NewContext builds a Context from raw configuration values, resolving
// model names to ModelRefs. This is the single place model-name strings
// are parsed.
func NewContext(id, plan string, status Status, primaryModel, fallbackModel string, temperature float64, aiChat bool) (*Context, error) {
	primary, err := ResolveModel(primaryModel)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: primary model: %w", id, err)
	}

	fallback, err := ResolveModel(fallbackModel)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: fallback model: %w", id, err)
	}

	return &Context{
		Restaurant: Restaurant{
			ID:            id,
			Plan:          plan,
			Status:        status,
			PrimaryModel:  primary,
			FallbackModel: fallback,
			Temperature:   temperature,
		},
		Features: Features{AIChat: aiChat},
	}, nil
}

// AccessDeniedError indicates a tenant is missing, disabled, or not
// entitled to AI features. It represents a configuration problem, not a
// transient fault, and is never retried.
type AccessDeniedError struct {
	TenantID string
	Reason   string
}

func (e *AccessDeniedError) Error() string {
	if e.TenantID == "" {
		return fmt.Sprintf("access denied: %s", e.Reason)
	}
	return fmt.Sprintf("access denied for tenant %s: %s", e.TenantID, e.Reason)
}

// Validate checks the tenant is entitled to AI chat. A nil Context is
// rejected with AccessDeniedError.
func Validate(tc *Context) error {
	if tc == nil {
		return &AccessDeniedError{Reason: "tenant context is required"}
	}
	if !tc.Features.AIChat {
		return &AccessDeniedError{TenantID: tc.Restaurant.ID, Reason: "ai chat feature is disabled"}
	}
	if tc.Restaurant.Status != StatusActive && tc.Restaurant.Status != StatusTrial {
		return &AccessDeniedError{
			TenantID: tc.Restaurant.ID,
			Reason:   fmt.Sprintf("tenant status is %s", tc.Restaurant.Status),
		}
	}
	return nil
}
