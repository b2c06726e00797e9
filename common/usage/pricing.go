// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package usage

import "fmt"

// LLM provider pricing as of mid 2025.
// Prices stored in cents per 1K tokens to avoid floating point issues.
// All prices are USD.

// ProviderPricing contains pricing for a specific model
type ProviderPricing struct {
	PromptCostPer1K     int // cents per 1K prompt tokens
	CompletionCostPer1K int // cents per 1K completion tokens
}

// providerPricing maps provider-model combinations to pricing
var providerPricing = map[string]ProviderPricing{
	// OpenAI
	"openai-gpt-4o":      {250, 1000}, // $0.0025/$0.01 per 1K tokens
	"openai-gpt-4o-mini": {15, 60},    // $0.00015/$0.0006 per 1K tokens
	"openai-gpt-4-turbo": {1000, 3000},

	// Anthropic
	"anthropic-claude-3-5-sonnet-20241022": {300, 1500},
	"anthropic-claude-3-5-haiku-20241022":  {80, 400},
	"anthropic-claude-3-haiku-20240307":    {25, 125},

	// Default fallback pricing (conservative estimate)
	"default": {1000, 3000},
}

// CalculateCost calculates the cost in cents for an LLM request.
// Returns cost in cents (integer) to avoid floating point precision issues.
func CalculateCost(provider, model string, promptTokens, completionTokens int) int {
	pricing, ok := providerPricing[provider+"-"+model]
	if !ok {
		pricing = providerPricing["default"]
	}

	promptCost := (promptTokens * pricing.PromptCostPer1K) / 1000
	completionCost := (completionTokens * pricing.CompletionCostPer1K) / 1000

	return promptCost + completionCost
}

// FormatCostToDollars converts cents to a dollar string (e.g., 135 -> "$1.35")
func FormatCostToDollars(cents int) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100.0)
}
