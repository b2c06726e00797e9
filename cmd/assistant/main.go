// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the TableTalk assistant service.
//
// The assistant keeps a multi-turn restaurant-booking dialogue correct
// and available on top of unreliable LLM providers:
// - Routes generations to a primary provider with transparent failover
// - Gates degraded providers behind per-provider circuit breakers
// - Tracks per-tenant usage for billing visibility
// - Runs an explicit confirmation / name-clarification sub-protocol so a
//   booking is never created or cancelled without an affirmative yes
//
// Usage:
//
//	./assistant
//
// Environment Variables:
//
//	LISTEN_ADDR - HTTP listen address (default: :8080)
//	CONFIG_PATH - optional YAML configuration file
//	OPENAI_API_KEY - OpenAI API key
//	ANTHROPIC_API_KEY - Anthropic API key
//	BOOKING_BACKEND_URL - reservation backend base URL (required)
//	REDIS_URL - shared usage store (optional)
//	DATABASE_URL - usage event recorder (optional)
package main

import (
	"tabletalk/platform/assistant"
)

func main() {
	assistant.Run()
}
