// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Router metrics. Registered on the default registry at init; the wiring
// binary exposes them on /metrics.
var (
	providerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabletalk_llm_provider_requests_total",
		Help: "Provider calls by provider and outcome (success, failure, tripped).",
	}, []string{"provider", "outcome"})

	failovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tabletalk_llm_failovers_total",
		Help: "Requests served by the secondary provider after the primary failed.",
	})

	breakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tabletalk_llm_breaker_open",
		Help: "1 while the provider's circuit breaker is open.",
	}, []string{"provider"})

	languageFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tabletalk_llm_language_fallbacks_total",
		Help: "Responses replaced with canned copy after failing language validation.",
	})
)

func observeBreaker(provider string, state BreakerState) {
	if state == BreakerOpen {
		breakerOpen.WithLabelValues(provider).Set(1)
	} else {
		breakerOpen.WithLabelValues(provider).Set(0)
	}
}
