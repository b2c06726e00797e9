// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

// Package usage provides per-tenant AI usage accounting for billing
// visibility. Counters are kept in an injected Store (in-memory or Redis);
// individual request events can additionally be persisted to PostgreSQL
// through the Recorder for offline billing.
package usage
