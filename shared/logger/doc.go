// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

// Package logger provides structured JSON logging for TableTalk services.
// Entries are written one JSON object per line to stdout so the container
// runtime can ship them without further parsing.
package logger
