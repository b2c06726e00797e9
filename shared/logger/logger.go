// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger provides structured logging with multi-tenant support.
// Every entry carries the tenant and session it belongs to so provider
// failures can be traced back to a specific conversation. Technical error
// detail belongs here, never in user-facing text.
type Logger struct {
	Component  string
	InstanceID string
	out        *log.Logger
}

// LogEntry represents a structured log entry with required fields for multi-tenant logging
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	TenantID   string                 `json:"tenant_id"`
	SessionID  string                 `json:"session_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a new Logger for the specified component
func New(component string) *Logger {
	// Instance ID is set during deployment; fall back to hostname
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		if host, err := os.Hostname(); err == nil {
			instanceID = host
		} else {
			instanceID = "unknown"
		}
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		out:        log.New(os.Stdout, "", 0),
	}
}

// NewWithWriter creates a Logger that writes to the given writer (tests).
func NewWithWriter(component string, w io.Writer) *Logger {
	return &Logger{
		Component:  component,
		InstanceID: "test",
		out:        log.New(w, "", 0),
	}
}

// Log creates a structured log entry and writes it as a single JSON line
func (l *Logger) Log(level LogLevel, tenantID, sessionID, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		TenantID:   tenantID,
		SessionID:  sessionID,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		l.out.Printf("ERROR: failed to marshal log entry: %v", err)
		return
	}

	l.out.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(tenantID, sessionID, message string, fields map[string]interface{}) {
	l.Log(INFO, tenantID, sessionID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(tenantID, sessionID, message string, fields map[string]interface{}) {
	l.Log(ERROR, tenantID, sessionID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(tenantID, sessionID, message string, fields map[string]interface{}) {
	l.Log(WARN, tenantID, sessionID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(tenantID, sessionID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, tenantID, sessionID, message, fields)
}
