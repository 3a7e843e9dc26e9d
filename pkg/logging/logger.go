// Package logging provides run-scoped structured logging. Every record
// carries run_id, client_id, and operation so per-client batches can be
// traced through a run without grepping for free-text markers.
package logging

import (
	"context"
	"log/slog"
)

// LevelSummary sits between Info and Warn. Run and client summaries are
// emitted at this level so operators can filter them without drowning in
// per-lead Info lines.
const LevelSummary = slog.Level(2)

// SystemClientID is substituted when no client identity can be derived
// from a caller-supplied value.
const SystemClientID = "SYSTEM"

// Logger wraps slog with the run/client/operation triple attached to every
// record. The zero value is not usable; construct via New.
type Logger struct {
	base      *slog.Logger
	runID     string
	clientID  string
	operation string
	archiver  Archiver
}

// New builds a logger for one run scope. runID and clientID accept loosely
// typed values (strings, maps, structs from boundary layers) and are coerced;
// a value that yields nothing becomes SYSTEM/empty rather than crashing the
// batch.
func New(runID, clientID any, operation string) *Logger {
	rid := CoerceRunID(runID)
	cid := CoerceClientID(clientID)
	return &Logger{
		base: slog.Default().With(
			"run_id", rid,
			"client_id", cid,
			"operation", operation,
		),
		runID:     rid,
		clientID:  cid,
		operation: operation,
	}
}

// WithArchiver returns a copy of the logger that archives stack traces on
// Error. Archival failures never propagate.
func (l *Logger) WithArchiver(a Archiver) *Logger {
	cp := *l
	cp.archiver = a
	return &cp
}

// WithOperation returns a copy scoped to a different operation name.
func (l *Logger) WithOperation(operation string) *Logger {
	cp := *l
	cp.operation = operation
	cp.base = slog.Default().With(
		"run_id", l.runID,
		"client_id", l.clientID,
		"operation", operation,
	)
	return &cp
}

// WithClient returns a copy scoped to a client.
func (l *Logger) WithClient(clientID any) *Logger {
	cp := *l
	cp.clientID = CoerceClientID(clientID)
	cp.base = slog.Default().With(
		"run_id", l.runID,
		"client_id", cp.clientID,
		"operation", l.operation,
	)
	return &cp
}

// RunID returns the coerced run identifier.
func (l *Logger) RunID() string { return l.runID }

// ClientID returns the coerced client identifier.
func (l *Logger) ClientID() string { return l.clientID }

func (l *Logger) Debug(msg string, args ...any) { l.base.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.base.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.base.Warn(msg, args...) }

// Summary emits a record at LevelSummary.
func (l *Logger) Summary(msg string, args ...any) {
	l.base.Log(context.Background(), LevelSummary, msg, args...)
}

// Error logs at error level. When an archiver is attached the full stack is
// saved and the record gains a stacktrace=STACKTRACE:<timestamp> attribute
// pointing at the archived trace.
func (l *Logger) Error(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err)
	}
	if l.archiver != nil {
		if marker := l.archiveStack(err); marker != "" {
			args = append(args, "stacktrace", marker)
		}
	}
	l.base.Error(msg, args...)
}

// CoerceClientID extracts a client identifier from loosely typed input.
// Strings pass through; maps are probed for clientId then id; anything else
// yields SystemClientID.
func CoerceClientID(v any) string {
	if s := coerceID(v, "clientId"); s != "" {
		return s
	}
	return SystemClientID
}

// CoerceRunID extracts a run identifier from loosely typed input. Yields ""
// when nothing usable is found.
func CoerceRunID(v any) string {
	return coerceID(v, "runId")
}

func coerceID(v any, primaryKey string) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		if t == "[object Object]" {
			return ""
		}
		return t
	case map[string]any:
		if s, ok := t[primaryKey].(string); ok && s != "" {
			return s
		}
		if s, ok := t["id"].(string); ok && s != "" {
			return s
		}
		return ""
	case map[string]string:
		if s := t[primaryKey]; s != "" {
			return s
		}
		return t["id"]
	case interface{ GetID() string }:
		return t.GetID()
	default:
		return ""
	}
}
