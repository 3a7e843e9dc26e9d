package logging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// StackTraceRecord is one archived stack trace. Timestamp is the record key:
// an ISO-8601 UTC timestamp extended to sub-nanosecond width so concurrent
// archives never collide.
type StackTraceRecord struct {
	Timestamp    string
	RunID        string
	ClientID     string
	ErrorMessage string
	StackTrace   string
}

// Archiver persists stack traces out of band. Implementations must tolerate
// being called from error paths: a failed save is logged and dropped.
type Archiver interface {
	SaveStackTrace(ctx context.Context, rec StackTraceRecord) error
}

var traceSeq atomic.Uint64

// TraceTimestamp returns the archival key for the current instant:
// nanosecond precision extended with a 3-digit sequence to disambiguate
// traces archived within the same nanosecond tick.
func TraceTimestamp(now time.Time) string {
	seq := traceSeq.Add(1) % 1000
	return fmt.Sprintf("%s%03dZ", now.UTC().Format("2006-01-02T15:04:05.000000000"), seq)
}

// archiveStack saves the current goroutine's stack and returns the log
// marker, or "" when archival failed.
func (l *Logger) archiveStack(err error) string {
	ts := TraceTimestamp(time.Now())
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	rec := StackTraceRecord{
		Timestamp:    ts,
		RunID:        l.runID,
		ClientID:     l.clientID,
		ErrorMessage: msg,
		StackTrace:   string(debug.Stack()),
	}
	if saveErr := l.archiver.SaveStackTrace(context.Background(), rec); saveErr != nil {
		slog.Warn("Failed to archive stack trace", "timestamp", ts, "error", saveErr)
		return ""
	}
	return "STACKTRACE:" + ts
}
