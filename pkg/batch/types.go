// Package batch coordinates a scoring run: chunked lead processing per
// client, sequential client execution with failure isolation, and metrics
// roll-up into the tracking store under the composed per-client run ID.
package batch

import (
	"time"

	"github.com/lumolead/postscore/pkg/models"
)

// Run and client completion statuses.
const (
	StatusSuccess             = "success"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
)

// ReasonCancelled buckets leads left unprocessed when the run is cancelled.
const ReasonCancelled = "CANCELLED"

// ChunkResult accumulates counters for one chunk of leads.
type ChunkResult struct {
	Processed int
	Scored    int
	Skipped   int
	Errors    int

	SkipCounts        map[string]int
	ErrorReasonCounts map[string]int
	ErrorDetails      []string

	Tokens models.TokenUsage
}

// NewChunkResult creates a result with initialised maps.
func NewChunkResult() ChunkResult {
	return ChunkResult{
		SkipCounts:        map[string]int{},
		ErrorReasonCounts: map[string]int{},
	}
}

// Merge folds another chunk's counters into this one.
func (r *ChunkResult) Merge(other ChunkResult) {
	r.Processed += other.Processed
	r.Scored += other.Scored
	r.Skipped += other.Skipped
	r.Errors += other.Errors
	for k, v := range other.SkipCounts {
		r.SkipCounts[k] += v
	}
	for k, v := range other.ErrorReasonCounts {
		r.ErrorReasonCounts[k] += v
	}
	r.ErrorDetails = append(r.ErrorDetails, other.ErrorDetails...)
	r.Tokens.Add(other.Tokens)
}

// ClientResult is the outcome of one client's batch.
type ClientResult struct {
	ClientID    string
	ClientRunID string
	Status      string

	LeadsSelected int
	ChunkResult

	Duration time.Duration

	// Err is set when the client failed catastrophically (store unreachable,
	// selector failure). Lead-level errors live in the counters instead.
	Err error
}

// RunResult is the aggregate over all clients of one run.
type RunResult struct {
	RunID   string
	Status  string
	Clients []ClientResult

	ClientsProcessed int
	ClientsFailed    int
	PostsExamined    int
	PostsScored      int
	LeadsSkipped     int
	Errors           int

	SkipCounts        map[string]int
	ErrorReasonCounts map[string]int

	Tokens   models.TokenUsage
	Duration time.Duration

	// Diagnostics holds deduplicated error samples when verbose-error
	// collection is enabled.
	Diagnostics []string
}

func newRunResult(runID string) RunResult {
	return RunResult{
		RunID:             runID,
		SkipCounts:        map[string]int{},
		ErrorReasonCounts: map[string]int{},
	}
}

func (r *RunResult) absorb(c ClientResult) {
	r.Clients = append(r.Clients, c)
	r.ClientsProcessed++
	if c.Status == StatusFailed {
		r.ClientsFailed++
	}
	r.PostsExamined += c.Processed
	r.PostsScored += c.Scored
	r.LeadsSkipped += c.Skipped
	r.Errors += c.Errors
	for k, v := range c.SkipCounts {
		r.SkipCounts[k] += v
	}
	for k, v := range c.ErrorReasonCounts {
		r.ErrorReasonCounts[k] += v
	}
	r.Tokens.Add(c.Tokens)
}
