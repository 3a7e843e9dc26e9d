package batch

import "context"

// ClientMetrics is the per-client roll-up written against the composed
// client run ID.
type ClientMetrics struct {
	PostsExamined     int
	PostsScored       int
	PostScoringTokens int
	Errors            int
	ErrorDetails      []string
	LeadsSkipped      int
	Status            string
}

// Tracker persists run and per-client progress to the shared tracking store.
// Every method is best-effort from the orchestrator's point of view except
// CreateJobTracking, whose failure aborts the run before any client work.
type Tracker interface {
	CreateJobTracking(ctx context.Context, runID string, init map[string]any) error
	UpdateJob(ctx context.Context, runID string, updates map[string]any) error
	CompleteJob(ctx context.Context, runID, status, notes string) error
	UpdateRunRecord(ctx context.Context, clientRunID, clientID string, updates map[string]any, createIfMissing bool) error
	CompleteClientProcessing(ctx context.Context, clientRunID, clientID string, metrics ClientMetrics) error
}

// NopTracker discards all tracking writes. Used for dry runs and tests.
type NopTracker struct{}

func (NopTracker) CreateJobTracking(context.Context, string, map[string]any) error { return nil }
func (NopTracker) UpdateJob(context.Context, string, map[string]any) error         { return nil }
func (NopTracker) CompleteJob(context.Context, string, string, string) error       { return nil }
func (NopTracker) UpdateRunRecord(context.Context, string, string, map[string]any, bool) error {
	return nil
}
func (NopTracker) CompleteClientProcessing(context.Context, string, string, ClientMetrics) error {
	return nil
}
