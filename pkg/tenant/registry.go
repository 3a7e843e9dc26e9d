package tenant

import "context"

// Client is one tenant as known to the registry. Loaded once per run and
// never mutated by the batch core.
type Client struct {
	ClientID        string
	ClientName      string
	DatastoreHandle string
	ServiceLevel    string
	Active          bool
}

// JobState values for SetJobStatus.
const (
	JobStateRunning   = "RUNNING"
	JobStateCompleted = "COMPLETED"
	JobStateFailed    = "FAILED"
)

// JobTypePostScoring is the job type this orchestrator reports under.
const JobTypePostScoring = "post-scoring"

// Registry is the tenant registry collaborator contract.
type Registry interface {
	// ListActiveClients returns active clients, optionally filtered to one
	// client ID. An empty filter returns all active clients.
	ListActiveClients(ctx context.Context, filter string) ([]Client, error)

	// LogExecution records a per-client execution log entry.
	LogExecution(ctx context.Context, clientID string, record map[string]any) error

	// SetJobStatus updates the client's job status sentinel. Best effort:
	// callers log failures and continue.
	SetJobStatus(ctx context.Context, clientID, jobType, state, idOrReason string) error
}
