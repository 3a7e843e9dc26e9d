package api

import "github.com/lumolead/postscore/pkg/tracking"

// TriggerRunRequest is the POST /api/v1/runs body. All fields optional; the
// zero value runs every active client with default settings.
type TriggerRunRequest struct {
	ClientFilter  string   `json:"client_filter,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	ForceRescore  bool     `json:"force_rescore,omitempty"`
	TargetIDs     []string `json:"target_ids,omitempty"`
	DryRun        bool     `json:"dry_run,omitempty"`
	VerboseErrors bool     `json:"verbose_errors,omitempty"`
}

// TriggerRunResponse acknowledges an accepted run.
type TriggerRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// RunStatusResponse is the GET /api/v1/runs/:id body.
type RunStatusResponse struct {
	Run     tracking.RunRecord         `json:"run"`
	Clients []tracking.ClientRunRecord `json:"clients,omitempty"`
	Active  bool                       `json:"active"`
}

// HealthCheck is one component's health probe result.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the GET /healthz body.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	ActiveRun string                 `json:"active_run,omitempty"`
	Checks    map[string]HealthCheck `json:"checks"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	RunID string `json:"run_id,omitempty"`
}
