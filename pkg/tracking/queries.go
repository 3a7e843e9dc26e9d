package tracking

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned by GetRun when no row exists for the run ID.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one row of run_tracking.
type RunRecord struct {
	RunID        string     `json:"run_id"`
	Status       string     `json:"status"`
	ClientFilter string     `json:"client_filter,omitempty"`
	LastClient   string     `json:"last_client,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ClientRunRecord is one row of client_runs.
type ClientRunRecord struct {
	ClientRunID       string     `json:"client_run_id"`
	RunID             string     `json:"run_id"`
	ClientID          string     `json:"client_id"`
	Status            string     `json:"status,omitempty"`
	PostsExamined     int        `json:"posts_examined"`
	PostsScored       int        `json:"posts_scored"`
	PostScoringTokens int        `json:"post_scoring_tokens"`
	LeadsSkipped      int        `json:"leads_skipped"`
	Errors            int        `json:"errors"`
	ErrorDetails      string     `json:"error_details,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// GetRun fetches one run row.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	var rec RunRecord
	var clientFilter, lastClient, notes, status stdsql.NullString
	var completedAt stdsql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, status, client_filter, last_client, notes, started_at, completed_at
		FROM run_tracking WHERE run_id = $1`,
		runID).Scan(&rec.RunID, &status, &clientFilter, &lastClient, &notes,
		&rec.StartedAt, &completedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return RunRecord{}, ErrRunNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	rec.Status = status.String
	rec.ClientFilter = clientFilter.String
	rec.LastClient = lastClient.String
	rec.Notes = notes.String
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return rec, nil
}

// ListClientRuns fetches all per-client rows for one run, oldest first.
func (s *Store) ListClientRuns(ctx context.Context, runID string) ([]ClientRunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_run_id, run_id, client_id, status,
		       posts_examined, posts_scored, post_scoring_tokens,
		       leads_skipped, errors, error_details, completed_at
		FROM client_runs WHERE run_id = $1
		ORDER BY created_at`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("list client runs %s: %w", runID, err)
	}
	defer rows.Close()

	var recs []ClientRunRecord
	for rows.Next() {
		var rec ClientRunRecord
		var status, errorDetails stdsql.NullString
		var completedAt stdsql.NullTime
		if err := rows.Scan(&rec.ClientRunID, &rec.RunID, &rec.ClientID, &status,
			&rec.PostsExamined, &rec.PostsScored, &rec.PostScoringTokens,
			&rec.LeadsSkipped, &rec.Errors, &errorDetails, &completedAt); err != nil {
			return nil, fmt.Errorf("scan client run: %w", err)
		}
		rec.Status = status.String
		rec.ErrorDetails = errorDetails.String
		if completedAt.Valid {
			rec.CompletedAt = &completedAt.Time
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list client runs %s: %w", runID, err)
	}
	return recs, nil
}
