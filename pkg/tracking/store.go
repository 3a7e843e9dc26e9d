// Package tracking persists run and per-client metrics to the shared
// PostgreSQL tracking store, and doubles as the archive for error stack
// traces. One row per run in run_tracking, one row per client run in
// client_runs keyed by the composed client run ID.
package tracking

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql

	"github.com/lumolead/postscore/pkg/batch"
	"github.com/lumolead/postscore/pkg/config"
	"github.com/lumolead/postscore/pkg/logging"
	"github.com/lumolead/postscore/pkg/runid"
)

// Store is the PostgreSQL-backed tracking store. It implements the
// orchestrator's Tracker contract and the logger's stack-trace Archiver.
type Store struct {
	db *stdsql.DB
}

// NewStore opens the tracking database, configures the pool, verifies
// connectivity, and applies pending migrations.
func NewStore(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open tracking database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping tracking database: %w", err)
	}

	if err := runMigrations(db, cfg.Name); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate tracking database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection and applies migrations. Used
// by tests.
func NewStoreFromDB(db *stdsql.DB, dbName string) (*Store, error) {
	if err := runMigrations(db, dbName); err != nil {
		return nil, fmt.Errorf("migrate tracking database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *stdsql.DB {
	return s.db
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateJobTracking inserts the run row. Re-creating an existing run is a
// no-op so restarts with an explicit run ID do not fail.
func (s *Store) CreateJobTracking(ctx context.Context, runID string, init map[string]any) error {
	clientFilter, _ := init["client_filter"].(string)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_tracking (run_id, status, client_filter)
		VALUES ($1, 'RUNNING', $2)
		ON CONFLICT (run_id) DO NOTHING`,
		runID, clientFilter)
	if err != nil {
		return fmt.Errorf("create run tracking %s: %w", runID, err)
	}
	return nil
}

// jobColumns is the whitelist of run_tracking columns UpdateJob may touch.
var jobColumns = map[string]bool{
	"last_client":    true,
	"last_client_at": true,
	"notes":          true,
}

// UpdateJob applies whitelisted column updates to the run row. Unknown keys
// are ignored rather than rejected; progress updates are best-effort.
func (s *Store) UpdateJob(ctx context.Context, runID string, updates map[string]any) error {
	sets := make([]string, 0, len(updates)+1)
	args := make([]any, 0, len(updates)+1)
	for col, val := range updates {
		if !jobColumns[col] {
			continue
		}
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, runID)

	query := fmt.Sprintf("UPDATE run_tracking SET %s WHERE run_id = $%d",
		strings.Join(sets, ", "), len(args))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update run tracking %s: %w", runID, err)
	}
	return nil
}

// CompleteJob finalises the run row.
func (s *Store) CompleteJob(ctx context.Context, runID, status, notes string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE run_tracking
		SET status = $2, notes = $3, completed_at = now(), updated_at = now()
		WHERE run_id = $1`,
		runID, status, notes)
	if err != nil {
		return fmt.Errorf("complete run tracking %s: %w", runID, err)
	}
	return nil
}

// UpdateRunRecord upserts progress fields on a client run row. With
// createIfMissing false a missing row is left missing without error.
func (s *Store) UpdateRunRecord(ctx context.Context, clientRunID, clientID string, updates map[string]any, createIfMissing bool) error {
	if createIfMissing {
		if err := s.ensureClientRun(ctx, clientRunID, clientID); err != nil {
			return err
		}
	}
	status, _ := updates["status"].(string)
	if status == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE client_runs SET status = $2, updated_at = now()
		WHERE client_run_id = $1`,
		clientRunID, status)
	if err != nil {
		return fmt.Errorf("update client run %s: %w", clientRunID, err)
	}
	return nil
}

// CompleteClientProcessing upserts the final per-client metrics under the
// composed client run ID.
func (s *Store) CompleteClientProcessing(ctx context.Context, clientRunID, clientID string, m batch.ClientMetrics) error {
	baseRunID, err := runid.BaseOf(clientRunID)
	if err != nil {
		return fmt.Errorf("complete client processing: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO client_runs (
			client_run_id, run_id, client_id, status,
			posts_examined, posts_scored, post_scoring_tokens,
			leads_skipped, errors, error_details, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (client_run_id) DO UPDATE SET
			status = EXCLUDED.status,
			posts_examined = EXCLUDED.posts_examined,
			posts_scored = EXCLUDED.posts_scored,
			post_scoring_tokens = EXCLUDED.post_scoring_tokens,
			leads_skipped = EXCLUDED.leads_skipped,
			errors = EXCLUDED.errors,
			error_details = EXCLUDED.error_details,
			completed_at = now(),
			updated_at = now()`,
		clientRunID, baseRunID, clientID, m.Status,
		m.PostsExamined, m.PostsScored, m.PostScoringTokens,
		m.LeadsSkipped, m.Errors, strings.Join(m.ErrorDetails, "\n"))
	if err != nil {
		return fmt.Errorf("complete client processing %s: %w", clientRunID, err)
	}
	return nil
}

func (s *Store) ensureClientRun(ctx context.Context, clientRunID, clientID string) error {
	baseRunID, err := runid.BaseOf(clientRunID)
	if err != nil {
		return fmt.Errorf("ensure client run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO client_runs (client_run_id, run_id, client_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_run_id) DO NOTHING`,
		clientRunID, baseRunID, clientID)
	if err != nil {
		return fmt.Errorf("ensure client run %s: %w", clientRunID, err)
	}
	return nil
}

// SaveStackTrace archives one stack trace keyed by its extended timestamp.
func (s *Store) SaveStackTrace(ctx context.Context, rec logging.StackTraceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stack_traces (trace_timestamp, run_id, client_id, error_message, stack_trace)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (trace_timestamp) DO NOTHING`,
		rec.Timestamp, rec.RunID, rec.ClientID, rec.ErrorMessage, rec.StackTrace)
	if err != nil {
		return fmt.Errorf("save stack trace %s: %w", rec.Timestamp, err)
	}
	return nil
}

// LookupStackTrace fetches an archived stack trace by timestamp. Returns ""
// without error on a miss.
func (s *Store) LookupStackTrace(ctx context.Context, timestamp string) (string, error) {
	var trace string
	err := s.db.QueryRowContext(ctx,
		`SELECT stack_trace FROM stack_traces WHERE trace_timestamp = $1`,
		timestamp).Scan(&trace)
	if err == stdsql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup stack trace %s: %w", timestamp, err)
	}
	return trace, nil
}
