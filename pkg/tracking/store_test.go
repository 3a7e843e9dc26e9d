package tracking

import (
	"context"
	stdsql "database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lumolead/postscore/pkg/batch"
	"github.com/lumolead/postscore/pkg/logging"
)

// newTestStore connects to an external PostgreSQL when CI_DATABASE_URL is
// set, otherwise spins up a throwaway container. Short mode skips entirely.
func newTestStore(t *testing.T) *Store {
	if testing.Short() {
		t.Skip("skipping tracking store integration test in short mode")
	}
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)

	store, err := NewStoreFromDB(db, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunTrackingLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJobTracking(ctx, "250101-120000", map[string]any{
		"client_filter": "ACME",
	}))
	// Re-creating the same run is a no-op.
	require.NoError(t, store.CreateJobTracking(ctx, "250101-120000", nil))

	require.NoError(t, store.UpdateJob(ctx, "250101-120000", map[string]any{
		"last_client":    "ACME",
		"last_client_at": time.Now().UTC(),
		"ignored_column": "dropped",
	}))

	require.NoError(t, store.CompleteJob(ctx, "250101-120000", batch.StatusSuccess, "clients=1"))

	var status, lastClient, notes string
	err := store.DB().QueryRowContext(ctx,
		`SELECT status, last_client, notes FROM run_tracking WHERE run_id = $1`,
		"250101-120000").Scan(&status, &lastClient, &notes)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusSuccess, status)
	assert.Equal(t, "ACME", lastClient)
	assert.Equal(t, "clients=1", notes)
}

func TestCompleteClientProcessingUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	metrics := batch.ClientMetrics{
		PostsExamined:     20,
		PostsScored:       15,
		PostScoringTokens: 12000,
		LeadsSkipped:      3,
		Errors:            2,
		ErrorDetails:      []string{"client=ACME lead=lead1 reason=AI_SCORING_ERROR:TIMEOUT"},
		Status:            batch.StatusCompletedWithErrors,
	}
	require.NoError(t, store.CompleteClientProcessing(ctx, "250101-120000-ACME", "ACME", metrics))

	// A second write for the same client run replaces, not duplicates.
	metrics.PostsScored = 16
	metrics.Errors = 1
	require.NoError(t, store.CompleteClientProcessing(ctx, "250101-120000-ACME", "ACME", metrics))

	var runID string
	var scored, errCount int
	err := store.DB().QueryRowContext(ctx,
		`SELECT run_id, posts_scored, errors FROM client_runs WHERE client_run_id = $1`,
		"250101-120000-ACME").Scan(&runID, &scored, &errCount)
	require.NoError(t, err)
	assert.Equal(t, "250101-120000", runID)
	assert.Equal(t, 16, scored)
	assert.Equal(t, 1, errCount)

	var count int
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT count(*) FROM client_runs WHERE client_id = $1`, "ACME").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUpdateRunRecordCreateIfMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateRunRecord(ctx, "250102-130000-Globex", "Globex",
		map[string]any{"status": "RUNNING"}, true))

	var status string
	err := store.DB().QueryRowContext(ctx,
		`SELECT status FROM client_runs WHERE client_run_id = $1`,
		"250102-130000-Globex").Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", status)
}

func TestStackTraceArchiveAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ts := logging.TraceTimestamp(time.Now())
	rec := logging.StackTraceRecord{
		Timestamp:    ts,
		RunID:        "250101-120000",
		ClientID:     "ACME",
		ErrorMessage: "model invocation timeout",
		StackTrace:   "goroutine 1 [running]:\nmain.main()",
	}
	require.NoError(t, store.SaveStackTrace(ctx, rec))

	trace, err := store.LookupStackTrace(ctx, ts)
	require.NoError(t, err)
	assert.Equal(t, rec.StackTrace, trace)

	missing, err := store.LookupStackTrace(ctx, "2000-01-01T00:00:00.000000000000Z")
	require.NoError(t, err)
	assert.Empty(t, missing)
}
