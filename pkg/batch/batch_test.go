package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumolead/postscore/pkg/logging"
	"github.com/lumolead/postscore/pkg/model"
	"github.com/lumolead/postscore/pkg/processor"
	"github.com/lumolead/postscore/pkg/tenant"
)

func testLogger() *logging.Logger {
	return logging.New("250101-120000", "ACME", "test")
}

func TestDiagnosticsDedupAndCap(t *testing.T) {
	d := NewDiagnostics(true, 2)

	_, ok := d.Record("ACME", "lead1", "AI_SCORING_ERROR:TIMEOUT", "TIMEOUT", errors.New("boom"))
	assert.True(t, ok)

	// Same message, category, and base reason: deduplicated.
	_, ok = d.Record("ACME", "lead2", "AI_SCORING_ERROR:TIMEOUT", "TIMEOUT", errors.New("boom"))
	assert.False(t, ok)

	_, ok = d.Record("ACME", "lead3", "Unparseable JSON", "", errors.New("bad payload"))
	assert.True(t, ok)

	// Cap reached.
	_, ok = d.Record("ACME", "lead4", "AI_SCORING_ERROR:QUOTA", "QUOTA", errors.New("quota"))
	assert.False(t, ok)

	require.Len(t, d.Samples(), 2)
	assert.Contains(t, d.Samples()[0], "lead=lead1")
	assert.Contains(t, d.Samples()[0], "category=TIMEOUT")
}

func TestDiagnosticsDisabled(t *testing.T) {
	d := NewDiagnostics(false, 10)
	_, ok := d.Record("ACME", "lead1", "reason", "", errors.New("x"))
	assert.False(t, ok)
	assert.Empty(t, d.Samples())
}

// stubProcessor maps lead IDs to canned outcomes.
type stubProcessor struct {
	outcomes map[string]processor.Outcome
	onLead   func(id string)
}

func (s *stubProcessor) Process(_ context.Context, lead tenant.Record) processor.Outcome {
	if s.onLead != nil {
		s.onLead(lead.ID)
	}
	return s.outcomes[lead.ID]
}

func leadRecords(ids ...string) []tenant.Record {
	out := make([]tenant.Record, len(ids))
	for i, id := range ids {
		out[i] = tenant.Record{ID: id, Fields: map[string]any{}}
	}
	return out
}

func TestChunkRunnerAccumulates(t *testing.T) {
	proc := &stubProcessor{outcomes: map[string]processor.Outcome{
		"a": {Status: processor.StatusSuccess, RelevanceScore: 80},
		"b": {Status: processor.StatusSkipped, Reason: processor.SkipNoContent},
		"c": {Status: processor.StatusError, Reason: processor.ReasonAIScoring,
			Category: model.CategoryTimeout, Err: errors.New("timeout")},
		"d": {Status: processor.StatusSuccess, RelevanceScore: 60},
	}}
	diag := NewDiagnostics(true, 10)
	runner := NewChunkRunner(proc, 2, diag, testLogger())

	result, err := runner.Run(context.Background(), "ACME", leadRecords("a", "b", "c", "d"))
	require.NoError(t, err)

	assert.Equal(t, 4, result.Processed)
	assert.Equal(t, 2, result.Scored)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, result.Processed, result.Scored+result.Skipped+result.Errors)
	assert.Equal(t, 1, result.SkipCounts[processor.SkipNoContent])
	assert.Equal(t, 1, result.ErrorReasonCounts["AI_SCORING_ERROR:TIMEOUT"])
	require.Len(t, result.ErrorDetails, 1)
}

func TestChunkRunnerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proc := &stubProcessor{
		outcomes: map[string]processor.Outcome{
			"a": {Status: processor.StatusSuccess},
		},
		onLead: func(string) { cancel() },
	}
	runner := NewChunkRunner(proc, 10, NewDiagnostics(false, 0), testLogger())

	result, err := runner.Run(ctx, "ACME", leadRecords("a", "b", "c"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 2, result.ErrorReasonCounts[ReasonCancelled])
	assert.Equal(t, 2, result.Errors)
}

// scoringModel returns one fixed score for every request.
type scoringModel struct {
	text string
}

func (m *scoringModel) GenerateContent(context.Context, model.Request) (*model.Response, error) {
	return &model.Response{
		Candidates: []model.Candidate{{
			Content: model.Content{Role: "model", Parts: []model.Part{{Text: m.text}}},
		}},
		UsageMetadata: &model.UsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 5, TotalTokenCount: 15},
	}, nil
}

func newTenantStore(t *testing.T, leadIDs ...string) *tenant.MemStore {
	t.Helper()
	store := tenant.NewMemStore()
	store.CreateTable(tenant.TableLeads,
		tenant.FieldPostsContent,
		tenant.FieldLinkedInURL,
		tenant.FieldDateScored,
		tenant.FieldRelevanceScore,
		tenant.FieldAIEvaluation,
		tenant.FieldTopScoringPost,
		tenant.FieldSkipReason,
		tenant.FieldJSONStatus,
	)
	store.CreateTable(tenant.TableScoringComponents, "Component ID", "Name", "Text", "Order")
	store.CreateTable(tenant.TableScoringAttributes,
		"Attribute ID", "Name", "Category", "Max Points", "Detailed Instructions", "Active")

	for _, id := range leadIDs {
		require.NoError(t, store.Insert(tenant.TableLeads, id, map[string]any{
			tenant.FieldLinkedInURL: "https://linkedin.com/in/jane-doe/",
			tenant.FieldPostsContent: fmt.Sprintf(
				`[{"postUrl":"https://linkedin.com/posts/%s-activity-7100000000000000001-AAAA/","postContent":"post body text here"}]`, id),
		}))
	}
	return store
}

// captureTracker records tracking calls.
type captureTracker struct {
	created    []string
	completed  map[string]ClientMetrics
	jobStatus  string
	runRecords map[string]map[string]any
}

func newCaptureTracker() *captureTracker {
	return &captureTracker{
		completed:  map[string]ClientMetrics{},
		runRecords: map[string]map[string]any{},
	}
}

func (c *captureTracker) CreateJobTracking(_ context.Context, runID string, _ map[string]any) error {
	c.created = append(c.created, runID)
	return nil
}
func (c *captureTracker) UpdateJob(context.Context, string, map[string]any) error { return nil }
func (c *captureTracker) CompleteJob(_ context.Context, _ string, status string, _ string) error {
	c.jobStatus = status
	return nil
}
func (c *captureTracker) UpdateRunRecord(_ context.Context, clientRunID, _ string, updates map[string]any, _ bool) error {
	c.runRecords[clientRunID] = updates
	return nil
}
func (c *captureTracker) CompleteClientProcessing(_ context.Context, clientRunID, _ string, m ClientMetrics) error {
	c.completed[clientRunID] = m
	return nil
}

type captureNotifier struct {
	messages []string
}

func (n *captureNotifier) NotifyAdmin(_ context.Context, subject, message string) error {
	n.messages = append(n.messages, subject+": "+message)
	return nil
}

func scoreResponseFor(leadID string) string {
	return fmt.Sprintf(
		`[{"postUrl":"https://linkedin.com/posts/%s-activity-7100000000000000001-AAAA/","postScore":85,"scoringRationale":"ok"}]`, leadID)
}

func TestOrchestratorHappyPath(t *testing.T) {
	store := newTenantStore(t, "lead1")
	opener := tenant.NewMemOpener()
	opener.Register("ACME", store)
	registry := tenant.NewMemRegistry(tenant.Client{ClientID: "ACME", ClientName: "Acme Corp", Active: true})
	tracker := newCaptureTracker()
	client := model.NewClient(&scoringModel{text: scoreResponseFor("lead1")}, model.DefaultTimeoutMS*time.Millisecond)

	o := NewOrchestrator(opener, registry, tracker, client, nil)
	result, err := o.Run(context.Background(), "250101-120000", Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "250101-120000", result.RunID)
	assert.Equal(t, 1, result.ClientsProcessed)
	assert.Equal(t, 1, result.PostsExamined)
	assert.Equal(t, 1, result.PostsScored)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, 15, result.Tokens.Total)

	require.Len(t, result.Clients, 1)
	assert.Equal(t, "250101-120000-ACME", result.Clients[0].ClientRunID)
	assert.Equal(t, StatusSuccess, result.Clients[0].Status)

	metrics, ok := tracker.completed["250101-120000-ACME"]
	require.True(t, ok)
	assert.Equal(t, 1, metrics.PostsScored)
	assert.Equal(t, 15, metrics.PostScoringTokens)
	assert.Equal(t, []string{"250101-120000"}, tracker.created)
	assert.Equal(t, StatusSuccess, tracker.jobStatus)

	// The client run is marked running in the tracking store before any
	// leads are processed.
	running, ok := tracker.runRecords["250101-120000-ACME"]
	require.True(t, ok)
	assert.Equal(t, tenant.JobStateRunning, running["status"])
	assert.Equal(t, tenant.JobStateCompleted, registry.JobState("ACME", tenant.JobTypePostScoring))

	rec, err := store.Find(context.Background(), tenant.TableLeads, "lead1")
	require.NoError(t, err)
	assert.Equal(t, 85, rec.Fields[tenant.FieldRelevanceScore])
	assert.NotEmpty(t, rec.Fields[tenant.FieldDateScored])
}

func TestOrchestratorIsolatesClientFailure(t *testing.T) {
	goodStore := newTenantStore(t, "lead1")
	opener := tenant.NewMemOpener()
	opener.Register("BBB", goodStore)
	// AAA has no registered datastore and fails to open.
	registry := tenant.NewMemRegistry(
		tenant.Client{ClientID: "AAA", Active: true},
		tenant.Client{ClientID: "BBB", Active: true},
	)
	client := model.NewClient(&scoringModel{text: scoreResponseFor("lead1")}, model.DefaultTimeoutMS*time.Millisecond)

	o := NewOrchestrator(opener, registry, newCaptureTracker(), client, nil)
	result, err := o.Run(context.Background(), "", Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompletedWithErrors, result.Status)
	assert.Equal(t, 2, result.ClientsProcessed)
	assert.Equal(t, 1, result.ClientsFailed)
	assert.Equal(t, 1, result.PostsScored)

	require.Len(t, result.Clients, 2)
	assert.Equal(t, StatusFailed, result.Clients[0].Status)
	require.Error(t, result.Clients[0].Err)
	assert.Equal(t, StatusSuccess, result.Clients[1].Status)
}

type failingRegistry struct{}

func (failingRegistry) ListActiveClients(context.Context, string) ([]tenant.Client, error) {
	return nil, errors.New("registry unreachable")
}
func (failingRegistry) LogExecution(context.Context, string, map[string]any) error { return nil }
func (failingRegistry) SetJobStatus(context.Context, string, string, string, string) error {
	return nil
}

func TestOrchestratorGlobalFailureNotifiesAdmin(t *testing.T) {
	notifier := &captureNotifier{}
	client := model.NewClient(&scoringModel{text: "[]"}, model.DefaultTimeoutMS*time.Millisecond)

	o := NewOrchestrator(tenant.NewMemOpener(), failingRegistry{}, newCaptureTracker(), client, notifier)
	_, err := o.Run(context.Background(), "", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list active clients")

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "registry unreachable")
}

func TestOrchestratorClientFilter(t *testing.T) {
	opener := tenant.NewMemOpener()
	opener.Register("AAA", newTenantStore(t))
	opener.Register("BBB", newTenantStore(t))
	registry := tenant.NewMemRegistry(
		tenant.Client{ClientID: "AAA", Active: true},
		tenant.Client{ClientID: "BBB", Active: true},
	)
	client := model.NewClient(&scoringModel{text: "[]"}, model.DefaultTimeoutMS*time.Millisecond)

	o := NewOrchestrator(opener, registry, newCaptureTracker(), client, nil)
	result, err := o.Run(context.Background(), "", Options{ClientFilter: "BBB"})
	require.NoError(t, err)

	require.Len(t, result.Clients, 1)
	assert.Equal(t, "BBB", result.Clients[0].ClientID)
}

func TestOrchestratorDryRunWritesNoTracking(t *testing.T) {
	store := newTenantStore(t, "lead1")
	opener := tenant.NewMemOpener()
	opener.Register("ACME", store)
	registry := tenant.NewMemRegistry(tenant.Client{ClientID: "ACME", Active: true})
	tracker := newCaptureTracker()
	client := model.NewClient(&scoringModel{text: scoreResponseFor("lead1")}, model.DefaultTimeoutMS*time.Millisecond)

	o := NewOrchestrator(opener, registry, tracker, client, nil)
	result, err := o.Run(context.Background(), "", Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, result.PostsScored)
	assert.Empty(t, tracker.created)
	assert.Empty(t, tracker.completed)
	assert.Empty(t, tracker.runRecords)
	assert.Equal(t, 0, store.UpdateCount())
}
