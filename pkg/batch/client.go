package batch

import (
	"context"
	"sync"
	"time"

	"github.com/lumolead/postscore/pkg/logging"
	"github.com/lumolead/postscore/pkg/model"
	"github.com/lumolead/postscore/pkg/processor"
	"github.com/lumolead/postscore/pkg/rubric"
	"github.com/lumolead/postscore/pkg/runid"
	"github.com/lumolead/postscore/pkg/selector"
	"github.com/lumolead/postscore/pkg/tenant"
)

// Options steer one run. Zero values mean defaults: all active clients,
// default chunk size, no limit, normal (non-forced) selection.
type Options struct {
	ClientFilter   string
	Limit          int
	ForceRescore   bool
	TargetIDs      []string
	LeadsTable     string
	ChunkSize      int
	DryRun         bool
	VerboseErrors  bool
	MaxDiagnostics int
}

// cachedPrompt builds the scoring system prompt once per client and serves
// the cached copy. When the initial build fails the failure is carried
// locally and every lead retries the build as a degraded path.
type cachedPrompt struct {
	store tenant.Store
	log   *logging.Logger

	mu     sync.Mutex
	prompt string
	cached bool
}

func newCachedPrompt(store tenant.Store, log *logging.Logger) *cachedPrompt {
	return &cachedPrompt{store: store, log: log}
}

func (p *cachedPrompt) SystemPrompt(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached {
		return p.prompt, nil
	}
	r, err := rubric.Load(ctx, p.store, p.log)
	if err != nil {
		return "", err
	}
	p.prompt = r.BuildSystemPrompt(p.log)
	p.cached = true
	return p.prompt, nil
}

// clientRunner executes one client's batch.
type clientRunner struct {
	opener   tenant.Opener
	registry tenant.Registry
	tracker  Tracker
	model    *model.Client
	runIDs   *runid.Service
	diag     *Diagnostics
	opts     Options
	log      *logging.Logger
}

// run opens the tenant store, selects candidates, processes chunks, and
// writes per-client metrics. Lead-level failures land in the counters; only
// store or selector failures fail the client.
func (c *clientRunner) run(ctx context.Context, client tenant.Client) ClientResult {
	started := time.Now()
	log := c.log.WithClient(client.ClientID).WithOperation("client-run")
	result := ClientResult{ClientID: client.ClientID, ChunkResult: NewChunkResult()}

	clientRunID, err := c.runIDs.GetOrCreateFor(client.ClientID, false)
	if err != nil {
		log.Error("Cannot compose client run ID", err)
		return c.fail(ctx, result, started, err)
	}
	result.ClientRunID = clientRunID
	log.Info("Starting client batch", "client_run_id", clientRunID, "client_name", client.ClientName)

	store, err := c.opener.Open(ctx, client.ClientID)
	if err != nil {
		log.Error("Cannot open tenant datastore", err)
		return c.fail(ctx, result, started, err)
	}

	table := c.opts.LeadsTable
	if table == "" {
		table = tenant.TableLeads
	}
	hasSkip := c.probeField(ctx, store, table, tenant.FieldSkipReason, log)
	hasJSONStatus := c.probeField(ctx, store, table, tenant.FieldJSONStatus, log)

	if err := c.registry.SetJobStatus(ctx, client.ClientID, tenant.JobTypePostScoring, tenant.JobStateRunning, clientRunID); err != nil {
		log.Warn("Cannot set job status to running", "error", err)
	}
	if !c.opts.DryRun {
		err := c.tracker.UpdateRunRecord(ctx, clientRunID, client.ClientID, map[string]any{
			"status": tenant.JobStateRunning,
		}, true)
		if err != nil {
			log.Warn("Cannot mark client run as running", "error", err)
		}
	}

	leads, err := selector.Select(ctx, store, selector.Options{
		Limit:        c.opts.Limit,
		ForceRescore: c.opts.ForceRescore,
		TargetIDs:    c.opts.TargetIDs,
		LeadsTable:   c.opts.LeadsTable,
	}, log)
	if err != nil {
		log.Error("Lead selection failed", err)
		return c.fail(ctx, result, started, err)
	}
	result.LeadsSelected = len(leads)
	log.Info("Leads selected", "count", len(leads))

	// Prime the prompt cache so the whole batch shares one build. A failure
	// here is not fatal: the processor retries per lead.
	prompt := newCachedPrompt(store, log)
	if _, err := prompt.SystemPrompt(ctx); err != nil {
		log.Warn("Rubric build failed, will rebuild per lead", "error", err)
	}

	proc := processor.New(store, c.model, prompt, processor.Config{
		LeadsTable:    c.opts.LeadsTable,
		HasSkipReason: hasSkip,
		HasJSONStatus: hasJSONStatus,
		DryRun:        c.opts.DryRun,
	}, log)
	chunks := NewChunkRunner(proc, c.opts.ChunkSize, c.diag, log)

	chunkResult, chunkErr := chunks.Run(ctx, client.ClientID, leads)
	result.ChunkResult.Merge(chunkResult)
	if chunkErr != nil {
		log.Warn("Client batch interrupted", "error", chunkErr)
	}

	switch {
	case chunkErr != nil || result.Errors > 0:
		result.Status = StatusCompletedWithErrors
	default:
		result.Status = StatusSuccess
	}
	result.Duration = time.Since(started)

	c.writeMetrics(ctx, client.ClientID, clientRunID, &result, log)
	c.complete(ctx, client.ClientID, clientRunID, result, log)

	log.Summary("Client batch finished",
		"status", result.Status,
		"processed", result.Processed,
		"scored", result.Scored,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"tokens", result.Tokens.Total,
		"duration", result.Duration.Round(time.Millisecond))
	return result
}

func (c *clientRunner) probeField(ctx context.Context, store tenant.Store, table, field string, log *logging.Logger) bool {
	has, err := store.HasField(ctx, table, field)
	if err != nil {
		log.Warn("Field probe failed, treating field as absent", "field", field, "error", err)
		return false
	}
	return has
}

// writeMetrics persists the per-client roll-up against the composed client
// run ID. Tracking failures never fail the client.
func (c *clientRunner) writeMetrics(ctx context.Context, clientID, clientRunID string, result *ClientResult, log *logging.Logger) {
	if c.opts.DryRun {
		return
	}
	metrics := ClientMetrics{
		PostsExamined:     result.Processed,
		PostsScored:       result.Scored,
		PostScoringTokens: result.Tokens.Total,
		Errors:            result.Errors,
		ErrorDetails:      result.ErrorDetails,
		LeadsSkipped:      result.Skipped,
		Status:            result.Status,
	}
	if err := c.tracker.CompleteClientProcessing(ctx, clientRunID, clientID, metrics); err != nil {
		log.Warn("Cannot write client metrics", "error", err)
	}
	if err := c.tracker.UpdateJob(ctx, c.runIDs.Base(), map[string]any{
		"last_client":    clientID,
		"last_client_at": time.Now().UTC(),
	}); err != nil {
		log.Warn("Cannot update run progress", "error", err)
	}
}

func (c *clientRunner) complete(ctx context.Context, clientID, clientRunID string, result ClientResult, log *logging.Logger) {
	state := tenant.JobStateCompleted
	if result.Status == StatusFailed {
		state = tenant.JobStateFailed
	}
	if err := c.registry.SetJobStatus(ctx, clientID, tenant.JobTypePostScoring, state, clientRunID); err != nil {
		log.Warn("Cannot set job status", "state", state, "error", err)
	}
	if err := c.registry.LogExecution(ctx, clientID, map[string]any{
		"run_id":    clientRunID,
		"status":    result.Status,
		"processed": result.Processed,
		"scored":    result.Scored,
		"skipped":   result.Skipped,
		"errors":    result.Errors,
	}); err != nil {
		log.Warn("Cannot log execution", "error", err)
	}
}

// fail finalises a catastrophic client failure.
func (c *clientRunner) fail(ctx context.Context, result ClientResult, started time.Time, err error) ClientResult {
	result.Status = StatusFailed
	result.Err = err
	result.Duration = time.Since(started)
	if result.ClientRunID != "" {
		if sErr := c.registry.SetJobStatus(ctx, result.ClientID, tenant.JobTypePostScoring, tenant.JobStateFailed, result.ClientRunID); sErr != nil {
			c.log.Warn("Cannot set job status to failed", "client_id", result.ClientID, "error", sErr)
		}
	}
	return result
}
