package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/lumolead/postscore/pkg/logging"
	"github.com/lumolead/postscore/pkg/model"
	"github.com/lumolead/postscore/pkg/runid"
	"github.com/lumolead/postscore/pkg/tenant"
)

// Notifier delivers operator alerts for global failures. Delivery failures
// are logged and dropped.
type Notifier interface {
	NotifyAdmin(ctx context.Context, subject, message string) error
}

// NopNotifier discards alerts.
type NopNotifier struct{}

func (NopNotifier) NotifyAdmin(context.Context, string, string) error { return nil }

// Orchestrator runs the whole batch: all selected clients, sequentially,
// with per-client failure isolation and a single aggregate summary.
type Orchestrator struct {
	opener   tenant.Opener
	registry tenant.Registry
	tracker  Tracker
	model    *model.Client
	notifier Notifier
	archiver logging.Archiver
}

// NewOrchestrator wires the orchestrator's collaborators. A nil tracker or
// notifier is replaced with the no-op implementation.
func NewOrchestrator(opener tenant.Opener, registry tenant.Registry, tracker Tracker, modelClient *model.Client, notifier Notifier) *Orchestrator {
	if tracker == nil {
		tracker = NopTracker{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Orchestrator{
		opener:   opener,
		registry: registry,
		tracker:  tracker,
		model:    modelClient,
		notifier: notifier,
	}
}

// SetArchiver attaches a stack-trace archiver to the run's loggers.
func (o *Orchestrator) SetArchiver(a logging.Archiver) {
	o.archiver = a
}

// Run executes one batch run. An empty baseRunID mints a fresh one. Client
// failures are contained; only a global failure (registry or tracking store
// unreachable) aborts the run, after notifying the admin hook.
func (o *Orchestrator) Run(ctx context.Context, baseRunID string, opts Options) (RunResult, error) {
	started := time.Now()
	runIDs := runid.NewService(baseRunID)
	log := logging.New(runIDs.Base(), logging.SystemClientID, "run")
	if o.archiver != nil {
		log = log.WithArchiver(o.archiver)
	}
	result := newRunResult(runIDs.Base())
	diag := NewDiagnostics(opts.VerboseErrors, opts.MaxDiagnostics)

	log.Info("Starting scoring run",
		"client_filter", opts.ClientFilter,
		"limit", opts.Limit,
		"force_rescore", opts.ForceRescore,
		"dry_run", opts.DryRun)

	if !opts.DryRun {
		err := o.tracker.CreateJobTracking(ctx, runIDs.Base(), map[string]any{
			"started_at":    started.UTC(),
			"client_filter": opts.ClientFilter,
		})
		if err != nil {
			result.Status = StatusFailed
			return result, o.abort(ctx, log, fmt.Errorf("create job tracking: %w", err))
		}
	}

	clients, err := o.registry.ListActiveClients(ctx, opts.ClientFilter)
	if err != nil {
		result.Status = StatusFailed
		return result, o.abort(ctx, log, fmt.Errorf("list active clients: %w", err))
	}
	if len(clients) == 0 {
		log.Warn("No active clients matched", "client_filter", opts.ClientFilter)
	}

	runner := &clientRunner{
		opener:   o.opener,
		registry: o.registry,
		tracker:  o.tracker,
		model:    o.model,
		runIDs:   runIDs,
		diag:     diag,
		opts:     opts,
		log:      log,
	}

	for _, client := range clients {
		if ctx.Err() != nil {
			log.Warn("Run cancelled, skipping remaining clients", "client_id", client.ClientID)
			result.ErrorReasonCounts[ReasonCancelled]++
			continue
		}
		result.absorb(runner.run(ctx, client))
	}

	result.Duration = time.Since(started)
	result.Diagnostics = diag.Samples()
	result.Status = runStatus(ctx, result)

	o.finishTracking(ctx, runIDs.Base(), result, opts, log)

	log.Summary("Scoring run finished",
		"status", result.Status,
		"clients", result.ClientsProcessed,
		"clients_failed", result.ClientsFailed,
		"posts_examined", result.PostsExamined,
		"posts_scored", result.PostsScored,
		"leads_skipped", result.LeadsSkipped,
		"errors", result.Errors,
		"tokens", result.Tokens.Total,
		"duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

func runStatus(ctx context.Context, result RunResult) string {
	if ctx.Err() != nil || result.Errors > 0 || result.ClientsFailed > 0 {
		return StatusCompletedWithErrors
	}
	return StatusSuccess
}

// abort handles a global failure: notify the admin hook, then surface the
// error to the caller.
func (o *Orchestrator) abort(ctx context.Context, log *logging.Logger, err error) error {
	log.Error("Run aborted by global failure", err)
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if nErr := o.notifier.NotifyAdmin(notifyCtx, "Post scoring run failed", err.Error()); nErr != nil {
		log.Warn("Admin notification failed", "error", nErr)
	}
	return err
}

// finishTracking closes out the run record. Cancellation does not stop the
// final write; it gets its own short deadline.
func (o *Orchestrator) finishTracking(ctx context.Context, runID string, result RunResult, opts Options, log *logging.Logger) {
	if opts.DryRun {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	notes := fmt.Sprintf("clients=%d scored=%d skipped=%d errors=%d",
		result.ClientsProcessed, result.PostsScored, result.LeadsSkipped, result.Errors)
	if err := o.tracker.CompleteJob(writeCtx, runID, result.Status, notes); err != nil {
		log.Warn("Cannot complete job tracking", "error", err)
	}
}
