// Package processor scores one lead end to end: parse and repair the
// collected posts payload, invoke the model against the client's rubric,
// merge the scores back onto the source posts, pick the winner, and write
// the result to the tenant store. Every terminal outcome stamps the scored
// date so the lead is not re-selected on the next run.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lumolead/postscore/pkg/jsonrepair"
	"github.com/lumolead/postscore/pkg/logging"
	"github.com/lumolead/postscore/pkg/model"
	"github.com/lumolead/postscore/pkg/models"
	"github.com/lumolead/postscore/pkg/tenant"
)

// Status is the terminal state of one lead.
type Status string

const (
	StatusSuccess = Status("success")
	StatusSkipped = Status("skipped")
	StatusError   = Status("error")
)

// Skip reasons (lead-level, not errors).
const (
	SkipNoContent       = "NO_CONTENT"
	SkipNoPostsParsed   = "NO_POSTS_PARSED"
	SkipInvalidResponse = "INVALID_AI_RESPONSE"
)

// Error reasons.
const (
	ReasonUnparseable    = "Unparseable JSON"
	ReasonInvalidContent = "Invalid Posts Content field"
	ReasonAIScoring      = "AI_SCORING_ERROR"
)

// JSON status values written to the optional Posts JSON Status field.
const (
	jsonStatusParsed = "Parsed"
	jsonStatusFailed = "Failed"
)

// Outcome is the result of processing one lead.
type Outcome struct {
	Status         Status
	Reason         string
	Category       model.Category
	RelevanceScore int
	TokenUsage     models.TokenUsage
	Err            error
}

// PromptSource supplies the scoring system prompt. The client runner's
// implementation caches the built prompt for the whole batch and rebuilds
// per lead only as a degraded path.
type PromptSource interface {
	SystemPrompt(ctx context.Context) (string, error)
}

// Config carries the per-client processing settings resolved once by the
// client runner.
type Config struct {
	LeadsTable string

	// HasSkipReason records the one-time probe of the optional skip-reason
	// field. When false the field is omitted from write-backs up front.
	HasSkipReason bool

	// HasJSONStatus records the probe of the optional JSON-status field.
	HasJSONStatus bool

	// DryRun suppresses all write-backs.
	DryRun bool

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (c Config) table() string {
	if c.LeadsTable != "" {
		return c.LeadsTable
	}
	return tenant.TableLeads
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Processor scores leads for one client.
type Processor struct {
	store  tenant.Store
	client *model.Client
	prompt PromptSource
	cfg    Config
	log    *logging.Logger
}

// New creates a processor.
func New(store tenant.Store, client *model.Client, prompt PromptSource, cfg Config, log *logging.Logger) *Processor {
	return &Processor{store: store, client: client, prompt: prompt, cfg: cfg, log: log}
}

// Process runs the full pipeline for one lead.
func (p *Processor) Process(ctx context.Context, lead tenant.Record) Outcome {
	log := p.log.WithOperation("lead-processing")
	now := p.cfg.now().UTC().Format(time.RFC3339)

	// 1. Fetch payload.
	content, hasContent := lead.Fields[tenant.FieldPostsContent]
	if !hasContent || !usable(content) {
		log.Debug("Lead has no posts content, skipping", "lead_id", lead.ID)
		p.writeBack(ctx, lead.ID, p.skipFields(SkipNoContent, now))
		return Outcome{Status: StatusSkipped, Reason: SkipNoContent}
	}

	// 2. Repair.
	parsed := jsonrepair.Parse(content)
	if !parsed.Success {
		return p.parseFailure(ctx, lead, parsed, now)
	}
	if parsed.Method != jsonrepair.MethodClean {
		log.Debug("Posts payload required repair", "lead_id", lead.ID, "method", parsed.Method)
	}
	if len(parsed.Data) == 0 {
		fields := p.skipFields(SkipNoPostsParsed, now)
		p.setJSONStatus(fields, jsonStatusParsed)
		p.writeBack(ctx, lead.ID, fields)
		return Outcome{Status: StatusSkipped, Reason: SkipNoPostsParsed}
	}

	// 3. Score.
	systemPrompt, err := p.prompt.SystemPrompt(ctx)
	if err != nil {
		return p.scoringFailure(ctx, lead, fmt.Errorf("build system prompt: %w", err), now)
	}
	resp, err := p.client.Score(ctx, model.ScoreRequest{
		SystemPrompt: systemPrompt,
		LeadID:       lead.ID,
		Posts:        parsed.Data,
	})
	if err != nil {
		return p.scoringFailure(ctx, lead, err, now)
	}

	// 4–5. Merge and repost detection.
	leadURL := lead.Str(tenant.FieldLinkedInURL)
	enriched := mergeResults(resp.Results, parsed.Data, leadURL)

	// 6. Pick winner.
	winner, ok := pickWinner(enriched)
	if !ok {
		log.Warn("Model returned no usable results", "lead_id", lead.ID)
		fields := p.skipFields(SkipInvalidResponse, now)
		p.setJSONStatus(fields, jsonStatusParsed)
		p.writeBack(ctx, lead.ID, fields)
		return Outcome{
			Status:     StatusSkipped,
			Reason:     SkipInvalidResponse,
			Category:   model.CategoryResponseFormat,
			TokenUsage: resp.TokenUsage,
		}
	}

	// 7. Write back.
	evaluation, err := json.MarshalIndent(enriched, "", "  ")
	if err != nil {
		return p.scoringFailure(ctx, lead, fmt.Errorf("marshal evaluation: %w", err), now)
	}
	fields := map[string]any{
		tenant.FieldRelevanceScore: winner.PostScore,
		tenant.FieldAIEvaluation:   string(evaluation),
		tenant.FieldTopScoringPost: formatTopScoringPost(winner),
		tenant.FieldDateScored:     now,
	}
	if p.cfg.HasSkipReason {
		fields[tenant.FieldSkipReason] = ""
	}
	p.setJSONStatus(fields, jsonStatusParsed)
	if err := p.writeBack(ctx, lead.ID, fields); err != nil {
		// Scored but not persisted: the lead will be re-selected, so it
		// counts as an error rather than a success.
		log.Error("Write-back failed after successful scoring", err, "lead_id", lead.ID)
		return Outcome{
			Status:     StatusError,
			Reason:     ReasonAIScoring,
			Category:   model.CategoryUnknown,
			TokenUsage: resp.TokenUsage,
			Err:        err,
		}
	}

	log.Info("Lead scored", "lead_id", lead.ID,
		"relevance_score", winner.PostScore,
		"posts", len(parsed.Data),
		"tokens", resp.TokenUsage.Total)
	return Outcome{
		Status:         StatusSuccess,
		RelevanceScore: winner.PostScore,
		TokenUsage:     resp.TokenUsage,
	}
}

// parseFailure records an unrepairable payload so the lead is not retried
// forever.
func (p *Processor) parseFailure(ctx context.Context, lead tenant.Record, parsed jsonrepair.Result, now string) Outcome {
	reason := ReasonUnparseable
	if _, isString := lead.Fields[tenant.FieldPostsContent].(string); !isString {
		reason = ReasonInvalidContent
	}

	var diag string
	if s, ok := lead.Fields[tenant.FieldPostsContent].(string); ok {
		a := jsonrepair.Analyze(s)
		diag = fmt.Sprintf(" [severity=%s balanced=%t oddQuotes=%t controlChars=%t len=%d]",
			a.Severity, a.BalancedBrackets, a.OddQuoteCount, a.HasControlChars, a.Length)
	}

	fields := map[string]any{
		tenant.FieldRelevanceScore: 0,
		tenant.FieldAIEvaluation:   fmt.Sprintf("JSON_PARSE_ERROR:%v%s", parsed.Err, diag),
		tenant.FieldDateScored:     now,
	}
	p.setJSONStatus(fields, jsonStatusFailed)
	p.writeBack(ctx, lead.ID, fields)

	p.log.Warn("Posts payload unparseable", "lead_id", lead.ID, "method", parsed.Method)
	return Outcome{Status: StatusError, Reason: reason, Err: parsed.Err}
}

// scoringFailure records a model failure with its classification so the
// lead is not re-selected and operators can see what went wrong.
func (p *Processor) scoringFailure(ctx context.Context, lead tenant.Record, err error, now string) Outcome {
	category := model.Classify(err)
	fields := map[string]any{
		tenant.FieldRelevanceScore: 0,
		tenant.FieldAIEvaluation: fmt.Sprintf("%s:%s: %v (timestamp: %s)",
			ReasonAIScoring, category, err, now),
		tenant.FieldDateScored: now,
	}
	p.writeBack(ctx, lead.ID, fields)

	p.log.Error("Model scoring failed", err, "lead_id", lead.ID, "category", category)
	return Outcome{Status: StatusError, Reason: ReasonAIScoring, Category: category, Err: err}
}

func (p *Processor) skipFields(reason, now string) map[string]any {
	fields := map[string]any{tenant.FieldDateScored: now}
	if p.cfg.HasSkipReason {
		fields[tenant.FieldSkipReason] = reason
	}
	return fields
}

func (p *Processor) setJSONStatus(fields map[string]any, status string) {
	if p.cfg.HasJSONStatus {
		fields[tenant.FieldJSONStatus] = status
	}
}

// writeBack applies fields through the tolerant update unless this is a dry
// run. Failures on skip/error paths are logged and dropped; the caller's
// outcome already reflects the lead's terminal state.
func (p *Processor) writeBack(ctx context.Context, leadID string, fields map[string]any) error {
	if p.cfg.DryRun {
		p.log.Debug("Dry run, skipping write-back", "lead_id", leadID)
		return nil
	}
	_, err := tenant.UpdateTolerant(ctx, p.store, p.cfg.table(), leadID, fields)
	if err != nil {
		p.log.Warn("Lead write-back failed", "lead_id", leadID, "error", err)
	}
	return err
}

// usable reports whether the payload value can possibly hold posts.
// Whitespace-only strings are empty, not malformed.
func usable(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case nil:
		return false
	default:
		return true
	}
}
