// Package selector picks the candidate leads for one client run. The
// preferred path is a named view maintained in the tenant base; when the
// view is missing or empty it falls back to an explicit formula, and an
// operator can bypass selection entirely with explicit record IDs.
package selector

import (
	"context"
	"errors"
	"strings"

	"github.com/lumolead/postscore/pkg/logging"
	"github.com/lumolead/postscore/pkg/tenant"
)

// minContentLength is the smallest number of non-whitespace characters a
// string payload must carry to be worth parsing.
const minContentLength = 10

// Options steer one selection.
type Options struct {
	Limit        int
	ForceRescore bool
	TargetIDs    []string
	LeadsTable   string
}

func (o Options) table() string {
	if o.LeadsTable != "" {
		return o.LeadsTable
	}
	return tenant.TableLeads
}

// downstreamFields is the projection used for view and formula selects.
var downstreamFields = []string{
	tenant.FieldPostsContent,
	tenant.FieldLinkedInURL,
	tenant.FieldDateScored,
	tenant.FieldSkipReason,
	tenant.FieldJSONStatus,
}

// Select returns the candidate leads for a client, in store order, up to
// the limit. The first matching branch wins: explicit targets, the named
// view, then the formula fallback.
func Select(ctx context.Context, store tenant.Store, opts Options, log *logging.Logger) ([]tenant.Record, error) {
	if len(opts.TargetIDs) > 0 {
		return selectTargets(ctx, store, opts, log)
	}

	// Minimal existence probe: an unreachable table means nothing to score,
	// not a client failure.
	if _, err := store.Select(ctx, opts.table(), tenant.SelectOptions{MaxRecords: 1}); err != nil {
		if errors.Is(err, tenant.ErrTableNotFound) {
			log.Warn("Leads table unreachable, selecting nothing", "table", opts.table())
			return nil, nil
		}
		return nil, err
	}

	records, err := selectFromView(ctx, store, opts)
	if err != nil || len(records) == 0 {
		if err != nil {
			log.Warn("View selection failed, falling back to formula",
				"view", tenant.ViewUnscoredLeads, "error", err)
		} else {
			log.Debug("View returned no candidates, trying formula fallback")
		}
		records, err = selectByFormula(ctx, store, opts, log)
		if err != nil {
			return nil, err
		}
	}

	return finalize(records, opts), nil
}

// selectTargets fetches explicit record IDs, silently dropping misses.
func selectTargets(ctx context.Context, store tenant.Store, opts Options, log *logging.Logger) ([]tenant.Record, error) {
	records := make([]tenant.Record, 0, len(opts.TargetIDs))
	for _, id := range opts.TargetIDs {
		rec, err := store.Find(ctx, opts.table(), id)
		if err != nil {
			if errors.Is(err, tenant.ErrRecordNotFound) {
				log.Debug("Target lead not found, skipping", "lead_id", id)
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return finalize(records, opts), nil
}

func selectFromView(ctx context.Context, store tenant.Store, opts Options) ([]tenant.Record, error) {
	// The view itself encodes "posts collected, not yet scored". With
	// forceRescore the date filter widens to all records, which is a no-op
	// as a formula, so no extra narrowing is added on this path.
	return store.Select(ctx, opts.table(), tenant.SelectOptions{
		View:       tenant.ViewUnscoredLeads,
		Fields:     downstreamFields,
		MaxRecords: opts.Limit,
	})
}

// selectByFormula is the fallback: non-empty posts content, blank scored
// date (unless forceRescore), and a guard that excludes already-actioned
// leads when the base defines that field.
func selectByFormula(ctx context.Context, store tenant.Store, opts Options, log *logging.Logger) ([]tenant.Record, error) {
	formula := tenant.Formula{All: []tenant.Condition{
		{Field: tenant.FieldPostsContent, Op: tenant.OpNotEmpty},
	}}
	if !opts.ForceRescore {
		formula.All = append(formula.All, tenant.Condition{
			Field: tenant.FieldDateScored, Op: tenant.OpEmpty,
		})
	}
	formula.All = append(formula.All, tenant.Condition{
		Field: tenant.FieldPostsActioned, Op: tenant.OpIn, Values: []any{0, "", nil},
	})

	records, err := store.Select(ctx, opts.table(), tenant.SelectOptions{
		Formula:    formula,
		Fields:     downstreamFields,
		MaxRecords: opts.Limit,
	})
	if err == nil {
		return records, nil
	}

	// Tenants without the actioned column reject the guard; retry once
	// without it.
	if ufe, ok := tenant.AsUnknownField(err); ok && ufe.Field == tenant.FieldPostsActioned {
		log.Debug("Base does not define the actioned field, retrying formula without guard")
		return store.Select(ctx, opts.table(), tenant.SelectOptions{
			Formula:    formula.Without(tenant.FieldPostsActioned),
			Fields:     downstreamFields,
			MaxRecords: opts.Limit,
		})
	}
	return nil, err
}

// finalize drops records without usable posts content and applies the limit.
func finalize(records []tenant.Record, opts Options) []tenant.Record {
	out := make([]tenant.Record, 0, len(records))
	for _, rec := range records {
		if !HasUsableContent(rec.Fields[tenant.FieldPostsContent]) {
			continue
		}
		out = append(out, rec)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out
}

// HasUsableContent reports whether a posts-content value is worth parsing:
// a string with enough non-whitespace characters, or a non-empty array.
func HasUsableContent(v any) bool {
	switch t := v.(type) {
	case string:
		compact := strings.Join(strings.Fields(t), "")
		return len(compact) >= minContentLength
	case []any:
		return len(t) > 0
	case []map[string]any:
		return len(t) > 0
	default:
		return false
	}
}
