// Package tenant defines the contracts for per-tenant data access. Tenant
// schemas are late-bound: field names are string contracts, optional fields
// vary per client, and adapters surface "unknown field" failures in a form
// the processor can retry around.
package tenant

import (
	"context"
	"errors"
	"fmt"
)

// Table names in the tenant store.
const (
	TableLeads             = "Leads"
	TableScoringAttributes = "Post Scoring Attributes"
	TableScoringComponents = "Post Scoring Instructions"
)

// Lead field names. These are contracts with the tenant store, not Go
// identifiers; adapters map them verbatim.
const (
	FieldPostsContent   = "Posts Content"
	FieldLinkedInURL    = "LinkedIn Profile URL"
	FieldDateScored     = "Date Posts Scored"
	FieldRelevanceScore = "Posts Relevance Score"
	FieldAIEvaluation   = "Posts AI Evaluation"
	FieldTopScoringPost = "Top Scoring Post"
	FieldSkipReason     = "Posts Skip Reason"
	FieldJSONStatus     = "Posts JSON Status"
	FieldPostsActioned  = "Posts Actioned"
)

// ViewUnscoredLeads is the preferred selection path when the tenant base
// defines it.
const ViewUnscoredLeads = "Leads with Posts not yet scored"

// Record is one row from a tenant table. Fields is keyed by the contract
// field names above.
type Record struct {
	ID     string
	Fields map[string]any
}

// Str returns a field coerced to string, or "" when absent or non-string.
func (r Record) Str(field string) string {
	s, _ := r.Fields[field].(string)
	return s
}

// SelectOptions narrows a table read.
type SelectOptions struct {
	Fields     []string
	View       string
	Formula    Formula
	MaxRecords int
}

// Sentinel errors adapters are expected to surface.
var (
	// ErrRecordNotFound indicates a Find by ID missed.
	ErrRecordNotFound = errors.New("record not found")

	// ErrViewNotFound indicates a Select referenced a view the base does
	// not define. The selector falls back to its formula path.
	ErrViewNotFound = errors.New("view not found")

	// ErrTableNotFound indicates the table itself is unreachable.
	ErrTableNotFound = errors.New("table not found")
)

// UnknownFieldError is returned when a select formula or update references a
// field the tenant base does not define. It carries the offending field name
// so callers can retry without it.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field name: %q", e.Field)
}

// AsUnknownField unwraps err to an UnknownFieldError, if it is one.
func AsUnknownField(err error) (*UnknownFieldError, bool) {
	var ufe *UnknownFieldError
	if errors.As(err, &ufe) {
		return ufe, true
	}
	return nil, false
}

// Store is the per-tenant datastore adapter contract.
type Store interface {
	// Select reads records from a table, narrowed by opts.
	Select(ctx context.Context, table string, opts SelectOptions) ([]Record, error)

	// Find fetches one record by ID. Returns ErrRecordNotFound on a miss.
	Find(ctx context.Context, table, id string) (Record, error)

	// Update writes fields to one record and returns the updated record.
	// References to undefined fields surface as *UnknownFieldError.
	Update(ctx context.Context, table, id string, fields map[string]any) (Record, error)

	// HasField probes whether a table defines a field. Used once per client
	// run to decide whether optional fields participate in write-backs.
	HasField(ctx context.Context, table, field string) (bool, error)
}

// Opener resolves a client's datastore handle.
type Opener interface {
	Open(ctx context.Context, clientID string) (Store, error)
}
