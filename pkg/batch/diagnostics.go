package batch

import (
	"fmt"
	"strings"
)

// DefaultMaxDiagnostics caps the number of archived error samples per run.
const DefaultMaxDiagnostics = 10

// Diagnostics collects deduplicated error samples for the run summary.
// Samples are keyed by message, category, and base reason so a flood of
// identical failures occupies one slot.
type Diagnostics struct {
	enabled bool
	limit   int
	seen    map[string]bool
	samples []string
}

// NewDiagnostics creates a collector. A non-positive limit falls back to the
// default cap.
func NewDiagnostics(enabled bool, limit int) *Diagnostics {
	if limit <= 0 {
		limit = DefaultMaxDiagnostics
	}
	return &Diagnostics{enabled: enabled, limit: limit, seen: map[string]bool{}}
}

// Record adds one error sample unless the collector is disabled, full, or has
// already seen an equivalent failure. It returns the sample and whether it
// was admitted.
func (d *Diagnostics) Record(clientID, leadID, reason, category string, err error) (string, bool) {
	if d == nil || !d.enabled || len(d.samples) >= d.limit {
		return "", false
	}

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	base := reason
	if i := strings.Index(base, ":"); i > 0 {
		base = base[:i]
	}
	key := msg + ":" + category + ":" + base
	if d.seen[key] {
		return "", false
	}
	d.seen[key] = true

	sample := fmt.Sprintf("client=%s lead=%s reason=%s", clientID, leadID, reason)
	if category != "" {
		sample += " category=" + category
	}
	if msg != "" {
		sample += " error=" + msg
	}
	d.samples = append(d.samples, sample)
	return sample, true
}

// Samples returns the collected samples in insertion order.
func (d *Diagnostics) Samples() []string {
	if d == nil {
		return nil
	}
	return d.samples
}
