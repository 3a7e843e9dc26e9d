package batch

import (
	"context"
	"fmt"

	"github.com/lumolead/postscore/pkg/logging"
	"github.com/lumolead/postscore/pkg/processor"
	"github.com/lumolead/postscore/pkg/tenant"
)

// DefaultChunkSize is the number of leads processed per chunk.
const DefaultChunkSize = 10

// LeadProcessor scores a single lead to a terminal outcome.
type LeadProcessor interface {
	Process(ctx context.Context, lead tenant.Record) processor.Outcome
}

// ChunkRunner splits a client's candidate leads into fixed-size chunks and
// processes them sequentially, accumulating counters and bounded error
// samples.
type ChunkRunner struct {
	proc LeadProcessor
	size int
	diag *Diagnostics
	log  *logging.Logger
}

// NewChunkRunner creates a runner. Sizes below 1 fall back to the default.
func NewChunkRunner(proc LeadProcessor, size int, diag *Diagnostics, log *logging.Logger) *ChunkRunner {
	if size < 1 {
		size = DefaultChunkSize
	}
	return &ChunkRunner{proc: proc, size: size, diag: diag, log: log}
}

// Run processes all leads and returns the accumulated result. Cancellation
// aborts between leads; the leads left unprocessed are counted under the
// cancelled bucket and the context error is returned with the chunk index.
func (c *ChunkRunner) Run(ctx context.Context, clientID string, leads []tenant.Record) (ChunkResult, error) {
	result := NewChunkResult()
	total := (len(leads) + c.size - 1) / c.size

	for chunkIdx := 0; chunkIdx*c.size < len(leads); chunkIdx++ {
		start := chunkIdx * c.size
		end := start + c.size
		if end > len(leads) {
			end = len(leads)
		}
		chunk := leads[start:end]
		c.log.Debug("Processing chunk",
			"chunk", chunkIdx+1, "chunks_total", total, "leads", len(chunk))

		for i, lead := range chunk {
			if err := ctx.Err(); err != nil {
				remaining := len(leads) - (start + i)
				result.ErrorReasonCounts[ReasonCancelled] += remaining
				result.Errors += remaining
				return result, fmt.Errorf("chunk %d: %w", chunkIdx+1, err)
			}
			c.accumulate(&result, clientID, lead.ID, c.proc.Process(ctx, lead))
		}
	}
	return result, nil
}

func (c *ChunkRunner) accumulate(result *ChunkResult, clientID, leadID string, out processor.Outcome) {
	result.Processed++
	result.Tokens.Add(out.TokenUsage)

	switch out.Status {
	case processor.StatusSuccess:
		result.Scored++
	case processor.StatusSkipped:
		result.Skipped++
		result.SkipCounts[out.Reason]++
	default:
		result.Errors++
		key := out.Reason
		if out.Category != "" {
			key += ":" + string(out.Category)
		}
		result.ErrorReasonCounts[key]++
		if sample, ok := c.diag.Record(clientID, leadID, out.Reason, string(out.Category), out.Err); ok {
			result.ErrorDetails = append(result.ErrorDetails, sample)
		}
	}
}
