package tenant

import (
	"context"
	"fmt"
	"log/slog"
)

// UpdateTolerant writes fields to a lead record, retrying exactly once when
// the store rejects the optional skip-reason field as unknown. The retry
// omits only that field; a rejection of any other field propagates
// unchanged, and a second failure surfaces with the original context.
func UpdateTolerant(ctx context.Context, store Store, table, id string, fields map[string]any) (Record, error) {
	rec, err := store.Update(ctx, table, id, fields)
	if err == nil {
		return rec, nil
	}

	ufe, ok := AsUnknownField(err)
	if !ok || ufe.Field != FieldSkipReason {
		return Record{}, err
	}
	if _, present := fields[FieldSkipReason]; !present {
		return Record{}, err
	}

	slog.Warn("Store rejected skip-reason field, retrying update without it",
		"table", table, "record_id", id)

	retry := make(map[string]any, len(fields)-1)
	for k, v := range fields {
		if k == FieldSkipReason {
			continue
		}
		retry[k] = v
	}

	rec, retryErr := store.Update(ctx, table, id, retry)
	if retryErr != nil {
		return Record{}, fmt.Errorf("retry without %q failed: %w (original: %v)", FieldSkipReason, retryErr, err)
	}
	return rec, nil
}
