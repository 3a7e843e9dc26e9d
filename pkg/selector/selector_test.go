package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumolead/postscore/pkg/logging"
	"github.com/lumolead/postscore/pkg/tenant"
)

const goodContent = `[{"postUrl": "https://x.test/1", "postContent": "long enough content"}]`

func testLogger() *logging.Logger {
	return logging.New("251011-063715", "acme", "lead-selection")
}

func leadStore(t *testing.T, withActioned bool) *tenant.MemStore {
	t.Helper()
	store := tenant.NewMemStore()
	fields := []string{
		tenant.FieldPostsContent, tenant.FieldLinkedInURL, tenant.FieldDateScored,
		tenant.FieldSkipReason, tenant.FieldJSONStatus,
	}
	if withActioned {
		fields = append(fields, tenant.FieldPostsActioned)
	}
	store.CreateTable(tenant.TableLeads, fields...)
	return store
}

func insertLead(t *testing.T, store *tenant.MemStore, id string, fields map[string]any) {
	t.Helper()
	require.NoError(t, store.Insert(tenant.TableLeads, id, fields))
}

func registerUnscoredView(store *tenant.MemStore) {
	store.RegisterView(tenant.TableLeads, tenant.ViewUnscoredLeads, func(r tenant.Record) bool {
		return r.Str(tenant.FieldDateScored) == "" && r.Str(tenant.FieldPostsContent) != ""
	})
}

func TestSelectExplicitTargets(t *testing.T) {
	store := leadStore(t, false)
	insertLead(t, store, "rec1", map[string]any{tenant.FieldPostsContent: goodContent})
	insertLead(t, store, "rec2", map[string]any{tenant.FieldPostsContent: goodContent})

	records, err := Select(context.Background(), store, Options{
		TargetIDs: []string{"rec2", "missing", "rec1"},
	}, testLogger())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "rec2", records[0].ID)
	assert.Equal(t, "rec1", records[1].ID)
}

func TestSelectTargetsRespectLimit(t *testing.T) {
	store := leadStore(t, false)
	for _, id := range []string{"a", "b", "c"} {
		insertLead(t, store, id, map[string]any{tenant.FieldPostsContent: goodContent})
	}
	records, err := Select(context.Background(), store, Options{
		TargetIDs: []string{"a", "b", "c"}, Limit: 2,
	}, testLogger())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSelectViewPath(t *testing.T) {
	store := leadStore(t, false)
	registerUnscoredView(store)
	insertLead(t, store, "unscored", map[string]any{tenant.FieldPostsContent: goodContent})
	insertLead(t, store, "scored", map[string]any{
		tenant.FieldPostsContent: goodContent,
		tenant.FieldDateScored:   "2025-01-01",
	})

	records, err := Select(context.Background(), store, Options{}, testLogger())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "unscored", records[0].ID)
}

// View missing: formula fallback with the actioned guard, then guard retry.
func TestSelectFormulaFallback(t *testing.T) {
	t.Run("with actioned guard", func(t *testing.T) {
		store := leadStore(t, true)
		insertLead(t, store, "fresh", map[string]any{tenant.FieldPostsContent: goodContent})
		insertLead(t, store, "actioned", map[string]any{
			tenant.FieldPostsContent:  goodContent,
			tenant.FieldPostsActioned: float64(1),
		})
		insertLead(t, store, "scored", map[string]any{
			tenant.FieldPostsContent: goodContent,
			tenant.FieldDateScored:   "2025-01-01",
		})

		records, err := Select(context.Background(), store, Options{}, testLogger())
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "fresh", records[0].ID)
	})

	t.Run("guard retried away when field unknown", func(t *testing.T) {
		store := leadStore(t, false)
		insertLead(t, store, "fresh", map[string]any{tenant.FieldPostsContent: goodContent})
		insertLead(t, store, "scored", map[string]any{
			tenant.FieldPostsContent: goodContent,
			tenant.FieldDateScored:   "2025-01-01",
		})

		records, err := Select(context.Background(), store, Options{}, testLogger())
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "fresh", records[0].ID)
	})
}

func TestSelectFormulaForceRescore(t *testing.T) {
	store := leadStore(t, false)
	insertLead(t, store, "scored", map[string]any{
		tenant.FieldPostsContent: goodContent,
		tenant.FieldDateScored:   "2025-01-01",
	})

	records, err := Select(context.Background(), store, Options{ForceRescore: true}, testLogger())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSelectEmptyViewFallsThrough(t *testing.T) {
	store := leadStore(t, false)
	// A stale view that matches nothing; the formula fallback still finds
	// the unscored lead.
	store.RegisterView(tenant.TableLeads, tenant.ViewUnscoredLeads, func(tenant.Record) bool {
		return false
	})
	insertLead(t, store, "viewmiss", map[string]any{
		tenant.FieldPostsContent: goodContent,
	})
	records, err := Select(context.Background(), store, Options{}, testLogger())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSelectTableUnreachable(t *testing.T) {
	store := tenant.NewMemStore()
	records, err := Select(context.Background(), store, Options{}, testLogger())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSelectDropsUnusableContent(t *testing.T) {
	store := leadStore(t, false)
	registerUnscoredView(store)
	insertLead(t, store, "short", map[string]any{tenant.FieldPostsContent: "[]"})
	insertLead(t, store, "spaces", map[string]any{tenant.FieldPostsContent: "   \n\t   "})
	insertLead(t, store, "good", map[string]any{tenant.FieldPostsContent: goodContent})

	records, err := Select(context.Background(), store, Options{}, testLogger())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].ID)
}

func TestHasUsableContent(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want bool
	}{
		{"long string", goodContent, true},
		{"short string", "[]", false},
		{"whitespace padding ignored", " [ ] { } \n", false},
		{"non-empty array", []any{map[string]any{"postUrl": "u"}}, true},
		{"empty array", []any{}, false},
		{"nil", nil, false},
		{"number", 42, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasUsableContent(tt.in))
		})
	}
}
