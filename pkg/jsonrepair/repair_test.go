package jsonrepair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumolead/postscore/pkg/models"
)

func TestParseStrictClean(t *testing.T) {
	res := Parse(`[{"postUrl": "https://x.test/1", "postContent": "hello"}]`)
	require.True(t, res.Success)
	assert.Equal(t, MethodClean, res.Method)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "https://x.test/1", res.Data[0].URL())
	assert.Equal(t, "hello", res.Data[0].Content())
}

func TestParseArrayShortCircuits(t *testing.T) {
	t.Run("post slice", func(t *testing.T) {
		res := Parse([]models.Post{{"postUrl": "u"}})
		require.True(t, res.Success)
		assert.Equal(t, MethodClean, res.Method)
	})

	t.Run("generic slice", func(t *testing.T) {
		res := Parse([]any{map[string]any{"postUrl": "u"}})
		require.True(t, res.Success)
		assert.Equal(t, MethodClean, res.Method)
		assert.Equal(t, "u", res.Data[0].URL())
	})

	t.Run("generic slice with non-object element fails", func(t *testing.T) {
		res := Parse([]any{"not a post"})
		assert.False(t, res.Success)
		assert.Equal(t, MethodCorrupted, res.Method)
	})
}

func TestParseControlCharacterPreprocessing(t *testing.T) {
	raw := "[{\"postUrl\": \"u\", \"postContent\": \"line\x00 with\x01 junk\"}]"
	res := Parse(raw)
	require.True(t, res.Success)
	assert.Equal(t, MethodCleanPreprocessing, res.Method)
	assert.Equal(t, "line with junk", res.Data[0].Content())
}

func TestParseCRLFNormalised(t *testing.T) {
	// A raw newline inside a JSON string is a control character strict
	// parsing rejects; stage 2 strips it.
	raw := "[{\"postUrl\": \"u\", \"postContent\": \"a\x0bb\"}]"
	res := Parse(raw)
	require.True(t, res.Success)
	assert.Equal(t, MethodCleanPreprocessing, res.Method)
}

func TestParseQuoteRepair(t *testing.T) {
	raw := `[{"postUrl": "u", "postContent": "he said "hi" there"}]`
	res := Parse(raw)
	require.True(t, res.Success)
	assert.Equal(t, MethodQuoteRepair, res.Method)
	assert.Equal(t, `he said "hi" there`, res.Data[0].Content())
}

func TestParseLenient(t *testing.T) {
	// Trailing comma breaks strict parsing but is structurally balanced.
	raw := `[{"postUrl": "u", "postContent": "fine"},]`
	res := Parse(raw)
	require.True(t, res.Success)
	assert.Equal(t, MethodDirtyJSON, res.Method)
	require.Len(t, res.Data, 1)
}

// Unescaped inner quotes and a missing closing bracket.
func TestParseCorruptedTruncated(t *testing.T) {
	raw := `[{"postContent":"he said "hi" there"}`
	res := Parse(raw)
	assert.False(t, res.Success)
	assert.Equal(t, MethodCorrupted, res.Method)
	assert.Error(t, res.Err)
}

func TestParseNonArrayIsFailure(t *testing.T) {
	res := Parse(`{"postUrl": "u"}`)
	assert.False(t, res.Success)
	assert.Equal(t, MethodCorrupted, res.Method)
}

func TestParseEmptyArray(t *testing.T) {
	res := Parse(`[]`)
	require.True(t, res.Success)
	assert.Equal(t, MethodClean, res.Method)
	assert.Empty(t, res.Data)
}

func TestParseRejectsOtherTypes(t *testing.T) {
	for _, in := range []any{nil, 42, map[string]any{"postUrl": "u"}} {
		res := Parse(in)
		assert.False(t, res.Success, "input %v", in)
		assert.Equal(t, MethodCorrupted, res.Method)
	}
}

// Monotonicity: a strictly parseable payload always reports CLEAN.
func TestMethodMonotonicity(t *testing.T) {
	clean := `[{"postUrl": "u"}]`
	assert.Equal(t, MethodClean, Parse(clean).Method)

	dirty := "[{\"postUrl\": \"u\x00\"}]"
	res := Parse(dirty)
	require.True(t, res.Success)
	assert.NotEqual(t, MethodClean, res.Method)
}

func TestRepairQuotes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"escapes inner quotes",
			`{"postContent": "he said "hi""}`,
			`{"postContent": "he said \"hi\""}`,
		},
		{
			"leaves escaped quotes alone",
			`{"postContent": "he said \"hi\""}`,
			`{"postContent": "he said \"hi\""}`,
		},
		{
			"untouched without marker",
			`{"other": "a "quoted" value"}`,
			`{"other": "a "quoted" value"}`,
		},
		{
			"multiple posts",
			`[{"postContent": "say "a""},{"postContent": "say "b""}]`,
			`[{"postContent": "say \"a\""},{"postContent": "say \"b\""}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RepairQuotes(tt.in))
		})
	}
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Severity
	}{
		{"clean", `[{"a": "b"}]`, SeverityClean},
		{"control chars", "[{\"a\": \"b\x00\"}]", SeverityDirty},
		{"unbalanced", `[{"a": "b"}`, SeverityCorrupted},
		{"odd quotes", `[{"a": "b}]`, SeverityCorrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Analyze(tt.in).Severity)
		})
	}
}
