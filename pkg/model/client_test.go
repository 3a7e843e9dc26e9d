package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumolead/postscore/pkg/models"
)

// fakeAPI is a scripted backend. When block is set the call waits for ctx
// cancellation instead of returning.
type fakeAPI struct {
	resp      *Response
	err       error
	block     bool
	lastReq   Request
	callsSeen int
}

func (f *fakeAPI) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	f.lastReq = req
	f.callsSeen++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func textResponse(text string) *Response {
	return &Response{
		Candidates: []Candidate{{
			Content:      Content{Role: "model", Parts: []Part{{Text: text}}},
			FinishReason: "STOP",
		}},
		UsageMetadata: &UsageMetadata{PromptTokenCount: 100, CandidatesTokenCount: 40, TotalTokenCount: 140},
	}
}

func scoreReq() ScoreRequest {
	return ScoreRequest{
		SystemPrompt: "score posts",
		LeadID:       "rec123",
		Posts:        []models.Post{{"postUrl": "https://x.test/1", "postContent": "hi"}},
	}
}

func TestScoreHappyPath(t *testing.T) {
	api := &fakeAPI{resp: textResponse(`[{"postUrl": "https://x.test/1", "postScore": 73, "scoringRationale": "ok"}]`)}
	client := NewClient(api, time.Minute)

	resp, err := client.Score(context.Background(), scoreReq())
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 73, resp.Results[0].PostScore)
	assert.Equal(t, models.TokenUsage{Prompt: 100, Completion: 40, Total: 140}, resp.TokenUsage)

	// Request carries the scoring protocol.
	assert.Equal(t, ResponseMIMEType, api.lastReq.GenerationConfig.ResponseMIMEType)
	assert.Equal(t, MaxOutputTokens, api.lastReq.GenerationConfig.MaxOutputTokens)
	assert.Zero(t, api.lastReq.GenerationConfig.Temperature)
	require.NotNil(t, api.lastReq.SystemInstruction)
	assert.Equal(t, "score posts", api.lastReq.SystemInstruction.Parts[0].Text)
	for _, s := range api.lastReq.SafetySettings {
		assert.Equal(t, "BLOCK_NONE", s.Threshold)
	}
}

func TestScoreStripsFences(t *testing.T) {
	api := &fakeAPI{resp: textResponse("```json\n[{\"postUrl\": \"u\", \"postScore\": 5, \"scoringRationale\": \"r\"}]\n```")}
	client := NewClient(api, time.Minute)

	resp, err := client.Score(context.Background(), scoreReq())
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 5, resp.Results[0].PostScore)
}

func TestScoreUnwrapsWrapperShapes(t *testing.T) {
	for _, key := range []string{"post_analysis", "posts"} {
		t.Run(key, func(t *testing.T) {
			body := fmt.Sprintf(`{"%s": [{"postUrl": "u", "postScore": 9, "scoringRationale": "r"}]}`, key)
			api := &fakeAPI{resp: textResponse(body)}
			client := NewClient(api, time.Minute)

			resp, err := client.Score(context.Background(), scoreReq())
			require.NoError(t, err)
			require.Len(t, resp.Results, 1)
			assert.Equal(t, 9, resp.Results[0].PostScore)
		})
	}
}

func TestScoreWrapperWithoutKnownKey(t *testing.T) {
	api := &fakeAPI{resp: textResponse(`{"analysis": []}`)}
	client := NewClient(api, time.Minute)

	_, err := client.Score(context.Background(), scoreReq())
	require.Error(t, err)
	var me *Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "STOP", me.FinishReason)
}

func TestScoreTimeout(t *testing.T) {
	api := &fakeAPI{block: true}
	client := &Client{api: api, timeout: 20 * time.Millisecond}

	_, err := client.Score(context.Background(), scoreReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, CategoryTimeout, Classify(err))
}

func TestScoreSafetyBlocked(t *testing.T) {
	api := &fakeAPI{resp: &Response{PromptFeedback: &PromptFeedback{BlockReason: "SAFETY"}}}
	client := NewClient(api, time.Minute)

	_, err := client.Score(context.Background(), scoreReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSafetyBlocked)
	assert.Equal(t, CategorySafetyBlock, Classify(err))
}

func TestScoreEmptyCandidates(t *testing.T) {
	api := &fakeAPI{resp: &Response{}}
	client := NewClient(api, time.Minute)

	_, err := client.Score(context.Background(), scoreReq())
	assert.ErrorIs(t, err, ErrEmptyCandidates)
}

func TestScoreMalformedResponseCarriesSnippet(t *testing.T) {
	api := &fakeAPI{resp: textResponse("I am sorry, I cannot do that.")}
	client := NewClient(api, time.Minute)

	_, err := client.Score(context.Background(), scoreReq())
	require.Error(t, err)
	var me *Error
	require.True(t, errors.As(err, &me))
	assert.Contains(t, me.RawSnippet, "I am sorry")
}

func TestScoreCarriesEchoedContent(t *testing.T) {
	api := &fakeAPI{resp: textResponse(`[{"postUrl": "u", "postScore": 3, "scoringRationale": "r", "postContent": "echoed body"}]`)}
	client := NewClient(api, time.Minute)

	resp, err := client.Score(context.Background(), scoreReq())
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "echoed body", resp.Results[0].EchoedContent)
}

func TestScoreQuotedNumericScore(t *testing.T) {
	api := &fakeAPI{resp: textResponse(`[{"postUrl": "u", "postScore": "42", "scoringRationale": "r"}]`)}
	client := NewClient(api, time.Minute)

	resp, err := client.Score(context.Background(), scoreReq())
	require.NoError(t, err)
	assert.Equal(t, 42, resp.Results[0].PostScore)
}

func TestNewClientEnforcesMinimumTimeout(t *testing.T) {
	c := NewClient(&fakeAPI{}, time.Second)
	assert.Equal(t, time.Duration(MinTimeoutMS)*time.Millisecond, c.timeout)
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"```json\n[1]\n```", "[1]"},
		{"```\n[1]\n```", "[1]"},
		{"[1]", "[1]"},
		{"  [1]  ", "[1]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripFences(tt.in))
	}
}

func TestClassifyTotality(t *testing.T) {
	known := map[Category]bool{
		CategorySafetyBlock: true, CategoryQuota: true, CategoryTimeout: true,
		CategoryAuth: true, CategoryResponseFormat: true, CategoryModelConfig: true,
		CategoryUnknown: true,
	}
	samples := []error{
		errors.New("blocked for safety reasons"),
		errors.New("quota exceeded"),
		errors.New("rate limit hit"),
		errors.New("context deadline exceeded"),
		errors.New("ETIMEDOUT"),
		errors.New("401 unauthorized"),
		errors.New("request forbidden"),
		errors.New("invalid character 'x' looking for beginning of value"),
		errors.New("unexpected token in JSON"),
		errors.New("model not found"),
		errors.New("invalid model id"),
		errors.New("something odd happened"),
		&Error{FinishReason: "SAFETY", Err: errors.New("no text")},
	}
	for _, err := range samples {
		cat := Classify(err)
		assert.True(t, known[cat], "error %q produced unknown category %q", err, cat)
	}
}

func TestClassifyPrecedence(t *testing.T) {
	tests := []struct {
		msg  string
		want Category
	}{
		{"safety block due to quota", CategorySafetyBlock},
		{"quota timeout", CategoryQuota},
		{"timeout parsing json", CategoryTimeout},
		{"failed to parse response", CategoryResponseFormat},
		{"model not found", CategoryModelConfig},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(errors.New(tt.msg)), tt.msg)
	}
}
