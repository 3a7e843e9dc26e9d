package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumolead/postscore/pkg/jsonrepair"
	"github.com/lumolead/postscore/pkg/models"
)

// ScoreRequest asks the model to score every post of one lead.
type ScoreRequest struct {
	SystemPrompt string
	LeadID       string
	Posts        []models.Post
}

// ScoreResponse carries the normalised per-post results and token usage.
type ScoreResponse struct {
	Results    []models.AIScore
	TokenUsage models.TokenUsage
}

// Client drives one model backend with the scoring protocol: a JSON-array
// instruction, a hard timeout, and response normalisation.
type Client struct {
	api     API
	timeout time.Duration
}

// NewClient builds a client around a backend adapter. Timeouts below the
// minimum are raised to it.
func NewClient(api API, timeout time.Duration) *Client {
	minTimeout := MinTimeoutMS * time.Millisecond
	if timeout < minTimeout {
		timeout = minTimeout
	}
	return &Client{api: api, timeout: timeout}
}

// Score invokes the model and returns one result per input post. All
// failures come back as *Error carrying finish reason, safety ratings, and
// a bounded raw-response excerpt.
func (c *Client) Score(ctx context.Context, req ScoreRequest) (*ScoreResponse, error) {
	userMessage, err := buildUserMessage(req)
	if err != nil {
		return nil, &Error{Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.GenerateContent(callCtx, Request{
		Contents: []Content{{Role: "user", Parts: []Part{{Text: userMessage}}}},
		GenerationConfig: GenerationConfig{
			Temperature:      DefaultTemperature,
			MaxOutputTokens:  MaxOutputTokens,
			ResponseMIMEType: ResponseMIMEType,
		},
		SafetySettings:    AllBlockNone(),
		SystemInstruction: &Content{Role: "system", Parts: []Part{{Text: req.SystemPrompt}}},
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &Error{Err: fmt.Errorf("%w after %s", ErrTimeout, c.timeout)}
		}
		return nil, &Error{Err: err}
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, &Error{
				FinishReason: resp.PromptFeedback.BlockReason,
				Err:          fmt.Errorf("%w: %s", ErrSafetyBlocked, resp.PromptFeedback.BlockReason),
			}
		}
		return nil, &Error{Err: ErrEmptyCandidates}
	}

	candidate := resp.Candidates[0]
	text := candidateText(candidate)

	results, err := normaliseResults(text)
	if err != nil {
		return nil, &Error{
			FinishReason:  candidate.FinishReason,
			SafetyRatings: candidate.SafetyRatings,
			RawSnippet:    snippet(text),
			Err:           err,
		}
	}

	usage := models.TokenUsage{}
	if resp.UsageMetadata != nil {
		usage = models.TokenUsage{
			Prompt:     resp.UsageMetadata.PromptTokenCount,
			Completion: resp.UsageMetadata.CandidatesTokenCount,
			Total:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	return &ScoreResponse{Results: results, TokenUsage: usage}, nil
}

// buildUserMessage serialises the posts and pins the output contract: a bare
// JSON array with exactly one entry per input post.
func buildUserMessage(req ScoreRequest) (string, error) {
	postsJSON, err := json.MarshalIndent(req.Posts, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal posts for lead %s: %w", req.LeadID, err)
	}

	var sb strings.Builder
	sb.WriteString("Score every post below for lead ")
	sb.WriteString(req.LeadID)
	sb.WriteString(".\n\n")
	sb.WriteString("Return ONLY a JSON array with exactly one object per input post, ")
	sb.WriteString(`each of the form {"postUrl": string, "postScore": integer, "scoringRationale": string}. `)
	sb.WriteString("No prose, no markdown fences, no wrapper object.\n\nPosts:\n")
	sb.Write(postsJSON)
	return sb.String(), nil
}

func candidateText(c Candidate) string {
	var sb strings.Builder
	for _, p := range c.Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// normaliseResults folds the response shapes the model produces (a bare
// array, {"post_analysis": [...]}, or {"posts": [...]}) into one array of
// AIScore.
func normaliseResults(text string) ([]models.AIScore, error) {
	text = StripFences(text)
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("response text is empty")
	}

	// Wrapper-object shapes parse strictly; the repair pipeline only
	// understands arrays.
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &wrapper); err == nil {
		for _, key := range []string{"post_analysis", "posts"} {
			if raw, ok := wrapper[key]; ok {
				return decodeScores(string(raw))
			}
		}
		return nil, errors.New("response object has neither post_analysis nor posts")
	}

	return decodeScores(text)
}

func decodeScores(text string) ([]models.AIScore, error) {
	parsed := jsonrepair.Parse(text)
	if !parsed.Success {
		return nil, fmt.Errorf("parse model response (%s): %w", parsed.Method, parsed.Err)
	}

	scores := make([]models.AIScore, 0, len(parsed.Data))
	for i, entry := range parsed.Data {
		score, err := toAIScore(entry)
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		scores = append(scores, score)
	}
	return scores, nil
}

func toAIScore(entry models.Post) (models.AIScore, error) {
	url, _ := entry["postUrl"].(string)
	rationale, _ := entry["scoringRationale"].(string)

	var scoreVal int
	switch v := entry["postScore"].(type) {
	case float64:
		scoreVal = int(v)
	case string:
		// Models occasionally quote the number.
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err != nil {
			return models.AIScore{}, fmt.Errorf("postScore %q is not numeric", v)
		}
		scoreVal = int(f)
	case nil:
		return models.AIScore{}, errors.New("result missing postScore")
	default:
		return models.AIScore{}, fmt.Errorf("postScore has unsupported type %T", v)
	}

	return models.AIScore{
		PostURL:          url,
		PostScore:        scoreVal,
		ScoringRationale: rationale,
		EchoedContent:    entry.Content(),
	}, nil
}

// StripFences removes leading ``` / ```json fences and a trailing fence.
func StripFences(text string) string {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```json")
		t = strings.TrimPrefix(t, "```")
		t = strings.TrimSpace(t)
	}
	if strings.HasSuffix(t, "```") {
		t = strings.TrimSuffix(t, "```")
		t = strings.TrimSpace(t)
	}
	return t
}
