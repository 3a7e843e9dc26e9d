// Package model invokes the generative model that scores posts. The wire
// contract (generateContent with candidates, prompt feedback, and usage
// metadata) is fixed by the collaborator; this package normalises its three
// possible response shapes into a single array of per-post scores and
// classifies failures for metrics aggregation.
package model

import (
	"context"
	"errors"
	"fmt"
)

// Default generation parameters. MaxOutputTokens is a contract constant, not
// a tunable.
const (
	MaxOutputTokens    = 16384
	ResponseMIMEType   = "application/json"
	DefaultTimeoutMS   = 120_000
	MinTimeoutMS       = 30_000
	DefaultTemperature = 0.0
)

// rawSnippetLimit bounds the raw-response excerpt attached to errors.
const rawSnippetLimit = 500

// Part is one content fragment.
type Part struct {
	Text string `json:"text"`
}

// Content is a role-tagged message.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// GenerationConfig carries the decoding parameters for one request.
type GenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMIMEType string  `json:"responseMimeType"`
}

// SafetySetting disables a harm-category filter. Post scoring runs with all
// categories at BLOCK_NONE; blocking is still possible at the model's
// discretion and is surfaced via prompt feedback.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// AllBlockNone returns the full safety policy used for scoring requests.
func AllBlockNone() []SafetySetting {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	out := make([]SafetySetting, len(categories))
	for i, c := range categories {
		out[i] = SafetySetting{Category: c, Threshold: "BLOCK_NONE"}
	}
	return out
}

// Request is the generateContent request payload.
type Request struct {
	Contents          []Content        `json:"contents"`
	GenerationConfig  GenerationConfig `json:"generationConfig"`
	SafetySettings    []SafetySetting  `json:"safetySettings"`
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
}

// SafetyRating is the model's per-category assessment of a candidate.
type SafetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
}

// Candidate is one generated completion.
type Candidate struct {
	Content       Content        `json:"content"`
	FinishReason  string         `json:"finishReason"`
	SafetyRatings []SafetyRating `json:"safetyRatings"`
}

// PromptFeedback reports prompt-level blocking.
type PromptFeedback struct {
	BlockReason string `json:"blockReason"`
}

// UsageMetadata reports token consumption.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Response is the generateContent response payload.
type Response struct {
	Candidates     []Candidate     `json:"candidates"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *UsageMetadata  `json:"usageMetadata,omitempty"`
}

// API is the generative-model adapter contract. Implementations map the
// request onto a concrete backend (Gemini REST, Anthropic SDK) and must
// honour ctx cancellation.
type API interface {
	GenerateContent(ctx context.Context, req Request) (*Response, error)
}

// Sentinel errors.
var (
	// ErrTimeout indicates the invocation exceeded the configured deadline.
	ErrTimeout = errors.New("model invocation timeout")

	// ErrSafetyBlocked indicates the prompt was blocked by the model's
	// safety layer (no candidates, block reason present).
	ErrSafetyBlocked = errors.New("prompt blocked by safety filter")

	// ErrEmptyCandidates indicates the response carried no candidates and
	// no block reason.
	ErrEmptyCandidates = errors.New("response has no candidates")
)

// Error wraps a model failure with the response context needed for
// classification and diagnostics.
type Error struct {
	FinishReason  string
	SafetyRatings []SafetyRating
	RawSnippet    string
	Err           error
}

func (e *Error) Error() string {
	if e.FinishReason != "" {
		return fmt.Sprintf("model error (finish_reason=%s): %v", e.FinishReason, e.Err)
	}
	return fmt.Sprintf("model error: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// snippet bounds s to the diagnostic excerpt length.
func snippet(s string) string {
	if len(s) <= rawSnippetLimit {
		return s
	}
	return s[:rawSnippetLimit]
}
