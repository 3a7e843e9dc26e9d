// Package models holds the domain types shared across the scoring pipeline.
package models

import (
	"fmt"
	"time"
)

// Post is one social-media post attached to a lead. Tenant payloads are
// late-bound: collectors disagree on field names and some nest author data
// under a metadata bag, so a post is a loose map with typed accessors rather
// than a struct binding.
type Post map[string]any

func (p Post) str(keys ...string) string {
	for _, k := range keys {
		if v, ok := p[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func (p Post) metadata() map[string]any {
	for _, k := range []string{"metadata", "postMetadata"} {
		if m, ok := p[k].(map[string]any); ok {
			return m
		}
	}
	return nil
}

func (p Post) metaStr(keys ...string) string {
	m := p.metadata()
	if m == nil {
		return ""
	}
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// URL returns the post's identity key within a lead.
func (p Post) URL() string {
	return p.str("postUrl", "url", "postURL")
}

// Content returns the post body text.
func (p Post) Content() string {
	return p.str("postContent", "content", "text")
}

// Action returns the collector-supplied action label ("Post", "Repost", ...),
// preferring the top-level field over the metadata bag.
func (p Post) Action() string {
	if s := p.str("action"); s != "" {
		return s
	}
	return p.metaStr("action")
}

// AuthorURL returns the post author's profile URL from either the top level
// or the metadata bag.
func (p Post) AuthorURL() string {
	if s := p.str("authorUrl", "author"); s != "" {
		return s
	}
	return p.metaStr("authorUrl")
}

// AuthorName returns the author display name when the collector supplied one.
func (p Post) AuthorName() string {
	if s := p.str("authorName"); s != "" {
		return s
	}
	return p.metaStr("authorName")
}

// Date extracts the post date from the candidate fields collectors use.
// postedAt may be a string, an epoch-milliseconds number, or an object
// carrying timestamp/date/ms/value.
func (p Post) Date() string {
	if s := p.str("postDate", "date", "postedDate"); s != "" {
		return s
	}
	v, ok := p["postedAt"]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return time.UnixMilli(int64(t)).UTC().Format("2006-01-02")
	case map[string]any:
		for _, k := range []string{"timestamp", "date", "value"} {
			if s, ok := t[k].(string); ok && s != "" {
				return s
			}
		}
		for _, k := range []string{"ms", "timestamp", "value"} {
			if n, ok := t[k].(float64); ok && n > 0 {
				return time.UnixMilli(int64(n)).UTC().Format("2006-01-02")
			}
		}
	}
	return ""
}

// AIScore is the model's verdict on one post.
type AIScore struct {
	PostURL          string `json:"postUrl"`
	PostScore        int    `json:"postScore"`
	ScoringRationale string `json:"scoringRationale"`

	// EchoedContent is the post body the model echoed back with the score.
	// It only serves as a fallback when the score cannot be joined to a
	// source post; EnrichedScore.PostContent is the serialized field.
	EchoedContent string `json:"-"`
}

// EnrichedScore is an AIScore merged with the source post's fields plus the
// repost determination. This is what gets serialized into the lead's AI
// evaluation field.
type EnrichedScore struct {
	AIScore
	PostContent string `json:"postContent,omitempty"`
	PostDate    string `json:"postDate,omitempty"`
	AuthorURL   string `json:"authorUrl,omitempty"`
	AuthorName  string `json:"authorName,omitempty"`
	IsRepost    bool   `json:"isRepost"`
}

// TokenUsage reports model token consumption for one invocation.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add accumulates usage from another invocation.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Prompt += other.Prompt
	u.Completion += other.Completion
	u.Total += other.Total
}

func (u TokenUsage) String() string {
	return fmt.Sprintf("prompt=%d completion=%d total=%d", u.Prompt, u.Completion, u.Total)
}
