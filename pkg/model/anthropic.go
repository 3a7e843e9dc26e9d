package model

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter implements API over the Anthropic Messages API, for
// tenants whose scoring model is addressed as "claude-*". The generateContent
// request shape is mapped onto MessageNewParams; safety settings have no
// Anthropic equivalent and are ignored.
type AnthropicAdapter struct {
	client  anthropic.Client
	modelID string
}

// NewAnthropicAdapter creates an adapter for one model.
func NewAnthropicAdapter(modelID, apiKey string) *AnthropicAdapter {
	return &AnthropicAdapter{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		modelID: modelID,
	}
}

// GenerateContent maps the request onto the Messages API and the response
// back into the generateContent shape.
func (a *AnthropicAdapter) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.modelID),
		MaxTokens: int64(req.GenerationConfig.MaxOutputTokens),
	}
	if req.SystemInstruction != nil {
		var system string
		for _, p := range req.SystemInstruction.Parts {
			system += p.Text
		}
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	params.Temperature = anthropic.Float(req.GenerationConfig.Temperature)

	for _, content := range req.Contents {
		role := anthropic.MessageParamRoleUser
		if content.Role == "model" || content.Role == "assistant" {
			role = anthropic.MessageParamRoleAssistant
		}
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(content.Parts))
		for _, p := range content.Parts {
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		}
		params.Messages = append(params.Messages, anthropic.MessageParam{
			Role:    role,
			Content: blocks,
		})
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var parts []Part
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, Part{Text: block.Text})
		}
	}

	return &Response{
		Candidates: []Candidate{{
			Content:      Content{Role: "model", Parts: parts},
			FinishReason: string(msg.StopReason),
		}},
		UsageMetadata: &UsageMetadata{
			PromptTokenCount:     int(msg.Usage.InputTokens),
			CandidatesTokenCount: int(msg.Usage.OutputTokens),
			TotalTokenCount:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}
