package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultGeminiEndpoint is the Generative Language API base URL.
const DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// GeminiAdapter implements API over the Gemini REST surface. The request and
// response payloads in this package are wire-identical to the Gemini
// generateContent contract, so the adapter is a thin HTTP shim.
type GeminiAdapter struct {
	httpClient *http.Client
	endpoint   string
	modelID    string
	apiKey     string
}

// GeminiOption customises the adapter.
type GeminiOption func(*GeminiAdapter)

// WithGeminiEndpoint overrides the API base URL. Useful for Vertex regional
// endpoints and for tests against a local server.
func WithGeminiEndpoint(endpoint string) GeminiOption {
	return func(a *GeminiAdapter) { a.endpoint = strings.TrimRight(endpoint, "/") }
}

// VertexEndpoint returns the Vertex AI base URL for Google publisher models
// in one project and location. The adapter appends models/{id}:generateContent
// below it, which matches the Vertex publisher-model path.
func VertexEndpoint(project, location string) string {
	host := location + "-aiplatform.googleapis.com"
	if location == "global" {
		host = "aiplatform.googleapis.com"
	}
	return fmt.Sprintf("https://%s/v1/projects/%s/locations/%s/publishers/google",
		host, project, location)
}

// WithGeminiHTTPClient overrides the HTTP client.
func WithGeminiHTTPClient(c *http.Client) GeminiOption {
	return func(a *GeminiAdapter) { a.httpClient = c }
}

// NewGeminiAdapter creates an adapter for one model.
func NewGeminiAdapter(modelID, apiKey string, opts ...GeminiOption) *GeminiAdapter {
	a := &GeminiAdapter{
		// Per-request deadlines come from the caller's context; the
		// transport-level timeout is a backstop.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		endpoint:   DefaultGeminiEndpoint,
		modelID:    modelID,
		apiKey:     apiKey,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GenerateContent posts the request to models/{model}:generateContent.
func (a *GeminiAdapter) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", a.endpoint, a.modelID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.apiKey)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", a.modelID, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model API returned HTTP %d: %s",
			httpResp.StatusCode, snippet(string(respBody)))
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
