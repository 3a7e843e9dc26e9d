package tenant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultGatewayURL is the records gateway the adapters talk to when no
// override is configured.
const DefaultGatewayURL = "https://api.airtable.com/v0"

// GatewayConfig configures the HTTP datastore adapters.
type GatewayConfig struct {
	// BaseURL of the records gateway. Defaults to DefaultGatewayURL.
	BaseURL string

	// Token is the bearer token for every request.
	Token string

	// RegistryHandle is the base holding the Clients table.
	RegistryHandle string

	// HTTPClient overrides the default 30s-timeout client. Tests use it.
	HTTPClient *http.Client
}

// gateway is the shared HTTP plumbing for the store and registry adapters.
type gateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func newGateway(cfg GatewayConfig) *gateway {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultGatewayURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &gateway{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     slog.Default(),
	}
}

type httpRecord struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type listResponse struct {
	Records []httpRecord `json:"records"`
	Offset  string       `json:"offset,omitempty"`
}

// apiError is the gateway's error envelope. Some endpoints return error as a
// bare string instead of an object; RawMessage absorbs both shapes.
type apiError struct {
	Error json.RawMessage `json:"error"`
}

type apiErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e apiError) detail() apiErrorDetail {
	var d apiErrorDetail
	if len(e.Error) == 0 {
		return d
	}
	if err := json.Unmarshal(e.Error, &d); err != nil {
		var s string
		if json.Unmarshal(e.Error, &s) == nil {
			d.Message = s
		}
	}
	return d
}

var unknownFieldPattern = regexp.MustCompile(`"([^"]+)"`)

// do issues one request and decodes the response into out. A 429 is retried
// once after the advertised delay.
func (g *gateway) do(ctx context.Context, method, requestURL string, body, out any) error {
	for attempt := 0; ; attempt++ {
		var reqBody io.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("encode request body: %w", err)
			}
			reqBody = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, method, requestURL, reqBody)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+g.token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("datastore gateway request: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			delay := retryDelay(resp.Header.Get("Retry-After"))
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			g.logger.Warn("Datastore gateway rate limited, retrying", "delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		defer resp.Body.Close()
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return gatewayError(resp.StatusCode, payload)
		}

		if out != nil {
			if err := json.Unmarshal(payload, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
}

func retryDelay(header string) time.Duration {
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}

// gatewayError maps the error envelope onto the package sentinels so the
// batch core's fallback and tolerant-retry paths work against the real
// gateway exactly as they do against the in-memory store.
func gatewayError(status int, payload []byte) error {
	var envelope apiError
	_ = json.Unmarshal(payload, &envelope)
	detail := envelope.detail()

	switch detail.Type {
	case "UNKNOWN_FIELD_NAME", "INVALID_FILTER_BY_FORMULA":
		if m := unknownFieldPattern.FindStringSubmatch(detail.Message); m != nil {
			return &UnknownFieldError{Field: m[1]}
		}
	case "VIEW_NAME_NOT_FOUND", "UNKNOWN_VIEW_NAME":
		return fmt.Errorf("%w: %s", ErrViewNotFound, detail.Message)
	case "TABLE_NOT_FOUND":
		return fmt.Errorf("%w: %s", ErrTableNotFound, detail.Message)
	case "MODEL_ID_NOT_FOUND", "NOT_FOUND":
		return fmt.Errorf("%w: %s", ErrRecordNotFound, detail.Message)
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: HTTP 404", ErrRecordNotFound)
	}

	msg := detail.Message
	if msg == "" {
		msg = strings.TrimSpace(string(payload))
	}
	return fmt.Errorf("datastore gateway HTTP %d: %s", status, msg)
}

// HTTPStore is the production Store adapter: one tenant base behind the
// records gateway.
type HTTPStore struct {
	gw     *gateway
	handle string

	mu     sync.Mutex
	schema map[string]map[string]bool
}

// NewHTTPStore creates a store for one datastore handle.
func NewHTTPStore(cfg GatewayConfig, handle string) *HTTPStore {
	return &HTTPStore{gw: newGateway(cfg), handle: handle}
}

func (s *HTTPStore) tableURL(table string) string {
	return s.gw.baseURL + "/" + url.PathEscape(s.handle) + "/" + url.PathEscape(table)
}

func (s *HTTPStore) Select(ctx context.Context, table string, opts SelectOptions) ([]Record, error) {
	params := url.Values{}
	if opts.View != "" {
		params.Set("view", opts.View)
	}
	if len(opts.Formula.All) > 0 {
		params.Set("filterByFormula", compileFormula(opts.Formula))
	}
	if opts.MaxRecords > 0 {
		params.Set("maxRecords", strconv.Itoa(opts.MaxRecords))
	}
	for _, f := range opts.Fields {
		params.Add("fields[]", f)
	}

	var out []Record
	offset := ""
	for {
		page := params
		if offset != "" {
			page = url.Values{}
			for k, v := range params {
				page[k] = v
			}
			page.Set("offset", offset)
		}

		var resp listResponse
		if err := s.gw.do(ctx, http.MethodGet, s.tableURL(table)+"?"+page.Encode(), nil, &resp); err != nil {
			return nil, fmt.Errorf("select %s: %w", table, err)
		}
		for _, rec := range resp.Records {
			out = append(out, Record{ID: rec.ID, Fields: rec.Fields})
		}
		if resp.Offset == "" {
			return out, nil
		}
		if opts.MaxRecords > 0 && len(out) >= opts.MaxRecords {
			return out[:opts.MaxRecords], nil
		}
		offset = resp.Offset
	}
}

func (s *HTTPStore) Find(ctx context.Context, table, id string) (Record, error) {
	var rec httpRecord
	if err := s.gw.do(ctx, http.MethodGet, s.tableURL(table)+"/"+url.PathEscape(id), nil, &rec); err != nil {
		return Record{}, fmt.Errorf("find %s/%s: %w", table, id, err)
	}
	return Record{ID: rec.ID, Fields: rec.Fields}, nil
}

func (s *HTTPStore) Update(ctx context.Context, table, id string, fields map[string]any) (Record, error) {
	body := map[string]any{"fields": fields, "typecast": true}
	var rec httpRecord
	err := s.gw.do(ctx, http.MethodPatch, s.tableURL(table)+"/"+url.PathEscape(id), body, &rec)
	if err != nil {
		// Unknown-field rejections pass through bare for the tolerant retry.
		if _, ok := AsUnknownField(err); ok {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("update %s/%s: %w", table, id, err)
	}
	return Record{ID: rec.ID, Fields: rec.Fields}, nil
}

// HasField answers from the base's table metadata, fetched once and cached
// for the lifetime of the store.
func (s *HTTPStore) HasField(ctx context.Context, table, field string) (bool, error) {
	s.mu.Lock()
	schema := s.schema
	s.mu.Unlock()

	if schema == nil {
		fetched, err := s.fetchSchema(ctx)
		if err != nil {
			return false, err
		}
		s.mu.Lock()
		s.schema = fetched
		schema = fetched
		s.mu.Unlock()
	}

	fields, ok := schema[table]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return fields[field], nil
}

type metaTable struct {
	Name   string `json:"name"`
	Fields []struct {
		Name string `json:"name"`
	} `json:"fields"`
}

func (s *HTTPStore) fetchSchema(ctx context.Context) (map[string]map[string]bool, error) {
	metaURL := s.gw.baseURL + "/meta/bases/" + url.PathEscape(s.handle) + "/tables"
	var resp struct {
		Tables []metaTable `json:"tables"`
	}
	if err := s.gw.do(ctx, http.MethodGet, metaURL, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch base schema: %w", err)
	}

	schema := make(map[string]map[string]bool, len(resp.Tables))
	for _, t := range resp.Tables {
		fields := make(map[string]bool, len(t.Fields))
		for _, f := range t.Fields {
			fields[f.Name] = true
		}
		schema[t.Name] = fields
	}
	return schema, nil
}

// compileFormula renders a Formula in the gateway's filter dialect.
func compileFormula(f Formula) string {
	if len(f.All) == 0 {
		return "TRUE()"
	}
	parts := make([]string, len(f.All))
	for i, c := range f.All {
		parts[i] = compileCondition(c)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "AND(" + strings.Join(parts, ",") + ")"
}

func compileCondition(c Condition) string {
	ref := "{" + c.Field + "}"
	switch c.Op {
	case OpNotEmpty:
		return ref + "!=''"
	case OpEmpty:
		return ref + "=''"
	case OpIn:
		alts := make([]string, len(c.Values))
		for i, v := range c.Values {
			alts[i] = ref + "=" + formulaLiteral(v)
		}
		if len(alts) == 1 {
			return alts[0]
		}
		return "OR(" + strings.Join(alts, ",") + ")"
	default:
		return "TRUE()"
	}
}

func formulaLiteral(v any) string {
	switch t := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(t, "'", "\\'") + "'"
	case bool:
		if t {
			return "TRUE()"
		}
		return "FALSE()"
	case nil:
		return "''"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// HTTPOpener resolves datastore handles through the registry and opens
// HTTPStores against them. Handles are cached per client for the process
// lifetime.
type HTTPOpener struct {
	cfg      GatewayConfig
	registry Registry

	mu      sync.Mutex
	handles map[string]string
}

// NewHTTPOpener creates an opener backed by the given registry.
func NewHTTPOpener(cfg GatewayConfig, registry Registry) *HTTPOpener {
	return &HTTPOpener{cfg: cfg, registry: registry, handles: map[string]string{}}
}

func (o *HTTPOpener) Open(ctx context.Context, clientID string) (Store, error) {
	o.mu.Lock()
	handle, ok := o.handles[clientID]
	o.mu.Unlock()

	if !ok {
		clients, err := o.registry.ListActiveClients(ctx, clientID)
		if err != nil {
			return nil, fmt.Errorf("resolve datastore handle for %q: %w", clientID, err)
		}
		for _, c := range clients {
			if c.ClientID == clientID {
				handle = c.DatastoreHandle
				break
			}
		}
		if handle == "" {
			return nil, fmt.Errorf("no datastore handle for client %q", clientID)
		}
		o.mu.Lock()
		o.handles[clientID] = handle
		o.mu.Unlock()
	}

	return NewHTTPStore(o.cfg, handle), nil
}
