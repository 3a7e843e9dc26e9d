package tenant

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Registry base tables and field contracts. Like the lead field names these
// are verbatim string contracts with the registry base.
const (
	RegistryTableClients    = "Clients"
	RegistryTableExecutions = "Execution Log"

	RegistryFieldClientID   = "Client ID"
	RegistryFieldClientName = "Client Name"
	RegistryFieldHandle     = "Datastore Handle"
	RegistryFieldService    = "Service Level"
	RegistryFieldActive     = "Active"
)

// HTTPRegistry is the production Registry adapter: the Clients table in the
// registry base behind the records gateway.
type HTTPRegistry struct {
	gw     *gateway
	handle string
}

// NewHTTPRegistry creates a registry adapter for cfg.RegistryHandle.
func NewHTTPRegistry(cfg GatewayConfig) (*HTTPRegistry, error) {
	if cfg.RegistryHandle == "" {
		return nil, fmt.Errorf("registry handle is required")
	}
	return &HTTPRegistry{gw: newGateway(cfg), handle: cfg.RegistryHandle}, nil
}

func (r *HTTPRegistry) tableURL(table string) string {
	return r.gw.baseURL + "/" + url.PathEscape(r.handle) + "/" + url.PathEscape(table)
}

func (r *HTTPRegistry) ListActiveClients(ctx context.Context, filter string) ([]Client, error) {
	formula := Formula{All: []Condition{
		{Field: RegistryFieldActive, Op: OpIn, Values: []any{true}},
	}}
	if filter != "" {
		formula.All = append(formula.All, Condition{
			Field: RegistryFieldClientID, Op: OpIn, Values: []any{filter},
		})
	}

	params := url.Values{}
	params.Set("filterByFormula", compileFormula(formula))

	var clients []Client
	offset := ""
	for {
		page := url.Values{}
		for k, v := range params {
			page[k] = v
		}
		if offset != "" {
			page.Set("offset", offset)
		}

		var resp listResponse
		if err := r.gw.do(ctx, http.MethodGet, r.tableURL(RegistryTableClients)+"?"+page.Encode(), nil, &resp); err != nil {
			return nil, fmt.Errorf("list active clients: %w", err)
		}
		for _, rec := range resp.Records {
			clients = append(clients, clientFromRecord(rec))
		}
		if resp.Offset == "" {
			return clients, nil
		}
		offset = resp.Offset
	}
}

func clientFromRecord(rec httpRecord) Client {
	wrapped := Record{ID: rec.ID, Fields: rec.Fields}
	active, _ := rec.Fields[RegistryFieldActive].(bool)
	return Client{
		ClientID:        wrapped.Str(RegistryFieldClientID),
		ClientName:      wrapped.Str(RegistryFieldClientName),
		DatastoreHandle: wrapped.Str(RegistryFieldHandle),
		ServiceLevel:    wrapped.Str(RegistryFieldService),
		Active:          active,
	}
}

func (r *HTTPRegistry) LogExecution(ctx context.Context, clientID string, record map[string]any) error {
	fields := make(map[string]any, len(record)+1)
	for k, v := range record {
		fields[k] = v
	}
	fields[RegistryFieldClientID] = clientID

	body := map[string]any{"fields": fields, "typecast": true}
	if err := r.gw.do(ctx, http.MethodPost, r.tableURL(RegistryTableExecutions), body, nil); err != nil {
		return fmt.Errorf("log execution for %s: %w", clientID, err)
	}
	return nil
}

// SetJobStatus updates the per-job sentinel columns on the client's row:
// "Job Status: <jobType>" and "Job Detail: <jobType>".
func (r *HTTPRegistry) SetJobStatus(ctx context.Context, clientID, jobType, state, idOrReason string) error {
	recordID, err := r.clientRecordID(ctx, clientID)
	if err != nil {
		return err
	}

	fields := map[string]any{
		"Job Status: " + jobType: state,
		"Job Detail: " + jobType: idOrReason,
	}
	body := map[string]any{"fields": fields, "typecast": true}
	err = r.gw.do(ctx, http.MethodPatch,
		r.tableURL(RegistryTableClients)+"/"+url.PathEscape(recordID), body, nil)
	if err != nil {
		return fmt.Errorf("set job status for %s: %w", clientID, err)
	}
	return nil
}

func (r *HTTPRegistry) clientRecordID(ctx context.Context, clientID string) (string, error) {
	formula := Formula{All: []Condition{
		{Field: RegistryFieldClientID, Op: OpIn, Values: []any{clientID}},
	}}
	params := url.Values{}
	params.Set("filterByFormula", compileFormula(formula))
	params.Set("maxRecords", strconv.Itoa(1))

	var resp listResponse
	if err := r.gw.do(ctx, http.MethodGet, r.tableURL(RegistryTableClients)+"?"+params.Encode(), nil, &resp); err != nil {
		return "", fmt.Errorf("find client %s: %w", clientID, err)
	}
	if len(resp.Records) == 0 {
		return "", fmt.Errorf("%w: client %s", ErrRecordNotFound, clientID)
	}
	return resp.Records[0].ID, nil
}
