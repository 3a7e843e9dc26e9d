package tenant

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory Store used by tests and the dry-run developer
// mode. It mimics the behaviors the batch core depends on: named views,
// formula evaluation, per-table schemas, and unknown-field rejections.
type MemStore struct {
	mu      sync.Mutex
	tables  map[string]*memTable
	updates int
}

type memTable struct {
	schema  map[string]bool
	views   map[string]func(Record) bool
	order   []string
	records map[string]map[string]any
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{tables: map[string]*memTable{}}
}

// CreateTable registers a table with its schema (the set of defined fields).
func (s *MemStore) CreateTable(name string, fields ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &memTable{
		schema:  map[string]bool{},
		views:   map[string]func(Record) bool{},
		records: map[string]map[string]any{},
	}
	for _, f := range fields {
		t.schema[f] = true
	}
	s.tables[name] = t
}

// RegisterView attaches a named view filter to a table.
func (s *MemStore) RegisterView(table, view string, filter func(Record) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[table]; ok {
		t.views[view] = filter
	}
}

// Insert adds a record and returns it. Unknown fields are rejected the way
// a real adapter would reject them.
func (s *MemStore) Insert(table, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	for f := range fields {
		if !t.schema[f] {
			return &UnknownFieldError{Field: f}
		}
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	t.records[id] = cp
	t.order = append(t.order, id)
	return nil
}

// UpdateCount reports how many Update calls the store has served. Tests use
// it to assert the tolerant retry issued exactly one extra write.
func (s *MemStore) UpdateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

func (s *MemStore) Select(_ context.Context, table string, opts SelectOptions) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	var viewFilter func(Record) bool
	if opts.View != "" {
		viewFilter, ok = t.views[opts.View]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrViewNotFound, opts.View)
		}
	}
	for _, f := range opts.Formula.FieldNames() {
		if !t.schema[f] {
			return nil, &UnknownFieldError{Field: f}
		}
	}

	out := make([]Record, 0, len(t.order))
	for _, id := range t.order {
		rec := Record{ID: id, Fields: copyFields(t.records[id])}
		if viewFilter != nil && !viewFilter(rec) {
			continue
		}
		if !opts.Formula.Matches(rec.Fields) {
			continue
		}
		out = append(out, projectFields(rec, opts.Fields))
		if opts.MaxRecords > 0 && len(out) >= opts.MaxRecords {
			break
		}
	}
	return out, nil
}

func (s *MemStore) Find(_ context.Context, table, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	fields, ok := t.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, id)
	}
	return Record{ID: id, Fields: copyFields(fields)}, nil
}

func (s *MemStore) Update(_ context.Context, table, id string, fields map[string]any) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	t, ok := s.tables[table]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	existing, ok := t.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, id)
	}
	// Reject the whole update before applying anything, like a real adapter.
	for f := range fields {
		if !t.schema[f] {
			return Record{}, &UnknownFieldError{Field: f}
		}
	}
	for k, v := range fields {
		existing[k] = v
	}
	return Record{ID: id, Fields: copyFields(existing)}, nil
}

func (s *MemStore) HasField(_ context.Context, table, field string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return t.schema[field], nil
}

// DropField removes a field from a table's schema. Tests use it to simulate
// tenants whose bases lack optional columns.
func (s *MemStore) DropField(table, field string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[table]; ok {
		delete(t.schema, field)
		for _, rec := range t.records {
			delete(rec, field)
		}
	}
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func projectFields(rec Record, fields []string) Record {
	if len(fields) == 0 {
		return rec
	}
	out := Record{ID: rec.ID, Fields: make(map[string]any, len(fields))}
	for _, f := range fields {
		if v, ok := rec.Fields[f]; ok {
			out.Fields[f] = v
		}
	}
	return out
}

// MemOpener resolves every client to a fixed set of MemStores.
type MemOpener struct {
	mu     sync.Mutex
	stores map[string]*MemStore
}

// NewMemOpener creates an opener with no registered clients.
func NewMemOpener() *MemOpener {
	return &MemOpener{stores: map[string]*MemStore{}}
}

// Register associates a client with a store.
func (o *MemOpener) Register(clientID string, store *MemStore) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stores[clientID] = store
}

func (o *MemOpener) Open(_ context.Context, clientID string) (Store, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	store, ok := o.stores[clientID]
	if !ok {
		return nil, fmt.Errorf("no datastore registered for client %q", clientID)
	}
	return store, nil
}

// MemRegistry is an in-memory Registry for tests and the developer mode.
type MemRegistry struct {
	mu         sync.Mutex
	clients    []Client
	executions map[string][]map[string]any
	jobStates  map[string]string
}

// NewMemRegistry creates a registry holding the given clients.
func NewMemRegistry(clients ...Client) *MemRegistry {
	return &MemRegistry{
		clients:    clients,
		executions: map[string][]map[string]any{},
		jobStates:  map[string]string{},
	}
}

func (r *MemRegistry) ListActiveClients(_ context.Context, filter string) ([]Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		if !c.Active {
			continue
		}
		if filter != "" && c.ClientID != filter {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (r *MemRegistry) LogExecution(_ context.Context, clientID string, record map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[clientID] = append(r.executions[clientID], record)
	return nil
}

func (r *MemRegistry) SetJobStatus(_ context.Context, clientID, jobType, state, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobStates[clientID+"/"+jobType] = state
	return nil
}

// JobState returns the last state recorded for a client's job type.
func (r *MemRegistry) JobState(clientID, jobType string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobStates[clientID+"/"+jobType]
}
