package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGatewayConfig(srv *httptest.Server) GatewayConfig {
	return GatewayConfig{
		BaseURL:        srv.URL,
		Token:          "key-test",
		RegistryHandle: "appRegistry",
		HTTPClient:     srv.Client(),
	}
}

func TestHTTPStoreSelectPaginates(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "Bearer key-test", r.Header.Get("Authorization"))
		assert.Equal(t, "/appTenant/Leads", r.URL.Path)
		assert.Equal(t, ViewUnscoredLeads, r.URL.Query().Get("view"))

		if r.URL.Query().Get("offset") == "" {
			_ = json.NewEncoder(w).Encode(listResponse{
				Records: []httpRecord{{ID: "rec1", Fields: map[string]any{FieldPostsContent: "[]"}}},
				Offset:  "page2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(listResponse{
			Records: []httpRecord{{ID: "rec2", Fields: map[string]any{FieldPostsContent: "[]"}}},
		})
	}))
	defer srv.Close()

	store := NewHTTPStore(newGatewayConfig(srv), "appTenant")
	records, err := store.Select(context.Background(), TableLeads, SelectOptions{View: ViewUnscoredLeads})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "rec1", records[0].ID)
	assert.Equal(t, "rec2", records[1].ID)
	assert.Equal(t, 2, calls)
}

func TestHTTPStoreSelectCompilesFormula(t *testing.T) {
	var gotFormula string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFormula = r.URL.Query().Get("filterByFormula")
		_ = json.NewEncoder(w).Encode(listResponse{})
	}))
	defer srv.Close()

	store := NewHTTPStore(newGatewayConfig(srv), "appTenant")
	_, err := store.Select(context.Background(), TableLeads, SelectOptions{
		Formula: Formula{All: []Condition{
			{Field: FieldPostsContent, Op: OpNotEmpty},
			{Field: FieldDateScored, Op: OpEmpty},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "AND({Posts Content}!='',{Date Posts Scored}='')", gotFormula)
}

func TestHTTPStoreSelectViewNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"type":"VIEW_NAME_NOT_FOUND","message":"View not found"}}`))
	}))
	defer srv.Close()

	store := NewHTTPStore(newGatewayConfig(srv), "appTenant")
	_, err := store.Select(context.Background(), TableLeads, SelectOptions{View: "No Such View"})
	assert.ErrorIs(t, err, ErrViewNotFound)
}

func TestHTTPStoreUpdateUnknownField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"type":"UNKNOWN_FIELD_NAME","message":"Unknown field name: \"Posts Skip Reason\""}}`))
	}))
	defer srv.Close()

	store := NewHTTPStore(newGatewayConfig(srv), "appTenant")
	_, err := store.Update(context.Background(), TableLeads, "rec1", map[string]any{
		FieldSkipReason: "NO_CONTENT",
	})
	ufe, ok := AsUnknownField(err)
	require.True(t, ok)
	assert.Equal(t, FieldSkipReason, ufe.Field)
}

func TestHTTPStoreUpdateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Fields   map[string]any `json:"fields"`
			Typecast bool           `json:"typecast"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Typecast)
		assert.Equal(t, float64(85), body.Fields[FieldRelevanceScore])
		_ = json.NewEncoder(w).Encode(httpRecord{ID: "rec1", Fields: body.Fields})
	}))
	defer srv.Close()

	store := NewHTTPStore(newGatewayConfig(srv), "appTenant")
	rec, err := store.Update(context.Background(), TableLeads, "rec1", map[string]any{
		FieldRelevanceScore: 85,
	})
	require.NoError(t, err)
	assert.Equal(t, "rec1", rec.ID)
}

func TestHTTPStoreFindMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"NOT_FOUND"}`))
	}))
	defer srv.Close()

	store := NewHTTPStore(newGatewayConfig(srv), "appTenant")
	_, err := store.Find(context.Background(), TableLeads, "recMissing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestHTTPStoreHasFieldFromMetadata(t *testing.T) {
	metaCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/meta/bases/appTenant/tables", r.URL.Path)
		metaCalls++
		_, _ = w.Write([]byte(`{"tables":[
			{"name":"Leads","fields":[{"name":"Posts Content"},{"name":"Posts Skip Reason"}]}
		]}`))
	}))
	defer srv.Close()

	store := NewHTTPStore(newGatewayConfig(srv), "appTenant")
	ctx := context.Background()

	has, err := store.HasField(ctx, TableLeads, FieldSkipReason)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasField(ctx, TableLeads, FieldJSONStatus)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = store.HasField(ctx, "Nope", FieldSkipReason)
	assert.ErrorIs(t, err, ErrTableNotFound)

	// Metadata is fetched once and cached.
	assert.Equal(t, 1, metaCalls)
}

func TestHTTPStoreRetriesRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(listResponse{
			Records: []httpRecord{{ID: "rec1", Fields: map[string]any{}}},
		})
	}))
	defer srv.Close()

	store := NewHTTPStore(newGatewayConfig(srv), "appTenant")
	records, err := store.Select(context.Background(), TableLeads, SelectOptions{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, calls)
}

func TestHTTPRegistryListActiveClients(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/appRegistry/Clients", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("filterByFormula"), "{Active}=TRUE()")
		assert.Contains(t, r.URL.Query().Get("filterByFormula"), "{Client ID}='ACME'")
		_ = json.NewEncoder(w).Encode(listResponse{
			Records: []httpRecord{{
				ID: "recClient",
				Fields: map[string]any{
					RegistryFieldClientID:   "ACME",
					RegistryFieldClientName: "Acme Corp",
					RegistryFieldHandle:     "appTenant",
					RegistryFieldService:    "standard",
					RegistryFieldActive:     true,
				},
			}},
		})
	}))
	defer srv.Close()

	registry, err := NewHTTPRegistry(newGatewayConfig(srv))
	require.NoError(t, err)

	clients, err := registry.ListActiveClients(context.Background(), "ACME")
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, Client{
		ClientID:        "ACME",
		ClientName:      "Acme Corp",
		DatastoreHandle: "appTenant",
		ServiceLevel:    "standard",
		Active:          true,
	}, clients[0])
}

func TestHTTPRegistrySetJobStatus(t *testing.T) {
	var patched map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(listResponse{
				Records: []httpRecord{{ID: "recClient", Fields: map[string]any{RegistryFieldClientID: "ACME"}}},
			})
		case http.MethodPatch:
			require.Equal(t, "/appRegistry/Clients/recClient", r.URL.Path)
			var body struct {
				Fields map[string]any `json:"fields"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			patched = body.Fields
			_ = json.NewEncoder(w).Encode(httpRecord{ID: "recClient"})
		}
	}))
	defer srv.Close()

	registry, err := NewHTTPRegistry(newGatewayConfig(srv))
	require.NoError(t, err)

	err = registry.SetJobStatus(context.Background(), "ACME", JobTypePostScoring, JobStateRunning, "250101-120000-ACME")
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", patched["Job Status: post-scoring"])
	assert.Equal(t, "250101-120000-ACME", patched["Job Detail: post-scoring"])
}

func TestHTTPOpenerResolvesHandleOnce(t *testing.T) {
	registry := NewMemRegistry(Client{
		ClientID: "ACME", DatastoreHandle: "appTenant", Active: true,
	})
	opener := NewHTTPOpener(GatewayConfig{BaseURL: "http://localhost:0", Token: "k"}, registry)

	store, err := opener.Open(context.Background(), "ACME")
	require.NoError(t, err)
	httpStore, ok := store.(*HTTPStore)
	require.True(t, ok)
	assert.Equal(t, "appTenant", httpStore.handle)

	_, err = opener.Open(context.Background(), "UNKNOWN")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRecordNotFound))
}
