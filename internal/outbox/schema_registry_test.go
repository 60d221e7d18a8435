package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureSchemaReturnsExistingVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/subjects/place_visit_events-PlaceVisitRecorded/versions/latest", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":5,"version":1}`))
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL+"/", nil).EnsureSchema(context.Background(), "place_visit_events-PlaceVisitRecorded", placeVisitRecordedSchema)
	require.NoError(t, err)
	require.Equal(t, 5, id)
}

func TestEnsureSchemaRegistersMissingSubject(t *testing.T) {
	var registered string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			http.NotFound(w, r)
		case http.MethodPost:
			var body struct {
				SchemaType string `json:"schemaType"`
				Schema     string `json:"schema"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "JSON", body.SchemaType)
			registered = body.Schema
			_, _ = w.Write([]byte(`{"id":9}`))
		}
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL, nil).EnsureSchema(context.Background(), "subject", placeVisitsClearedSchema)
	require.NoError(t, err)
	require.Equal(t, 9, id)
	require.Equal(t, placeVisitsClearedSchema, registered)
}

func TestEnsureSchemaDoesNotRegisterOnServerError(t *testing.T) {
	posts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL, nil).EnsureSchema(context.Background(), "subject", placeVisitsClearedSchema)
	require.Error(t, err)
	require.Zero(t, posts)
}
