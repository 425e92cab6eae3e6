package schema

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryClient_Register(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/subjects/users.created-value/versions", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["schema"])

		json.NewEncoder(w).Encode(map[string]int{"id": 7}) //nolint:errcheck
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL)
	id, err := client.Register(context.Background(), "users.created-value", `{"type":"string"}`)
	require.NoError(t, err)
	assert.Equal(t, 7, id)
}

func TestRegistryClient_SchemaByID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/schemas/ids/7", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"schema": `{"type":"string"}`}) //nolint:errcheck
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL)
	schemaJSON, err := client.SchemaByID(context.Background(), 7)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"string"}`, schemaJSON)
}

func TestRegistryClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error_code":40401,"message":"Subject not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL)
	_, err := client.SchemaByID(context.Background(), 99)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
