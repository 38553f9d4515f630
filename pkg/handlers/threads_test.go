package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/auth"
	"github.com/dataquill-ai/dataquill-engine/pkg/config"
	"github.com/dataquill-ai/dataquill-engine/pkg/threads"
)

func newThreadsMux(t *testing.T, endpoint string) *http.ServeMux {
	t.Helper()
	client := threads.NewClient(&config.ThreadsConfig{Endpoint: endpoint}, zap.NewNop())

	validator, err := auth.NewValidator(&config.AuthConfig{})
	require.NoError(t, err)
	middleware := auth.NewMiddleware(validator, false, zap.NewNop())

	mux := http.NewServeMux()
	NewThreadsHandler(client, zap.NewNop()).RegisterRoutes(mux, middleware)
	return mux
}

func TestThreadsNotConfigured(t *testing.T) {
	mux := newThreadsMux(t, "")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads", nil))

	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "threads_unavailable", body["error"])
}

func TestThreadsProxy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/threads":
			_ = json.NewEncoder(w).Encode([]threads.Thread{{ID: "a", Title: "First"}})
		case r.Method == http.MethodGet && r.URL.Path == "/threads/a/messages":
			_ = json.NewEncoder(w).Encode([]threads.Message{{ID: "m1", Role: "user", Content: "hi"}})
		case r.Method == http.MethodDelete && r.URL.Path == "/threads/a":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer backend.Close()

	mux := newThreadsMux(t, backend.URL)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []threads.Thread
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "First", list[0].Title)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads/a/messages", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/threads/a", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Backend 404 maps to a not_found error body.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["error"])
}

func TestThreadsBackendFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	mux := newThreadsMux(t, backend.URL)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
