package threads

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/apperrors"
	"github.com/dataquill-ai/dataquill-engine/pkg/config"
)

func newThreadsClient(endpoint string) *Client {
	return NewClient(&config.ThreadsConfig{
		Endpoint:   endpoint,
		APIKey:     "tkn",
		TimeoutSec: 5,
	}, zap.NewNop())
}

func TestClientDisabled(t *testing.T) {
	c := NewClient(&config.ThreadsConfig{}, zap.NewNop())
	assert.False(t, c.Enabled())

	_, err := c.List(context.Background())
	require.Error(t, err)
}

func TestClientListAndGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/threads":
			_ = json.NewEncoder(w).Encode([]Thread{{ID: "a", Title: "First"}, {ID: "b", Title: "Second"}})
		case "/threads/a":
			_ = json.NewEncoder(w).Encode(Thread{ID: "a", Title: "First"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newThreadsClient(srv.URL)
	assert.True(t, c.Enabled())

	threads, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, threads, 2)

	thread, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "First", thread.Title)

	_, err = c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestClientCreateAndAppend(t *testing.T) {
	var gotCreate, gotMessage map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/threads":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotCreate))
			_ = json.NewEncoder(w).Encode(Thread{ID: "t-123", Title: gotCreate["title"]})
		case r.Method == http.MethodPost && r.URL.Path == "/threads/t-123/messages":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotMessage))
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newThreadsClient(srv.URL)

	thread, err := c.Create(context.Background(), "Stock questions")
	require.NoError(t, err)
	assert.Equal(t, "t-123", thread.ID)
	assert.Equal(t, "Stock questions", gotCreate["title"])

	require.NoError(t, c.AppendMessage(context.Background(), "t-123", "user", "top stock items"))
	assert.Equal(t, "user", gotMessage["role"])
	assert.Equal(t, "top stock items", gotMessage["content"])
}

func TestClientUpdateAndDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch && r.URL.Path == "/threads/a":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(Thread{ID: "a", Title: body["title"]})
		case r.Method == http.MethodDelete && r.URL.Path == "/threads/a":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newThreadsClient(srv.URL)

	thread, err := c.Update(context.Background(), "a", "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", thread.Title)

	require.NoError(t, c.Delete(context.Background(), "a"))
	assert.ErrorIs(t, c.Delete(context.Background(), "b"), apperrors.ErrNotFound)
}

func TestClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newThreadsClient(srv.URL)
	_, err := c.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
