// Package threads proxies thread and message persistence to the external
// conversational store. The engine never persists threads itself.
package threads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/apperrors"
	"github.com/dataquill-ai/dataquill-engine/pkg/config"
)

// Thread is one conversation in the external store.
type Thread struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Message is one turn in a thread.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Client talks to the thread service. A client with no endpoint configured is
// disabled; callers check Enabled before proxying.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	logger     *zap.Logger
}

// NewClient creates a thread service client.
func NewClient(cfg *config.ThreadsConfig, logger *zap.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		logger:     logger.Named("threads"),
	}
}

// Enabled reports whether a thread service is configured.
func (c *Client) Enabled() bool {
	return c.endpoint != ""
}

// List returns all threads.
func (c *Client) List(ctx context.Context) ([]Thread, error) {
	var out []Thread
	err := c.do(ctx, http.MethodGet, "/threads", nil, &out)
	return out, err
}

// Get returns one thread.
func (c *Client) Get(ctx context.Context, id string) (*Thread, error) {
	var out Thread
	if err := c.do(ctx, http.MethodGet, "/threads/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages returns a thread's message history.
func (c *Client) Messages(ctx context.Context, id string) ([]Message, error) {
	var out []Message
	err := c.do(ctx, http.MethodGet, "/threads/"+url.PathEscape(id)+"/messages", nil, &out)
	return out, err
}

// Update patches a thread's title.
func (c *Client) Update(ctx context.Context, id, title string) (*Thread, error) {
	var out Thread
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPatch, "/threads/"+url.PathEscape(id), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a thread.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/threads/"+url.PathEscape(id), nil, nil)
}

// Create starts a new thread.
func (c *Client) Create(ctx context.Context, title string) (*Thread, error) {
	var out Thread
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPost, "/threads", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AppendMessage records one turn on a thread. Failures are logged by callers;
// message history is best effort and never blocks a response.
func (c *Client) AppendMessage(ctx context.Context, id, role, content string) error {
	body := map[string]string{"role": role, "content": content}
	return c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(id)+"/messages", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.Enabled() {
		return fmt.Errorf("thread service not configured")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.ErrNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: thread service returned status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
