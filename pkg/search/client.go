package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/llm"
	"github.com/dataquill-ai/dataquill-engine/pkg/models"
)

// Client talks to the vector search endpoint. Questions are embedded with
// the LLM client's embedding model and matched against the index.
type Client struct {
	httpClient    *http.Client
	endpoint      string
	apiKey        string
	templateIndex string
	tableIndex    string
	embedder      llm.Client
	logger        *zap.Logger
}

// ClientConfig holds search endpoint settings.
type ClientConfig struct {
	Endpoint      string
	APIKey        string
	TemplateIndex string
	TableIndex    string
	Timeout       time.Duration
}

// NewClient creates a search client.
func NewClient(cfg *ClientConfig, embedder llm.Client, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("search endpoint is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	templateIndex := cfg.TemplateIndex
	if templateIndex == "" {
		templateIndex = "query-templates"
	}
	tableIndex := cfg.TableIndex
	if tableIndex == "" {
		tableIndex = "table-metadata"
	}

	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		endpoint:      strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:        cfg.APIKey,
		templateIndex: templateIndex,
		tableIndex:    tableIndex,
		embedder:      embedder,
		logger:        logger.Named("search"),
	}, nil
}

type searchRequest struct {
	Vector []float32 `json:"vector"`
	Text   string    `json:"text"`
	Top    int       `json:"top"`
}

type searchResponse struct {
	Value []searchHit `json:"value"`
}

type searchHit struct {
	Score    float64         `json:"score"`
	Document json.RawMessage `json:"document"`
}

// SearchTemplates implements Searcher.
func (c *Client) SearchTemplates(ctx context.Context, question string) ([]TemplateMatch, error) {
	hits, err := c.search(ctx, c.templateIndex, question, 5)
	if err != nil {
		return nil, err
	}

	matches := make([]TemplateMatch, 0, len(hits))
	for _, hit := range hits {
		var tmpl models.QueryTemplate
		if err := json.Unmarshal(hit.Document, &tmpl); err != nil {
			c.logger.Warn("skipping unreadable template document", zap.Error(err))
			continue
		}
		matches = append(matches, TemplateMatch{Template: tmpl, Score: hit.Score})
	}
	return matches, nil
}

// SearchTables implements Searcher.
func (c *Client) SearchTables(ctx context.Context, question string) ([]models.TableMetadata, error) {
	hits, err := c.search(ctx, c.tableIndex, question, 8)
	if err != nil {
		return nil, err
	}

	tables := make([]models.TableMetadata, 0, len(hits))
	for _, hit := range hits {
		var tm models.TableMetadata
		if err := json.Unmarshal(hit.Document, &tm); err != nil {
			c.logger.Warn("skipping unreadable table document", zap.Error(err))
			continue
		}
		tables = append(tables, tm)
	}
	return tables, nil
}

func (c *Client) search(ctx context.Context, index, question string, top int) ([]searchHit, error) {
	vector, err := c.embedder.CreateEmbedding(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	body, err := json.Marshal(searchRequest{Vector: vector, Text: question, Top: top})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	url := fmt.Sprintf("%s/indexes/%s/docs/search", c.endpoint, index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	c.logger.Debug("search completed",
		zap.String("index", index),
		zap.Int("hits", len(parsed.Value)),
		zap.Duration("elapsed", time.Since(start)))

	return parsed.Value, nil
}

var _ Searcher = (*Client)(nil)
