// Package rerank calls the external cross-encoder scoring service.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/domain"
	"github.com/coverquery/coverquery/internal/metrics"
)

// Request is the scoring payload: one query against candidate documents.
type Request struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

// Response carries candidate indices sorted by descending relevance with
// their scores. indices[i] points into the request's Documents.
type Response struct {
	Indices []int     `json:"indices"`
	Scores  []float64 `json:"scores"`
}

// Client posts rerank requests to the scoring service.
type Client struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

// New creates a rerank client.
func New(url string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Rerank scores documents against the query. Any transport or decoding
// failure is wrapped with domain.ErrRerankUnavailable so the pipeline can
// degrade instead of failing the request.
func (c *Client) Rerank(ctx context.Context, query string, documents []string) (*Response, error) {
	body, err := json.Marshal(Request{Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RerankRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("rerank call: %v: %w", err, domain.ErrRerankUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RerankRequestsTotal.WithLabelValues("error").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank status %d: %s: %w",
			resp.StatusCode, string(snippet), domain.ErrRerankUnavailable)
	}

	var result Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		metrics.RerankRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("decode rerank response: %v: %w", err, domain.ErrRerankUnavailable)
	}
	if len(result.Indices) != len(result.Scores) {
		metrics.RerankRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("rerank returned %d indices with %d scores: %w",
			len(result.Indices), len(result.Scores), domain.ErrRerankUnavailable)
	}

	metrics.RerankRequestsTotal.WithLabelValues("ok").Inc()
	return &result, nil
}
