// Package news provides the search collaborator used to gather source
// material for a run. The search backend is an HTTP API returning ranked
// documents; an optional Risor expression filters results before they reach
// the pipeline.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/deepnoodle-ai/autopost/fault"
)

// Document is one ranked search result.
type Document struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Summary string  `json:"summary"`
	Score   float64 `json:"score"`
}

// Searcher returns ranked source documents for the configured query.
type Searcher interface {
	Search(ctx context.Context) ([]Document, error)
}

// searchResponse is the wire shape returned by the search API. Normalization
// into []Document happens in one place so the rest of the pipeline never sees
// provider field names.
type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Snippet string  `json:"snippet"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// HTTPSearcherOptions configures an HTTPSearcher.
type HTTPSearcherOptions struct {
	Endpoint   string
	APIKey     string
	Query      string
	MaxResults int
	Filter     *Filter
	HTTPClient *http.Client
}

// HTTPSearcher queries a REST search API.
type HTTPSearcher struct {
	endpoint   string
	apiKey     string
	query      string
	maxResults int
	filter     *Filter
	client     *http.Client
}

// NewHTTPSearcher creates a searcher for the given API endpoint and query.
func NewHTTPSearcher(opts HTTPSearcherOptions) (*HTTPSearcher, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("search endpoint is required")
	}
	if opts.Query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSearcher{
		endpoint:   opts.Endpoint,
		apiKey:     opts.APIKey,
		query:      opts.Query,
		maxResults: opts.MaxResults,
		filter:     opts.Filter,
		client:     opts.HTTPClient,
	}, nil
}

// Search issues the query and returns ranked documents. Zero results is a
// valid outcome; the caller decides what an empty result set means.
func (s *HTTPSearcher) Search(ctx context.Context) ([]Document, error) {
	params := url.Values{}
	params.Set("q", s.query)
	params.Set("count", strconv.Itoa(s.maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fault.New(fault.KindUpstreamUnavailable, "search API returned %d: %s", resp.StatusCode, truncate(body, 200))
	case resp.StatusCode >= 400:
		return nil, fault.New(fault.KindUpstreamRejected, "search API returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fault.New(fault.KindUpstreamRejected, "search API returned malformed JSON: %v", err)
	}

	docs := make([]Document, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		docs = append(docs, Document{
			Title:   r.Title,
			URL:     r.URL,
			Summary: r.Snippet,
			Score:   r.Score,
		})
	}

	if s.filter != nil {
		return s.filter.Apply(ctx, docs)
	}
	return docs, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
