package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deepnoodle-ai/autopost/fault"
	"github.com/stretchr/testify/require"
)

func TestHTTPSearcherParsesRankedResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "robotics breakthroughs", r.URL.Query().Get("q"))
		require.Equal(t, "5", r.URL.Query().Get("count"))
		require.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results": [
			{"title": "First", "url": "https://a.example", "snippet": "summary a", "score": 0.9},
			{"title": "Second", "url": "https://b.example", "snippet": "summary b", "score": 0.4}
		]}`))
	}))
	defer server.Close()

	searcher, err := NewHTTPSearcher(HTTPSearcherOptions{
		Endpoint:   server.URL,
		APIKey:     "secret",
		Query:      "robotics breakthroughs",
		MaxResults: 5,
	})
	require.NoError(t, err)

	docs, err := searcher.Search(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "First", docs[0].Title)
	require.Equal(t, "summary a", docs[0].Summary)
	require.Equal(t, 0.9, docs[0].Score)
}

func TestHTTPSearcherZeroResultsIsValid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": []}`))
	}))
	defer server.Close()

	searcher, err := NewHTTPSearcher(HTTPSearcherOptions{Endpoint: server.URL, Query: "q"})
	require.NoError(t, err)

	docs, err := searcher.Search(context.Background())
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestHTTPSearcherErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantKind   string
	}{
		{"rate limited", http.StatusTooManyRequests, fault.KindUpstreamUnavailable},
		{"server error", http.StatusInternalServerError, fault.KindUpstreamUnavailable},
		{"bad request", http.StatusBadRequest, fault.KindUpstreamRejected},
		{"unauthorized key", http.StatusForbidden, fault.KindUpstreamRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			searcher, err := NewHTTPSearcher(HTTPSearcherOptions{Endpoint: server.URL, Query: "q"})
			require.NoError(t, err)

			_, err = searcher.Search(context.Background())
			require.Error(t, err)
			require.Equal(t, tt.wantKind, fault.KindOf(err))
		})
	}
}

func TestHTTPSearcherMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	searcher, err := NewHTTPSearcher(HTTPSearcherOptions{Endpoint: server.URL, Query: "q"})
	require.NoError(t, err)

	_, err = searcher.Search(context.Background())
	require.Error(t, err)
	require.Equal(t, fault.KindUpstreamRejected, fault.KindOf(err))
}

func TestHTTPSearcherAppliesFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": [
			{"title": "High", "url": "https://a.example", "snippet": "a", "score": 0.9},
			{"title": "Low", "url": "https://b.example", "snippet": "b", "score": 0.2}
		]}`))
	}))
	defer server.Close()

	filter, err := NewFilter("score >= 0.5")
	require.NoError(t, err)

	searcher, err := NewHTTPSearcher(HTTPSearcherOptions{
		Endpoint: server.URL,
		Query:    "q",
		Filter:   filter,
	})
	require.NoError(t, err)

	docs, err := searcher.Search(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "High", docs[0].Title)
}
