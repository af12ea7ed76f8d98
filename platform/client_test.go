package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deepnoodle-ai/autopost/blob"
	"github.com/deepnoodle-ai/autopost/fault"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL, uploadURL string) *Client {
	store := blob.NewMemoryStore()
	creds := seedCredentials(t, store, "access-1", "refresh-1")
	client, err := NewClient(ClientOptions{
		BaseURL:     baseURL,
		UploadURL:   uploadURL,
		TokenURL:    "http://127.0.0.1:0/token",
		ClientID:    "client-1",
		Credentials: creds,
	})
	require.NoError(t, err)
	return client
}

func TestCreatePost(t *testing.T) {
	var received postRequest
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2/posts", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte(`{"data": {"id": "post-42"}}`))
	}))
	defer api.Close()

	client := newTestClient(t, api.URL, api.URL+"/media")
	id, err := client.CreatePost(context.Background(), "headline text", []string{"media-1", "media-2"})
	require.NoError(t, err)
	require.Equal(t, "post-42", id)
	require.Equal(t, "headline text", received.Text)
	require.NotNil(t, received.Media)
	require.Equal(t, []string{"media-1", "media-2"}, received.Media.MediaIDs)
}

func TestCreatePostWithoutMedia(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotContains(t, req, "media")
		w.Write([]byte(`{"data": {"id": "post-7"}}`))
	}))
	defer api.Close()

	client := newTestClient(t, api.URL, api.URL+"/media")
	id, err := client.CreatePost(context.Background(), "text only", nil)
	require.NoError(t, err)
	require.Equal(t, "post-7", id)
}

func TestCreatePostClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   string
	}{
		{
			name:   "forbidden is a rejection",
			status: http.StatusForbidden,
			body:   `{"detail": "duplicate content"}`,
			kind:   fault.KindUpstreamRejected,
		},
		{
			name:   "rate limit is recoverable",
			status: http.StatusTooManyRequests,
			body:   `{"detail": "rate limit exceeded"}`,
			kind:   fault.KindUpstreamUnavailable,
		},
		{
			name:   "server error is recoverable",
			status: http.StatusBadGateway,
			body:   "upstream hiccup",
			kind:   fault.KindUpstreamUnavailable,
		},
		{
			name:   "missing post id is a rejection",
			status: http.StatusOK,
			body:   `{"data": {}}`,
			kind:   fault.KindUpstreamRejected,
		},
		{
			name:   "malformed body is a rejection",
			status: http.StatusOK,
			body:   "<html>not json</html>",
			kind:   fault.KindUpstreamRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer api.Close()

			client := newTestClient(t, api.URL, api.URL+"/media")
			_, err := client.CreatePost(context.Background(), "text", nil)
			require.Error(t, err)
			require.Equal(t, tt.kind, fault.KindOf(err))
		})
	}
}

func TestNewClientValidation(t *testing.T) {
	store := blob.NewMemoryStore()
	creds := seedCredentials(t, store, "a", "r")

	_, err := NewClient(ClientOptions{
		UploadURL:   "http://example.com/media",
		TokenURL:    "http://example.com/token",
		ClientID:    "client-1",
		Credentials: creds,
	})
	require.Error(t, err)

	_, err = NewClient(ClientOptions{
		BaseURL:     "http://example.com",
		TokenURL:    "http://example.com/token",
		ClientID:    "client-1",
		Credentials: creds,
	})
	require.Error(t, err)
}
