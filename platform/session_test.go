package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deepnoodle-ai/autopost/blob"
	"github.com/deepnoodle-ai/autopost/fault"
	"github.com/stretchr/testify/require"
)

// fakeTokenEndpoint counts refresh exchanges and hands out sequentially
// numbered token pairs.
type fakeTokenEndpoint struct {
	server    *httptest.Server
	refreshes atomic.Int64
	fail      atomic.Bool
	delay     time.Duration
}

func newFakeTokenEndpoint(t *testing.T) *fakeTokenEndpoint {
	f := &fakeTokenEndpoint{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.NotEmpty(t, r.Form.Get("refresh_token"))
		require.Equal(t, "client-1", r.Form.Get("client_id"))

		if f.fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "invalid_grant"}`))
			return
		}
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		n := f.refreshes.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  fmt.Sprintf("access-%d", n+1),
			"refresh_token": fmt.Sprintf("refresh-%d", n+1),
			"token_type":    "bearer",
			"expires_in":    7200,
		})
	}))
	t.Cleanup(f.server.Close)
	return f
}

// seedCredentials stores a full token pair directly in the blob store.
func seedCredentials(t *testing.T, store blob.Store, access, refresh string) *CredentialStore {
	data, err := json.Marshal(Credentials{AccessToken: access, RefreshToken: refresh})
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), DefaultCredentialKey, data, "application/json"))
	return NewCredentialStore(store, "")
}

func newTestSession(t *testing.T, creds *CredentialStore, tokenURL string) *Session {
	session, err := NewSession(SessionOptions{
		Credentials: creds,
		TokenURL:    tokenURL,
		ClientID:    "client-1",
	})
	require.NoError(t, err)
	return session
}

func TestSessionAttachesBearerToken(t *testing.T) {
	store := blob.NewMemoryStore()
	creds := seedCredentials(t, store, "access-1", "refresh-1")
	tokens := newFakeTokenEndpoint(t)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	session := newTestSession(t, creds, tokens.server.URL)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, api.URL, nil)
	require.NoError(t, err)

	resp, err := session.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(0), tokens.refreshes.Load())
}

func TestSessionRefreshesExactlyOnceOn401(t *testing.T) {
	store := blob.NewMemoryStore()
	creds := seedCredentials(t, store, "access-1", "refresh-1")
	tokens := newFakeTokenEndpoint(t)

	var apiCalls atomic.Int64
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	session := newTestSession(t, creds, tokens.server.URL)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, api.URL, nil)
	require.NoError(t, err)

	resp, err := session.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(1), tokens.refreshes.Load(), "exactly one refresh exchange")
	require.Equal(t, int64(2), apiCalls.Load(), "one original call plus one retry")

	// The rotated refresh token is persisted; the access token is not.
	stored, err := creds.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "refresh-2", stored.RefreshToken)
	require.Empty(t, stored.AccessToken)
}

func TestSessionSecond401IsFatal(t *testing.T) {
	store := blob.NewMemoryStore()
	creds := seedCredentials(t, store, "access-1", "refresh-1")
	tokens := newFakeTokenEndpoint(t)

	var apiCalls atomic.Int64
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	session := newTestSession(t, creds, tokens.server.URL)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, api.URL, nil)
	require.NoError(t, err)

	_, err = session.Do(req)
	require.Error(t, err)
	require.Equal(t, fault.KindCredentialRefreshFailed, fault.KindOf(err))
	require.Equal(t, int64(1), tokens.refreshes.Load(), "no second refresh")
	require.Equal(t, int64(2), apiCalls.Load(), "no third request attempt")
}

func TestSessionRefreshExchangeFailure(t *testing.T) {
	store := blob.NewMemoryStore()
	creds := seedCredentials(t, store, "access-1", "refresh-1")
	tokens := newFakeTokenEndpoint(t)
	tokens.fail.Store(true)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	session := newTestSession(t, creds, tokens.server.URL)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, api.URL, nil)
	require.NoError(t, err)

	_, err = session.Do(req)
	require.Error(t, err)
	require.Equal(t, fault.KindCredentialRefreshFailed, fault.KindOf(err))
}

func TestSessionAcquiresAccessTokenOnFirstUse(t *testing.T) {
	// Only the refresh token is durable, so a fresh session refreshes
	// proactively instead of burning a request on a guaranteed 401.
	store := blob.NewMemoryStore()
	creds := seedCredentials(t, store, "", "refresh-1")
	tokens := newFakeTokenEndpoint(t)

	var apiCalls atomic.Int64
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		require.Equal(t, "Bearer access-2", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	session := newTestSession(t, creds, tokens.server.URL)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, api.URL, nil)
	require.NoError(t, err)

	resp, err := session.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, int64(1), tokens.refreshes.Load())
	require.Equal(t, int64(1), apiCalls.Load())
}

func TestSessionConcurrent401sShareOneRefresh(t *testing.T) {
	store := blob.NewMemoryStore()
	creds := seedCredentials(t, store, "access-1", "refresh-1")
	tokens := newFakeTokenEndpoint(t)
	tokens.delay = 20 * time.Millisecond

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	session := newTestSession(t, creds, tokens.server.URL)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, api.URL, nil)
			if err != nil {
				errs[i] = err
				return
			}
			resp, err := session.Do(req)
			if err != nil {
				errs[i] = err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errs[i] = fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), tokens.refreshes.Load(),
		"concurrent unauthorized responses must reuse a single refresh exchange")
}

func TestSessionRetryReplaysRequestBody(t *testing.T) {
	store := blob.NewMemoryStore()
	creds := seedCredentials(t, store, "access-1", "refresh-1")
	tokens := newFakeTokenEndpoint(t)

	var bodies []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	session := newTestSession(t, creds, tokens.server.URL)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, api.URL, strings.NewReader("payload-bytes"))
	require.NoError(t, err)

	resp, err := session.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, []string{"payload-bytes", "payload-bytes"}, bodies)
}

func TestCredentialStoreMissing(t *testing.T) {
	creds := NewCredentialStore(blob.NewMemoryStore(), "")
	_, err := creds.Load(context.Background())
	require.Error(t, err)
	require.Equal(t, fault.KindNotFound, fault.KindOf(err))
}
