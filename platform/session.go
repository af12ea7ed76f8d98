// Package platform is the social platform client. It covers the three
// concerns every publish goes through: a credential session that rotates the
// OAuth token pair, a chunked media upload protocol with asynchronous
// server-side processing, and post creation.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/deepnoodle-ai/autopost/blob"
	"github.com/deepnoodle-ai/autopost/fault"
)

// DefaultCredentialKey is where the credential pair lives in blob storage.
const DefaultCredentialKey = "credentials/platform.json"

// Credentials is the OAuth token pair used to authenticate platform calls.
// Only the refresh token is persisted; access tokens are cheap to reacquire.
type Credentials struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token"`
}

// CredentialStore persists the refresh token in a blob store.
type CredentialStore struct {
	store blob.Store
	key   string
}

// NewCredentialStore creates a credential store. An empty key uses
// DefaultCredentialKey.
func NewCredentialStore(store blob.Store, key string) *CredentialStore {
	if key == "" {
		key = DefaultCredentialKey
	}
	return &CredentialStore{store: store, key: key}
}

// Load reads the stored credential pair.
func (s *CredentialStore) Load(ctx context.Context) (*Credentials, error) {
	data, err := s.store.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fault.New(fault.KindNotFound, "no platform credentials stored at %s", s.key)
		}
		return nil, fmt.Errorf("failed to load platform credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse platform credentials: %w", err)
	}
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("stored platform credentials have no refresh token")
	}
	return &creds, nil
}

// Save persists the refresh token. The access token is deliberately dropped.
func (s *CredentialStore) Save(ctx context.Context, creds *Credentials) error {
	data, err := json.MarshalIndent(Credentials{RefreshToken: creds.RefreshToken}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal platform credentials: %w", err)
	}
	if err := s.store.Put(ctx, s.key, data, "application/json"); err != nil {
		return fmt.Errorf("failed to persist platform credentials: %w", err)
	}
	return nil
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Credentials *CredentialStore
	TokenURL    string
	ClientID    string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Session wraps outbound platform calls with bearer authentication and a
// single refresh-and-retry cycle on expiry. One Session is owned by one
// pipeline run; the internal mutex serializes refresh exchanges so a
// concurrent unauthorized response reuses an in-flight rotation instead of
// racing on the one-shot refresh token.
type Session struct {
	creds    *CredentialStore
	tokenURL string
	clientID string
	client   *http.Client
	logger   *slog.Logger

	mutex      sync.Mutex
	current    *Credentials
	generation int
}

// NewSession creates a credential session.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if opts.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if opts.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		creds:    opts.Credentials,
		tokenURL: opts.TokenURL,
		clientID: opts.ClientID,
		client:   opts.HTTPClient,
		logger:   opts.Logger,
	}, nil
}

// Do issues req with the current access token attached as a bearer
// credential. On an unauthorized response it performs exactly one
// refresh-and-retry cycle; a second unauthorized response is fatal for the
// call. Requests with a body must be replayable (GetBody set), which
// http.NewRequest arranges for the common reader types.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, generation, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	s.logger.Debug("platform call unauthorized, refreshing credentials",
		"kind", fault.KindCredentialExpired, "url", req.URL.Path)

	token, err = s.refreshAfterUnauthorized(ctx, generation)
	if err != nil {
		return nil, err
	}

	retry, err := replayableClone(req)
	if err != nil {
		return nil, err
	}
	retry.Header.Set("Authorization", "Bearer "+token)
	resp, err = s.client.Do(retry)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, fault.New(fault.KindCredentialRefreshFailed,
			"request to %s unauthorized after credential refresh", req.URL.Path)
	}
	return resp, nil
}

// token returns the current access token and the rotation generation it
// belongs to, loading credentials from durable storage on first use and
// acquiring an access token if none is held.
func (s *Session) token(ctx context.Context) (string, int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.current == nil {
		creds, err := s.creds.Load(ctx)
		if err != nil {
			return "", 0, err
		}
		s.current = creds
	}
	if s.current.AccessToken == "" {
		if err := s.refreshLocked(ctx); err != nil {
			return "", 0, err
		}
	}
	return s.current.AccessToken, s.generation, nil
}

// refreshAfterUnauthorized rotates the credential pair unless another caller
// already rotated past the generation the unauthorized token came from, in
// which case that rotation's outcome is reused.
func (s *Session) refreshAfterUnauthorized(ctx context.Context, generation int) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.generation != generation {
		return s.current.AccessToken, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.current.AccessToken, nil
}

// tokenResponse is the token endpoint's wire shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// refreshLocked exchanges the refresh token for a new pair and persists the
// rotated refresh token. The caller holds the mutex.
func (s *Session) refreshLocked(ctx context.Context) error {
	if s.current == nil || s.current.RefreshToken == "" {
		return fault.New(fault.KindCredentialRefreshFailed, "no refresh token available")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", s.current.RefreshToken)
	form.Set("client_id", s.clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fault.Wrap(fault.KindCredentialRefreshFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindCredentialRefreshFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Wrap(fault.KindCredentialRefreshFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fault.New(fault.KindCredentialRefreshFailed,
			"token endpoint returned %d: %s", resp.StatusCode, truncateBody(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fault.New(fault.KindCredentialRefreshFailed, "token endpoint returned malformed JSON: %v", err)
	}
	if tr.AccessToken == "" {
		return fault.New(fault.KindCredentialRefreshFailed, "token endpoint returned no access token")
	}

	rotated := &Credentials{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken}
	if rotated.RefreshToken == "" {
		// Some platforms omit the refresh token when it is unchanged.
		rotated.RefreshToken = s.current.RefreshToken
	}
	if err := s.creds.Save(ctx, rotated); err != nil {
		return fault.Wrap(fault.KindCredentialRefreshFailed, err)
	}
	s.current = rotated
	s.generation++
	s.logger.Info("rotated platform credentials", "generation", s.generation)
	return nil
}

// replayableClone clones req for the post-refresh retry, rewinding the body.
func replayableClone(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("cannot retry request to %s: body is not replayable", req.URL.Path)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

func truncateBody(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
