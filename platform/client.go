package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/deepnoodle-ai/autopost/fault"
)

// ClientOptions configures a platform Client.
type ClientOptions struct {
	// BaseURL is the platform API root, e.g. "https://api.example.com".
	BaseURL string

	// UploadURL is the chunked media upload endpoint.
	UploadURL string

	// TokenURL is the OAuth token endpoint used for refresh exchanges.
	TokenURL string

	// ClientID identifies the application to the token endpoint.
	ClientID string

	Credentials *CredentialStore
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Upload      UploadOptions
}

// Client is the publish collaborator: authenticated media upload plus post
// creation. Every call goes through the credential session.
type Client struct {
	session  *Session
	uploader *Uploader
	baseURL  string
	logger   *slog.Logger
}

// NewClient creates a platform client with its own credential session.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("platform base URL is required")
	}
	if opts.UploadURL == "" {
		return nil, fmt.Errorf("platform upload URL is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	session, err := NewSession(SessionOptions{
		Credentials: opts.Credentials,
		TokenURL:    opts.TokenURL,
		ClientID:    opts.ClientID,
		HTTPClient:  opts.HTTPClient,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	uploader, err := NewUploader(session, opts.UploadURL, opts.Upload, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		session:  session,
		uploader: uploader,
		baseURL:  opts.BaseURL,
		logger:   opts.Logger,
	}, nil
}

// UploadMedia delivers a binary payload through the chunked upload protocol
// and returns the resulting media identifier.
func (c *Client) UploadMedia(ctx context.Context, data []byte, mediaType, category string) (string, error) {
	return c.uploader.Upload(ctx, data, mediaType, category)
}

// CreatePost publishes a post with optional attached media and returns the
// platform's post identifier.
func (c *Client) CreatePost(ctx context.Context, text string, mediaIDs []string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("post text is required")
	}

	payload := postRequest{Text: text}
	if len(mediaIDs) > 0 {
		payload.Media = &postMedia{MediaIDs: mediaIDs}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal post request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/posts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.session.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return "", err
	}

	var parsed postResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fault.New(fault.KindUpstreamRejected, "post response is malformed JSON: %v", err)
	}
	if parsed.Data.ID == "" {
		return "", fault.New(fault.KindUpstreamRejected, "post response carries no post identifier")
	}
	c.logger.Info("created post", "post_id", parsed.Data.ID, "media_count", len(mediaIDs))
	return parsed.Data.ID, nil
}
