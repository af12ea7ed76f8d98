package generate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deepnoodle-ai/autopost/fault"
)

// HTTPGeneratorOptions configures a REST-backed generator.
type HTTPGeneratorOptions struct {
	// Name labels this provider in logs and chain results.
	Name string

	// Endpoint receives the generation request.
	Endpoint string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// HTTPClient defaults to a client with a generous timeout, since
	// video backends render synchronously.
	HTTPClient *http.Client
}

// HTTPGenerator calls a generic REST generation backend: a JSON request
// carrying the prompt and optional source image, a binary asset in response.
type HTTPGenerator struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
}

// httpGenerateRequest is the request wire shape. The source image travels
// base64-encoded inside the JSON document.
type httpGenerateRequest struct {
	Prompt      string `json:"prompt"`
	SourceImage string `json:"source_image,omitempty"`
}

// NewHTTPGenerator creates a REST generation provider.
func NewHTTPGenerator(opts HTTPGeneratorOptions) (*HTTPGenerator, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("provider endpoint is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &HTTPGenerator{
		name:     opts.Name,
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		client:   opts.HTTPClient,
	}, nil
}

// Name returns the provider label.
func (g *HTTPGenerator) Name() string {
	return g.name
}

// Generate posts the request and returns the response body as the asset,
// typed by the response Content-Type.
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (*Asset, error) {
	payload := httpGenerateRequest{Prompt: req.Prompt}
	if len(req.SourceImage) > 0 {
		payload.SourceImage = base64.StdEncoding.EncodeToString(req.SourceImage)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fault.New(fault.KindUpstreamUnavailable,
			"provider %s returned %d", g.name, resp.StatusCode)
	default:
		return nil, fault.New(fault.KindUpstreamRejected,
			"provider %s returned %d", g.name, resp.StatusCode)
	}
	if len(data) == 0 {
		return nil, fault.New(fault.KindUpstreamRejected, "provider %s returned an empty asset", g.name)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &Asset{Data: data, MIMEType: mimeType}, nil
}
