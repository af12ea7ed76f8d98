package generate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/deepnoodle-ai/autopost/fault"
)

// DefaultGeminiImageModel is the image generation model used when none is
// configured.
const DefaultGeminiImageModel = "gemini-2.0-flash-exp-image-generation"

// GeminiGeneratorOptions configures a Gemini-backed generator.
type GeminiGeneratorOptions struct {
	// Name labels this provider in logs and chain results. Defaults to
	// the model name.
	Name string

	// Model is the Gemini model identifier.
	Model string

	// APIKey authenticates against the Gemini API.
	APIKey string
}

// GeminiGenerator produces images through the Gemini API.
type GeminiGenerator struct {
	name   string
	model  string
	client *genai.Client
}

// NewGeminiGenerator creates a Gemini image provider.
func NewGeminiGenerator(ctx context.Context, opts GeminiGeneratorOptions) (*GeminiGenerator, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultGeminiImageModel
	}
	if opts.Name == "" {
		opts.Name = opts.Model
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiGenerator{name: opts.Name, model: opts.Model, client: client}, nil
}

// Name returns the provider label.
func (g *GeminiGenerator) Name() string {
	return g.name
}

// Generate requests an image for the prompt and returns the first inline
// binary part of the response.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Asset, error) {
	model := g.client.GenerativeModel(g.model)

	parts := []genai.Part{genai.Text(req.Prompt)}
	if len(req.SourceImage) > 0 {
		parts = append(parts, genai.ImageData("png", req.SourceImage))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	return extractImage(resp)
}

// Close releases the underlying API client.
func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

// extractImage pulls the first binary blob out of a generation response.
func extractImage(resp *genai.GenerateContentResponse) (*Asset, error) {
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if blob, ok := part.(genai.Blob); ok {
				return &Asset{Data: blob.Data, MIMEType: blob.MIMEType}, nil
			}
		}
	}
	return nil, fault.New(fault.KindUpstreamRejected, "gemini response carries no image data")
}

// classifyGeminiError maps API failures to the error taxonomy. Quota
// exhaustion and server-side trouble are recoverable; everything else means
// the request itself was rejected.
func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return fault.Wrap(fault.KindUpstreamUnavailable, err)
		}
		return fault.Wrap(fault.KindUpstreamRejected, err)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"quota", "rate limit", "resource exhausted", "unavailable", "overloaded"} {
		if strings.Contains(msg, marker) {
			return fault.Wrap(fault.KindUpstreamUnavailable, err)
		}
	}
	return err
}
