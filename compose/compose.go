// Package compose turns researched source material into post copy plus the
// media prompts used to illustrate it.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/deepnoodle-ai/autopost/fault"
	"github.com/deepnoodle-ai/autopost/news"
)

// DefaultComposeModel is used when no model is configured.
const DefaultComposeModel = "gemini-2.0-flash"

// PostContent is a composed publication: the post copy and the prompts that
// drive media generation. Every field is required.
type PostContent struct {
	Topic       string `json:"topic"`
	PostText    string `json:"post_text"`
	ImagePrompt string `json:"image_prompt"`
	VideoPrompt string `json:"video_prompt"`
}

// Composer produces post content from researched documents.
type Composer interface {
	Compose(ctx context.Context, docs []news.Document) (*PostContent, error)
}

// GeminiComposerOptions configures a Gemini-backed composer.
type GeminiComposerOptions struct {
	APIKey string
	Model  string

	// Instructions is prepended to every compose prompt. When empty a
	// built-in instruction block is used.
	Instructions string
}

// GeminiComposer asks Gemini for a structured JSON document describing the
// post.
type GeminiComposer struct {
	client       *genai.Client
	model        string
	instructions string
}

const defaultInstructions = `You are a social media editor. Given a set of news items,
pick the single most interesting topic and write a post about it.
Respond with a JSON object containing exactly these fields:
  "topic": a short label for the chosen topic
  "post_text": the post copy, at most 280 characters, no hashtag spam
  "image_prompt": a prompt for an illustrative image
  "video_prompt": a prompt for a short illustrative video clip`

// NewGeminiComposer creates a composer backed by the Gemini API.
func NewGeminiComposer(ctx context.Context, opts GeminiComposerOptions) (*GeminiComposer, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultComposeModel
	}
	if opts.Instructions == "" {
		opts.Instructions = defaultInstructions
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiComposer{
		client:       client,
		model:        opts.Model,
		instructions: opts.Instructions,
	}, nil
}

// Compose requests structured post content for the given documents.
func (c *GeminiComposer) Compose(ctx context.Context, docs []news.Document) (*PostContent, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("compose requires at least one source document")
	}

	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(0.4)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(buildPrompt(c.instructions, docs)))
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, err)
	}
	text, err := extractText(resp)
	if err != nil {
		return nil, err
	}
	return parseContent(text)
}

// Close releases the underlying API client.
func (c *GeminiComposer) Close() error {
	return c.client.Close()
}

// buildPrompt renders the instruction block plus a numbered digest of the
// source documents.
func buildPrompt(instructions string, docs []news.Document) string {
	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n\nSource items:\n")
	for i, doc := range docs {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, doc.Title, doc.URL, doc.Summary)
	}
	return sb.String()
}

// extractText joins the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fault.New(fault.KindUpstreamRejected, "compose response has no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fault.New(fault.KindUpstreamRejected, "compose response has no content")
	}
	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fault.New(fault.KindUpstreamRejected, "compose response has no text parts")
	}
	return strings.Join(parts, ""), nil
}

// cleanJSONBlock strips markdown code fences that some models wrap around
// JSON output even in JSON response mode.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// parseContent decodes and validates the model's JSON document. A response
// that does not carry all four fields is a rejection, not something worth
// retrying elsewhere.
func parseContent(text string) (*PostContent, error) {
	var content PostContent
	decoder := json.NewDecoder(strings.NewReader(cleanJSONBlock(text)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&content); err != nil {
		return nil, fault.New(fault.KindUpstreamRejected, "compose response is not the expected JSON shape: %v", err)
	}

	missing := []string{}
	if content.Topic == "" {
		missing = append(missing, "topic")
	}
	if content.PostText == "" {
		missing = append(missing, "post_text")
	}
	if content.ImagePrompt == "" {
		missing = append(missing, "image_prompt")
	}
	if content.VideoPrompt == "" {
		missing = append(missing, "video_prompt")
	}
	if len(missing) > 0 {
		return nil, fault.New(fault.KindUpstreamRejected,
			"compose response is missing fields: %s", strings.Join(missing, ", "))
	}
	return &content, nil
}
