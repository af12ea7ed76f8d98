package compose

import (
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/deepnoodle-ai/autopost/fault"
	"github.com/deepnoodle-ai/autopost/news"
	"github.com/stretchr/testify/require"
)

const validContent = `{
	"topic": "launch day",
	"post_text": "The rocket made it to orbit on the first try.",
	"image_prompt": "a rocket ascending through clouds at dawn",
	"video_prompt": "slow pan following a rocket launch"
}`

func TestParseContent(t *testing.T) {
	content, err := parseContent(validContent)
	require.NoError(t, err)
	require.Equal(t, "launch day", content.Topic)
	require.Equal(t, "The rocket made it to orbit on the first try.", content.PostText)
	require.NotEmpty(t, content.ImagePrompt)
	require.NotEmpty(t, content.VideoPrompt)
}

func TestParseContentStripsMarkdownFence(t *testing.T) {
	content, err := parseContent("```json\n" + validContent + "\n```")
	require.NoError(t, err)
	require.Equal(t, "launch day", content.Topic)
}

func TestParseContentMissingFields(t *testing.T) {
	_, err := parseContent(`{"topic": "launch day", "post_text": "orbit!"}`)
	require.Error(t, err)
	require.Equal(t, fault.KindUpstreamRejected, fault.KindOf(err))
	require.Contains(t, err.Error(), "image_prompt")
	require.Contains(t, err.Error(), "video_prompt")
}

func TestParseContentUnknownFields(t *testing.T) {
	_, err := parseContent(`{"topic": "t", "post_text": "p", "image_prompt": "i", "video_prompt": "v", "mood": "upbeat"}`)
	require.Error(t, err)
	require.Equal(t, fault.KindUpstreamRejected, fault.KindOf(err))
}

func TestParseContentMalformedJSON(t *testing.T) {
	_, err := parseContent("the model apologizes and refuses")
	require.Error(t, err)
	require.Equal(t, fault.KindUpstreamRejected, fault.KindOf(err))
	require.False(t, fault.IsRecoverable(err))
}

func TestExtractText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []genai.Part{genai.Text(`{"a":`), genai.Text(` 1}`)},
				},
			},
		},
	}
	text, err := extractText(resp)
	require.NoError(t, err)
	require.Equal(t, `{"a": 1}`, text)
}

func TestExtractTextEmptyResponse(t *testing.T) {
	_, err := extractText(&genai.GenerateContentResponse{})
	require.Error(t, err)
	require.Equal(t, fault.KindUpstreamRejected, fault.KindOf(err))
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt("write a post", []news.Document{
		{Title: "First", URL: "https://example.com/1", Summary: "one"},
		{Title: "Second", URL: "https://example.com/2", Summary: "two"},
	})
	require.Contains(t, prompt, "write a post")
	require.Contains(t, prompt, "1. First")
	require.Contains(t, prompt, "2. Second")
	require.Contains(t, prompt, "https://example.com/2")
}
