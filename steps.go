package autopost

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/deepnoodle-ai/autopost/blob"
	"github.com/deepnoodle-ai/autopost/fault"
	"github.com/deepnoodle-ai/autopost/generate"
)

// Media categories the platform expects per attachment type.
const (
	categoryImage = "tweet_image"
	categoryVideo = "tweet_video"
)

func stepNewsSearch(ctx context.Context, env *Environment, record *RunRecord) (any, error) {
	docs, err := env.Searcher.Search(ctx)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("search returned no usable documents")
	}
	return SearchData{Documents: docs}, nil
}

func stepContent(ctx context.Context, env *Environment, record *RunRecord) (any, error) {
	var search SearchData
	if err := stepData(record, StepNewsSearch, &search); err != nil {
		return nil, err
	}
	content, err := env.Composer.Compose(ctx, search.Documents)
	if err != nil {
		return nil, err
	}
	return ContentData{
		Topic:       content.Topic,
		PostText:    content.PostText,
		ImagePrompt: content.ImagePrompt,
		VideoPrompt: content.VideoPrompt,
	}, nil
}

func stepImage(ctx context.Context, env *Environment, record *RunRecord) (any, error) {
	var content ContentData
	if err := stepData(record, StepContent, &content); err != nil {
		return nil, err
	}

	result, err := env.Images.Generate(ctx, generate.Request{Prompt: content.ImagePrompt})
	if err != nil {
		return nil, err
	}
	return storeArtifact(ctx, env.Media, record.ID, "image", result)
}

func stepVideo(ctx context.Context, env *Environment, record *RunRecord) (any, error) {
	var content ContentData
	if err := stepData(record, StepContent, &content); err != nil {
		return nil, err
	}
	var image MediaData
	if err := stepData(record, StepImage, &image); err != nil {
		return nil, err
	}
	source, err := env.Media.Get(ctx, image.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load source image %s: %w", image.Key, err)
	}

	result, err := env.Videos.Generate(ctx, generate.Request{
		Prompt:      content.VideoPrompt,
		SourceImage: source,
	})
	if err != nil {
		return nil, err
	}
	return storeArtifact(ctx, env.Media, record.ID, "video", result)
}

func stepPosting(ctx context.Context, env *Environment, record *RunRecord) (any, error) {
	return publish(ctx, env.Media, env.Publisher, record)
}

func skipWithoutVideoChain(env *Environment) string {
	if env.Videos == nil {
		return "no video provider configured"
	}
	return ""
}

// stepData reads a required upstream step payload.
func stepData(record *RunRecord, id StepID, v any) error {
	step, err := record.Step(id)
	if err != nil {
		return err
	}
	if step.Status != StepStatusCompleted {
		return fmt.Errorf("step %s has not completed", id)
	}
	return step.DataAs(v)
}

// storeArtifact writes a generated asset to blob storage keyed by run.
func storeArtifact(ctx context.Context, media blob.Store, runID, kind string, result *generate.Result) (MediaData, error) {
	key := fmt.Sprintf("media/%s/%s%s", runID, kind, extensionFor(result.Asset.MIMEType))
	if err := media.Put(ctx, key, result.Asset.Data, result.Asset.MIMEType); err != nil {
		return MediaData{}, fmt.Errorf("failed to store %s artifact: %w", kind, err)
	}
	return MediaData{Key: key, MIMEType: result.Asset.MIMEType, Provider: result.Provider}, nil
}

func extensionFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "png"):
		return ".png"
	case strings.Contains(mimeType, "jpeg"), strings.Contains(mimeType, "jpg"):
		return ".jpg"
	case strings.Contains(mimeType, "gif"):
		return ".gif"
	case strings.Contains(mimeType, "mp4"):
		return ".mp4"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	default:
		return ".bin"
	}
}

// publish re-reads everything it needs from the record and blob storage so
// the same path serves both a live run and a replay. The video artifact, when
// present, wins over the image.
func publish(ctx context.Context, media blob.Store, publisher Publisher, record *RunRecord) (*PublishData, error) {
	var content ContentData
	if err := stepData(record, StepContent, &content); err != nil {
		return nil, err
	}
	var image MediaData
	if err := stepData(record, StepImage, &image); err != nil {
		return nil, err
	}
	if image.Key == "" {
		return nil, fault.New(fault.KindPreconditionFailed, "run %s has no stored media artifact", record.ID)
	}

	var video MediaData
	if step, err := record.Step(StepVideo); err == nil && step.Status == StepStatusCompleted {
		if err := step.DataAs(&video); err != nil {
			return nil, err
		}
	}

	var imageBytes, videoBytes []byte
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		data, err := media.Get(groupCtx, image.Key)
		if err != nil {
			return fmt.Errorf("failed to load image artifact %s: %w", image.Key, err)
		}
		imageBytes = data
		return nil
	})
	if video.Key != "" {
		group.Go(func() error {
			data, err := media.Get(groupCtx, video.Key)
			if err != nil {
				return fmt.Errorf("failed to load video artifact %s: %w", video.Key, err)
			}
			videoBytes = data
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	attachment := struct {
		data      []byte
		mimeType  string
		category  string
		mediaType string
	}{imageBytes, image.MIMEType, categoryImage, "image"}
	if video.Key != "" {
		attachment.data = videoBytes
		attachment.mimeType = video.MIMEType
		attachment.category = categoryVideo
		attachment.mediaType = "video"
	}

	mediaID, err := publisher.UploadMedia(ctx, attachment.data, attachment.mimeType, attachment.category)
	if err != nil {
		return nil, fmt.Errorf("media upload: %w", err)
	}
	postID, err := publisher.CreatePost(ctx, content.PostText, []string{mediaID})
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &PublishData{PostID: postID, MediaType: attachment.mediaType, MediaID: mediaID}, nil
}
