package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deepnoodle-ai/autopost"
	"github.com/deepnoodle-ai/autopost/blob"
	"github.com/deepnoodle-ai/autopost/compose"
	"github.com/deepnoodle-ai/autopost/config"
	"github.com/deepnoodle-ai/autopost/generate"
	"github.com/deepnoodle-ai/autopost/news"
	"github.com/deepnoodle-ai/autopost/platform"
)

// runtime bundles everything the commands need, plus a cleanup hook for
// resources like database connections.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   blob.Store
	runs    autopost.RunStore
	client  *platform.Client
	cleanup func()
}

// loadRuntime reads the config and opens storage plus the platform client.
// Generation collaborators are built separately because only the run command
// needs them.
func loadRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := autopost.NewLogger(autopost.ParseLogLevel(cfg.LogLevel))

	store, cleanup, err := openBlobStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	var runs autopost.RunStore
	if cfg.Storage.Backend == "none" {
		runs = autopost.NewNullRunStore()
	} else {
		runs = autopost.NewBlobRunStore(store)
	}

	client, err := platform.NewClient(platform.ClientOptions{
		BaseURL:     cfg.Platform.BaseURL,
		UploadURL:   cfg.Platform.UploadURL,
		TokenURL:    cfg.Platform.TokenURL,
		ClientID:    cfg.Platform.ClientID,
		Credentials: platform.NewCredentialStore(store, ""),
		Logger:      logger,
		Upload: platform.UploadOptions{
			ChunkSize:         cfg.Platform.ChunkSize,
			PollInterval:      cfg.Platform.PollInterval.Std(),
			ProcessingCeiling: cfg.Platform.ProcessingCeiling.Std(),
			SettleDelay:       cfg.Platform.SettleDelay.Std(),
		},
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		runs:    runs,
		client:  client,
		cleanup: cleanup,
	}, nil
}

func openBlobStore(ctx context.Context, cfg config.StorageConfig) (blob.Store, func(), error) {
	switch cfg.Backend {
	case "file":
		store, err := blob.NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "postgres":
		store, err := blob.NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case "none":
		return blob.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// buildEnvironment constructs the full pipeline environment for a run.
func (r *runtime) buildEnvironment(ctx context.Context) (autopost.Environment, error) {
	var env autopost.Environment

	var filter *news.Filter
	if r.cfg.Search.Filter != "" {
		compiled, err := news.NewFilter(r.cfg.Search.Filter)
		if err != nil {
			return env, fmt.Errorf("invalid search filter: %w", err)
		}
		filter = compiled
	}
	searcher, err := news.NewHTTPSearcher(news.HTTPSearcherOptions{
		Endpoint:   r.cfg.Search.Endpoint,
		APIKey:     r.cfg.Search.APIKey,
		Query:      r.cfg.Search.Query,
		MaxResults: r.cfg.Search.MaxResults,
		Filter:     filter,
	})
	if err != nil {
		return env, err
	}

	composer, err := compose.NewGeminiComposer(ctx, compose.GeminiComposerOptions{
		APIKey:       r.cfg.Content.APIKey,
		Model:        r.cfg.Content.Model,
		Instructions: r.cfg.Content.Instructions,
	})
	if err != nil {
		return env, err
	}

	images, err := buildChain(ctx, "image", r.cfg.Images, r.logger)
	if err != nil {
		return env, err
	}
	var videos *generate.Chain
	if len(r.cfg.Videos) > 0 {
		videos, err = buildChain(ctx, "video", r.cfg.Videos, r.logger)
		if err != nil {
			return env, err
		}
	}

	return autopost.Environment{
		Searcher:  searcher,
		Composer:  composer,
		Images:    images,
		Videos:    videos,
		Publisher: r.client,
		Media:     r.store,
		Runs:      r.runs,
		Logger:    r.logger,
	}, nil
}

func buildChain(ctx context.Context, name string, configs []config.ProviderConfig, logger *slog.Logger) (*generate.Chain, error) {
	generators := make([]generate.Generator, 0, len(configs))
	for _, pc := range configs {
		switch pc.Kind {
		case "gemini":
			gen, err := generate.NewGeminiGenerator(ctx, generate.GeminiGeneratorOptions{
				Name:   pc.Name,
				Model:  pc.Model,
				APIKey: pc.APIKey,
			})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
			}
			generators = append(generators, gen)
		case "rest":
			gen, err := generate.NewHTTPGenerator(generate.HTTPGeneratorOptions{
				Name:     pc.Name,
				Endpoint: pc.Endpoint,
				APIKey:   pc.APIKey,
			})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
			}
			generators = append(generators, gen)
		default:
			return nil, fmt.Errorf("provider %s has unknown kind %q", pc.Name, pc.Kind)
		}
	}
	return generate.NewChain(name, generators, logger)
}
