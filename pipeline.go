// Package autopost runs a resilient content publishing pipeline: research a
// topic, compose a post, generate media, publish, and keep a durable record
// of every run so failed runs can be replayed without repeating upstream
// work.
package autopost

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/deepnoodle-ai/autopost/blob"
	"github.com/deepnoodle-ai/autopost/compose"
	"github.com/deepnoodle-ai/autopost/generate"
	"github.com/deepnoodle-ai/autopost/news"
)

// Publisher is the platform surface the pipeline needs: media upload plus
// post creation. platform.Client satisfies it.
type Publisher interface {
	UploadMedia(ctx context.Context, data []byte, mediaType, category string) (string, error)
	CreatePost(ctx context.Context, text string, mediaIDs []string) (string, error)
}

// Environment bundles the collaborators a pipeline run works with.
type Environment struct {
	Searcher  news.Searcher
	Composer  compose.Composer
	Images    *generate.Chain
	Publisher Publisher

	// Videos is optional; without it the video step is skipped and the
	// run publishes image-only.
	Videos *generate.Chain

	// Media stores generated artifacts under media/<runID>/.
	Media blob.Store

	// Runs persists run records. Use NewNullRunStore to run without
	// persistence.
	Runs RunStore

	Logger *slog.Logger
}

// FailurePolicy decides what a step failure does to the run.
type FailurePolicy string

const (
	// FailRun fails the whole run.
	FailRun FailurePolicy = "fail-run"

	// ContinueWithout records the failure and moves on; the run degrades
	// instead of dying.
	ContinueWithout FailurePolicy = "continue-without"
)

// StepFunc executes one pipeline step and returns the payload to store in
// the step record.
type StepFunc func(ctx context.Context, env *Environment, record *RunRecord) (any, error)

// StepDescriptor declares one pipeline step: what runs, how its failure is
// handled, and when it is skipped entirely. The step table is data; the
// execution loop below is the only control flow.
type StepDescriptor struct {
	ID        StepID
	Run       StepFunc
	OnFailure FailurePolicy

	// SkipWhen, if set, is consulted before the step starts. A non-empty
	// reason marks the step skipped without running it.
	SkipWhen func(env *Environment) string
}

// Pipeline executes the publishing sequence and persists the run record
// after every step transition.
type Pipeline struct {
	env    Environment
	steps  []StepDescriptor
	logger *slog.Logger
}

// NewPipeline validates the environment and builds the step table.
func NewPipeline(env Environment) (*Pipeline, error) {
	if env.Searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if env.Composer == nil {
		return nil, fmt.Errorf("composer is required")
	}
	if env.Images == nil {
		return nil, fmt.Errorf("image generation chain is required")
	}
	if env.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if env.Media == nil {
		return nil, fmt.Errorf("media store is required")
	}
	if env.Runs == nil {
		env.Runs = NewNullRunStore()
	}
	if env.Logger == nil {
		env.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		env:    env,
		logger: env.Logger,
		steps: []StepDescriptor{
			{ID: StepNewsSearch, Run: stepNewsSearch, OnFailure: FailRun},
			{ID: StepContent, Run: stepContent, OnFailure: FailRun},
			{ID: StepImage, Run: stepImage, OnFailure: FailRun},
			{ID: StepVideo, Run: stepVideo, OnFailure: ContinueWithout, SkipWhen: skipWithoutVideoChain},
			{ID: StepPosting, Run: stepPosting, OnFailure: FailRun},
		},
	}, nil
}

// Execute runs the step table against a fresh record. The record is
// persisted before and after every step; a persistence failure aborts the
// run rather than continuing with unsaved state. The returned record is
// always the latest state, error or not.
func (p *Pipeline) Execute(ctx context.Context) (*RunRecord, error) {
	record := NewRunRecord()
	record.Replayable = p.env.Runs.Persistent()
	logger := p.logger.With("run_id", record.ID)

	if !record.Replayable {
		logger.Warn("run persistence is not configured, this run cannot be replayed")
	}
	if err := p.env.Runs.Save(ctx, record); err != nil {
		return record, fmt.Errorf("failed to persist run record: %w", err)
	}

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return record, p.failRun(ctx, record, logger, err)
		}

		if step.SkipWhen != nil {
			if reason := step.SkipWhen(&p.env); reason != "" {
				if err := record.SkipStep(step.ID, reason); err != nil {
					return record, p.failRun(ctx, record, logger, err)
				}
				if err := p.env.Runs.Save(ctx, record); err != nil {
					return record, fmt.Errorf("failed to persist run record: %w", err)
				}
				logger.Info("step skipped", "step", step.ID, "reason", reason)
				continue
			}
		}

		if err := record.BeginStep(step.ID); err != nil {
			return record, p.failRun(ctx, record, logger, err)
		}
		if err := p.env.Runs.Save(ctx, record); err != nil {
			return record, fmt.Errorf("failed to persist run record: %w", err)
		}
		logger.Info("step started", "step", step.ID)

		data, err := step.Run(ctx, &p.env, record)
		switch {
		case err == nil:
			if err := record.CompleteStep(step.ID, data); err != nil {
				return record, p.failRun(ctx, record, logger, err)
			}
			logger.Info("step completed", "step", step.ID)
		default:
			if ferr := record.FailStep(step.ID, err); ferr != nil {
				return record, p.failRun(ctx, record, logger, ferr)
			}
			logger.Error("step failed", "step", step.ID, "error", err)
			if step.OnFailure == FailRun {
				return record, p.failRun(ctx, record, logger, fmt.Errorf("step %s: %w", step.ID, err))
			}
			logger.Warn("continuing without step", "step", step.ID)
		}

		if err := p.env.Runs.Save(ctx, record); err != nil {
			return record, fmt.Errorf("failed to persist run record: %w", err)
		}
	}

	if err := record.Finish(RunStatusCompleted, nil); err != nil {
		return record, err
	}
	if err := p.env.Runs.Save(ctx, record); err != nil {
		return record, fmt.Errorf("failed to persist run record: %w", err)
	}
	logger.Info("run completed", "status", record.Status)
	return record, nil
}

// failRun moves the record to failed and persists it on a best-effort
// basis; the original error wins over persistence trouble here.
func (p *Pipeline) failRun(ctx context.Context, record *RunRecord, logger *slog.Logger, cause error) error {
	if !record.Terminal() {
		if err := record.Finish(RunStatusFailed, cause); err != nil {
			logger.Error("failed to finalize run record", "error", err)
		}
	}
	if err := p.env.Runs.Save(ctx, record); err != nil {
		logger.Error("failed to persist failed run record", "error", err)
	}
	logger.Error("run failed", "error", cause)
	return cause
}
