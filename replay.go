package autopost

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/deepnoodle-ai/autopost/blob"
	"github.com/deepnoodle-ai/autopost/fault"
)

// Replay operates on persisted run records: inspect them, re-publish from
// stored artifacts, or remove them.
type Replay struct {
	runs      RunStore
	media     blob.Store
	publisher Publisher
	logger    *slog.Logger
}

// NewReplay creates a replay facade over the run store and media storage.
// The publisher may be nil when only List, Show, and Delete are used.
func NewReplay(runs RunStore, media blob.Store, publisher Publisher, logger *slog.Logger) (*Replay, error) {
	if runs == nil {
		return nil, fmt.Errorf("run store is required")
	}
	if media == nil {
		return nil, fmt.Errorf("media store is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Replay{runs: runs, media: media, publisher: publisher, logger: logger}, nil
}

// List returns run summaries, newest first.
func (r *Replay) List(ctx context.Context, limit int) ([]RunSummary, error) {
	return r.runs.List(ctx, limit)
}

// Show loads one full run record.
func (r *Replay) Show(ctx context.Context, id string) (*RunRecord, error) {
	return r.runs.Load(ctx, id)
}

// Post re-publishes a run from its stored artifacts. The record may be
// terminal or left running by a crashed process. A run whose posting step
// already completed is refused before any platform call is made, so a replay
// can never double-post. The returned record is the new terminal state.
func (r *Replay) Post(ctx context.Context, id string) (*RunRecord, error) {
	if r.publisher == nil {
		return nil, fmt.Errorf("publisher is required for replay posting")
	}
	record, err := r.runs.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	posting, err := record.Step(StepPosting)
	if err != nil {
		return nil, err
	}
	if posting.Status == StepStatusCompleted {
		return nil, fault.New(fault.KindPreconditionFailed,
			"run %s has already posted, refusing to post again", id)
	}
	image, err := record.Step(StepImage)
	if err != nil {
		return nil, err
	}
	if image.Status != StepStatusCompleted {
		return nil, fault.New(fault.KindPreconditionFailed,
			"run %s has no stored media artifact to post", id)
	}

	if err := record.ReopenPosting(); err != nil {
		return nil, err
	}
	if err := r.runs.Save(ctx, record); err != nil {
		return record, fmt.Errorf("failed to persist run record: %w", err)
	}
	logger := r.logger.With("run_id", id)
	logger.Info("replaying posting step")

	data, err := publish(ctx, r.media, r.publisher, record)
	if err != nil {
		if ferr := record.FailStep(StepPosting, err); ferr != nil {
			return record, ferr
		}
		if ferr := record.Finish(RunStatusFailed, fmt.Errorf("step %s: %w", StepPosting, err)); ferr != nil {
			return record, ferr
		}
		if serr := r.runs.Save(ctx, record); serr != nil {
			logger.Error("failed to persist failed run record", "error", serr)
		}
		logger.Error("replay failed", "error", err)
		return record, err
	}

	if err := record.CompleteStep(StepPosting, data); err != nil {
		return record, err
	}
	if err := record.Finish(replayOutcome(record), nil); err != nil {
		return record, err
	}
	if err := r.runs.Save(ctx, record); err != nil {
		return record, fmt.Errorf("failed to persist run record: %w", err)
	}
	logger.Info("replay posted", "post_id", data.PostID, "status", record.Status)
	return record, nil
}

// replayOutcome maps a successful replay to the run's terminal status: a
// clean record completes, one carrying an earlier non-critical failure is
// only partial.
func replayOutcome(record *RunRecord) RunStatus {
	for id, step := range record.Steps {
		if id == StepPosting {
			continue
		}
		if step.Status == StepStatusFailed {
			return RunStatusPartial
		}
	}
	return RunStatusCompleted
}

// Delete removes a run record and every artifact stored for it. There is no
// undo.
func (r *Replay) Delete(ctx context.Context, id string) error {
	if _, err := r.runs.Load(ctx, id); err != nil {
		return err
	}

	prefix := fmt.Sprintf("media/%s/", id)
	objects, err := r.media.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to list artifacts for run %s: %w", id, err)
	}
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, prefix) {
			continue
		}
		if err := r.media.Delete(ctx, obj.Key); err != nil {
			return fmt.Errorf("failed to delete artifact %s: %w", obj.Key, err)
		}
	}

	if err := r.runs.Delete(ctx, id); err != nil {
		return err
	}
	r.logger.Info("deleted run", "run_id", id, "artifacts", len(objects))
	return nil
}
