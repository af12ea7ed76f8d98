package autopost

import (
	"encoding/json"
	"fmt"
	"time"

	"go.jetify.com/typeid"

	"github.com/deepnoodle-ai/autopost/news"
)

// NewRunID returns a new time-ordered run identifier.
func NewRunID() string {
	id, err := typeid.WithPrefix("run")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// RunStatus represents the overall run status.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"

	// RunStatusPartial marks a replayed run that posted successfully even
	// though a non-critical step had failed in the original run.
	RunStatusPartial RunStatus = "partial"
)

// StepStatus represents the status of one pipeline step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// StepID identifies a pipeline step.
type StepID string

const (
	StepNewsSearch StepID = "newsSearch"
	StepContent    StepID = "content"
	StepImage      StepID = "image"
	StepVideo      StepID = "video"
	StepPosting    StepID = "posting"
)

// StepOrder is the execution order of the pipeline steps.
var StepOrder = []StepID{StepNewsSearch, StepContent, StepImage, StepVideo, StepPosting}

// Step data payloads. Each completed step stores one of these in its record
// so later steps, and replays, work from persisted state alone.
type (
	// SearchData holds the documents the search step found.
	SearchData struct {
		Documents []news.Document `json:"documents"`
	}

	// ContentData holds composed post copy and media prompts.
	ContentData struct {
		Topic       string `json:"topic"`
		PostText    string `json:"post_text"`
		ImagePrompt string `json:"image_prompt"`
		VideoPrompt string `json:"video_prompt"`
	}

	// MediaData points at a generated artifact in blob storage.
	MediaData struct {
		Key      string `json:"key"`
		MIMEType string `json:"mime_type"`
		Provider string `json:"provider"`
	}

	// PublishData records the platform outcome of the posting step.
	PublishData struct {
		PostID    string `json:"post_id"`
		MediaType string `json:"media_type"`
		MediaID   string `json:"media_id"`
	}
)

// StepRecord tracks one step's lifecycle within a run.
type StepRecord struct {
	Status      StepStatus      `json:"status"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// DataAs decodes the step's payload into v.
func (s *StepRecord) DataAs(v any) error {
	if len(s.Data) == 0 {
		return fmt.Errorf("step has no data payload")
	}
	return json.Unmarshal(s.Data, v)
}

// RunRecord is the durable record of one pipeline run. All mutation goes
// through the transition methods, which enforce forward-only status changes.
type RunRecord struct {
	ID          string                 `json:"id"`
	Status      RunStatus              `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Steps       map[StepID]*StepRecord `json:"steps"`

	// Replayable is false when the run executed without durable
	// persistence configured.
	Replayable bool `json:"replayable"`
}

// NewRunRecord creates a running record with every step pending.
func NewRunRecord() *RunRecord {
	steps := make(map[StepID]*StepRecord, len(StepOrder))
	for _, id := range StepOrder {
		steps[id] = &StepRecord{Status: StepStatusPending}
	}
	return &RunRecord{
		ID:         NewRunID(),
		Status:     RunStatusRunning,
		StartedAt:  time.Now().UTC(),
		Steps:      steps,
		Replayable: true,
	}
}

// Step returns the record for the given step.
func (r *RunRecord) Step(id StepID) (*StepRecord, error) {
	step, ok := r.Steps[id]
	if !ok {
		return nil, fmt.Errorf("unknown step %q", id)
	}
	return step, nil
}

// Terminal reports whether the run reached a terminal status.
func (r *RunRecord) Terminal() bool {
	return r.Status != RunStatusRunning
}

// BeginStep transitions a pending step to in_progress.
func (r *RunRecord) BeginStep(id StepID) error {
	step, err := r.Step(id)
	if err != nil {
		return err
	}
	if r.Terminal() {
		return fmt.Errorf("cannot begin step %q on a %s run", id, r.Status)
	}
	if step.Status != StepStatusPending {
		return fmt.Errorf("cannot begin step %q from status %q", id, step.Status)
	}
	step.Status = StepStatusInProgress
	step.StartedAt = time.Now().UTC()
	return nil
}

// CompleteStep transitions an in_progress step to completed, storing its
// payload. Completed steps are immutable afterwards.
func (r *RunRecord) CompleteStep(id StepID, data any) error {
	step, err := r.Step(id)
	if err != nil {
		return err
	}
	if step.Status != StepStatusInProgress {
		return fmt.Errorf("cannot complete step %q from status %q", id, step.Status)
	}
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode step %q data: %w", id, err)
		}
		step.Data = encoded
	}
	step.Status = StepStatusCompleted
	step.CompletedAt = time.Now().UTC()
	step.Error = ""
	return nil
}

// FailStep transitions an in_progress step to failed with the given error.
func (r *RunRecord) FailStep(id StepID, stepErr error) error {
	step, err := r.Step(id)
	if err != nil {
		return err
	}
	if step.Status != StepStatusInProgress {
		return fmt.Errorf("cannot fail step %q from status %q", id, step.Status)
	}
	step.Status = StepStatusFailed
	step.CompletedAt = time.Now().UTC()
	if stepErr != nil {
		step.Error = stepErr.Error()
	}
	return nil
}

// SkipStep transitions a pending step directly to skipped.
func (r *RunRecord) SkipStep(id StepID, reason string) error {
	step, err := r.Step(id)
	if err != nil {
		return err
	}
	if step.Status != StepStatusPending {
		return fmt.Errorf("cannot skip step %q from status %q", id, step.Status)
	}
	step.Status = StepStatusSkipped
	step.Error = reason
	return nil
}

// Finish moves the run to a terminal status. CompletedAt is set exactly once.
func (r *RunRecord) Finish(status RunStatus, runErr error) error {
	if status == RunStatusRunning {
		return fmt.Errorf("finish requires a terminal status")
	}
	if r.Terminal() {
		return fmt.Errorf("run is already %s", r.Status)
	}
	r.Status = status
	r.CompletedAt = time.Now().UTC()
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return nil
}

// ReopenPosting prepares a record for replaying the posting step. The record
// may be terminal, or still marked running because the owning process crashed
// before finishing; either way the posting step must not have completed. The
// posting step and top-level status are reset; completed upstream steps are
// untouched.
func (r *RunRecord) ReopenPosting() error {
	step, err := r.Step(StepPosting)
	if err != nil {
		return err
	}
	if step.Status == StepStatusCompleted {
		return fmt.Errorf("posting step has already completed")
	}
	*step = StepRecord{Status: StepStatusInProgress, StartedAt: time.Now().UTC()}
	r.Status = RunStatusRunning
	r.CompletedAt = time.Time{}
	r.Error = ""
	return nil
}
