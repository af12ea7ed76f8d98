package autopost

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var errFake = errors.New("synthetic failure")

func TestNewRunRecord(t *testing.T) {
	record := NewRunRecord()
	require.True(t, strings.HasPrefix(record.ID, "run_"))
	require.Equal(t, RunStatusRunning, record.Status)
	require.False(t, record.StartedAt.IsZero())
	require.True(t, record.CompletedAt.IsZero())
	require.Len(t, record.Steps, len(StepOrder))
	for _, id := range StepOrder {
		require.Equal(t, StepStatusPending, record.Steps[id].Status)
	}
}

func TestRunIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewRunID()
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestStepTransitionsAreForwardOnly(t *testing.T) {
	record := NewRunRecord()

	// Completing a step that never started is invalid.
	require.Error(t, record.CompleteStep(StepNewsSearch, nil))
	require.Error(t, record.FailStep(StepNewsSearch, nil))

	require.NoError(t, record.BeginStep(StepNewsSearch))
	require.Equal(t, StepStatusInProgress, record.Steps[StepNewsSearch].Status)

	// No restart of a step already in progress.
	require.Error(t, record.BeginStep(StepNewsSearch))

	require.NoError(t, record.CompleteStep(StepNewsSearch, SearchData{}))
	require.Equal(t, StepStatusCompleted, record.Steps[StepNewsSearch].Status)

	// Completed steps are immutable.
	require.Error(t, record.BeginStep(StepNewsSearch))
	require.Error(t, record.CompleteStep(StepNewsSearch, nil))
	require.Error(t, record.FailStep(StepNewsSearch, nil))
	require.Error(t, record.SkipStep(StepNewsSearch, "too late"))
}

func TestSkipOnlyFromPending(t *testing.T) {
	record := NewRunRecord()
	require.NoError(t, record.SkipStep(StepVideo, "no provider"))
	require.Equal(t, StepStatusSkipped, record.Steps[StepVideo].Status)
	require.Equal(t, "no provider", record.Steps[StepVideo].Error)

	require.NoError(t, record.BeginStep(StepImage))
	require.Error(t, record.SkipStep(StepImage, "started already"))
}

func TestFinishIsTerminalOnce(t *testing.T) {
	record := NewRunRecord()
	require.Error(t, record.Finish(RunStatusRunning, nil))

	require.NoError(t, record.Finish(RunStatusCompleted, nil))
	require.False(t, record.CompletedAt.IsZero())
	completedAt := record.CompletedAt

	require.Error(t, record.Finish(RunStatusFailed, nil))
	require.Equal(t, completedAt, record.CompletedAt, "completion time set exactly once")

	// No step work after the run is terminal.
	require.Error(t, record.BeginStep(StepNewsSearch))
}

func TestStepDataRoundTrip(t *testing.T) {
	record := NewRunRecord()
	require.NoError(t, record.BeginStep(StepContent))
	require.NoError(t, record.CompleteStep(StepContent, ContentData{
		Topic:    "launch day",
		PostText: "orbit achieved",
	}))

	var content ContentData
	require.NoError(t, record.Steps[StepContent].DataAs(&content))
	require.Equal(t, "launch day", content.Topic)
	require.Equal(t, "orbit achieved", content.PostText)
}

func TestReopenPosting(t *testing.T) {
	record := NewRunRecord()
	require.NoError(t, record.BeginStep(StepPosting))
	require.NoError(t, record.FailStep(StepPosting, errFake))
	require.NoError(t, record.Finish(RunStatusFailed, errFake))

	require.NoError(t, record.ReopenPosting())
	require.Equal(t, RunStatusRunning, record.Status)
	require.Equal(t, StepStatusInProgress, record.Steps[StepPosting].Status)
	require.Empty(t, record.Steps[StepPosting].Error)
	require.True(t, record.CompletedAt.IsZero())

	require.NoError(t, record.CompleteStep(StepPosting, PublishData{PostID: "p1"}))
	require.Error(t, record.ReopenPosting(), "a posted run is never reopened")
}

func TestReopenPostingOnCrashedRecord(t *testing.T) {
	record := NewRunRecord()
	require.NoError(t, record.BeginStep(StepPosting))

	// A record abandoned mid-step by a dead process is still marked running.
	require.NoError(t, record.ReopenPosting())
	require.Equal(t, RunStatusRunning, record.Status)
	require.Equal(t, StepStatusInProgress, record.Steps[StepPosting].Status)
}
