package autopost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/deepnoodle-ai/autopost/blob"
	"github.com/deepnoodle-ai/autopost/fault"
)

// RunSummary is a listing view of a run record.
type RunSummary struct {
	ID          string    `json:"id"`
	Status      RunStatus `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// RunStore persists run records. Persistent reports whether records survive
// the process; a non-persistent store makes runs non-replayable, which is
// recorded on the run itself rather than silently dropped.
type RunStore interface {
	Save(ctx context.Context, record *RunRecord) error
	Load(ctx context.Context, id string) (*RunRecord, error)
	List(ctx context.Context, limit int) ([]RunSummary, error)
	Delete(ctx context.Context, id string) error
	Persistent() bool
}

// BlobRunStore stores run records as JSON documents in a blob store.
type BlobRunStore struct {
	store blob.Store
}

// NewBlobRunStore creates a run store backed by the given blob store.
func NewBlobRunStore(store blob.Store) *BlobRunStore {
	return &BlobRunStore{store: store}
}

const runKeyPrefix = "runs/"

func runKey(id string) string {
	return runKeyPrefix + id + ".json"
}

// Save writes the record, replacing any previous version.
func (s *BlobRunStore) Save(ctx context.Context, record *RunRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}
	if err := s.store.Put(ctx, runKey(record.ID), data, "application/json"); err != nil {
		return fmt.Errorf("failed to save run %s: %w", record.ID, err)
	}
	return nil
}

// Load reads one record by ID.
func (s *BlobRunStore) Load(ctx context.Context, id string) (*RunRecord, error) {
	data, err := s.store.Get(ctx, runKey(id))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fault.New(fault.KindNotFound, "run %s not found", id)
		}
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("run %s record is corrupt: %w", id, err)
	}
	return &record, nil
}

// List returns up to limit summaries, newest first. Run identifiers are
// time-ordered, so the listing sorts on ID with last-modified as tiebreak.
func (s *BlobRunStore) List(ctx context.Context, limit int) ([]RunSummary, error) {
	objects, err := s.store.List(ctx, runKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	sort.Slice(objects, func(i, j int) bool {
		if objects[i].Key != objects[j].Key {
			return objects[i].Key > objects[j].Key
		}
		return objects[i].LastModified.After(objects[j].LastModified)
	})

	summaries := make([]RunSummary, 0, len(objects))
	for _, obj := range objects {
		id := strings.TrimSuffix(strings.TrimPrefix(obj.Key, runKeyPrefix), ".json")
		record, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, RunSummary{
			ID:          record.ID,
			Status:      record.Status,
			StartedAt:   record.StartedAt,
			CompletedAt: record.CompletedAt,
			Error:       record.Error,
		})
		if limit > 0 && len(summaries) >= limit {
			break
		}
	}
	return summaries, nil
}

// Delete removes one record.
func (s *BlobRunStore) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, runKey(id)); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return fault.New(fault.KindNotFound, "run %s not found", id)
		}
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	return nil
}

// Persistent reports durable storage.
func (s *BlobRunStore) Persistent() bool {
	return true
}

// NullRunStore is the explicit no-persistence store: runs execute normally
// but their records vanish with the process.
type NullRunStore struct{}

// NewNullRunStore creates a run store that retains nothing.
func NewNullRunStore() *NullRunStore {
	return &NullRunStore{}
}

func (s *NullRunStore) Save(ctx context.Context, record *RunRecord) error {
	return nil
}

func (s *NullRunStore) Load(ctx context.Context, id string) (*RunRecord, error) {
	return nil, fault.New(fault.KindNotFound, "run %s not found", id)
}

func (s *NullRunStore) List(ctx context.Context, limit int) ([]RunSummary, error) {
	return nil, nil
}

func (s *NullRunStore) Delete(ctx context.Context, id string) error {
	return nil
}

func (s *NullRunStore) Persistent() bool {
	return false
}
