// Package store persists recommendation runs.
//
// A run is one completed pipeline execution: the options it ran with, the
// stats it reported, and the predictions it produced. Stores keep runs
// addressable by id and predictions addressable by (run, user), so serving
// a user's recommendations never re-runs the pipeline.
//
// Two implementations are provided:
//   - MemoryStore: map-backed, for tests and one-shot CLI runs
//   - BadgerStore: persistent BadgerDB storage for long-lived deployments
//
// Example Usage:
//
//	st, err := store.NewBadgerStore("./data/kvasir")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer st.Close()
//
//	run := store.NewRun(opts, stats)
//	if err := st.SaveRun(run, predictions); err != nil {
//		log.Fatal(err)
//	}
//
//	top, _ := st.TopFor(run.ID, "user-42")
package store

import (
	"errors"
	"sort"
	"time"

	"github.com/orneryd/kvasir/pkg/dataset"
	"github.com/orneryd/kvasir/pkg/recommend"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidData   = errors.New("invalid data")
	ErrStoreClosed   = errors.New("store closed")
)

// Run records one pipeline execution. The ID doubles as the stats RunID of
// the execution it captures.
type Run struct {
	ID        string
	CreatedAt time.Time
	Options   recommend.Options
	Stats     recommend.Stats
}

// NewRun builds a Run from a finished pipeline execution, reusing the
// pipeline's RunID as the storage id.
func NewRun(opts recommend.Options, stats *recommend.Stats) *Run {
	return &Run{
		ID:        stats.RunID,
		CreatedAt: time.Now().UTC(),
		Options:   opts,
		Stats:     *stats,
	}
}

// Store is the persistence interface for recommendation runs.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Run operations
	SaveRun(run *Run, predictions []recommend.Prediction) error
	GetRun(id string) (*Run, error)
	ListRuns() ([]*Run, error)
	DeleteRun(id string) error

	// Prediction operations
	Predictions(runID string) ([]recommend.Prediction, error)
	TopFor(runID string, user dataset.UserID) ([]recommend.Prediction, error)

	// Stats
	RunCount() (int64, error)

	// Lifecycle
	Close() error
}

// sortRuns orders runs oldest first, ties broken by id.
func sortRuns(runs []*Run) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.Before(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
