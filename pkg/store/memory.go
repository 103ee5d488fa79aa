package store

import (
	"sort"
	"sync"

	"github.com/orneryd/kvasir/pkg/dataset"
	"github.com/orneryd/kvasir/pkg/recommend"
)

// MemoryStore keeps runs and predictions in process memory.
//
// Nothing is persisted; everything is lost on Close. Intended for tests
// and one-shot CLI invocations where a run is produced, printed, and
// discarded.
//
// Thread-safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	byUser map[string]map[dataset.UserID][]recommend.Prediction
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]*Run),
		byUser: make(map[string]map[dataset.UserID][]recommend.Prediction),
	}
}

// SaveRun stores a run and its predictions. The inputs are copied; callers
// may reuse them after SaveRun returns.
func (m *MemoryStore) SaveRun(run *Run, predictions []recommend.Prediction) error {
	if run == nil {
		return ErrInvalidData
	}
	if run.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if _, exists := m.runs[run.ID]; exists {
		return ErrAlreadyExists
	}

	r := *run
	m.runs[run.ID] = &r

	byUser, _ := groupByUser(predictions)
	m.byUser[run.ID] = byUser
	return nil
}

// GetRun retrieves a run by id.
func (m *MemoryStore) GetRun(id string) (*Run, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	r := *run
	return &r, nil
}

// ListRuns returns all stored runs, oldest first. Runs created in the same
// instant order by id.
func (m *MemoryStore) ListRuns() ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		r := *run
		runs = append(runs, &r)
	}
	sortRuns(runs)
	return runs, nil
}

// DeleteRun removes a run and all of its predictions.
func (m *MemoryStore) DeleteRun(id string) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	if _, ok := m.runs[id]; !ok {
		return ErrNotFound
	}
	delete(m.runs, id)
	delete(m.byUser, id)
	return nil
}

// Predictions returns every prediction of a run, users in lexicographic
// order, each user's predictions in the order given to SaveRun.
func (m *MemoryStore) Predictions(runID string) ([]recommend.Prediction, error) {
	if runID == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	byUser, ok := m.byUser[runID]
	if !ok {
		return nil, ErrNotFound
	}

	users := make([]dataset.UserID, 0, len(byUser))
	for user := range byUser {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	var out []recommend.Prediction
	for _, user := range users {
		out = append(out, byUser[user]...)
	}
	return out, nil
}

// TopFor returns one user's predictions for a run, in the order given to
// SaveRun. A run with no predictions for the user yields an empty result,
// not an error.
func (m *MemoryStore) TopFor(runID string, user dataset.UserID) ([]recommend.Prediction, error) {
	if runID == "" || user == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	byUser, ok := m.byUser[runID]
	if !ok {
		return nil, ErrNotFound
	}

	preds := byUser[user]
	out := make([]recommend.Prediction, len(preds))
	copy(out, preds)
	return out, nil
}

// RunCount returns the number of stored runs.
func (m *MemoryStore) RunCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStoreClosed
	}
	return int64(len(m.runs)), nil
}

// Close releases the store. Further calls return ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.runs = nil
	m.byUser = nil
	return nil
}

// groupByUser splits predictions into per-user lists, preserving input
// order within each user. The inner slices are fresh copies.
func groupByUser(predictions []recommend.Prediction) (map[dataset.UserID][]recommend.Prediction, []dataset.UserID) {
	byUser := make(map[dataset.UserID][]recommend.Prediction)
	var order []dataset.UserID
	for _, p := range predictions {
		if _, seen := byUser[p.User]; !seen {
			order = append(order, p.User)
		}
		byUser[p.User] = append(byUser[p.User], p)
	}
	return byUser, order
}
