package framestore

import (
	"context"
	"sort"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and for running without a database.
type InMemoryRepository struct {
	mu        sync.RWMutex
	snapshots map[string][]*Snapshot
}

// NewInMemoryRepository creates a new in-memory snapshot repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		snapshots: make(map[string][]*Snapshot),
	}
}

// Save stores a snapshot.
func (r *InMemoryRepository) Save(_ context.Context, s *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *s
	if s.Table != nil {
		cpy.Table = s.Table.Clone()
	}
	list := append(r.snapshots[s.DatasetID], &cpy)
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	r.snapshots[s.DatasetID] = list
	return nil
}

// Latest returns the newest snapshot of a dataset for an options key.
func (r *InMemoryRepository) Latest(_ context.Context, datasetID, optionsKey string) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.snapshots[datasetID] {
		if s.OptionsKey == optionsKey {
			cpy := *s
			if s.Table != nil {
				cpy.Table = s.Table.Clone()
			}
			return &cpy, nil
		}
	}
	return nil, ErrSnapshotNotFound
}

// List returns snapshot headers of a dataset, newest first.
func (r *InMemoryRepository) List(_ context.Context, datasetID string, limit int) ([]*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	list := r.snapshots[datasetID]
	out := make([]*Snapshot, 0, min(limit, len(list)))
	for _, s := range list {
		if len(out) == limit {
			break
		}
		cpy := *s
		cpy.Table = nil
		out = append(out, &cpy)
	}
	return out, nil
}

// Prune keeps the newest keep snapshots per options key of a dataset.
func (r *InMemoryRepository) Prune(_ context.Context, datasetID string, keep int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	perKey := make(map[string]int)
	var kept []*Snapshot
	deleted := 0
	for _, s := range r.snapshots[datasetID] {
		perKey[s.OptionsKey]++
		if perKey[s.OptionsKey] > keep {
			deleted++
			continue
		}
		kept = append(kept, s)
	}
	r.snapshots[datasetID] = kept
	return deleted, nil
}
