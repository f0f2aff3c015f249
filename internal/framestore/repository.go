package framestore

import "context"

// Repository defines the interface for snapshot persistence.
type Repository interface {
	// Save stores a snapshot.
	Save(ctx context.Context, s *Snapshot) error

	// Latest returns the newest snapshot of a dataset for an options key.
	// Returns ErrSnapshotNotFound if none exists.
	Latest(ctx context.Context, datasetID, optionsKey string) (*Snapshot, error)

	// List returns snapshot headers of a dataset, newest first, without tables.
	List(ctx context.Context, datasetID string, limit int) ([]*Snapshot, error)

	// Prune keeps the newest keep snapshots per options key of a dataset and
	// returns how many were deleted.
	Prune(ctx context.Context, datasetID string, keep int) (int, error)
}
