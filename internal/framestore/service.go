package framestore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

// DefaultKeep is the number of snapshots kept per dataset and options key.
const DefaultKeep = 5

// ServiceConfig holds configuration for the snapshot service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// Keep is the retention per dataset and options key (default: DefaultKeep).
	Keep int
}

// Service stores snapshots and applies retention.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	keep   int
}

// NewService creates a new snapshot service.
func NewService(cfg ServiceConfig) *Service {
	keep := cfg.Keep
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Service{repo: cfg.Repository, logger: cfg.Logger, keep: keep}
}

// Capture stores a copy of table and prunes older snapshots of the same dataset.
func (s *Service) Capture(ctx context.Context, datasetID string, opts sensor.Options, table *sensor.Table) (*Snapshot, error) {
	snap := NewSnapshot(datasetID, opts.Key(), table)
	if err := s.repo.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	pruned, err := s.repo.Prune(ctx, datasetID, s.keep)
	if err != nil {
		s.logger.Warn().Err(err).Str("dataset_id", datasetID).Msg("failed to prune snapshots")
	}

	s.logger.Info().
		Str("dataset_id", datasetID).
		Str("snapshot_id", snap.ID.String()).
		Int("rows", snap.Rows).
		Int("pruned", pruned).
		Msg("snapshot captured")
	return snap, nil
}

// Latest returns the newest snapshot of a dataset for the given options.
func (s *Service) Latest(ctx context.Context, datasetID string, opts sensor.Options) (*Snapshot, error) {
	return s.repo.Latest(ctx, datasetID, opts.Key())
}

// List returns snapshot headers of a dataset, newest first.
func (s *Service) List(ctx context.Context, datasetID string, limit int) ([]*Snapshot, error) {
	return s.repo.List(ctx, datasetID, limit)
}
