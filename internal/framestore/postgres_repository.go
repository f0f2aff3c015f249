package framestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

// PostgresRepository is a PostgreSQL implementation of Repository. Tables are
// stored as JSONB in split orientation.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL snapshot repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save stores a snapshot.
func (r *PostgresRepository) Save(ctx context.Context, s *Snapshot) error {
	frame, err := json.Marshal(s.Table)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	query := `
		INSERT INTO frame_snapshots (id, dataset_id, options_key, row_count, col_count, frame, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query, s.ID, s.DatasetID, s.OptionsKey, s.Rows, s.Cols, frame, s.CreatedAt)
	return err
}

// Latest returns the newest snapshot of a dataset for an options key.
func (r *PostgresRepository) Latest(ctx context.Context, datasetID, optionsKey string) (*Snapshot, error) {
	query := `
		SELECT id, dataset_id, options_key, row_count, col_count, frame, created_at
		FROM frame_snapshots
		WHERE dataset_id = $1 AND options_key = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	var (
		s     Snapshot
		frame []byte
	)
	err := r.pool.QueryRow(ctx, query, datasetID, optionsKey).Scan(
		&s.ID,
		&s.DatasetID,
		&s.OptionsKey,
		&s.Rows,
		&s.Cols,
		&frame,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}

	s.Table = &sensor.Table{}
	if err := json.Unmarshal(frame, s.Table); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &s, nil
}

// List returns snapshot headers of a dataset, newest first.
func (r *PostgresRepository) List(ctx context.Context, datasetID string, limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, dataset_id, options_key, row_count, col_count, created_at
		FROM frame_snapshots
		WHERE dataset_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, datasetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.DatasetID, &s.OptionsKey, &s.Rows, &s.Cols, &s.CreatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// Prune keeps the newest keep snapshots per options key of a dataset.
func (r *PostgresRepository) Prune(ctx context.Context, datasetID string, keep int) (int, error) {
	query := `
		DELETE FROM frame_snapshots
		WHERE id IN (
			SELECT id FROM (
				SELECT id, row_number() OVER (PARTITION BY options_key ORDER BY created_at DESC) AS rn
				FROM frame_snapshots
				WHERE dataset_id = $1
			) ranked
			WHERE rn > $2
		)
	`

	tag, err := r.pool.Exec(ctx, query, datasetID, keep)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
