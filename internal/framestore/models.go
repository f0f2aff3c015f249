// Package framestore persists assembled station tables as snapshots.
package framestore

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

// ErrSnapshotNotFound is returned when no snapshot matches a lookup.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is one stored copy of an assembled station table.
type Snapshot struct {
	ID         uuid.UUID     `json:"id"`
	DatasetID  string        `json:"dataset_id"`
	OptionsKey string        `json:"options_key"`
	Rows       int           `json:"rows"`
	Cols       int           `json:"cols"`
	Table      *sensor.Table `json:"table,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// NewSnapshot captures a deep copy of table.
func NewSnapshot(datasetID, optionsKey string, table *sensor.Table) *Snapshot {
	rows, cols := table.Shape()
	return &Snapshot{
		ID:         uuid.New(),
		DatasetID:  datasetID,
		OptionsKey: optionsKey,
		Rows:       rows,
		Cols:       cols,
		Table:      table.Clone(),
		CreatedAt:  time.Now().UTC(),
	}
}
