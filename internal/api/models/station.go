package models

import (
	"github.com/oceanfeed/oceanfeed/internal/catalog"
	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

// StationSchema is the response of GET /v1/stations/{key}/schema.
type StationSchema struct {
	Station string `json:"station"`
	*sensor.Schema
}

// SnapshotSummary describes a persisted table without its rows.
type SnapshotSummary struct {
	ID         string    `json:"id"`
	DatasetID  string    `json:"datasetId"`
	OptionsKey string    `json:"optionsKey"`
	Rows       int       `json:"rows"`
	Cols       int       `json:"cols"`
	CreatedAt  Timestamp `json:"createdAt"`
}

// Snapshot is the response of GET /v1/stations/{key}/snapshot.
type Snapshot struct {
	SnapshotSummary
	Table *sensor.Table `json:"table"`
}

// SnapshotList is the response of GET /v1/stations/{key}/snapshots.
type SnapshotList struct {
	Items []SnapshotSummary `json:"items"`
}

// CacheEviction is the response of DELETE /v1/stations/{key}/cache.
type CacheEviction struct {
	Station string `json:"station"`
	Evicted int    `json:"evicted"`
}

// CatalogSearch is the response of GET /v1/catalog/search.
type CatalogSearch struct {
	ParameterGroup string          `json:"parameterGroup,omitempty"`
	Count          int             `json:"count"`
	Entries        []catalog.Entry `json:"entries"`
}
