// Package worker refreshes station snapshots and exports in the background.
package worker

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

// Configuration errors.
var (
	ErrNoStations      = errors.New("refresh config lists no stations")
	ErrStationIdentity = errors.New("station needs a dataset_id or internal_id")
	ErrDuplicateTarget = errors.New("station is listed twice")
)

// StationTarget is one station to refresh, as listed in the worker config.
type StationTarget struct {
	// Name is a human-readable label used in logs.
	Name string `yaml:"name"`

	DatasetID  string `yaml:"dataset_id"`
	InternalID int    `yaml:"internal_id"`

	// Read options. Units default to true.
	QARTOD      string `yaml:"qartod"`
	Units       *bool  `yaml:"units"`
	Binned      bool   `yaml:"binned"`
	BinInterval string `yaml:"bin_interval"`

	// Lookback limits the read to the trailing window. Zero reads the full record.
	Lookback time.Duration `yaml:"lookback"`
}

// Key identifies the target: the dataset id when known, otherwise the internal id.
func (t StationTarget) Key() string {
	if t.DatasetID != "" {
		return t.DatasetID
	}
	return strconv.Itoa(t.InternalID)
}

// Label returns the name when set, otherwise the key.
func (t StationTarget) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Key()
}

// Options builds validated read options. A lookback window ends at now.
func (t StationTarget) Options(now time.Time) (sensor.Options, error) {
	opts := sensor.DefaultOptions()
	if t.Units != nil {
		opts.UseUnits = *t.Units
	}
	opts.Binned = t.Binned
	opts.BinInterval = t.BinInterval

	qc, err := sensor.ParseQCMode(t.QARTOD)
	if err != nil {
		return opts, err
	}
	opts.QC = qc

	if t.Lookback > 0 {
		end := now.UTC().Truncate(time.Hour)
		start := end.Add(-t.Lookback)
		opts.Start, opts.End = &start, &end
	}

	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// RefreshConfig holds configuration for the station refresh job.
type RefreshConfig struct {
	Stations []StationTarget `yaml:"stations"`

	// Concurrency is the number of stations refreshed at once.
	// Default: 3
	Concurrency int `yaml:"concurrency"`

	// Timeout bounds each station refresh.
	// Default: 2 minutes
	Timeout time.Duration `yaml:"timeout"`

	// Interval is the ticker period when the worker runs without Pub/Sub.
	// Default: 1 hour
	Interval time.Duration `yaml:"interval"`

	// Export uploads a Parquet copy of every refreshed table.
	// Default: true
	Export bool `yaml:"export"`
}

// DefaultRefreshConfig returns the default refresh configuration, without stations.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Concurrency: 3,
		Timeout:     2 * time.Minute,
		Interval:    time.Hour,
		Export:      true,
	}
}

// LoadRefreshConfig reads a YAML refresh config. ${VAR} references are expanded from
// the environment before parsing; unset keys keep their defaults.
func LoadRefreshConfig(path string) (RefreshConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RefreshConfig{}, fmt.Errorf("read refresh config: %w", err)
	}
	return ParseRefreshConfig(data)
}

// ParseRefreshConfig parses and validates a YAML refresh config.
func ParseRefreshConfig(data []byte) (RefreshConfig, error) {
	cfg := DefaultRefreshConfig()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return RefreshConfig{}, fmt.Errorf("parse refresh config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return RefreshConfig{}, err
	}
	return cfg, nil
}

// Validate checks every station and applies defaults to zero settings.
func (c *RefreshConfig) Validate() error {
	if len(c.Stations) == 0 {
		return ErrNoStations
	}
	def := DefaultRefreshConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}

	seen := make(map[string]struct{}, len(c.Stations))
	for i, s := range c.Stations {
		if s.DatasetID == "" && s.InternalID <= 0 {
			return fmt.Errorf("station %d: %w", i, ErrStationIdentity)
		}
		if _, dup := seen[s.Key()]; dup {
			return fmt.Errorf("station %s: %w", s.Key(), ErrDuplicateTarget)
		}
		seen[s.Key()] = struct{}{}
		if _, err := s.Options(time.Now()); err != nil {
			return fmt.Errorf("station %s: %w", s.Key(), err)
		}
	}
	return nil
}

// Select returns the configured targets of the given dataset ids, in request order.
// Ids that are not configured are refreshed with default options.
func (c RefreshConfig) Select(datasetIDs []string) []StationTarget {
	byKey := make(map[string]StationTarget, len(c.Stations))
	for _, s := range c.Stations {
		byKey[s.Key()] = s
	}

	out := make([]StationTarget, 0, len(datasetIDs))
	seen := make(map[string]struct{}, len(datasetIDs))
	for _, id := range datasetIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if s, ok := byKey[id]; ok {
			out = append(out, s)
			continue
		}
		out = append(out, StationTarget{DatasetID: id})
	}
	return out
}
