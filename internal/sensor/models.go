// Package sensor assembles ocean-sensor feeds into indexed tables.
package sensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Configuration errors.
var (
	ErrMissingIdentifier  = errors.New("internal id and dataset id cannot both be empty")
	ErrInvalidBinInterval = errors.New("invalid bin interval")
	ErrInvalidTimeRange   = errors.New("start time is after end time")
)

// Data-shape errors.
var (
	ErrLocationOnSensorFeed = errors.New("sensor feed carries a location coordinate")
	ErrAmbiguousDevice      = errors.New("device id does not map to exactly one variable")
	ErrRowShape             = errors.New("feed row does not match its descriptors")
	ErrIndexMismatch        = errors.New("tables have different index columns")
	ErrColumnOverlap        = errors.New("tables share a data column name")
)

// ErrNoData reports a payload without any feed groups. It is distinct from a table
// with zero rows.
var ErrNoData = errors.New("no data for station")

// IsConfigError reports whether err stems from invalid source options.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrMissingIdentifier) ||
		errors.Is(err, ErrInvalidBinInterval) ||
		errors.Is(err, ErrInvalidTimeRange)
}

// IsDataShapeError reports whether err stems from a feed that does not match its
// descriptors or from tables that cannot be merged.
func IsDataShapeError(err error) bool {
	return errors.Is(err, ErrLocationOnSensorFeed) ||
		errors.Is(err, ErrAmbiguousDevice) ||
		errors.Is(err, ErrRowShape) ||
		errors.Is(err, ErrIndexMismatch) ||
		errors.Is(err, ErrColumnOverlap)
}

// SchemaVersionLegacy is the station schema version that fetches per parameter group.
const SchemaVersionLegacy = 1

// Variable describes one measured variable of a station.
type Variable struct {
	Name             string
	DeviceID         int
	ParameterGroupID int
	Units            string
}

// VariableMetadata is the immutable set of station variables with a device index.
type VariableMetadata struct {
	vars     []Variable
	byDevice map[int][]string
}

// NewVariableMetadata builds the device lookup once. Variable order is preserved.
func NewVariableMetadata(vars []Variable) VariableMetadata {
	owned := make([]Variable, len(vars))
	copy(owned, vars)

	byDevice := make(map[int][]string, len(owned))
	for _, v := range owned {
		byDevice[v.DeviceID] = append(byDevice[v.DeviceID], v.Name)
	}
	for id := range byDevice {
		sort.Strings(byDevice[id])
	}

	return VariableMetadata{vars: owned, byDevice: byDevice}
}

// Variables returns a copy of the variables in metadata order.
func (m VariableMetadata) Variables() []Variable {
	out := make([]Variable, len(m.vars))
	copy(out, m.vars)
	return out
}

// Len returns the number of variables.
func (m VariableMetadata) Len() int {
	return len(m.vars)
}

// LabelForDevice returns the single variable name registered for deviceID.
func (m VariableMetadata) LabelForDevice(deviceID int) (string, error) {
	names := m.byDevice[deviceID]
	if len(names) != 1 {
		return "", &DeviceMappingError{DeviceID: deviceID, Matches: append([]string(nil), names...)}
	}
	return names[0], nil
}

// DeviceMappingError is returned when a device id resolves to zero or several labels.
type DeviceMappingError struct {
	DeviceID int
	Matches  []string
	Context  string
}

func (e *DeviceMappingError) Error() string {
	where := ""
	if e.Context != "" {
		where = e.Context + ": "
	}
	if len(e.Matches) == 0 {
		return fmt.Sprintf("%sdevice %d has no matching variable", where, e.DeviceID)
	}
	return fmt.Sprintf("%sdevice %d matches %d variables (%s)", where, e.DeviceID, len(e.Matches), strings.Join(e.Matches, ", "))
}

func (e *DeviceMappingError) Unwrap() error {
	return ErrAmbiguousDevice
}

// LocationError is returned when a sensor feed carries lon or lat descriptors.
type LocationError struct {
	Lon json.RawMessage
	Lat json.RawMessage
}

func (e *LocationError) Error() string {
	return fmt.Sprintf("lon/lat should be null for sensors but are %s, %s", rawOrNull(e.Lon), rawOrNull(e.Lat))
}

func (e *LocationError) Unwrap() error {
	return ErrLocationOnSensorFeed
}

func rawOrNull(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}

// Bounds is a geographic bounding box.
type Bounds struct {
	MinLon float64 `json:"minLongitude"`
	MinLat float64 `json:"minLatitude"`
	MaxLon float64 `json:"maxLongitude"`
	MaxLat float64 `json:"maxLatitude"`
}

// StationMetadata is the metadata record of one sensor station.
type StationMetadata struct {
	InternalID  int
	DatasetID   string
	Title       string
	Summary     string
	Institution string
	Version     int
	Variables   VariableMetadata
	MinTime     time.Time
	MaxTime     time.Time
	Bounds      *Bounds
}

// IsLegacy reports whether the station uses the per-parameter-group schema.
func (m *StationMetadata) IsLegacy() bool {
	return m.Version == SchemaVersionLegacy
}

// Filter requests one feed payload for a station.
type Filter struct {
	StationID         int
	ParameterGroupID  int
	HasParameterGroup bool
}

func (f Filter) String() string {
	if f.HasParameterGroup {
		return fmt.Sprintf("station=%d parameterGroup=%d", f.StationID, f.ParameterGroupID)
	}
	return fmt.Sprintf("station=%d", f.StationID)
}

// FeedRequest is the input of a single feed fetch.
type FeedRequest struct {
	Filter      Filter
	Start       time.Time
	End         time.Time
	Binned      bool
	BinInterval string
}

// Feed payload wire types.

// FeedPayload is the decoded response of a feed fetch.
type FeedPayload struct {
	Data struct {
		GroupedFeeds []Feed `json:"groupedFeeds"`
	} `json:"data"`
}

// Feeds returns the grouped feeds of the payload.
func (p *FeedPayload) Feeds() []Feed {
	if p == nil {
		return nil
	}
	return p.Data.GroupedFeeds
}

// Feed is one group of series sharing an index.
type Feed struct {
	Metadata FeedMetadata        `json:"metadata"`
	Data     [][]json.RawMessage `json:"data"`
}

// FeedMetadata describes the positional layout of a feed's rows.
type FeedMetadata struct {
	Time    IndexDescriptor   `json:"time"`
	Z       *IndexDescriptor  `json:"z"`
	Lon     json.RawMessage   `json:"lon"`
	Lat     json.RawMessage   `json:"lat"`
	Values  []ValueDescriptor `json:"values"`
	AvgVals []ValueDescriptor `json:"avgVals"`
	QCAgg   []FlagDescriptor  `json:"qcAgg"`
}

// IndexDescriptor describes an index slot.
type IndexDescriptor struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Units string `json:"units,omitempty"`
}

// ValueDescriptor describes a measured-variable slot.
type ValueDescriptor struct {
	Index    int    `json:"index"`
	DeviceID int    `json:"deviceId"`
	Label    string `json:"label,omitempty"`
	Units    string `json:"units,omitempty"`
}

// FlagDescriptor describes an aggregate quality-flag slot.
type FlagDescriptor struct {
	Index    int `json:"index"`
	DeviceID int `json:"deviceId"`
}

func isJSONNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
