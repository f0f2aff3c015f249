// Package catalog discovers AXDS datasets and describes them as catalog entries.
package catalog

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Configuration errors.
var (
	ErrPartialBounds    = errors.New("min_lon, max_lon, min_lat and max_lat must be given together")
	ErrPartialTimeRange = errors.New("min_time and max_time must be given together")
	ErrLongitudeRange   = errors.New("longitude bounds must be in the range -180 to 180")
	ErrGriddedDataframe = errors.New("modules cannot be exported as dataframes since they are gridded data")
	ErrUnknownOutType   = errors.New("unknown output type")
	ErrNoParameterMatch = errors.New("no parameter group matches key")
	ErrInvalidPageSize  = errors.New("page size must be positive")
)

// Dataset types of the search API.
const (
	DataTypePlatform = "platform2"
	DataTypeModule   = "module"
)

// Output types of catalog entries.
const (
	OutTypeDataframe = "dataframe"
	OutTypeXarray    = "xarray"
)

// DefaultPageSize is the number of search results requested.
const DefaultPageSize = 10

// SearchParams selects datasets to list.
type SearchParams struct {
	DataType string
	OutType  string
	PageSize int

	MinLon *float64
	MaxLon *float64
	MinLat *float64
	MaxLat *float64

	MinTime *time.Time
	MaxTime *time.Time

	// KeysToMatch is matched against parameter group names to filter by variable.
	KeysToMatch string
}

// Validate applies defaults and checks that bounds are complete and in range.
func (p *SearchParams) Validate() error {
	if p.DataType == "" {
		p.DataType = DataTypePlatform
	}
	if p.OutType == "" {
		p.OutType = OutTypeDataframe
	}
	if p.PageSize == 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize < 0 {
		return ErrInvalidPageSize
	}

	switch p.OutType {
	case OutTypeDataframe, OutTypeXarray:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOutType, p.OutType)
	}
	if p.DataType == DataTypeModule && p.OutType == OutTypeDataframe {
		return ErrGriddedDataframe
	}

	if n := countSet(p.MinLon, p.MaxLon, p.MinLat, p.MaxLat); n != 0 && n != 4 {
		return ErrPartialBounds
	}
	if (p.MinTime == nil) != (p.MaxTime == nil) {
		return ErrPartialTimeRange
	}
	if p.HasBounds() && (math.Abs(*p.MinLon) > 180 || math.Abs(*p.MaxLon) > 180) {
		return ErrLongitudeRange
	}
	return nil
}

// HasBounds reports whether a bounding box is set.
func (p *SearchParams) HasBounds() bool {
	return countSet(p.MinLon, p.MaxLon, p.MinLat, p.MaxLat) == 4
}

// HasTimeRange reports whether a time window is set.
func (p *SearchParams) HasTimeRange() bool {
	return p.MinTime != nil && p.MaxTime != nil
}

func countSet(vals ...*float64) int {
	n := 0
	for _, v := range vals {
		if v != nil {
			n++
		}
	}
	return n
}

// SearchURL builds the search request for validated params. pgLabel, when set,
// restricts results to one parameter group.
func SearchURL(base string, p SearchParams, pgLabel string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(base, "/"))
	b.WriteString("/search?portalId=-1&page=1&pageSize=")
	b.WriteString(strconv.Itoa(p.PageSize))
	b.WriteString("&verbose=true&type=")
	b.WriteString(url.QueryEscape(p.DataType))

	if p.HasBounds() {
		b.WriteString("&geom=")
		b.WriteString(url.QueryEscape(boxGeoJSON(*p.MinLon, *p.MinLat, *p.MaxLon, *p.MaxLat)))
	}
	if p.HasTimeRange() {
		fmt.Fprintf(&b, "&startDateTime=%d&endDateTime=%d", p.MinTime.Unix(), p.MaxTime.Unix())
	}
	if pgLabel != "" {
		b.WriteString("&tag=")
		b.WriteString(url.QueryEscape("Parameter Group:" + pgLabel))
	}
	return b.String()
}

// boxGeoJSON returns the closed polygon of a bounding box, counter-clockwise from
// the south-west corner.
func boxGeoJSON(minLon, minLat, maxLon, maxLat float64) string {
	bound := orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}
	// Marshal cannot fail for a finite polygon.
	data, _ := geojson.NewGeometry(bound.ToPolygon()).MarshalJSON()
	return string(data)
}
