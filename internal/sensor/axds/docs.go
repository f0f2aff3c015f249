package axds

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

// SearchDoc is one document of the search API.
type SearchDoc struct {
	ID            int       `json:"id"`
	UUID          string    `json:"uuid"`
	Label         string    `json:"label"`
	Description   string    `json:"description"`
	Type          string    `json:"type"`
	StartDateTime string    `json:"start_date_time"`
	EndDateTime   string    `json:"end_date_time"`
	Data          DocData   `json:"data"`
	Source        DocSource `json:"source"`
}

// DocData is the platform section of a search document.
type DocData struct {
	Version int         `json:"version"`
	Figures []DocFigure `json:"figures"`
}

// DocFigure groups the plots of one parameter group.
type DocFigure struct {
	Label            string    `json:"label"`
	ParameterGroupID int       `json:"parameterGroupId"`
	Plots            []DocPlot `json:"plots"`
}

// DocPlot is one plot of a figure.
type DocPlot struct {
	SubPlots []DocSubPlot `json:"subPlots"`
}

// DocSubPlot ties a dataset variable to the device that records it.
type DocSubPlot struct {
	DatasetVariableID string `json:"datasetVariableId"`
	DeviceID          int    `json:"deviceId"`
	Units             string `json:"units"`
}

// DocSource is the file and attribute section of a search document.
type DocSource struct {
	Meta struct {
		Attributes struct {
			Institution      string `json:"institution"`
			GeospatialBounds string `json:"geospatial_bounds"`
		} `json:"attributes"`
		Variables map[string]json.RawMessage `json:"variables"`
	} `json:"meta"`
	Files map[string]struct {
		URL string `json:"url"`
	} `json:"files"`
}

// VariableNames returns the dataset variable names of the document, sorted.
func (d *SearchDoc) VariableNames() []string {
	names := make([]string, 0, len(d.Source.Meta.Variables))
	for name := range d.Source.Meta.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FileURL returns the URL of a named source file, or "" when absent.
func (d *SearchDoc) FileURL(name string) string {
	return d.Source.Files[name].URL
}

// LoadMetadata reshapes a search document into a station metadata record.
//
// Variables come from the figure subplots in document order; a variable listed under
// several figures keeps its first parameter group.
func LoadMetadata(doc *SearchDoc) (*sensor.StationMetadata, error) {
	md := &sensor.StationMetadata{
		InternalID:  doc.ID,
		DatasetID:   doc.UUID,
		Title:       doc.Label,
		Summary:     doc.Description,
		Institution: doc.Source.Meta.Attributes.Institution,
		Version:     doc.Data.Version,
	}

	var err error
	if doc.StartDateTime != "" {
		if md.MinTime, err = sensor.ParseTime(doc.StartDateTime); err != nil {
			return nil, fmt.Errorf("parse start_date_time: %w", err)
		}
	}
	if doc.EndDateTime != "" {
		if md.MaxTime, err = sensor.ParseTime(doc.EndDateTime); err != nil {
			return nil, fmt.Errorf("parse end_date_time: %w", err)
		}
	}

	if wktBounds := doc.Source.Meta.Attributes.GeospatialBounds; wktBounds != "" {
		if md.Bounds, err = ParseBounds(wktBounds); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{})
	var vars []sensor.Variable
	for _, fig := range doc.Data.Figures {
		for _, plot := range fig.Plots {
			for _, sp := range plot.SubPlots {
				if sp.DatasetVariableID == "" {
					continue
				}
				if _, dup := seen[sp.DatasetVariableID]; dup {
					continue
				}
				seen[sp.DatasetVariableID] = struct{}{}
				vars = append(vars, sensor.Variable{
					Name:             sp.DatasetVariableID,
					DeviceID:         sp.DeviceID,
					ParameterGroupID: fig.ParameterGroupID,
					Units:            sp.Units,
				})
			}
		}
	}
	md.Variables = sensor.NewVariableMetadata(vars)

	return md, nil
}

// ParseBounds returns the bounding box of a WKT geometry.
func ParseBounds(s string) (*sensor.Bounds, error) {
	geom, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("parse geospatial bounds: %w", err)
	}
	b := geom.Bound()
	return &sensor.Bounds{
		MinLon: b.Min.Lon(),
		MinLat: b.Min.Lat(),
		MaxLon: b.Max.Lon(),
		MaxLat: b.Max.Lat(),
	}, nil
}
