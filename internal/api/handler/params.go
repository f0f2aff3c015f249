package handler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oceanfeed/oceanfeed/internal/api/models"
	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

// StationRef is a station as named in a request path. A positive integer key is an
// internal id; anything else is a dataset id.
type StationRef struct {
	Key        string
	InternalID int
	DatasetID  string
}

// ParseStationRef classifies a station key.
func ParseStationRef(key string) StationRef {
	key = strings.TrimSpace(key)
	if id, err := strconv.Atoi(key); err == nil && id > 0 {
		return StationRef{Key: key, InternalID: id}
	}
	return StationRef{Key: key, DatasetID: key}
}

// queryErrors collects per-parameter validation failures.
type queryErrors []models.FieldError

func (e *queryErrors) add(field, code string, err error) {
	*e = append(*e, models.FieldError{Field: field, Message: err.Error(), Code: code})
}

func parseTimeParam(q url.Values, field string, errs *queryErrors) *time.Time {
	raw := q.Get(field)
	if raw == "" {
		return nil
	}
	t, err := sensor.ParseTime(raw)
	if err != nil {
		errs.add(field, "INVALID_TIME", fmt.Errorf("unrecognised timestamp %q", raw))
		return nil
	}
	return &t
}

func parseBoolParam(q url.Values, field string, def bool, errs *queryErrors) bool {
	raw := q.Get(field)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		errs.add(field, "INVALID_BOOL", fmt.Errorf("expected true or false, got %q", raw))
		return def
	}
	return b
}

func parseFloatParam(q url.Values, field string, errs *queryErrors) *float64 {
	raw := q.Get(field)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		errs.add(field, "INVALID_NUMBER", fmt.Errorf("expected a number, got %q", raw))
		return nil
	}
	return &f
}

func parseIntParam(q url.Values, field string, def int, errs *queryErrors) int {
	raw := q.Get(field)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		errs.add(field, "INVALID_NUMBER", fmt.Errorf("expected an integer, got %q", raw))
		return def
	}
	return n
}

// ParseSourceOptions reads start, end, qartod, units, binned and bin_interval.
// Field errors are returned for unparsable values; cross-field checks are left to
// sensor.Options.Validate.
func ParseSourceOptions(q url.Values) (sensor.Options, []models.FieldError) {
	var errs queryErrors
	opts := sensor.DefaultOptions()

	opts.Start = parseTimeParam(q, "start", &errs)
	opts.End = parseTimeParam(q, "end", &errs)
	opts.UseUnits = parseBoolParam(q, "units", true, &errs)
	opts.Binned = parseBoolParam(q, "binned", false, &errs)
	opts.BinInterval = q.Get("bin_interval")

	qc, err := sensor.ParseQCMode(q.Get("qartod"))
	if err != nil {
		errs.add("qartod", "INVALID_QARTOD", err)
	}
	opts.QC = qc

	return opts, errs
}
