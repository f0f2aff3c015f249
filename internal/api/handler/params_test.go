package handler_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanfeed/oceanfeed/internal/api/handler"
)

func TestParseStationRef(t *testing.T) {
	tests := []struct {
		key  string
		want handler.StationRef
	}{
		{"42", handler.StationRef{Key: "42", InternalID: 42}},
		{" 42 ", handler.StationRef{Key: "42", InternalID: 42}},
		{"0", handler.StationRef{Key: "0", DatasetID: "0"}},
		{"-3", handler.StationRef{Key: "-3", DatasetID: "-3"}},
		{"edu_ucsd_cdip_154", handler.StationRef{Key: "edu_ucsd_cdip_154", DatasetID: "edu_ucsd_cdip_154"}},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, handler.ParseStationRef(tt.key))
		})
	}
}

func TestParseSourceOptions_Defaults(t *testing.T) {
	opts, errs := handler.ParseSourceOptions(url.Values{})
	require.Empty(t, errs)
	assert.True(t, opts.UseUnits)
	assert.False(t, opts.Binned)
	assert.False(t, opts.QC.Enabled())
	assert.Nil(t, opts.Start)
	assert.Nil(t, opts.End)
}

func TestParseSourceOptions(t *testing.T) {
	q := url.Values{
		"start":        {"2024-01-01"},
		"end":          {"2024-01-02T12:00:00Z"},
		"qartod":       {"1,2"},
		"units":        {"false"},
		"bin_interval": {"Daily"},
	}
	opts, errs := handler.ParseSourceOptions(q)
	require.Empty(t, errs)
	require.NotNil(t, opts.Start)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *opts.Start)
	assert.Equal(t, time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC), *opts.End)
	assert.True(t, opts.QC.Filtering())
	assert.Equal(t, []int{1, 2}, opts.QC.Accepted())
	assert.False(t, opts.UseUnits)

	require.NoError(t, opts.Validate())
	assert.True(t, opts.Binned)
	assert.Equal(t, "daily", opts.BinInterval)
}

func TestParseSourceOptions_Errors(t *testing.T) {
	q := url.Values{
		"start":  {"last week"},
		"binned": {"sometimes"},
		"qartod": {"x"},
	}
	_, errs := handler.ParseSourceOptions(q)
	require.Len(t, errs, 3)

	codes := map[string]string{}
	for _, e := range errs {
		codes[e.Field] = e.Code
	}
	assert.Equal(t, map[string]string{
		"start":  "INVALID_TIME",
		"binned": "INVALID_BOOL",
		"qartod": "INVALID_QARTOD",
	}, codes)
}
