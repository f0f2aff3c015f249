package sensor_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

const tempSaltFeed = `{
	"metadata": {
		"time": {"index": 0, "label": "time"},
		"z": null,
		"lon": null,
		"lat": null,
		"values": [
			{"index": 1, "deviceId": 1, "units": "degC"},
			{"index": 2, "deviceId": 2, "units": "PSU"}
		],
		"avgVals": [
			{"index": 5, "deviceId": 1, "units": "degC"},
			{"index": 6, "deviceId": 2, "units": "PSU"}
		],
		"qcAgg": [
			{"index": 3, "deviceId": 1},
			{"index": 4, "deviceId": 2}
		]
	},
	"data": [
		["2024-01-01T00:00:00Z", 10.5, 35.1, 1, 1, 10.0, 35.0],
		["2024-01-01T01:00:00Z", 11.0, 35.2, 4, 3, 10.8, 35.3],
		["2024-01-01T02:00:00Z", null, "35.4", 9, 2, null, null]
	]
}`

const depthFeed = `{
	"metadata": {
		"time": {"index": 0, "label": "time"},
		"z": {"index": 1, "label": "depth", "units": "m"},
		"values": [
			{"index": 2, "deviceId": 1, "units": "degC"},
			{"index": 3, "deviceId": 2, "units": "PSU"}
		]
	},
	"data": [
		["2024-01-01T00:00:00Z", 5, 10.5, 35.1],
		["2024-01-01T00:00:00Z", 1, 11.5, 34.9]
	]
}`

func tempSaltVars() sensor.VariableMetadata {
	return sensor.NewVariableMetadata([]sensor.Variable{
		{Name: "temp", DeviceID: 1, ParameterGroupID: 10, Units: "degC"},
		{Name: "salt", DeviceID: 2, ParameterGroupID: 20, Units: "PSU"},
	})
}

func decodeFeed(t *testing.T, raw string) sensor.Feed {
	t.Helper()
	var feed sensor.Feed
	require.NoError(t, json.Unmarshal([]byte(raw), &feed))
	return feed
}

func decodePayload(t *testing.T, feeds ...string) *sensor.FeedPayload {
	t.Helper()
	var payload sensor.FeedPayload
	for _, raw := range feeds {
		payload.Data.GroupedFeeds = append(payload.Data.GroupedFeeds, decodeFeed(t, raw))
	}
	return &payload
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func column(t *testing.T, table *sensor.Table, name string) []sensor.Value {
	t.Helper()
	vals, ok := table.Values(name)
	require.True(t, ok, "column %q not found in %v", name, table.ColumnNames())
	return vals
}

func TestParseFeed_TimeIndexWithUnits(t *testing.T) {
	feed := decodeFeed(t, tempSaltFeed)

	table, err := sensor.ParseFeed(&feed, tempSaltVars(), sensor.ParseOptions{UseUnits: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"time"}, table.Index)
	assert.Equal(t, []string{"temp [degC]", "salt [PSU]"}, table.ColumnNames())
	require.Len(t, table.Rows, 3)
	assert.Equal(t, mustTime(t, "2024-01-01T01:00:00Z"), table.Rows[1].Key.Time)
	assert.False(t, table.Rows[0].Key.HasDepth)

	temp := column(t, table, "temp [degC]")
	assert.Equal(t, sensor.Float(10.5), temp[0])
	assert.Equal(t, sensor.Null(), temp[2])

	salt := column(t, table, "salt [PSU]")
	assert.Equal(t, sensor.Float(35.4), salt[2])
}

func TestParseFeed_UnitsHidden(t *testing.T) {
	feed := decodeFeed(t, tempSaltFeed)

	table, err := sensor.ParseFeed(&feed, tempSaltVars(), sensor.ParseOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"temp", "salt"}, table.ColumnNames())
}

func TestParseFeed_DepthIndex(t *testing.T) {
	feed := decodeFeed(t, depthFeed)

	table, err := sensor.ParseFeed(&feed, tempSaltVars(), sensor.ParseOptions{UseUnits: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"time", "depth [m]"}, table.Index)
	assert.True(t, table.HasDepth())
	assert.Equal(t, []string{"temp [degC]", "salt [PSU]"}, table.ColumnNames())
	require.Len(t, table.Rows, 2)
	assert.True(t, table.Rows[0].Key.HasDepth)
	assert.Equal(t, sensor.Float(5), table.Rows[0].Key.Depth)
}

func TestParseFeed_BinnedReadsAveragedValues(t *testing.T) {
	feed := decodeFeed(t, tempSaltFeed)

	table, err := sensor.ParseFeed(&feed, tempSaltVars(), sensor.ParseOptions{UseUnits: true, Binned: true})
	require.NoError(t, err)

	temp := column(t, table, "temp [degC]")
	assert.Equal(t, []sensor.Value{sensor.Float(10.0), sensor.Float(10.8), sensor.Null()}, temp)
}

func TestParseFeed_QualityFilter(t *testing.T) {
	feed := decodeFeed(t, tempSaltFeed)

	table, err := sensor.ParseFeed(&feed, tempSaltVars(), sensor.ParseOptions{
		UseUnits: true,
		QC:       sensor.QCFilter(1, 3),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"temp [degC]", "salt [PSU]"}, table.ColumnNames())

	temp := column(t, table, "temp [degC]")
	assert.Equal(t, sensor.Float(10.5), temp[0], "flag 1 is accepted")
	assert.Equal(t, sensor.Null(), temp[1], "flag 4 is rejected")
	assert.Equal(t, sensor.Null(), temp[2], "flag 9 is rejected")

	salt := column(t, table, "salt [PSU]")
	assert.Equal(t, sensor.Float(35.1), salt[0])
	assert.Equal(t, sensor.Float(35.2), salt[1], "flag 3 is accepted")
	assert.Equal(t, sensor.Null(), salt[2], "flag 2 is rejected")
}

func TestParseFeed_QualityShow(t *testing.T) {
	feed := decodeFeed(t, tempSaltFeed)

	table, err := sensor.ParseFeed(&feed, tempSaltVars(), sensor.ParseOptions{
		UseUnits: true,
		QC:       sensor.QCShow(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"temp [degC]", "salt [PSU]", "temp_qc_agg", "salt_qc_agg"}, table.ColumnNames())
	assert.Equal(t, sensor.ColumnFlag, table.Columns[2].Kind)
	assert.Equal(t, "temp [degC]", table.Columns[2].DataColumn)

	assert.Equal(t, []sensor.Value{sensor.Float(1), sensor.Float(4), sensor.Float(9)}, column(t, table, "temp_qc_agg"))
	assert.Equal(t, []sensor.Value{sensor.Float(10.5), sensor.Float(11.0), sensor.Null()}, column(t, table, "temp [degC]"))
}

func TestParseFeed_QualityOffIgnoresFlags(t *testing.T) {
	feed := decodeFeed(t, tempSaltFeed)
	vars := sensor.NewVariableMetadata([]sensor.Variable{
		{Name: "temp", DeviceID: 1},
		{Name: "salt", DeviceID: 2},
	})
	// Flags pointing at unknown devices are never resolved when quality mode is off.
	feed.Metadata.QCAgg = append(feed.Metadata.QCAgg, sensor.FlagDescriptor{Index: 3, DeviceID: 99})

	table, err := sensor.ParseFeed(&feed, vars, sensor.ParseOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"temp", "salt"}, table.ColumnNames())
}

func TestParseFeed_LocationIsRejected(t *testing.T) {
	feed := decodeFeed(t, tempSaltFeed)
	feed.Metadata.Lon = json.RawMessage(`{"index": 7, "label": "lon"}`)

	_, err := sensor.ParseFeed(&feed, tempSaltVars(), sensor.ParseOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, sensor.ErrLocationOnSensorFeed)

	var locErr *sensor.LocationError
	require.True(t, errors.As(err, &locErr))
	assert.JSONEq(t, `{"index": 7, "label": "lon"}`, string(locErr.Lon))
}

func TestParseFeed_AmbiguousDevice(t *testing.T) {
	feed := decodeFeed(t, tempSaltFeed)
	vars := sensor.NewVariableMetadata([]sensor.Variable{
		{Name: "temp", DeviceID: 1},
		{Name: "sea_water_temperature", DeviceID: 1},
		{Name: "salt", DeviceID: 2},
	})

	_, err := sensor.ParseFeed(&feed, vars, sensor.ParseOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, sensor.ErrAmbiguousDevice)

	var mapErr *sensor.DeviceMappingError
	require.True(t, errors.As(err, &mapErr))
	assert.Equal(t, 1, mapErr.DeviceID)
	assert.Equal(t, []string{"sea_water_temperature", "temp"}, mapErr.Matches)
	assert.Equal(t, "value column", mapErr.Context)
}

func TestParseFeed_UnknownDevice(t *testing.T) {
	feed := decodeFeed(t, tempSaltFeed)
	vars := sensor.NewVariableMetadata([]sensor.Variable{{Name: "temp", DeviceID: 1}})

	_, err := sensor.ParseFeed(&feed, vars, sensor.ParseOptions{})

	var mapErr *sensor.DeviceMappingError
	require.True(t, errors.As(err, &mapErr))
	assert.Equal(t, 2, mapErr.DeviceID)
	assert.Empty(t, mapErr.Matches)
}

func TestParseFeed_FlagWithoutDataColumn(t *testing.T) {
	feed := decodeFeed(t, tempSaltFeed)
	feed.Metadata.Values = feed.Metadata.Values[:1]

	_, err := sensor.ParseFeed(&feed, tempSaltVars(), sensor.ParseOptions{QC: sensor.QCShow()})
	require.Error(t, err)
	assert.ErrorIs(t, err, sensor.ErrAmbiguousDevice)
}

func TestParseFeed_ShortRow(t *testing.T) {
	feed := decodeFeed(t, tempSaltFeed)
	feed.Data = append(feed.Data, []json.RawMessage{json.RawMessage(`"2024-01-01T03:00:00Z"`)})

	_, err := sensor.ParseFeed(&feed, tempSaltVars(), sensor.ParseOptions{})
	assert.ErrorIs(t, err, sensor.ErrRowShape)
}

func TestParseFeed_Deterministic(t *testing.T) {
	opts := sensor.ParseOptions{UseUnits: true, QC: sensor.QCShow()}

	first := decodeFeed(t, tempSaltFeed)
	a, err := sensor.ParseFeed(&first, tempSaltVars(), opts)
	require.NoError(t, err)

	second := decodeFeed(t, tempSaltFeed)
	b, err := sensor.ParseFeed(&second, tempSaltVars(), opts)
	require.NoError(t, err)

	assert.Equal(t, a, b)

	aJSON, err := json.Marshal(a)
	require.NoError(t, err)
	bJSON, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, aJSON, bJSON)
}

func TestParsePayload_NoFeeds(t *testing.T) {
	_, err := sensor.ParsePayload(decodePayload(t), tempSaltVars(), sensor.ParseOptions{})
	assert.ErrorIs(t, err, sensor.ErrNoData)

	_, err = sensor.ParsePayload(nil, tempSaltVars(), sensor.ParseOptions{})
	assert.ErrorIs(t, err, sensor.ErrNoData)
}

func TestParsePayload_EmptyFeedIsNotNoData(t *testing.T) {
	feed := decodeFeed(t, tempSaltFeed)
	feed.Data = nil
	payload := &sensor.FeedPayload{}
	payload.Data.GroupedFeeds = []sensor.Feed{feed}

	table, err := sensor.ParsePayload(payload, tempSaltVars(), sensor.ParseOptions{})
	require.NoError(t, err)

	rows, cols := table.Shape()
	assert.Equal(t, 0, rows)
	assert.Equal(t, 2, cols)
}

func TestParsePayload_MergesFeeds(t *testing.T) {
	wind := `{
		"metadata": {
			"time": {"index": 0, "label": "time"},
			"values": [{"index": 1, "deviceId": 3, "units": "m s-1"}]
		},
		"data": [
			["2024-01-01T00:30:00Z", 4.2],
			["2024-01-01T01:00:00Z", 5.1]
		]
	}`
	vars := sensor.NewVariableMetadata([]sensor.Variable{
		{Name: "temp", DeviceID: 1},
		{Name: "salt", DeviceID: 2},
		{Name: "wind_speed", DeviceID: 3},
	})

	table, err := sensor.ParsePayload(decodePayload(t, tempSaltFeed, wind), vars, sensor.ParseOptions{UseUnits: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"temp [degC]", "salt [PSU]", "wind_speed [m s-1]"}, table.ColumnNames())
	require.Len(t, table.Rows, 4)
	assert.Equal(t, mustTime(t, "2024-01-01T00:30:00Z"), table.Rows[1].Key.Time)
	assert.Equal(t, []sensor.Value{sensor.Null(), sensor.Null(), sensor.Float(4.2)}, table.Rows[1].Values)
	assert.Equal(t, []sensor.Value{sensor.Float(11.0), sensor.Float(35.2), sensor.Float(5.1)}, table.Rows[2].Values)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z"},
		{"2024-01-01T02:00:00+02:00", "2024-01-01T00:00:00Z"},
		{"2024-01-01T00:00:00", "2024-01-01T00:00:00Z"},
		{"2024-01-01 00:00:00", "2024-01-01T00:00:00Z"},
		{"2024-01-01", "2024-01-01T00:00:00Z"},
		{"1704067200", "2024-01-01T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := sensor.ParseTime(tt.input)
			require.NoError(t, err)
			assert.Equal(t, mustTime(t, tt.expected), got)
		})
	}

	for _, bad := range []string{"yesterday", "1e30", "-1e30", "NaN", "Inf"} {
		_, err := sensor.ParseTime(bad)
		assert.ErrorIs(t, err, sensor.ErrRowShape, bad)
	}
}
