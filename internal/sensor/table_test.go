package sensor_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

func TestTable_MarshalSplitOrientation(t *testing.T) {
	feed := decodeFeed(t, depthFeed)
	table, err := sensor.ParseFeed(&feed, tempSaltVars(), sensor.ParseOptions{UseUnits: true})
	require.NoError(t, err)

	data, err := json.Marshal(table)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"index_names": ["time", "depth [m]"],
		"columns": [
			{"name": "temp [degC]", "kind": "data", "units": "degC"},
			{"name": "salt [PSU]", "kind": "data", "units": "PSU"}
		],
		"index": [["2024-01-01T00:00:00Z", 5], ["2024-01-01T00:00:00Z", 1]],
		"data": [[10.5, 35.1], [11.5, 34.9]]
	}`, string(data))

	var decoded sensor.Table
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, table.Index, decoded.Index)
	assert.Equal(t, table.Columns, decoded.Columns)
	require.Len(t, decoded.Rows, 2)
	assert.True(t, table.Rows[1].Key.Time.Equal(decoded.Rows[1].Key.Time))
	assert.Equal(t, table.Rows[1].Key.Depth, decoded.Rows[1].Key.Depth)
	assert.Equal(t, table.Rows[1].Values, decoded.Rows[1].Values)
}

func TestTable_UnmarshalRejectsRaggedIndex(t *testing.T) {
	var decoded sensor.Table
	err := json.Unmarshal([]byte(`{"index_names":["time"],"columns":[],"index":[],"data":[[1]]}`), &decoded)
	assert.ErrorIs(t, err, sensor.ErrRowShape)
}

func TestValue_MarshalMissing(t *testing.T) {
	for _, v := range []sensor.Value{sensor.Null(), sensor.Float(math.NaN()), sensor.Float(math.Inf(1))} {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, "null", string(data))
	}
}

func TestTable_DropColumn(t *testing.T) {
	feed := decodeFeed(t, tempSaltFeed)
	table, err := sensor.ParseFeed(&feed, tempSaltVars(), sensor.ParseOptions{})
	require.NoError(t, err)

	table.DropColumn("temp")
	table.DropColumn("unknown")

	assert.Equal(t, []string{"salt"}, table.ColumnNames())
	for _, row := range table.Rows {
		assert.Len(t, row.Values, 1)
	}
	assert.Equal(t, sensor.Float(35.1), table.Rows[0].Values[0])
}

func TestTable_DTypes(t *testing.T) {
	feed := decodeFeed(t, depthFeed)
	table, err := sensor.ParseFeed(&feed, tempSaltVars(), sensor.ParseOptions{UseUnits: true})
	require.NoError(t, err)

	assert.Equal(t, []sensor.ColumnSchema{
		{Name: "time", DType: "datetime64[ns, UTC]", Role: "index"},
		{Name: "depth [m]", DType: "float64", Role: "index"},
		{Name: "temp [degC]", DType: "float64", Role: "data"},
		{Name: "salt [PSU]", DType: "float64", Role: "data"},
	}, table.DTypes())
}
