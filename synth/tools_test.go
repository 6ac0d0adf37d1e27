package synth

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/widgetkit/predicate"
	"github.com/spektr-org/widgetkit/schema"
)

func TestToolsMenu(t *testing.T) {
	tools := Tools()
	require.Len(t, tools, 4)
	names := make([]string, len(tools))
	for i, tl := range tools {
		names[i] = tl.Name
		require.NotNil(t, tl.Parameters)
		assert.Equal(t, "object", tl.Parameters.Type)
	}
	assert.Equal(t, []string{ToolGetSchema, ToolExploreField, ToolPreviewGrouping, ToolEmitConfiguration}, names)

	emit := tools[3].Parameters
	assert.Contains(t, emit.Required, "reasoning")
	assert.Contains(t, emit.Properties["visualizationType"].Enum, "choropleth")
	assert.Contains(t, emit.Properties["filters"].Items.Properties["operator"].Enum, "contains_any")
}

func decode(t *testing.T, res ToolResult) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content), &out))
	return out
}

func TestToolboxGetSchema(t *testing.T) {
	tb := newToolbox(shipments(), nil, nil, 100)
	res := tb.call(context.Background(), call("1", ToolGetSchema, nil))
	assert.False(t, res.IsError)
	assert.Equal(t, "1", res.CallID)
	assert.Equal(t, ToolGetSchema, res.Name)

	out := decode(t, res)
	assert.EqualValues(t, 4, out["rowCount"])
	assert.Contains(t, res.Content, "retail")

	// Fixed schemas are returned as is.
	fixed := &schema.Config{Name: "fixed"}
	res = newToolbox(nil, fixed, nil, 100).call(context.Background(), call("2", ToolGetSchema, nil))
	assert.False(t, res.IsError)
	assert.Equal(t, "fixed", decode(t, res)["name"])
}

func TestToolboxExploreField(t *testing.T) {
	tb := newToolbox(shipments(), nil, nil, 100)

	res := tb.call(context.Background(), call("1", ToolExploreField, map[string]any{"field": "carrier_name", "topValues": 1}))
	require.False(t, res.IsError, res.Content)
	var prof schema.FieldProfile
	require.NoError(t, json.Unmarshal([]byte(res.Content), &prof))
	assert.Equal(t, 3, prof.Distinct)
	require.Len(t, prof.TopValues, 1)
	assert.Equal(t, "Acme", prof.TopValues[0].Value)
	assert.Equal(t, 2, prof.TopValues[0].Count)
	assert.True(t, prof.Truncated)

	res = tb.call(context.Background(), call("2", ToolExploreField, map[string]any{"field": "nope"}))
	assert.True(t, res.IsError)
	assert.Contains(t, decode(t, res)["error"], "available: carrier_name, retail, state")

	res = tb.call(context.Background(), call("3", ToolExploreField, nil))
	assert.True(t, res.IsError)
}

func TestToolboxPreviewGroupingHonoursConditions(t *testing.T) {
	conds := []predicate.Condition{{Field: "state", Operator: predicate.OpEq, Value: "CA"}}
	tb := newToolbox(shipments(), nil, conds, 100)

	res := tb.call(context.Background(), call("1", ToolPreviewGrouping, map[string]any{"xField": "carrier_name", "yField": "retail"}))
	require.False(t, res.IsError, res.Content)
	var out previewResult
	require.NoError(t, json.Unmarshal([]byte(res.Content), &out))
	assert.Equal(t, 2, out.RowCount)
	require.Len(t, out.Categories, 2)
	assert.Equal(t, "Acme", out.Categories[0].Name)
	assert.Equal(t, 100.0, out.Categories[0].Value)

	res = tb.call(context.Background(), call("2", ToolPreviewGrouping, map[string]any{"xField": "carrier_name", "limit": 1}))
	require.NoError(t, json.Unmarshal([]byte(res.Content), &out))
	require.Len(t, out.Categories, 1)
	assert.True(t, out.Truncated)
	assert.Equal(t, 1.0, out.Categories[0].Value)
}

func TestToolboxErrors(t *testing.T) {
	tests := []struct {
		name string
		tb   *toolbox
		tc   ToolCall
	}{
		{"no source", newToolbox(nil, nil, nil, 10), call("1", ToolExploreField, map[string]any{"field": "x"})},
		{"unknown tool", newToolbox(shipments(), nil, nil, 10), call("1", "drop_table", nil)},
		{"unknown aggregation", newToolbox(shipments(), nil, nil, 10), call("1", ToolPreviewGrouping, map[string]any{"xField": "state", "aggregation": "median"})},
		{"unknown y", newToolbox(shipments(), nil, nil, 10), call("1", ToolPreviewGrouping, map[string]any{"xField": "state", "yField": "weight"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.tb.call(context.Background(), tt.tc)
			assert.True(t, res.IsError)
			assert.NotEmpty(t, decode(t, res)["error"])
		})
	}
}
