package engine

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/widgetkit/predicate"
)

// ============================================================================
// EXECUTOR TESTS
// ============================================================================

var carrierRows = []Row{
	{"carrier": "A", "retail": 100},
	{"carrier": "B", "retail": 200},
	{"carrier": "A", "retail": 50},
}

func TestCategoricalSumDescending(t *testing.T) {
	cfg := VisualizationConfig{Type: KindBar, XField: "carrier", YField: "retail", Aggregation: AggSum}
	res := Execute(carrierRows, cfg, nil)

	want := []Category{
		{Name: "B", Value: 200, Count: 1},
		{Name: "A", Value: 150, Count: 2},
	}
	if diff := cmp.Diff(want, res.Categories); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, FamilyCategorical, res.Family)
	assert.False(t, res.Truncated)
}

func TestKPIAvgOnEmptyRows(t *testing.T) {
	cfg := VisualizationConfig{Type: KindKPI, YField: "retail", Aggregation: AggAvg}
	res := Execute(nil, cfg, nil)
	require.NotNil(t, res.KPI)
	assert.Equal(t, 0.0, res.KPI.Value)
	assert.True(t, res.IsEmpty())
}

func TestKPIWithoutYFieldCounts(t *testing.T) {
	cfg := VisualizationConfig{Type: KindKPI, Aggregation: AggSum}
	res := Execute(carrierRows, cfg, nil)
	require.NotNil(t, res.KPI)
	assert.Equal(t, 3.0, res.KPI.Value)
	assert.Equal(t, AggCount, res.KPI.Aggregation)
	assert.Equal(t, "3", res.KPI.Formatted)
}

func TestAggregationFunctions(t *testing.T) {
	rows := []Row{
		{"g": "x", "v": 4},
		{"g": "x", "v": "6"},
		{"g": "x", "v": "n/a"},
		{"g": "x"},
	}
	tests := []struct {
		agg  Aggregation
		want float64
	}{
		{AggSum, 10},
		{AggAvg, 2.5},
		{AggCount, 4},
		{AggMin, 0},
		{AggMax, 6},
	}
	for _, tt := range tests {
		t.Run(string(tt.agg), func(t *testing.T) {
			res := Execute(rows, VisualizationConfig{Type: KindBar, XField: "g", YField: "v", Aggregation: tt.agg}, nil)
			require.Len(t, res.Categories, 1)
			assert.Equal(t, tt.want, res.Categories[0].Value)
		})
	}
}

func TestNullishKeysCollapseToUnknown(t *testing.T) {
	rows := []Row{
		{"carrier": nil, "retail": 1},
		{"retail": 2},
		{"carrier": "A", "retail": 1},
	}
	res := Execute(rows, VisualizationConfig{Type: KindPie, XField: "carrier", YField: "retail", Aggregation: AggSum}, nil)
	require.Len(t, res.Categories, 2)
	assert.Equal(t, UnknownKey, res.Categories[0].Name)
	assert.Equal(t, 3.0, res.Categories[0].Value)
}

func TestTiesKeepFirstSeenOrder(t *testing.T) {
	rows := []Row{
		{"k": "z", "v": 1},
		{"k": "a", "v": 1},
		{"k": "m", "v": 1},
	}
	res := Execute(rows, VisualizationConfig{Type: KindBar, XField: "k", YField: "v", Aggregation: AggSum}, nil)
	names := make([]string, len(res.Categories))
	for i, c := range res.Categories {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"z", "a", "m"}, names)
}

func TestSumConservation(t *testing.T) {
	rows := make([]Row, 0, 500)
	for i := 0; i < 500; i++ {
		rows = append(rows, Row{"k": fmt.Sprintf("k%d", i%7), "v": float64(i) * 0.25})
	}
	res := Execute(rows, VisualizationConfig{Type: KindBar, XField: "k", YField: "v", Aggregation: AggSum}, nil)

	groupTotal := decimal.Zero
	for _, c := range res.Categories {
		groupTotal = groupTotal.Add(decimal.NewFromFloat(c.Value))
	}
	rowTotal := decimal.Zero
	for _, r := range rows {
		rowTotal = rowTotal.Add(decimal.NewFromFloat(r["v"].(float64)))
	}
	assert.True(t, rowTotal.Equal(groupTotal), "row total %s != group total %s", rowTotal, groupTotal)
}

func TestCategoryCap(t *testing.T) {
	rows := make([]Row, 0, 100)
	for i := 0; i < 100; i++ {
		rows = append(rows, Row{"k": fmt.Sprintf("k%03d", i), "v": i})
	}
	cfg := VisualizationConfig{Type: KindBar, XField: "k", YField: "v", Aggregation: AggSum}

	res := Execute(rows, cfg, nil)
	assert.Len(t, res.Categories, DefaultCategoryLimit)
	assert.True(t, res.Truncated)
	assert.Equal(t, "k099", res.Categories[0].Name)

	res = Execute(rows, cfg, nil, WithCategoryLimit(5))
	assert.Len(t, res.Categories, 5)
}

func TestFlowCap(t *testing.T) {
	rows := make([]Row, 0, 2*DefaultFlowLimit)
	for i := 0; i < 2*DefaultFlowLimit; i++ {
		rows = append(rows, Row{"from": fmt.Sprintf("f%03d", i), "to": "hub", "n": i})
	}
	cfg := VisualizationConfig{
		Type:    KindFlow,
		Options: ChartOptions{Flow: &FlowOptions{OriginField: "from", DestinationField: "to", ValueField: "n"}},
	}

	res := Execute(rows, cfg, nil)
	assert.Len(t, res.Flows, DefaultFlowLimit)
	assert.True(t, res.Truncated)
	assert.Equal(t, Flow{Origin: "f039", Destination: "hub", Value: 39}, res.Flows[0])

	res = Execute(rows[:DefaultFlowLimit], cfg, nil)
	assert.Len(t, res.Flows, DefaultFlowLimit)
	assert.False(t, res.Truncated)
}

func TestTableCap(t *testing.T) {
	rows := make([]Row, 0, 2*DefaultTableLimit)
	for i := 0; i < 2*DefaultTableLimit; i++ {
		rows = append(rows, Row{"a": i})
	}

	res := Execute(rows, VisualizationConfig{Type: KindTable}, nil)
	assert.Len(t, res.Rows, DefaultTableLimit)
	assert.True(t, res.Truncated)
	assert.Equal(t, 2*DefaultTableLimit, res.RowCount)

	res = Execute(rows, VisualizationConfig{Type: KindTable}, nil, WithTableLimit(7))
	assert.Len(t, res.Rows, 7)
}

func TestGeoCap(t *testing.T) {
	rows := make([]Row, 0, 2*DefaultGeoLimit)
	for i := 0; i < 2*DefaultGeoLimit; i++ {
		rows = append(rows, Row{"region": fmt.Sprintf("r%03d", i), "sales": i})
	}
	cfg := VisualizationConfig{Type: KindChoropleth, XField: "region", YField: "sales"}

	res := Execute(rows, cfg, nil)
	assert.Len(t, res.Categories, DefaultGeoLimit)
	assert.True(t, res.Truncated)
	assert.Equal(t, "r499", res.Categories[0].Name)

	res = Execute(rows[:DefaultGeoLimit], cfg, nil)
	assert.False(t, res.Truncated)
}

func TestBreakdown(t *testing.T) {
	rows := []Row{
		{"carrier": "A", "region": "west", "retail": 10},
		{"carrier": "A", "region": "east", "retail": 30},
		{"carrier": "B", "region": "west", "retail": 5},
	}
	cfg := VisualizationConfig{Type: KindBar, XField: "carrier", YField: "retail", GroupBy: "region", Aggregation: AggSum}
	res := Execute(rows, cfg, nil)

	require.Len(t, res.Categories, 2)
	a := res.Categories[0]
	assert.Equal(t, "A", a.Name)
	require.Len(t, a.Breakdown, 2)
	assert.Equal(t, "east", a.Breakdown[0].Name)
	assert.Equal(t, 30.0, a.Breakdown[0].Value)
}

func TestScatterPoints(t *testing.T) {
	rows := []Row{
		{"x": 1, "y": 2},
		{"x": nil},
	}
	res := Execute(rows, VisualizationConfig{Type: KindScatter, XField: "x", YField: "y"}, nil)
	want := []Point{{X: 1, Y: 2}, {X: 0, Y: 0}}
	assert.Equal(t, want, res.Points)

	many := make([]Row, 300)
	for i := range many {
		many[i] = Row{"x": i, "y": i}
	}
	res = Execute(many, VisualizationConfig{Type: KindScatter, XField: "x", YField: "y"}, nil)
	assert.Len(t, res.Points, DefaultScatterLimit)
	assert.True(t, res.Truncated)
}

func TestFlowAggregation(t *testing.T) {
	rows := []Row{
		{"from": "a-b", "to": "c", "n": 1},
		{"from": "a", "to": "b-c", "n": 2},
		{"from": "x", "to": "y", "n": 5},
		{"from": "x", "to": "y", "n": 5},
	}
	cfg := VisualizationConfig{
		Type:    "sankey",
		Options: ChartOptions{Flow: &FlowOptions{OriginField: "from", DestinationField: "to", ValueField: "n"}},
	}
	res := Execute(rows, cfg, nil)
	assert.Equal(t, KindFlow, res.Type)
	want := []Flow{
		{Origin: "x", Destination: "y", Value: 10},
		{Origin: "a", Destination: "b-c", Value: 2},
		{Origin: "a-b", Destination: "c", Value: 1},
	}
	assert.Equal(t, want, res.Flows)
}

func TestGeoUsesOptions(t *testing.T) {
	rows := []Row{
		{"state": "CA", "sales": 3},
		{"state": "CA", "sales": 4},
		{"state": "NY", "sales": 10},
	}
	cfg := VisualizationConfig{
		Type:    "map",
		Options: ChartOptions{Geo: &GeoOptions{RegionField: "state", ValueField: "sales", MapKey: "us"}},
	}
	res := Execute(rows, cfg, nil)
	assert.Equal(t, FamilyGeo, res.Family)
	assert.Equal(t, []Category{{Name: "NY", Value: 10, Count: 1}, {Name: "CA", Value: 7, Count: 2}}, res.Categories)
}

func TestTablePassthroughCopiesRows(t *testing.T) {
	rows := []Row{{"a": 1}, {"a": 2}}
	res := Execute(rows, VisualizationConfig{Type: KindTable}, nil)
	require.Len(t, res.Rows, 2)
	res.Rows[0]["a"] = 99
	assert.Equal(t, 1, rows[0]["a"])
}

func TestExecuteAppliesConditions(t *testing.T) {
	conds := []predicate.Condition{{Field: "carrier", Operator: predicate.OpEq, Value: "A"}}
	res := Execute(carrierRows, VisualizationConfig{Type: KindKPI, YField: "retail", Aggregation: AggSum}, conds)
	assert.Equal(t, 2, res.RowCount)
	assert.Equal(t, 150.0, res.KPI.Value)
}

func TestUnknownKindIsEmpty(t *testing.T) {
	res := Execute(carrierRows, VisualizationConfig{Type: "radar"}, nil)
	assert.Equal(t, FamilyUnknown, res.Family)
	assert.True(t, res.IsEmpty())
}

func TestAggregateIsIdempotent(t *testing.T) {
	rows := make([]Row, 0, 60)
	for i := 0; i < 60; i++ {
		rows = append(rows, Row{"k": fmt.Sprintf("k%d", i%9), "v": i % 4})
	}
	for _, kind := range Kinds() {
		cfg := VisualizationConfig{
			Type: kind, XField: "k", YField: "v", Aggregation: AggSum,
			Options: ChartOptions{Flow: &FlowOptions{OriginField: "k", DestinationField: "v", ValueField: "v"}},
		}
		first := Execute(rows, cfg, nil)
		second := Execute(rows, cfg, nil)
		if diff := cmp.Diff(first, second, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("%s not idempotent (-first +second):\n%s", kind, diff)
		}
	}
}

func TestExecuteDoesNotMutateInput(t *testing.T) {
	rows := []Row{{"carrier": "A", "retail": 1}}
	before := fmt.Sprint(rows)
	Execute(rows, VisualizationConfig{Type: KindTable}, nil)
	Execute(rows, VisualizationConfig{Type: KindBar, XField: "carrier", YField: "retail"}, nil)
	assert.Equal(t, before, fmt.Sprint(rows))
}
