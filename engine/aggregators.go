package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/spektr-org/widgetkit/predicate"
)

// ============================================================================
// AGGREGATORS — Grouping, Aggregation, and Sorting via RowView
// ============================================================================
// All functions operate on RowView, zero-copy access to any row set.
// Grouping produces SubViews (index lists into parent view).
// Pipeline: group → aggregate → sort → limit.
// ============================================================================

// UnknownKey is the bucket for rows whose grouping field is nullish or absent.
const UnknownKey = "Unknown"

// group is an intermediate grouped result.
type group struct {
	Key   string
	Value float64
	Count int
	View  RowView
}

// GroupAndAggregate groups a view by field, aggregates measure within each
// group and returns categories sorted by value descending (stable), capped
// at limit. limit <= 0 means no cap.
func GroupAndAggregate(view RowView, field, measure string, agg Aggregation, limit int) ([]Category, bool) {
	if view.Len() == 0 {
		return []Category{}, false
	}

	groups := groupByField(view, field)
	for i := range groups {
		aggregateGroup(&groups[i], measure, agg)
	}
	sortGroups(groups)

	truncated := false
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
		truncated = true
	}

	out := make([]Category, 0, len(groups))
	for _, g := range groups {
		out = append(out, Category{Name: g.Key, Value: g.Value, Count: g.Count})
	}
	return out, truncated
}

// ============================================================================
// GROUPING
// ============================================================================

func groupByField(view RowView, field string) []group {
	grouped := make(map[string][]int)
	order := make([]string, 0)

	for i := 0; i < view.Len(); i++ {
		key := GroupKey(view, i, field)
		if _, exists := grouped[key]; !exists {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], i)
	}

	groups := make([]group, 0, len(order))
	for _, key := range order {
		groups = append(groups, group{
			Key:  key,
			View: newSubView(view, grouped[key]),
		})
	}
	return groups
}

// GroupKey renders a row's grouping value. Nullish and absent values become
// UnknownKey.
func GroupKey(view RowView, i int, field string) string {
	v, ok := view.Value(i, field)
	if !ok || predicate.IsNullish(v) {
		return UnknownKey
	}
	return predicate.AsString(v)
}

// ============================================================================
// AGGREGATION
// ============================================================================

func aggregateGroup(g *group, measure string, agg Aggregation) {
	g.Count = g.View.Len()
	g.Value = AggregateView(g.View, measure, agg)
}

// AggregateView applies agg to measure over every row of view. An empty
// measure field counts rows. An empty view yields 0 for every function.
func AggregateView(view RowView, measure string, agg Aggregation) float64 {
	n := view.Len()
	if n == 0 {
		return 0
	}
	if measure == "" {
		return float64(n)
	}

	switch agg {
	case AggCount:
		return float64(n)
	case AggAvg:
		return AvgMeasure(view, measure)
	case AggMin:
		return MinMeasure(view, measure)
	case AggMax:
		return MaxMeasure(view, measure)
	default:
		return SumMeasure(view, measure)
	}
}

// MeasureAt coerces a row's measure to a finite number. Anything that is not
// a number or numeric string reads as 0.
func MeasureAt(view RowView, i int, measure string) float64 {
	v, ok := view.Value(i, measure)
	if !ok {
		return 0
	}
	f, ok := predicate.AsFiniteNumber(v)
	if !ok {
		return 0
	}
	return f
}

// sumDecimal accumulates exactly so group sums add up to the grand total.
func sumDecimal(view RowView, measure string) decimal.Decimal {
	total := decimal.Zero
	for i := 0; i < view.Len(); i++ {
		if f := MeasureAt(view, i, measure); f != 0 {
			total = total.Add(decimal.NewFromFloat(f))
		}
	}
	return total
}

// SumMeasure sums a measure across a view.
func SumMeasure(view RowView, measure string) float64 {
	return sumDecimal(view, measure).InexactFloat64()
}

// AvgMeasure divides the sum by the group size (0 for an empty view).
func AvgMeasure(view RowView, measure string) float64 {
	n := view.Len()
	if n == 0 {
		return 0
	}
	return sumDecimal(view, measure).Div(decimal.NewFromInt(int64(n))).InexactFloat64()
}

// MaxMeasure returns the largest coerced value of a measure.
func MaxMeasure(view RowView, measure string) float64 {
	n := view.Len()
	if n == 0 {
		return 0
	}
	m := MeasureAt(view, 0, measure)
	for i := 1; i < n; i++ {
		if v := MeasureAt(view, i, measure); v > m {
			m = v
		}
	}
	return m
}

// MinMeasure returns the smallest coerced value of a measure.
func MinMeasure(view RowView, measure string) float64 {
	n := view.Len()
	if n == 0 {
		return 0
	}
	m := MeasureAt(view, 0, measure)
	for i := 1; i < n; i++ {
		if v := MeasureAt(view, i, measure); v < m {
			m = v
		}
	}
	return m
}

// ============================================================================
// SORTING
// ============================================================================

// sortGroups orders by value descending; ties keep first-seen order.
func sortGroups(groups []group) {
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Value > groups[j].Value })
}

// ============================================================================
// FAMILY BUILDERS
// ============================================================================

func buildKPI(view RowView, cfg VisualizationConfig) *KPIValue {
	agg := cfg.Aggregation
	if cfg.YField == "" {
		agg = AggCount
	}
	value := AggregateView(view, cfg.YField, agg)
	kpi := &KPIValue{
		Value:       value,
		Aggregation: agg,
		Field:       cfg.YField,
	}
	kpi.Formatted = FormatKPI(value, agg, cfg.Options.KPI)
	return kpi
}

func buildCategorical(view RowView, cfg VisualizationConfig, limit int) ([]Category, bool) {
	cats, truncated := GroupAndAggregate(view, cfg.XField, cfg.YField, cfg.Aggregation, limit)
	if cfg.GroupBy == "" || cfg.GroupBy == cfg.XField {
		return cats, truncated
	}

	// Secondary grouping: regroup each surviving category by GroupBy.
	byKey := make(map[string]RowView)
	for _, g := range groupByField(view, cfg.XField) {
		byKey[g.Key] = g.View
	}
	for i := range cats {
		sub, _ := GroupAndAggregate(byKey[cats[i].Name], cfg.GroupBy, cfg.YField, cfg.Aggregation, limit)
		cats[i].Breakdown = sub
	}
	return cats, truncated
}

func buildGeo(view RowView, cfg VisualizationConfig, limit int) ([]Category, bool) {
	agg := AggSum
	if cfg.ValueField() == "" {
		agg = AggCount
	}
	return GroupAndAggregate(view, cfg.RegionField(), cfg.ValueField(), agg, limit)
}
