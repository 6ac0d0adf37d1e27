package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/spektr-org/widgetkit/predicate"
)

// ============================================================================
// FLOW, SCATTER & TABLE — Non-grouped families
// ============================================================================

// flowKey is the compound origin/destination key. A struct key keeps
// "a-b" → "c" distinct from "a" → "b-c".
type flowKey struct {
	origin, destination string
}

func buildFlows(view RowView, cfg VisualizationConfig, limit int) ([]Flow, bool) {
	originField, destField, valueField := cfg.FlowFields()

	sums := make(map[flowKey]decimal.Decimal)
	order := make([]flowKey, 0)
	for i := 0; i < view.Len(); i++ {
		k := flowKey{
			origin:      GroupKey(view, i, originField),
			destination: GroupKey(view, i, destField),
		}
		if _, ok := sums[k]; !ok {
			order = append(order, k)
			sums[k] = decimal.Zero
		}
		if f := MeasureAt(view, i, valueField); f != 0 {
			sums[k] = sums[k].Add(decimal.NewFromFloat(f))
		}
	}

	flows := make([]Flow, 0, len(order))
	for _, k := range order {
		flows = append(flows, Flow{
			Origin:      k.origin,
			Destination: k.destination,
			Value:       sums[k].InexactFloat64(),
		})
	}
	sort.SliceStable(flows, func(i, j int) bool { return flows[i].Value > flows[j].Value })

	if limit > 0 && len(flows) > limit {
		return flows[:limit], true
	}
	return flows, false
}

// buildPoints maps rows to raw {x, y}; nullish or absent values read as 0.
func buildPoints(view RowView, cfg VisualizationConfig, limit int) ([]Point, bool) {
	n := view.Len()
	truncated := false
	if limit > 0 && n > limit {
		n = limit
		truncated = true
	}
	points := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		points = append(points, Point{
			X: valueOrZero(view, i, cfg.XField),
			Y: valueOrZero(view, i, cfg.YField),
		})
	}
	return points, truncated
}

func valueOrZero(view RowView, i int, field string) any {
	v, ok := view.Value(i, field)
	if !ok || predicate.IsNullish(v) {
		return 0
	}
	return v
}

// passthroughRows copies row maps so callers cannot mutate source data.
func passthroughRows(view RowView, limit int) ([]Row, bool) {
	n := view.Len()
	truncated := false
	if limit > 0 && n > limit {
		n = limit
		truncated = true
	}
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		src := view.Row(i)
		cp := make(Row, len(src))
		for k, v := range src {
			cp[k] = v
		}
		rows = append(rows, cp)
	}
	return rows, truncated
}
