package engine

import (
	"fmt"

	"github.com/spektr-org/widgetkit/predicate"
)

// ============================================================================
// TABLE BUILDER — Produces TableData from a Result
// ============================================================================
// Table family: one row per passthrough row, columns in first-seen order.
// Categorical family (grouped_table): group / value / count summary rows.
// ============================================================================

// BuildTable produces a TableData for table and categorical results.
// Returns nil for other families.
func BuildTable(cfg VisualizationConfig, res *Result) *TableData {
	if res == nil {
		return nil
	}
	switch res.Family {
	case FamilyTable:
		return buildListTable(cfg, res.Rows)
	case FamilyCategorical, FamilyGeo:
		return buildAggregatedTable(cfg, res.Categories)
	default:
		return nil
	}
}

// ============================================================================
// LIST TABLE — Row per record
// ============================================================================

func buildListTable(cfg VisualizationConfig, rows []Row) *TableData {
	if len(rows) == 0 {
		return &TableData{
			Title:   cfg.Title,
			Columns: []Column{},
			Rows:    [][]string{},
		}
	}

	view := NewSliceView(rows)
	keys := Fields(view)
	columns := make([]Column, 0, len(keys))
	for _, key := range keys {
		columns = append(columns, columnFor(view, key))
	}

	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		line := make([]string, 0, len(keys))
		for _, key := range keys {
			line = append(line, predicate.AsString(r[key]))
		}
		out = append(out, line)
	}

	return &TableData{
		Title:   cfg.Title,
		Columns: columns,
		Rows:    out,
		Summary: &Summary{
			Label:  fmt.Sprintf("%s records", FormatInt(int64(len(rows)))),
			Values: map[string]string{},
		},
	}
}

// columnFor treats a column as numeric when every non-null value is.
func columnFor(view RowView, key string) Column {
	numeric := false
	for i := 0; i < view.Len(); i++ {
		v, ok := view.Value(i, key)
		if !ok || predicate.IsNullish(v) {
			continue
		}
		if _, isNum := predicate.AsNumber(v); !isNum {
			numeric = false
			break
		}
		numeric = true
	}
	if numeric {
		return Column{Key: key, Label: LabelForField(key), Type: "number", Align: "right"}
	}
	return Column{Key: key, Label: LabelForField(key), Type: "text", Align: "left"}
}

// ============================================================================
// AGGREGATED TABLE — Summary rows
// ============================================================================

func buildAggregatedTable(cfg VisualizationConfig, cats []Category) *TableData {
	if len(cats) == 0 {
		return &TableData{
			Title:   cfg.Title,
			Columns: []Column{},
			Rows:    [][]string{},
		}
	}

	groupLabel := "Group"
	if cfg.XField != "" {
		groupLabel = LabelForField(cfg.XField)
	}

	columns := []Column{
		{Key: "group", Label: groupLabel, Type: "text", Align: "left"},
		{Key: "value", Label: LabelForAggregation(cfg.Aggregation), Type: "number", Align: "right"},
		{Key: "count", Label: "Count", Type: "number", Align: "center"},
	}

	rows := make([][]string, 0, len(cats))
	var totalValue float64
	var totalCount int
	for _, c := range cats {
		rows = append(rows, []string{
			c.Name,
			FormatNumber(c.Value, 2),
			FormatInt(int64(c.Count)),
		})
		totalValue += c.Value
		totalCount += c.Count
	}

	summary := &Summary{
		Label:  "Total",
		Values: map[string]string{"count": FormatInt(int64(totalCount))},
	}
	// Only additive aggregations have a meaningful column total.
	if cfg.Aggregation == AggSum || cfg.Aggregation == AggCount {
		summary.Values["value"] = FormatNumber(totalValue, 2)
	}

	return &TableData{
		Title:   cfg.Title,
		Columns: columns,
		Rows:    rows,
		Summary: summary,
	}
}
