package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
	"github.com/spektr-org/widgetkit/schema"
	"github.com/spektr-org/widgetkit/source"
)

// ============================================================================
// TOOL MENU — Fixed set offered to the model every turn
// ============================================================================
// Three exploratory tools gather facts; emit_configuration is terminal and
// is the only way a run can produce a configuration.
// ============================================================================

const (
	ToolGetSchema         = "get_schema"
	ToolExploreField      = "explore_field"
	ToolPreviewGrouping   = "preview_grouping"
	ToolEmitConfiguration = "emit_configuration"
)

const defaultPreviewLimit = 10

// Tools returns the tool menu in a fixed order.
func Tools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        ToolGetSchema,
			Description: "Return the dataset's dimensions and measures with sample values, units and hierarchies.",
			Parameters:  &Schema{Type: "object", Properties: map[string]*Schema{}},
		},
		{
			Name:        ToolExploreField,
			Description: "Profile one field: distinct values with counts, nulls, and numeric range.",
			Parameters: &Schema{
				Type: "object",
				Properties: map[string]*Schema{
					"field":     {Type: "string", Description: "Field key from get_schema."},
					"topValues": {Type: "integer", Description: "How many distinct values to return (default 10)."},
				},
				Required: []string{"field"},
			},
		},
		{
			Name:        ToolPreviewGrouping,
			Description: "Group the current rows by a field and aggregate a measure, returning the top groups.",
			Parameters: &Schema{
				Type: "object",
				Properties: map[string]*Schema{
					"xField":      {Type: "string", Description: "Field to group by."},
					"yField":      {Type: "string", Description: "Measure to aggregate; omit to count rows."},
					"aggregation": {Type: "string", Enum: aggregationNames()},
					"groupBy":     {Type: "string", Description: "Optional secondary breakdown field."},
					"limit":       {Type: "integer", Description: "Maximum groups to return (default 10)."},
				},
				Required: []string{"xField"},
			},
		},
		{
			Name: ToolEmitConfiguration,
			Description: "Finish with the widget configuration. Call exactly once, after exploring. " +
				"The configuration is validated; an incomplete one fails the run.",
			Parameters: emitSchema(),
		},
	}
}

func emitSchema() *Schema {
	operators := make([]string, 0, len(predicate.Operators()))
	for _, op := range predicate.Operators() {
		operators = append(operators, string(op))
	}
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"visualizationType": {Type: "string", Enum: kindNames()},
			"xField":            {Type: "string", Description: "Category, x-axis or region field. Empty string for kpi and table."},
			"yField":            {Type: "string", Description: "Measure field. Omit to count rows."},
			"groupBy":           {Type: "string", Description: "Secondary breakdown for categorical charts."},
			"aggregation":       {Type: "string", Enum: aggregationNames()},
			"title":             {Type: "string"},
			"chartOptions": {
				Type: "object",
				Properties: map[string]*Schema{
					"format":           {Type: "string", Enum: []string{"number", "integer", "currency", "percent", "compact"}},
					"prefix":           {Type: "string"},
					"suffix":           {Type: "string"},
					"regionField":      {Type: "string"},
					"valueField":       {Type: "string"},
					"mapKey":           {Type: "string"},
					"originField":      {Type: "string"},
					"destinationField": {Type: "string"},
					"binCount":         {Type: "integer"},
				},
			},
			"filters": {
				Type:        "array",
				Description: "Row filters, AND-combined.",
				Items: &Schema{
					Type: "object",
					Properties: map[string]*Schema{
						"field":    {Type: "string"},
						"operator": {Type: "string", Enum: operators},
						"value":    {Type: "string", Description: "Scalar operand."},
						"values":   {Type: "array", Items: &Schema{Type: "string"}, Description: "Operands for in and contains_any."},
					},
					Required: []string{"field", "operator"},
				},
			},
			"reasoning": {Type: "array", Items: &Schema{Type: "string"}, Description: "Why this configuration answers the request."},
			"warnings":  {Type: "array", Items: &Schema{Type: "string"}},
		},
		Required: []string{"visualizationType", "xField", "aggregation", "reasoning"},
	}
}

func kindNames() []string {
	kinds := engine.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func aggregationNames() []string {
	aggs := engine.Aggregations()
	out := make([]string, len(aggs))
	for i, a := range aggs {
		out[i] = string(a)
	}
	return out
}

// ============================================================================
// TOOLBOX — Executes exploratory tools for one run
// ============================================================================

// toolbox is scoped to a run. Rows and schema are fetched once and shared
// by concurrent tool calls.
type toolbox struct {
	src    source.DataSource
	schema *schema.Config
	conds  []predicate.Condition
	sample int

	mu      sync.Mutex
	fetched bool
	rows    []engine.Row
	fields  []string
	rowsErr error
}

func newToolbox(src source.DataSource, sch *schema.Config, conds []predicate.Condition, sample int) *toolbox {
	return &toolbox{src: src, schema: sch, conds: conds, sample: sample}
}

// call runs one exploratory tool. Failures become error results for the
// model to read; they never end the run.
func (tb *toolbox) call(ctx context.Context, tc ToolCall) ToolResult {
	var (
		out any
		err error
	)
	switch tc.Name {
	case ToolGetSchema:
		out, err = tb.getSchema(ctx)
	case ToolExploreField:
		out, err = tb.exploreField(ctx, tc.Args)
	case ToolPreviewGrouping:
		out, err = tb.previewGrouping(ctx, tc.Args)
	default:
		err = fmt.Errorf("unknown tool %q", tc.Name)
	}

	res := ToolResult{CallID: tc.ID, Name: tc.Name}
	if err != nil {
		out = map[string]string{"error": err.Error()}
		res.IsError = true
	}
	data, mErr := json.Marshal(out)
	if mErr != nil {
		data, _ = json.Marshal(map[string]string{"error": mErr.Error()})
		res.IsError = true
	}
	res.Content = string(data)
	return res
}

func (tb *toolbox) load(ctx context.Context) ([]engine.Row, []string, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.fetched {
		return tb.rows, tb.fields, tb.rowsErr
	}
	if tb.src == nil {
		return nil, nil, fmt.Errorf("no data source is connected")
	}

	fields, err := tb.src.Fields(ctx)
	if err == nil {
		tb.rows, err = tb.src.Fetch(ctx, tb.conds, tb.sample)
	}
	if err != nil && ctx.Err() != nil {
		// Leave uncached so a later run with a live context can retry.
		return nil, nil, err
	}
	tb.fields, tb.rowsErr, tb.fetched = fields, err, true
	return tb.rows, tb.fields, tb.rowsErr
}

// describe returns the configured schema or discovers one from the rows.
func (tb *toolbox) describe(ctx context.Context) (*schema.Config, error) {
	if tb.schema != nil {
		return tb.schema, nil
	}
	rows, fields, err := tb.load(ctx)
	if err != nil {
		return nil, err
	}
	sch, err := schema.Discover(rows, fields)
	if err != nil {
		return nil, err
	}
	tb.mu.Lock()
	if tb.schema == nil {
		tb.schema = sch
	}
	sch = tb.schema
	tb.mu.Unlock()
	return sch, nil
}

func (tb *toolbox) getSchema(ctx context.Context) (any, error) {
	return tb.describe(ctx)
}

func (tb *toolbox) exploreField(ctx context.Context, args map[string]any) (any, error) {
	field := argString(args, "field")
	if field == "" {
		return nil, fmt.Errorf("field is required")
	}
	rows, fields, err := tb.load(ctx)
	if err != nil {
		return nil, err
	}
	if !containsString(fields, field) {
		return nil, fmt.Errorf("unknown field %q; available: %s", field, strings.Join(sorted(fields), ", "))
	}
	return schema.Explore(rows, field, argInt(args, "topValues", schema.DefaultTopValues)), nil
}

type previewResult struct {
	RowCount   int               `json:"rowCount"`
	Categories []engine.Category `json:"categories"`
	Truncated  bool              `json:"truncated"`
}

func (tb *toolbox) previewGrouping(ctx context.Context, args map[string]any) (any, error) {
	xField := argString(args, "xField")
	if xField == "" {
		return nil, fmt.Errorf("xField is required")
	}
	rows, fields, err := tb.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range []string{xField, argString(args, "yField"), argString(args, "groupBy")} {
		if f != "" && !containsString(fields, f) {
			return nil, fmt.Errorf("unknown field %q", f)
		}
	}

	agg := engine.Aggregation(strings.ToLower(argString(args, "aggregation")))
	if agg != "" && !containsString(aggregationNames(), string(agg)) {
		return nil, fmt.Errorf("unknown aggregation %q", agg)
	}
	cfg := engine.VisualizationConfig{
		Type:        engine.KindBar,
		XField:      xField,
		YField:      argString(args, "yField"),
		GroupBy:     argString(args, "groupBy"),
		Aggregation: agg,
	}
	if cfg.Aggregation == "" {
		cfg.Aggregation = engine.AggSum
		if cfg.YField == "" {
			cfg.Aggregation = engine.AggCount
		}
	}

	res := engine.Aggregate(engine.NewSliceView(rows), cfg,
		engine.WithCategoryLimit(argInt(args, "limit", defaultPreviewLimit)))
	return previewResult{RowCount: res.RowCount, Categories: res.Categories, Truncated: res.Truncated}, nil
}

// ============================================================================
// ARGUMENT HELPERS
// ============================================================================

func argString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(predicate.AsString(v))
}

func argInt(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	f, ok := predicate.AsFiniteNumber(v)
	if !ok || f <= 0 {
		return def
	}
	return int(f)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sorted(list []string) []string {
	out := append([]string(nil), list...)
	sort.Strings(out)
	return out
}
