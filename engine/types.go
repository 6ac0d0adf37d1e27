package engine

import "strings"

// ============================================================================
// WIDGETKIT ENGINE TYPES — Rows in, render-ready data out
// ============================================================================
// The engine is pure: (rows, config, conditions) → Result. It never mutates
// its inputs and never returns an error for a syntactically valid config.
// Completeness checks live in the shape package and run before Aggregate.
// ============================================================================

// ============================================================================
// ROW — One fetched record
// ============================================================================

// Row is an open field → scalar mapping. A field is present only if its key
// exists; a present key may still hold nil.
type Row map[string]any

// ============================================================================
// CHART KINDS & FAMILIES
// ============================================================================

// ChartKind is the declared visualization type.
type ChartKind string

const (
	KindKPI          ChartKind = "kpi"
	KindBar          ChartKind = "bar"
	KindLine         ChartKind = "line"
	KindArea         ChartKind = "area"
	KindPie          ChartKind = "pie"
	KindTreemap      ChartKind = "treemap"
	KindGroupedTable ChartKind = "grouped_table"
	KindScatter      ChartKind = "scatter"
	KindHistogram    ChartKind = "histogram"
	KindChoropleth   ChartKind = "choropleth"
	KindFlow         ChartKind = "flow"
	KindTable        ChartKind = "table"
)

// Family is the structural output class of a chart kind.
type Family string

const (
	FamilyKPI         Family = "kpi"
	FamilyCategorical Family = "categorical"
	FamilyScatter     Family = "scatter"
	FamilyHistogram   Family = "histogram"
	FamilyGeo         Family = "geo"
	FamilyFlow        Family = "flow"
	FamilyTable       Family = "table"
	FamilyUnknown     Family = ""
)

var kindAliases = map[string]ChartKind{
	"map":    KindChoropleth,
	"geo":    KindChoropleth,
	"sankey": KindFlow,
}

var kindFamilies = map[ChartKind]Family{
	KindKPI:          FamilyKPI,
	KindBar:          FamilyCategorical,
	KindLine:         FamilyCategorical,
	KindArea:         FamilyCategorical,
	KindPie:          FamilyCategorical,
	KindTreemap:      FamilyCategorical,
	KindGroupedTable: FamilyCategorical,
	KindScatter:      FamilyScatter,
	KindHistogram:    FamilyHistogram,
	KindChoropleth:   FamilyGeo,
	KindFlow:         FamilyFlow,
	KindTable:        FamilyTable,
}

// Kinds lists every canonical chart kind.
func Kinds() []ChartKind {
	return []ChartKind{
		KindKPI, KindBar, KindLine, KindArea, KindPie, KindTreemap, KindGroupedTable,
		KindScatter, KindHistogram, KindChoropleth, KindFlow, KindTable,
	}
}

// Canonical folds case and aliases ("map", "sankey") onto the canonical kind.
func (k ChartKind) Canonical() ChartKind {
	s := strings.ToLower(strings.TrimSpace(string(k)))
	if alias, ok := kindAliases[s]; ok {
		return alias
	}
	return ChartKind(s)
}

// Family returns the output family, or FamilyUnknown.
func (k ChartKind) Family() Family {
	return kindFamilies[k.Canonical()]
}

// ============================================================================
// AGGREGATION
// ============================================================================

// Aggregation is the function applied within a group.
type Aggregation string

const (
	AggSum   Aggregation = "sum"
	AggAvg   Aggregation = "avg"
	AggCount Aggregation = "count"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
)

// Aggregations lists the supported functions.
func Aggregations() []Aggregation {
	return []Aggregation{AggSum, AggAvg, AggCount, AggMin, AggMax}
}

// ============================================================================
// VISUALIZATION CONFIG — Contract between editor/synthesizer and engine
// ============================================================================

// VisualizationConfig declares what the engine should compute.
type VisualizationConfig struct {
	Type        ChartKind    `json:"type"`
	XField      string       `json:"xField,omitempty"`
	YField      string       `json:"yField,omitempty"`
	GroupBy     string       `json:"groupBy,omitempty"`
	Aggregation Aggregation  `json:"aggregation"`
	Title       string       `json:"title,omitempty"`
	Options     ChartOptions `json:"chartOptions"`
}

// ChartOptions is the closed per-type option set. Only the entry matching
// the config's family is read.
type ChartOptions struct {
	KPI       *KPIOptions       `json:"kpi,omitempty"`
	Geo       *GeoOptions       `json:"geo,omitempty"`
	Flow      *FlowOptions      `json:"flow,omitempty"`
	Histogram *HistogramOptions `json:"histogram,omitempty"`
}

// KPIOptions controls KPI formatting.
type KPIOptions struct {
	Format string `json:"format,omitempty"` // number, integer, currency, percent, compact
	Prefix string `json:"prefix,omitempty"`
	Suffix string `json:"suffix,omitempty"`
}

// GeoOptions maps rows onto map regions.
type GeoOptions struct {
	RegionField string `json:"regionField,omitempty"`
	ValueField  string `json:"valueField,omitempty"`
	MapKey      string `json:"mapKey,omitempty"`
}

// FlowOptions names the origin → destination edge fields.
type FlowOptions struct {
	OriginField      string `json:"originField,omitempty"`
	DestinationField string `json:"destinationField,omitempty"`
	ValueField       string `json:"valueField,omitempty"`
}

// HistogramOptions sets the bin count.
type HistogramOptions struct {
	BinCount int `json:"binCount,omitempty"`
}

// RegionField resolves the geo grouping field.
func (c VisualizationConfig) RegionField() string {
	if c.Options.Geo != nil && c.Options.Geo.RegionField != "" {
		return c.Options.Geo.RegionField
	}
	return c.XField
}

// ValueField resolves the geo measure field.
func (c VisualizationConfig) ValueField() string {
	if c.Options.Geo != nil && c.Options.Geo.ValueField != "" {
		return c.Options.Geo.ValueField
	}
	return c.YField
}

// FlowFields returns origin, destination and value fields (empty if unset).
func (c VisualizationConfig) FlowFields() (origin, destination, value string) {
	if c.Options.Flow == nil {
		return "", "", ""
	}
	return c.Options.Flow.OriginField, c.Options.Flow.DestinationField, c.Options.Flow.ValueField
}

// BinCount returns the configured bin count or 0.
func (c VisualizationConfig) BinCount() int {
	if c.Options.Histogram == nil {
		return 0
	}
	return c.Options.Histogram.BinCount
}

// ============================================================================
// RESULT — Render-ready output, one populated payload per family
// ============================================================================

// Result is the engine's output. Exactly one payload is populated based on
// Family; an empty payload is a valid result.
type Result struct {
	Type      ChartKind `json:"type"`
	Family    Family    `json:"family"`
	RowCount  int       `json:"rowCount"`  // rows after filtering
	Truncated bool      `json:"truncated"` // cap applied

	KPI        *KPIValue  `json:"kpi,omitempty"`
	Categories []Category `json:"categories,omitempty"`
	Points     []Point    `json:"points,omitempty"`
	Bins       []Bin      `json:"bins,omitempty"`
	Flows      []Flow     `json:"flows,omitempty"`
	Rows       []Row      `json:"rows,omitempty"`
}

// IsEmpty reports whether the result carries no data.
func (r *Result) IsEmpty() bool {
	if r == nil {
		return true
	}
	switch r.Family {
	case FamilyKPI:
		return r.RowCount == 0
	case FamilyCategorical, FamilyGeo:
		return len(r.Categories) == 0
	case FamilyScatter:
		return len(r.Points) == 0
	case FamilyHistogram:
		return len(r.Bins) == 0
	case FamilyFlow:
		return len(r.Flows) == 0
	case FamilyTable:
		return len(r.Rows) == 0
	default:
		return true
	}
}

// KPIValue is a single aggregated scalar.
type KPIValue struct {
	Value       float64     `json:"value"`
	Formatted   string      `json:"formatted"`
	Aggregation Aggregation `json:"aggregation"`
	Field       string      `json:"field,omitempty"`
}

// Category is one {name, value} datum of a categorical or geo result.
type Category struct {
	Name      string     `json:"name"`
	Value     float64    `json:"value"`
	Count     int        `json:"count"`
	Breakdown []Category `json:"breakdown,omitempty"`
}

// Point is one scatter datum.
type Point struct {
	X any `json:"x"`
	Y any `json:"y"`
}

// Bin is one histogram bucket.
type Bin struct {
	Bin   string  `json:"bin"`
	Count int     `json:"count"`
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
}

// Flow is one origin → destination edge.
type Flow struct {
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	Value       float64 `json:"value"`
}

// ============================================================================
// CHART TYPES — Render-ready series (see BuildChart)
// ============================================================================

// ChartConfig defines how to render a categorical or geo chart.
type ChartConfig struct {
	ChartType  ChartKind     `json:"chartType"`
	Title      string        `json:"title"`
	XAxis      string        `json:"xAxis,omitempty"`
	YAxis      string        `json:"yAxis,omitempty"`
	Series     []ChartSeries `json:"series"`
	Colors     []string      `json:"colors,omitempty"`
	ShowLegend bool          `json:"showLegend"`
	ShowGrid   bool          `json:"showGrid"`
	MapKey     string        `json:"mapKey,omitempty"`
}

// ChartSeries represents a data series in a chart.
type ChartSeries struct {
	Name  string       `json:"name"`
	Data  []ChartPoint `json:"data"`
	Color string       `json:"color,omitempty"`
}

// ChartPoint represents a single data point. Percent is set for pie charts.
type ChartPoint struct {
	Label   string   `json:"label"`
	Value   float64  `json:"value"`
	Percent *float64 `json:"percent,omitempty"`
}

// ============================================================================
// TABLE TYPES
// ============================================================================

// TableData defines how to render a table.
type TableData struct {
	Title   string     `json:"title"`
	Columns []Column   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Summary *Summary   `json:"summary,omitempty"`
}

// Column defines a table column.
type Column struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type"`  // "text", "number"
	Align string `json:"align"` // "left", "center", "right"
}

// Summary provides totals for a table.
type Summary struct {
	Label  string            `json:"label"`
	Values map[string]string `json:"values"`
}
