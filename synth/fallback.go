package synth

import (
	"fmt"
	"strings"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
	"github.com/spektr-org/widgetkit/shape"
)

// ============================================================================
// FALLBACK — Deterministic keyword classifier
// ============================================================================
// Used whenever the model path fails. A pure function of the prompt text:
// substring rules pick the chart kind and aggregation, a fixed keyword
// table guesses the dimension and measure. The result always validates;
// a kind that cannot run degrades to bar (dimension known) and then kpi.
// ============================================================================

// Keyword maps a phrase in the prompt to a field.
type Keyword struct {
	Phrase string
	Field  string
}

// DefaultDimensionKeywords are checked in order; the first hit wins.
var DefaultDimensionKeywords = []Keyword{
	{"carrier", "carrier_name"},
	{"customer", "customer_name"},
	{"product", "product_name"},
	{"category", "category"},
	{"region", "region"},
	{"state", "state"},
	{"country", "country"},
	{"city", "city"},
	{"warehouse", "warehouse"},
	{"status", "status"},
	{"month", "month"},
}

// DefaultMeasureKeywords are checked in order; the first hit wins.
var DefaultMeasureKeywords = []Keyword{
	{"cost", "retail"},
	{"price", "retail"},
	{"retail", "retail"},
	{"spend", "retail"},
	{"revenue", "revenue"},
	{"sales", "revenue"},
	{"weight", "weight"},
	{"quantity", "quantity"},
	{"units", "quantity"},
}

// Classifier is the keyword fallback. The zero value uses the default
// tables.
type Classifier struct {
	Dimensions []Keyword
	Measures   []Keyword
}

// Fallback classifies prompt with the default tables.
func Fallback(prompt string) WidgetSuggestion {
	return Classifier{}.Classify(prompt)
}

// Classify guesses a configuration from prompt text alone.
func (c Classifier) Classify(prompt string) WidgetSuggestion {
	dims, measures := c.Dimensions, c.Measures
	if dims == nil {
		dims = DefaultDimensionKeywords
	}
	if measures == nil {
		measures = DefaultMeasureKeywords
	}

	text := strings.ToLower(prompt)
	kind := fallbackKind(text)
	agg := fallbackAggregation(text)
	dim, dimPhrase := firstMatch(text, dims)
	measure, measurePhrase := firstMatch(text, measures)

	var reasoning []string
	reasoning = append(reasoning, fmt.Sprintf("chart type %s from prompt keywords", kind))
	reasoning = append(reasoning, fmt.Sprintf("aggregation %s from prompt keywords", agg))
	if dim != "" {
		reasoning = append(reasoning, fmt.Sprintf("%q suggests grouping by %s", dimPhrase, dim))
	}
	if measure != "" && agg != engine.AggCount {
		reasoning = append(reasoning, fmt.Sprintf("%q suggests measuring %s", measurePhrase, measure))
	}

	cfg := engine.VisualizationConfig{Type: kind, Aggregation: agg}
	if agg != engine.AggCount {
		cfg.YField = measure
	}
	if kind != engine.KindKPI {
		cfg.XField = dim
	}

	warnings := []string{"configuration guessed from keywords; review fields before saving"}
	if err := shape.Check(cfg); err != nil {
		degraded := engine.KindKPI
		if dim != "" {
			degraded = engine.KindBar
		}
		warnings = append(warnings, fmt.Sprintf("%s needs more fields than the prompt names; using %s", kind, degraded))
		cfg.Type = degraded
		cfg.XField = ""
		if degraded == engine.KindBar {
			cfg.XField = dim
		}
	}
	cfg = shape.Normalize(cfg)

	return WidgetSuggestion{
		Config:    cfg,
		Filters:   []predicate.Condition{},
		Reasoning: reasoning,
		Warnings:  append(warnings, shape.Validate(cfg).Warnings...),
		Source:    OriginFallback,
	}
}

func fallbackKind(text string) engine.ChartKind {
	switch {
	case strings.Contains(text, "line"), strings.Contains(text, "trend"):
		return engine.KindLine
	case strings.Contains(text, "pie"):
		return engine.KindPie
	case strings.Contains(text, "map"):
		return engine.KindChoropleth
	case strings.Contains(text, "kpi"), strings.Contains(text, "total"):
		return engine.KindKPI
	default:
		return engine.KindBar
	}
}

func fallbackAggregation(text string) engine.Aggregation {
	switch {
	case strings.Contains(text, "average"), strings.Contains(text, "avg"):
		return engine.AggAvg
	case strings.Contains(text, "count"):
		return engine.AggCount
	default:
		return engine.AggSum
	}
}

func firstMatch(text string, table []Keyword) (field, phrase string) {
	for _, k := range table {
		if k.Phrase != "" && strings.Contains(text, strings.ToLower(k.Phrase)) {
			return k.Field, k.Phrase
		}
	}
	return "", ""
}
