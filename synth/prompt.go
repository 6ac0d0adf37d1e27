package synth

import (
	"fmt"
	"strings"
	"time"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/glossary"
	"github.com/spektr-org/widgetkit/predicate"
	"github.com/spektr-org/widgetkit/schema"
	"github.com/spektr-org/widgetkit/shape"
)

// ============================================================================
// PROMPT BUILDER — Schema-driven system prompt
// ============================================================================
// Built from schema.Config when one is known up front; otherwise the model
// is told to start with get_schema. Glossary terms that occur in the
// request are listed so business vocabulary maps onto field keys.
//
// The model sees metadata only: field keys, sample values, units. Row
// values reach it solely through tool results it asks for.
// ============================================================================

// PromptInput is everything the system prompt is built from.
type PromptInput struct {
	Schema     *schema.Config
	Terms      []glossary.Term
	Conditions []predicate.Condition
	MaxTurns   int
	Now        time.Time
}

// BuildPrompt generates the system prompt for one run.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	name := "the connected dataset"
	if in.Schema != nil && in.Schema.Name != "" {
		name = fmt.Sprintf("%q", in.Schema.Name)
	}

	// ── Header ────────────────────────────────────────────────────────────
	fmt.Fprintf(&b, `You configure dashboard widgets for %s.

CURRENT DATE: %s

YOUR ROLE:
Choose a chart type, fields, aggregation and filters that answer the user's request.
You do NOT compute values. The engine aggregates the data after you finish.

`, name, now.Format("2006-01-02"))

	// ── Data model ────────────────────────────────────────────────────────
	if in.Schema != nil {
		b.WriteString("DATA MODEL:\n")
		b.WriteString(buildDimensionDescription(in.Schema))
		b.WriteString(buildMeasureDescription(in.Schema))
		b.WriteString("\n")

		if h := buildHierarchyDescription(in.Schema); h != "" {
			b.WriteString("DIMENSION HIERARCHIES:\n")
			b.WriteString(h)
			b.WriteString("\n")
		}
	} else {
		b.WriteString("DATA MODEL:\nUnknown. Call get_schema first.\n\n")
	}

	// ── Glossary ──────────────────────────────────────────────────────────
	if len(in.Terms) > 0 {
		b.WriteString("GLOSSARY (business terms → field keys):\n")
		b.WriteString(glossary.Prompt(in.Terms))
		b.WriteString("\n")
	}

	// ── Active filters ────────────────────────────────────────────────────
	if len(in.Conditions) > 0 {
		b.WriteString("ACTIVE FILTERS (already applied to every tool result):\n")
		for _, c := range in.Conditions {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	b.WriteString(buildChartKinds())
	b.WriteString(buildToolRules(in.MaxTurns))
	b.WriteString(buildExamples(in.Schema))

	b.WriteString("\nRemember: the configuration counts only when it arrives through emit_configuration.\n")
	return b.String()
}

// ============================================================================
// SECTION BUILDERS
// ============================================================================

func buildDimensionDescription(sch *schema.Config) string {
	var b strings.Builder

	b.WriteString("DIMENSIONS (fields for grouping and filtering):\n")
	for _, d := range sch.Dimensions {
		fmt.Fprintf(&b, "- %q", d.Key)
		if d.DisplayName != "" && d.DisplayName != d.Key {
			fmt.Fprintf(&b, " (%s)", d.DisplayName)
		}
		if len(d.SampleValues) > 0 {
			fmt.Fprintf(&b, " — values: [%s]", strings.Join(quotedValues(d.SampleValues), ", "))
		}
		if d.IsTemporal {
			b.WriteString(" [TEMPORAL — use for trends]")
		}
		if d.IsGeographic {
			b.WriteString(" [GEOGRAPHIC — usable as a map region]")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func buildMeasureDescription(sch *schema.Config) string {
	var b strings.Builder

	b.WriteString("\nMEASURES (numeric fields for aggregation):\n")
	for _, m := range sch.Measures {
		fmt.Fprintf(&b, "- %q", m.Key)
		if m.DisplayName != "" && m.DisplayName != m.Key {
			fmt.Fprintf(&b, " (%s)", m.DisplayName)
		}
		if m.Unit != "" {
			fmt.Fprintf(&b, " [unit: %s]", m.Unit)
		}
		if m.DefaultAggregation != "" {
			fmt.Fprintf(&b, " — default aggregation: %s", m.DefaultAggregation)
		}
		b.WriteString("\n")
	}
	if len(sch.Measures) == 0 {
		b.WriteString("- none; use aggregation \"count\"\n")
	}
	return b.String()
}

func buildHierarchyDescription(sch *schema.Config) string {
	var b strings.Builder
	for _, d := range sch.Dimensions {
		if d.Parent != "" {
			fmt.Fprintf(&b, "- %q is a child of %q (filter the parent, group by the child for a breakdown)\n", d.Key, d.Parent)
		}
	}
	return b.String()
}

func buildChartKinds() string {
	var b strings.Builder
	b.WriteString("CHART TYPES (required fields in brackets):\n")
	for _, kind := range engine.Kinds() {
		req := shape.Requirements(kind)
		fmt.Fprintf(&b, "- %s (%s)", kind, req.Family)
		if len(req.Required) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(req.Required, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString(`
Geo charts take the region from chartOptions.regionField or xField and the value from
chartOptions.valueField or yField. Flow charts need chartOptions.originField,
destinationField and valueField.

`)
	return b.String()
}

func buildToolRules(maxTurns int) string {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return fmt.Sprintf(`RULES:
1. You have at most %d turns. Explore only what you need.
2. Use explore_field to check filter values before filtering on them.
3. Use preview_grouping to confirm a grouping produces sensible categories.
4. Finish by calling emit_configuration exactly once. Replying with text instead fails the request.
5. Field keys must come from the data model. Filters are AND-combined.
6. "in" and "contains_any" take a list in "values"; "is_null" and "is_not_null" take no value.

`, maxTurns)
}

func buildExamples(sch *schema.Config) string {
	if sch == nil || len(sch.Dimensions) == 0 || len(sch.Measures) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("EXAMPLES:\n")

	measure := sch.PrimaryMeasure()
	var firstDim, temporalDim, geoDim string
	for _, d := range sch.Dimensions {
		switch {
		case d.IsTemporal && temporalDim == "":
			temporalDim = d.Key
		case d.IsGeographic && geoDim == "":
			geoDim = d.Key
		case firstDim == "":
			firstDim = d.Key
		}
	}
	if firstDim == "" {
		firstDim = sch.Dimensions[0].Key
	}

	fmt.Fprintf(&b, "- \"%s by %s\" → bar, xField:%q, yField:%q, aggregation:\"sum\"\n", measure, firstDim, firstDim, measure)
	fmt.Fprintf(&b, "- \"total %s\" → kpi, xField:\"\", yField:%q, aggregation:\"sum\"\n", measure, measure)
	if temporalDim != "" {
		fmt.Fprintf(&b, "- \"%s trend\" → line, xField:%q, yField:%q\n", measure, temporalDim, measure)
	}
	if geoDim != "" {
		fmt.Fprintf(&b, "- \"map of %s\" → choropleth, xField:%q, yField:%q\n", measure, geoDim, measure)
	}
	b.WriteString("\n")
	return b.String()
}

// ============================================================================
// HELPERS
// ============================================================================

func quotedValues(vals []string) []string {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return quoted
}
