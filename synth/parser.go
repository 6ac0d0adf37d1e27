package synth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
	"github.com/spektr-org/widgetkit/shape"
)

// ============================================================================
// TERMINAL PARSER — emit_configuration arguments → WidgetSuggestion
// ============================================================================
// Arguments are decoded leniently (reasoning may be a string or a list,
// numbers may arrive as strings) and then validated strictly through the
// shape resolver. An invalid payload fails the run; nothing is patched up
// into a partially-specified config.
// ============================================================================

// terminalPayload mirrors the emit_configuration schema.
type terminalPayload struct {
	VisualizationType string          `json:"visualizationType"`
	XField            string          `json:"xField"`
	YField            string          `json:"yField"`
	GroupBy           string          `json:"groupBy"`
	Aggregation       string          `json:"aggregation"`
	Title             string          `json:"title"`
	ChartOptions      terminalOptions `json:"chartOptions"`
	Filters           []terminalCond  `json:"filters"`
	Reasoning         stringList      `json:"reasoning"`
	Warnings          stringList      `json:"warnings"`
}

type terminalOptions struct {
	Format           string      `json:"format"`
	Prefix           string      `json:"prefix"`
	Suffix           string      `json:"suffix"`
	RegionField      string      `json:"regionField"`
	ValueField       string      `json:"valueField"`
	MapKey           string      `json:"mapKey"`
	OriginField      string      `json:"originField"`
	DestinationField string      `json:"destinationField"`
	BinCount         json.Number `json:"binCount"`
}

type terminalCond struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
	Values   []any  `json:"values"`
}

// stringList accepts a JSON string or an array of strings.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if strings.TrimSpace(one) != "" {
			*s = stringList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*s = many
	return nil
}

// decodeArguments parses a tool-call argument blob. Markdown fences some
// models wrap around JSON are stripped first.
func decodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w (arguments: %.200s)", err, raw)
	}
	return args, nil
}

func parseTerminal(args map[string]any) (*terminalPayload, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var p terminalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s arguments: %w", ToolEmitConfiguration, err)
	}
	if _, ok := args["visualizationType"]; !ok {
		return nil, fmt.Errorf("%s: visualizationType is required", ToolEmitConfiguration)
	}
	if _, ok := args["aggregation"]; !ok {
		return nil, fmt.Errorf("%s: aggregation is required", ToolEmitConfiguration)
	}
	if len(p.Reasoning) == 0 {
		return nil, fmt.Errorf("%s: reasoning is required", ToolEmitConfiguration)
	}
	return &p, nil
}

// config converts the payload, attaching only the option set that belongs
// to the declared chart family.
func (p *terminalPayload) config() (engine.VisualizationConfig, error) {
	cfg := engine.VisualizationConfig{
		Type:        engine.ChartKind(p.VisualizationType),
		XField:      p.XField,
		YField:      p.YField,
		GroupBy:     p.GroupBy,
		Aggregation: engine.Aggregation(p.Aggregation),
		Title:       strings.TrimSpace(p.Title),
	}

	o := p.ChartOptions
	switch cfg.Type.Family() {
	case engine.FamilyKPI:
		if o.Format != "" || o.Prefix != "" || o.Suffix != "" {
			cfg.Options.KPI = &engine.KPIOptions{Format: o.Format, Prefix: o.Prefix, Suffix: o.Suffix}
		}
	case engine.FamilyGeo:
		if o.RegionField != "" || o.ValueField != "" || o.MapKey != "" {
			cfg.Options.Geo = &engine.GeoOptions{RegionField: o.RegionField, ValueField: o.ValueField, MapKey: o.MapKey}
		}
	case engine.FamilyFlow:
		cfg.Options.Flow = &engine.FlowOptions{
			OriginField:      o.OriginField,
			DestinationField: o.DestinationField,
			ValueField:       o.ValueField,
		}
	case engine.FamilyHistogram:
		if o.BinCount != "" {
			n, err := o.BinCount.Int64()
			if err != nil {
				return cfg, fmt.Errorf("chartOptions.binCount: %w", err)
			}
			cfg.Options.Histogram = &engine.HistogramOptions{BinCount: int(n)}
		}
	}
	return shape.Normalize(cfg), nil
}

// filters converts payload filters, dropping anything the compiler would.
func (p *terminalPayload) filters() []predicate.Condition {
	out := make([]predicate.Condition, 0, len(p.Filters))
	for _, f := range p.Filters {
		c := predicate.Condition{
			Field:    strings.TrimSpace(f.Field),
			Operator: predicate.Operator(strings.ToLower(strings.TrimSpace(f.Operator))),
			Value:    f.Value,
		}
		if c.Operator.WantsList() && len(f.Values) > 0 {
			c.Value = f.Values
		}
		out = append(out, c)
	}
	return predicate.Sanitize(out)
}

// finalize validates the payload and builds the suggestion body. Any
// failure wraps ErrInvalidTerminal.
func finalize(args map[string]any) (*WidgetSuggestion, error) {
	p, err := parseTerminal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTerminal, err)
	}
	cfg, err := p.config()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTerminal, err)
	}
	v := shape.Validate(cfg)
	if !v.Valid {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTerminal,
			&shape.ValidationError{Kind: cfg.Type, Missing: v.Missing, Invalid: v.Invalid})
	}

	warnings := append([]string{}, p.Warnings...)
	warnings = append(warnings, v.Warnings...)
	return &WidgetSuggestion{
		Config:    cfg,
		Filters:   p.filters(),
		Reasoning: append([]string{}, p.Reasoning...),
		Warnings:  warnings,
		Source:    OriginModel,
	}, nil
}
