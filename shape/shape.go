// Package shape resolves what a chart kind needs and checks whether a
// visualization config is complete enough to aggregate.
package shape

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/spektr-org/widgetkit/engine"
)

// ============================================================================
// SHAPE RESOLVER — Chart kind → required fields and output family
// ============================================================================
// Pure lookup + validation. Consulted by the editing session before every
// aggregation and by the synthesizer before it may terminate.
// ============================================================================

// Field names reported in Missing.
const (
	FieldX           = "xField"
	FieldY           = "yField"
	FieldRegion      = "regionField"
	FieldValue       = "valueField"
	FieldOrigin      = "originField"
	FieldDestination = "destinationField"
)

// Requirement is the minimal field set for a chart kind.
type Requirement struct {
	Kind     engine.ChartKind `json:"kind"`
	Family   engine.Family    `json:"family"`
	Required []string         `json:"required"`
	Optional []string         `json:"optional,omitempty"`
}

// Requirements returns the field set for kind. Unknown kinds have the
// unknown family and no requirements.
func Requirements(kind engine.ChartKind) Requirement {
	kind = kind.Canonical()
	req := Requirement{Kind: kind, Family: kind.Family(), Required: []string{}}

	switch req.Family {
	case engine.FamilyKPI:
		req.Optional = []string{FieldY}
	case engine.FamilyCategorical:
		req.Required = []string{FieldX}
		req.Optional = []string{FieldY, "groupBy"}
	case engine.FamilyScatter:
		req.Required = []string{FieldX, FieldY}
	case engine.FamilyHistogram:
		req.Required = []string{FieldX}
		req.Optional = []string{"binCount"}
	case engine.FamilyGeo:
		req.Required = []string{FieldRegion, FieldValue}
		req.Optional = []string{"mapKey"}
	case engine.FamilyFlow:
		req.Required = []string{FieldOrigin, FieldDestination, FieldValue}
	case engine.FamilyTable:
	}
	return req
}

// FamilyOf maps a chart kind (aliases included) to its output family.
func FamilyOf(kind engine.ChartKind) engine.Family {
	return kind.Family()
}

// ============================================================================
// VALIDATION
// ============================================================================

// Validation is the outcome of Validate.
type Validation struct {
	Valid    bool     `json:"valid"`
	Missing  []string `json:"missing"`
	Invalid  []string `json:"invalid,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidationError reports a config that cannot run for its declared kind.
type ValidationError struct {
	Kind    engine.ChartKind
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ", "))
	}
	return fmt.Sprintf("config for %q is incomplete: %s", e.Kind, strings.Join(parts, "; "))
}

// rules carries the enumerations checked by the validator.
type rules struct {
	Type        string `json:"type" validate:"required,oneof=kpi bar line area pie treemap grouped_table scatter histogram choropleth flow table"`
	Aggregation string `json:"aggregation" validate:"omitempty,oneof=sum avg count min max"`
	KPIFormat   string `json:"chartOptions.kpi.format" validate:"omitempty,oneof=number integer currency percent compact"`
	BinCount    int    `json:"chartOptions.histogram.binCount" validate:"gte=0,lte=1000"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks enumerations and required fields. An empty aggregation is
// accepted because Normalize supplies a default.
func Validate(cfg engine.VisualizationConfig) Validation {
	v := Validation{Missing: []string{}}
	kind := cfg.Type.Canonical()

	r := rules{
		Type:        string(kind),
		Aggregation: strings.ToLower(string(cfg.Aggregation)),
		BinCount:    cfg.BinCount(),
	}
	if cfg.Options.KPI != nil {
		r.KPIFormat = strings.ToLower(cfg.Options.KPI.Format)
	}
	if err := validate.Struct(r); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range errs {
				v.Invalid = append(v.Invalid, fe.Field())
			}
		} else {
			v.Invalid = append(v.Invalid, err.Error())
		}
	}

	for _, field := range Requirements(kind).Required {
		if strings.TrimSpace(resolve(cfg, field)) == "" {
			v.Missing = append(v.Missing, field)
		}
	}

	v.Warnings = warnings(cfg, kind)
	v.Valid = len(v.Missing) == 0 && len(v.Invalid) == 0
	return v
}

// Check returns a *ValidationError when cfg is not runnable.
func Check(cfg engine.VisualizationConfig) error {
	v := Validate(cfg)
	if v.Valid {
		return nil
	}
	return &ValidationError{Kind: cfg.Type, Missing: v.Missing, Invalid: v.Invalid}
}

// resolve reads a required field, honouring the geo fallbacks to x/y.
func resolve(cfg engine.VisualizationConfig, field string) string {
	origin, destination, value := cfg.FlowFields()
	switch field {
	case FieldX:
		return cfg.XField
	case FieldY:
		return cfg.YField
	case FieldRegion:
		return cfg.RegionField()
	case FieldValue:
		if cfg.Type.Family() == engine.FamilyFlow {
			return value
		}
		return cfg.ValueField()
	case FieldOrigin:
		return origin
	case FieldDestination:
		return destination
	default:
		return ""
	}
}

func warnings(cfg engine.VisualizationConfig, kind engine.ChartKind) []string {
	var out []string
	family := kind.Family()
	if family == engine.FamilyKPI && cfg.YField == "" {
		out = append(out, "kpi has no yField; the value will be a row count")
	}
	if family == engine.FamilyCategorical && cfg.YField == "" && cfg.Aggregation != "" && cfg.Aggregation != engine.AggCount {
		out = append(out, fmt.Sprintf("%s without yField counts rows", cfg.Aggregation))
	}
	if cfg.GroupBy != "" && family != engine.FamilyCategorical {
		out = append(out, fmt.Sprintf("groupBy is ignored for %s charts", family))
	}
	return out
}

// ============================================================================
// NORMALIZATION — Canonical defaults
// ============================================================================

// Normalize returns a copy with canonical kind, trimmed field names and
// defaults filled in: aggregation sum when a measure is set (count
// otherwise), histogram bin count 10. cfg is not modified.
func Normalize(cfg engine.VisualizationConfig) engine.VisualizationConfig {
	out := cfg
	out.Type = cfg.Type.Canonical()
	out.XField = strings.TrimSpace(cfg.XField)
	out.YField = strings.TrimSpace(cfg.YField)
	out.GroupBy = strings.TrimSpace(cfg.GroupBy)
	out.Aggregation = engine.Aggregation(strings.ToLower(strings.TrimSpace(string(cfg.Aggregation))))

	if out.Aggregation == "" {
		if out.YField != "" {
			out.Aggregation = engine.AggSum
		} else {
			out.Aggregation = engine.AggCount
		}
	}

	// Copy option pointers so the caller's config stays untouched.
	if cfg.Options.KPI != nil {
		kpi := *cfg.Options.KPI
		out.Options.KPI = &kpi
	}
	if cfg.Options.Geo != nil {
		geo := *cfg.Options.Geo
		out.Options.Geo = &geo
	}
	if cfg.Options.Flow != nil {
		flow := *cfg.Options.Flow
		out.Options.Flow = &flow
	}
	if cfg.Options.Histogram != nil {
		h := *cfg.Options.Histogram
		out.Options.Histogram = &h
	}

	if out.Type.Family() == engine.FamilyHistogram {
		if out.Options.Histogram == nil {
			out.Options.Histogram = &engine.HistogramOptions{}
		}
		if out.Options.Histogram.BinCount <= 0 {
			out.Options.Histogram.BinCount = engine.DefaultBinCount
		}
	}
	return out
}
