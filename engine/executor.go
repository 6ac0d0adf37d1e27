package engine

import (
	"go.uber.org/zap"

	"github.com/spektr-org/widgetkit/predicate"
)

// ============================================================================
// EXECUTOR — Family dispatch
// ============================================================================
// Entry points:
//   Aggregate(view, cfg, opts...)         — rows already filtered
//   Execute(rows, cfg, conditions, opts...) — local filter, then Aggregate
//
// Pipeline:
//   1. (Execute only) apply conditions → SubView
//   2. dispatch on the config's chart family
//   3. return Result
//
// Callers validate the config with the shape package first. For any config
// the engine returns a result, possibly empty, and never an error.
// ============================================================================

// Aggregate computes the render-ready result for an already-filtered view.
func Aggregate(view RowView, cfg VisualizationConfig, opts ...Option) *Result {
	c := applyOptions(opts)
	kind := cfg.Type.Canonical()
	res := &Result{
		Type:     kind,
		Family:   kind.Family(),
		RowCount: view.Len(),
	}

	switch res.Family {
	case FamilyKPI:
		res.KPI = buildKPI(view, cfg)
	case FamilyCategorical:
		res.Categories, res.Truncated = buildCategorical(view, cfg, c.CategoryLimit)
	case FamilyGeo:
		res.Categories, res.Truncated = buildGeo(view, cfg, c.GeoLimit)
	case FamilyScatter:
		res.Points, res.Truncated = buildPoints(view, cfg, c.ScatterLimit)
	case FamilyHistogram:
		bins := cfg.BinCount()
		if bins <= 0 {
			bins = c.BinCount
		}
		res.Bins = Histogram(NumericValues(view, cfg.XField), bins)
	case FamilyFlow:
		res.Flows, res.Truncated = buildFlows(view, cfg, c.FlowLimit)
	case FamilyTable:
		res.Rows, res.Truncated = passthroughRows(view, c.TableLimit)
	default:
		c.Logger.Debug("unknown chart kind, returning empty result", zap.String("type", string(cfg.Type)))
	}

	c.Logger.Debug("aggregated",
		zap.String("type", string(kind)),
		zap.String("family", string(res.Family)),
		zap.Int("rows", res.RowCount),
		zap.Bool("truncated", res.Truncated),
	)
	return res
}

// Execute filters rows locally with conds and aggregates the survivors.
// rows is read, never modified.
func Execute(rows []Row, cfg VisualizationConfig, conds []predicate.Condition, opts ...Option) *Result {
	view := ApplyConditions(NewSliceView(rows), conds)
	return Aggregate(view, cfg, opts...)
}
