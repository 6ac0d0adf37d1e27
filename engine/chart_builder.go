package engine

// ============================================================================
// CHART BUILDER — Produces ChartConfig from a categorical or geo Result
// ============================================================================
// Single series from the categories; one series per breakdown key when a
// secondary grouping is present. Series order is first-seen order so the
// output is deterministic.
// ============================================================================

// Default color palette for chart series.
var defaultColors = []string{
	"#4F46E5", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6",
	"#06B6D4", "#EC4899", "#84CC16", "#F97316", "#6366F1",
}

// BuildChart produces a ChartConfig from a config and its result.
// Returns nil for families that have no series form.
func BuildChart(cfg VisualizationConfig, res *Result) *ChartConfig {
	if res == nil || (res.Family != FamilyCategorical && res.Family != FamilyGeo) {
		return nil
	}

	kind := res.Type
	chart := &ChartConfig{
		ChartType:  kind,
		Title:      cfg.Title,
		ShowLegend: true,
		ShowGrid:   kind != KindPie && kind != KindTreemap && res.Family != FamilyGeo,
	}

	if res.Family == FamilyGeo {
		chart.XAxis = LabelForField(cfg.RegionField())
		chart.YAxis = LabelForAggregation(AggSum)
		if cfg.Options.Geo != nil {
			chart.MapKey = cfg.Options.Geo.MapKey
		}
	} else {
		chart.XAxis = LabelForField(cfg.XField)
		chart.YAxis = LabelForAggregation(cfg.Aggregation)
	}

	if hasBreakdown(res.Categories) {
		chart.Series = buildMultiSeries(res.Categories)
	} else {
		chart.Series = buildSingleSeries(res.Categories, cfg.Title)
	}
	if kind == KindPie {
		for i := range chart.Series {
			addPercentages(chart.Series[i].Data)
		}
	}

	chart.Colors = assignColors(len(chart.Series))
	return chart
}

// ============================================================================
// SERIES BUILDERS
// ============================================================================

func buildSingleSeries(cats []Category, seriesName string) []ChartSeries {
	if seriesName == "" {
		seriesName = "Value"
	}

	points := make([]ChartPoint, 0, len(cats))
	for _, c := range cats {
		points = append(points, ChartPoint{
			Label: c.Name,
			Value: RoundTo2(c.Value),
		})
	}

	return []ChartSeries{{
		Name: seriesName,
		Data: points,
	}}
}

func buildMultiSeries(cats []Category) []ChartSeries {
	seen := make(map[string]bool)
	subKeys := make([]string, 0)
	for _, c := range cats {
		for _, sc := range c.Breakdown {
			if !seen[sc.Name] {
				seen[sc.Name] = true
				subKeys = append(subKeys, sc.Name)
			}
		}
	}

	seriesMap := make(map[string][]ChartPoint, len(subKeys))
	for _, c := range cats {
		lookup := make(map[string]float64, len(c.Breakdown))
		for _, sc := range c.Breakdown {
			lookup[sc.Name] = sc.Value
		}
		for _, key := range subKeys {
			seriesMap[key] = append(seriesMap[key], ChartPoint{
				Label: c.Name,
				Value: RoundTo2(lookup[key]),
			})
		}
	}

	series := make([]ChartSeries, 0, len(subKeys))
	for i, key := range subKeys {
		series = append(series, ChartSeries{
			Name:  key,
			Data:  seriesMap[key],
			Color: defaultColors[i%len(defaultColors)],
		})
	}
	return series
}

// addPercentages sets each point's share of the series total.
func addPercentages(points []ChartPoint) {
	var total float64
	for _, p := range points {
		total += p.Value
	}
	for i := range points {
		pct := 0.0
		if total != 0 {
			pct = RoundTo2(points[i].Value / total * 100)
		}
		points[i].Percent = &pct
	}
}

func hasBreakdown(cats []Category) bool {
	for _, c := range cats {
		if len(c.Breakdown) > 0 {
			return true
		}
	}
	return false
}

func assignColors(count int) []string {
	colors := make([]string, count)
	for i := 0; i < count; i++ {
		colors[i] = defaultColors[i%len(defaultColors)]
	}
	return colors
}
