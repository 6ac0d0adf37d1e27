package schema

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
	"github.com/spektr-org/widgetkit/source"
)

// ============================================================================
// AUTO-DISCOVERY — Heuristic field classification
// ============================================================================
// Inspects sampled rows and generates a schema.Config. No AI needed.
//
// Classification pipeline per field:
//   1. Sample values → detect type (numeric, date, bool, string)
//   2. Type + cardinality → classify role (dimension, measure, skip)
//   3. Pattern matching → temporal, geographic, unit hints
//   4. Hierarchy detection across dimensions
// ============================================================================

// DiscoverOptions controls discovery behavior.
type DiscoverOptions struct {
	SampleSize     int      // max rows to inspect (0 = all)
	RecoverColumns []string // force-include columns that were auto-skipped
	Name           string   // dataset name override
}

// DefaultDiscoverOptions returns sensible defaults.
func DefaultDiscoverOptions() DiscoverOptions {
	return DiscoverOptions{SampleSize: 1000}
}

// Discover classifies fields over rows. fields fixes the column order; when
// nil it is derived from the rows.
func Discover(rows []engine.Row, fields []string, opts ...DiscoverOptions) (*Config, error) {
	opt := DefaultDiscoverOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.SampleSize > 0 && len(rows) > opt.SampleSize {
		rows = rows[:opt.SampleSize]
	}

	if fields == nil {
		fields = engine.Fields(engine.NewSliceView(rows))
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("dataset has no fields")
	}
	totalRows := len(rows)
	if totalRows == 0 {
		return nil, fmt.Errorf("dataset has no rows")
	}

	columns := make([]columnAnalysis, len(fields))
	for i, f := range fields {
		columns[i] = analyzeColumn(f, rows, totalRows)
	}

	recoverSet := make(map[string]bool)
	for _, col := range opt.RecoverColumns {
		recoverSet[strings.ToLower(col)] = true
	}

	config := &Config{
		Name:     opt.Name,
		RowCount: totalRows,
	}
	if config.Name == "" {
		config.Name = "Auto-discovered Dataset"
	}

	var dimensions []DimensionMeta
	var measures []MeasureMeta
	var skipped []SkippedColumn

	for i := range columns {
		col := &columns[i]
		switch col.role {
		case roleDimension:
			dimensions = append(dimensions, col.toDimension())
		case roleMeasure:
			measures = append(measures, col.toMeasure())
		case roleSkipped:
			if recoverSet[strings.ToLower(col.key)] {
				col.role = roleDimension
				dimensions = append(dimensions, col.toDimension())
			} else {
				skipped = append(skipped, SkippedColumn{
					Column:      col.key,
					Reason:      col.skipReason,
					Recoverable: col.recoverable,
				})
			}
		}
	}

	detectHierarchies(dimensions, rows, columns)

	config.Dimensions = dimensions
	config.Measures = measures
	config.SkippedColumns = skipped
	config.DiscoveredFrom = "rows"
	config.DiscoveredAt = time.Now().UTC().Format(time.RFC3339)
	return config, nil
}

// DiscoverFromCSV loads CSV bytes and discovers their schema.
func DiscoverFromCSV(data []byte, opts ...DiscoverOptions) (*Config, error) {
	rows, fields, err := source.LoadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	cfg, err := Discover(rows, fields, opts...)
	if err != nil {
		return nil, err
	}
	cfg.DiscoveredFrom = "CSV"
	return cfg, nil
}

// Describe samples a data source and discovers its schema.
func Describe(ctx context.Context, src source.DataSource, sample int, opts ...DiscoverOptions) (*Config, error) {
	fields, err := src.Fields(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := src.Fetch(ctx, nil, sample)
	if err != nil {
		return nil, err
	}
	cfg, err := Discover(rows, fields, opts...)
	if err != nil {
		return nil, err
	}
	cfg.DiscoveredFrom = "source"
	return cfg, nil
}

// ============================================================================
// COLUMN ANALYSIS
// ============================================================================

type columnRole int

const (
	roleDimension columnRole = iota
	roleMeasure
	roleSkipped
)

type columnType int

const (
	typeString columnType = iota
	typeNumeric
	typeDate
	typeBool
)

type columnAnalysis struct {
	key         string
	colType     columnType
	role        columnRole
	skipReason  string
	recoverable bool

	// Stats
	uniqueCount int
	totalCount  int
	nullCount   int
	sampleVals  []string
	min, max    float64

	isTemporal      bool
	temporalFormat  string
	isGeographic    bool
	hasDecimals     bool
	cardinalityHint string
}

// analyzeColumn inspects all values in a field and classifies it.
func analyzeColumn(key string, rows []engine.Row, totalRows int) columnAnalysis {
	col := columnAnalysis{
		key:        key,
		totalCount: totalRows,
		min:        math.Inf(1),
		max:        math.Inf(-1),
	}

	values := make([]any, 0, len(rows))
	uniqueSet := make(map[string]bool)
	for _, row := range rows {
		v, ok := row[key]
		if !ok || predicate.IsNullish(v) {
			col.nullCount++
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			col.nullCount++
			continue
		}
		values = append(values, v)
		uniqueSet[predicate.AsString(v)] = true
	}
	col.uniqueCount = len(uniqueSet)

	if len(values) == 0 {
		col.role = roleSkipped
		col.skipReason = "All values are empty/null"
		col.recoverable = false
		col.min, col.max = 0, 0
		return col
	}

	col.sampleVals = collectSamples(uniqueSet, 10)
	col.colType = detectType(values)

	if col.colType == typeNumeric {
		for _, v := range values {
			f, ok := predicate.AsFiniteNumber(v)
			if !ok {
				continue
			}
			col.min = math.Min(col.min, f)
			col.max = math.Max(col.max, f)
			if f != math.Trunc(f) {
				col.hasDecimals = true
			}
		}
	}
	if math.IsInf(col.min, 0) {
		col.min, col.max = 0, 0
	}

	if col.colType == typeString || col.colType == typeDate {
		col.isTemporal, col.temporalFormat = detectTemporalPattern(col.sampleVals)
	}
	if col.colType == typeDate {
		col.isTemporal = true
	}
	col.isGeographic = detectGeographic(col.key)

	col.classifyRole(totalRows)

	switch {
	case col.uniqueCount <= 10:
		col.cardinalityHint = "low"
	case col.uniqueCount <= 100:
		col.cardinalityHint = "medium"
	default:
		col.cardinalityHint = "high"
	}
	return col
}

// classifyRole determines dimension vs measure vs skip.
func (col *columnAnalysis) classifyRole(totalRows int) {
	switch col.colType {

	case typeNumeric:
		if col.uniqueCount == totalRows && totalRows > 10 && !col.hasDecimals && looksLikeID(col.key) {
			col.role = roleSkipped
			col.skipReason = "Unique per row — likely an ID column"
			col.recoverable = false
			return
		}
		// Continuous data is always a measure
		if col.hasDecimals {
			col.role = roleMeasure
			return
		}
		// Few unique values and a low ratio → coded dimension (e.g. priority 1-5).
		// Absolute < 20 alone fails on small datasets where 6/12 is actually 50%.
		uniqueRatio := float64(col.uniqueCount) / float64(totalRows)
		if col.uniqueCount < 20 && uniqueRatio < 0.3 && !looksLikeMeasure(col.key) {
			col.role = roleDimension
			return
		}
		col.role = roleMeasure

	case typeDate:
		col.role = roleDimension
		col.isTemporal = true

	case typeBool:
		col.role = roleDimension

	case typeString:
		if col.uniqueCount == totalRows && totalRows > 10 {
			col.role = roleSkipped
			col.skipReason = "Unique per row — likely an identifier"
			col.recoverable = true
			return
		}
		if col.uniqueCount > totalRows/2 && col.uniqueCount > 50 {
			col.role = roleSkipped
			col.skipReason = fmt.Sprintf("High cardinality (%d unique values) — not useful for grouping", col.uniqueCount)
			col.recoverable = true
			return
		}
		col.role = roleDimension
	}
}

// ============================================================================
// TYPE DETECTION
// ============================================================================

// detectType requires 80%+ of non-null values to match for numeric/date/bool.
func detectType(values []any) columnType {
	if len(values) == 0 {
		return typeString
	}

	numCount, dateCount, boolCount := 0, 0, 0
	for _, v := range values {
		switch x := v.(type) {
		case bool:
			boolCount++
		case time.Time:
			dateCount++
		case string:
			if isNumeric(x) {
				numCount++
			}
			if isDate(x) {
				dateCount++
			}
			if isBool(x) {
				boolCount++
			}
		default:
			if _, ok := predicate.AsNumber(v); ok {
				numCount++
			}
		}
	}

	threshold := int(float64(len(values)) * 0.8)
	if threshold == 0 {
		threshold = 1
	}

	if boolCount >= threshold && numCount < threshold {
		return typeBool
	}
	if dateCount >= threshold && numCount < threshold {
		return typeDate
	}
	if numCount >= threshold {
		return typeNumeric
	}
	return typeString
}

func isNumeric(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimPrefix(s, "€")
	s = strings.TrimPrefix(s, "£")
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

var dateFormats = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"Jan-2006",
	"January 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

func isDate(s string) bool {
	s = strings.TrimSpace(s)
	for _, layout := range dateFormats {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func isBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "false" || s == "yes" || s == "no"
}

// ============================================================================
// SPECIAL PATTERN DETECTION
// ============================================================================

var monthPatterns = []struct {
	re     *regexp.Regexp
	format string
}{
	{regexp.MustCompile(`^[A-Z][a-z]{2}-\d{4}$`), "MMM-yyyy"}, // Jan-2026
	{regexp.MustCompile(`^\d{4}-\d{2}$`), "yyyy-MM"},          // 2026-01
	{regexp.MustCompile(`^Q[1-4]-\d{4}$`), "QN-yyyy"},         // Q1-2026
	{regexp.MustCompile(`^Q[1-4]\s+\d{4}$`), "QN yyyy"},       // Q1 2026
	{regexp.MustCompile(`^[A-Z][a-z]+ \d{4}$`), "MMMM yyyy"},  // January 2026
}

// detectTemporalPattern checks if values match known month/quarter patterns.
func detectTemporalPattern(samples []string) (bool, string) {
	if len(samples) == 0 {
		return false, ""
	}
	for _, pattern := range monthPatterns {
		matches := 0
		for _, s := range samples {
			if pattern.re.MatchString(strings.TrimSpace(s)) {
				matches++
			}
		}
		if float64(matches)/float64(len(samples)) >= 0.8 {
			return true, pattern.format
		}
	}
	return false, ""
}

var geoKeywords = []string{"state", "location", "country", "region", "province", "county", "zip", "postal", "city", "territory"}

func detectGeographic(key string) bool {
	return containsAnyWord(key, geoKeywords)
}

var idKeywords = []string{"id", "key", "number", "no", "uuid"}

func looksLikeID(key string) bool {
	return containsAnyWord(key, idKeywords)
}

var measureKeywords = []string{
	"amount", "cost", "price", "retail", "revenue", "spend", "charge", "total",
	"hours", "points", "qty", "quantity", "count", "units", "weight", "salary",
}

func looksLikeMeasure(key string) bool {
	return containsAnyWord(key, measureKeywords)
}

// containsAnyWord matches whole snake_case words of key.
func containsAnyWord(key string, words []string) bool {
	parts := strings.FieldsFunc(strings.ToLower(key), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '(' || r == ')'
	})
	for _, p := range parts {
		for _, w := range words {
			if p == w {
				return true
			}
		}
	}
	return false
}

// unitFor guesses a measure's unit and default aggregation from its name.
func unitFor(key string) (unit string, currency bool, defaultAgg string) {
	switch {
	case containsAnyWord(key, []string{"amount", "cost", "price", "retail", "revenue", "spend", "charge", "salary", "fee"}):
		return "currency", true, "sum"
	case containsAnyWord(key, []string{"percent", "pct", "rate", "ratio", "score"}):
		return "percent", false, "avg"
	case containsAnyWord(key, []string{"hours", "hrs", "minutes", "days"}):
		return "hours", false, "sum"
	case containsAnyWord(key, []string{"points"}):
		return "points", false, "avg"
	default:
		return "units", false, "sum"
	}
}

// ============================================================================
// HIERARCHY DETECTION
// ============================================================================

// detectHierarchies finds parent/child relationships between dimensions.
// If every value of B maps to exactly one value of A, and A has fewer
// unique values, then A is parent of B. The closest parent (highest
// cardinality) wins.
func detectHierarchies(dimensions []DimensionMeta, rows []engine.Row, columns []columnAnalysis) {
	dimUniques := make(map[string]int)
	for _, col := range columns {
		if col.role == roleDimension {
			dimUniques[col.key] = col.uniqueCount
		}
	}

	for i := range dimensions {
		childKey := dimensions[i].Key
		if _, ok := dimUniques[childKey]; !ok {
			continue
		}

		bestParent := ""
		bestParentUniques := 0
		for j := range dimensions {
			if i == j {
				continue
			}
			parentKey := dimensions[j].Key
			if _, ok := dimUniques[parentKey]; !ok {
				continue
			}
			if dimUniques[parentKey] >= dimUniques[childKey] {
				continue
			}

			childToParent := make(map[string]string)
			isHierarchy := true
			for _, row := range rows {
				child := valueString(row, childKey)
				parent := valueString(row, parentKey)
				if child == "" || parent == "" {
					continue
				}
				if existing, ok := childToParent[child]; ok {
					if existing != parent {
						isHierarchy = false
						break
					}
				} else {
					childToParent[child] = parent
				}
			}

			if isHierarchy && len(childToParent) > 1 && dimUniques[parentKey] > bestParentUniques {
				bestParent = parentKey
				bestParentUniques = dimUniques[parentKey]
			}
		}
		if bestParent != "" {
			dimensions[i].Parent = bestParent
		}
	}
}

func valueString(row engine.Row, key string) string {
	v, ok := row[key]
	if !ok || predicate.IsNullish(v) {
		return ""
	}
	return strings.TrimSpace(predicate.AsString(v))
}

// ============================================================================
// CONVERSION HELPERS
// ============================================================================

func (col *columnAnalysis) toDimension() DimensionMeta {
	return DimensionMeta{
		Key:             col.key,
		DisplayName:     toDisplayName(col.key),
		SampleValues:    col.sampleVals,
		UniqueCount:     col.uniqueCount,
		NullCount:       col.nullCount,
		IsTemporal:      col.isTemporal,
		TemporalFormat:  col.temporalFormat,
		IsGeographic:    col.isGeographic,
		CardinalityHint: col.cardinalityHint,
	}
}

func (col *columnAnalysis) toMeasure() MeasureMeta {
	unit, currency, agg := unitFor(col.key)
	return MeasureMeta{
		Key:                col.key,
		DisplayName:        toDisplayName(col.key),
		Unit:               unit,
		IsCurrency:         currency,
		Aggregations:       []string{"sum", "avg", "min", "max", "count"},
		DefaultAggregation: agg,
		Min:                col.min,
		Max:                col.max,
		NullCount:          col.nullCount,
	}
}

// ============================================================================
// STRING UTILITIES
// ============================================================================

// toDisplayName converts "story_points" → "Story Points".
func toDisplayName(s string) string {
	if strings.Contains(s, " ") {
		return strings.TrimSpace(s)
	}
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")

	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// collectSamples picks up to maxSamples values in sorted order.
func collectSamples(uniqueSet map[string]bool, maxSamples int) []string {
	samples := make([]string, 0, len(uniqueSet))
	for v := range uniqueSet {
		samples = append(samples, v)
	}
	sort.Strings(samples)
	if len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}
	return samples
}
