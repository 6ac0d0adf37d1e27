package engine

import (
	"math"
	"strconv"

	"github.com/spektr-org/widgetkit/predicate"
)

// ============================================================================
// HISTOGRAM — Equal-width binning of a numeric field
// ============================================================================
// Non-numeric and NaN values are dropped. The bin counts always add up to
// the number of numeric survivors.
// ============================================================================

// NumericValues collects the finite numeric values of field across a view.
func NumericValues(view RowView, field string) []float64 {
	out := make([]float64, 0, view.Len())
	for i := 0; i < view.Len(); i++ {
		v, ok := view.Value(i, field)
		if !ok {
			continue
		}
		if f, ok := predicate.AsFiniteNumber(v); ok {
			out = append(out, f)
		}
	}
	return out
}

// Histogram bins values into binCount equal-width buckets over [min, max].
// When every value is equal the result is a single bin holding all of them.
func Histogram(values []float64, binCount int) []Bin {
	if len(values) == 0 {
		return []Bin{}
	}
	if binCount <= 0 {
		binCount = DefaultBinCount
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	if lo == hi {
		return []Bin{{Bin: formatBound(lo, false), Count: len(values), Lo: lo, Hi: hi}}
	}

	// Ranges wider than MaxFloat64 are binned at half scale so the
	// arithmetic stays finite.
	scale := 1.0
	if math.IsInf(hi-lo, 0) {
		scale = 2
	}
	sLo := lo / scale
	width := (hi/scale - sLo) / float64(binCount)

	bins := make([]Bin, binCount)
	for i := range bins {
		bLo := (sLo + float64(i)*width) * scale
		bHi := bLo + width*scale
		if i == binCount-1 {
			bHi = hi
		}
		bins[i] = Bin{Bin: binLabel(bLo, bHi, width*scale), Lo: bLo, Hi: bHi}
	}

	for _, v := range values {
		pos := math.Floor((v/scale - sLo) / width)
		idx := binCount - 1
		if !math.IsNaN(pos) && !math.IsInf(pos, 0) {
			idx = int(math.Max(0, math.Min(pos, float64(binCount-1))))
		}
		bins[idx].Count++
	}
	return bins
}

// binLabel renders "{lo}-{hi}". Wide bins use integer boundaries
// (ceil(lo)-floor(hi)); narrow bins keep two decimals.
func binLabel(lo, hi, width float64) string {
	if width >= 1 {
		return formatBound(math.Ceil(lo), true) + "-" + formatBound(math.Floor(hi), true)
	}
	return strconv.FormatFloat(lo, 'f', 2, 64) + "-" + strconv.FormatFloat(hi, 'f', 2, 64)
}

func formatBound(v float64, integer bool) string {
	if math.Abs(v) >= 1e21 {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	if integer || v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
