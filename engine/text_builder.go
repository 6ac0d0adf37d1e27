package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ============================================================================
// TEXT BUILDER — KPI formatting and display labels
// ============================================================================

// FormatKPI renders a KPI value using the configured format, prefix and
// suffix. Counts default to integer formatting; everything else to number.
func FormatKPI(value float64, agg Aggregation, opts *KPIOptions) string {
	format := ""
	var prefix, suffix string
	if opts != nil {
		format = strings.ToLower(opts.Format)
		prefix, suffix = opts.Prefix, opts.Suffix
	}
	if format == "" {
		format = "number"
		if agg == AggCount {
			format = "integer"
		}
	}

	var body string
	switch format {
	case "integer":
		body = FormatNumber(math.Round(value), 0)
	case "currency":
		if prefix == "" {
			prefix = "$"
		}
		body = FormatNumber(value, 2)
	case "percent":
		body = FormatNumber(value, 1)
		if suffix == "" {
			suffix = "%"
		}
	case "compact":
		body = FormatCompact(value)
	default:
		body = FormatNumber(value, 2)
	}

	if strings.HasPrefix(body, "-") && prefix != "" {
		return "-" + prefix + body[1:] + suffix
	}
	return prefix + body + suffix
}

// FormatNumber formats with comma separators and the given decimals.
// Trailing zero decimals are kept. Any finite magnitude is accepted.
func FormatNumber(v float64, decimals int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	if decimals < 0 {
		decimals = 0
	}
	digits := strconv.FormatFloat(math.Abs(v), 'f', decimals, 64)
	intPart, frac, _ := strings.Cut(digits, ".")
	out := groupThousands(intPart)
	if decimals > 0 {
		out += "." + frac
	}
	// Values that round to zero print unsigned.
	if v < 0 && strings.Trim(digits, "0.") != "" {
		out = "-" + out
	}
	return out
}

// FormatInt formats an integer with comma separators.
func FormatInt(n int64) string {
	if n < 0 {
		// uint64(-n) wraps correctly for math.MinInt64.
		return "-" + groupThousands(strconv.FormatUint(uint64(-n), 10))
	}
	return groupThousands(strconv.FormatInt(n, 10))
}

// groupThousands inserts commas into a run of decimal digits.
func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// FormatCompact abbreviates large magnitudes: 1.2K, 3.4M, 5.6B.
func FormatCompact(v float64) string {
	abs := math.Abs(v)
	sign := ""
	if v < 0 {
		sign = "-"
	}
	switch {
	case abs >= 1e9:
		return sign + trimZero(abs/1e9) + "B"
	case abs >= 1e6:
		return sign + trimZero(abs/1e6) + "M"
	case abs >= 1e3:
		return sign + trimZero(abs/1e3) + "K"
	default:
		return sign + trimZero(abs)
	}
}

func trimZero(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	return strings.TrimSuffix(s, ".0")
}

// RoundTo2 rounds to 2 decimal places.
func RoundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

// LabelForField turns a snake_case field into a title-cased label.
func LabelForField(field string) string {
	if field == "" {
		return ""
	}
	parts := strings.FieldsFunc(field, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, p := range parts {
		r, size := utf8.DecodeRuneInString(p)
		parts[i] = string(unicode.ToUpper(r)) + p[size:]
	}
	return strings.Join(parts, " ")
}

// LabelForAggregation returns a human-readable label for an aggregation.
func LabelForAggregation(agg Aggregation) string {
	switch agg {
	case AggSum:
		return "Total"
	case AggCount:
		return "Count"
	case AggAvg:
		return "Average"
	case AggMax:
		return "Maximum"
	case AggMin:
		return "Minimum"
	default:
		return "Value"
	}
}
