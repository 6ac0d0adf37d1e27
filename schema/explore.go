package schema

import (
	"math"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
)

// DefaultTopValues caps FieldProfile.TopValues when Explore gets topN <= 0.
const DefaultTopValues = 10

// FieldProfile summarises one field over a row sample.
type FieldProfile struct {
	Field     string       `json:"field"`
	Present   int          `json:"present"` // rows carrying the key
	Nulls     int          `json:"nulls"`
	Distinct  int          `json:"distinct"`
	Numeric   bool         `json:"numeric"`
	Min       float64      `json:"min,omitempty"`
	Max       float64      `json:"max,omitempty"`
	Mean      float64      `json:"mean,omitempty"`
	TopValues []ValueCount `json:"topValues"`
	Truncated bool         `json:"truncated,omitempty"`
}

// ValueCount is one distinct value and how many rows carry it.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Explore profiles field across rows: presence, nulls, distinct values
// (most frequent first) and numeric range when every value is numeric.
func Explore(rows []engine.Row, field string, topN int) FieldProfile {
	if topN <= 0 {
		topN = DefaultTopValues
	}
	p := FieldProfile{Field: field, TopValues: []ValueCount{}}

	numeric := true
	numCount := 0
	sum := 0.0
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range rows {
		v, ok := row[field]
		if !ok {
			continue
		}
		p.Present++
		if predicate.IsNullish(v) {
			p.Nulls++
			continue
		}
		f, isNum := predicate.AsFiniteNumber(v)
		if !isNum {
			numeric = false
			continue
		}
		numCount++
		sum += f
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	if p.Present == 0 {
		return p
	}

	view := engine.ApplyConditions(engine.NewSliceView(rows), []predicate.Condition{
		{Field: field, Operator: predicate.OpIsNotNull},
	})
	all, _ := engine.GroupAndAggregate(view, field, "", engine.AggCount, 0)
	p.Distinct = len(all)
	p.Truncated = len(all) > topN
	if p.Truncated {
		all = all[:topN]
	}
	for _, c := range all {
		p.TopValues = append(p.TopValues, ValueCount{Value: c.Name, Count: c.Count})
	}

	if numeric && numCount > 0 {
		p.Numeric = true
		p.Min = lo
		p.Max = hi
		p.Mean = engine.RoundTo2(sum / float64(numCount))
	}
	return p
}
