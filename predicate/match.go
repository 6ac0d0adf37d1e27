package predicate

import "strings"

// ============================================================================
// LOCAL APPLIER — Conditions evaluated against an in-memory row
// ============================================================================
// AND-combined only. There is no OR grouping; callers needing disjunction
// use contains_any or in.
//
// A field that is absent from the row never matches. A field that is present
// with a nil value only satisfies is_null.
// ============================================================================

// Predicate tests a single row.
type Predicate func(row map[string]any) bool

// Matcher builds one predicate that requires every condition to hold.
// An empty condition list matches everything.
func Matcher(conds []Condition) Predicate {
	active := make([]Condition, 0, len(conds))
	for _, c := range conds {
		if c.Operator.WantsList() {
			if _, ok := AsList(c.Value); !ok {
				continue // mirrors the remote chain, which skips these
			}
		}
		active = append(active, c)
	}
	return func(row map[string]any) bool {
		for _, c := range active {
			if !matchOne(row, c) {
				return false
			}
		}
		return true
	}
}

// Filter returns the indices of rows accepted by p.
func Filter[R ~map[string]any](rows []R, p Predicate) []int {
	idx := make([]int, 0, len(rows))
	for i, r := range rows {
		if p(r) {
			idx = append(idx, i)
		}
	}
	return idx
}

func matchOne(row map[string]any, c Condition) bool {
	v, present := row[c.Field]
	if !present {
		return false
	}
	null := IsNullish(v)

	switch c.Operator {
	case OpIsNull:
		return null
	case OpIsNotNull:
		return !null
	}
	if null {
		return false
	}

	switch c.Operator {
	case OpEq:
		return compare(v, c.Value) == 0
	case OpNeq:
		return compare(v, c.Value) != 0
	case OpGt:
		return ordered(v, c.Value, func(n int) bool { return n > 0 })
	case OpGte:
		return ordered(v, c.Value, func(n int) bool { return n >= 0 })
	case OpLt:
		return ordered(v, c.Value, func(n int) bool { return n < 0 })
	case OpLte:
		return ordered(v, c.Value, func(n int) bool { return n <= 0 })
	case OpContains:
		return containsFold(AsString(v), AsString(c.Value))
	case OpContainsAny:
		list, _ := AsList(c.Value)
		text := AsString(v)
		for _, item := range list {
			if containsFold(text, AsString(item)) {
				return true
			}
		}
		return false
	case OpIn:
		list, _ := AsList(c.Value)
		for _, item := range list {
			if compare(v, item) == 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// compare orders two scalars numerically when both coerce, else as strings.
func compare(a, b any) int {
	if x, ok := AsNumber(a); ok {
		if y, ok := AsNumber(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(AsString(a), AsString(b))
}

// ordered refuses to rank a number against non-numeric text.
func ordered(a, b any, want func(int) bool) bool {
	_, an := AsNumber(a)
	_, bn := AsNumber(b)
	if an != bn {
		return false
	}
	return want(compare(a, b))
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
