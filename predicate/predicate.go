// Package predicate holds the filter model shared by every widget component:
// conditions, logic blocks, the rule compiler and the in-memory matcher.
package predicate

import (
	"fmt"
	"strings"
)

// ============================================================================
// PREDICATE MODEL — Field / operator / value conditions
// ============================================================================

// Operator is a comparison applied between a row field and a condition value.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpContains    Operator = "contains"
	OpContainsAny Operator = "contains_any"
	OpIn          Operator = "in"
	OpIsNull      Operator = "is_null"
	OpIsNotNull   Operator = "is_not_null"
)

// Operators returns every supported operator in declaration order.
func Operators() []Operator {
	return []Operator{
		OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte,
		OpContains, OpContainsAny, OpIn, OpIsNull, OpIsNotNull,
	}
}

// Valid reports whether o is one of the supported operators.
func (o Operator) Valid() bool {
	for _, known := range Operators() {
		if o == known {
			return true
		}
	}
	return false
}

// TakesValue is false for the null checks, which ignore Condition.Value.
func (o Operator) TakesValue() bool {
	return o != OpIsNull && o != OpIsNotNull
}

// WantsList is true for operators whose value must be an array.
func (o Operator) WantsList() bool {
	return o == OpIn || o == OpContainsAny
}

// Condition is a single field/operator/value filter.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// String renders the condition for logs and prompts.
func (c Condition) String() string {
	if !c.Operator.TakesValue() {
		return fmt.Sprintf("%s %s", c.Field, c.Operator)
	}
	if list, ok := AsList(c.Value); ok {
		parts := make([]string, len(list))
		for i, v := range list {
			parts[i] = AsString(v)
		}
		return fmt.Sprintf("%s %s [%s]", c.Field, c.Operator, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s %s %s", c.Field, c.Operator, AsString(c.Value))
}

// usable reports whether a condition can reach an applier. Blank fields,
// unknown operators and missing values are no-ops and are dropped.
func usable(c Condition) bool {
	if strings.TrimSpace(c.Field) == "" {
		return false
	}
	if !c.Operator.Valid() {
		return false
	}
	if !c.Operator.TakesValue() {
		return true
	}
	if c.Value == nil {
		return false
	}
	if s, ok := c.Value.(string); ok && s == "" {
		return false
	}
	return true
}
