package source

import (
	"strconv"
	"strings"

	"github.com/spektr-org/widgetkit/predicate"
)

// ============================================================================
// REMOTE APPLIER — Conditions → parameterised SQL filter chain
// ============================================================================
// One Where call per compiled condition, in compiled order, AND-combined.
//
//   eq / neq / gt / gte / lt / lte → = <> > >= < <=
//   contains                       → LOWER(CAST(col AS TEXT)) LIKE ?
//   contains_any                   → OR group of the above
//   in                             → col IN (?, ?, ...)
//   is_null / is_not_null         → col IS [NOT] NULL (value ignored)
//
// in / contains_any with a non-array value are skipped. A condition on a
// column the table does not have renders as a false literal so the query
// fails closed instead of erroring.
//
// contains on a numeric column matches the database's text rendering, not
// the local one: sqlite casts 120 stored as DOUBLE to "120.0" where local
// mode sees "120". Substrings of the integer part agree in both modes.
// ============================================================================

const falseLiteral = "1 = 0"

// Query is a chainable SELECT builder. Placeholders are "?", accepted by
// both SQLite and DuckDB.
type Query struct {
	table   string
	columns map[string]bool
	mapping map[string]string
	where   []string
	args    []any
	limit   int
}

// NewQuery starts a query on table. columns is the table's known column
// set; nil disables the unknown-column check.
func NewQuery(table string, columns []string) *Query {
	q := &Query{table: table}
	if columns != nil {
		q.columns = make(map[string]bool, len(columns))
		for _, c := range columns {
			q.columns[c] = true
		}
	}
	return q
}

// WithColumnMapping renames condition fields to physical column names.
func (q *Query) WithColumnMapping(mapping map[string]string) *Query {
	q.mapping = mapping
	return q
}

// Where appends one condition to the chain.
func (q *Query) Where(c predicate.Condition) *Query {
	clause, args, ok := q.encode(c)
	if ok {
		q.where = append(q.where, clause)
		q.args = append(q.args, args...)
	}
	return q
}

// WhereAll appends every condition in order.
func (q *Query) WhereAll(conds []predicate.Condition) *Query {
	for _, c := range conds {
		q.Where(c)
	}
	return q
}

// Limit caps the number of rows. n <= 0 means no limit.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Clauses returns the encoded WHERE fragments, one per applied condition.
func (q *Query) Clauses() []string {
	return append([]string(nil), q.where...)
}

// SQL renders the statement and its positional arguments.
func (q *Query) SQL() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(quoteIdentifier(q.table))
	if len(q.where) == 1 {
		b.WriteString(" WHERE ")
		b.WriteString(q.where[0])
	} else if len(q.where) > 1 {
		b.WriteString(" WHERE (")
		b.WriteString(strings.Join(q.where, ") AND ("))
		b.WriteString(")")
	}
	if q.limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.limit))
	}
	return b.String(), append([]any(nil), q.args...)
}

// encode renders a single condition. ok=false means the condition is skipped.
func (q *Query) encode(c predicate.Condition) (string, []any, bool) {
	field := strings.TrimSpace(c.Field)
	if field == "" || !c.Operator.Valid() {
		return "", nil, false
	}

	var list []any
	if c.Operator.WantsList() {
		l, ok := predicate.AsList(c.Value)
		if !ok {
			return "", nil, false
		}
		list = l
	} else if c.Operator.TakesValue() && c.Value == nil {
		return "", nil, false
	}

	if mapped, ok := q.mapping[field]; ok {
		field = mapped
	}
	if q.columns != nil && !q.columns[field] {
		return falseLiteral, nil, true
	}
	col := quoteIdentifier(field)

	switch c.Operator {
	case predicate.OpEq:
		return col + " = ?", []any{c.Value}, true
	case predicate.OpNeq:
		return col + " <> ?", []any{c.Value}, true
	case predicate.OpGt:
		return col + " > ?", []any{c.Value}, true
	case predicate.OpGte:
		return col + " >= ?", []any{c.Value}, true
	case predicate.OpLt:
		return col + " < ?", []any{c.Value}, true
	case predicate.OpLte:
		return col + " <= ?", []any{c.Value}, true
	case predicate.OpContains:
		return likeClause(col), []any{likePattern(c.Value)}, true
	case predicate.OpContainsAny:
		if len(list) == 0 {
			return falseLiteral, nil, true
		}
		parts := make([]string, len(list))
		args := make([]any, len(list))
		for i, v := range list {
			parts[i] = likeClause(col)
			args[i] = likePattern(v)
		}
		if len(parts) == 1 {
			return parts[0], args, true
		}
		return "(" + strings.Join(parts, " OR ") + ")", args, true
	case predicate.OpIn:
		if len(list) == 0 {
			return falseLiteral, nil, true
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(list)), ", ")
		return col + " IN (" + marks + ")", list, true
	case predicate.OpIsNull:
		return col + " IS NULL", nil, true
	case predicate.OpIsNotNull:
		return col + " IS NOT NULL", nil, true
	default:
		return "", nil, false
	}
}

func likeClause(col string) string {
	return "LOWER(CAST(" + col + ` AS TEXT)) LIKE ? ESCAPE '\'`
}

// likePattern lower-cases the needle and escapes LIKE wildcards.
func likePattern(v any) string {
	s := strings.ToLower(predicate.AsString(v))
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return "%" + s + "%"
}

// quoteIdentifier always double-quotes, doubling embedded quotes.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
