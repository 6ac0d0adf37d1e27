// Package source fetches rows for the aggregation engine. Remote sources
// push compiled conditions down as SQL; local sources filter in memory.
package source

import (
	"context"
	"fmt"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
)

// DataSource is the read contract the session and synthesizer use.
type DataSource interface {
	// Fetch returns rows matching every condition, at most limit rows
	// (limit <= 0 means no cap).
	Fetch(ctx context.Context, conds []predicate.Condition, limit int) ([]engine.Row, error)
	// Fields lists the available field names.
	Fields(ctx context.Context) ([]string, error)
}

// QueryError reports a failed fetch. It is never retried internally and
// aggregation never runs on the partial result.
type QueryError struct {
	Op    string
	Table string
	Err   error
}

func (e *QueryError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("source %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("source %s %q: %v", e.Op, e.Table, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ============================================================================
// MEMORY SOURCE — local-mode applier over in-memory rows
// ============================================================================

// MemorySource serves rows held in memory.
type MemorySource struct {
	rows   []engine.Row
	fields []string
}

// NewMemorySource wraps rows. The slice is not copied.
func NewMemorySource(rows []engine.Row) *MemorySource {
	return &MemorySource{
		rows:   rows,
		fields: engine.Fields(engine.NewSliceView(rows)),
	}
}

// Fetch filters with the local matcher.
func (m *MemorySource) Fetch(ctx context.Context, conds []predicate.Condition, limit int) ([]engine.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, &QueryError{Op: "fetch", Err: err}
	}
	match := predicate.Matcher(conds)
	out := make([]engine.Row, 0)
	for _, r := range m.rows {
		if !match(r) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Fields returns field names in first-seen order.
func (m *MemorySource) Fields(ctx context.Context) ([]string, error) {
	return append([]string(nil), m.fields...), nil
}

// Rows exposes the underlying rows.
func (m *MemorySource) Rows() []engine.Row { return m.rows }
