package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/predicate"
)

// ============================================================================
// SQL SOURCE — remote-mode applier over database/sql
// ============================================================================
// Works with any driver that accepts "?" placeholders and double-quoted
// identifiers. The CLI registers modernc.org/sqlite ("sqlite") and
// duckdb-go ("duckdb").
// ============================================================================

// SQLSource fetches rows from one table.
type SQLSource struct {
	db      *sql.DB
	table   string
	mapping map[string]string
	logger  *zap.Logger

	mu      sync.Mutex
	columns []string
}

// SQLOption configures an SQLSource.
type SQLOption func(*SQLSource)

// WithColumnMapping renames logical fields to physical columns.
func WithColumnMapping(m map[string]string) SQLOption {
	return func(s *SQLSource) { s.mapping = m }
}

// WithLogger sets the source logger.
func WithLogger(l *zap.Logger) SQLOption {
	return func(s *SQLSource) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSQLSource reads from table through db.
func NewSQLSource(db *sql.DB, table string, opts ...SQLOption) *SQLSource {
	s := &SQLSource{db: db, table: table, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens and pings a database handle for driver/dsn.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &QueryError{Op: "open", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &QueryError{Op: "ping", Err: err}
	}
	return db, nil
}

// Fields returns the table's columns, cached after the first call.
func (s *SQLSource) Fields(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.columns != nil {
		return append([]string(nil), s.columns...), nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+quoteIdentifier(s.table)+" LIMIT 0")
	if err != nil {
		return nil, &QueryError{Op: "columns", Table: s.table, Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{Op: "columns", Table: s.table, Err: err}
	}
	s.columns = cols
	return append([]string(nil), cols...), nil
}

// Fetch pushes conds down as a WHERE clause and scans the result.
func (s *SQLSource) Fetch(ctx context.Context, conds []predicate.Condition, limit int) ([]engine.Row, error) {
	cols, err := s.Fields(ctx)
	if err != nil {
		return nil, err
	}

	stmt, args := NewQuery(s.table, cols).
		WithColumnMapping(s.mapping).
		WhereAll(conds).
		Limit(limit).
		SQL()
	s.logger.Debug("fetch", zap.String("sql", stmt), zap.Int("args", len(args)))

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, &QueryError{Op: "fetch", Table: s.table, Err: err}
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, &QueryError{Op: "scan", Table: s.table, Err: err}
	}
	return out, nil
}

func scanRows(rows *sql.Rows) ([]engine.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]engine.Row, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(engine.Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ============================================================================
// IMPORT — load rows into a table (CLI demo data, tests)
// ============================================================================

// Import creates table and inserts rows. Columns whose non-null values are
// all numeric become DOUBLE, everything else TEXT.
func Import(ctx context.Context, db *sql.DB, table string, fields []string, rows []engine.Row) error {
	if len(fields) == 0 {
		return &QueryError{Op: "import", Table: table, Err: fmt.Errorf("no columns")}
	}

	view := engine.NewSliceView(rows)
	defs := make([]string, len(fields))
	for i, f := range fields {
		defs[i] = quoteIdentifier(f) + " " + columnType(view, f)
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdentifier(table), strings.Join(defs, ", "))
	if _, err := db.ExecContext(ctx, create); err != nil {
		return &QueryError{Op: "create", Table: table, Err: err}
	}

	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = quoteIdentifier(f)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdentifier(table),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(fields)), ", "),
	)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &QueryError{Op: "import", Table: table, Err: err}
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		tx.Rollback()
		return &QueryError{Op: "import", Table: table, Err: err}
	}
	defer stmt.Close()

	for _, r := range rows {
		args := make([]any, len(fields))
		for i, f := range fields {
			args[i] = r[f]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return &QueryError{Op: "import", Table: table, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &QueryError{Op: "import", Table: table, Err: err}
	}
	return nil
}

func columnType(view engine.RowView, field string) string {
	seen := false
	for i := 0; i < view.Len(); i++ {
		v, ok := view.Value(i, field)
		if !ok || v == nil {
			continue
		}
		if _, isNum := predicate.AsNumber(v); !isNum {
			return "TEXT"
		}
		if _, isStr := v.(string); isStr {
			return "TEXT"
		}
		seen = true
	}
	if seen {
		return "DOUBLE"
	}
	return "TEXT"
}
