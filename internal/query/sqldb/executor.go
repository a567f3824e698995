// Package sqldb runs generated SQL through database/sql drivers and
// introspects the connected database per dialect.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rmp4/sql-agent-dashboard/internal/query"
)

const (
	DialectPostgres  = "postgres"
	DialectMySQL     = "mysql"
	DialectSQLite    = "sqlite"
	DialectSQLServer = "sqlserver"
	DialectDuckDB    = "duckdb"
)

var driverNames = map[string]string{
	DialectPostgres:  "pgx",
	DialectMySQL:     "mysql",
	DialectSQLite:    "sqlite",
	DialectSQLServer: "sqlserver",
	DialectDuckDB:    "duckdb",
}

// DriverName maps a dialect to the database/sql driver registered for it.
func DriverName(dialect string) (string, error) {
	name, ok := driverNames[dialect]
	if !ok {
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
	return name, nil
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open prepares a pool for dialect. No connection is made until first use.
func Open(dialect, dsn string, pool PoolConfig) (*sql.DB, error) {
	driver, err := DriverName(dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	return db, nil
}

type Executor struct {
	db           *sql.DB
	dialect      string
	introspector Introspector
	maxRows      int
}

// New wraps db. maxRows caps the rows read per statement; zero means no cap.
func New(db *sql.DB, dialect string, maxRows int) (*Executor, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	introspector, ok := introspectors[dialect]
	if !ok {
		return nil, fmt.Errorf("dialect not registered: %q (available: %v)", dialect, Registered())
	}
	return &Executor{db: db, dialect: dialect, introspector: introspector, maxRows: maxRows}, nil
}

func (e *Executor) Dialect() string {
	return e.dialect
}

func (e *Executor) Close() error {
	return e.db.Close()
}

func (e *Executor) Execute(ctx context.Context, sqlText string) (query.Result, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}

	if !returnsRows(sqlText) {
		res, err := e.db.ExecContext(ctx, sqlText)
		if err != nil {
			return query.Result{}, fmt.Errorf("execute statement: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = 0
		}
		return query.Result{Columns: []string{}, Rows: []map[string]any{}, RowCount: affected}, nil
	}

	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}
	if columns == nil {
		columns = []string{}
	}

	result := query.Result{Columns: columns, Rows: make([]map[string]any, 0)}
	for rows.Next() {
		if e.maxRows > 0 && len(result.Rows) >= e.maxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	result.RowCount = int64(len(result.Rows))
	return result, nil
}

func (e *Executor) TestConnection(ctx context.Context) bool {
	var one int
	return e.db.QueryRowContext(ctx, "SELECT 1").Scan(&one) == nil
}

func (e *Executor) Schema(ctx context.Context) (query.Schema, error) {
	schema, err := e.introspector.Introspect(ctx, e.db)
	if err != nil {
		return nil, fmt.Errorf("introspect %s schema: %w", e.dialect, err)
	}
	if schema == nil {
		schema = query.Schema{}
	}
	return schema, nil
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	default:
		return typed
	}
}

var rowKeywords = map[string]struct{}{
	"select":    {},
	"with":      {},
	"show":      {},
	"pragma":    {},
	"explain":   {},
	"describe":  {},
	"desc":      {},
	"values":    {},
	"table":     {},
	"from":      {},
	"summarize": {},
}

// procedureKeywords start statements whose result sets are only known once
// they run. They go through the query path and may come back without columns.
var procedureKeywords = map[string]struct{}{
	"exec":    {},
	"execute": {},
	"call":    {},
}

// returnsRows reports whether the statement produces a result set: a reading
// leading keyword, a procedure call, or a data change with a RETURNING or
// OUTPUT INSERTED/DELETED clause. Literals, quoted identifiers and comments
// are ignored.
func returnsRows(sqlText string) bool {
	words := sqlWords(sqlText)
	if len(words) == 0 {
		return false
	}
	if _, ok := rowKeywords[words[0]]; ok {
		return true
	}
	if _, ok := procedureKeywords[words[0]]; ok {
		return true
	}
	for i := 1; i < len(words); i++ {
		switch words[i] {
		case "returning":
			return true
		case "output":
			if i+1 < len(words) && (words[i+1] == "inserted" || words[i+1] == "deleted") {
				return true
			}
		}
	}
	return false
}

// sqlWords lowercases the bare words of sqlText in order.
func sqlWords(sqlText string) []string {
	var words []string
	for i := 0; i < len(sqlText); {
		rest := sqlText[i:]
		switch c := sqlText[i]; {
		case strings.HasPrefix(rest, "--"):
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				return words
			}
			i += end + 1
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest[2:], "*/")
			if end < 0 {
				return words
			}
			i += end + 4
		case c == '\'' || c == '"' || c == '`' || c == '[':
			closing := c
			if c == '[' {
				closing = ']'
			}
			end := strings.IndexByte(rest[1:], closing)
			if end < 0 {
				return words
			}
			i += end + 2
		case isWordByte(c):
			start := i
			for i < len(sqlText) && isWordByte(sqlText[i]) {
				i++
			}
			words = append(words, strings.ToLower(sqlText[start:i]))
		default:
			i++
		}
	}
	return words
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
