package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/rmp4/sql-agent-dashboard/internal/query"
)

// Introspector lists the tables and columns visible to a connection.
type Introspector interface {
	Introspect(ctx context.Context, db *sql.DB) (query.Schema, error)
}

var introspectors = map[string]Introspector{}

// Register makes an Introspector available under dialect.
func Register(dialect string, introspector Introspector) {
	introspectors[strings.ToLower(dialect)] = introspector
}

func Registered() []string {
	keys := make([]string, 0, len(introspectors))
	for key := range introspectors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// informationSchema reads (table, column, type, is_nullable, default) rows
// ordered by table and ordinal position.
type informationSchema struct {
	query string
}

func (i informationSchema) Introspect(ctx context.Context, db *sql.DB) (query.Schema, error) {
	rows, err := db.QueryContext(ctx, i.query)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	schema := query.Schema{}
	for rows.Next() {
		var (
			table, name, dataType, nullable string
			defaultValue                    sql.NullString
		)
		if err := rows.Scan(&table, &name, &dataType, &nullable, &defaultValue); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		column := query.Column{
			Name:     name,
			Type:     dataType,
			Nullable: strings.EqualFold(strings.TrimSpace(nullable), "YES"),
		}
		if defaultValue.Valid {
			value := defaultValue.String
			column.Default = &value
		}
		schema[table] = append(schema[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return schema, nil
}
