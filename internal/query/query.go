// Package query defines how generated SQL is run against a user database and
// how that database describes itself.
package query

import (
	"context"
	"errors"
)

// ErrNotConfigured means no database is available for the request.
var ErrNotConfigured = errors.New("no database configured")

// Result is the outcome of one statement. Row-returning statements fill
// Columns and Rows and set RowCount to len(Rows); anything else reports the
// affected-row count with empty Columns and Rows.
type Result struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int64            `json:"row_count"`
	Truncated bool             `json:"truncated,omitempty"`
}

type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default"`
}

// Schema maps table names to their columns in declaration order.
type Schema map[string][]Column

type Executor interface {
	Execute(ctx context.Context, sql string) (Result, error)
	TestConnection(ctx context.Context) bool
	Schema(ctx context.Context) (Schema, error)
}
