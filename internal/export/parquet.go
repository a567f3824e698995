package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/rmp4/sql-agent-dashboard/internal/query"
)

// EncodeParquet writes result as a Parquet file with one optional string
// column per result column. Values are rendered as text since result column
// types are not known ahead of time.
func EncodeParquet(result query.Result) ([]byte, error) {
	columns := uniqueColumns(result.Columns)
	if len(columns) == 0 {
		return nil, fmt.Errorf("result has no columns to export")
	}

	group := parquet.Group{}
	for _, column := range columns {
		group[column] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("query_result", group)

	// Leaf order follows the schema, not the result.
	leaves := schema.Columns()
	rows := make([]parquet.Row, 0, len(result.Rows))
	for _, record := range result.Rows {
		row := make(parquet.Row, len(leaves))
		for i, path := range leaves {
			value, ok := record[path[0]]
			if !ok || value == nil {
				row[i] = parquet.NullValue().Level(0, 0, i)
				continue
			}
			row[i] = parquet.ValueOf(render(value)).Level(0, 1, i)
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func render(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(typed)
	}
}

func uniqueColumns(columns []string) []string {
	seen := make(map[string]struct{}, len(columns))
	out := make([]string, 0, len(columns))
	for _, column := range columns {
		if _, ok := seen[column]; ok || column == "" {
			continue
		}
		seen[column] = struct{}{}
		out = append(out, column)
	}
	return out
}
