package sqldb

import _ "github.com/marcboeker/go-duckdb/v2"

const duckDBColumnsSQL = `
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable, c.column_default
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = current_schema()
  AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position
`

func init() {
	Register(DialectDuckDB, informationSchema{query: duckDBColumnsSQL})
}
