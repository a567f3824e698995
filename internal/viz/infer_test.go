package viz

import (
	"reflect"
	"testing"
)

func TestInfer(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		sql     string
		want    Config
	}{
		{
			name:    "time series",
			columns: []string{"month", "revenue"},
			sql:     "SELECT month, SUM(x) AS revenue FROM s GROUP BY month",
			want:    Config{Type: ChartLine, XKey: "month", YKeys: []string{"revenue"}, Title: "revenue over time"},
		},
		{
			name:    "categorical",
			columns: []string{"product", "revenue"},
			sql:     "SELECT product, SUM(x) AS revenue FROM s GROUP BY product",
			want:    Config{Type: ChartBar, XKey: "product", YKeys: []string{"revenue"}, Title: "revenue by product"},
		},
		{
			name:    "multiple series joined in title",
			columns: []string{"region", "sales", "returns"},
			sql:     "select region, sales, returns from totals group by region",
			want:    Config{Type: ChartBar, XKey: "region", YKeys: []string{"sales", "returns"}, Title: "sales + returns by region"},
		},
		{
			name:    "time-like column anywhere wins over categorical sql",
			columns: []string{"store", "Opened_Date"},
			sql:     "SELECT store, opened_date FROM stores GROUP BY store",
			want:    Config{Type: ChartLine, XKey: "store", YKeys: []string{"Opened_Date"}, Title: "Opened_Date over time"},
		},
		{
			name:    "categorical marker in sql text",
			columns: []string{"a", "b"},
			sql:     "SELECT a, b FROM items WHERE type = 'x'",
			want:    Config{Type: ChartBar, XKey: "a", YKeys: []string{"b"}, Title: "b by a"},
		},
		{
			name:    "name column in sql counts as categorical",
			columns: []string{"id", "name"},
			sql:     "SELECT id, name FROM t",
			want:    Config{Type: ChartBar, XKey: "id", YKeys: []string{"name"}, Title: "name by id"},
		},
		{
			name:    "no signal",
			columns: []string{"id", "amount"},
			sql:     "SELECT id, amount FROM payments",
			want:    Config{Type: ChartTable},
		},
		{
			name:    "single column",
			columns: []string{"count"},
			sql:     "SELECT COUNT(*) AS count FROM t GROUP BY x",
			want:    Config{Type: ChartTable},
		},
		{
			name:    "no columns",
			columns: nil,
			sql:     "",
			want:    Config{Type: ChartTable},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Infer(tt.columns, tt.sql)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Infer() = %#v, want %#v", got, tt.want)
			}
			if again := Infer(tt.columns, tt.sql); !reflect.DeepEqual(again, got) {
				t.Fatalf("Infer() not deterministic: %#v vs %#v", again, got)
			}
			if err := got.Validate(); err != nil {
				t.Fatalf("inferred config invalid: %v", err)
			}
		})
	}
}

func TestInferDoesNotAliasColumns(t *testing.T) {
	columns := []string{"day", "visits"}
	cfg := Infer(columns, "")
	cfg.YKeys[0] = "changed"
	if columns[1] != "visits" {
		t.Fatalf("columns mutated: %#v", columns)
	}
}
