package viz

import "strings"

var (
	timeMarkers        = []string{"date", "time", "month", "year", "day"}
	categoricalMarkers = []string{"group by", "category", "name", "region", "type"}
)

// Infer picks a chart from the result columns and the SQL that produced them.
// Column 0 is always the x axis and every other column is a series. Time-like
// column names win over categorical SQL; anything else is a table.
func Infer(columns []string, sql string) Config {
	if len(columns) < 2 {
		return Table()
	}

	timeLike := false
	for _, column := range columns {
		if containsAny(strings.ToLower(column), timeMarkers) {
			timeLike = true
			break
		}
	}
	categorical := containsAny(strings.ToLower(sql), categoricalMarkers)

	xKey := columns[0]
	series := append([]string(nil), columns[1:]...)
	label := strings.Join(series, " + ")

	switch {
	case timeLike:
		return Config{Type: ChartLine, XKey: xKey, YKeys: series, Title: label + " over time"}
	case categorical:
		return Config{Type: ChartBar, XKey: xKey, YKeys: series, Title: label + " by " + xKey}
	default:
		return Table()
	}
}

func containsAny(value string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(value, marker) {
			return true
		}
	}
	return false
}
