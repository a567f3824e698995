package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// ExportsRoot is the key prefix shared by all chart exports.
const ExportsRoot = "exports"

// BuildExportPath places an export under its chart and UTC day, e.g.
// exports/<chart>/date=2026-02-19/export-<unix nanos>.parquet.
func BuildExportPath(chartID string, at time.Time) (string, error) {
	if err := validatePathComponent(chartID, "chart id"); err != nil {
		return "", err
	}
	ts := at.UTC()
	return path.Join(
		ExportsRoot,
		chartID,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("export-%d.parquet", ts.UnixNano()),
	), nil
}

// ChartExportPrefix is the prefix listing every export of one chart.
func ChartExportPrefix(chartID string) (string, error) {
	if err := validatePathComponent(chartID, "chart id"); err != nil {
		return "", err
	}
	return path.Join(ExportsRoot, chartID) + "/", nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
