// Package viz describes chart configurations for query results and derives
// them from result shape when the model offers none.
package viz

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type ChartType string

const (
	ChartTable         ChartType = "table"
	ChartBar           ChartType = "bar"
	ChartHorizontalBar ChartType = "horizontalBar"
	ChartStackedBar    ChartType = "stackedBar"
	ChartLine          ChartType = "line"
	ChartArea          ChartType = "area"
	ChartPie           ChartType = "pie"
	ChartDonut         ChartType = "donut"
	ChartScatter       ChartType = "scatter"
	ChartCombo         ChartType = "combo"
)

var ErrDecode = errors.New("visualization decode failed")

func (t ChartType) Valid() bool {
	switch t {
	case ChartTable, ChartBar, ChartHorizontalBar, ChartStackedBar, ChartLine,
		ChartArea, ChartPie, ChartDonut, ChartScatter, ChartCombo:
		return true
	default:
		return false
	}
}

// Config is the chart description handed to the frontend. Key names are the
// frontend's field names.
type Config struct {
	Type     ChartType `json:"type"`
	XKey     string    `json:"xKey,omitempty"`
	YKeys    []string  `json:"yKeys,omitempty"`
	BarKeys  []string  `json:"barKeys,omitempty"`
	LineKeys []string  `json:"lineKeys,omitempty"`
	Title    string    `json:"title,omitempty"`
}

func Table() Config {
	return Config{Type: ChartTable}
}

// Validate reports shape errors: unknown type, an x axis without series, or
// bar/line keys that are not series.
func (c Config) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("unsupported chart type %q", c.Type)
	}
	if c.Type == ChartTable {
		return nil
	}
	if c.XKey != "" && len(c.YKeys) == 0 {
		return fmt.Errorf("xKey %q requires at least one yKey", c.XKey)
	}
	series := make(map[string]struct{}, len(c.YKeys))
	for _, key := range c.YKeys {
		series[key] = struct{}{}
	}
	for _, key := range c.BarKeys {
		if _, ok := series[key]; !ok {
			return fmt.Errorf("barKey %q is not one of yKeys", key)
		}
	}
	for _, key := range c.LineKeys {
		if _, ok := series[key]; !ok {
			return fmt.Errorf("lineKey %q is not one of yKeys", key)
		}
	}
	return nil
}

// Decode parses a model-supplied visualization object. Unknown fields and
// invalid shapes are rejected with an error wrapping ErrDecode. A table
// config comes back without axis keys.
func Decode(raw []byte) (Config, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: trailing data after object", ErrDecode)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if cfg.Type == ChartTable {
		cfg = Config{Type: ChartTable, Title: cfg.Title}
	}
	return cfg, nil
}
