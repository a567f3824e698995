package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileLookup reads a flat YAML document of KEY: value pairs and exposes it as
// a LookupFunc. Nested mappings are rejected.
func FileLookup(path string) (LookupFunc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseYAML(raw)
}

func ParseYAML(raw []byte) (LookupFunc, error) {
	doc := map[string]any{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}
	values := make(map[string]string, len(doc))
	for key, value := range doc {
		switch typed := value.(type) {
		case nil:
			values[key] = ""
		case string:
			values[key] = typed
		case []any:
			parts := make([]string, 0, len(typed))
			for _, item := range typed {
				parts = append(parts, fmt.Sprint(item))
			}
			values[key] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("config key %s must be a scalar or list", key)
		default:
			values[key] = fmt.Sprint(typed)
		}
	}
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}, nil
}

// Chain returns a LookupFunc that consults each lookup in order.
func Chain(lookups ...LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		for _, lookup := range lookups {
			if lookup == nil {
				continue
			}
			if value, ok := lookup(key); ok {
				return value, true
			}
		}
		return "", false
	}
}
