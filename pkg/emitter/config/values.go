package config

import (
	"time"
)

// values wraps a decoded document for typed extraction.
// Every accessor returns defaultVal if the key is missing or the value
// cannot be converted.
type values map[string]any

func (v values) duration(key string, defaultVal time.Duration) time.Duration {
	raw, ok := v[key]
	if !ok {
		return defaultVal
	}
	switch val := raw.(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

func (v values) boolean(key string, defaultVal bool) bool {
	raw, ok := v[key]
	if !ok {
		return defaultVal
	}
	if b, ok := raw.(bool); ok {
		return b
	}
	return defaultVal
}

func (v values) integer(key string, defaultVal int) int {
	raw, ok := v[key]
	if !ok {
		return defaultVal
	}
	switch val := raw.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		// Only convert if there's no fractional part
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}
