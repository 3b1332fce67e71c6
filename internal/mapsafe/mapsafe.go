// Package mapsafe reads typed values out of loosely typed option maps
// decoded from YAML, JSON or TOML documents.
package mapsafe

// Get retrieves a typed value from a map[string]any.
// If the key is missing or the value cannot be converted, it returns the default value.
// Numbers are converted across the integer and float representations the
// different decoders produce.
func Get[T any](m map[string]any, key string, defaultValue T) T {
	val, ok := m[key]
	if !ok {
		return defaultValue
	}

	switch any(defaultValue).(type) {
	case int:
		if n, ok := toInt(val); ok {
			return any(n).(T)
		}
	case float64:
		if f, ok := toFloat(val); ok {
			return any(f).(T)
		}
	case string:
		if s, ok := val.(string); ok {
			return any(s).(T)
		}
	case bool:
		if b, ok := val.(bool); ok {
			return any(b).(T)
		}
	default:
		if v, ok := val.(T); ok {
			return v
		}
	}

	return defaultValue
}

// Section returns the nested map stored under key, or nil.
func Section(m map[string]any, key string) map[string]any {
	switch s := m[key].(type) {
	case map[string]any:
		return s
	default:
		return nil
	}
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case uint64:
		return int(x), true
	case float64:
		return int(x), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}
