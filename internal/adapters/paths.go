// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package adapters

// getPath walks a dotted path through nested maps. Missing or non-map
// intermediates return nil.
func getPath(m map[string]any, path string) any {
	cur := any(m)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		key := path[start:i]
		start = i + 1
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[key]
		if !ok {
			return nil
		}
	}
	return cur
}

func getString(m map[string]any, path string) string {
	s, _ := getPath(m, path).(string)
	return s
}

// getNumber returns a numeric value at path, accepting the types the JSON
// decoder and YAML loader produce.
func getNumber(m map[string]any, path string) (float64, bool) {
	switch v := getPath(m, path).(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func getNumberFirst(m map[string]any, paths ...string) (float64, bool) {
	for _, p := range paths {
		if v, ok := getNumber(m, p); ok {
			return v, true
		}
	}
	return 0, false
}

func stringOr(m map[string]any, path, def string) string {
	if s := getString(m, path); s != "" {
		return s
	}
	return def
}

// stringValueOr reads a top-level string value and falls back to def when
// absent or empty.
func stringValueOr(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return def
}
