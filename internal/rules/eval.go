// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package rules

import "strings"

// ok evaluates a single condition against the event map.
func (c *Condition) ok(event map[string]any) bool {
	value := fieldAt(event, c.Field)
	switch {
	case c.Eq != nil:
		return looseEqual(value, c.Eq)
	case c.In != nil:
		for _, candidate := range c.In {
			if looseEqual(value, candidate) {
				return true
			}
		}
		return false
	case c.Between != nil:
		v, ok := fieldFloat(value)
		return ok && v >= c.Between[0] && v <= c.Between[1]
	case c.Gte != nil:
		v, ok := fieldFloat(value)
		return ok && v >= *c.Gte
	case c.Lte != nil:
		v, ok := fieldFloat(value)
		return ok && v <= *c.Lte
	case len(c.Polygon) > 0:
		point, ok := pointAt(value, event, c.Field)
		return ok && pointInPolygon(point, c.Polygon)
	}
	return false
}

// fieldAt resolves a dotted path through nested maps. Missing segments
// resolve to nil, which fails every operator.
func fieldAt(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[part]
		if !ok {
			return nil
		}
	}
	return cur
}

// looseEqual compares with numeric coercion, so a rule written as `eq: 5`
// matches 5.0 parsed from JSON.
func looseEqual(a, b any) bool {
	if af, ok := fieldFloat(a); ok {
		if bf, ok := fieldFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

func fieldFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// pointAt extracts a lat/lon pair for polygon tests: either the resolved
// value is itself a {lat, lon} map, or the pair lives at field.lat and
// field.lon relative to the event root.
func pointAt(value any, root map[string]any, fieldPath string) ([2]float64, bool) {
	if m, ok := value.(map[string]any); ok {
		lat, okLat := fieldFloat(m["lat"])
		lon, okLon := fieldFloat(m["lon"])
		if okLat && okLon {
			return [2]float64{lat, lon}, true
		}
	}
	lat, okLat := fieldFloat(fieldAt(root, fieldPath+".lat"))
	lon, okLon := fieldFloat(fieldAt(root, fieldPath+".lon"))
	if okLat && okLon {
		return [2]float64{lat, lon}, true
	}
	return [2]float64{}, false
}

// pointInPolygon is a ray-casting test over [lat, lon] vertices. The tiny
// epsilon in the denominator avoids division by zero on horizontal edges.
func pointInPolygon(point [2]float64, polygon [][2]float64) bool {
	if len(polygon) < 3 {
		return false
	}
	lat, lon := point[0], point[1]
	inside := false
	n := len(polygon)
	for i := 0; i < n; i++ {
		lat1, lon1 := polygon[i][0], polygon[i][1]
		lat2, lon2 := polygon[(i+1)%n][0], polygon[(i+1)%n][1]
		if (lon1 > lon) != (lon2 > lon) &&
			lat < (lat2-lat1)*(lon-lon1)/(lon2-lon1+1e-12)+lat1 {
			inside = !inside
		}
	}
	return inside
}
