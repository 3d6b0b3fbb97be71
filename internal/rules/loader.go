// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package rules

import (
	"fmt"
	"os"
	"time"

	yamlparser "github.com/knadh/koanf/parsers/yaml"
)

// knownConditionKeys is the accepted vocabulary for condition blocks. Any
// other key is a load-time error, so typos fail the whole reload instead
// of silently never matching.
var knownConditionKeys = map[string]bool{
	"field":   true,
	"eq":      true,
	"in":      true,
	"between": true,
	"gte":     true,
	"lte":     true,
	"polygon": true,
}

var knownSeverities = map[string]bool{
	"info": true,
	"warn": true,
	"crit": true,
}

// LoadFile parses a rules YAML file. A missing file yields an empty rule
// set; a malformed file is an error and the caller keeps the previous set.
func LoadFile(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes rules from YAML bytes. Disabled rules are skipped; every
// enabled rule is validated strictly.
func Parse(raw []byte) ([]Rule, error) {
	doc, err := yamlparser.Parser().Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}
	items, _ := doc["rules"].([]any)
	rules := make([]Rule, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok || m == nil {
			continue
		}
		if enabled, present := m["enabled"].(bool); present && !enabled {
			continue
		}
		r, err := parseRule(m)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func parseRule(m map[string]any) (Rule, error) {
	r := Rule{
		Name:     stringField(m, "name", "unnamed"),
		Severity: stringField(m, "severity", "info"),
		Message:  stringField(m, "message", ""),
	}
	if !knownSeverities[r.Severity] {
		return r, fmt.Errorf("unknown severity %q", r.Severity)
	}
	if v, ok := m["any"].(bool); ok {
		r.AnyMatch = v
	}
	if v, ok := m["entity_key"].(string); ok {
		r.EntityKey = v
	}
	if v, ok := toFloat(m["cooldown_seconds"]); ok {
		if v < 0 {
			return r, fmt.Errorf("negative cooldown_seconds %v", v)
		}
		r.Cooldown = time.Duration(v * float64(time.Second))
	}

	conds, _ := m["conditions"].([]any)
	for j, raw := range conds {
		cm, ok := raw.(map[string]any)
		if !ok {
			return r, fmt.Errorf("condition %d: not a mapping", j)
		}
		c, err := parseCondition(cm)
		if err != nil {
			return r, fmt.Errorf("condition %d: %w", j, err)
		}
		r.Condition = append(r.Condition, c)
	}
	// A rule with no conditions can never fire; reject it here so a
	// misconfigured file fails the reload instead of loading dead rules.
	if len(r.Condition) == 0 {
		return r, fmt.Errorf("at least one condition required")
	}
	return r, nil
}

func parseCondition(m map[string]any) (Condition, error) {
	var c Condition
	operators := 0
	for k := range m {
		if !knownConditionKeys[k] {
			return c, fmt.Errorf("unknown key %q", k)
		}
		if k != "field" {
			operators++
		}
	}
	if operators != 1 {
		return c, fmt.Errorf("exactly one operator required, got %d", operators)
	}

	c.Field = stringField(m, "field", "")
	if c.Field == "" {
		return c, fmt.Errorf("field is required")
	}

	if v, ok := m["eq"]; ok {
		c.Eq = v
	}
	if v, ok := m["in"]; ok {
		list, ok := v.([]any)
		if !ok {
			return c, fmt.Errorf("in: expected a list")
		}
		c.In = list
	}
	if v, ok := m["between"]; ok {
		bounds, err := floatList(v)
		if err != nil || len(bounds) != 2 {
			return c, fmt.Errorf("between: expected [min, max]")
		}
		if bounds[0] > bounds[1] {
			return c, fmt.Errorf("between: min %v > max %v", bounds[0], bounds[1])
		}
		c.Between = bounds
	}
	if v, ok := m["gte"]; ok {
		f, ok := toFloat(v)
		if !ok {
			return c, fmt.Errorf("gte: expected a number")
		}
		c.Gte = &f
	}
	if v, ok := m["lte"]; ok {
		f, ok := toFloat(v)
		if !ok {
			return c, fmt.Errorf("lte: expected a number")
		}
		c.Lte = &f
	}
	if v, ok := m["polygon"]; ok {
		poly, err := polygonList(v)
		if err != nil {
			return c, fmt.Errorf("polygon: %w", err)
		}
		if len(poly) < 3 {
			return c, fmt.Errorf("polygon: need at least 3 vertices, got %d", len(poly))
		}
		c.Polygon = poly
	}
	return c, nil
}

func stringField(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return def
}

func toFloat(v any) (float64, bool) {
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

func floatList(v any) ([]float64, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list")
	}
	out := make([]float64, len(raw))
	for i, item := range raw {
		f, ok := toFloat(item)
		if !ok {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		out[i] = f
	}
	return out, nil
}

// polygonList parses [[lat, lon], ...] vertex lists.
func polygonList(v any) ([][2]float64, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list of [lat, lon] pairs")
	}
	out := make([][2]float64, len(raw))
	for i, item := range raw {
		pair, err := floatList(item)
		if err != nil || len(pair) != 2 {
			return nil, fmt.Errorf("vertex %d is not a [lat, lon] pair", i)
		}
		out[i] = [2]float64{pair[0], pair[1]}
	}
	return out, nil
}
