// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package rules

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tmorland/zmetad/internal/logging"
)

// ruleSet is one immutable generation of loaded rules plus the mutable
// per-rule firing state. Cooldown clocks and fire counts reset on reload,
// matching a fresh read of the rules file.
type ruleSet struct {
	rules []Rule

	mu         sync.Mutex
	lastFired  map[string]time.Time
	fireCounts map[string]int64
}

// Engine owns the active rule set and evaluates events against it.
type Engine struct {
	path   string
	active atomic.Pointer[ruleSet]
	now    func() time.Time
}

// NewEngine creates an engine bound to a rules file path. The engine
// starts empty; call Load to read the file.
func NewEngine(path string) *Engine {
	return NewEngineWithClock(path, time.Now)
}

// NewEngineWithClock is NewEngine with an injected clock for tests.
func NewEngineWithClock(path string, now func() time.Time) *Engine {
	e := &Engine{path: path, now: now}
	e.active.Store(newRuleSet(nil))
	return e
}

func newRuleSet(rules []Rule) *ruleSet {
	return &ruleSet{
		rules:      rules,
		lastFired:  make(map[string]time.Time),
		fireCounts: make(map[string]int64),
	}
}

// Load reads the rules file and swaps it in. On error the previous set
// stays active.
func (e *Engine) Load() error {
	rules, err := LoadFile(e.path)
	if err != nil {
		return err
	}
	e.active.Store(newRuleSet(rules))
	logging.Info().
		Int("rules", len(rules)).
		Str("path", e.path).
		Msg("Rules loaded")
	return nil
}

// Replace installs an already-parsed rule set. Used by tests and by the
// reload endpoint after a successful parse.
func (e *Engine) Replace(rules []Rule) {
	e.active.Store(newRuleSet(rules))
}

// Count returns the number of active rules.
func (e *Engine) Count() int {
	return len(e.active.Load().rules)
}

// Names returns the names of the active rules in file order.
func (e *Engine) Names() []string {
	rs := e.active.Load()
	names := make([]string, len(rs.rules))
	for i, r := range rs.rules {
		names[i] = r.Name
	}
	return names
}

// FireCounts returns a copy of per-rule fire counts for the active set.
func (e *Engine) FireCounts() map[string]int64 {
	rs := e.active.Load()
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]int64, len(rs.fireCounts))
	for k, v := range rs.fireCounts {
		out[k] = v
	}
	return out
}

// Eval runs every active rule against the event map and returns the
// alerts that fired. Rule-level cooldowns suppress refires here; the
// cross-rule dedup pass happens downstream in the Deduper.
func (e *Engine) Eval(event map[string]any) []Alert {
	rs := e.active.Load()
	if len(rs.rules) == 0 {
		return nil
	}
	now := e.now()
	var alerts []Alert
	for _, r := range rs.rules {
		if !r.matches(event) {
			continue
		}
		if r.Cooldown > 0 && !rs.admitCooldown(r.Name, r.Cooldown, now) {
			continue
		}
		alerts = append(alerts, buildAlert(r, event))
		rs.countFire(r.Name)
		logging.Info().
			Str("rule", r.Name).
			Str("severity", r.Severity).
			Str("sensor_id", getStringField(event, "sensor_id")).
			Str("modality", getStringField(event, "modality")).
			Msg("Rule fired")
	}
	return alerts
}

func (rs *ruleSet) admitCooldown(name string, cooldown time.Duration, now time.Time) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if last, ok := rs.lastFired[name]; ok && now.Sub(last) < cooldown {
		return false
	}
	rs.lastFired[name] = now
	return true
}

func (rs *ruleSet) countFire(name string) {
	rs.mu.Lock()
	rs.fireCounts[name]++
	rs.mu.Unlock()
}

func (r *Rule) matches(event map[string]any) bool {
	if len(r.Condition) == 0 {
		return false
	}
	for _, c := range r.Condition {
		ok := c.ok(event)
		if r.AnyMatch && ok {
			return true
		}
		if !r.AnyMatch && !ok {
			return false
		}
	}
	return !r.AnyMatch
}

func buildAlert(r Rule, event map[string]any) Alert {
	a := Alert{
		Type:        "alert",
		Rule:        r.Name,
		Severity:    r.Severity,
		Message:     r.Message,
		Timestamp:   event["timestamp"],
		SensorID:    getStringField(event, "sensor_id"),
		Modality:    getStringField(event, "modality"),
		CooldownTTL: r.Cooldown,
	}
	a.Entity = entityFor(r, event)
	if seq, ok := fieldFloat(event["sequence"]); ok {
		a.SourceSequence = int64(seq)
	}
	if loc, ok := event["location"].(map[string]any); ok {
		if lat, ok := fieldFloat(loc["lat"]); ok {
			a.Loc.Lat = &lat
		}
		if lon, ok := fieldFloat(loc["lon"]); ok {
			a.Loc.Lon = &lon
		}
	}
	return a
}

func getStringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// entityFor resolves the rule's dedup scope: the rule's entity key path,
// then sensor_id, then a constant scope shared by all events.
func entityFor(r Rule, event map[string]any) string {
	if r.EntityKey != "" {
		if s, ok := fieldAt(event, r.EntityKey).(string); ok && s != "" {
			return s
		}
	}
	if s := getStringField(event, "sensor_id"); s != "" {
		return s
	}
	return "global"
}
