// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package rules

import (
	"io"
	"testing"
	"time"

	"github.com/tmorland/zmetad/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

func rfEvent(rssi float64) map[string]any {
	return map[string]any{
		"timestamp": "2026-08-29T12:00:00Z",
		"sensor_id": "rf-01",
		"modality":  "rf",
		"location":  map[string]any{"lat": 5.0, "lon": 5.0},
		"data": map[string]any{
			"type":  "rf_detection",
			"value": map[string]any{"frequency_hz": float64(433920000), "rssi_dbm": rssi},
		},
	}
}

func testEngine(rules []Rule, now func() time.Time) *Engine {
	e := NewEngineWithClock("", now)
	e.Replace(rules)
	return e
}

func TestEvalOperators(t *testing.T) {
	gte := func(v float64) *float64 { return &v }

	tests := []struct {
		name  string
		cond  Condition
		event map[string]any
		want  bool
	}{
		{"eq match", Condition{Field: "modality", Eq: "rf"}, rfEvent(-40), true},
		{"eq miss", Condition{Field: "modality", Eq: "thermal"}, rfEvent(-40), false},
		{"eq numeric coercion", Condition{Field: "data.value.frequency_hz", Eq: 433920000}, rfEvent(-40), true},
		{"in match", Condition{Field: "modality", In: []any{"thermal", "rf"}}, rfEvent(-40), true},
		{"in miss", Condition{Field: "modality", In: []any{"thermal", "eo"}}, rfEvent(-40), false},
		{"between inclusive low", Condition{Field: "data.value.rssi_dbm", Between: []float64{-40, -20}}, rfEvent(-40), true},
		{"between miss", Condition{Field: "data.value.rssi_dbm", Between: []float64{-30, -20}}, rfEvent(-40), false},
		{"gte match", Condition{Field: "data.value.rssi_dbm", Gte: gte(-50)}, rfEvent(-40), true},
		{"gte miss", Condition{Field: "data.value.rssi_dbm", Gte: gte(-30)}, rfEvent(-40), false},
		{"lte match", Condition{Field: "data.value.rssi_dbm", Lte: gte(-30)}, rfEvent(-40), true},
		{"missing field", Condition{Field: "data.value.none", Gte: gte(0)}, rfEvent(-40), false},
		{"polygon inside", Condition{Field: "location", Polygon: [][2]float64{{0, 0}, {0, 10}, {10, 10}, {10, 0}}}, rfEvent(-40), true},
		{"polygon outside", Condition{Field: "location", Polygon: [][2]float64{{20, 20}, {20, 30}, {30, 30}, {30, 20}}}, rfEvent(-40), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEngine([]Rule{{Name: "r", Severity: "info", Condition: []Condition{tt.cond}}}, time.Now)
			alerts := e.Eval(tt.event)
			if fired := len(alerts) == 1; fired != tt.want {
				t.Errorf("fired = %v, want %v", fired, tt.want)
			}
		})
	}
}

func TestEvalAnyVsAll(t *testing.T) {
	pass := Condition{Field: "modality", Eq: "rf"}
	fail := Condition{Field: "modality", Eq: "thermal"}

	all := testEngine([]Rule{{Name: "all", Condition: []Condition{pass, fail}}}, time.Now)
	if len(all.Eval(rfEvent(-40))) != 0 {
		t.Error("AND rule fired with one failing condition")
	}

	anyRule := testEngine([]Rule{{Name: "any", AnyMatch: true, Condition: []Condition{fail, pass}}}, time.Now)
	if len(anyRule.Eval(rfEvent(-40))) != 1 {
		t.Error("OR rule did not fire with one passing condition")
	}

	empty := testEngine([]Rule{{Name: "empty"}}, time.Now)
	if len(empty.Eval(rfEvent(-40))) != 0 {
		t.Error("rule with no conditions fired")
	}
}

func TestEvalAlertShape(t *testing.T) {
	e := testEngine([]Rule{{
		Name:      "strong_rf",
		Severity:  "warn",
		Message:   "Strong RF",
		Cooldown:  7 * time.Second,
		Condition: []Condition{{Field: "modality", Eq: "rf"}},
	}}, time.Now)

	alerts := e.Eval(rfEvent(-40))
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d", len(alerts))
	}
	a := alerts[0]
	if a.Type != "alert" || a.Rule != "strong_rf" || a.Severity != "warn" {
		t.Errorf("alert = %+v", a)
	}
	if a.SensorID != "rf-01" || a.Modality != "rf" {
		t.Errorf("alert identity = %+v", a)
	}
	if a.Loc.Lat == nil || *a.Loc.Lat != 5.0 || a.Loc.Lon == nil || *a.Loc.Lon != 5.0 {
		t.Errorf("alert loc = %+v", a.Loc)
	}
	if a.CooldownTTL != 7*time.Second {
		t.Errorf("CooldownTTL = %v", a.CooldownTTL)
	}
	if a.Entity != "rf-01" {
		t.Errorf("Entity = %q", a.Entity)
	}
}

func TestEvalEntityKey(t *testing.T) {
	e := testEngine([]Rule{{
		Name:      "per_type",
		Severity:  "info",
		EntityKey: "data.type",
		Condition: []Condition{{Field: "modality", Eq: "rf"}},
	}}, time.Now)

	alerts := e.Eval(rfEvent(-40))
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d", len(alerts))
	}
	if alerts[0].Entity != "rf_detection" {
		t.Errorf("Entity = %q", alerts[0].Entity)
	}

	// A missing entity field falls back to sensor_id, then to the
	// constant scope.
	ev := rfEvent(-40)
	delete(ev, "sensor_id")
	e.Replace([]Rule{{
		Name:      "missing_key",
		Severity:  "info",
		EntityKey: "nowhere",
		Condition: []Condition{{Field: "modality", Eq: "rf"}},
	}})
	alerts = e.Eval(ev)
	if len(alerts) != 1 || alerts[0].Entity != "global" {
		t.Errorf("fallback entity = %+v", alerts)
	}
}

func TestCooldownSuppressesRefire(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	e := testEngine([]Rule{{
		Name:      "cool",
		Cooldown:  5 * time.Second,
		Condition: []Condition{{Field: "modality", Eq: "rf"}},
	}}, func() time.Time { return now })

	if len(e.Eval(rfEvent(-40))) != 1 {
		t.Fatal("first eval did not fire")
	}
	now = now.Add(2 * time.Second)
	if len(e.Eval(rfEvent(-40))) != 0 {
		t.Error("fired inside cooldown")
	}
	now = now.Add(4 * time.Second)
	if len(e.Eval(rfEvent(-40))) != 1 {
		t.Error("did not fire after cooldown expired")
	}

	counts := e.FireCounts()
	if counts["cool"] != 2 {
		t.Errorf("fire count = %d", counts["cool"])
	}
}

func TestReplaceResetsState(t *testing.T) {
	rule := Rule{Name: "r", Cooldown: time.Hour, Condition: []Condition{{Field: "modality", Eq: "rf"}}}
	e := testEngine([]Rule{rule}, time.Now)
	if len(e.Eval(rfEvent(-40))) != 1 {
		t.Fatal("first eval did not fire")
	}
	if len(e.Eval(rfEvent(-40))) != 0 {
		t.Fatal("cooldown not applied")
	}

	e.Replace([]Rule{rule})
	if len(e.Eval(rfEvent(-40))) != 1 {
		t.Error("cooldown survived rule set replacement")
	}
}

func TestNames(t *testing.T) {
	e := testEngine([]Rule{{Name: "a"}, {Name: "b"}}, time.Now)
	names := e.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names = %v", names)
	}
}
