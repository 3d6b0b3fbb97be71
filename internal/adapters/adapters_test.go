// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package adapters

import (
	"testing"
)

func TestAdaptSimulatedV1RF(t *testing.T) {
	payload := map[string]any{
		"timestamp":     "2026-08-29T12:00:00Z",
		"sensor_id":     "sim-rf-7",
		"modality":      "rf",
		"source_format": "simulated_json_v1",
		"location":      map[string]any{"lat": 10.0, "lon": 20.0, "alt": 100.0},
		"data": map[string]any{
			"type":     "frequency",
			"units":    "MHz",
			"value":    433.92,
			"rssi_dbm": -61.5,
		},
	}

	name, out, ok := NewRegistry().Adapt(payload)
	if !ok {
		t.Fatal("payload not recognized")
	}
	if name != "simulated_v1_rf" {
		t.Fatalf("adapter = %q", name)
	}
	data := out["data"].(map[string]any)
	if data["type"] != "rf_detection" {
		t.Errorf("data.type = %v", data["type"])
	}
	value := data["value"].(map[string]any)
	if hz := value["frequency_hz"].(int64); hz != 433920000 {
		t.Errorf("frequency_hz = %d, want 433920000", hz)
	}
	if rssi := value["rssi_dbm"].(float64); rssi != -61.5 {
		t.Errorf("rssi_dbm = %v", rssi)
	}
	if out["source_format"] != "zmeta" {
		t.Errorf("source_format = %v", out["source_format"])
	}
	if out["schema_version"] != "1.0" {
		t.Errorf("schema_version = %v", out["schema_version"])
	}
	if out["sensor_id"] != "sim-rf-7" {
		t.Errorf("sensor_id = %v", out["sensor_id"])
	}
}

func TestAdaptSimulatedV1RFByShape(t *testing.T) {
	// No declared source format; shape alone (frequency in MHz) matches.
	payload := map[string]any{
		"timestamp": "2026-08-29T12:00:00Z",
		"data":      map[string]any{"type": "frequency", "units": "mhz", "value": 100.0},
	}
	name, out, ok := NewRegistry().Adapt(payload)
	if !ok || name != "simulated_v1_rf" {
		t.Fatalf("adapter = %q ok = %v", name, ok)
	}
	if out["sensor_id"] != "sim_rf" {
		t.Errorf("default sensor_id = %v", out["sensor_id"])
	}
}

func TestAdaptSimulatedV1Thermal(t *testing.T) {
	payload := map[string]any{
		"timestamp": "2026-08-29T12:00:00Z",
		"sensor_id": "thermal-2",
		"modality":  "thermal",
		"data":      map[string]any{"type": "hotspot", "value": 87.5},
	}
	name, out, ok := NewRegistry().Adapt(payload)
	if !ok || name != "simulated_v1_thermal" {
		t.Fatalf("adapter = %q ok = %v", name, ok)
	}
	data := out["data"].(map[string]any)
	if data["type"] != "thermal_hotspot" {
		t.Errorf("data.type = %v", data["type"])
	}
	value := data["value"].(map[string]any)
	if temp := value["temp_c"].(float64); temp != 87.5 {
		t.Errorf("temp_c = %v", temp)
	}
	if out["modality"] != "thermal" {
		t.Errorf("modality = %v", out["modality"])
	}
}

func TestAdaptSimulatedV1ThermalNestedTemperature(t *testing.T) {
	payload := map[string]any{
		"modality": "thermal",
		"data": map[string]any{
			"type":  "hotspot",
			"value": map[string]any{"temperature_c": 63.0},
		},
	}
	_, out, ok := NewRegistry().Adapt(payload)
	if !ok {
		t.Fatal("nested temperature not recognized")
	}
	value := out["data"].(map[string]any)["value"].(map[string]any)
	if temp := value["temp_c"].(float64); temp != 63.0 {
		t.Errorf("temp_c = %v", temp)
	}
}

func TestAdaptKLVLike(t *testing.T) {
	payload := map[string]any{
		"timestamp":       "2026-08-29T12:00:00Z",
		"targetLatitude":  51.5,
		"targetLongitude": -0.12,
		"targetAltitude":  90.0,
		"sensorType":      "RF",
		"platformHeading": 270.0,
		"signal_strength": -40.0,
	}
	name, out, ok := NewRegistry().Adapt(payload)
	if !ok || name != "klv_like" {
		t.Fatalf("adapter = %q ok = %v", name, ok)
	}
	if out["source_format"] != "KLV" {
		t.Errorf("source_format = %v", out["source_format"])
	}
	if out["modality"] != "rf" {
		t.Errorf("modality = %v", out["modality"])
	}
	if out["sensor_id"] != "klv_source_001" {
		t.Errorf("sensor_id = %v", out["sensor_id"])
	}
	tags := out["tags"].([]any)
	if len(tags) != 2 || tags[0] != "converted" || tags[1] != "klv" {
		t.Errorf("tags = %v", tags)
	}
	loc := out["location"].(map[string]any)
	if loc["lat"] != 51.5 || loc["lon"] != -0.12 {
		t.Errorf("location = %v", loc)
	}
	ori := out["orientation"].(map[string]any)
	if ori["yaw"] != 270.0 {
		t.Errorf("orientation = %v", ori)
	}
}

func TestAdaptUnrecognized(t *testing.T) {
	payload := map[string]any{"foo": "bar"}
	if name, _, ok := NewRegistry().Adapt(payload); ok {
		t.Fatalf("unexpected match by %q", name)
	}
}

func TestRegistryOrder(t *testing.T) {
	names := NewRegistry().Names()
	want := []string{"simulated_v1_rf", "simulated_v1_thermal", "klv_like"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestGetPath(t *testing.T) {
	m := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": 1.5}},
	}
	if v, ok := getNumber(m, "a.b.c"); !ok || v != 1.5 {
		t.Errorf("a.b.c = %v ok=%v", v, ok)
	}
	if _, ok := getNumber(m, "a.b.missing"); ok {
		t.Error("missing path resolved")
	}
	if _, ok := getNumber(m, "a.b.c.d"); ok {
		t.Error("path through scalar resolved")
	}
}
