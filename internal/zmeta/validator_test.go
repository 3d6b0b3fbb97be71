// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package zmeta

import (
	"strings"
	"testing"
	"time"
)

func validPayload() map[string]any {
	return map[string]any{
		"timestamp":      time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
		"sensor_id":      "rf-01",
		"modality":       "rf",
		"location":       map[string]any{"lat": 48.85, "lon": 2.35},
		"data":           map[string]any{"type": "rf_detection", "value": map[string]any{"frequency_hz": 433920000}},
		"source_format":  "zmeta",
		"schema_version": "1.0",
	}
}

func TestDecodeValidPayload(t *testing.T) {
	v := NewValidator()
	ev, err := v.Decode(validPayload())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ev.SensorID != "rf-01" {
		t.Errorf("SensorID = %q, want rf-01", ev.SensorID)
	}
	if ev.Modality != "rf" {
		t.Errorf("Modality = %q, want rf", ev.Modality)
	}
	if ev.Location == nil || ev.Location.Lat != 48.85 {
		t.Errorf("Location not decoded: %+v", ev.Location)
	}
	if ev.Sequence != 0 {
		t.Errorf("Sequence = %d, want 0 before admission", ev.Sequence)
	}
}

func TestDecodeRejections(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing sensor_id", func(p map[string]any) { delete(p, "sensor_id") }},
		{"missing timestamp", func(p map[string]any) { delete(p, "timestamp") }},
		{"missing source_format", func(p map[string]any) { delete(p, "source_format") }},
		{"unsupported schema version", func(p map[string]any) { p["schema_version"] = "2.0" }},
		{"missing schema version", func(p map[string]any) { delete(p, "schema_version") }},
		{"unknown modality", func(p map[string]any) { p["modality"] = "sonar" }},
		{"latitude out of range", func(p map[string]any) {
			p["location"] = map[string]any{"lat": 91.0, "lon": 0.0}
		}},
		{"confidence out of range", func(p map[string]any) { p["confidence"] = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := validPayload()
			tt.mutate(payload)
			if _, err := v.Decode(payload); err == nil {
				t.Errorf("Decode accepted payload with %s", tt.name)
			}
		})
	}
}

func TestDecodeModalityCase(t *testing.T) {
	v := NewValidator()
	payload := validPayload()
	payload["modality"] = "RF"
	ev, err := v.Decode(payload)
	if err != nil {
		t.Fatalf("Decode rejected uppercase modality: %v", err)
	}
	if ev.Modality != "rf" {
		t.Errorf("Modality = %q, want rf", ev.Modality)
	}
}

func TestRegisterModality(t *testing.T) {
	v := NewValidator()
	payload := validPayload()
	payload["modality"] = "lidar"
	if _, err := v.Decode(payload); err == nil {
		t.Fatal("lidar accepted before registration")
	}
	RegisterModality("lidar")
	defer delete(KnownModalities, "lidar")
	if _, err := v.Decode(payload); err != nil {
		t.Fatalf("lidar rejected after registration: %v", err)
	}
}

func TestAsMap(t *testing.T) {
	v := NewValidator()
	ev, err := v.Decode(validPayload())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	ev.Sequence = 42

	m, err := ev.AsMap()
	if err != nil {
		t.Fatalf("AsMap failed: %v", err)
	}
	if m["sensor_id"] != "rf-01" {
		t.Errorf("sensor_id = %v", m["sensor_id"])
	}
	if seq, ok := m["sequence"].(float64); !ok || seq != 42 {
		t.Errorf("sequence = %v, want 42", m["sequence"])
	}
	data, ok := m["data"].(map[string]any)
	if !ok {
		t.Fatalf("data missing from map: %v", m)
	}
	if data["type"] != "rf_detection" {
		t.Errorf("data.type = %v", data["type"])
	}
}

func TestDecodeErrorMentionsField(t *testing.T) {
	v := NewValidator()
	payload := validPayload()
	delete(payload, "sensor_id")
	_, err := v.Decode(payload)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "SensorID") {
		t.Errorf("error does not name the failing field: %v", err)
	}
}
