// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

// Package adapters normalizes known upstream payload formats into the
// canonical event schema. Adapters are tried in registration order; the
// first one that recognizes a payload wins. An adapter returns nil for
// payloads it does not recognize, so ordering matters only for payloads
// that could match more than one shape.
package adapters

import (
	"strings"

	"github.com/tmorland/zmetad/internal/zmeta"
)

// AdaptFunc inspects a raw payload and either returns a normalized map
// shaped like a canonical event, or nil when the payload is not in the
// format this adapter handles.
type AdaptFunc func(payload map[string]any) map[string]any

type entry struct {
	name string
	fn   AdaptFunc
}

// Registry holds an ordered list of adapters.
type Registry struct {
	entries []entry
}

// NewRegistry returns a registry preloaded with the built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register("simulated_v1_rf", AdaptSimulatedV1RF)
	r.Register("simulated_v1_thermal", AdaptSimulatedV1Thermal)
	r.Register("klv_like", AdaptKLVLike)
	return r
}

// Register appends an adapter. Not safe for concurrent use; call during
// startup only.
func (r *Registry) Register(name string, fn AdaptFunc) {
	r.entries = append(r.entries, entry{name: name, fn: fn})
}

// Names returns adapter names in trial order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Adapt runs the payload through each adapter in order. It returns the
// name of the matching adapter and the normalized payload, or ok=false
// when no adapter recognizes the input.
func (r *Registry) Adapt(payload map[string]any) (name string, out map[string]any, ok bool) {
	for _, e := range r.entries {
		if m := e.fn(payload); m != nil {
			if _, present := m["schema_version"]; !present {
				m["schema_version"] = zmeta.SchemaVersion
			}
			return e.name, m, true
		}
	}
	return "", nil, false
}

// AdaptSimulatedV1RF normalizes the v1 RF simulator schema into a
// canonical rf_detection event. It matches either the declared format
// ("simulated_json_v1" + modality rf) or the payload shape (a frequency
// reading in MHz) and converts the value to Hz.
func AdaptSimulatedV1RF(p map[string]any) map[string]any {
	src := strings.ToLower(getString(p, "source_format"))
	modality := strings.ToLower(getString(p, "modality"))
	dtype := getString(p, "data.type")
	units := strings.TrimSpace(strings.ToLower(getString(p, "data.units")))
	val, haveVal := getNumber(p, "data.value")

	matchesFormat := src == "simulated_json_v1" && modality == "rf"
	matchesShape := dtype == "frequency" && units == "mhz"
	if !matchesFormat && !matchesShape {
		return nil
	}
	if !haveVal {
		return nil
	}

	hz := int64(val * 1_000_000)
	value := map[string]any{"frequency_hz": hz}
	if rssi, ok := getNumberFirst(p, "data.rssi_dbm", "data.value.rssi_dbm"); ok {
		value["rssi_dbm"] = rssi
	}
	if bw, ok := getNumberFirst(p, "data.bandwidth_hz", "data.value.bandwidth_hz"); ok {
		value["bandwidth_hz"] = int64(bw)
	}
	if dwell, ok := getNumberFirst(p, "data.dwell_s", "data.value.dwell_s"); ok {
		value["dwell_s"] = dwell
	}

	out := commonFields(p, "sim_rf")
	out["modality"] = stringOr(p, "modality", "rf")
	out["data"] = map[string]any{"type": "rf_detection", "value": value}
	return out
}

// AdaptSimulatedV1Thermal normalizes thermal simulator payloads into
// canonical thermal_hotspot events. The temperature is taken from
// data.value when numeric, otherwise from the first of several known
// temperature field spellings.
func AdaptSimulatedV1Thermal(p map[string]any) map[string]any {
	src := strings.ToLower(getString(p, "source_format"))
	modality := strings.ToLower(getString(p, "modality"))
	dtype := getString(p, "data.type")

	isThermal := modality == "thermal" || dtype == "hotspot" || dtype == "temperature"
	if src != "simulated_json_v1" && !isThermal {
		return nil
	}

	tempC, ok := getNumber(p, "data.value")
	if !ok {
		tempC, ok = getNumberFirst(p,
			"data.temp_c", "data.temperature_c",
			"data.value.temp_c", "data.value.temperature_c")
	}
	if !ok {
		return nil
	}

	out := commonFields(p, "sim_thermal")
	out["modality"] = "thermal"
	out["data"] = map[string]any{
		"type":  "thermal_hotspot",
		"value": map[string]any{"temp_c": tempC},
	}
	return out
}

// AdaptKLVLike bridges KLV-style metadata dictionaries. Recognition is by
// presence of any characteristic KLV key; missing fields get defaults.
func AdaptKLVLike(p map[string]any) map[string]any {
	recognized := false
	for _, k := range []string{"targetLatitude", "targetLongitude", "sensorType", "platformHeading"} {
		if _, ok := p[k]; ok {
			recognized = true
			break
		}
	}
	if !recognized {
		return nil
	}

	sensorType := stringValueOr(p, "sensorType", "unknown")
	lat, _ := getNumber(p, "targetLatitude")
	lon, _ := getNumber(p, "targetLongitude")
	alt, _ := getNumber(p, "targetAltitude")

	value := map[string]any{}
	if v, ok := getNumber(p, "signal_strength"); ok {
		value["signal_strength"] = v
	}
	if v := getString(p, "modulation"); v != "" {
		value["modulation"] = v
	}
	if v, ok := getNumber(p, "sensorFOV"); ok {
		value["fov"] = v
	}

	orientation := map[string]any{}
	if v, ok := getNumber(p, "platformHeading"); ok {
		orientation["yaw"] = v
	}
	if v, ok := getNumber(p, "platformPitch"); ok {
		orientation["pitch"] = v
	}
	if v, ok := getNumber(p, "platformRoll"); ok {
		orientation["roll"] = v
	}

	confidence := 1.0
	if v, ok := getNumber(p, "confidence"); ok {
		confidence = v
	}

	out := map[string]any{
		"sensor_id": stringValueOr(p, "sensor_id", "klv_source_001"),
		"modality":  strings.ToLower(sensorType),
		"location":  map[string]any{"lat": lat, "lon": lon, "alt": alt},
		"data": map[string]any{
			"type":       sensorType,
			"value":      value,
			"confidence": confidence,
		},
		"note":           stringValueOr(p, "note", "Converted from KLV"),
		"source_format":  "KLV",
		"schema_version": zmeta.SchemaVersion,
	}
	if ts, ok := p["timestamp"]; ok {
		out["timestamp"] = ts
	}
	if pid, ok := p["pid"]; ok {
		out["pid"] = pid
	}
	if tags, ok := p["tags"]; ok {
		out["tags"] = tags
	} else {
		out["tags"] = []any{"converted", "klv"}
	}
	if len(orientation) > 0 {
		out["orientation"] = orientation
	}
	return out
}

// commonFields copies the event envelope fields shared by the simulator
// adapters: timestamp, identity, location, free-form metadata, and the
// promoted confidence.
func commonFields(p map[string]any, defaultSensor string) map[string]any {
	out := map[string]any{
		"sensor_id":      stringValueOr(p, "sensor_id", defaultSensor),
		"source_format":  "zmeta",
		"schema_version": zmeta.SchemaVersion,
	}
	if ts, ok := p["timestamp"]; ok {
		out["timestamp"] = ts
	}
	if loc, ok := p["location"].(map[string]any); ok {
		out["location"] = map[string]any{
			"lat": loc["lat"],
			"lon": loc["lon"],
			"alt": loc["alt"],
		}
	}
	if ori, ok := p["orientation"]; ok && ori != nil {
		out["orientation"] = ori
	}
	for _, k := range []string{"pid", "tags", "note"} {
		if v, ok := p[k]; ok && v != nil {
			out[k] = v
		}
	}
	if c, ok := topConfidence(p); ok {
		out["confidence"] = c
	}
	return out
}

// topConfidence promotes a confidence from the envelope or from
// data.confidence, in that order.
func topConfidence(p map[string]any) (float64, bool) {
	if v, ok := getNumber(p, "confidence"); ok {
		return v, true
	}
	return getNumber(p, "data.confidence")
}
