// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package zmeta

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// SchemaVersion is the canonical schema version emitted by this process.
const SchemaVersion = "1.0"

// SupportedSchemaVersions lists the schema versions the validator accepts.
var SupportedSchemaVersions = map[string]bool{
	"1.0": true,
}

// KnownModalities is the extensible set of accepted sensor modalities.
// Deployments can extend it at startup via RegisterModality.
var KnownModalities = map[string]bool{
	"rf":       true,
	"thermal":  true,
	"eo":       true,
	"ir":       true,
	"acoustic": true,
}

// RegisterModality adds a modality to the accepted set. Not safe for
// concurrent use; call during startup only.
func RegisterModality(name string) {
	KnownModalities[name] = true
}

// Location is a geographic position.
type Location struct {
	Lat float64  `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64  `json:"lon" validate:"gte=-180,lte=180"`
	Alt *float64 `json:"alt,omitempty"`
}

// Orientation is a platform attitude in degrees.
type Orientation struct {
	Yaw   *float64 `json:"yaw,omitempty"`
	Pitch *float64 `json:"pitch,omitempty"`
	Roll  *float64 `json:"roll,omitempty"`
}

// SensorData is the typed payload of an event, keyed by the Type
// discriminator (e.g. "rf_detection", "thermal_hotspot").
type SensorData struct {
	Type       string   `json:"type" validate:"required"`
	Value      any      `json:"value" validate:"required"`
	Units      string   `json:"units,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// Event is the canonical normalized telemetry record (a "ZMeta" packet).
//
// An Event is immutable once the pipeline assigns its Sequence: it is owned
// by the pipeline for the duration of one dispatch pass and then shared
// read-only by every sink (subscriber hub, recorder, rules engine).
type Event struct {
	Timestamp     time.Time    `json:"timestamp" validate:"required"`
	SensorID      string       `json:"sensor_id" validate:"required"`
	Modality      string       `json:"modality" validate:"required"`
	Location      *Location    `json:"location,omitempty"`
	Orientation   *Orientation `json:"orientation,omitempty"`
	Data          SensorData   `json:"data"`
	PID           string       `json:"pid,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	Note          string       `json:"note,omitempty"`
	SchemaVersion string       `json:"schema_version"`
	SourceFormat  string       `json:"source_format" validate:"required"`
	Confidence    *float64     `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`

	// Sequence is assigned by the pipeline on admission: strictly
	// increasing, never reused, totally ordered across all transports.
	Sequence int64 `json:"sequence,omitempty" validate:"gte=0"`
}

// AsMap returns the event as a generic map for dotted-path field lookup
// (rule predicates resolve fields this way). The conversion goes through
// the JSON codec so field names match the wire representation exactly.
func (e *Event) AsMap() (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal event map: %w", err)
	}
	return m, nil
}
