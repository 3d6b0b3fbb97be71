// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

// Package rules evaluates YAML-defined detection rules against normalized
// events and emits alerts. Rule sets are immutable once loaded; reloads
// swap the whole set atomically so evaluation never sees a partial
// configuration.
package rules

import (
	"time"
)

// Condition is a single predicate over one dotted event field.
// Exactly one operator is set per condition.
type Condition struct {
	Field   string
	Eq      any
	In      []any
	Between []float64
	Gte     *float64
	Lte     *float64
	Polygon [][2]float64
}

// Rule is one detection rule. Conditions combine with AND unless AnyMatch
// is set, in which case a single passing condition fires the rule.
type Rule struct {
	Name      string
	Severity  string
	Message   string
	AnyMatch  bool
	Cooldown  time.Duration
	Condition []Condition

	// EntityKey is a dotted event path defining the dedup scope for this
	// rule's alerts. Empty means sensor_id; an event missing the resolved
	// field falls back to a constant scope shared by all events.
	EntityKey string
}

// Point is a lat/lon pair used in alert payloads.
type Point struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// Alert is the wire form of a fired rule. It is broadcast to subscribers
// alongside events, distinguished by the fixed Type discriminator.
type Alert struct {
	Type      string `json:"type"`
	Rule      string `json:"rule"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Timestamp any    `json:"timestamp"`
	Loc       Point  `json:"loc"`
	SensorID  string `json:"sensor_id"`
	Modality  string `json:"modality"`

	// Entity is the resolved dedup scope for this alert.
	Entity string `json:"entity_key,omitempty"`

	// SourceSequence is the sequence of the event that fired the rule.
	SourceSequence int64 `json:"source_sequence,omitempty"`

	// CooldownTTL overrides the deduper TTL for this alert when positive.
	CooldownTTL time.Duration `json:"-"`
}
