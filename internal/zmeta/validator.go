// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package zmeta

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Validator checks inbound payloads against the canonical event schema.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with struct-tag rules registered.
func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Decode attempts to interpret a generic payload map as a canonical Event.
// It returns an error when the payload does not conform; callers fall back
// to adapter lookup in that case.
func (v *Validator) Decode(payload map[string]any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if err := v.Check(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Check validates a decoded Event: struct-tag constraints, schema version,
// and modality membership. Modality is canonicalized to lowercase.
func (v *Validator) Check(ev *Event) error {
	if err := v.validate.Struct(ev); err != nil {
		return fmt.Errorf("event validation: %w", err)
	}
	if ev.SchemaVersion == "" {
		return fmt.Errorf("event validation: schema_version is required")
	}
	if !SupportedSchemaVersions[ev.SchemaVersion] {
		return fmt.Errorf("event validation: unsupported schema_version %q", ev.SchemaVersion)
	}
	lower := strings.ToLower(ev.Modality)
	if !KnownModalities[lower] {
		return fmt.Errorf("event validation: unknown modality %q", ev.Modality)
	}
	ev.Modality = lower
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("event validation: timestamp is required")
	}
	return nil
}
