// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

// Package pipeline orchestrates event ingestion: validate or adapt the
// payload, assign the global sequence, then dispatch exactly once to the
// subscriber hub, the recorder, and the rules engine.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tmorland/zmetad/internal/adapters"
	"github.com/tmorland/zmetad/internal/hub"
	"github.com/tmorland/zmetad/internal/logging"
	"github.com/tmorland/zmetad/internal/metrics"
	"github.com/tmorland/zmetad/internal/recorder"
	"github.com/tmorland/zmetad/internal/rules"
	"github.com/tmorland/zmetad/internal/zmeta"
)

// AdapterNative is the adapter name reported for payloads that validate
// without conversion.
const AdapterNative = "native"

// Drop reason buckets recorded on rejection. Malformed input never
// decoded; schema-invalid input decoded but an adapter's output (or a
// payload claiming the native format) failed validation; no-adapter-match
// input resembled nothing the registry recognizes.
const (
	ReasonMalformed     = "malformed"
	ReasonSchemaInvalid = "schema_invalid"
	ReasonNoAdapter     = "no_adapter_match"
)

// ErrRejected wraps validation failures for payloads no adapter could
// rescue. Callers use this to distinguish a 422 from an internal error.
var ErrRejected = errors.New("payload rejected")

// Outcome reports a successful ingest.
type Outcome struct {
	Event   *zmeta.Event
	Adapter string
}

// Pipeline wires the normalization front end to the fan-out sinks.
type Pipeline struct {
	validator *zmeta.Validator
	registry  *adapters.Registry
	engine    *rules.Engine
	deduper   *rules.Deduper
	hub       *hub.Hub
	recorder  *recorder.Recorder
	stats     *metrics.State
}

// New assembles a Pipeline from its components.
func New(
	validator *zmeta.Validator,
	registry *adapters.Registry,
	engine *rules.Engine,
	deduper *rules.Deduper,
	h *hub.Hub,
	rec *recorder.Recorder,
	stats *metrics.State,
) *Pipeline {
	return &Pipeline{
		validator: validator,
		registry:  registry,
		engine:    engine,
		deduper:   deduper,
		hub:       h,
		recorder:  rec,
		stats:     stats,
	}
}

// IngestRaw decodes a JSON payload and ingests it. Undecodable bytes are
// counted as malformed drops.
func (p *Pipeline) IngestRaw(raw []byte, origin string) (*Outcome, error) {
	p.stats.NoteReceived()
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		p.stats.NoteDropped(ReasonMalformed)
		return nil, fmt.Errorf("%w: decode json: %v", ErrRejected, err)
	}
	return p.ingest(payload, origin)
}

// Ingest normalizes and dispatches an already-decoded payload map.
func (p *Pipeline) Ingest(payload map[string]any, origin string) (*Outcome, error) {
	p.stats.NoteReceived()
	return p.ingest(payload, origin)
}

func (p *Pipeline) ingest(payload map[string]any, origin string) (*Outcome, error) {
	ev, adapterName, reason, err := p.normalize(payload)
	if err != nil {
		p.stats.NoteDropped(reason)
		logging.Debug().
			Err(err).
			Str("origin", origin).
			Msg("Payload rejected")
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	// Sequence assignment admits the event: from here on it is
	// dispatched exactly once to every sink.
	if ev.Sequence == 0 {
		ev.Sequence = p.stats.NextSequence()
	}
	if adapterName == AdapterNative {
		p.stats.NoteValidated()
	} else {
		p.stats.NoteAdapted(adapterName)
	}

	if err := p.dispatch(ev, origin); err != nil {
		return nil, err
	}
	return &Outcome{Event: ev, Adapter: adapterName}, nil
}

// normalize tries canonical validation first and falls back to the
// adapter registry. An adapter's output must itself validate. On failure
// the returned reason names the drop bucket.
func (p *Pipeline) normalize(payload map[string]any) (*zmeta.Event, string, string, error) {
	ev, nativeErr := p.validator.Decode(payload)
	if nativeErr == nil {
		return ev, AdapterNative, "", nil
	}
	name, adapted, ok := p.registry.Adapt(payload)
	if !ok {
		if sf, _ := payload["source_format"].(string); strings.EqualFold(sf, "zmeta") {
			return nil, "", ReasonSchemaInvalid, nativeErr
		}
		return nil, "", ReasonNoAdapter, nativeErr
	}
	ev, err := p.validator.Decode(adapted)
	if err != nil {
		return nil, "", ReasonSchemaInvalid, fmt.Errorf("adapter %s produced invalid event: %w", name, err)
	}
	return ev, name, "", nil
}

// dispatch broadcasts the event, persists it, then evaluates rules and
// publishes deduplicated alerts. A rules failure never undoes the
// broadcast or the persist.
func (p *Pipeline) dispatch(ev *zmeta.Event, origin string) error {
	wire, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p.hub.Broadcast(wire)
	p.recorder.Enqueue(ev)

	eventMap, err := ev.AsMap()
	if err != nil {
		logging.Error().Err(err).Str("origin", origin).Msg("rules evaluation skipped")
		return nil
	}
	p.publishAlerts(p.engine.Eval(eventMap))
	return nil
}

// publishAlerts broadcasts the alerts that survive deduplication.
func (p *Pipeline) publishAlerts(alerts []rules.Alert) {
	for i := range alerts {
		alert := &alerts[i]
		if !p.deduper.ShouldSend(alert) {
			continue
		}
		wire, err := json.Marshal(alert)
		if err != nil {
			logging.Error().Err(err).Str("rule", alert.Rule).Msg("failed to encode alert")
			continue
		}
		p.hub.Broadcast(wire)
		p.stats.AlertsTotal.Add(1)
	}
}
