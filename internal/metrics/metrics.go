// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

// Package metrics tracks pipeline counters, the global sequence number,
// and a sliding events-per-second estimate. Counters are plain atomics so
// the hot path never takes a lock; the EPS window is the one mutex-guarded
// structure and is only touched on admission and snapshot.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// epsWindowSize bounds the admission-timestamp buffer behind the
// events-per-second estimate.
const epsWindowSize = 600

// State holds all runtime counters for the process. A single instance is
// shared by every component; the zero value is not usable, construct with
// New.
type State struct {
	ReceivedTotal    atomic.Int64
	UDPReceivedTotal atomic.Int64
	ValidatedTotal   atomic.Int64
	AdaptedTotal     atomic.Int64
	DroppedTotal     atomic.Int64
	AlertsTotal      atomic.Int64
	WSSentTotal      atomic.Int64
	WSDroppedTotal   atomic.Int64
	WSDisconnected   atomic.Int64
	RecordedTotal    atomic.Int64
	RecordErrors     atomic.Int64

	sequence atomic.Int64

	// lastPacket is the unix-nano timestamp of the last admitted event,
	// zero when nothing has been admitted yet.
	lastPacket atomic.Int64

	dropReasons struct {
		sync.Mutex
		m map[string]int64
	}

	adapterCounts struct {
		sync.Mutex
		m map[string]int64
	}

	eps struct {
		sync.Mutex
		stamps []time.Time
	}

	now func() time.Time
}

// New creates a State using the wall clock.
func New() *State {
	return NewWithClock(time.Now)
}

// NewWithClock creates a State with an injected clock, for deterministic
// tests.
func NewWithClock(now func() time.Time) *State {
	s := &State{now: now}
	s.dropReasons.m = make(map[string]int64)
	s.adapterCounts.m = make(map[string]int64)
	s.eps.stamps = make([]time.Time, 0, epsWindowSize)
	return s
}

// NextSequence returns the next global sequence number. The counter starts
// at 1 and is strictly increasing across all transports for the lifetime
// of the process.
func (s *State) NextSequence() int64 {
	return s.sequence.Add(1)
}

// Sequence returns the highest sequence number assigned so far.
func (s *State) Sequence() int64 {
	return s.sequence.Load()
}

// NoteReceived records a payload arriving at the pipeline, valid or not.
func (s *State) NoteReceived() {
	s.ReceivedTotal.Add(1)
}

// NoteValidated records an event admitted through canonical validation.
func (s *State) NoteValidated() {
	s.ValidatedTotal.Add(1)
	s.noteAdmitted()
}

// NoteAdapted records an event admitted through the named adapter.
// Adapted events count toward validated_total too, since adapter
// output passes the same validation before admission.
func (s *State) NoteAdapted(adapter string) {
	s.ValidatedTotal.Add(1)
	s.AdaptedTotal.Add(1)
	s.adapterCounts.Lock()
	s.adapterCounts.m[adapter]++
	s.adapterCounts.Unlock()
	s.noteAdmitted()
}

// NoteDropped records a rejected payload with a reason bucket.
func (s *State) NoteDropped(reason string) {
	s.DroppedTotal.Add(1)
	s.dropReasons.Lock()
	s.dropReasons.m[reason]++
	s.dropReasons.Unlock()
}

// noteAdmitted stamps the EPS window and the last-packet marker.
func (s *State) noteAdmitted() {
	now := s.now()
	s.lastPacket.Store(now.UnixNano())
	s.eps.Lock()
	defer s.eps.Unlock()
	if len(s.eps.stamps) >= epsWindowSize {
		copy(s.eps.stamps, s.eps.stamps[1:])
		s.eps.stamps = s.eps.stamps[:len(s.eps.stamps)-1]
	}
	s.eps.stamps = append(s.eps.stamps, now)
}

// EPS estimates admitted events per second over the trailing window,
// rounded to two decimals.
func (s *State) EPS(window time.Duration) float64 {
	cutoff := s.now().Add(-window)
	s.eps.Lock()
	n := 0
	for _, ts := range s.eps.stamps {
		if !ts.Before(cutoff) {
			n++
		}
	}
	s.eps.Unlock()
	secs := window.Seconds()
	if secs < 1 {
		secs = 1
	}
	return math.Round(float64(n)/secs*100) / 100
}

// LastPacketAge returns seconds since the last admitted event, or nil
// when nothing has been admitted yet.
func (s *State) LastPacketAge() *float64 {
	ns := s.lastPacket.Load()
	if ns == 0 {
		return nil
	}
	age := s.now().Sub(time.Unix(0, ns)).Seconds()
	return &age
}

// AdapterCounts returns a copy of per-adapter admission counts.
func (s *State) AdapterCounts() map[string]int64 {
	s.adapterCounts.Lock()
	defer s.adapterCounts.Unlock()
	out := make(map[string]int64, len(s.adapterCounts.m))
	for k, v := range s.adapterCounts.m {
		out[k] = v
	}
	return out
}

// Snapshot is a point-in-time copy of every counter, suitable for JSON
// status responses.
type Snapshot struct {
	ReceivedTotal    int64            `json:"received_total"`
	UDPReceivedTotal int64            `json:"udp_received_total"`
	ValidatedTotal   int64            `json:"validated_total"`
	AdaptedTotal     int64            `json:"adapted_total"`
	DroppedTotal     int64            `json:"dropped_total"`
	DropReasons      map[string]int64 `json:"drop_reasons,omitempty"`
	AlertsTotal      int64            `json:"alerts_total"`
	WSSentTotal      int64            `json:"ws_sent_total"`
	WSDroppedTotal   int64            `json:"ws_dropped_total"`
	WSDisconnected   int64            `json:"ws_disconnected_total"`
	RecordedTotal    int64            `json:"recorded_total"`
	RecordErrors     int64            `json:"record_errors_total"`
	Sequence         int64            `json:"sequence"`
	EPS1s            float64          `json:"eps_1s"`
	EPS10s           float64          `json:"eps_10s"`
	LastPacketAgeS   *float64         `json:"last_packet_age_s"`
	AdapterCounts    map[string]int64 `json:"adapter_counts"`
}

// Snapshot copies all counters at once. Individual counters are read
// atomically; the snapshot as a whole is not a consistent cut, which is
// acceptable for status reporting.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		ReceivedTotal:    s.ReceivedTotal.Load(),
		UDPReceivedTotal: s.UDPReceivedTotal.Load(),
		ValidatedTotal:   s.ValidatedTotal.Load(),
		AdaptedTotal:     s.AdaptedTotal.Load(),
		DroppedTotal:     s.DroppedTotal.Load(),
		AlertsTotal:      s.AlertsTotal.Load(),
		WSSentTotal:      s.WSSentTotal.Load(),
		WSDroppedTotal:   s.WSDroppedTotal.Load(),
		WSDisconnected:   s.WSDisconnected.Load(),
		RecordedTotal:    s.RecordedTotal.Load(),
		RecordErrors:     s.RecordErrors.Load(),
		Sequence:         s.sequence.Load(),
		EPS1s:            s.EPS(time.Second),
		EPS10s:           s.EPS(10 * time.Second),
		LastPacketAgeS:   s.LastPacketAge(),
		AdapterCounts:    s.AdapterCounts(),
	}
	s.dropReasons.Lock()
	if len(s.dropReasons.m) > 0 {
		snap.DropReasons = make(map[string]int64, len(s.dropReasons.m))
		for k, v := range s.dropReasons.m {
			snap.DropReasons[k] = v
		}
	}
	s.dropReasons.Unlock()
	return snap
}
