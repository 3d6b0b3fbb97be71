// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package rules

import (
	"fmt"
	"sync"
	"time"
)

// Deduper suppresses repeat alerts for the same logical condition inside
// a TTL window. The key is rule name, entity scope (sensor by default),
// severity, and location rounded to four decimals, so nearby jitter still
// counts as the same spot. The seen map is compacted lazily when it grows past maxKeys; the
// TTL is a lower bound on suppression, never an upper bound.
type Deduper struct {
	ttl     time.Duration
	maxKeys int
	now     func() time.Time

	mu              sync.Mutex
	seen            map[string]time.Time
	checkedTotal    int64
	suppressedTotal int64
}

// NewDeduper creates a Deduper with the given default TTL and key cap.
func NewDeduper(ttl time.Duration, maxKeys int) *Deduper {
	return NewDeduperWithClock(ttl, maxKeys, time.Now)
}

// NewDeduperWithClock is NewDeduper with an injected clock for tests.
func NewDeduperWithClock(ttl time.Duration, maxKeys int, now func() time.Time) *Deduper {
	return &Deduper{
		ttl:     ttl,
		maxKeys: maxKeys,
		now:     now,
		seen:    make(map[string]time.Time),
	}
}

func dedupKey(a *Alert) string {
	entity := a.Entity
	if entity == "" {
		entity = a.SensorID
	}
	lat, lon := "nil", "nil"
	if a.Loc.Lat != nil {
		lat = fmt.Sprintf("%.4f", *a.Loc.Lat)
	}
	if a.Loc.Lon != nil {
		lon = fmt.Sprintf("%.4f", *a.Loc.Lon)
	}
	return a.Rule + "|" + entity + "|" + a.Severity + "|" + lat + "," + lon
}

// ShouldSend reports whether the alert is outside its suppression window
// and records it as sent when so. An alert carrying a positive
// CooldownTTL uses that instead of the default TTL.
func (d *Deduper) ShouldSend(a *Alert) bool {
	ttl := d.ttl
	if a.CooldownTTL > 0 {
		ttl = a.CooldownTTL
	}
	now := d.now()
	key := dedupKey(a)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.checkedTotal++
	if last, ok := d.seen[key]; ok && now.Sub(last) < ttl {
		d.suppressedTotal++
		return false
	}
	d.seen[key] = now
	if len(d.seen) > d.maxKeys {
		cutoff := now.Add(-d.ttl)
		for k, ts := range d.seen {
			if ts.Before(cutoff) {
				delete(d.seen, k)
			}
		}
	}
	return true
}

// DedupStats is a snapshot of deduper counters for status reporting.
type DedupStats struct {
	TTLSeconds      float64 `json:"ttl_s"`
	CheckedTotal    int64   `json:"checked_total"`
	SuppressedTotal int64   `json:"suppressed_total"`
	ActiveKeys      int     `json:"active_keys"`
}

// Stats returns current deduper counters.
func (d *Deduper) Stats() DedupStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DedupStats{
		TTLSeconds:      d.ttl.Seconds(),
		CheckedTotal:    d.checkedTotal,
		SuppressedTotal: d.suppressedTotal,
		ActiveKeys:      len(d.seen),
	}
}
