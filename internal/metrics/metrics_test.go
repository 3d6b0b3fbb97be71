// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package metrics

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNextSequenceConcurrent(t *testing.T) {
	s := New()
	const workers = 8
	const perWorker = 1000

	results := make([][]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seqs := make([]int64, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				seqs = append(seqs, s.NextSequence())
			}
			results[i] = seqs
		}(i)
	}
	wg.Wait()

	all := make([]int64, 0, workers*perWorker)
	for _, seqs := range results {
		// Each goroutine must observe its own sequence values in
		// increasing order.
		for j := 1; j < len(seqs); j++ {
			if seqs[j] <= seqs[j-1] {
				t.Fatalf("sequence not increasing within goroutine: %d then %d", seqs[j-1], seqs[j])
			}
		}
		all = append(all, seqs...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i, seq := range all {
		if seq != int64(i+1) {
			t.Fatalf("sequence gap or duplicate at %d: got %d", i, seq)
		}
	}
	if s.Sequence() != int64(workers*perWorker) {
		t.Errorf("Sequence = %d, want %d", s.Sequence(), workers*perWorker)
	}
}

func TestDropReasons(t *testing.T) {
	s := New()
	s.NoteDropped("malformed")
	s.NoteDropped("invalid")
	s.NoteDropped("invalid")

	snap := s.Snapshot()
	if snap.DroppedTotal != 3 {
		t.Errorf("DroppedTotal = %d", snap.DroppedTotal)
	}
	if snap.DropReasons["malformed"] != 1 || snap.DropReasons["invalid"] != 2 {
		t.Errorf("DropReasons = %v", snap.DropReasons)
	}
}

func TestEPSWindow(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := NewWithClock(clock)

	// 50 admissions spread over 5 seconds.
	for i := 0; i < 50; i++ {
		s.NoteValidated()
		now = now.Add(100 * time.Millisecond)
	}
	if eps := s.EPS(10 * time.Second); eps != 5 {
		t.Errorf("EPS(10s) = %v, want 5", eps)
	}
	if eps := s.EPS(time.Second); eps != 10 {
		t.Errorf("EPS(1s) = %v, want 10", eps)
	}

	// After a quiet minute the window is empty.
	now = now.Add(time.Minute)
	if eps := s.EPS(10 * time.Second); eps != 0 {
		t.Errorf("EPS after idle = %v, want 0", eps)
	}
}

func TestEPSWindowBounded(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s := NewWithClock(func() time.Time { return now })
	for i := 0; i < epsWindowSize*2; i++ {
		s.NoteValidated()
	}
	s.eps.Lock()
	n := len(s.eps.stamps)
	s.eps.Unlock()
	if n > epsWindowSize {
		t.Errorf("window grew to %d, cap is %d", n, epsWindowSize)
	}
}

func TestLastPacketAge(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s := NewWithClock(func() time.Time { return now })

	if age := s.LastPacketAge(); age != nil {
		t.Errorf("LastPacketAge before any event = %v, want nil", *age)
	}
	s.NoteValidated()
	now = now.Add(2500 * time.Millisecond)
	age := s.LastPacketAge()
	if age == nil || *age != 2.5 {
		t.Errorf("LastPacketAge = %v, want 2.5", age)
	}
}

func TestAdapterCounts(t *testing.T) {
	s := New()
	s.NoteAdapted("simulated_v1_rf")
	s.NoteAdapted("simulated_v1_rf")
	s.NoteAdapted("klv_like")

	counts := s.AdapterCounts()
	if counts["simulated_v1_rf"] != 2 || counts["klv_like"] != 1 {
		t.Errorf("AdapterCounts = %v", counts)
	}
	if s.AdaptedTotal.Load() != 3 {
		t.Errorf("AdaptedTotal = %d", s.AdaptedTotal.Load())
	}
	// Adapted events are validated events too.
	if s.ValidatedTotal.Load() != 3 {
		t.Errorf("ValidatedTotal = %d", s.ValidatedTotal.Load())
	}
	snap := s.Snapshot()
	if snap.AdapterCounts["klv_like"] != 1 {
		t.Errorf("snapshot AdapterCounts = %v", snap.AdapterCounts)
	}
}

func TestSnapshotCopiesCounters(t *testing.T) {
	s := New()
	s.NoteReceived()
	s.UDPReceivedTotal.Add(2)
	s.ValidatedTotal.Add(1)
	s.AlertsTotal.Add(4)
	s.NextSequence()

	snap := s.Snapshot()
	if snap.ReceivedTotal != 1 || snap.UDPReceivedTotal != 2 || snap.ValidatedTotal != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.AlertsTotal != 4 || snap.Sequence != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRegisterPrometheus(t *testing.T) {
	s := New()
	s.NoteReceived()
	s.NextSequence()

	reg := prometheus.NewRegistry()
	RegisterPrometheus(reg, s)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	byName := map[string]float64{}
	for _, mf := range families {
		if len(mf.GetMetric()) == 1 {
			m := mf.GetMetric()[0]
			switch {
			case m.GetCounter() != nil:
				byName[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				byName[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	if byName["zmetad_received_total"] != 1 {
		t.Errorf("zmetad_received_total = %v", byName["zmetad_received_total"])
	}
	if byName["zmetad_sequence"] != 1 {
		t.Errorf("zmetad_sequence = %v", byName["zmetad_sequence"])
	}
}
