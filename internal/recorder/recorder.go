// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

// Package recorder persists normalized events to hourly NDJSON files.
// Writes go through a bounded queue drained by a single goroutine, so the
// ingest path never touches the filesystem. Disk failures trip a circuit
// breaker that sheds writes until the disk recovers.
package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/tmorland/zmetad/internal/logging"
	"github.com/tmorland/zmetad/internal/metrics"
)

// hourKeyLayout names one file per UTC hour, e.g. 20260829_14.ndjson.
const hourKeyLayout = "20060102_15"

// Config controls the recorder's directory, queue, and retention.
type Config struct {
	Dir            string
	QueueSize      int
	RetentionHours float64
}

// Recorder is the NDJSON persistence sink.
type Recorder struct {
	cfg   Config
	stats *metrics.State
	queue chan []byte
	now   func() time.Time

	breaker *gobreaker.CircuitBreaker[struct{}]

	file    *os.File
	hourKey string

	droppedTotal atomic.Int64
}

// New creates a Recorder. Start it by running Serve under the supervisor.
func New(cfg Config, stats *metrics.State) *Recorder {
	return NewWithClock(cfg, stats, time.Now)
}

// NewWithClock is New with an injected clock for tests.
func NewWithClock(cfg Config, stats *metrics.State, now func() time.Time) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	r := &Recorder{
		cfg:   cfg,
		stats: stats,
		queue: make(chan []byte, cfg.QueueSize),
		now:   now,
	}
	r.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name: "recorder-disk",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Recorder circuit breaker state changed")
		},
	})
	return r
}

// Enqueue queues one record for persistence. A full queue drops the
// record rather than blocking the pipeline.
func (r *Recorder) Enqueue(record any) {
	line, err := json.Marshal(record)
	if err != nil {
		r.stats.RecordErrors.Add(1)
		logging.Error().Err(err).Msg("failed to encode record")
		return
	}
	select {
	case r.queue <- line:
	default:
		dropped := r.droppedTotal.Add(1)
		r.stats.RecordErrors.Add(1)
		logging.Warn().Int64("dropped", dropped).Msg("Recorder queue full, dropping record")
	}
}

// String implements the supervisor service name.
func (r *Recorder) String() string {
	return "ndjson-recorder"
}

// Serve drains the queue until the context is cancelled, then flushes and
// closes the current file. Implements suture.Service.
func (r *Recorder) Serve(ctx context.Context) error {
	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create recorder dir: %w", err)
	}
	logging.Info().Str("dir", r.cfg.Dir).Msg("Recorder started")
	defer r.closeFile()

	for {
		select {
		case <-ctx.Done():
			r.drainRemaining()
			return ctx.Err()
		case line := <-r.queue:
			r.writeLine(line)
		}
	}
}

// drainRemaining writes whatever is already queued at shutdown without
// waiting for more.
func (r *Recorder) drainRemaining() {
	for {
		select {
		case line := <-r.queue:
			r.writeLine(line)
		default:
			return
		}
	}
}

func (r *Recorder) writeLine(line []byte) {
	_, err := r.breaker.Execute(func() (struct{}, error) {
		now := r.now().UTC()
		if err := r.rotateIfNeeded(now); err != nil {
			return struct{}{}, err
		}
		if _, err := r.file.Write(append(line, '\n')); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if err != nil {
		r.stats.RecordErrors.Add(1)
		if err != gobreaker.ErrOpenState {
			logging.Error().Err(err).Msg("failed to persist record")
		}
		return
	}
	r.stats.RecordedTotal.Add(1)
}

// rotateIfNeeded opens the file for the current hour, closing the
// previous one, and prunes expired files on each rollover.
func (r *Recorder) rotateIfNeeded(now time.Time) error {
	key := now.Format(hourKeyLayout)
	if key == r.hourKey && r.file != nil {
		return nil
	}
	r.closeFile()
	path := filepath.Join(r.cfg.Dir, key+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	r.file = f
	r.hourKey = key
	r.pruneExpired(now)
	return nil
}

// pruneExpired removes NDJSON files whose mtime is older than the
// retention window. Retention of zero disables pruning.
func (r *Recorder) pruneExpired(now time.Time) {
	if r.cfg.RetentionHours <= 0 {
		return
	}
	cutoff := now.Add(-time.Duration(r.cfg.RetentionHours * float64(time.Hour)))
	matches, err := filepath.Glob(filepath.Join(r.cfg.Dir, "*.ndjson"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if strings.HasSuffix(path, r.hourKey+".ndjson") {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				logging.Error().Err(err).Str("path", path).Msg("failed to prune recorder file")
				continue
			}
			logging.Info().
				Str("file", filepath.Base(path)).
				Float64("retention_hours", r.cfg.RetentionHours).
				Msg("Removed recorder file older than retention")
		}
	}
}

func (r *Recorder) closeFile() {
	if r.file == nil {
		return
	}
	if err := r.file.Close(); err != nil {
		logging.Error().Err(err).Msg("failed to close recorder file")
	}
	r.file = nil
}

// Stats reports recorder-side drop accounting for status responses.
type Stats struct {
	Queued       int   `json:"queued"`
	DroppedTotal int64 `json:"dropped_total"`
}

// Stats returns current queue depth and drop count.
func (r *Recorder) Stats() Stats {
	return Stats{Queued: len(r.queue), DroppedTotal: r.droppedTotal.Load()}
}
