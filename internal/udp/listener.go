// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

// Package udp receives telemetry datagrams and feeds them to the
// pipeline. One datagram is one JSON payload; rejects are counted and
// logged at a throttled rate so a misbehaving sender cannot flood the
// log.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/tmorland/zmetad/internal/logging"
	"github.com/tmorland/zmetad/internal/metrics"
	"github.com/tmorland/zmetad/internal/pipeline"
)

// maxDatagram bounds a single read. Telemetry payloads are far smaller;
// anything bigger is truncated and will fail JSON decoding.
const maxDatagram = 64 * 1024

// defaultQueueSize is the intake queue capacity when none is configured.
const defaultQueueSize = 1024

// datagram is one received payload awaiting ingestion.
type datagram struct {
	payload []byte
	remote  string
}

// Config is the listener's bind address and intake queue size.
type Config struct {
	Host      string
	Port      int
	QueueSize int
}

// Listener is the UDP ingest transport.
type Listener struct {
	cfg      Config
	pipe     *pipeline.Pipeline
	stats    *metrics.State
	warnRate *rate.Limiter
}

// New creates a Listener.
func New(cfg Config, pipe *pipeline.Pipeline, stats *metrics.State) *Listener {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Listener{
		cfg:      cfg,
		pipe:     pipe,
		stats:    stats,
		warnRate: rate.NewLimiter(rate.Limit(1), 5),
	}
}

// String implements the supervisor service name.
func (l *Listener) String() string {
	return "udp-listener"
}

// Serve reads datagrams until the context is cancelled. Implements
// suture.Service.
func (l *Listener) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port)
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return l.serve(ctx, conn)
}

// serve reads datagrams from an already-bound socket. The read loop
// hands payloads to a consumer goroutine through a bounded queue so a
// slow pipeline stalls ingestion instead of the socket; datagrams
// arriving while the queue is full are dropped and counted.
func (l *Listener) serve(ctx context.Context, conn net.PacketConn) error {
	logging.Info().Str("addr", conn.LocalAddr().String()).Msg("UDP listener started")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	queue := make(chan datagram, l.cfg.QueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for d := range queue {
			if _, err := l.pipe.IngestRaw(d.payload, "udp"); err != nil {
				if l.warnRate.Allow() {
					logging.Warn().
						Err(err).
						Str("remote", d.remote).
						Msg("UDP payload rejected")
				}
			}
		}
	}()
	defer func() {
		close(queue)
		wg.Wait()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, remote, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read udp: %w", err)
		}
		l.stats.UDPReceivedTotal.Add(1)

		payload := make([]byte, n)
		copy(payload, buf[:n])
		select {
		case queue <- datagram{payload: payload, remote: remote.String()}:
		default:
			l.stats.NoteDropped("queue_full")
			if l.warnRate.Allow() {
				logging.Warn().
					Str("remote", remote.String()).
					Msg("UDP intake queue full, datagram dropped")
			}
		}
	}
}
