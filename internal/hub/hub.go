// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

// Package hub fans events out to WebSocket subscribers. Each subscriber
// owns a bounded queue; a stalled subscriber loses its own messages and,
// after enough consecutive losses, its connection, without ever blocking
// the broadcast path for anyone else.
package hub

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tmorland/zmetad/internal/logging"
	"github.com/tmorland/zmetad/internal/metrics"
)

// Subscriber is one connected client. The send channel is drained by the
// connection's write pump; the hub only ever does timed sends into it.
type Subscriber struct {
	ID          string
	Remote      string
	ConnectedAt time.Time

	send chan []byte

	mu          sync.Mutex
	closed      bool
	consecutive int
	sent        int64
	dropped     int64
}

// Receive returns the subscriber's outbound queue. The channel is closed
// on unregister; the write pump exits when it drains.
func (s *Subscriber) Receive() <-chan []byte {
	return s.send
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// Config controls queue sizing and backpressure policy.
type Config struct {
	QueueSize  int
	PutTimeout time.Duration
	MaxRetries int
	Greeting   string
}

// Hub manages the subscriber set and broadcast fan-out.
type Hub struct {
	cfg   Config
	stats *metrics.State

	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// New creates a Hub. The metrics state is shared with the rest of the
// pipeline.
func New(cfg Config, stats *metrics.State) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.PutTimeout <= 0 {
		cfg.PutTimeout = 250 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Hub{
		cfg:   cfg,
		stats: stats,
		subs:  make(map[string]*Subscriber),
	}
}

// Register adds a subscriber and queues the greeting message on it.
func (h *Hub) Register(remote string) *Subscriber {
	s := &Subscriber{
		ID:          uuid.NewString(),
		Remote:      remote,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, h.cfg.QueueSize),
	}
	if h.cfg.Greeting != "" {
		hello, err := json.Marshal(map[string]string{
			"type":          "hello",
			"message":       h.cfg.Greeting,
			"subscriber_id": s.ID,
		})
		if err == nil {
			s.send <- hello
		}
	}
	h.mu.Lock()
	h.subs[s.ID] = s
	count := len(h.subs)
	h.mu.Unlock()
	logging.Info().
		Str("subscriber_id", s.ID).
		Str("remote", remote).
		Int("subscribers", count).
		Msg("Subscriber registered")
	return s
}

// Unregister removes a subscriber and closes its queue. Safe to call more
// than once. forced marks eviction for backpressure rather than a client
// disconnect.
func (h *Hub) Unregister(s *Subscriber, forced bool) {
	h.mu.Lock()
	_, present := h.subs[s.ID]
	delete(h.subs, s.ID)
	count := len(h.subs)
	h.mu.Unlock()
	if !present {
		return
	}
	s.close()
	if forced {
		h.stats.WSDisconnected.Add(1)
		logging.Warn().
			Str("subscriber_id", s.ID).
			Str("remote", s.Remote).
			Msg("Subscriber evicted for backpressure")
	} else {
		logging.Info().
			Str("subscriber_id", s.ID).
			Int("subscribers", count).
			Msg("Subscriber unregistered")
	}
}

// Count returns the current subscriber count.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast delivers msg to every current subscriber. Deliveries run in
// parallel with a bounded put timeout each, so total blocking is capped
// at one timeout regardless of subscriber count. Messages to a full queue
// are dropped for that subscriber only; enough consecutive drops evict
// it.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, s := range targets {
		wg.Add(1)
		go func(s *Subscriber) {
			defer wg.Done()
			if h.deliver(s, msg) {
				return
			}
			h.stats.WSDroppedTotal.Add(1)
			if h.noteFailure(s) {
				h.Unregister(s, true)
			}
		}(s)
	}
	wg.Wait()
}

// deliver makes one timed put into the subscriber queue. The subscriber
// mutex serializes puts with close, so a concurrent unregister can never
// race a send onto a closed channel.
func (h *Hub) deliver(s *Subscriber, msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- msg:
		s.consecutive = 0
		s.sent++
		h.stats.WSSentTotal.Add(1)
		return true
	default:
	}
	timer := time.NewTimer(h.cfg.PutTimeout)
	defer timer.Stop()
	select {
	case s.send <- msg:
		s.consecutive = 0
		s.sent++
		h.stats.WSSentTotal.Add(1)
		return true
	case <-timer.C:
		return false
	}
}

// noteFailure bumps the consecutive-failure count and reports whether the
// subscriber crossed the eviction threshold.
func (h *Hub) noteFailure(s *Subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.dropped++
	s.consecutive++
	return s.consecutive >= h.cfg.MaxRetries
}

// SubscriberStats is per-connection accounting for status responses.
type SubscriberStats struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
	Sent        int64     `json:"sent"`
	Dropped     int64     `json:"dropped"`
	Queued      int       `json:"queued"`
}

// Stats returns a snapshot of every connected subscriber.
func (h *Hub) Stats() []SubscriberStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SubscriberStats, 0, len(h.subs))
	for _, s := range h.subs {
		s.mu.Lock()
		out = append(out, SubscriberStats{
			ID:          s.ID,
			Remote:      s.Remote,
			ConnectedAt: s.ConnectedAt,
			Sent:        s.sent,
			Dropped:     s.dropped,
			Queued:      len(s.send),
		})
		s.mu.Unlock()
	}
	return out
}

// CloseAll disconnects every subscriber, used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[string]*Subscriber)
	h.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}
