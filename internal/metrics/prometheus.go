// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RegisterPrometheus exposes the pipeline counters on a Prometheus
// registry. The collectors read the atomics directly, so no periodic sync
// is needed.
func RegisterPrometheus(reg prometheus.Registerer, s *State) {
	factory := promauto.With(reg)

	counter := func(name, help string, load func() int64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "zmetad",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(load()) })
	}

	counter("received_total", "Payloads admitted to the pipeline across all transports.", s.ReceivedTotal.Load)
	counter("udp_received_total", "Datagrams received on the UDP listener.", s.UDPReceivedTotal.Load)
	counter("validated_total", "Payloads that passed canonical schema validation directly.", s.ValidatedTotal.Load)
	counter("adapted_total", "Payloads normalized through a format adapter.", s.AdaptedTotal.Load)
	counter("dropped_total", "Payloads rejected by the pipeline.", s.DroppedTotal.Load)
	counter("alerts_total", "Alerts emitted after deduplication.", s.AlertsTotal.Load)
	counter("ws_sent_total", "Messages delivered to subscriber queues.", s.WSSentTotal.Load)
	counter("ws_dropped_total", "Messages dropped due to subscriber backpressure.", s.WSDroppedTotal.Load)
	counter("ws_disconnected_total", "Subscribers evicted for sustained backpressure.", s.WSDisconnected.Load)
	counter("recorded_total", "Events persisted to the NDJSON log.", s.RecordedTotal.Load)
	counter("record_errors_total", "Persistence failures.", s.RecordErrors.Load)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "zmetad",
		Name:      "sequence",
		Help:      "Highest global sequence number assigned.",
	}, func() float64 { return float64(s.Sequence()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "zmetad",
		Name:      "events_per_second",
		Help:      "Admitted events per second over the trailing 10s window.",
	}, func() float64 { return s.EPS(10 * time.Second) })
}
