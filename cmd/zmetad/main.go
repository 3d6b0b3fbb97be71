// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

// Command zmetad runs the telemetry ingestion and alerting daemon.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tmorland/zmetad/internal/adapters"
	"github.com/tmorland/zmetad/internal/api"
	"github.com/tmorland/zmetad/internal/config"
	"github.com/tmorland/zmetad/internal/hub"
	"github.com/tmorland/zmetad/internal/logging"
	"github.com/tmorland/zmetad/internal/metrics"
	"github.com/tmorland/zmetad/internal/natsingest"
	"github.com/tmorland/zmetad/internal/pipeline"
	"github.com/tmorland/zmetad/internal/recorder"
	"github.com/tmorland/zmetad/internal/rules"
	"github.com/tmorland/zmetad/internal/supervisor"
	"github.com/tmorland/zmetad/internal/udp"
	"github.com/tmorland/zmetad/internal/zmeta"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Msg("Starting zmetad")

	stats := metrics.New()
	validator := zmeta.NewValidator()
	registry := adapters.NewRegistry()

	engine := rules.NewEngine(cfg.Rules.Path)
	if err := engine.Load(); err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Rules.Path).Msg("failed to load rules")
	}
	deduper := rules.NewDeduper(cfg.Rules.DedupTTL, cfg.Rules.DedupMaxKeys)

	h := hub.New(hub.Config{
		QueueSize:  cfg.Hub.QueueSize,
		PutTimeout: cfg.Hub.PutTimeout,
		MaxRetries: cfg.Hub.MaxBackpressureRetries,
		Greeting:   cfg.Hub.Greeting,
	}, stats)

	rec := recorder.New(recorder.Config{
		Dir:            cfg.Recorder.Dir,
		QueueSize:      cfg.Recorder.QueueSize,
		RetentionHours: cfg.Recorder.RetentionHours,
	}, stats)

	pipe := pipeline.New(validator, registry, engine, deduper, h, rec, stats)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterPrometheus(promRegistry, stats)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddSinkService(rec)
	if cfg.UDP.Enabled {
		tree.AddIngestService(udp.New(udp.Config{
			Host:      cfg.UDP.Host,
			Port:      cfg.UDP.Port,
			QueueSize: cfg.UDP.QueueSize,
		}, pipe, stats))
	}
	if cfg.NATS.Enabled {
		tree.AddIngestService(natsingest.NewConsumer(natsingest.Config{
			URL:            cfg.NATS.URL,
			Subject:        cfg.NATS.Subject,
			EmbeddedServer: cfg.NATS.EmbeddedServer,
			EmbeddedHost:   cfg.NATS.EmbeddedHost,
			EmbeddedPort:   cfg.NATS.EmbeddedPort,
		}, pipe))
	}
	tree.AddAPIService(api.NewServer(cfg, pipe, h, engine, deduper, rec, stats, promRegistry))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("supervisor exited")
	}
	logging.Info().Msg("zmetad stopped")
}
