// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

// Package natsingest is the internal-origin transport: co-located
// producers publish payloads on a NATS subject instead of looping through
// UDP or HTTP. The broker can be an external server or an embedded one
// started in-process for single-node deployments.
package natsingest

import (
	"context"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/tmorland/zmetad/internal/logging"
	"github.com/tmorland/zmetad/internal/pipeline"
)

// Config selects the broker and subject.
type Config struct {
	URL            string
	Subject        string
	EmbeddedServer bool
	EmbeddedHost   string
	EmbeddedPort   int
}

// EmbeddedServer wraps an in-process NATS server with lifecycle
// management.
type EmbeddedServer struct {
	server    *natsserver.Server
	clientURL string
}

// StartEmbedded creates and starts an embedded NATS server, waiting until
// it accepts connections.
func StartEmbedded(host string, port int) (*EmbeddedServer, error) {
	opts := &natsserver.Options{
		ServerName: "zmetad-ingest",
		Host:       host,
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}
	logging.Info().Str("url", ns.ClientURL()).Msg("Embedded NATS server started")
	return &EmbeddedServer{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the connection URL for clients.
func (s *EmbeddedServer) ClientURL() string {
	return s.clientURL
}

// Shutdown stops the server and waits for it to finish.
func (s *EmbeddedServer) Shutdown() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}

// Consumer subscribes to the ingest subject and feeds payloads to the
// pipeline with internal origin.
type Consumer struct {
	cfg  Config
	pipe *pipeline.Pipeline

	embedded *EmbeddedServer
}

// NewConsumer creates a Consumer. If the config asks for an embedded
// server it is started lazily in Serve.
func NewConsumer(cfg Config, pipe *pipeline.Pipeline) *Consumer {
	return &Consumer{cfg: cfg, pipe: pipe}
}

// String implements the supervisor service name.
func (c *Consumer) String() string {
	return "nats-ingest"
}

// Serve connects, subscribes, and blocks until the context is cancelled.
// Implements suture.Service.
func (c *Consumer) Serve(ctx context.Context) error {
	url := c.cfg.URL
	if c.cfg.EmbeddedServer {
		es, err := StartEmbedded(c.cfg.EmbeddedHost, c.cfg.EmbeddedPort)
		if err != nil {
			return err
		}
		c.embedded = es
		defer func() {
			es.Shutdown()
			c.embedded = nil
		}()
		url = es.ClientURL()
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(c.cfg.Subject, func(msg *nats.Msg) {
		if _, err := c.pipe.IngestRaw(msg.Data, "internal"); err != nil {
			logging.Debug().Err(err).Str("subject", msg.Subject).Msg("NATS payload rejected")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.cfg.Subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	logging.Info().Str("url", url).Str("subject", c.cfg.Subject).Msg("NATS ingest started")
	<-ctx.Done()
	return ctx.Err()
}
