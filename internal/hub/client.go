// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package hub

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/tmorland/zmetad/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB, inbound frames are control traffic only
)

// Client bridges one websocket connection to its hub subscriber.
type Client struct {
	hub  *Hub
	sub  *Subscriber
	conn *websocket.Conn
}

// NewClient wraps an upgraded connection. The subscriber must already be
// registered with the hub.
func NewClient(h *Hub, sub *Subscriber, conn *websocket.Conn) *Client {
	return &Client{hub: h, sub: sub, conn: conn}
}

// Start launches the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump drains inbound frames to keep the connection control channel
// alive. The event stream is one-way; any client payload is ignored.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c.sub, false)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Str("subscriber_id", c.sub.ID).Msg("websocket closed unexpectedly")
			}
			return
		}
	}
}

// writePump drains the subscriber queue onto the wire and keeps the
// connection alive with pings. It exits when the hub closes the queue or
// a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sub.Receive():
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the queue.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logging.Debug().Err(err).Str("subscriber_id", c.sub.ID).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
