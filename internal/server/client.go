package server

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/boardcall/internal/coordinator"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

// Client is one WebSocket connection. It is the coordinator.Endpoint for
// that connection: the coordinator only ever queues frames on it, and the
// write pump performs the network I/O.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	pingInterval   time.Duration
	pongWait       time.Duration
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	log            logrus.FieldLogger
}

// NewClient wraps conn for hub using the active configuration.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := CurrentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.NewString()
	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		pingInterval:   cfg.PingInterval,
		pongWait:       cfg.PongWait,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		log: hub.log.WithFields(logrus.Fields{
			"conn":   id,
			"remote": addr,
		}),
	}
}

// ID returns the connection id reported as socketId to other clients.
func (c *Client) ID() string {
	return c.id
}

// Send queues message without blocking. A client whose queue is full is
// dropped from the hub.
func (c *Client) Send(message []byte) bool {
	if c.hub.safeSend(c, message) {
		return true
	}
	c.hub.removeFailedClients([]*Client{c})
	return false
}

// GetSendChan returns the client's outbound queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		c.log.WithError(err).Error("Error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})
}

// logReadError records why the read loop stopped.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.WithField("limit", c.maxMessageSize).Warn("Message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.WithError(err).Debug("Client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.WithError(err).Debug("Client connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure):
		c.log.WithError(err).Warn("Unexpected WebSocket close")
	default:
		c.log.WithError(err).Info("WebSocket read ended")
	}
}

func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.WithFields(logrus.Fields{
			"burst":    c.rateLimit.Burst,
			"interval": c.rateLimit.RefillInterval,
		}).Warn("Rate limit exceeded; discarding message")
		return false
	}
	return true
}

// processMessage decodes one inbound frame and dispatches it. Failures are
// reported back to this client only.
func (c *Client) processMessage(raw []byte) {
	var env coordinator.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		c.log.WithField("bytes", len(raw)).Warn("Invalid envelope")
		c.replyError(errInvalidEnvelope)
		return
	}

	c.log.WithField("event", env.Event).Debug("Received event")
	if err := c.dispatch(env); err != nil {
		c.log.WithFields(logrus.Fields{
			"event": env.Event,
			"error": err,
		}).Warn("Request failed")
		c.replyError(err)
	}
}

func (c *Client) replyError(err error) {
	msg, encErr := coordinator.Encode(coordinator.EventCallError, coordinator.ErrorPayload{Message: err.Error()})
	if encErr != nil {
		c.log.WithError(encErr).Error("Failed to encode error reply")
		return
	}
	c.Send(msg)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.coord.Disconnect(c)
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.WithError(err).Error("Error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.checkRateLimit() {
			continue
		}
		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.handleMessage(message, ok) {
				return
			}
		case <-ticker.C:
			if !c.handlePing() {
				return
			}
		}
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Error("Error closing connection in writePump")
	}
}

// handleMessage writes one queued frame, or a close frame once the queue is
// closed. It returns false when the pump should stop.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Error("Error setting write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.WithError(err).Debug("Error writing close message")
		}
		return false
	}

	// One envelope per frame; clients parse each frame as a single JSON value.
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.WithError(err).Error("Error writing message")
		}
		return false
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Error("Error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.WithError(err).Warn("Error writing ping message")
		}
		return false
	}
	return true
}
