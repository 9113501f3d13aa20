// Package client implements the reconnecting Go client for the relay. It
// mirrors the behavior of the browser panels: an ordered list of candidate
// URLs tried with a fixed per-attempt timeout, automatic reconnect with
// backoff, and cursor-based resubscription so a reconnect replays missed
// messages.
package client

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robolab/roverhub/internal/logging"
	"github.com/robolab/roverhub/pkg/domain"
	"github.com/robolab/roverhub/pkg/protocol"
)

// MessageHandler receives one delivered message.
type MessageHandler func(msg domain.Message)

// GapHandler is notified when a resubscription could not replay the full
// missed range.
type GapHandler func(topic string, resumedAt uint64)

// Options represents client options.
type Options struct {
	// CandidateURLs are tried in order on every (re)connect. The panels use
	// current-hostname, a well-known local hostname, then localhost.
	CandidateURLs []url.URL

	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnect   int
	AutoReconnect  bool

	// ServiceID marks this client as a service-origin connection; its
	// publishes count as heartbeats on the server.
	ServiceID string

	Logger *logging.Logger
	OnGap  GapHandler
}

// DefaultOptions returns default client options.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 3 * time.Second,
		ReconnectWait:  3 * time.Second,
		MaxReconnect:   10,
		AutoReconnect:  true,
	}
}

// Client is a relay client.
type Client struct {
	options Options
	logger  *logging.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	// cursors tracks the last delivered sequence per subscribed topic so a
	// reconnect can request replay from where it left off.
	cursors  map[string]uint64
	handlers map[string]MessageHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex
}

// New creates a client. Connect must be called before use.
func New(options Options) *Client {
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = DefaultOptions().ConnectTimeout
	}
	if options.ReconnectWait <= 0 {
		options.ReconnectWait = DefaultOptions().ReconnectWait
	}
	if options.Logger == nil {
		options.Logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		options:  options,
		logger:   options.Logger,
		cursors:  make(map[string]uint64),
		handlers: make(map[string]MessageHandler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect walks the candidate URL list until one answers within the
// per-attempt timeout, then starts the read loop.
func (c *Client) Connect() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(conn)

	return c.resubscribe()
}

// Disconnect closes the connection and stops reconnecting.
func (c *Client) Disconnect() error {
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.wg.Wait()
	return nil
}

// IsConnected reports whether the client currently has a live connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Subscribe registers a handler for a topic and requests delivery. Safe to
// call before Connect; the subscription is (re)established on every
// connect.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	c.handlers[topic] = handler
	if _, ok := c.cursors[topic]; !ok {
		c.cursors[topic] = 0
	}
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.sendSubscribe(topic, 0)
}

// Unsubscribe stops delivery for a topic.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.handlers, topic)
	delete(c.cursors, topic)
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return nil
	}

	frame, err := protocol.NewFrame(protocol.FrameUnsubscribe, protocol.UnsubscribeRequest{Topic: topic})
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

// Publish publishes a payload onto a topic.
func (c *Client) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	frame, err := protocol.NewFrame(protocol.FramePublish, protocol.PublishRequest{
		Topic:   topic,
		Source:  c.options.ServiceID,
		Payload: data,
	})
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

// Heartbeat reports service liveness.
func (c *Client) Heartbeat(meta domain.HeartbeatMeta) error {
	frame, err := protocol.NewFrame(protocol.FrameHeartbeat, protocol.HeartbeatRequest{
		ServiceID: c.options.ServiceID,
		Meta:      meta,
	})
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

// dial tries each candidate URL in order.
func (c *Client) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.options.ConnectTimeout,
	}

	var lastErr error
	for _, u := range c.options.CandidateURLs {
		target := u
		if c.options.ServiceID != "" {
			q := target.Query()
			q.Set("service_id", c.options.ServiceID)
			target.RawQuery = q.Encode()
		}

		c.logger.Debug("dialing relay", "url", target.String())

		conn, _, err := dialer.Dial(target.String(), nil)
		if err == nil {
			c.logger.Info("connected to relay", "url", target.String())
			return conn, nil
		}

		c.logger.Warn("dial failed, trying next candidate",
			"url", target.String(),
			"error", err,
		)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = domain.NewError(domain.ErrorTypeValidation, "NO_CANDIDATES", "no candidate URLs configured")
	}
	return nil, domain.WrapError(lastErr, domain.ErrorTypeTransport, "DIAL_FAILED", "all candidate URLs failed")
}

// resubscribe re-establishes every tracked topic, replaying from one past
// the last delivered sequence.
func (c *Client) resubscribe() error {
	c.mu.RLock()
	cursors := make(map[string]uint64, len(c.cursors))
	for topic, cursor := range c.cursors {
		cursors[topic] = cursor
	}
	c.mu.RUnlock()

	for topic, cursor := range cursors {
		fromSeq := uint64(0)
		if cursor > 0 {
			fromSeq = cursor + 1
		}
		if err := c.sendSubscribe(topic, fromSeq); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendSubscribe(topic string, fromSeq uint64) error {
	frame, err := protocol.NewFrame(protocol.FrameSubscribe, protocol.SubscribeRequest{
		Topic:        topic,
		FromSequence: fromSeq,
	})
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

func (c *Client) writeFrame(frame *protocol.Frame) error {
	data, err := frame.Marshal()
	if err != nil {
		return err
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return domain.ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.options.ConnectTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop consumes frames until the connection drops, then hands off to
// the reconnect loop.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()

			select {
			case <-c.ctx.Done():
				return
			default:
			}

			c.logger.Warn("connection lost", "error", err)

			if c.options.AutoReconnect {
				c.wg.Add(1)
				go c.reconnectLoop()
			}
			return
		}

		c.handleFrame(data)
	}
}

// reconnectLoop retries the candidate list with a fixed wait between full
// passes, falling back to disconnected state once attempts are exhausted.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for attempt := 1; c.options.MaxReconnect <= 0 || attempt <= c.options.MaxReconnect; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.options.ReconnectWait):
		}

		c.logger.Info("reconnecting", "attempt", attempt)

		conn, err := c.dial()
		if err != nil {
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.mu.Unlock()

		c.wg.Add(1)
		go c.readLoop(conn)

		if err := c.resubscribe(); err != nil {
			c.logger.Warn("resubscribe failed", "error", err)
		}
		return
	}

	c.logger.Error("reconnect attempts exhausted")
}

// handleFrame dispatches one server frame.
func (c *Client) handleFrame(data []byte) {
	frame, err := protocol.Unmarshal(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	switch frame.Type {
	case protocol.FrameMessage:
		var msg domain.Message
		if err := frame.Decode(&msg); err != nil {
			c.logger.Warn("failed to decode message frame", "error", err)
			return
		}

		c.mu.Lock()
		handler := c.handlers[msg.Topic]
		if _, ok := c.cursors[msg.Topic]; ok {
			c.cursors[msg.Topic] = msg.Sequence
		}
		c.mu.Unlock()

		if handler != nil {
			handler(msg)
		}

	case protocol.FrameSubscribed:
		var ack protocol.SubscribeAck
		if err := frame.Decode(&ack); err != nil {
			return
		}
		if ack.Gap && c.options.OnGap != nil {
			c.options.OnGap(ack.Topic, ack.Sequence)
		}

	case protocol.FrameError:
		var payload protocol.ErrorPayload
		if err := frame.Decode(&payload); err != nil {
			return
		}
		c.logger.Warn("server reported error",
			"code", payload.Code,
			"message", payload.Message,
		)
	}
}
