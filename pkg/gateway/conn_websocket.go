package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robolab/roverhub/internal/logging"
	"github.com/robolab/roverhub/pkg/domain"
)

// WSConnOptions represents websocket connection tuning.
type WSConnOptions struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultWSConnOptions returns default connection options.
func DefaultWSConnOptions() WSConnOptions {
	return WSConnOptions{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 512 * 1024,
	}
}

// WSConn implements domain.Conn over a gorilla websocket connection with a
// read pump and a write pump around a bounded send channel.
type WSConn struct {
	id       string
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *logging.Logger
	options  WSConnOptions
	sendChan chan []byte
	handler  domain.MessageHandler
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
}

// NewWSConn creates a websocket-backed connection.
func NewWSConn(id string, conn *websocket.Conn, logger *logging.Logger, options WSConnOptions) *WSConn {
	ctx, cancel := context.WithCancel(context.Background())

	return &WSConn{
		id:       id,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.WithFields(map[string]any{"conn_id": id}),
		options:  options,
		sendChan: make(chan []byte, 256),
	}
}

// ID implements domain.Conn
func (c *WSConn) ID() string {
	return c.id
}

// Transport implements domain.Conn
func (c *WSConn) Transport() domain.Transport {
	return domain.TransportWebSocket
}

// Send implements domain.Conn
func (c *WSConn) Send(ctx context.Context, message []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return domain.ErrConnClosed
	}
	c.mu.RUnlock()

	select {
	case c.sendChan <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return domain.ErrConnClosed
	}
}

// Receive sets the handler for incoming frames.
func (c *WSConn) Receive(handler domain.MessageHandler) {
	c.handler = handler
}

// Close implements domain.Conn
func (c *WSConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()

	if err := c.conn.Close(); err != nil {
		c.logger.Debug("error closing websocket connection", "error", err)
	}

	return nil
}

// Context implements domain.Conn
func (c *WSConn) Context() context.Context {
	return c.ctx
}

// Start starts the read and write pumps.
func (c *WSConn) Start() {
	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
}

// readPump pumps frames from the websocket to the handler.
func (c *WSConn) readPump() {
	defer c.wg.Done()
	defer c.Close()

	c.conn.SetReadLimit(c.options.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			messageType, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.logger.Warn("websocket read error", "error", err)
				}
				return
			}

			if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
				continue
			}

			if c.handler != nil {
				if err := c.handler(message); err != nil {
					c.logger.Warn("frame handler error", "error", err)
				}
			}
		}
	}
}

// writePump pumps queued frames to the websocket and keeps the connection
// alive with pings.
func (c *WSConn) writePump() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("websocket write error", "error", err)
				c.Close()
				return
			}

			// Drain any queued messages
			n := len(c.sendChan)
			for i := 0; i < n; i++ {
				select {
				case msg := <-c.sendChan:
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						c.logger.Warn("websocket write error", "error", err)
						c.Close()
						return
					}
				default:
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("websocket ping error", "error", err)
				c.Close()
				return
			}
		}
	}
}
