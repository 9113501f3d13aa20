package gateway

import (
	"context"
	"encoding/json"

	socketio "github.com/googollee/go-socket.io"

	"github.com/robolab/roverhub/pkg/domain"
	"github.com/robolab/roverhub/pkg/protocol"
)

// sioConn adapts a socket.io connection to domain.Conn. Outbound frames are
// re-emitted as named events: a log-entry frame becomes a "log_entry" event
// carrying the payload, which is what the ngrok-tunneled panels listen for.
type sioConn struct {
	sio    socketio.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func newSIOConn(sio socketio.Conn) *sioConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &sioConn{
		sio:    sio,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID implements domain.Conn
func (c *sioConn) ID() string {
	return "sio-" + c.sio.ID()
}

// Transport implements domain.Conn
func (c *sioConn) Transport() domain.Transport {
	return domain.TransportSocketIO
}

// Send implements domain.Conn. The frame type maps to the socket.io event
// name with dashes flattened to underscores.
func (c *sioConn) Send(ctx context.Context, message []byte) error {
	select {
	case <-c.ctx.Done():
		return domain.ErrConnClosed
	default:
	}

	frame, err := protocol.Unmarshal(message)
	if err != nil {
		return domain.WrapError(err, domain.ErrorTypeProtocol, "INVALID_FRAME", "cannot map frame to event")
	}

	c.sio.Emit(eventName(frame.Type), string(frame.Payload))
	return nil
}

// Close implements domain.Conn
func (c *sioConn) Close() error {
	c.cancel()
	return c.sio.Close()
}

// Context implements domain.Conn
func (c *sioConn) Context() context.Context {
	return c.ctx
}

func eventName(frameType protocol.FrameType) string {
	out := make([]byte, len(frameType))
	for i := 0; i < len(frameType); i++ {
		ch := frameType[i]
		if ch == '-' {
			ch = '_'
		}
		out[i] = ch
	}
	return string(out)
}

// NewSocketIOServer builds the socket.io endpoint mounted on the HTTP
// origin. Controller events are republished onto /control/* topics; the log
// events mirror the websocket log viewer contract.
func NewSocketIOServer(gateway *Gateway) *socketio.Server {
	server := socketio.NewServer(nil)

	server.OnConnect("/", func(s socketio.Conn) error {
		conn := newSIOConn(s)
		s.SetContext(conn)
		gateway.Attach(conn, "")
		return nil
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if conn, ok := s.Context().(*sioConn); ok {
			conn.cancel()
		}
	})

	server.OnError("/", func(s socketio.Conn, err error) {
		gateway.logger.Warn("socketio error", "error", err)
	})

	server.OnEvent("/", "request_logs", func(s socketio.Conn, msg string) {
		conn, ok := s.Context().(*sioConn)
		if !ok {
			return
		}

		s.Emit("logs_connected", "{}")

		payload := json.RawMessage(msg)
		if !json.Valid(payload) {
			payload = json.RawMessage("{}")
		}

		frame := &protocol.Frame{Type: protocol.FrameRequestLogs, Payload: payload}
		raw, err := frame.Marshal()
		if err != nil {
			return
		}
		gateway.HandleFrame(conn.ctx, conn, raw)
	})

	for _, event := range []string{"gamepad_input", "controller_input", "movement_command", "button_press"} {
		event := event
		server.OnEvent("/", event, func(s socketio.Conn, msg string) {
			conn, ok := s.Context().(*sioConn)
			if !ok {
				return
			}

			payload := json.RawMessage(msg)
			if !json.Valid(payload) {
				quoted, err := json.Marshal(msg)
				if err != nil {
					return
				}
				payload = quoted
			}

			if _, err := gateway.Publish(conn.ID(), "/control/"+event, "", payload); err != nil {
				gateway.logger.Warn("socketio publish failed",
					"event", event,
					"error", err,
				)
			}
		})
	}

	return server
}
