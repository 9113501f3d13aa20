package domain

import (
	"context"
)

// Transport identifies how a connection reached the gateway.
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportSocketIO  Transport = "socketio"
	TransportHTTPPoll  Transport = "http-poll"
)

// Conn is the capability every transport adapter exposes to the gateway core.
// The gateway routes and delivers through this interface only, so the core
// logic stays transport-agnostic.
type Conn interface {
	// ID returns the unique identifier of the connection
	ID() string

	// Transport returns the transport this connection arrived on
	Transport() Transport

	// Send queues a message for delivery to the client
	Send(ctx context.Context, message []byte) error

	// Close closes the connection
	Close() error

	// Context is done once the connection is torn down
	Context() context.Context
}

// MessageHandler is a function that handles incoming raw frames.
type MessageHandler func(message []byte) error
