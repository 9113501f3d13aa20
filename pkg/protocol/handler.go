package protocol

import (
	"context"

	"github.com/robolab/roverhub/pkg/domain"
)

// Handler processes one frame type. The returned frame, if any, is sent back
// on the originating connection.
type Handler interface {
	Handle(ctx context.Context, conn domain.Conn, frame *Frame) (*Frame, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, conn domain.Conn, frame *Frame) (*Frame, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, conn domain.Conn, frame *Frame) (*Frame, error) {
	return f(ctx, conn, frame)
}

// Registry routes frames to handlers by frame type. Unregistered types fall
// through to the fallback handler, which the gateway uses to treat bare
// legacy frames as implicit publishes.
type Registry struct {
	handlers map[FrameType]Handler
	fallback Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[FrameType]Handler),
	}
}

// Register registers a handler for a frame type.
func (r *Registry) Register(frameType FrameType, handler Handler) {
	r.handlers[frameType] = handler
}

// SetFallback sets the handler for unregistered frame types.
func (r *Registry) SetFallback(handler Handler) {
	r.fallback = handler
}

// Get retrieves a handler for a frame type.
func (r *Registry) Get(frameType FrameType) (Handler, bool) {
	handler, ok := r.handlers[frameType]
	return handler, ok
}

// Handle routes a frame to its handler.
func (r *Registry) Handle(ctx context.Context, conn domain.Conn, frame *Frame) (*Frame, error) {
	if handler, ok := r.handlers[frame.Type]; ok {
		return handler.Handle(ctx, conn, frame)
	}

	if r.fallback != nil {
		return r.fallback.Handle(ctx, conn, frame)
	}

	return nil, domain.NewError(domain.ErrorTypeProtocol, "UNKNOWN_FRAME_TYPE",
		"no handler for frame type "+string(frame.Type))
}
