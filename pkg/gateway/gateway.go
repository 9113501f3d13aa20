// Package gateway terminates client transports (raw WebSocket, SocketIO,
// HTTP polling) and bridges them to the message bus and service registry.
// The core logic is transport-agnostic: every adapter presents domain.Conn.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/robolab/roverhub/internal/logging"
	"github.com/robolab/roverhub/pkg/bus"
	"github.com/robolab/roverhub/pkg/domain"
	"github.com/robolab/roverhub/pkg/metrics"
	"github.com/robolab/roverhub/pkg/protocol"
	"github.com/robolab/roverhub/pkg/registry"
	"github.com/robolab/roverhub/pkg/stats"
)

// MapTopic is where the SLAM service publishes occupancy grid updates; the
// request-map frame replays the latest entry from it.
const MapTopic = "/slam/map"

// Action classifies an operation for the capability check.
type Action string

const (
	ActionPublish   Action = "publish"
	ActionSubscribe Action = "subscribe"
)

// Authorizer is the capability-check extension point, consulted per
// (connection, topic, action). The default allows everything.
type Authorizer func(connID, topic string, action Action) bool

// Options configures the gateway.
type Options struct {
	Logger       *logging.Logger
	Metrics      *metrics.Metrics
	Authorizer   Authorizer
	SendTimeout  time.Duration
	LogBatchSize int
}

// Gateway bridges transports to the bus and registry.
type Gateway struct {
	bus        *bus.Bus
	registry   *registry.Registry
	aggregator *stats.Aggregator
	frames     *protocol.Registry
	logger     *logging.Logger
	opts       Options

	mu    sync.Mutex
	conns map[string]*connState
}

// connState is the gateway-side bookkeeping for one connection. It
// exclusively owns the connection's subscriptions.
type connState struct {
	conn      domain.Conn
	serviceID string
}

// New creates a gateway over the given bus, registry, and aggregator.
func New(b *bus.Bus, r *registry.Registry, agg *stats.Aggregator, opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}
	if opts.Authorizer == nil {
		opts.Authorizer = func(string, string, Action) bool { return true }
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.LogBatchSize <= 0 {
		opts.LogBatchSize = 100
	}

	g := &Gateway{
		bus:        b,
		registry:   r,
		aggregator: agg,
		logger:     opts.Logger,
		opts:       opts,
		conns:      make(map[string]*connState),
	}
	g.frames = g.buildFrameRegistry()

	return g
}

// Attach registers a connection and starts watching for its teardown. The
// serviceID is non-empty for service-origin connections, whose publishes
// double as registry heartbeats.
func (g *Gateway) Attach(conn domain.Conn, serviceID string) {
	g.mu.Lock()
	g.conns[conn.ID()] = &connState{conn: conn, serviceID: serviceID}
	g.mu.Unlock()

	if g.opts.Metrics != nil {
		g.opts.Metrics.Connections.WithLabelValues(string(conn.Transport())).Inc()
	}

	g.logger.Info("connection attached",
		"conn_id", conn.ID(),
		"transport", string(conn.Transport()),
		"service_id", serviceID,
	)

	go func() {
		<-conn.Context().Done()
		g.Detach(conn.ID())
	}()
}

// Detach releases everything the connection owned: its bus subscriptions,
// its table entry, and the underlying transport. Idempotent.
func (g *Gateway) Detach(connID string) {
	g.mu.Lock()
	state, ok := g.conns[connID]
	if ok {
		delete(g.conns, connID)
	}
	g.mu.Unlock()

	if !ok {
		return
	}

	g.bus.UnsubscribeAll(connID)
	state.conn.Close()

	if g.opts.Metrics != nil {
		g.opts.Metrics.Connections.WithLabelValues(string(state.conn.Transport())).Dec()
	}

	g.logger.Info("connection detached", "conn_id", connID)
}

// ConnCount returns the number of attached connections.
func (g *Gateway) ConnCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// HandleFrame processes one raw frame from a connection. Malformed frames
// are logged and dropped; handler failures are reported back as error frames
// without tearing the connection down.
func (g *Gateway) HandleFrame(ctx context.Context, conn domain.Conn, raw []byte) {
	frame, err := protocol.Unmarshal(raw)
	if err != nil {
		g.logger.Warn("dropping malformed frame",
			"conn_id", conn.ID(),
			"error", err,
		)
		return
	}

	response, err := g.frames.Handle(ctx, conn, frame)
	if err != nil {
		g.logger.Warn("frame handler error",
			"conn_id", conn.ID(),
			"frame_type", string(frame.Type),
			"error", err,
		)
		g.sendError(ctx, conn, err)
		return
	}

	if response != nil {
		g.send(ctx, conn, response)
	}
}

// Publish runs a publish on behalf of a connection, updating the registry
// when the connection belongs to a service.
func (g *Gateway) Publish(connID, topicName, source string, payload []byte) (uint64, error) {
	if source == "" {
		source = g.serviceID(connID)
	}
	if source == "" {
		source = connID
	}

	seq, err := g.bus.Publish(topicName, source, payload)
	if err != nil {
		return 0, err
	}

	// Publish activity from a service connection counts as liveness.
	if serviceID := g.serviceID(connID); serviceID != "" {
		g.registry.Heartbeat(serviceID, domain.HeartbeatMeta{IsRunning: true})
	}

	return seq, nil
}

// serviceID returns the declared service for a connection, if any.
func (g *Gateway) serviceID(connID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if state, ok := g.conns[connID]; ok {
		return state.serviceID
	}
	return ""
}

// subscribe attaches the connection to a topic and starts its delivery pump.
func (g *Gateway) subscribe(conn domain.Conn, topicName string, fromSeq uint64) (*bus.Subscription, error) {
	sub, err := g.bus.Subscribe(conn.ID(), topicName, bus.SubscribeOptions{FromSequence: fromSeq})
	if err != nil {
		return nil, err
	}

	frameType := protocol.FrameMessage
	if topicName == bus.FirehoseTopic {
		frameType = protocol.FrameLogEntry
	}

	go g.pump(conn, sub, frameType)
	return sub, nil
}

// pump forwards bus deliveries to the transport until the subscription
// queue closes. A send failure releases the connection; one stuck consumer
// never affects the bus or other connections.
func (g *Gateway) pump(conn domain.Conn, sub *bus.Subscription, frameType protocol.FrameType) {
	for msg := range sub.C() {
		var payload any = msg
		if frameType == protocol.FrameLogEntry {
			payload = msg.ToLogEntry()
		}

		frame, err := protocol.NewFrame(frameType, payload)
		if err != nil {
			g.logger.Error("failed to frame message",
				"conn_id", conn.ID(),
				"topic", sub.Topic(),
				"error", err,
			)
			continue
		}

		if !g.send(conn.Context(), conn, frame) {
			g.Detach(conn.ID())
			return
		}
	}
}

// send marshals and delivers a frame, reporting success.
func (g *Gateway) send(ctx context.Context, conn domain.Conn, frame *protocol.Frame) bool {
	data, err := frame.Marshal()
	if err != nil {
		g.logger.Error("failed to marshal frame", "error", err)
		return true
	}

	sendCtx, cancel := context.WithTimeout(ctx, g.opts.SendTimeout)
	defer cancel()

	if err := conn.Send(sendCtx, data); err != nil {
		g.logger.Warn("delivery failed",
			"conn_id", conn.ID(),
			"frame_type", string(frame.Type),
			"error", err,
		)
		return false
	}
	return true
}

// sendError reports a handler failure on the originating connection.
func (g *Gateway) sendError(ctx context.Context, conn domain.Conn, cause error) {
	payload := protocol.ErrorPayload{
		Code:    "INTERNAL",
		Message: cause.Error(),
	}

	var derr *domain.Error
	if e, ok := cause.(*domain.Error); ok {
		derr = e
	}
	if derr != nil {
		payload.Code = derr.Code
	}

	frame, err := protocol.NewFrame(protocol.FrameError, payload)
	if err != nil {
		return
	}
	g.send(ctx, conn, frame)
}
