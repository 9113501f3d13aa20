package gateway

import (
	"context"
	"strings"

	"github.com/robolab/roverhub/pkg/bus"
	"github.com/robolab/roverhub/pkg/domain"
	"github.com/robolab/roverhub/pkg/protocol"
)

// buildFrameRegistry wires the control frame handlers. Unregistered frame
// types fall through to the legacy handler, which treats bare frames like
// camera-command or robot-pose as publishes onto their implied topic.
func (g *Gateway) buildFrameRegistry() *protocol.Registry {
	reg := protocol.NewRegistry()

	reg.Register(protocol.FrameSubscribe, protocol.HandlerFunc(g.handleSubscribe))
	reg.Register(protocol.FrameUnsubscribe, protocol.HandlerFunc(g.handleUnsubscribe))
	reg.Register(protocol.FramePublish, protocol.HandlerFunc(g.handlePublish))
	reg.Register(protocol.FrameHeartbeat, protocol.HandlerFunc(g.handleHeartbeat))
	reg.Register(protocol.FrameRequestLogs, protocol.HandlerFunc(g.handleRequestLogs))
	reg.Register(protocol.FrameRequestMap, protocol.HandlerFunc(g.handleRequestMap))
	reg.Register(protocol.FrameClearLogs, protocol.HandlerFunc(g.handleClearLogs))
	reg.SetFallback(protocol.HandlerFunc(g.handleLegacy))

	return reg
}

func (g *Gateway) handleSubscribe(ctx context.Context, conn domain.Conn, frame *protocol.Frame) (*protocol.Frame, error) {
	var req protocol.SubscribeRequest
	if err := frame.Decode(&req); err != nil {
		return nil, domain.WrapError(err, domain.ErrorTypeValidation, "INVALID_SUBSCRIBE", "failed to decode subscribe request")
	}
	if req.Topic == "" {
		return nil, domain.NewError(domain.ErrorTypeValidation, "INVALID_SUBSCRIBE", "topic is required")
	}

	if !g.opts.Authorizer(conn.ID(), req.Topic, ActionSubscribe) {
		return nil, domain.WrapError(domain.ErrUnauthorized, domain.ErrorTypeValidation, "FORBIDDEN", "subscribe not permitted")
	}

	sub, err := g.subscribe(conn, req.Topic, req.FromSequence)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrorTypeInternal, "SUBSCRIBE_FAILED", "failed to subscribe")
	}

	return protocol.NewFrame(protocol.FrameSubscribed, protocol.SubscribeAck{
		Topic:    req.Topic,
		Sequence: g.bus.Sequence(req.Topic),
		Gap:      sub.Gap,
	})
}

func (g *Gateway) handleUnsubscribe(ctx context.Context, conn domain.Conn, frame *protocol.Frame) (*protocol.Frame, error) {
	var req protocol.UnsubscribeRequest
	if err := frame.Decode(&req); err != nil {
		return nil, domain.WrapError(err, domain.ErrorTypeValidation, "INVALID_UNSUBSCRIBE", "failed to decode unsubscribe request")
	}

	g.bus.Unsubscribe(conn.ID(), req.Topic)
	return nil, nil
}

func (g *Gateway) handlePublish(ctx context.Context, conn domain.Conn, frame *protocol.Frame) (*protocol.Frame, error) {
	var req protocol.PublishRequest
	if err := frame.Decode(&req); err != nil {
		return nil, domain.WrapError(err, domain.ErrorTypeValidation, "INVALID_PUBLISH", "failed to decode publish request")
	}
	if req.Topic == "" {
		return nil, domain.NewError(domain.ErrorTypeValidation, "INVALID_PUBLISH", "topic is required")
	}

	if !g.opts.Authorizer(conn.ID(), req.Topic, ActionPublish) {
		return nil, domain.WrapError(domain.ErrUnauthorized, domain.ErrorTypeValidation, "FORBIDDEN", "publish not permitted")
	}

	seq, err := g.Publish(conn.ID(), req.Topic, req.Source, req.Payload)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrorTypeInternal, "PUBLISH_FAILED", "failed to publish")
	}

	return protocol.NewFrame(protocol.FramePublished, protocol.PublishAck{
		Topic:    req.Topic,
		Sequence: seq,
	})
}

func (g *Gateway) handleHeartbeat(ctx context.Context, conn domain.Conn, frame *protocol.Frame) (*protocol.Frame, error) {
	var req protocol.HeartbeatRequest
	if err := frame.Decode(&req); err != nil {
		return nil, domain.WrapError(err, domain.ErrorTypeValidation, "INVALID_HEARTBEAT", "failed to decode heartbeat")
	}

	serviceID := req.ServiceID
	if serviceID == "" {
		serviceID = g.serviceID(conn.ID())
	}
	if serviceID == "" {
		return nil, domain.NewError(domain.ErrorTypeValidation, "INVALID_HEARTBEAT", "service_id is required")
	}

	g.registry.Heartbeat(serviceID, req.Meta)
	return nil, nil
}

// handleRequestLogs replies with the recent backlog and attaches the
// connection to the firehose so it keeps receiving log-entry frames, the
// contract the log viewer panels rely on.
func (g *Gateway) handleRequestLogs(ctx context.Context, conn domain.Conn, frame *protocol.Frame) (*protocol.Frame, error) {
	var req protocol.LogsRequest
	if err := frame.Decode(&req); err != nil {
		return nil, domain.WrapError(err, domain.ErrorTypeValidation, "INVALID_LOGS_REQUEST", "failed to decode logs request")
	}

	count := req.Count
	if count <= 0 || count > g.opts.LogBatchSize {
		count = g.opts.LogBatchSize
	}

	var messages []domain.Message
	if req.Topic != "" {
		messages = g.bus.History(req.Topic, count)
	} else {
		messages = g.bus.Recent(count)
	}

	entries := make([]domain.LogEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, msg.ToLogEntry())
	}

	if _, err := g.subscribe(conn, bus.FirehoseTopic, 0); err != nil {
		return nil, domain.WrapError(err, domain.ErrorTypeInternal, "SUBSCRIBE_FAILED", "failed to follow logs")
	}

	return protocol.NewFrame(protocol.FrameLogBatch, protocol.LogBatch{Entries: entries})
}

// handleRequestMap replays the most recent SLAM map update, if any.
func (g *Gateway) handleRequestMap(ctx context.Context, conn domain.Conn, frame *protocol.Frame) (*protocol.Frame, error) {
	latest := g.bus.History(MapTopic, 1)
	if len(latest) == 0 {
		return protocol.NewFrame(protocol.FrameMapUpdate, nil)
	}
	return protocol.NewFrame(protocol.FrameMapUpdate, latest[0])
}

func (g *Gateway) handleClearLogs(ctx context.Context, conn domain.Conn, frame *protocol.Frame) (*protocol.Frame, error) {
	g.bus.ClearRecent()
	return nil, nil
}

// handleLegacy maps a bare legacy frame onto an implicit publish. Frames
// whose type does not look like a topic-bearing event are dropped with a
// warning.
func (g *Gateway) handleLegacy(ctx context.Context, conn domain.Conn, frame *protocol.Frame) (*protocol.Frame, error) {
	if frame.Type == "" || strings.ContainsAny(string(frame.Type), " \t\n") {
		return nil, domain.NewError(domain.ErrorTypeProtocol, "UNKNOWN_FRAME_TYPE", "unroutable frame")
	}

	topicName := protocol.LegacyTopic(frame.Type)

	if !g.opts.Authorizer(conn.ID(), topicName, ActionPublish) {
		return nil, domain.WrapError(domain.ErrUnauthorized, domain.ErrorTypeValidation, "FORBIDDEN", "publish not permitted")
	}

	payload := frame.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	if _, err := g.Publish(conn.ID(), topicName, "", payload); err != nil {
		return nil, domain.WrapError(err, domain.ErrorTypeInternal, "PUBLISH_FAILED", "failed to publish legacy frame")
	}

	return nil, nil
}
