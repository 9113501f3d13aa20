package protocol

import (
	"encoding/json"
	"strings"

	"github.com/robolab/roverhub/pkg/domain"
)

// SubscribeRequest asks for delivery of a topic, optionally replaying from a
// sequence cursor after reconnect.
type SubscribeRequest struct {
	Topic        string `json:"topic"`
	FromSequence uint64 `json:"from_sequence,omitempty"`
}

// SubscribeAck confirms a subscription. Gap reports that part of the
// requested replay range had already been evicted.
type SubscribeAck struct {
	Topic    string `json:"topic"`
	Sequence uint64 `json:"sequence"`
	Gap      bool   `json:"gap"`
}

// UnsubscribeRequest removes a topic subscription.
type UnsubscribeRequest struct {
	Topic string `json:"topic"`
}

// PublishRequest publishes a payload onto a topic.
type PublishRequest struct {
	Topic   string          `json:"topic"`
	Source  string          `json:"source,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// PublishAck reports the sequence number assigned to a publish.
type PublishAck struct {
	Topic    string `json:"topic"`
	Sequence uint64 `json:"sequence"`
}

// HeartbeatRequest is a service liveness report.
type HeartbeatRequest struct {
	ServiceID string               `json:"service_id"`
	Meta      domain.HeartbeatMeta `json:"meta"`
}

// LogsRequest asks for recent entries, optionally scoped to a topic.
type LogsRequest struct {
	Topic string `json:"topic,omitempty"`
	Count int    `json:"count,omitempty"`
}

// LogBatch carries recent entries in publish order.
type LogBatch struct {
	Entries []domain.LogEntry `json:"entries"`
}

// ErrorPayload reports a per-frame failure without tearing the connection
// down.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LegacyTopic maps a bare legacy frame type (camera-command, robot-pose,
// beat-detected, ...) onto its implied topic. The first dash separates the
// service segment.
func LegacyTopic(frameType FrameType) string {
	name := string(frameType)
	if service, rest, ok := strings.Cut(name, "-"); ok {
		return "/" + service + "/" + rest
	}
	return "/" + name
}
