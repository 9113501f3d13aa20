// Package protocol defines the JSON wire frames spoken by every panel and
// the frame-type handler registry the gateway routes through.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/rs/xid"
)

// FrameType identifies a wire frame.
type FrameType string

// Client-originated control frames.
const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FramePublish     FrameType = "publish"
	FrameHeartbeat   FrameType = "heartbeat"
	FrameRequestLogs FrameType = "request-logs"
	FrameRequestMap  FrameType = "request-map"
	FrameClearLogs   FrameType = "clear-logs"
)

// Server-originated frames.
const (
	FrameMessage    FrameType = "message"
	FrameSubscribed FrameType = "subscribed"
	FramePublished  FrameType = "published"
	FrameLogEntry   FrameType = "log-entry"
	FrameLogBatch   FrameType = "log-batch"
	FrameMapUpdate  FrameType = "map-update"
	FrameError      FrameType = "error"
)

// Frame is the transport-level message envelope.
type Frame struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewFrame creates a frame with a fresh ID and the payload marshaled in.
func NewFrame(frameType FrameType, payload interface{}) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Frame{
		Type:      frameType,
		ID:        xid.New().String(),
		Timestamp: time.Now(),
		Payload:   data,
	}, nil
}

// Decode decodes the frame payload into the provided value.
func (f *Frame) Decode(v interface{}) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}

// Marshal marshals the frame to bytes.
func (f *Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// Unmarshal unmarshals bytes into a frame.
func Unmarshal(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
