package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robolab/roverhub/pkg/domain"
)

func TestNewFrameCarriesIDAndPayload(t *testing.T) {
	frame, err := NewFrame(FrameSubscribe, SubscribeRequest{Topic: "/stt/transcript", FromSequence: 7})
	require.NoError(t, err)

	assert.Equal(t, FrameSubscribe, frame.Type)
	assert.NotEmpty(t, frame.ID)
	assert.False(t, frame.Timestamp.IsZero())

	var req SubscribeRequest
	require.NoError(t, frame.Decode(&req))
	assert.Equal(t, "/stt/transcript", req.Topic)
	assert.Equal(t, uint64(7), req.FromSequence)
}

func TestDecodeEmptyPayload(t *testing.T) {
	frame := &Frame{Type: FrameClearLogs}

	var req LogsRequest
	assert.NoError(t, frame.Decode(&req))
	assert.Empty(t, req.Topic)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)
}

func TestLegacyTopic(t *testing.T) {
	assert.Equal(t, "/camera/command", LegacyTopic("camera-command"))
	assert.Equal(t, "/beat/detected", LegacyTopic("beat-detected"))
	assert.Equal(t, "/robot/pose-estimate", LegacyTopic("robot-pose-estimate"))
	assert.Equal(t, "/ping", LegacyTopic("ping"))
}

func TestRegistryRoutesByType(t *testing.T) {
	registry := NewRegistry()

	var handled FrameType
	registry.Register(FramePublish, HandlerFunc(func(ctx context.Context, conn domain.Conn, frame *Frame) (*Frame, error) {
		handled = frame.Type
		return &Frame{Type: FramePublished}, nil
	}))

	resp, err := registry.Handle(context.Background(), nil, &Frame{Type: FramePublish})
	require.NoError(t, err)
	assert.Equal(t, FramePublish, handled)
	assert.Equal(t, FramePublished, resp.Type)
}

func TestRegistryFallback(t *testing.T) {
	registry := NewRegistry()

	// Without a fallback, unknown types are an error.
	_, err := registry.Handle(context.Background(), nil, &Frame{Type: "camera-command"})
	require.Error(t, err)

	var domainErr *domain.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "UNKNOWN_FRAME_TYPE", domainErr.Code)

	var seen FrameType
	registry.SetFallback(HandlerFunc(func(ctx context.Context, conn domain.Conn, frame *Frame) (*Frame, error) {
		seen = frame.Type
		return nil, nil
	}))

	_, err = registry.Handle(context.Background(), nil, &Frame{Type: "camera-command"})
	require.NoError(t, err)
	assert.Equal(t, FrameType("camera-command"), seen)
}
