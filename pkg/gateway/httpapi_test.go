package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robolab/roverhub/pkg/bus"
	"github.com/robolab/roverhub/pkg/domain"
	"github.com/robolab/roverhub/pkg/metrics"
	"github.com/robolab/roverhub/pkg/protocol"
	"github.com/robolab/roverhub/pkg/registry"
	"github.com/robolab/roverhub/pkg/stats"
)

type apiEnv struct {
	bus        *bus.Bus
	registry   *registry.Registry
	aggregator *stats.Aggregator
	server     *httptest.Server
}

func newAPIEnv(t *testing.T, opts Options) *apiEnv {
	t.Helper()

	b := bus.New(bus.DefaultOptions())
	t.Cleanup(b.Close)

	r := registry.New(registry.DefaultOptions())
	agg := stats.New(b, r, stats.Options{})
	gw := New(b, r, agg, opts)

	server := httptest.NewServer(NewAPIServer(gw).Router())
	t.Cleanup(server.Close)

	return &apiEnv{
		bus:        b,
		registry:   r,
		aggregator: agg,
		server:     server,
	}
}

func (e *apiEnv) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()

	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	env := newAPIEnv(t, Options{})

	var body map[string]any
	resp := env.get(t, "/api/health", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "uptime_seconds")
}

func TestPubSubLogEndpoint(t *testing.T) {
	env := newAPIEnv(t, Options{})

	for i := 0; i < 5; i++ {
		_, err := env.bus.Publish("/stt/transcript", "stt", json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)))
		require.NoError(t, err)
	}

	var entries []domain.LogEntry
	resp := env.get(t, "/api/pubsub/log", &entries)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, entries, 5)
	assert.Equal(t, "/stt/transcript", entries[0].Topic)
	assert.Equal(t, "stt", entries[0].Source)

	entries = nil
	env.get(t, "/api/pubsub/log?count=2", &entries)
	require.Len(t, entries, 2)
	assert.JSONEq(t, `{"i":4}`, string(entries[1].Data), "newest entries win when truncating")
}

func TestPublishEndpoint(t *testing.T) {
	env := newAPIEnv(t, Options{})

	resp, err := http.Post(env.server.URL+"/api/pubsub/publish", "application/json",
		strings.NewReader(`{"topic":"/llm/response","source":"llm","payload":{"text":"hi"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack protocol.PublishAck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.Equal(t, uint64(1), ack.Sequence)

	history := env.bus.History("/llm/response", 0)
	require.Len(t, history, 1)
	assert.JSONEq(t, `{"text":"hi"}`, string(history[0].Payload))

	// A sourced publish counts as a heartbeat.
	desc, err := env.registry.Get("llm")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUp, desc.Status)
}

func TestPublishEndpointRejectsMissingTopic(t *testing.T) {
	env := newAPIEnv(t, Options{})

	resp, err := http.Post(env.server.URL+"/api/pubsub/publish", "application/json",
		strings.NewReader(`{"payload":{}}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServicesStatusEndpoint(t *testing.T) {
	env := newAPIEnv(t, Options{})

	env.registry.Heartbeat("camera", domain.HeartbeatMeta{DisplayName: "Camera", Port: 5004})
	env.aggregator.Refresh()

	var body struct {
		Services map[string]domain.ServiceDescriptor `json:"services"`
	}
	resp := env.get(t, "/api/services/status", &body)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body.Services, "camera")
	assert.Equal(t, domain.StatusUp, body.Services["camera"].Status)
	assert.Equal(t, "Camera", body.Services["camera"].DisplayName)
}

func TestSystemStatsEndpoint(t *testing.T) {
	env := newAPIEnv(t, Options{})

	_, err := env.bus.Publish("/a", "svc", json.RawMessage(`1`))
	require.NoError(t, err)
	env.aggregator.Refresh()

	var snap stats.Snapshot
	resp := env.get(t, "/api/system/stats", &snap)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), snap.MessageCount)
	assert.Equal(t, 1, snap.Topics)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestSystemLogsEndpoint(t *testing.T) {
	env := newAPIEnv(t, Options{})

	for i := 0; i < 4; i++ {
		_, err := env.bus.Publish("/a", "svc", json.RawMessage(fmt.Sprintf(`%d`, i)))
		require.NoError(t, err)
	}

	var messages []domain.Message
	env.get(t, "/api/system/logs?limit=2", &messages)
	require.Len(t, messages, 2)
	assert.Equal(t, uint64(3), messages[0].Sequence)
	assert.Equal(t, uint64(4), messages[1].Sequence)

	// A future watermark filters everything out.
	since := time.Now().Add(time.Hour).Unix()
	messages = nil
	env.get(t, fmt.Sprintf("/api/system/logs?since=%d", since), &messages)
	assert.Empty(t, messages)
}

func TestPollEndpointDrainsBacklog(t *testing.T) {
	env := newAPIEnv(t, Options{})

	for i := 0; i < 3; i++ {
		_, err := env.bus.Publish("/slam/pose", "slam", json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)))
		require.NoError(t, err)
	}

	var resp pollResponse
	env.get(t, "/api/poll?topic=/slam/pose&from=2&wait=1", &resp)

	require.Len(t, resp.Messages, 2)
	assert.Equal(t, uint64(2), resp.Messages[0].Sequence)
	assert.Equal(t, uint64(3), resp.Messages[1].Sequence)
	assert.Equal(t, uint64(4), resp.Next, "next cursor is one past the last delivered")
	assert.False(t, resp.Gap)
}

func TestPollEndpointParksForLiveMessage(t *testing.T) {
	env := newAPIEnv(t, Options{})

	go func() {
		time.Sleep(50 * time.Millisecond)
		env.bus.Publish("/stt/transcript", "stt", json.RawMessage(`{"text":"late"}`))
	}()

	var resp pollResponse
	env.get(t, "/api/poll?topic=/stt/transcript&wait=5", &resp)

	require.Len(t, resp.Messages, 1)
	assert.Equal(t, uint64(1), resp.Messages[0].Sequence)
	assert.Equal(t, uint64(2), resp.Next)
}

func TestPollEndpointLeavesNoSubscriptionBehind(t *testing.T) {
	env := newAPIEnv(t, Options{})

	_, err := env.bus.Publish("/a", "svc", json.RawMessage(`1`))
	require.NoError(t, err)

	var resp pollResponse
	env.get(t, "/api/poll?topic=/a&from=1&wait=1", &resp)
	require.Len(t, resp.Messages, 1)

	assert.Equal(t, 0, env.bus.Stats().Subscriptions)
}

func TestPollEndpointRequiresTopic(t *testing.T) {
	env := newAPIEnv(t, Options{})

	resp := env.get(t, "/api/poll", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPollEndpointSignalsGap(t *testing.T) {
	b := bus.New(bus.Options{HistorySize: 10, QueueSize: 64})
	t.Cleanup(b.Close)

	r := registry.New(registry.DefaultOptions())
	agg := stats.New(b, r, stats.Options{})
	gw := New(b, r, agg, Options{})

	server := httptest.NewServer(NewAPIServer(gw).Router())
	t.Cleanup(server.Close)

	for i := 0; i < 30; i++ {
		_, err := b.Publish("/camera/frames", "camera", json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	httpResp, err := http.Get(server.URL + "/api/poll?topic=/camera/frames&from=1&wait=1")
	require.NoError(t, err)
	defer httpResp.Body.Close()

	var resp pollResponse
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))

	assert.True(t, resp.Gap)
	require.Len(t, resp.Messages, 10)
	assert.Equal(t, uint64(21), resp.Messages[0].Sequence)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAPIEnv(t, Options{Metrics: metrics.New()})

	_, err := env.bus.Publish("/a", "svc", json.RawMessage(`1`))
	require.NoError(t, err)

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
