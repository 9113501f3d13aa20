package client

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robolab/roverhub/pkg/bus"
	"github.com/robolab/roverhub/pkg/domain"
	"github.com/robolab/roverhub/pkg/gateway"
	"github.com/robolab/roverhub/pkg/registry"
	"github.com/robolab/roverhub/pkg/stats"
)

type relayEnv struct {
	bus      *bus.Bus
	registry *registry.Registry
	url      url.URL
}

func newRelayEnv(t *testing.T) *relayEnv {
	t.Helper()

	b := bus.New(bus.DefaultOptions())
	t.Cleanup(b.Close)

	r := registry.New(registry.DefaultOptions())
	agg := stats.New(b, r, stats.Options{})
	gw := gateway.New(b, r, agg, gateway.Options{})

	server := httptest.NewServer(gateway.NewWSServer(gw, gateway.DefaultWSConnOptions()).Router())
	t.Cleanup(server.Close)

	wsURL, err := url.Parse("ws" + strings.TrimPrefix(server.URL, "http"))
	require.NoError(t, err)

	return &relayEnv{bus: b, registry: r, url: *wsURL}
}

func newConnectedClient(t *testing.T, env *relayEnv, mutate func(*Options)) *Client {
	t.Helper()

	opts := DefaultOptions()
	opts.CandidateURLs = []url.URL{env.url}
	opts.AutoReconnect = false
	if mutate != nil {
		mutate(&opts)
	}

	c := New(opts)
	require.NoError(t, c.Connect())
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func TestConnectWalksCandidates(t *testing.T) {
	env := newRelayEnv(t)

	dead := url.URL{Scheme: "ws", Host: "127.0.0.1:1"}
	c := newConnectedClient(t, env, func(o *Options) {
		o.CandidateURLs = []url.URL{dead, env.url}
	})

	assert.True(t, c.IsConnected())
}

func TestConnectFailsWhenAllCandidatesDead(t *testing.T) {
	opts := DefaultOptions()
	opts.ConnectTimeout = 200 * time.Millisecond
	opts.CandidateURLs = []url.URL{{Scheme: "ws", Host: "127.0.0.1:1"}}

	c := New(opts)
	err := c.Connect()
	require.Error(t, err)

	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "DIAL_FAILED", derr.Code)
	assert.False(t, c.IsConnected())
}

func TestSubscribeDeliversMessages(t *testing.T) {
	env := newRelayEnv(t)

	received := make(chan domain.Message, 8)
	c := newConnectedClient(t, env, nil)
	require.NoError(t, c.Subscribe("/stt/transcript", func(msg domain.Message) {
		received <- msg
	}))

	// Give the subscribe frame time to land before publishing.
	require.Eventually(t, func() bool {
		return env.bus.Stats().Subscriptions == 1
	}, time.Second, time.Millisecond)

	_, err := env.bus.Publish("/stt/transcript", "stt", json.RawMessage(`{"text":"hello"}`))
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "/stt/transcript", msg.Topic)
		assert.Equal(t, uint64(1), msg.Sequence)
		assert.JSONEq(t, `{"text":"hello"}`, string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestSubscribeBeforeConnect(t *testing.T) {
	env := newRelayEnv(t)

	received := make(chan domain.Message, 8)

	opts := DefaultOptions()
	opts.CandidateURLs = []url.URL{env.url}
	opts.AutoReconnect = false

	c := New(opts)
	require.NoError(t, c.Subscribe("/slam/pose", func(msg domain.Message) {
		received <- msg
	}))

	require.NoError(t, c.Connect())
	t.Cleanup(func() { c.Disconnect() })

	require.Eventually(t, func() bool {
		return env.bus.Stats().Subscriptions == 1
	}, time.Second, time.Millisecond)

	_, err := env.bus.Publish("/slam/pose", "slam", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "/slam/pose", msg.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestPublishReachesBus(t *testing.T) {
	env := newRelayEnv(t)

	c := newConnectedClient(t, env, nil)
	require.NoError(t, c.Publish("/control/cmd", map[string]string{"action": "stop"}))

	require.Eventually(t, func() bool {
		return len(env.bus.History("/control/cmd", 0)) == 1
	}, time.Second, time.Millisecond)

	history := env.bus.History("/control/cmd", 0)
	assert.JSONEq(t, `{"action":"stop"}`, string(history[0].Payload))
}

func TestServiceClientHeartbeats(t *testing.T) {
	env := newRelayEnv(t)

	c := newConnectedClient(t, env, func(o *Options) {
		o.ServiceID = "sensors"
	})
	require.NoError(t, c.Heartbeat(domain.HeartbeatMeta{Port: 5005}))

	require.Eventually(t, func() bool {
		desc, err := env.registry.Get("sensors")
		return err == nil && desc.Status == domain.StatusUp && desc.Port == 5005
	}, time.Second, time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	env := newRelayEnv(t)

	received := make(chan domain.Message, 8)
	c := newConnectedClient(t, env, nil)
	require.NoError(t, c.Subscribe("/tts/audio", func(msg domain.Message) {
		received <- msg
	}))

	require.Eventually(t, func() bool {
		return env.bus.Stats().Subscriptions == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, c.Unsubscribe("/tts/audio"))

	require.Eventually(t, func() bool {
		return env.bus.Stats().Subscriptions == 0
	}, time.Second, time.Millisecond)
}

func TestDisconnect(t *testing.T) {
	env := newRelayEnv(t)

	c := newConnectedClient(t, env, nil)
	require.True(t, c.IsConnected())

	require.NoError(t, c.Disconnect())
	assert.False(t, c.IsConnected())

	assert.ErrorIs(t, c.Publish("/a", "x"), domain.ErrConnClosed)
}
