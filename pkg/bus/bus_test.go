package bus

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robolab/roverhub/pkg/domain"
)

func payload(s string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf("%q", s))
}

func drain(sub *Subscription) []domain.Message {
	var out []domain.Message
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestPublishAssignsSequencePerTopic(t *testing.T) {
	b := New(DefaultOptions())
	defer b.Close()

	seq1, err := b.Publish("/stt/transcript", "stt", payload("hello"))
	require.NoError(t, err)
	seq2, err := b.Publish("/stt/transcript", "stt", payload("world"))
	require.NoError(t, err)
	other, err := b.Publish("/llm/response", "llm", payload("hi"))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), seq1)
	assert.Equal(t, uint64(2), seq2)
	assert.Equal(t, uint64(1), other, "sequence numbers are per-topic")
}

func TestPublishWithZeroSubscribersSucceeds(t *testing.T) {
	b := New(DefaultOptions())
	defer b.Close()

	for i := 0; i < 500; i++ {
		_, err := b.Publish("/camera/status", "camera", payload("frame"))
		require.NoError(t, err)
	}
}

func TestSubscriberReceivesInOrder(t *testing.T) {
	b := New(DefaultOptions())
	defer b.Close()

	sub, err := b.Subscribe("conn-1", "/stt/transcript", SubscribeOptions{})
	require.NoError(t, err)

	const n = 50
	for i := 0; i < n; i++ {
		_, err := b.Publish("/stt/transcript", "stt", payload(fmt.Sprintf("msg-%d", i)))
		require.NoError(t, err)
	}

	got := drain(sub)
	require.Len(t, got, n)
	for i, msg := range got {
		assert.Equal(t, uint64(i+1), msg.Sequence)
	}
}

func TestTopicIsolation(t *testing.T) {
	b := New(DefaultOptions())
	defer b.Close()

	sttOnly, err := b.Subscribe("conn-1", "/stt/transcript", SubscribeOptions{})
	require.NoError(t, err)
	both1, err := b.Subscribe("conn-2", "/stt/transcript", SubscribeOptions{})
	require.NoError(t, err)
	both2, err := b.Subscribe("conn-2", "/llm/response", SubscribeOptions{})
	require.NoError(t, err)

	_, err = b.Publish("/stt/transcript", "stt", payload("hello"))
	require.NoError(t, err)
	_, err = b.Publish("/llm/response", "llm", payload("hi"))
	require.NoError(t, err)

	got := drain(sttOnly)
	require.Len(t, got, 1)
	assert.Equal(t, "/stt/transcript", got[0].Topic)

	assert.Len(t, drain(both1), 1)
	assert.Len(t, drain(both2), 1)
}

func TestReplayFromSequence(t *testing.T) {
	b := New(DefaultOptions())
	defer b.Close()

	for i := 0; i < 10; i++ {
		_, err := b.Publish("/slam/pose", "slam", payload(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
	}

	sub, err := b.Subscribe("conn-1", "/slam/pose", SubscribeOptions{FromSequence: 4})
	require.NoError(t, err)

	assert.False(t, sub.Gap, "sequence 4 is still buffered")

	got := drain(sub)
	require.Len(t, got, 7)
	for i, msg := range got {
		assert.Equal(t, uint64(i+4), msg.Sequence, "replay has no duplicates and no holes")
	}
}

func TestReplayAfterEvictionSignalsGap(t *testing.T) {
	opts := DefaultOptions()
	opts.HistorySize = 100
	opts.QueueSize = 200
	b := New(opts)
	defer b.Close()

	for i := 0; i < 1000; i++ {
		_, err := b.Publish("/camera/frames", "camera", payload("f"))
		require.NoError(t, err)
	}

	sub, err := b.Subscribe("conn-1", "/camera/frames", SubscribeOptions{FromSequence: 1})
	require.NoError(t, err)

	assert.True(t, sub.Gap, "requesting evicted history signals a gap")

	got := drain(sub)
	require.Len(t, got, 100, "only the buffered tail is replayed")
	assert.Equal(t, uint64(901), got[0].Sequence)
	assert.Equal(t, uint64(1000), got[99].Sequence)
}

func TestSlowSubscriberDropsOldestAndKeepsFlowing(t *testing.T) {
	opts := DefaultOptions()
	opts.HistorySize = 1000
	opts.QueueSize = 8
	b := New(opts)
	defer b.Close()

	sub, err := b.Subscribe("conn-1", "/sensor/imu", SubscribeOptions{})
	require.NoError(t, err)

	// The subscriber never reads while 20 messages arrive.
	for i := 0; i < 20; i++ {
		_, err := b.Publish("/sensor/imu", "sensor", payload(fmt.Sprintf("s%d", i)))
		require.NoError(t, err)
	}

	assert.Equal(t, int64(12), sub.Dropped())
	assert.Equal(t, int64(12), b.Stats().Dropped)

	got := drain(sub)
	require.Len(t, got, 8)
	assert.Equal(t, uint64(20), got[7].Sequence, "newest messages keep flowing")
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Sequence, got[i].Sequence, "order survives the drops")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(DefaultOptions())
	defer b.Close()

	_, err := b.Subscribe("conn-1", "/tts/audio", SubscribeOptions{})
	require.NoError(t, err)

	b.Unsubscribe("conn-1", "/tts/audio")
	b.Unsubscribe("conn-1", "/tts/audio")
	b.Unsubscribe("conn-1", "/never/subscribed")

	assert.Equal(t, 0, b.Stats().Subscriptions)
}

func TestUnsubscribeAllReleasesEverything(t *testing.T) {
	b := New(DefaultOptions())
	defer b.Close()

	_, err := b.Subscribe("conn-1", "/a", SubscribeOptions{})
	require.NoError(t, err)
	_, err = b.Subscribe("conn-1", "/b", SubscribeOptions{})
	require.NoError(t, err)
	_, err = b.Subscribe("conn-1", FirehoseTopic, SubscribeOptions{})
	require.NoError(t, err)
	keep, err := b.Subscribe("conn-2", "/a", SubscribeOptions{})
	require.NoError(t, err)

	b.UnsubscribeAll("conn-1")

	assert.Equal(t, 1, b.Stats().Subscriptions)

	_, err = b.Publish("/a", "svc", payload("x"))
	require.NoError(t, err)
	assert.Len(t, drain(keep), 1, "remaining subscriber is unaffected")
}

func TestFirehoseSeesEveryTopic(t *testing.T) {
	b := New(DefaultOptions())
	defer b.Close()

	sub, err := b.Subscribe("viewer", FirehoseTopic, SubscribeOptions{})
	require.NoError(t, err)

	_, err = b.Publish("/stt/transcript", "stt", payload("hello"))
	require.NoError(t, err)
	_, err = b.Publish("/llm/response", "llm", payload("hi"))
	require.NoError(t, err)

	got := drain(sub)
	require.Len(t, got, 2)
	assert.Equal(t, "/stt/transcript", got[0].Topic)
	assert.Equal(t, "/llm/response", got[1].Topic)
}

func TestHistoryAndRecent(t *testing.T) {
	b := New(DefaultOptions())
	defer b.Close()

	_, err := b.Publish("/a", "svc", payload("1"))
	require.NoError(t, err)
	_, err = b.Publish("/b", "svc", payload("2"))
	require.NoError(t, err)
	_, err = b.Publish("/a", "svc", payload("3"))
	require.NoError(t, err)

	assert.Len(t, b.History("/a", 0), 2)
	assert.Len(t, b.History("/missing", 0), 0)
	assert.Len(t, b.Recent(0), 3)
	assert.Len(t, b.Recent(2), 2)

	b.ClearRecent()
	assert.Len(t, b.Recent(0), 0)
	assert.Len(t, b.History("/a", 0), 2, "per-topic history survives clear")
}

func TestResubscribeReplacesQueue(t *testing.T) {
	b := New(DefaultOptions())
	defer b.Close()

	first, err := b.Subscribe("conn-1", "/a", SubscribeOptions{})
	require.NoError(t, err)

	second, err := b.Subscribe("conn-1", "/a", SubscribeOptions{})
	require.NoError(t, err)

	_, ok := <-first.C()
	assert.False(t, ok, "old queue is closed on resubscribe")

	_, err = b.Publish("/a", "svc", payload("x"))
	require.NoError(t, err)
	assert.Len(t, drain(second), 1)
	assert.Equal(t, 1, b.Stats().Subscriptions)
}

func TestClosedBusRejectsPublish(t *testing.T) {
	b := New(DefaultOptions())

	sub, err := b.Subscribe("conn-1", "/a", SubscribeOptions{})
	require.NoError(t, err)

	b.Close()

	_, ok := <-sub.C()
	assert.False(t, ok, "queues close on shutdown")

	_, err = b.Publish("/a", "svc", payload("x"))
	assert.ErrorIs(t, err, domain.ErrBusClosed)

	_, err = b.Subscribe("conn-2", "/a", SubscribeOptions{})
	assert.ErrorIs(t, err, domain.ErrBusClosed)
}
