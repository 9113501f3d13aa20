// Package bus implements the topic-based message bus at the center of the
// relay: ordered per-topic publication with bounded history, replay with
// explicit gap signaling, and per-subscriber bounded queues that decouple
// slow consumers from publishers.
package bus

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robolab/roverhub/internal/logging"
	"github.com/robolab/roverhub/pkg/domain"
	"github.com/robolab/roverhub/pkg/metrics"
)

// FirehoseTopic is the reserved topic name that subscribes to every topic.
const FirehoseTopic = "*"

// Options configures a Bus.
type Options struct {
	// HistorySize is the per-topic ring buffer capacity.
	HistorySize int

	// QueueSize is the per-subscriber outbound queue capacity.
	QueueSize int

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the default bus options.
func DefaultOptions() Options {
	return Options{
		HistorySize: 100,
		QueueSize:   256,
	}
}

// Bus is the pub/sub core. All bookkeeping happens in short lock-guarded
// critical sections; nothing inside the bus performs I/O.
type Bus struct {
	mu       sync.RWMutex
	topics   map[string]*topic
	firehose map[string]*Subscription
	recent   *ring
	closed   bool
	opts     Options

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Topics        int   `json:"topics"`
	Subscriptions int   `json:"subscriptions"`
	Published     int64 `json:"messages_published"`
	Delivered     int64 `json:"messages_delivered"`
	Dropped       int64 `json:"messages_dropped"`
}

// New creates a new bus.
func New(opts Options) *Bus {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultOptions().HistorySize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}

	return &Bus{
		topics:   make(map[string]*topic),
		firehose: make(map[string]*Subscription),
		recent:   newRing(opts.HistorySize),
		opts:     opts,
	}
}

// Publish appends a message to the topic, assigns the next sequence number,
// and fans it out to current subscribers. It never blocks on slow
// subscribers and never fails for a topic with no subscribers.
func (b *Bus) Publish(topicName, source string, payload json.RawMessage) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, domain.ErrBusClosed
	}

	t := b.topic(topicName)
	t.seq++

	msg := domain.Message{
		Topic:     topicName,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now(),
		Sequence:  t.seq,
	}

	t.history.push(msg)
	b.recent.push(msg)
	b.published.Add(1)

	if b.opts.Metrics != nil {
		b.opts.Metrics.Published.WithLabelValues(topicName).Inc()
	}

	for _, sub := range t.subs {
		b.offer(sub, msg)
	}
	for _, sub := range b.firehose {
		b.offer(sub, msg)
	}

	return t.seq, nil
}

// SubscribeOptions controls replay behavior for a new subscription.
type SubscribeOptions struct {
	// FromSequence requests replay of buffered messages with sequence >=
	// FromSequence before live delivery. Zero means live delivery only.
	FromSequence uint64
}

// Subscribe registers connID on a topic. If replay is requested and part of
// the requested range has been evicted, the returned subscription carries
// Gap=true; the buffered remainder is still replayed in order.
func (b *Bus) Subscribe(connID, topicName string, opts SubscribeOptions) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, domain.ErrBusClosed
	}

	if topicName == FirehoseTopic {
		return b.subscribeFirehoseLocked(connID), nil
	}

	t := b.topic(topicName)

	if existing, ok := t.subs[connID]; ok {
		// Re-subscribe replaces the old queue so a reconnecting client
		// starts from its requested cursor.
		b.removeLocked(t, existing)
	}

	sub := &Subscription{
		connID: connID,
		topic:  topicName,
		ch:     make(chan domain.Message, b.opts.QueueSize),
		bus:    b,
	}

	if opts.FromSequence > 0 {
		replay, gap := t.history.since(opts.FromSequence)
		sub.Gap = gap
		for _, msg := range replay {
			b.offer(sub, msg)
		}
	}

	t.subs[connID] = sub

	if b.opts.Metrics != nil {
		b.opts.Metrics.Subscriptions.Inc()
	}

	return sub, nil
}

// Unsubscribe removes connID from the topic. It is idempotent.
func (b *Bus) Unsubscribe(connID, topicName string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if topicName == FirehoseTopic {
		b.removeFirehoseLocked(connID)
		return
	}

	t, ok := b.topics[topicName]
	if !ok {
		return
	}

	if sub, ok := t.subs[connID]; ok {
		b.removeLocked(t, sub)
	}
}

// UnsubscribeAll removes every subscription held by connID. Called by the
// gateway on connection teardown so no bus-side resources outlive the
// connection.
func (b *Bus) UnsubscribeAll(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range b.topics {
		if sub, ok := t.subs[connID]; ok {
			b.removeLocked(t, sub)
		}
	}
	b.removeFirehoseLocked(connID)
}

// History returns up to count buffered messages for a topic, oldest first.
func (b *Bus) History(topicName string, count int) []domain.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.topics[topicName]
	if !ok {
		return nil
	}
	return t.history.tail(count)
}

// Recent returns up to count recently published messages across all topics,
// oldest first. This backs the HTTP polling fallback.
func (b *Bus) Recent(count int) []domain.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.recent.tail(count)
}

// ClearRecent empties the cross-topic recent buffer. Per-topic history and
// sequence numbers are unaffected.
func (b *Bus) ClearRecent() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recent = newRing(b.opts.HistorySize)
}

// Sequence returns the current sequence number for a topic, zero if the
// topic has never been published to.
func (b *Bus) Sequence(topicName string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if t, ok := b.topics[topicName]; ok {
		return t.seq
	}
	return 0
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := len(b.firehose)
	for _, t := range b.topics {
		subs += len(t.subs)
	}

	return Stats{
		Topics:        len(b.topics),
		Subscriptions: subs,
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		Dropped:       b.dropped.Load(),
	}
}

// Close stops the bus and closes all subscriber queues.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, t := range b.topics {
		for _, sub := range t.subs {
			b.removeLocked(t, sub)
		}
	}
	for connID := range b.firehose {
		b.removeFirehoseLocked(connID)
	}
}

// topic returns the named topic, creating it on first use. Caller holds the
// write lock.
func (b *Bus) topic(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{
			name:    name,
			history: newRing(b.opts.HistorySize),
			subs:    make(map[string]*Subscription),
		}
		b.topics[name] = t
	}
	return t
}

// offer queues a message on a subscriber without blocking. On overflow the
// oldest queued message is dropped and counted; newer messages keep flowing.
// Caller holds the write lock, so sends never race with queue closure.
func (b *Bus) offer(sub *Subscription, msg domain.Message) {
	select {
	case sub.ch <- msg:
		b.delivered.Add(1)
		if b.opts.Metrics != nil {
			b.opts.Metrics.Delivered.Inc()
		}
		return
	default:
	}

	select {
	case <-sub.ch:
		b.dropped.Add(1)
		sub.dropped.Add(1)
		if b.opts.Metrics != nil {
			b.opts.Metrics.Dropped.WithLabelValues(sub.topic).Inc()
		}
	default:
	}

	select {
	case sub.ch <- msg:
		b.delivered.Add(1)
		if b.opts.Metrics != nil {
			b.opts.Metrics.Delivered.Inc()
		}
	default:
	}
}

// removeLocked detaches a subscription and closes its queue. Caller holds
// the write lock.
func (b *Bus) removeLocked(t *topic, sub *Subscription) {
	if _, ok := t.subs[sub.connID]; !ok {
		return
	}
	delete(t.subs, sub.connID)
	close(sub.ch)

	if b.opts.Metrics != nil {
		b.opts.Metrics.Subscriptions.Dec()
	}
}

// subscribeFirehoseLocked attaches connID to every topic at once. Firehose
// subscriptions are live-only; backlog is served by Recent. Caller holds the
// write lock.
func (b *Bus) subscribeFirehoseLocked(connID string) *Subscription {
	if existing, ok := b.firehose[connID]; ok {
		delete(b.firehose, connID)
		close(existing.ch)
		if b.opts.Metrics != nil {
			b.opts.Metrics.Subscriptions.Dec()
		}
	}

	sub := &Subscription{
		connID: connID,
		topic:  FirehoseTopic,
		ch:     make(chan domain.Message, b.opts.QueueSize),
		bus:    b,
	}
	b.firehose[connID] = sub

	if b.opts.Metrics != nil {
		b.opts.Metrics.Subscriptions.Inc()
	}

	return sub
}

// removeFirehoseLocked detaches a firehose subscription. Caller holds the
// write lock.
func (b *Bus) removeFirehoseLocked(connID string) {
	sub, ok := b.firehose[connID]
	if !ok {
		return
	}
	delete(b.firehose, connID)
	close(sub.ch)

	if b.opts.Metrics != nil {
		b.opts.Metrics.Subscriptions.Dec()
	}
}

// topic holds per-topic state: the sequence counter, bounded history, and
// current subscribers. Owned exclusively by the bus.
type topic struct {
	name    string
	seq     uint64
	history *ring
	subs    map[string]*Subscription
}
