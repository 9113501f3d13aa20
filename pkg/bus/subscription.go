package bus

import (
	"sync/atomic"

	"github.com/robolab/roverhub/pkg/domain"
)

// Subscription is a live attachment of a connection to a topic. Messages
// arrive on C in strict sequence order, subject to the documented
// drop-oldest policy under backpressure. C is closed on unsubscribe,
// connection teardown, or bus shutdown.
type Subscription struct {
	connID string
	topic  string
	ch     chan domain.Message
	bus    *Bus

	// Gap reports that part of the requested replay range had already been
	// evicted from the topic history when the subscription was created.
	Gap bool

	dropped atomic.Int64
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan domain.Message {
	return s.ch
}

// Topic returns the subscribed topic name.
func (s *Subscription) Topic() string {
	return s.topic
}

// ConnID returns the owning connection ID.
func (s *Subscription) ConnID() string {
	return s.connID
}

// Dropped returns how many messages this subscriber lost to backpressure.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Cancel detaches the subscription from the bus.
func (s *Subscription) Cancel() {
	s.bus.Unsubscribe(s.connID, s.topic)
}
