package bus

import (
	"github.com/robolab/roverhub/pkg/domain"
)

// ring is a fixed-capacity message buffer that evicts the oldest entry when
// full. Not safe for concurrent use; the bus lock guards it.
type ring struct {
	buf   []domain.Message
	start int
	count int
}

func newRing(capacity int) *ring {
	return &ring{
		buf: make([]domain.Message, capacity),
	}
}

func (r *ring) push(msg domain.Message) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = msg
		r.count++
		return
	}
	r.buf[r.start] = msg
	r.start = (r.start + 1) % len(r.buf)
}

// at returns the i-th oldest buffered message.
func (r *ring) at(i int) domain.Message {
	return r.buf[(r.start+i)%len(r.buf)]
}

// tail returns up to count newest messages, oldest first.
func (r *ring) tail(count int) []domain.Message {
	if count <= 0 || count > r.count {
		count = r.count
	}
	out := make([]domain.Message, 0, count)
	for i := r.count - count; i < r.count; i++ {
		out = append(out, r.at(i))
	}
	return out
}

// since returns buffered messages with sequence >= seq, oldest first. The
// second return value reports whether messages in the requested range had
// already been evicted.
func (r *ring) since(seq uint64) ([]domain.Message, bool) {
	if r.count == 0 {
		// Nothing buffered: a gap only if the caller asked for history
		// that predates eviction, which we cannot distinguish from a
		// fresh topic here, so report no gap for an empty buffer.
		return nil, false
	}

	gap := r.at(0).Sequence > seq

	out := make([]domain.Message, 0, r.count)
	for i := 0; i < r.count; i++ {
		if msg := r.at(i); msg.Sequence >= seq {
			out = append(out, msg)
		}
	}
	return out, gap
}
