package message

import (
	"time"

	"github.com/corvusnet/reliablelink/pkg/wire"
)

// buffer tracks the fragments received so far for one message id.
type buffer struct {
	total       int // -1 until the last fragment is observed
	fragments   map[uint8][]byte
	lastTouched time.Time
}

// Reassembler buffers incoming fragments until a complete message can be
// delivered. A DATA payload shorter than wire.FragmentHeaderSize is
// delivered directly with no fragment-header assumed; longer payloads are
// always parsed as fragment-header-prefixed, per §4.4.
type Reassembler struct {
	buffers map[uint32]*buffer

	// abandonedTimeout, if non-zero, drops a buffer that has gone this
	// long without a new fragment. Zero reproduces the source's "lives
	// forever" behaviour (§9's open question, resolved additively).
	abandonedTimeout time.Duration
	now              func() time.Time
}

// NewReassembler constructs a Reassembler. abandonedTimeout of 0 disables
// eviction of incomplete buffers entirely.
func NewReassembler(abandonedTimeout time.Duration) *Reassembler {
	return &Reassembler{
		buffers:          make(map[uint32]*buffer),
		abandonedTimeout: abandonedTimeout,
		now:              time.Now,
	}
}

// Feed processes one received DATA payload. It returns (message, true)
// once a message's complete fragment set (indices 0..total-1) has been
// gathered, concatenated in index order. Duplicate-indexed fragments
// overwrite the previously stored bytes for that index — harmless, since
// the reliability layer has already suppressed duplicate packet delivery
// before a payload ever reaches the reassembler.
func (r *Reassembler) Feed(payload []byte) (message []byte, complete bool) {
	if r.abandonedTimeout > 0 {
		r.evictAbandoned()
	}

	if len(payload) < wire.FragmentHeaderSize {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, true
	}

	hdr, rest, ok := wire.DecodeFragmentHeader(payload)
	if !ok {
		// Unreachable given the length check above, but fail closed
		// rather than panic on a malformed buffer.
		return nil, false
	}

	buf, exists := r.buffers[hdr.MessageID]
	if !exists {
		buf = &buffer{total: -1, fragments: make(map[uint8][]byte)}
		r.buffers[hdr.MessageID] = buf
	}
	buf.lastTouched = r.now()

	fragCopy := make([]byte, len(rest))
	copy(fragCopy, rest)
	buf.fragments[hdr.Index] = fragCopy

	if hdr.IsLast {
		buf.total = int(hdr.Index) + 1
	}

	if buf.total < 0 || len(buf.fragments) != buf.total {
		return nil, false
	}

	complete_ := make([]byte, 0)
	for i := 0; i < buf.total; i++ {
		frag, ok := buf.fragments[uint8(i)]
		if !ok {
			// Still missing an interior fragment despite having seen
			// the last-fragment bit and a matching count; wait for more.
			return nil, false
		}
		complete_ = append(complete_, frag...)
	}

	delete(r.buffers, hdr.MessageID)
	return complete_, true
}

// PendingCount returns the number of incomplete message buffers
// currently held, for observability/metrics.
func (r *Reassembler) PendingCount() int {
	return len(r.buffers)
}

func (r *Reassembler) evictAbandoned() {
	now := r.now()
	for id, buf := range r.buffers {
		if now.Sub(buf.lastTouched) > r.abandonedTimeout {
			delete(r.buffers, id)
		}
	}
}
