// Package mock provides a configurable unreliable Carrier for tests:
// loss, corruption, delay, and reordering are all independently tunable,
// and two Carriers can be wired pair-wise to simulate a link between two
// endpoints, per spec.md §2's required test collaborator.
package mock

import (
	"math/rand"
	"sync"
	"time"

	"github.com/corvusnet/reliablelink/pkg/carrier"
)

// Options configures a Carrier's fault injection. All probabilities are
// in [0, 1]; Rand may be nil, in which case New seeds a fresh source
// from the current time.
type Options struct {
	LossProbability       float64
	CorruptionProbability float64
	Delay                 time.Duration
	// ReorderProbability, when a buffer would otherwise be delivered
	// immediately, instead holds it back to be delivered only after the
	// *next* buffer sent on this Carrier — a simple one-slot swap,
	// sufficient to exercise out-of-order delivery without a
	// general-purpose scheduler.
	ReorderProbability float64
	Rand               *rand.Rand
}

// Carrier is a mock carrier.Carrier representing one endpoint's half of
// a simulated link. Attach the local endpoint with SetReceiver, then
// wire the link with Connect.
type Carrier struct {
	mu       sync.Mutex
	opts     Options
	rng      *rand.Rand
	receiver carrier.Receiver
	remote   *Carrier

	held      []byte // single-slot holdback for reordering
	sentCount int
}

// New constructs a Carrier with the given fault-injection options.
func New(opts Options) *Carrier {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Carrier{opts: opts, rng: rng}
}

// SetReceiver attaches the local endpoint that inbound buffers — after
// crossing the simulated link — are delivered to.
func (c *Carrier) SetReceiver(r carrier.Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiver = r
}

// Connect wires a and b to deliver to each other's attached Receiver,
// simulating a single link shared by two endpoints — the pair-wise mode
// required by §2.
func Connect(a, b *Carrier) {
	a.mu.Lock()
	a.remote = b
	a.mu.Unlock()

	b.mu.Lock()
	b.remote = a
	b.mu.Unlock()
}

// Send transmits data across the link to whatever Receiver is attached
// to the remote Carrier, applying loss, corruption, delay, and
// reordering per Options. onComplete, if set, is invoked once the buffer
// has been handed off to the simulated link, not once actually
// delivered.
func (c *Carrier) Send(data []byte, onComplete func()) error {
	c.mu.Lock()
	c.sentCount++
	remote := c.remote
	rng := c.rng

	cp := make([]byte, len(data))
	copy(cp, data)

	if rng.Float64() < c.opts.LossProbability {
		c.mu.Unlock()
		if onComplete != nil {
			onComplete()
		}
		return nil
	}

	if rng.Float64() < c.opts.CorruptionProbability && len(cp) > 0 {
		idx := rng.Intn(len(cp))
		cp[idx] ^= 0xFF
	}

	reorder := rng.Float64() < c.opts.ReorderProbability
	delay := c.opts.Delay
	c.mu.Unlock()

	deliver := func(buf []byte) {
		if remote == nil {
			return
		}
		remote.mu.Lock()
		r := remote.receiver
		remote.mu.Unlock()
		if r != nil {
			r.OnReceive(buf)
		}
	}

	switch {
	case reorder:
		c.mu.Lock()
		prev := c.held
		c.held = cp
		c.mu.Unlock()
		if prev != nil {
			deliver(prev)
		}
	case delay > 0:
		time.AfterFunc(delay, func() { deliver(cp) })
	default:
		deliver(cp)
	}

	if onComplete != nil {
		onComplete()
	}
	return nil
}

// Flush delivers any buffer currently held back for reordering. Tests
// that enable ReorderProbability should call Flush once they are done
// sending so the last held buffer isn't lost forever.
func (c *Carrier) Flush() {
	c.mu.Lock()
	held := c.held
	c.held = nil
	remote := c.remote
	c.mu.Unlock()

	if held == nil || remote == nil {
		return
	}
	remote.mu.Lock()
	r := remote.receiver
	remote.mu.Unlock()
	if r != nil {
		r.OnReceive(held)
	}
}

// SentCount returns how many buffers Send has been called with,
// regardless of whether they were subsequently dropped.
func (c *Carrier) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sentCount
}
