// Package reliability assigns sequence numbers to outgoing packets,
// retransmits them a bounded number of times until acknowledged, and
// suppresses duplicate delivery of already-seen inbound sequences.
package reliability

import (
	"sync"
	"time"

	"github.com/corvusnet/reliablelink/pkg/config"
	"github.com/corvusnet/reliablelink/pkg/carrier"
	"github.com/corvusnet/reliablelink/pkg/logger"
	"github.com/corvusnet/reliablelink/pkg/wire"
)

// Inbound is what HandleInbound returns for a successfully decoded,
// non-ACK packet.
type Inbound struct {
	Sequence    uint32
	Flags       wire.Flags
	Payload     []byte
	IsDuplicate bool
}

// Engine implements §4.2 of the protocol: sequencing, bounded
// retransmission, ACK handling, and duplicate suppression. It guards its
// own state with an internal mutex, so the caller, the carrier and the
// retransmission timers may call into it from different goroutines;
// carrier sends and registered hooks run outside that lock.
type Engine struct {
	mu sync.Mutex

	cfg     config.Config
	carrier carrier.Carrier
	log     *logger.TaggedLogger

	nextSequence uint32
	outstanding  map[uint32]*outstandingPacket
	window       *receiveWindow

	onExhausted     func(sequence uint32)
	onSent          func(sequence uint32)
	onRetransmitted func(sequence uint32)
	onAcked         func(sequence uint32)
}

// New constructs an Engine bound to carrier, using cfg for retransmission
// timing/budget and receive-window sizing. log may be nil, in which case
// a logger tagged "reliability" is used.
func New(cfg config.Config, c carrier.Carrier, log *logger.TaggedLogger) *Engine {
	if log == nil {
		log = logger.Tagged("reliability")
	}
	return &Engine{
		cfg:         cfg,
		carrier:     c,
		log:         log,
		outstanding: make(map[uint32]*outstandingPacket),
		window:      newReceiveWindow(cfg.ReceiveWindowCapacity),
	}
}

// OnExhausted registers a callback invoked whenever an outstanding
// packet's retransmission budget is exhausted and the entry is dropped.
// Used by pkg/metrics to count the event; purely observational, it does
// not change connection state (per spec.md §7).
func (e *Engine) OnExhausted(fn func(sequence uint32)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onExhausted = fn
}

// OnSent registers a callback invoked whenever a non-ACK packet is handed
// to the carrier for the first time. Used by pkg/metrics to count sent
// packets and sample the buffered-amount gauge.
func (e *Engine) OnSent(fn func(sequence uint32)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSent = fn
}

// OnRetransmitted registers a callback invoked whenever an outstanding
// packet is resent by its retransmission timer.
func (e *Engine) OnRetransmitted(fn func(sequence uint32)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRetransmitted = fn
}

// OnAcked registers a callback invoked whenever an outstanding packet's
// matching ACK arrives and its entry is cancelled.
func (e *Engine) OnAcked(fn func(sequence uint32)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAcked = fn
}

// SendPacket allocates the next sequence number, encodes (sequence,
// flags, payload), transmits it once via the carrier, and — unless
// flags carries FlagAck — arms a retransmission timer.
func (e *Engine) SendPacket(payload []byte, flags wire.Flags) (uint32, error) {
	e.mu.Lock()
	sequence := e.nextSequence
	e.nextSequence++
	encoded := wire.Encode(sequence, flags, payload)
	e.mu.Unlock()

	if err := e.carrier.Send(encoded, nil); err != nil {
		return sequence, err
	}

	if flags.Has(wire.FlagAck) {
		return sequence, nil
	}

	e.mu.Lock()
	e.arm(sequence, encoded)
	onSent := e.onSent
	e.mu.Unlock()

	if onSent != nil {
		onSent(sequence)
	}
	return sequence, nil
}

// arm records an outstanding entry for sequence and schedules its first
// retransmission timer tick. Must be called with e.mu held.
func (e *Engine) arm(sequence uint32, encoded []byte) {
	entry := &outstandingPacket{sequence: sequence, encoded: encoded}
	entry.timer = time.AfterFunc(e.cfg.RetransmissionTimeout, func() {
		e.retransmit(sequence)
	})
	e.outstanding[sequence] = entry
}

// retransmit fires on a packet's retransmission timer. If the packet's
// budget is exhausted, the entry is dropped silently; otherwise it is
// resent unchanged and the timer is re-armed.
func (e *Engine) retransmit(sequence uint32) {
	e.mu.Lock()
	entry, ok := e.outstanding[sequence]
	if !ok {
		e.mu.Unlock()
		return
	}

	if entry.attempts >= e.cfg.MaxRetransmissionAttempts {
		delete(e.outstanding, sequence)
		onExhausted := e.onExhausted
		e.mu.Unlock()
		e.log.Debug("retransmission budget exhausted for sequence %d, dropping", sequence)
		if onExhausted != nil {
			onExhausted(sequence)
		}
		return
	}

	entry.attempts++
	encoded := entry.encoded
	entry.timer = time.AfterFunc(e.cfg.RetransmissionTimeout, func() {
		e.retransmit(sequence)
	})
	attempts := entry.attempts
	onRetransmitted := e.onRetransmitted
	e.mu.Unlock()

	e.log.Debug("retransmitting sequence %d (attempt %d/%d)", sequence, attempts, e.cfg.MaxRetransmissionAttempts)
	if err := e.carrier.Send(encoded, nil); err != nil {
		e.log.Warn("retransmit send failed for sequence %d: %v", sequence, err)
	}
	if onRetransmitted != nil {
		onRetransmitted(sequence)
	}
}

// HandleInbound decodes data. A decode failure is a silent drop: it
// returns ok=false with no side effects. An ACK cancels the matching
// outstanding entry and also reports ok=false (ACKs are never delivered
// upstream). Any other decoded packet is deduplicated against the
// receive window, unconditionally ACKed, and returned for the caller
// (the connection state machine) to dispatch on its flags.
func (e *Engine) HandleInbound(data []byte) (in Inbound, ok bool) {
	hdr, payload, decoded := wire.Decode(data)
	if !decoded {
		return Inbound{}, false
	}

	if hdr.Flags.Has(wire.FlagAck) {
		e.mu.Lock()
		_, existed := e.outstanding[hdr.Sequence]
		if existed {
			e.outstanding[hdr.Sequence].cancel()
			delete(e.outstanding, hdr.Sequence)
		}
		onAcked := e.onAcked
		e.mu.Unlock()
		if existed && onAcked != nil {
			onAcked(hdr.Sequence)
		}
		return Inbound{}, false
	}

	e.mu.Lock()
	isDuplicate := e.window.Contains(hdr.Sequence)
	if !isDuplicate {
		e.window.Insert(hdr.Sequence)
	}
	e.mu.Unlock()

	ack := wire.EncodeACK(hdr.Sequence)
	if err := e.carrier.Send(ack, nil); err != nil {
		e.log.Warn("failed to send ACK for sequence %d: %v", hdr.Sequence, err)
	}

	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	return Inbound{
		Sequence:    hdr.Sequence,
		Flags:       hdr.Flags,
		Payload:     payloadCopy,
		IsDuplicate: isDuplicate,
	}, true
}

// BufferedAmount returns the total encoded byte size of all outstanding
// (unacknowledged, retransmission-eligible) packets.
func (e *Engine) BufferedAmount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := 0
	for _, entry := range e.outstanding {
		total += len(entry.encoded)
	}
	return total
}

// OutstandingCount reports how many packets are currently awaiting ACK.
func (e *Engine) OutstandingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.outstanding)
}

// Stop cancels every armed retransmission timer. Callers must invoke
// this on the terminal transition to CLOSED to avoid leaking timers
// (spec.md §5, §9).
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for seq, entry := range e.outstanding {
		entry.cancel()
		delete(e.outstanding, seq)
	}
}
