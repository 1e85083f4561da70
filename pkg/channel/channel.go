// Package channel exposes the caller-facing reliable channel façade
// described in §4.5 of the protocol: event callbacks, state,
// bufferedAmount, and the send/close operations, glued to an injected
// unreliable Carrier.
package channel

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/corvusnet/reliablelink/pkg/carrier"
	"github.com/corvusnet/reliablelink/pkg/config"
	"github.com/corvusnet/reliablelink/pkg/conn"
	"github.com/corvusnet/reliablelink/pkg/logger"
	"github.com/corvusnet/reliablelink/pkg/message"
	"github.com/corvusnet/reliablelink/pkg/metrics"
	"github.com/corvusnet/reliablelink/pkg/reliability"
	"github.com/corvusnet/reliablelink/pkg/wire"
)

// BinaryMode selects the representation the message event delivers its
// data in. Go has no foreign "Blob" object the way a browser host does;
// both modes currently deliver a []byte, but the field is kept for API
// parity with the source contract.
type BinaryMode string

const (
	BinaryModeBytes BinaryMode = "bytes"
	BinaryModeBlob  BinaryMode = "blob"
)

// State re-exports the connection lifecycle state.
type State = conn.State

const (
	StateConnecting = conn.StateConnecting
	StateOpen       = conn.StateOpen
	StateClosing    = conn.StateClosing
	StateClosed     = conn.StateClosed
)

// CloseEvent re-exports the close notification shape.
type CloseEvent = conn.CloseEvent

// Errors returned synchronously from Send, per spec.md §7.
var (
	ErrNotOpen     = errors.New("channel: not open")
	ErrUnsupported = errors.New("channel: unsupported value type")
)

// Option configures optional Channel behaviour at construction time.
type Option func(*Channel)

// WithBinaryMode sets the initial BinaryMode (default BinaryModeBytes).
func WithBinaryMode(mode BinaryMode) Option {
	return func(ch *Channel) { ch.binaryMode = mode }
}

// WithLogTag overrides the tag used to correlate this Channel's log
// lines (default: the first 8 characters of its generated connection id).
func WithLogTag(tag string) Option {
	return func(ch *Channel) { ch.log = logger.Tagged(tag) }
}

// WithExhaustionHook registers fn to be called whenever an outstanding
// packet's retransmission budget is exhausted. Intended for
// pkg/metrics, but usable by any caller wanting that observability hook.
func WithExhaustionHook(fn func(sequence uint32)) Option {
	return func(ch *Channel) { ch.exhaustionHook = fn }
}

// WithCollector wires a metrics.Collector to this Channel's lifecycle:
// retransmission exhaustion, duplicate suppression, and connection-state
// transitions are all reported under this Channel's id.
func WithCollector(collector *metrics.Collector) Option {
	return func(ch *Channel) { ch.collector = collector }
}

// Channel is the reliable, message-oriented channel façade. It owns one
// reliability.Engine and one conn.Conn, and delegates fragmentation to
// pkg/message.
type Channel struct {
	mu sync.Mutex

	id  uuid.UUID
	cfg config.Config
	log *logger.TaggedLogger

	carrier carrier.Carrier
	engine  *reliability.Engine
	conn    *conn.Conn

	fragmenter  *message.Fragmenter
	reassembler *message.Reassembler

	binaryMode BinaryMode

	collector      *metrics.Collector
	exhaustionHook func(sequence uint32)

	onOpen    func()
	onMessage func([]byte)
	onError   func(error)
	onClose   func(CloseEvent)
}

// New constructs a Channel bound to c and immediately begins the
// handshake: SYN is transmitted and the connection timer is armed
// before New returns. Callers must attach the Channel as c's Receiver
// (via whatever mechanism the concrete Carrier implementation exposes)
// either before or after calling New — inbound delivery before the
// Channel exists is simply impossible to receive, so ordering only
// matters for the caller's own carrier wiring, not for correctness here.
func New(cfg config.Config, c carrier.Carrier, opts ...Option) *Channel {
	id := uuid.New()

	ch := &Channel{
		id:         id,
		cfg:        cfg,
		log:        logger.Tagged(id.String()[:8]),
		carrier:    c,
		binaryMode: BinaryModeBytes,
	}

	for _, opt := range opts {
		opt(ch)
	}

	ch.engine = reliability.New(cfg, c, ch.log)

	channelID := ch.id.String()
	ch.engine.OnExhausted(func(sequence uint32) {
		if ch.collector != nil {
			ch.collector.IncRetransmissionExhausted(channelID)
			ch.collector.SetBufferedAmount(channelID, ch.engine.BufferedAmount())
		}
		if ch.exhaustionHook != nil {
			ch.exhaustionHook(sequence)
		}
	})
	ch.engine.OnSent(func(sequence uint32) {
		if ch.collector != nil {
			ch.collector.IncPacketsSent(channelID)
			ch.collector.SetBufferedAmount(channelID, ch.engine.BufferedAmount())
		}
	})
	ch.engine.OnRetransmitted(func(sequence uint32) {
		if ch.collector != nil {
			ch.collector.IncPacketsRetransmitted(channelID)
			ch.collector.SetBufferedAmount(channelID, ch.engine.BufferedAmount())
		}
	})
	ch.engine.OnAcked(func(sequence uint32) {
		if ch.collector != nil {
			ch.collector.IncPacketsAcked(channelID)
			ch.collector.SetBufferedAmount(channelID, ch.engine.BufferedAmount())
		}
	})
	ch.fragmenter = message.NewFragmenter(cfg.MaxPacketPayloadSize)
	ch.reassembler = message.NewReassembler(cfg.AbandonedFragmentBufferTimeout)
	ch.conn = conn.New(cfg, c, ch.engine, connListener{ch}, ch.log)

	if ch.collector != nil {
		ch.collector.SetConnectionState(ch.id.String(), int(StateConnecting))
	}
	ch.conn.Start()
	return ch
}

// ID returns the connection-correlation id stamped on this Channel.
func (ch *Channel) ID() uuid.UUID { return ch.id }

// Receiver returns the carrier.Receiver a concrete Carrier implementation
// (e.g. pkg/carrier/mock or pkg/carrier/udp) should be given via
// SetReceiver to deliver inbound buffers to this Channel.
func (ch *Channel) Receiver() carrier.Receiver { return receiverAdapter{ch} }

// State returns the current lifecycle state.
func (ch *Channel) State() State { return ch.conn.State() }

// BufferedAmount returns the total encoded byte size of packets sent but
// not yet acknowledged.
func (ch *Channel) BufferedAmount() int { return ch.engine.BufferedAmount() }

// BinaryMode returns the current message-representation mode.
func (ch *Channel) BinaryMode() BinaryMode {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.binaryMode
}

// SetBinaryMode updates the message-representation mode.
func (ch *Channel) SetBinaryMode(mode BinaryMode) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.binaryMode = mode
}

// OnOpen registers the callback invoked once the handshake completes.
func (ch *Channel) OnOpen(fn func()) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onOpen = fn
}

// OnMessage registers the callback invoked once per fully reassembled
// inbound message.
func (ch *Channel) OnMessage(fn func([]byte)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onMessage = fn
}

// OnError registers the callback invoked when the carrier reports a
// transport error. State is unaffected.
func (ch *Channel) OnError(fn func(error)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onError = fn
}

// OnClose registers the callback invoked exactly once, on the terminal
// transition to CLOSED.
func (ch *Channel) OnClose(fn func(CloseEvent)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onClose = fn
}

// Send submits value — a string (UTF-8 encoded) or a []byte (forwarded
// unchanged) — for reliable delivery. It fails synchronously with
// ErrNotOpen if the channel is not OPEN, or ErrUnsupported for any other
// value type (spec.md declares blob/foreign-object sends unimplemented).
func (ch *Channel) Send(value any) error {
	if ch.State() != StateOpen {
		return ErrNotOpen
	}

	var payload []byte
	switch v := value.(type) {
	case string:
		if !utf8.ValidString(v) {
			return ErrUnsupported
		}
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		return ErrUnsupported
	}

	ch.mu.Lock()
	fragments, err := ch.fragmenter.Split(payload)
	ch.mu.Unlock()
	if err != nil {
		return err
	}

	for _, fragment := range fragments {
		if _, err := ch.engine.SendPacket(fragment, wire.FlagData); err != nil {
			return fmt.Errorf("channel: send: %w", err)
		}
	}
	return nil
}

// Close drives a graceful close. It is a no-op if the channel is already
// CLOSING or CLOSED. code and reason, if non-zero/non-empty, are used as
// the close code/reason should the peer never reply before the closing
// timer expires; a clean close (peer FIN observed) always reports
// code=1000.
func (ch *Channel) Close(code int, reason string) {
	ch.conn.Close(code, reason)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.collector != nil && ch.conn.State() == StateClosing {
		ch.collector.SetConnectionState(ch.id.String(), int(StateClosing))
	}
}

// OnReceive is the core's sole inbound entry point (the OnReceive half
// of carrier.Receiver; see receiverAdapter below for why Channel itself
// only partially implements that interface). Per §4.3's handshake
// design, a SYN is recognised and dispatched before the packet ever
// reaches the reliability engine — it carries a fixed sequence of 0 and
// is never ACKed or deduplicated, which would otherwise collide with the
// peer's real first DATA/FIN sequence (also 0). Everything else flows
// through the engine for dedup + ACK, then the connection state
// machine, then (for DATA) the reassembler.
func (ch *Channel) OnReceive(data []byte) {
	hdr, _, ok := wire.Decode(data)
	if !ok {
		return // silent decode failure, per §4.1/§7
	}

	if hdr.Flags.Has(wire.FlagSyn) {
		ch.conn.HandleSYN()
		return
	}

	in, ok := ch.engine.HandleInbound(data)
	if !ok {
		return // ACK or decode failure; nothing further to dispatch
	}

	if in.Flags.Has(wire.FlagFin) {
		ch.conn.HandleFIN()
	}

	if in.Flags.Has(wire.FlagData) {
		if in.IsDuplicate {
			if ch.collector != nil {
				ch.collector.IncDuplicateSuppressed(ch.id.String())
			}
			return
		}
		ch.deliverData(in.Payload)
	}
}

func (ch *Channel) deliverData(payload []byte) {
	ch.mu.Lock()
	msg, complete := ch.reassembler.Feed(payload)
	onMessage := ch.onMessage
	ch.mu.Unlock()

	if complete && onMessage != nil {
		onMessage(msg)
	}
}

// receiverAdapter adapts a Channel to carrier.Receiver. It exists as a
// separate type because carrier.Receiver's OnError(error) would
// otherwise collide with Channel's own public OnError(func(error))
// callback-registration method of the same name — Go has no
// overloading, so the two roles cannot share a receiver type. OnReceive
// has no such clash and is kept directly on *Channel (tests and
// cmd/reliablelinkd call it either way); receiverAdapter.OnReceive
// simply forwards to it so the adapter alone is a complete
// carrier.Receiver for SetReceiver-style wiring.
type receiverAdapter struct{ ch *Channel }

func (r receiverAdapter) OnReceive(data []byte) { r.ch.OnReceive(data) }

// OnError implements carrier.Receiver: forwarded verbatim to the
// registered error callback. The core does not change state in
// response to a transport error (spec.md §7).
func (r receiverAdapter) OnError(err error) {
	ch := r.ch
	ch.mu.Lock()
	onError := ch.onError
	ch.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

// connListener adapts a Channel to conn.Listener. It exists as a
// separate type because conn.Listener's OnOpen()/OnClose(CloseEvent)
// would otherwise collide with Channel's own public OnOpen(func())/
// OnClose(func(CloseEvent)) callback-registration methods of the same
// name — Go has no overloading, so the two roles cannot share a
// receiver type.
type connListener struct{ ch *Channel }

// OnOpen implements conn.Listener: invoked once the handshake completes.
func (l connListener) OnOpen() {
	ch := l.ch
	if ch.collector != nil {
		ch.collector.SetConnectionState(ch.id.String(), int(StateOpen))
		ch.collector.SetBufferedAmount(ch.id.String(), ch.engine.BufferedAmount())
	}
	ch.mu.Lock()
	onOpen := ch.onOpen
	ch.mu.Unlock()
	if onOpen != nil {
		onOpen()
	}
}

// OnClose implements conn.Listener: invoked exactly once, on the
// terminal transition to CLOSED. Any outstanding engine retransmission
// timers are cancelled here, since the connection is torn down for
// good.
func (l connListener) OnClose(ev conn.CloseEvent) {
	ch := l.ch
	ch.engine.Stop()

	ch.mu.Lock()
	if ch.collector != nil {
		ch.collector.SetConnectionState(ch.id.String(), int(StateClosed))
		ch.collector.SetBufferedAmount(ch.id.String(), ch.engine.BufferedAmount())
	}
	onClose := ch.onClose
	ch.mu.Unlock()
	if onClose != nil {
		onClose(ev)
	}
}
