// Package conn implements the connection lifecycle state machine from
// §4.3 of the protocol: the SYN/FIN handshake, state-dependent operation
// validity, and the connection/closing timers.
package conn

import (
	"sync"
	"time"

	"github.com/corvusnet/reliablelink/pkg/carrier"
	"github.com/corvusnet/reliablelink/pkg/config"
	"github.com/corvusnet/reliablelink/pkg/logger"
	"github.com/corvusnet/reliablelink/pkg/reliability"
	"github.com/corvusnet/reliablelink/pkg/wire"
)

// State is one of the four connection lifecycle states.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Close codes per spec.md §6.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// CloseEvent describes why and how a connection ended.
type CloseEvent struct {
	Code     int
	Reason   string
	WasClean bool
}

// Listener receives lifecycle notifications from a Conn. The façade
// (pkg/channel) implements this to translate into its public callbacks.
type Listener interface {
	OnOpen()
	OnClose(CloseEvent)
}

// Conn drives the handshake/close state machine described in §4.3. It
// shares a single reliability.Engine with its owning façade: the engine
// is used both for DATA packets (sent by the façade directly) and for
// the reliable half of the FIN handshake.
type Conn struct {
	mu sync.Mutex

	cfg     config.Config
	carrier carrier.Carrier
	engine  *reliability.Engine
	listener Listener
	log     *logger.TaggedLogger

	state State

	connectionTimer *time.Timer
	closingTimer    *time.Timer
}

// New constructs a Conn. Start must be called to begin the handshake.
func New(cfg config.Config, c carrier.Carrier, engine *reliability.Engine, listener Listener, log *logger.TaggedLogger) *Conn {
	if log == nil {
		log = logger.Tagged("conn")
	}
	return &Conn{
		cfg:      cfg,
		carrier:  c,
		engine:   engine,
		listener: listener,
		log:      log,
		state:    StateConnecting,
	}
}

// Start transmits the initial SYN and arms the connection timer. Per
// §4.3, SYN bypasses the reliability engine entirely: it is sent as a
// raw buffer with sequence 0 and is never retransmitted by the engine.
func (c *Conn) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Debug("sending initial SYN, arming connection timer for %s", c.cfg.ConnectionTimeout)
	if err := c.carrier.Send(wire.EncodeSYN(), nil); err != nil {
		c.log.Warn("failed to send initial SYN: %v", err)
	}
	c.connectionTimer = time.AfterFunc(c.cfg.ConnectionTimeout, c.onConnectionTimeout)
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandleSYN processes a received SYN per §4.3's handshake transition. If
// still CONNECTING, the connection timer is cancelled, a reply SYN is
// sent, and the connection transitions to OPEN. If already OPEN, the SYN
// is assumed to be the peer retrying because it never observed our
// reply, so the reply SYN is resent but no further transition occurs.
func (c *Conn) HandleSYN() {
	c.mu.Lock()

	switch c.state {
	case StateConnecting:
		if c.connectionTimer != nil {
			c.connectionTimer.Stop()
		}
		c.state = StateOpen
		c.log.Debug("SYN received, transitioning CONNECTING -> OPEN")
		c.mu.Unlock()

		if err := c.carrier.Send(wire.EncodeSYN(), nil); err != nil {
			c.log.Warn("failed to send reply SYN: %v", err)
		}
		c.listener.OnOpen()
		return
	case StateOpen:
		c.mu.Unlock()
		if err := c.carrier.Send(wire.EncodeSYN(), nil); err != nil {
			c.log.Warn("failed to resend SYN: %v", err)
		}
		return
	default:
		c.mu.Unlock()
		return
	}
}

// HandleFIN processes a received FIN. From OPEN it is an unsolicited
// peer close; from CLOSING it is the peer's reply to our own close().
// Both land on CLOSED with a clean close.
func (c *Conn) HandleFIN() {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.log.Debug("FIN received, transitioning OPEN -> CLOSED")
		c.transitionToClosedLocked(CloseEvent{Code: CloseNormal, Reason: "", WasClean: true})
	case StateClosing:
		c.log.Debug("FIN received, transitioning CLOSING -> CLOSED")
		c.transitionToClosedLocked(CloseEvent{Code: CloseNormal, Reason: "", WasClean: true})
	default:
		c.mu.Unlock()
	}
}

// Close drives a local close request. It is a no-op if the connection is
// already CLOSING or CLOSED. Otherwise it sends a bare FIN and a reliable
// FIN (per §4.3/§9's deliberate double send), arms the closing timer, and
// transitions to CLOSING.
func (c *Conn) Close(code int, reason string) {
	c.mu.Lock()

	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return
	}

	if c.connectionTimer != nil {
		c.connectionTimer.Stop()
	}

	if code == 0 {
		code = CloseNormal
	}

	c.state = StateClosing
	c.log.Debug("local close() requested, transitioning -> CLOSING")
	c.closingTimer = time.AfterFunc(c.cfg.ConnectionTimeout, func() {
		c.onClosingTimeout(code, reason)
	})
	c.mu.Unlock()

	seq, err := c.engine.SendPacket(nil, wire.FlagFin)
	if err != nil {
		c.log.Warn("failed to send reliable FIN: %v", err)
	}
	if err := c.carrier.Send(wire.EncodeFIN(seq), nil); err != nil {
		c.log.Warn("failed to send bare FIN: %v", err)
	}
}

func (c *Conn) onConnectionTimeout() {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.log.Warn("connection timed out waiting for handshake")
	c.transitionToClosedLocked(CloseEvent{Code: CloseAbnormal, Reason: "Connection timeout", WasClean: false})
}

func (c *Conn) onClosingTimeout(code int, reason string) {
	c.mu.Lock()
	if c.state != StateClosing {
		c.mu.Unlock()
		return
	}
	c.log.Warn("closing timed out waiting for peer FIN")
	c.transitionToClosedLocked(CloseEvent{Code: code, Reason: reason, WasClean: false})
}

// transitionToClosedLocked moves to CLOSED, cancels any armed timer, and
// notifies the listener. Must be called with c.mu held; it releases the
// lock before invoking the listener so the listener may safely call back
// into the Conn.
func (c *Conn) transitionToClosedLocked(ev CloseEvent) {
	if c.connectionTimer != nil {
		c.connectionTimer.Stop()
	}
	if c.closingTimer != nil {
		c.closingTimer.Stop()
	}
	c.state = StateClosed
	c.mu.Unlock()

	c.listener.OnClose(ev)
}

// Stop cancels any timers still armed. Idempotent; safe to call after
// CLOSED as a teardown safety net (spec.md §5, §9).
func (c *Conn) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectionTimer != nil {
		c.connectionTimer.Stop()
	}
	if c.closingTimer != nil {
		c.closingTimer.Stop()
	}
}
