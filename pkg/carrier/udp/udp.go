// Package udp provides the concrete, production unreliable-carrier
// implementation: a fixed remote net.Addr over a net.PacketConn. It is
// the audio-modem carrier's real-world counterpart — everything above
// pkg/carrier only ever sees the Carrier/Receiver interfaces, so this
// package is interchangeable with pkg/carrier/mock without either side
// knowing the difference.
package udp

import (
	"net"
	"sync"

	"github.com/corvusnet/reliablelink/pkg/carrier"
	"github.com/corvusnet/reliablelink/pkg/logger"
)

const maxDatagramSize = 65507

// Carrier sends to, and reads from, one fixed remote address over a
// shared net.PacketConn. Multiple Carriers can share one PacketConn (one
// per remote peer) the way a listener demultiplexes by source address.
type Carrier struct {
	mu       sync.Mutex
	conn     net.PacketConn
	remote   net.Addr
	log      *logger.TaggedLogger
	receiver carrier.Receiver
}

// New wraps conn for sends/receives to/from remote. log may be nil.
func New(conn net.PacketConn, remote net.Addr, log *logger.TaggedLogger) *Carrier {
	if log == nil {
		log = logger.Tagged("carrier/udp")
	}
	return &Carrier{conn: conn, remote: remote, log: log}
}

// SetReceiver attaches the local endpoint inbound datagrams are
// delivered to. Call this before Listen begins pumping reads.
func (c *Carrier) SetReceiver(r carrier.Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiver = r
}

// Send implements carrier.Carrier. onComplete, if set, fires once the
// datagram has been handed to the OS socket buffer.
func (c *Carrier) Send(data []byte, onComplete func()) error {
	c.mu.Lock()
	conn, remote := c.conn, c.remote
	c.mu.Unlock()

	_, err := conn.WriteTo(data, remote)
	if onComplete != nil {
		onComplete()
	}
	return err
}

// Listen runs a blocking read loop, dispatching every datagram received
// from remote to the attached Receiver's OnReceive, and any read error
// to OnError before returning. Intended to run in its own goroutine; it
// returns on the first read error of any kind, including a read-deadline
// timeout or conn being closed.
func (c *Carrier) Listen() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := c.conn.ReadFrom(buf)
		if err != nil {
			c.mu.Lock()
			r := c.receiver
			remote := c.remote
			c.mu.Unlock()
			if r != nil {
				r.OnError(err)
			}
			c.log.Warn("read from %s failed: %v", remote, err)
			return
		}

		c.mu.Lock()
		r := c.receiver
		remote := c.remote
		c.mu.Unlock()

		if addr.String() != remote.String() {
			// Demultiplexed elsewhere; a shared-socket listener is
			// expected to route by source address before this point,
			// so this should not normally fire.
			continue
		}

		if r == nil {
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		r.OnReceive(cp)
	}
}
