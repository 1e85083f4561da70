package reliability

import "time"

// outstandingPacket tracks a non-ACK packet that has been sent but not
// yet acknowledged, together with its retransmission budget and timer.
type outstandingPacket struct {
	sequence uint32
	encoded  []byte
	attempts int
	timer    *time.Timer
}

func (p *outstandingPacket) cancel() {
	if p.timer != nil {
		p.timer.Stop()
	}
}
