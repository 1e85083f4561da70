// Package message implements §4.4 of the protocol: splitting an outgoing
// message larger than the per-packet payload budget into indexed
// fragments, and reassembling fragments received out of a packet's own
// transport order back into the original message.
package message

import (
	"errors"

	"github.com/corvusnet/reliablelink/pkg/wire"
)

// ErrMessageTooLarge is returned by Fragmenter.Split when a message would
// require more than wire.MaxFragments fragments to transmit — the 7-bit
// fragment index cannot address more than that.
var ErrMessageTooLarge = errors.New("message: exceeds maximum fragment count")

// Fragmenter assigns fragment-header-prefixed payloads to messages that
// exceed maxPacketPayloadSize, using a monotonically increasing message
// id starting at 1.
type Fragmenter struct {
	maxPacketPayloadSize int
	nextMessageID        uint32
}

// NewFragmenter constructs a Fragmenter that never puts more than
// maxPacketPayloadSize message bytes into a single DATA payload; a
// header-prefixed payload carries the 5-byte fragment header on top of
// that.
func NewFragmenter(maxPacketPayloadSize int) *Fragmenter {
	return &Fragmenter{
		maxPacketPayloadSize: maxPacketPayloadSize,
		nextMessageID:        1,
	}
}

// Split returns the sequence of DATA payloads to send for message.
//
// The receiving side always treats a DATA payload of 5 or more bytes as
// fragment-header-prefixed (§4.4 Inbound), so any single-packet message
// of 5 bytes or more must still carry a (message_id, index=0, is_last)
// header to be reassembled correctly — it is simply a fragment set of
// size one. Only messages shorter than the 5-byte header itself are
// genuinely inseparable from "no header", and those are sent raw.
func (f *Fragmenter) Split(message []byte) ([][]byte, error) {
	if len(message) < wire.FragmentHeaderSize {
		out := make([]byte, len(message))
		copy(out, message)
		return [][]byte{out}, nil
	}

	if len(message) <= f.maxPacketPayloadSize {
		messageID := f.nextMessageID
		f.nextMessageID++

		hdr := wire.FragmentHeader{MessageID: messageID, Index: 0, IsLast: true}
		payload := make([]byte, 0, wire.FragmentHeaderSize+len(message))
		payload = append(payload, wire.EncodeFragmentHeader(hdr)...)
		payload = append(payload, message...)
		return [][]byte{payload}, nil
	}

	total := (len(message) + f.maxPacketPayloadSize - 1) / f.maxPacketPayloadSize
	if total > wire.MaxFragments {
		return nil, ErrMessageTooLarge
	}

	messageID := f.nextMessageID
	f.nextMessageID++

	fragments := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * f.maxPacketPayloadSize
		end := start + f.maxPacketPayloadSize
		if end > len(message) {
			end = len(message)
		}

		hdr := wire.FragmentHeader{
			MessageID: messageID,
			Index:     uint8(i),
			IsLast:    i == total-1,
		}
		payload := make([]byte, 0, wire.FragmentHeaderSize+(end-start))
		payload = append(payload, wire.EncodeFragmentHeader(hdr)...)
		payload = append(payload, message[start:end]...)
		fragments = append(fragments, payload)
	}

	return fragments, nil
}

// MaxMessageSize returns the largest message Split can carry without
// returning ErrMessageTooLarge, given maxPacketPayloadSize.
func (f *Fragmenter) MaxMessageSize() int {
	return wire.MaxFragments * f.maxPacketPayloadSize
}
