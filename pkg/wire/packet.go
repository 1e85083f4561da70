// Package wire implements the on-the-wire packet format: a fixed 11-byte
// header followed by an opaque payload, integrity-checked with CRC32.
package wire

import (
	"encoding/binary"
	"hash/crc32"
)

// Flags is the packet-role bitset. In practice every packet carries
// exactly one of these, but the wire format keeps them as independent
// bits per the protocol definition.
type Flags uint8

const (
	FlagData Flags = 1 << 0
	FlagAck  Flags = 1 << 1
	FlagSyn  Flags = 1 << 2
	FlagFin  Flags = 1 << 3
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// HeaderSize is the fixed on-wire header length in bytes.
const HeaderSize = 11

// Header is the logical decoded form of the first 11 bytes of a packet.
type Header struct {
	Sequence      uint32
	Checksum      uint32
	Flags         Flags
	PayloadLength uint16
}

// Encode serializes (sequence, flags, payload) into a wire-format packet:
//
//	offset 0  : sequence       u32 LE
//	offset 4  : checksum       u32 LE
//	offset 8  : flags          u8
//	offset 9  : payload_length u16 LE
//	offset 11 : payload
//
// The checksum is the IEEE CRC32 of the 7-byte logical header
// (sequence ‖ flags ‖ payload_length) concatenated with the payload —
// everything except the checksum field itself.
func Encode(sequence uint32, flags Flags, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))

	binary.LittleEndian.PutUint32(buf[0:4], sequence)
	buf[8] = byte(flags)
	binary.LittleEndian.PutUint16(buf[9:11], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)

	sum := checksum(sequence, flags, payload)
	binary.LittleEndian.PutUint32(buf[4:8], sum)

	return buf
}

// checksum computes the CRC32 (IEEE polynomial) over the logical header
// (sequence ‖ flags ‖ payload_length) ‖ payload.
func checksum(sequence uint32, flags Flags, payload []byte) uint32 {
	h := crc32.NewIEEE()

	var hdr [7]byte
	binary.LittleEndian.PutUint32(hdr[0:4], sequence)
	hdr[4] = byte(flags)
	binary.LittleEndian.PutUint16(hdr[5:7], uint16(len(payload)))

	h.Write(hdr[:])
	h.Write(payload)
	return h.Sum32()
}

// Decode parses a wire-format packet. It returns ok=false if the buffer is
// too short for its declared payload length or the checksum does not
// match — per the protocol, decode failure is silent: the caller must
// drop the packet without ACKing it or raising an error.
func Decode(data []byte) (hdr Header, payload []byte, ok bool) {
	if len(data) < HeaderSize {
		return Header{}, nil, false
	}

	sequence := binary.LittleEndian.Uint32(data[0:4])
	storedSum := binary.LittleEndian.Uint32(data[4:8])
	flags := Flags(data[8])
	payloadLength := binary.LittleEndian.Uint16(data[9:11])

	if len(data) < HeaderSize+int(payloadLength) {
		return Header{}, nil, false
	}
	payload = data[HeaderSize : HeaderSize+int(payloadLength)]

	if checksum(sequence, flags, payload) != storedSum {
		return Header{}, nil, false
	}

	hdr = Header{
		Sequence:      sequence,
		Checksum:      storedSum,
		Flags:         flags,
		PayloadLength: payloadLength,
	}
	return hdr, payload, true
}

// EncodeSYN builds the handshake SYN packet: sequence 0, no payload. SYN
// is never retransmitted by the reliability engine; it is sent as a raw
// buffer directly on the carrier.
func EncodeSYN() []byte {
	return Encode(0, FlagSyn, nil)
}

// EncodeFIN builds a raw, unsequenced FIN packet carrying the given
// sequence and no payload.
func EncodeFIN(sequence uint32) []byte {
	return Encode(sequence, FlagFin, nil)
}

// EncodeACK builds an ACK packet acknowledging the given sequence. ACKs
// are not themselves sequenced for reliability and are never
// retransmitted.
func EncodeACK(sequence uint32) []byte {
	return Encode(sequence, FlagAck, nil)
}
