package wire

import "encoding/binary"

// FragmentHeaderSize is the fixed length of the fragment header prefixing
// a DATA payload that is part of a multi-packet message.
const FragmentHeaderSize = 5

// MaxFragments is the hard cap on fragments per message: the last-fragment
// bit occupies the high bit of the index byte, leaving 7 bits (0..127) for
// the index itself.
const MaxFragments = 128

// FragmentHeader is the 5-byte header prefixing a fragmented DATA payload:
//
//	offset 0 : message_id     u32 LE
//	offset 4 : index_and_last u8 (low 7 bits: index 0..127, high bit: is_last)
type FragmentHeader struct {
	MessageID uint32
	Index     uint8
	IsLast    bool
}

// EncodeFragmentHeader serializes a FragmentHeader.
func EncodeFragmentHeader(h FragmentHeader) []byte {
	buf := make([]byte, FragmentHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.MessageID)

	b := h.Index & 0x7F
	if h.IsLast {
		b |= 0x80
	}
	buf[4] = b
	return buf
}

// DecodeFragmentHeader parses the leading FragmentHeaderSize bytes of
// data, returning the header and the remaining fragment bytes. It
// returns ok=false if data is shorter than FragmentHeaderSize.
func DecodeFragmentHeader(data []byte) (h FragmentHeader, rest []byte, ok bool) {
	if len(data) < FragmentHeaderSize {
		return FragmentHeader{}, nil, false
	}

	messageID := binary.LittleEndian.Uint32(data[0:4])
	b := data[4]

	h = FragmentHeader{
		MessageID: messageID,
		Index:     b & 0x7F,
		IsLast:    b&0x80 != 0,
	}
	return h, data[FragmentHeaderSize:], true
}
