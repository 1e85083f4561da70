// Package carrier defines the abstract unreliable transport the core
// reliability layer is built against. A Carrier may drop, duplicate,
// reorder, or corrupt the buffers it transmits; the core assumes nothing
// stronger than "best effort, opaque byte buffers".
package carrier

// Carrier transmits opaque byte buffers to a single implicit peer. It may
// drop, duplicate, reorder or corrupt what it sends, but it must deliver
// exactly one inbound Receiver.OnReceive call per buffer that does arrive.
type Carrier interface {
	// Send hands off one buffer for transmission. onComplete, if
	// non-nil, is invoked once the buffer has been handed off — the
	// core treats Send as synchronous and does not await onComplete.
	Send(data []byte, onComplete func()) error
}

// Receiver is the inbound half of the carrier contract: the callbacks a
// Carrier drives when data arrives or the transport reports an error.
type Receiver interface {
	OnReceive(data []byte)
	OnError(err error)
}
