package udp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/corvusnet/reliablelink/pkg/carrier"
)

type captureReceiver struct {
	ch chan []byte
}

func (c *captureReceiver) OnReceive(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	c.ch <- cp
}

func (c *captureReceiver) OnError(err error) {}

var _ carrier.Receiver = (*captureReceiver)(nil)

func TestSendAndListenRoundTrip(t *testing.T) {
	connA, err := nettest.NewLocalPacketListener("udp")
	require.NoError(t, err)
	defer connA.Close()

	connB, err := nettest.NewLocalPacketListener("udp")
	require.NoError(t, err)
	defer connB.Close()

	a := New(connA, connB.LocalAddr(), nil)
	b := New(connB, connA.LocalAddr(), nil)

	rxB := &captureReceiver{ch: make(chan []byte, 1)}
	b.SetReceiver(rxB)
	go b.Listen()

	require.NoError(t, a.Send([]byte("ping"), nil))

	select {
	case got := <-rxB.ch:
		require.Equal(t, []byte("ping"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("datagram not received")
	}
}
