package conn

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvusnet/reliablelink/pkg/config"
	"github.com/corvusnet/reliablelink/pkg/reliability"
	"github.com/corvusnet/reliablelink/pkg/wire"
)

type fakeCarrier struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeCarrier) Send(data []byte, onComplete func()) error {
	f.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	f.mu.Unlock()
	if onComplete != nil {
		onComplete()
	}
	return nil
}

func (f *fakeCarrier) snapshot() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeListener struct {
	mu     sync.Mutex
	opened bool
	closed *CloseEvent
}

func (l *fakeListener) OnOpen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened = true
}

func (l *fakeListener) OnClose(ev CloseEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := ev
	l.closed = &cp
}

func (l *fakeListener) snapshot() (bool, *CloseEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened, l.closed
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ConnectionTimeout = 30 * time.Millisecond
	cfg.RetransmissionTimeout = 10 * time.Millisecond
	return cfg
}

func TestStartSendsSYNAndArmsConnectionTimer(t *testing.T) {
	c := &fakeCarrier{}
	cfg := testConfig()
	e := reliability.New(cfg, c, nil)
	l := &fakeListener{}
	conn := New(cfg, c, e, l, nil)

	conn.Start()
	require.Equal(t, StateConnecting, conn.State())

	sent := c.snapshot()
	require.Len(t, sent, 1)
	hdr, _, ok := wire.Decode(sent[0])
	require.True(t, ok)
	require.True(t, hdr.Flags.Has(wire.FlagSyn))
}

func TestHandshakeCompletesOnSYN(t *testing.T) {
	c := &fakeCarrier{}
	cfg := testConfig()
	e := reliability.New(cfg, c, nil)
	l := &fakeListener{}
	conn := New(cfg, c, e, l, nil)

	conn.Start()
	conn.HandleSYN()

	require.Equal(t, StateOpen, conn.State())
	opened, _ := l.snapshot()
	require.True(t, opened)
}

func TestConnectionTimesOutWithoutHandshake(t *testing.T) {
	c := &fakeCarrier{}
	cfg := testConfig()
	e := reliability.New(cfg, c, nil)
	l := &fakeListener{}
	conn := New(cfg, c, e, l, nil)

	conn.Start()

	require.Eventually(t, func() bool {
		return conn.State() == StateClosed
	}, 500*time.Millisecond, 2*time.Millisecond)

	_, closed := l.snapshot()
	require.NotNil(t, closed)
	require.Equal(t, CloseAbnormal, closed.Code)
	require.False(t, closed.WasClean)
}

func TestGracefulClose(t *testing.T) {
	c := &fakeCarrier{}
	cfg := testConfig()
	e := reliability.New(cfg, c, nil)
	l := &fakeListener{}
	conn := New(cfg, c, e, l, nil)

	conn.Start()
	conn.HandleSYN()
	require.Equal(t, StateOpen, conn.State())

	conn.Close(0, "")
	require.Equal(t, StateClosing, conn.State())

	sent := c.snapshot()
	finSeen := false
	for _, buf := range sent {
		hdr, _, ok := wire.Decode(buf)
		if ok && hdr.Flags.Has(wire.FlagFin) {
			finSeen = true
		}
	}
	require.True(t, finSeen)

	conn.HandleFIN()
	require.Equal(t, StateClosed, conn.State())

	_, closed := l.snapshot()
	require.NotNil(t, closed)
	require.True(t, closed.WasClean)
	require.Equal(t, CloseNormal, closed.Code)
}

func TestClosingTimesOutUncleanly(t *testing.T) {
	c := &fakeCarrier{}
	cfg := testConfig()
	e := reliability.New(cfg, c, nil)
	l := &fakeListener{}
	conn := New(cfg, c, e, l, nil)

	conn.Start()
	conn.HandleSYN()
	conn.Close(4242, "bye")

	require.Eventually(t, func() bool {
		return conn.State() == StateClosed
	}, 500*time.Millisecond, 2*time.Millisecond)

	_, closed := l.snapshot()
	require.NotNil(t, closed)
	require.False(t, closed.WasClean)
	require.Equal(t, 4242, closed.Code)
	require.Equal(t, "bye", closed.Reason)
}

func TestCloseIsNoOpWhenAlreadyClosing(t *testing.T) {
	c := &fakeCarrier{}
	cfg := testConfig()
	e := reliability.New(cfg, c, nil)
	l := &fakeListener{}
	conn := New(cfg, c, e, l, nil)

	conn.Start()
	conn.HandleSYN()
	conn.Close(0, "")
	before := len(c.snapshot())

	conn.Close(0, "")
	after := len(c.snapshot())
	require.Equal(t, before, after, "second close() must not send anything")
}
