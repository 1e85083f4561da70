package message

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoundTripShortMessage(t *testing.T) {
	f := NewFragmenter(1489)
	r := NewReassembler(0)

	fragments, err := f.Split([]byte("hi"))
	require.NoError(t, err)
	require.Len(t, fragments, 1)

	msg, complete := r.Feed(fragments[0])
	require.True(t, complete)
	require.Equal(t, "hi", string(msg))
}

func TestRoundTripSingleFragmentAtOrAboveHeaderSize(t *testing.T) {
	f := NewFragmenter(1489)
	r := NewReassembler(0)

	fragments, err := f.Split([]byte("hello"))
	require.NoError(t, err)
	require.Len(t, fragments, 1)

	msg, complete := r.Feed(fragments[0])
	require.True(t, complete)
	require.Equal(t, "hello", string(msg))
}

func TestRoundTripMultiFragmentMessage(t *testing.T) {
	f := NewFragmenter(8)
	r := NewReassembler(0)

	original := bytes.Repeat([]byte("abcdefgh"), 10) // 80 bytes, 10 fragments
	fragments, err := f.Split(original)
	require.NoError(t, err)
	require.Greater(t, len(fragments), 1)

	var result []byte
	for _, frag := range fragments {
		msg, complete := r.Feed(frag)
		if complete {
			result = msg
		}
	}
	require.Equal(t, original, result)
}

func TestFeedOutOfOrderFragmentsStillReassemble(t *testing.T) {
	f := NewFragmenter(4)
	r := NewReassembler(0)

	original := []byte("abcdefghijklmnop") // 16 bytes -> 4 fragments of 4
	fragments, err := f.Split(original)
	require.NoError(t, err)
	require.Len(t, fragments, 4)

	order := []int{2, 0, 3, 1}
	var result []byte
	for _, idx := range order {
		msg, complete := r.Feed(fragments[idx])
		if complete {
			result = msg
		}
	}
	require.Equal(t, original, result)
}

func TestInterleavedConcurrentMessages(t *testing.T) {
	f := NewFragmenter(4)
	r := NewReassembler(0)

	msgA, err := f.Split([]byte("AAAAAAAA"))
	require.NoError(t, err)
	msgB, err := f.Split([]byte("BBBBBBBB"))
	require.NoError(t, err)

	var gotA, gotB []byte
	if out, complete := r.Feed(msgA[0]); complete {
		gotA = out
	}
	if out, complete := r.Feed(msgB[0]); complete {
		gotB = out
	}
	if out, complete := r.Feed(msgA[1]); complete {
		gotA = out
	}
	if out, complete := r.Feed(msgB[1]); complete {
		gotB = out
	}

	require.Equal(t, "AAAAAAAA", string(gotA))
	require.Equal(t, "BBBBBBBB", string(gotB))
}

func TestDuplicateIndexedFragmentOverwrites(t *testing.T) {
	f := NewFragmenter(4)
	r := NewReassembler(0)

	original := []byte("abcdefgh")
	fragments, err := f.Split(original)
	require.NoError(t, err)
	require.Len(t, fragments, 2)

	_, complete := r.Feed(fragments[0])
	require.False(t, complete)
	_, complete = r.Feed(fragments[0]) // duplicate of index 0
	require.False(t, complete)

	msg, complete := r.Feed(fragments[1])
	require.True(t, complete)
	require.Equal(t, original, msg)
}

func TestSplitRejectsOversizedMessage(t *testing.T) {
	f := NewFragmenter(1)
	_, err := f.Split(make([]byte, 200)) // would need 200 fragments > 128
	require.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestAbandonedBufferEvictedAfterTimeout(t *testing.T) {
	f := NewFragmenter(4)
	r := NewReassembler(10 * time.Millisecond)

	fragments, err := f.Split([]byte("abcdefgh")) // 2 fragments
	require.NoError(t, err)

	_, complete := r.Feed(fragments[0])
	require.False(t, complete)
	require.Equal(t, 1, r.PendingCount())

	time.Sleep(20 * time.Millisecond)

	// Feeding an unrelated, complete message triggers the sweep.
	other, _ := NewFragmenter(4).Split([]byte("zz"))
	r.Feed(other[0])

	require.Equal(t, 0, r.PendingCount())
}

func TestAbandonedBufferNeverEvictedByDefault(t *testing.T) {
	r := NewReassembler(0)
	f := NewFragmenter(4)

	fragments, _ := f.Split([]byte("abcdefgh"))
	r.Feed(fragments[0])
	require.Equal(t, 1, r.PendingCount())
}
