package outstream

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raodj/musesim/internal/types"
)

func TestSharedBufferCommitOrdersByTimestamp(t *testing.T) {
	var out bytes.Buffer
	b := NewSharedBuffer(&out, nil)

	b.Write(types.Time(10), []byte("ten-"))
	b.Write(types.Time(1), []byte("one-"))
	b.Write(types.Time(5), []byte("five-"))

	committed, err := b.Commit(types.Time(11))
	require.NoError(t, err)
	require.Equal(t, 3, committed)
	require.Equal(t, "one-five-ten-", out.String())
	require.Zero(t, b.Pending())
}

func TestSharedBufferWriteConcatenatesSameTimestamp(t *testing.T) {
	var out bytes.Buffer
	b := NewSharedBuffer(&out, nil)

	b.Write(types.Time(1), []byte("a"))
	b.Write(types.Time(1), []byte("b"))

	committed, err := b.Commit(types.Time(2))
	require.NoError(t, err)
	require.Equal(t, 1, committed)
	require.Equal(t, "ab", out.String())
}

func TestSharedBufferCommitLeavesFutureTimestampsBuffered(t *testing.T) {
	var out bytes.Buffer
	b := NewSharedBuffer(&out, nil)

	b.Write(types.Time(1), []byte("a"))
	b.Write(types.Time(100), []byte("z"))

	committed, err := b.Commit(types.Time(2))
	require.NoError(t, err)
	require.Equal(t, 1, committed)
	require.Equal(t, "a", out.String())
	require.Equal(t, 1, b.Pending())
}

func TestSharedBufferCommitWritesIndexOffsets(t *testing.T) {
	var out, index bytes.Buffer
	b := NewSharedBuffer(&out, &index)

	b.Write(types.Time(1), []byte("abc"))
	b.Write(types.Time(2), []byte("de"))

	committed, err := b.Commit(types.Time(3))
	require.NoError(t, err)
	require.Equal(t, 2, committed)
	require.Equal(t, "1\t0\n2\t3\n", index.String())
}

func TestSharedBufferIsSafeForConcurrentWrites(t *testing.T) {
	var out bytes.Buffer
	b := NewSharedBuffer(&out, nil)

	var wg sync.WaitGroup
	const writers = 16
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		i := i
		go func() {
			defer wg.Done()
			b.Write(types.Time(i%4), []byte{byte(i)})
		}()
	}
	wg.Wait()

	require.Equal(t, 4, b.Pending())
	committed, err := b.Commit(types.Time(4))
	require.NoError(t, err)
	require.Equal(t, 4, committed)
	require.Len(t, out.Bytes(), writers)
}
