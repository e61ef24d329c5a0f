package outstream

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raodj/musesim/internal/types"
)

func TestWriteRejectsOutOfOrderTimestamps(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf)
	require.NoError(t, s.Write(types.Time(10), []byte("a")))
	require.Error(t, s.Write(types.Time(5), []byte("b")))
}

func TestGarbageCollectCommitsOnlyEntriesBeforeGVT(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf)
	require.NoError(t, s.Write(types.Time(1), []byte("one-")))
	require.NoError(t, s.Write(types.Time(5), []byte("five-")))
	require.NoError(t, s.Write(types.Time(10), []byte("ten-")))

	committed, err := s.GarbageCollect(types.Time(6))
	require.NoError(t, err)
	require.Equal(t, 2, committed)
	require.Equal(t, "one-five-", buf.String())
	require.Equal(t, 1, s.Pending())
}

func TestGarbageCollectIsIdempotentOnAlreadyCommittedEntries(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf)
	require.NoError(t, s.Write(types.Time(1), []byte("x")))

	committed, err := s.GarbageCollect(types.Time(2))
	require.NoError(t, err)
	require.Equal(t, 1, committed)

	committed, err = s.GarbageCollect(types.Time(2))
	require.NoError(t, err)
	require.Zero(t, committed)
	require.Equal(t, "x", buf.String())
}

func TestRollbackDiscardsEntriesAfterRestoredTime(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf)
	require.NoError(t, s.Write(types.Time(1), []byte("a")))
	require.NoError(t, s.Write(types.Time(5), []byte("b")))
	require.NoError(t, s.Write(types.Time(10), []byte("c")))

	discarded := s.Rollback(types.Time(5))
	require.Equal(t, 1, discarded)
	require.Equal(t, 2, s.Pending())

	committed, err := s.GarbageCollect(types.Time(100))
	require.NoError(t, err)
	require.Equal(t, 2, committed)
	require.Equal(t, "ab", buf.String())
}

func TestRollbackToTimeBeforeEverythingDiscardsAll(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf)
	require.NoError(t, s.Write(types.Time(1), []byte("a")))
	require.NoError(t, s.Write(types.Time(2), []byte("b")))

	discarded := s.Rollback(types.Time(0))
	require.Equal(t, 2, discarded)
	require.Zero(t, s.Pending())
}

func TestWriteCopiesInputBuffer(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf)
	data := []byte("mutable")
	require.NoError(t, s.Write(types.Time(1), data))
	data[0] = 'X'

	committed, err := s.GarbageCollect(types.Time(2))
	require.NoError(t, err)
	require.Equal(t, 1, committed)
	require.Equal(t, "mutable", buf.String())
}
