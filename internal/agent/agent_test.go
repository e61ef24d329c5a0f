package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raodj/musesim/internal/types"
)

type counterState struct {
	count int
}

func (s *counterState) Clone() State {
	clone := *s
	return &clone
}

func ev(receive types.Time, send types.Time, sender types.AgentID) *types.Event {
	return &types.Event{Sender: sender, SendTime: send, ReceiveTime: receive}
}

func TestHistoryRestoreToFindsNewestSnapshotAtOrBeforeCut(t *testing.T) {
	h := NewHistory()
	h.RecordSnapshot(0, &counterState{count: 0})
	h.RecordSnapshot(5, &counterState{count: 5})
	h.RecordSnapshot(10, &counterState{count: 10})

	restored, _, _ := h.RestoreTo(7)
	require.Equal(t, 5, restored.(*counterState).count)
	require.Equal(t, 2, h.SnapshotCount(), "the rolled-back snapshot at 10 must be dropped")
}

func TestHistoryRestoreToReturnsReinsertAndRetractSuffixes(t *testing.T) {
	h := NewHistory()
	h.RecordSnapshot(0, &counterState{})

	h.RecordDelivered(ev(1, 0, 1))
	h.RecordDelivered(ev(3, 0, 1))
	h.RecordDelivered(ev(6, 0, 1))

	h.RecordSent(ev(9, 2, 1))
	h.RecordSent(ev(9, 4, 1))
	h.RecordSent(ev(9, 8, 1))

	_, reinsert, retract := h.RestoreTo(3)

	require.Len(t, reinsert, 1)
	require.Equal(t, types.Time(6), reinsert[0].ReceiveTime)
	require.Equal(t, 2, h.InputCount())

	require.Len(t, retract, 2)
	require.Equal(t, types.Time(4), retract[0].SendTime)
	require.Equal(t, types.Time(8), retract[1].SendTime)
	require.Equal(t, 1, h.OutputCount())
}

func TestHistoryRestoreToNoSnapshotBeforeCutReturnsNil(t *testing.T) {
	h := NewHistory()
	h.RecordSnapshot(5, &counterState{count: 5})

	restored, _, _ := h.RestoreTo(1)
	require.Nil(t, restored)
	require.Zero(t, h.SnapshotCount(), "the only snapshot is after the cut and must be dropped")
}

func TestFossilCollectDropsEverythingBeforeGVT(t *testing.T) {
	h := NewHistory()
	h.RecordSnapshot(0, &counterState{})
	h.RecordSnapshot(5, &counterState{})
	h.RecordSnapshot(10, &counterState{})

	h.RecordDelivered(ev(1, 0, 1))
	h.RecordDelivered(ev(6, 0, 1))
	h.RecordDelivered(ev(12, 0, 1))

	h.RecordSent(ev(9, 1, 1))
	h.RecordSent(ev(9, 6, 1))
	h.RecordSent(ev(9, 12, 1))

	droppedSnap, droppedIn, droppedOut := h.FossilCollect(8)

	require.Equal(t, 1, droppedSnap, "drop every snapshot before the newest one <= gvt (at 5)")
	require.Equal(t, 2, h.SnapshotCount(), "the newest snapshot <= gvt and any later one are kept")
	require.Equal(t, 2, droppedIn)
	require.Equal(t, 1, h.InputCount())
	require.Equal(t, 2, droppedOut)
	require.Equal(t, 1, h.OutputCount())
}

func TestFossilCollectKeepsAllWhenNoSnapshotQualifies(t *testing.T) {
	h := NewHistory()
	h.RecordSnapshot(10, &counterState{})
	dropped, _, _ := h.FossilCollect(5)
	require.Zero(t, dropped)
	require.Equal(t, 1, h.SnapshotCount())
}
