package schedq

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raodj/musesim/internal/types"
)

func mk(receiver, sender types.AgentID, sendTime, receiveTime types.Time) *types.Event {
	return &types.Event{Sender: sender, Receiver: receiver, SendTime: sendTime, ReceiveTime: receiveTime}
}

func TestInsertAndPeekMinOrdersByReceiveTime(t *testing.T) {
	q := NewQueue()
	q.Insert(mk(1, 1, 0, 10))
	q.Insert(mk(1, 1, 0, 3))
	q.Insert(mk(1, 1, 0, 7))

	min, ok := q.PeekMin()
	require.True(t, ok)
	require.Equal(t, types.Time(3), min.ReceiveTime)
}

func TestInsertAnnihilatesMatchingAntiMessage(t *testing.T) {
	q := NewQueue()
	positive := mk(2, 1, 5, 9)
	q.Insert(positive)
	require.Equal(t, 1, q.Len())

	anti := mk(2, 1, 5, 9)
	anti.AntiMessage = true
	annihilated := q.Insert(anti)

	require.True(t, annihilated)
	require.Zero(t, q.Len(), "both the positive event and its anti-message must be gone")
}

func TestInsertDoesNotAnnihilateDifferentEvents(t *testing.T) {
	q := NewQueue()
	q.Insert(mk(2, 1, 5, 9))
	anti := mk(2, 1, 5, 10) // different receive_time: not the same logical send
	anti.AntiMessage = true
	annihilated := q.Insert(anti)

	require.False(t, annihilated)
	require.Equal(t, 2, q.Len())
}

func TestPopBatchForMinAgentGroupsSameReceiverAndTime(t *testing.T) {
	q := NewQueue()
	q.Insert(mk(1, 10, 0, 5)) // agent 1, time 5
	q.Insert(mk(1, 11, 0, 5)) // agent 1, time 5 (same batch)
	q.Insert(mk(2, 12, 0, 5)) // agent 2, time 5 (different receiver, not in batch)
	q.Insert(mk(1, 13, 0, 8)) // agent 1, later time

	batch := q.PopBatchForMinAgent()
	require.Len(t, batch, 2)
	for _, e := range batch {
		require.Equal(t, types.AgentID(1), e.Receiver)
		require.Equal(t, types.Time(5), e.ReceiveTime)
	}
	require.Equal(t, 2, q.Len(), "the other receiver's event and the later event remain queued")
}

func TestPopBatchForMinAgentOnEmptyQueue(t *testing.T) {
	q := NewQueue()
	require.Nil(t, q.PopBatchForMinAgent())
}

func TestFossilCollectDropsStaleUndeliveredEvents(t *testing.T) {
	q := NewQueue()
	q.Insert(mk(1, 1, 0, 2))
	q.Insert(mk(1, 1, 0, 6))
	q.Insert(mk(1, 1, 0, 9))

	var released []*types.Event
	dropped := q.FossilCollect(5, func(e *types.Event) { released = append(released, e) })

	require.Equal(t, 1, dropped)
	require.Len(t, released, 1)
	require.Equal(t, types.Time(2), released[0].ReceiveTime)
	require.Equal(t, 2, q.Len())

	min, _ := q.PeekMin()
	require.Equal(t, types.Time(6), min.ReceiveTime)
}

func TestQueueOrderingSurvivesManyInsertsAndPops(t *testing.T) {
	q := NewQueue()
	times := []types.Time{5, 1, 9, 3, 7, 2, 8, 4, 6, 0}
	for _, ts := range times {
		q.Insert(mk(1, 1, 0, ts))
	}

	var popped []types.Time
	for q.Len() > 0 {
		batch := q.PopBatchForMinAgent()
		for _, e := range batch {
			popped = append(popped, e.ReceiveTime)
		}
	}
	for i := 1; i < len(popped); i++ {
		require.Less(t, popped[i-1], popped[i])
	}
	require.Len(t, popped, len(times))
}
