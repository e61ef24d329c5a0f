package registry

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"

	"github.com/raodj/musesim/internal/types"
)

func applyCmd(t *testing.T, f *fsm, cmd Command) {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	resp := f.Apply(&raft.Log{Data: data})
	if err, ok := resp.(error); ok {
		require.NoError(t, err)
	}
}

func TestFSMAppliesJoinAndAssign(t *testing.T) {
	f := newFSM()

	joinData, err := json.Marshal(Member{Rank: 0, NodeID: "n0", RaftAddr: "127.0.0.1:7000"})
	require.NoError(t, err)
	applyCmd(t, f, Command{Op: opJoin, Data: joinData})

	assignData, err := json.Marshal(assignment{AgentID: 5, Rank: 0})
	require.NoError(t, err)
	applyCmd(t, f, Command{Op: opAssign, Data: assignData})

	members, partition := f.snapshotState()
	require.Equal(t, Member{Rank: 0, NodeID: "n0", RaftAddr: "127.0.0.1:7000"}, members[0])
	require.Equal(t, 0, partition[types.AgentID(5)])
}

func TestFSMApplyUnknownOpReturnsError(t *testing.T) {
	f := newFSM()
	data, err := json.Marshal(Command{Op: "bogus"})
	require.NoError(t, err)
	resp := f.Apply(&raft.Log{Data: data})
	require.Error(t, resp.(error))
}

func TestFSMSnapshotRoundTrips(t *testing.T) {
	f := newFSM()
	joinData, _ := json.Marshal(Member{Rank: 1, NodeID: "n1", RaftAddr: "127.0.0.1:7001"})
	applyCmd(t, f, Command{Op: opJoin, Data: joinData})
	assignData, _ := json.Marshal(assignment{AgentID: 2, Rank: 1})
	applyCmd(t, f, Command{Op: opAssign, Data: assignData})

	snapIface, err := f.Snapshot()
	require.NoError(t, err)
	snap := snapIface.(*fsmSnapshot)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(snap))

	restored := newFSM()
	require.NoError(t, restored.Restore(io.NopCloser(&buf)))

	members, partition := restored.snapshotState()
	require.Equal(t, Member{Rank: 1, NodeID: "n1", RaftAddr: "127.0.0.1:7001"}, members[1])
	require.Equal(t, 1, partition[types.AgentID(2)])
}
