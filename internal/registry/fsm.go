package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/raodj/musesim/internal/types"
)

// Command is one state change applied through the Raft log: either a
// new rank joining the run, or an agent being assigned to a rank.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opJoin   = "join"
	opAssign = "assign"
)

// Member is one participating worker process.
type Member struct {
	Rank     int    `json:"rank"`
	NodeID   string `json:"node_id"`
	RaftAddr string `json:"raft_addr"`
}

// fsm applies Command log entries to the registry's replicated state:
// the member table and the agent partition. Mirrors WarrenFSM's
// lock-guarded apply-by-op-switch shape, narrowed to two operations.
type fsm struct {
	mu        sync.RWMutex
	members   map[int]Member
	partition map[types.AgentID]int
}

func newFSM() *fsm {
	return &fsm{
		members:   make(map[int]Member),
		partition: make(map[types.AgentID]int),
	}
}

func (f *fsm) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("registry: unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opJoin:
		var m Member
		if err := json.Unmarshal(cmd.Data, &m); err != nil {
			return fmt.Errorf("registry: unmarshal member: %w", err)
		}
		f.members[m.Rank] = m
		return nil

	case opAssign:
		var a assignment
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return fmt.Errorf("registry: unmarshal assignment: %w", err)
		}
		f.partition[a.AgentID] = a.Rank
		return nil

	default:
		return fmt.Errorf("registry: unknown command %q", cmd.Op)
	}
}

type assignment struct {
	AgentID types.AgentID `json:"agent_id"`
	Rank    int           `json:"rank"`
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snap := &fsmSnapshot{
		Members:   make(map[int]Member, len(f.members)),
		Partition: make(map[types.AgentID]int, len(f.partition)),
	}
	for k, v := range f.members {
		snap.Members[k] = v
	}
	for k, v := range f.partition {
		snap.Partition[k] = v
	}
	return snap, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("registry: decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.members = snap.Members
	f.partition = snap.Partition
	return nil
}

func (f *fsm) snapshotState() (map[int]Member, map[types.AgentID]int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	members := make(map[int]Member, len(f.members))
	for k, v := range f.members {
		members[k] = v
	}
	partition := make(map[types.AgentID]int, len(f.partition))
	for k, v := range f.partition {
		partition[k] = v
	}
	return members, partition
}

// fsmSnapshot is the JSON-encoded point-in-time state persisted by
// Raft's snapshot store, matching WarrenSnapshot's Persist/Release pair.
type fsmSnapshot struct {
	Members   map[int]Member          `json:"members"`
	Partition map[types.AgentID]int `json:"partition"`
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
