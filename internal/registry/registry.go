package registry

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/raodj/musesim/internal/log"
	"github.com/raodj/musesim/internal/types"
)

// Config configures a Registry node, mirroring the teacher's
// manager.Config (NodeID/BindAddr/DataDir).
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Registry is the Raft-backed agreement on which ranks participate in
// this run and which rank owns each agent (spec §4.7/§6). Single-process
// runs Bootstrap a single-voter cluster so the partition-agreement code
// path is identical whether this run spans one process or many.
type Registry struct {
	cfg  Config
	raft *raft.Raft
	fsm  *fsm
}

// New creates a Registry for one node. Call Bootstrap for the first
// node in a run, or JoinExisting against an existing leader for every
// other node.
func New(cfg Config) (*Registry, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("registry: create data dir: %w", err)
	}
	return &Registry{cfg: cfg, fsm: newFSM()}, nil
}

func (r *Registry) raftConfig() *raft.Config {
	c := raft.DefaultConfig()
	c.LocalID = raft.ServerID(r.cfg.NodeID)
	return c
}

func (r *Registry) newRaft() (*raft.Raft, *raft.TCPTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", r.cfg.BindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(r.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(r.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(r.cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("registry: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(r.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("registry: create stable store: %w", err)
	}

	rf, err := raft.NewRaft(r.raftConfig(), r.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: create raft instance: %w", err)
	}
	return rf, transport, nil
}

// Bootstrap starts a new single-voter Raft cluster with this node as
// its only member (spec §2 DOMAIN STACK: "single-process runs bootstrap
// a single-voter Raft cluster").
func (r *Registry) Bootstrap() error {
	rf, transport, err := r.newRaft()
	if err != nil {
		return err
	}
	r.raft = rf

	cfg := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(r.cfg.NodeID), Address: transport.LocalAddr()},
		},
	}
	if err := r.raft.BootstrapCluster(cfg).Error(); err != nil {
		return fmt.Errorf("registry: bootstrap cluster: %w", err)
	}

	return r.join(Member{Rank: 0, NodeID: r.cfg.NodeID, RaftAddr: r.cfg.BindAddr})
}

// JoinExisting starts Raft for this node, which the cluster leader must
// then add as a voter via AddVoter before this node can Apply anything,
// for the non-bootstrap nodes of a multi-process run.
func (r *Registry) JoinExisting(leaderRaftAddr string) error {
	rf, _, err := r.newRaft()
	if err != nil {
		return err
	}
	r.raft = rf
	log.WithComponent("registry").Info().Str("leader", leaderRaftAddr).Msg("waiting to be added as voter")
	return nil
}

// AddVoter adds nodeID/raftAddr as a voting member of the cluster; only
// the current leader may call this successfully.
func (r *Registry) AddVoter(nodeID, raftAddr string) error {
	if r.raft == nil {
		return fmt.Errorf("registry: raft not initialized")
	}
	if r.raft.State() != raft.Leader {
		return fmt.Errorf("registry: not the leader, current leader %q", r.raft.Leader())
	}
	future := r.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(raftAddr), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("registry: add voter: %w", err)
	}
	return nil
}

// Join records rank as a participating member of the run (the
// RegistryRPC "Join(nodeID, raftAddr)" of spec.md §6).
func (r *Registry) Join(m Member) error {
	return r.join(m)
}

func (r *Registry) join(m Member) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("registry: marshal member: %w", err)
	}
	return r.apply(Command{Op: opJoin, Data: data})
}

// RegisterAgent assigns agentID to rank (the RegistryRPC
// "RegisterAgent(agentID, preferredWorker)" of spec.md §6).
func (r *Registry) RegisterAgent(agentID types.AgentID, rank int) error {
	data, err := json.Marshal(assignment{AgentID: agentID, Rank: rank})
	if err != nil {
		return fmt.Errorf("registry: marshal assignment: %w", err)
	}
	return r.apply(Command{Op: opAssign, Data: data})
}

func (r *Registry) apply(cmd Command) error {
	if r.raft == nil {
		return fmt.Errorf("registry: raft not initialized")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("registry: marshal command: %w", err)
	}
	future := r.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("registry: apply command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// GetPartition returns the agreed agent-to-rank mapping (spec.md §6
// "GetPartition() -> map[AgentID]WorkerRank").
func (r *Registry) GetPartition() map[types.AgentID]int {
	_, partition := r.fsm.snapshotState()
	return partition
}

// Members returns every rank that has joined the run.
func (r *Registry) Members() map[int]Member {
	members, _ := r.fsm.snapshotState()
	return members
}

// IsLeader reports whether this node currently holds the Raft
// leadership (authoritative for registry writes, independent of the
// GVT token ring's rank 0).
func (r *Registry) IsLeader() bool {
	return r.raft != nil && r.raft.State() == raft.Leader
}

// Shutdown stops the underlying Raft instance.
func (r *Registry) Shutdown() error {
	if r.raft == nil {
		return nil
	}
	if err := r.raft.Shutdown().Error(); err != nil {
		return fmt.Errorf("registry: shutdown raft: %w", err)
	}
	return nil
}
