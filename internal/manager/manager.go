package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/raodj/musesim/internal/agent"
	"github.com/raodj/musesim/internal/log"
	"github.com/raodj/musesim/internal/numa"
	"github.com/raodj/musesim/internal/outstream"
	"github.com/raodj/musesim/internal/registry"
	"github.com/raodj/musesim/internal/transport"
	"github.com/raodj/musesim/internal/types"
	"github.com/raodj/musesim/internal/worker"
)

// Manager is one process's Simulation Manager (spec §4.7, C7): it owns
// every worker hosted locally, the cross-process transport those
// workers share, and the Raft-backed registry agreeing membership and
// the agent partition with any peer processes.
type Manager struct {
	cfg Config

	mu          sync.Mutex
	owner       map[types.AgentID]int
	localRanks  map[int]struct{}
	workers     map[int]*worker.Worker
	nextRank    int // round-robin cursor over [0, cfg.NumWorkers)

	transport *transport.Transport
	registry  *registry.Registry

	swept int64 // chunks transferred by the final NUMA sweep

	logger zerolog.Logger
}

// NewManager builds the local worker set described by cfg. Workers are
// constructed but not yet Init'd or Run — call Initialize then Simulate.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.NumWorkers <= 0 {
		return nil, fmt.Errorf("manager: NumWorkers must be positive")
	}
	if len(cfg.LocalRanks) == 0 {
		return nil, fmt.Errorf("manager: at least one local rank is required")
	}

	m := &Manager{
		cfg:        cfg,
		owner:      make(map[types.AgentID]int),
		localRanks: make(map[int]struct{}, len(cfg.LocalRanks)),
		workers:    make(map[int]*worker.Worker, len(cfg.LocalRanks)),
		logger:     log.WithComponent("manager"),
	}
	for _, r := range cfg.LocalRanks {
		m.localRanks[r] = struct{}{}
	}

	if cfg.ListenAddr != "" || len(cfg.PeerAddr) > 0 {
		m.transport = transport.NewTransport(cfg.LocalRanks[0])
	}

	redistributeInterval := cfg.RedistributeInterval
	if redistributeInterval <= 0 {
		redistributeInterval = RedistributeIntervalFromThresh(cfg.DeallocThresh)
	}

	for _, r := range cfg.LocalRanks {
		numaNode := 0
		if cfg.NumaNodeFor != nil {
			numaNode = cfg.NumaNodeFor(r)
		}
		wcfg := worker.Config{
			Rank:                 r,
			NumWorkers:           cfg.NumWorkers,
			NumaNode:             numaNode,
			StartTime:            cfg.StartTime,
			EndTime:              cfg.EndTime,
			Owner:                m.owner,
			Send:                 m.sendEvent,
			SendToken:            m.sendToken,
			SendRedistribution:   m.sendRedistribution,
			Transport:            m.transport,
			QueueKind:            cfg.QueueKind,
			QueueCapacity:        cfg.QueueCapacity,
			QueueShards:          cfg.QueueShards,
			MaxPollPerStep:       cfg.MaxPollPerStep,
			UseSharedEvents:      cfg.UseSharedEvents,
			GVTInterval:          cfg.GVTInterval,
			RedistributeInterval: redistributeInterval,
			Notifier:             cfg.Notifier,
		}
		m.workers[r] = worker.NewWorker(wcfg)
	}

	return m, nil
}

// sendEvent routes e to destRank: a direct in-process hand-off if that
// rank is hosted by this process, otherwise a wire send over the
// cross-process transport.
func (m *Manager) sendEvent(destRank int, e *types.Event) error {
	if w, ok := m.workers[destRank]; ok {
		w.DeliverEvent(e)
		return nil
	}
	if m.transport == nil {
		return fmt.Errorf("manager: rank %d is remote but no transport is configured", destRank)
	}
	return m.transport.Send(destRank, types.KindEvent, e.EncodeWire())
}

// sendToken routes a GVT control/estimate/ack token exactly like
// sendEvent, tagging the wire frame with the MessageKind matching the
// token's role.
func (m *Manager) sendToken(destRank int, tok *types.GVTToken) error {
	if w, ok := m.workers[destRank]; ok {
		return w.DeliverToken(tok)
	}
	if m.transport == nil {
		return fmt.Errorf("manager: rank %d is remote but no transport is configured", destRank)
	}
	return m.transport.Send(destRank, gvtWireKind(tok.Kind), tok.EncodeWire())
}

func gvtWireKind(k types.TokenKind) types.MessageKind {
	switch k {
	case types.TokenEstimate:
		return types.KindGVTEstimate
	case types.TokenAck:
		return types.KindGVTAck
	default:
		return types.KindGVTCtrl
	}
}

// sendRedistribution routes a NUMA recycler batch exactly like
// sendEvent.
func (m *Manager) sendRedistribution(destRank int, b numa.Batch) error {
	if w, ok := m.workers[destRank]; ok {
		w.ApplyRedistribution(b)
		return nil
	}
	if m.transport == nil {
		return fmt.Errorf("manager: rank %d is remote but no transport is configured", destRank)
	}
	return m.transport.Send(destRank, types.KindRedistribution, b.EncodeWire())
}

// RegisterAgent assigns id to a worker rank and, if that rank is local,
// registers a with the owning worker. preferredRank selects an explicit
// rank (spec §4.7 "round-robin unless an explicit worker index is given
// at registration"); pass -1 to let the manager round-robin across
// every rank in the run.
func (m *Manager) RegisterAgent(id types.AgentID, a agent.Agent, out *outstream.Stream, preferredRank int) error {
	m.mu.Lock()
	rank := preferredRank
	if rank < 0 {
		rank = m.nextRank % m.cfg.NumWorkers
		m.nextRank++
	}
	if rank < 0 || rank >= m.cfg.NumWorkers {
		m.mu.Unlock()
		return fmt.Errorf("manager: rank %d is out of range [0,%d)", rank, m.cfg.NumWorkers)
	}
	m.owner[id] = rank
	m.mu.Unlock()

	if m.registry != nil {
		if err := m.registry.RegisterAgent(id, rank); err != nil {
			return fmt.Errorf("manager: recording agent %d in registry: %w", id, err)
		}
	}

	w, ok := m.workers[rank]
	if !ok {
		// rank belongs to a peer process; nothing more to do locally.
		return nil
	}
	if err := w.RegisterAgent(id, a, out); err != nil {
		return fmt.Errorf("manager: registering agent %d with rank %d: %w", id, rank, err)
	}
	return nil
}

// Initialize brings up the cluster registry (if configured), listens
// and dials the cross-process transport (if configured), and runs
// Initialize on every locally-hosted agent. It must run after every
// RegisterAgent call this process intends to make and before Simulate.
func (m *Manager) Initialize() error {
	if m.cfg.Registry.NodeID != "" {
		r, err := registry.New(m.cfg.Registry)
		if err != nil {
			return fmt.Errorf("manager: creating registry: %w", err)
		}
		m.registry = r
		if m.cfg.Bootstrap {
			if err := r.Bootstrap(); err != nil {
				return fmt.Errorf("manager: bootstrapping registry: %w", err)
			}
		} else {
			if err := r.JoinExisting(m.cfg.LeaderRaftAddr); err != nil {
				return fmt.Errorf("manager: joining registry: %w", err)
			}
		}
	}

	if m.transport != nil && m.cfg.ListenAddr != "" {
		if err := m.transport.Listen(m.cfg.ListenAddr); err != nil {
			return fmt.Errorf("manager: listening on %s: %w", m.cfg.ListenAddr, err)
		}
	}
	for rank, addr := range m.cfg.PeerAddr {
		if _, local := m.localRanks[rank]; local {
			continue
		}
		if err := m.transport.Dial(context.Background(), rank, addr); err != nil {
			return fmt.Errorf("manager: dialing rank %d at %s: %w", rank, addr, err)
		}
	}

	for rank, w := range m.workers {
		if err := w.Init(); err != nil {
			return fmt.Errorf("manager: initializing rank %d: %w", rank, err)
		}
	}
	return nil
}

// Simulate runs every local worker's optimistic loop until ctx is
// cancelled or each reaches cfg.EndTime with nothing left in flight,
// then Finalizes. If any local worker aborts with a model-bug error
// (spec §4.2/§7: "this is a model bug, not recoverable"), Simulate
// cancels every other local worker so the whole run stops promptly,
// and returns that error once every worker has exited. Registry and
// transport teardown is Shutdown's job, not Simulate's — call Shutdown
// once Simulate returns, regardless of the error it returns.
func (m *Manager) Simulate(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(m.workers))
	for _, w := range m.workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			if err := w.Run(runCtx); err != nil {
				errCh <- err
				cancel()
			}
		}(w)
	}
	wg.Wait()
	close(errCh)

	var runErr error
	for err := range errCh {
		if runErr == nil {
			runErr = err
		}
	}

	m.finalize()
	return runErr
}

// finalize runs Finalize on every local agent, then performs the
// final-sweep NUMA transfer spec §4.7 describes: non-manager workers
// hand their pending recycled buffers to cfg.ManagerRank, which absorbs
// everything handed to it and logs the total swept. Registry and
// transport stay up: Shutdown is the single teardown entry point for
// those, called once by the caller after Simulate returns.
func (m *Manager) finalize() {
	for _, w := range m.workers {
		w.Finalize()
	}

	swept := 0
	for rank, w := range m.workers {
		if rank == m.cfg.ManagerRank {
			continue
		}
		for _, b := range w.PendingRedistribution() {
			swept += len(b.Chunks)
			if err := m.sendRedistribution(m.cfg.ManagerRank, b); err != nil {
				m.logger.Warn().Err(err).Int("rank", rank).Msg("final-sweep redistribution transfer failed")
			}
		}
	}
	m.swept = int64(swept)
	m.logger.Info().Int("chunks_swept", swept).Int("manager_rank", m.cfg.ManagerRank).
		Msg("final NUMA sweep complete")
}

// Worker returns the locally-hosted worker for rank, or nil if rank is
// not local to this process. Exposed for metrics collection.
func (m *Manager) Worker(rank int) *worker.Worker {
	return m.workers[rank]
}

// LocalRanks returns every rank this process hosts.
func (m *Manager) LocalRanks() []int {
	ranks := make([]int, 0, len(m.workers))
	for r := range m.workers {
		ranks = append(ranks, r)
	}
	return ranks
}

// IsLeader reports whether this process's registry node is the current
// Raft leader. Always false when no registry is configured.
func (m *Manager) IsLeader() bool {
	if m.registry == nil {
		return false
	}
	return m.registry.IsLeader()
}

// MemberCount reports how many ranks the cluster registry currently
// knows about, or the local worker count when no registry is configured.
func (m *Manager) MemberCount() int {
	if m.registry == nil {
		return len(m.workers)
	}
	return len(m.registry.Members())
}

// TransportRetries reports how many outbound frames this process's
// cross-process transport has had to retry after a transient send
// failure, or zero when no transport is configured.
func (m *Manager) TransportRetries() int64 {
	if m.transport == nil {
		return 0
	}
	return m.transport.RetryCount()
}

// SweptChunks reports how many recycled event buffers the final NUMA
// sweep transferred to the manager rank. Zero until Simulate's Finalize
// phase has run.
func (m *Manager) SweptChunks() int64 {
	return m.swept
}

// Shutdown tears down this process's cluster registry and cross-process
// transport, in that order. Call it after Simulate returns. Idempotent
// with a nil registry/transport, the single-process-run case.
func (m *Manager) Shutdown() error {
	if m.registry != nil {
		if err := m.registry.Shutdown(); err != nil {
			return fmt.Errorf("manager: shutting down registry: %w", err)
		}
	}
	if m.transport != nil {
		m.transport.Close()
	}
	return nil
}
