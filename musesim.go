package musesim

import (
	"context"
	"fmt"
	"io"

	"github.com/raodj/musesim/internal/agent"
	"github.com/raodj/musesim/internal/manager"
	"github.com/raodj/musesim/internal/notify"
	"github.com/raodj/musesim/internal/outstream"
	"github.com/raodj/musesim/internal/types"
)

// Agent, State, Scheduler, AgentID and Time re-export the application
// contract internal/agent and internal/types define, since an embedding
// program cannot import internal packages directly.
type (
	Agent     = agent.Agent
	State     = agent.State
	Scheduler = agent.Scheduler
	AgentID   = types.AgentID
	Time      = types.Time
	Event     = types.Event
)

// OutputStream re-exports internal/outstream.Stream, the rollback-safe
// per-agent output buffer RegisterAgent optionally attaches.
type OutputStream = outstream.Stream

// NewOutputStream wraps sink (typically an *os.File or a bytes.Buffer
// in tests) so writes through it survive rollback correctly.
func NewOutputStream(sink io.Writer) *OutputStream {
	return outstream.NewStream(sink)
}

// QueueKind selects the scheduler queue implementation each worker
// uses (spec §6 --mt-queue); the string values match the CLI flag's
// vocabulary exactly.
type QueueKind string

const (
	QueueSingleBlocking   QueueKind = "single-blocking"
	QueueSingleBlockingSL QueueKind = "single-blocking-sl"
	QueueMultiBlocking    QueueKind = "multi-blocking"
	QueueMultiBlockingSL  QueueKind = "multi-blocking-sl"
	QueueMultiNonBlocking QueueKind = "multi-non-blocking"
)

// Config is everything a single-process embedding needs to run a
// simulation. Multi-process clustering (the cluster registry,
// cross-process transport) stays internal/manager.Config's concern;
// reach for cmd/musesim's `run` flags when that's required.
type Config struct {
	// Workers is how many worker goroutines to run, each owning a
	// disjoint slice of registered agents.
	Workers int
	// EndTime is the virtual time at which Run stops.
	EndTime Time

	// Queue selects the scheduler queue kind; the zero value defaults
	// to QueueMultiBlocking.
	Queue QueueKind
	// QueueShards sets the sharded queue's shard count; the zero value
	// defaults to 8.
	QueueShards int

	// DeallocThresh is the target recycled/allocated fraction driving
	// the NUMA redistribution interval, in (0,1]; the zero value falls
	// back to internal/worker's 500ms default.
	DeallocThresh float64
	// UseSharedEvents enables deferred deallocation for events shared
	// across a read race (spec §6 --use-shared-events).
	UseSharedEvents bool
	// GVTDelayRate is how many GVT rounds run per second; the zero
	// value falls back to internal/worker's default.
	GVTDelayRate int
}

// Simulation is one single-process run: a thin, friendlier wrapper
// over internal/manager.Manager for programs embedding the kernel
// directly instead of driving it through cmd/musesim.
type Simulation struct {
	mgr     *manager.Manager
	broker  *notify.Broker
	started bool
}

// New builds a Simulation from cfg. Register every agent before
// calling Run.
func New(cfg Config) (*Simulation, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueShards <= 0 {
		cfg.QueueShards = 8
	}
	queue := cfg.Queue
	if queue == "" {
		queue = QueueMultiBlocking
	}
	queueKind, err := manager.QueueKindFromFlag(string(queue))
	if err != nil {
		return nil, err
	}

	localRanks := make([]int, cfg.Workers)
	for i := range localRanks {
		localRanks[i] = i
	}

	broker := notify.NewBroker()

	mgr, err := manager.NewManager(manager.Config{
		LocalRanks:      localRanks,
		NumWorkers:      cfg.Workers,
		ManagerRank:     0,
		StartTime:       0,
		EndTime:         cfg.EndTime,
		QueueKind:       queueKind,
		QueueCapacity:   4096,
		QueueShards:     cfg.QueueShards,
		MaxPollPerStep:  64,
		UseSharedEvents: cfg.UseSharedEvents,
		DeallocThresh:   cfg.DeallocThresh,
		GVTInterval:     manager.GVTIntervalFromDelayRate(cfg.GVTDelayRate),
		Notifier:        broker,
	})
	if err != nil {
		return nil, fmt.Errorf("musesim: building simulation: %w", err)
	}

	return &Simulation{mgr: mgr, broker: broker}, nil
}

// RegisterAgent adds a logical process to the simulation. out may be
// nil when the agent produces no rollback-sensitive output.
// preferredRank pins the agent to a specific worker; -1 assigns it
// round-robin across Config.Workers.
func (s *Simulation) RegisterAgent(id AgentID, a Agent, out *OutputStream, preferredRank int) error {
	return s.mgr.RegisterAgent(id, a, out, preferredRank)
}

// Subscribe returns a channel receiving a best-effort notification for
// every rollback and GVT advance across the whole run (spec's rollback
// and GVT machinery, surfaced for an embedding program's own logging
// or monitoring).
func (s *Simulation) Subscribe() <-chan notify.Event {
	return s.broker.Subscribe()
}

// Run initializes every registered agent and drives the optimistic
// simulation loop until ctx is cancelled or every worker reaches
// Config.EndTime with nothing left in flight.
func (s *Simulation) Run(ctx context.Context) error {
	if !s.started {
		if err := s.mgr.Initialize(); err != nil {
			return fmt.Errorf("musesim: initializing: %w", err)
		}
		s.started = true
	}
	return s.mgr.Simulate(ctx)
}

// Shutdown releases resources Run did not already release (the
// notification broker and, for a clustered Config, the registry and
// transport). Call it once, after Run returns.
func (s *Simulation) Shutdown() error {
	s.broker.Stop()
	return s.mgr.Shutdown()
}

// GVT returns worker rank's last-committed Global Virtual Time.
func (s *Simulation) GVT(rank int) Time {
	w := s.mgr.Worker(rank)
	if w == nil {
		return 0
	}
	return w.GVT()
}
