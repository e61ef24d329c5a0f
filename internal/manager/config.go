package manager

import (
	"fmt"
	"time"

	"github.com/raodj/musesim/internal/mtqueue"
	"github.com/raodj/musesim/internal/notify"
	"github.com/raodj/musesim/internal/registry"
	"github.com/raodj/musesim/internal/types"
)

// Config is everything the manager needs to parse out of the CLI/config
// file (spec §6) before it can build workers: thread count, mt-queue
// kind, dealloc threshold, shared-events flag, end-time, GVT poll
// period, max cross-node poll batch, plus the registry/transport wiring
// an actual process needs that spec.md leaves to "the manager".
type Config struct {
	// LocalRanks are the worker ranks this process hosts (threadsPerNode
	// of them for a single-process run; a subset of [0, NumWorkers) for
	// a multi-process one).
	LocalRanks []int
	// NumWorkers is the total rank count across the whole run, local and
	// remote.
	NumWorkers int
	// ManagerRank is the rank that performs the final NUMA sweep on
	// Finalize (spec §4.7's "the manager, which performs a final
	// sweep"). Conventionally rank 0, the GVT ring's initiator.
	ManagerRank int

	StartTime types.Time
	EndTime   types.Time

	QueueKind      mtqueue.Kind
	QueueCapacity  int
	QueueShards    int
	MaxPollPerStep int // --max-mpi-batch

	UseSharedEvents bool // --use-shared-events
	DeallocThresh   float64 // --dealloc-thresh, f in (0,1]

	GVTInterval          time.Duration // derived from --gvt-delay-rate
	RedistributeInterval time.Duration

	// NumaNodeFor maps a local rank to the logical NUMA node its
	// recycler should use. Nil means every rank uses node 0.
	NumaNodeFor func(rank int) int

	// ListenAddr is this process's inbound address for the cross-process
	// transport (C4 tier 2). Empty disables listening; appropriate for a
	// single-process run or a process with only outbound peers.
	ListenAddr string
	// PeerAddr maps a non-local rank to the transport address of the
	// process hosting it. Empty for single-process runs.
	PeerAddr map[int]string

	// Registry configures this process's Raft node for the cluster
	// registry. Zero value disables the registry; partitioning then
	// relies entirely on this process's own round-robin bookkeeping,
	// appropriate for a single-process run.
	Registry registry.Config
	// Bootstrap selects whether this process bootstraps a new
	// single-voter (or first-voter) Raft cluster, versus joining one
	// already bootstrapped elsewhere via LeaderRaftAddr.
	Bootstrap      bool
	LeaderRaftAddr string

	// Notifier, if set, is handed to every local worker so rollback and
	// GVT-advance events reach any external subscriber. Nil disables
	// notification entirely.
	Notifier *notify.Broker
}

// QueueKindFromFlag maps the --mt-queue flag's five spec.md §6 values
// onto the four interchangeable internal/mtqueue implementations. The
// reference kernel's "-sl" (spin-lock) suffix distinguishes a spin-lock
// variant of the sharded queue from a mutex-based one; this port has a
// single sharded implementation, so both multi-blocking and
// multi-blocking-sl select it (see DESIGN.md).
func QueueKindFromFlag(flag string) (mtqueue.Kind, error) {
	switch flag {
	case "single-blocking":
		return mtqueue.KindMutex, nil
	case "single-blocking-sl":
		return mtqueue.KindSpin, nil
	case "multi-blocking", "multi-blocking-sl":
		return mtqueue.KindSharded, nil
	case "multi-non-blocking":
		return mtqueue.KindLockFree, nil
	default:
		return 0, fmt.Errorf("manager: unknown --mt-queue value %q", flag)
	}
}

// RedistributeIntervalFromThresh turns the --dealloc-thresh CLI flag
// (spec §6: "f ∈ (0,1]", the target fraction of recycled-vs-allocated
// buffers the reference kernel's deferred-deallocation scan adapts its
// interval around) into a ticker period for internal/worker's
// redistribute loop: a lower threshold means surplus buffers should be
// shipped off sooner, so it maps to a shorter interval scaled off the
// worker package's own 500ms default. thresh <= 0 falls back to that
// default.
func RedistributeIntervalFromThresh(thresh float64) time.Duration {
	if thresh <= 0 || thresh > 1 {
		return 0
	}
	return time.Duration(thresh * float64(500*time.Millisecond))
}

// GVTIntervalFromDelayRate turns the --gvt-delay-rate CLI flag (spec
// §6: a poll count, in the reference kernel's terms "start a GVT round
// every N worker steps") into a wall-clock ticker period. This port
// drives the GVT round off a ticker rather than a step counter (see
// DESIGN.md "Open Questions resolved"), so a higher rate maps to a
// shorter interval; rate <= 0 falls back to the worker package default.
func GVTIntervalFromDelayRate(rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	interval := time.Second / time.Duration(rate)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return interval
}
