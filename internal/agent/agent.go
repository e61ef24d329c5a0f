package agent

import (
	"fmt"

	"github.com/raodj/musesim/internal/types"
)

// State is implemented by every application-defined agent state. Clone
// must return an independent deep copy: the worker snapshots state
// before every batch delivery, and a later rollback restores an older
// clone by swapping it back in through Agent.SetState, never by mutating
// the live value in place.
type State interface {
	Clone() State
}

// Scheduler is the subset of worker functionality an Agent is allowed
// to call from Initialize or ExecuteTask: the current local virtual
// time, and the ability to schedule a future event.
type Scheduler interface {
	Now() types.Time
	ScheduleEvent(e *types.Event) error
}

// Agent is the application contract (spec §4.2, C2). Implementations
// must not retain the batch slice passed to ExecuteTask past the call.
type Agent interface {
	// Initialize runs once before the first event is delivered. It may
	// schedule startup events via sched.
	Initialize(sched Scheduler) error
	// ExecuteTask processes every event destined for this agent at one
	// virtual time, delivered together as a simultaneous batch.
	ExecuteTask(sched Scheduler, batch []*types.Event) error
	// Finalize runs once after the simulation horizon is reached.
	Finalize()
	// State returns the agent's current State, or nil if the agent keeps
	// no state the kernel needs to snapshot. The worker clones the
	// returned value before every batch.
	State() State
	// SetState swaps the agent's current State for snapshot, restoring a
	// previously cloned value after a rollback. The worker never calls
	// State or SetState from any goroutine but the one driving this
	// agent.
	SetState(snapshot State)
}

// ErrPastHorizon is returned when an agent attempts to schedule an
// event at or before the current LVT or GVT — a model bug, per spec
// §4.2 "this is a model bug, not recoverable".
var ErrPastHorizon = fmt.Errorf("agent: scheduled event receive_time is not strictly after the current horizon")

// snapshot pairs a cloned State with the virtual time it was taken at.
type snapshot struct {
	at    types.Time
	state State
}

// History is the per-agent rollback ledger (spec §4.2): a stack of
// state snapshots keyed by receive_time, the suffix of delivered input
// events, and the suffix of events this agent has sent. All three grow
// monotonically with LVT and are truncated from the tail on rollback.
type History struct {
	snapshots []snapshot
	input     []*types.Event
	output    []*types.Event
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// RecordSnapshot pushes a clone of state tagged with the batch's
// receive_time, to be restored if a straggler arrives at or before it.
func (h *History) RecordSnapshot(at types.Time, state State) {
	h.snapshots = append(h.snapshots, snapshot{at: at, state: state})
}

// RecordDelivered appends an event this agent just consumed to the
// input-queue history, used to replay the suffix after a rollback.
func (h *History) RecordDelivered(e *types.Event) {
	h.input = append(h.input, e)
}

// RecordSent appends an event this agent just scheduled to the
// output-queue history, used to generate anti-messages on rollback.
func (h *History) RecordSent(e *types.Event) {
	h.output = append(h.output, e)
}

// RestoreTo undoes all history strictly after straggler time t: it
// returns the newest state snapshot with key <= t (or nil if none
// exists, meaning the agent must be restored to its pre-initialize
// state by the caller), the input events with receive_time > t to be
// re-inserted into the scheduler queue, and the output events with
// send_time > t to be retracted via anti-messages. All three ledgers
// are truncated to reflect the rollback.
func (h *History) RestoreTo(t types.Time) (restored State, reinsert, retract []*types.Event) {
	cut := len(h.snapshots)
	for cut > 0 && h.snapshots[cut-1].at > t {
		cut--
	}
	if cut > 0 {
		restored = h.snapshots[cut-1].state
	}
	h.snapshots = h.snapshots[:cut]

	icut := len(h.input)
	for icut > 0 && h.input[icut-1].ReceiveTime > t {
		icut--
	}
	reinsert = append([]*types.Event(nil), h.input[icut:]...)
	h.input = h.input[:icut]

	ocut := len(h.output)
	for ocut > 0 && h.output[ocut-1].SendTime > t {
		ocut--
	}
	retract = append([]*types.Event(nil), h.output[ocut:]...)
	h.output = h.output[:ocut]

	return restored, reinsert, retract
}

// FossilCollect drops history no longer needed once gvt has advanced
// past it (spec §4.3 fossil_collect): output events with send_time <
// gvt, input events with receive_time < gvt, and every snapshot older
// than the newest one with key <= gvt. It returns how many entries of
// each kind were dropped, for metrics.
func (h *History) FossilCollect(gvt types.Time) (droppedSnapshots, droppedInput, droppedOutput int) {
	newest := -1
	for i, s := range h.snapshots {
		if s.at > gvt {
			break
		}
		newest = i
	}
	if newest > 0 {
		droppedSnapshots = newest
		h.snapshots = h.snapshots[newest:]
	}

	icut := 0
	for icut < len(h.input) && h.input[icut].ReceiveTime < gvt {
		icut++
	}
	droppedInput = icut
	h.input = h.input[icut:]

	ocut := 0
	for ocut < len(h.output) && h.output[ocut].SendTime < gvt {
		ocut++
	}
	droppedOutput = ocut
	h.output = h.output[ocut:]

	return droppedSnapshots, droppedInput, droppedOutput
}

// SnapshotCount, InputCount and OutputCount expose the ledger sizes for
// metrics and tests.
func (h *History) SnapshotCount() int { return len(h.snapshots) }
func (h *History) InputCount() int    { return len(h.input) }
func (h *History) OutputCount() int   { return len(h.output) }
