// Package bench implements PHOLD, the synthetic nearest-neighbor
// workload the reference kernel ships as its own stress test
// (spec.md's Non-goals exclude the kernel owning a "concrete
// application model", so this lives outside internal/agent itself and
// exists only for cmd/musesim to have something runnable to point the
// kernel at).
package bench

import (
	"github.com/raodj/musesim/internal/agent"
	"github.com/raodj/musesim/internal/types"
)

// PholdState tracks which of the four grid neighbors receives this
// agent's next event. Agents cycle through west, north, south, east in
// that order, exactly as the reference PHOLDAgent's Change[4] index
// does.
type PholdState struct {
	NeighborIndex int
}

// Clone returns an independent copy for the kernel's snapshot/rollback
// machinery.
func (s *PholdState) Clone() agent.State {
	clone := *s
	return &clone
}

// PholdAgent is one cell of an X-by-Y torus grid. Every event it
// receives triggers exactly one more event, sent to one of its four
// grid neighbors in round-robin order, one virtual-time unit later —
// the reference PHOLD benchmark's fixed, model-free load shape.
type PholdAgent struct {
	id            types.AgentID
	gridX, gridY  int
	initialEvents int
	endTime       types.Time

	state *PholdState
}

// NewPholdAgent creates the PHOLD agent occupying grid cell id in a
// gridX-by-gridY torus. initialEvents self-events are scheduled at
// Initialize; every execution produces exactly one more event, as long
// as its receive time stays strictly before endTime.
func NewPholdAgent(id types.AgentID, gridX, gridY, initialEvents int, endTime types.Time) *PholdAgent {
	return &PholdAgent{
		id:            id,
		gridX:         gridX,
		gridY:         gridY,
		initialEvents: initialEvents,
		endTime:       endTime,
		state:         &PholdState{},
	}
}

// Initialize schedules initialEvents self-addressed events, matching
// the reference PHOLDAgent::initialize's self-loop startup events.
func (a *PholdAgent) Initialize(sched agent.Scheduler) error {
	for i := 0; i < a.initialEvents; i++ {
		receive := sched.Now() + 1
		if receive >= a.endTime {
			break
		}
		if err := sched.ScheduleEvent(&types.Event{Receiver: a.id, ReceiveTime: receive}); err != nil {
			return err
		}
	}
	return nil
}

// neighborDelta is the reference kernel's Change[4] array: west, north,
// south, east offsets into a row-major X-by-Y grid.
func (a *PholdAgent) neighborDelta() int {
	switch a.state.NeighborIndex {
	case 0:
		return -1
	case 1:
		return -a.gridY
	case 2:
		return a.gridY
	default:
		return 1
	}
}

// ExecuteTask sends exactly one event per received event, to the next
// neighbor in round-robin order, wrapping at the grid's torus edges.
func (a *PholdAgent) ExecuteTask(sched agent.Scheduler, batch []*types.Event) error {
	total := a.gridX * a.gridY
	for range batch {
		receive := sched.Now() + 1
		if receive >= a.endTime {
			continue
		}

		delta := a.neighborDelta()
		a.state.NeighborIndex = (a.state.NeighborIndex + 1) % 4

		receiver := int(a.id) + delta
		if receiver < 0 {
			receiver += total
		}
		if receiver >= total {
			receiver -= total
		}

		if err := sched.ScheduleEvent(&types.Event{
			Receiver:    types.AgentID(receiver),
			ReceiveTime: receive,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Finalize does nothing; PHOLD has no end-of-run bookkeeping.
func (a *PholdAgent) Finalize() {}

// State returns this agent's neighbor-rotation counter.
func (a *PholdAgent) State() agent.State { return a.state }

// SetState restores a previously cloned neighbor-rotation counter.
func (a *PholdAgent) SetState(s agent.State) { a.state = s.(*PholdState) }
