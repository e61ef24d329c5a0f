package event

import (
	"fmt"

	"github.com/raodj/musesim/internal/agent"
	"github.com/raodj/musesim/internal/types"
)

// ModelError reports a detected causality violation (spec §4.2/§7): an
// agent scheduled an event with receive_time at or before the current
// horizon. This is a model bug, not a transient failure — the kernel
// does not attempt to recover, it aborts the run.
type ModelError struct {
	AgentID     types.AgentID
	ReceiveTime types.Time
	Horizon     types.Time
	Err         error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model bug: agent %d scheduled receive_time %v at or before horizon %v: %v",
		e.AgentID, e.ReceiveTime, e.Horizon, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// NewPastHorizonError wraps agent.ErrPastHorizon with the context
// needed to log and diagnose it: which agent, what receive_time it
// attempted to schedule, and the horizon that rejected it.
func NewPastHorizonError(agentID types.AgentID, receiveTime, horizon types.Time) *ModelError {
	return &ModelError{
		AgentID:     agentID,
		ReceiveTime: receiveTime,
		Horizon:     horizon,
		Err:         agent.ErrPastHorizon,
	}
}
