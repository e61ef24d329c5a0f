package worker

import (
	"github.com/raodj/musesim/internal/agent"
	"github.com/raodj/musesim/internal/types"
)

// agentScheduler is the agent.Scheduler an Agent sees from Initialize
// and ExecuteTask: it pins "now" to the virtual time of the batch
// currently being delivered and routes every ScheduleEvent call through
// the owning Worker's send path.
type agentScheduler struct {
	w    *Worker
	self types.AgentID
	now  types.Time
}

func (s *agentScheduler) Now() types.Time { return s.now }

func (s *agentScheduler) ScheduleEvent(e *types.Event) error {
	e.Sender = s.self
	e.SendTime = s.now
	return s.w.scheduleFrom(s.self, s.now, e)
}

var _ agent.Scheduler = (*agentScheduler)(nil)
