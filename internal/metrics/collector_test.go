package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/raodj/musesim/internal/agent"
	"github.com/raodj/musesim/internal/manager"
	"github.com/raodj/musesim/internal/mtqueue"
	"github.com/raodj/musesim/internal/types"
)

type noopState struct{}

func (noopState) Clone() agent.State { return noopState{} }

type quietAgent struct{ peer types.AgentID }

func (a *quietAgent) Initialize(sched agent.Scheduler) error {
	return sched.ScheduleEvent(&types.Event{Receiver: a.peer, ReceiveTime: sched.Now() + 1})
}
func (a *quietAgent) ExecuteTask(sched agent.Scheduler, _ []*types.Event) error { return nil }
func (a *quietAgent) Finalize()                                                {}
func (a *quietAgent) State() agent.State                                       { return noopState{} }
func (a *quietAgent) SetState(agent.State)                                     {}

func newSampledManager(t *testing.T) *manager.Manager {
	t.Helper()
	m, err := manager.NewManager(manager.Config{
		LocalRanks:     []int{0},
		NumWorkers:     1,
		ManagerRank:    0,
		StartTime:      0,
		EndTime:        3,
		QueueKind:      mtqueue.KindMutex,
		QueueCapacity:  64,
		MaxPollPerStep: 16,
		GVTInterval:    2 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, m.RegisterAgent(0, &quietAgent{peer: 0}, nil, 0))
	require.NoError(t, m.Initialize())
	return m
}

func TestCollectorSamplesWorkerGauges(t *testing.T) {
	m := newSampledManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Simulate(ctx))

	c := NewCollector(m, time.Hour)
	c.collect()

	require.GreaterOrEqual(t, testutil.ToFloat64(GVT.WithLabelValues("0")), float64(0))
	require.GreaterOrEqual(t, testutil.ToFloat64(EventsExecutedTotal.WithLabelValues("0")), float64(0))
	require.Equal(t, float64(0), testutil.ToFloat64(RaftLeader))
	require.Equal(t, float64(1), testutil.ToFloat64(ClusterMembers))
}

func TestCollectorStartStopDoesNotPanic(t *testing.T) {
	m := newSampledManager(t)
	c := NewCollector(m, 10*time.Millisecond)
	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop()
}
