package metrics

import (
	"time"

	"github.com/raodj/musesim/internal/manager"
)

// Collector periodically samples a Manager's local workers and registry
// onto the package's Prometheus collectors, the way the teacher's
// pkg/metrics.Collector samples a *manager.Manager on a ticker rather
// than updating metrics inline from request handlers.
type Collector struct {
	mgr    *manager.Manager
	period time.Duration
	stopCh chan struct{}
}

// NewCollector creates a Collector sampling mgr every period. period <=
// 0 falls back to 15 seconds, the teacher's default sampling interval.
func NewCollector(mgr *manager.Manager, period time.Duration) *Collector {
	if period <= 0 {
		period = 15 * time.Second
	}
	return &Collector{mgr: mgr, period: period, stopCh: make(chan struct{})}
}

// Start begins sampling in the background. Call Stop to end it.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.period)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the background sampling goroutine.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectWorkerMetrics()
	c.collectRegistryMetrics()
}

func (c *Collector) collectWorkerMetrics() {
	for _, rank := range c.mgr.LocalRanks() {
		w := c.mgr.Worker(rank)
		if w == nil {
			continue
		}
		label := rankLabel(rank)

		GVT.WithLabelValues(label).Set(float64(w.GVT()))
		QueueDepth.WithLabelValues(label).Set(float64(w.QueueDepth()))
		RollbacksTotal.WithLabelValues(label).Set(float64(w.Rollbacks()))
		AntiMessagesTotal.WithLabelValues(label).Set(float64(w.AntiMessages()))
		EventsExecutedTotal.WithLabelValues(label).Set(float64(w.Executed()))
		RecyclerPendingEvents.WithLabelValues(label).Set(float64(w.PendingEvents()))

		stats := w.RecyclerStats()
		RecyclerAllocCalls.WithLabelValues(label).Set(float64(stats.AllocCalls))
		RecyclerDeallocCalls.WithLabelValues(label).Set(float64(stats.DeallocCalls))
		RecyclerRecycleHits.WithLabelValues(label).Set(float64(stats.RecycleHits))
	}

	TransportRetriesTotal.Set(float64(c.mgr.TransportRetries()))
	RedistributionChunksTotal.Set(float64(c.mgr.SweptChunks()))
}

func (c *Collector) collectRegistryMetrics() {
	if c.mgr.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	ClusterMembers.Set(float64(c.mgr.MemberCount()))
}
