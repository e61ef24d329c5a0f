package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/raodj/musesim/internal/agent"
	"github.com/raodj/musesim/internal/event"
	"github.com/raodj/musesim/internal/gvt"
	"github.com/raodj/musesim/internal/log"
	"github.com/raodj/musesim/internal/mtqueue"
	"github.com/raodj/musesim/internal/notify"
	"github.com/raodj/musesim/internal/numa"
	"github.com/raodj/musesim/internal/outstream"
	"github.com/raodj/musesim/internal/schedq"
	"github.com/raodj/musesim/internal/transport"
	"github.com/raodj/musesim/internal/types"
)

// agentSlot is everything a Worker tracks for one locally-owned agent.
type agentSlot struct {
	agent   agent.Agent
	history *agent.History
	out     *outstream.Stream
	lvt     types.Time
}

// Config wires a Worker into the rest of the simulation (spec §4.4/§4.6):
// who owns which agent, how to hand an event to a remote worker, and the
// two transport tiers this worker should drain each step. The caller —
// ultimately the simulation manager (C7) — decides for every destination
// rank whether Send ends up as a direct in-process call to that worker's
// DeliverEvent, or a wire send over Transport.
type Config struct {
	Rank       int
	NumWorkers int
	NumaNode   int
	StartTime  types.Time
	EndTime    types.Time

	// Owner maps every agent id in the simulation to the rank of the
	// worker that runs it, local agents included.
	Owner map[types.AgentID]int

	// Send delivers an already colour-tagged event to a peer worker.
	// Never called for this worker's own rank.
	Send func(destRank int, e *types.Event) error
	// SendToken delivers a GVT control token to a peer worker.
	SendToken gvt.Sender
	// SendRedistribution delivers a NUMA recycler batch to a peer
	// worker. Nil disables redistribution entirely.
	SendRedistribution func(destRank int, b numa.Batch) error

	// Transport is this process's cross-node tier (C4 tier 2); nil for
	// a single-process run or a worker with no remote peers.
	Transport *transport.Transport

	QueueKind      mtqueue.Kind
	QueueCapacity  int
	QueueShards    int
	MaxPollPerStep int

	// UseSharedEvents selects deferred deallocation: released buffers
	// queue for the next fossil-collection scan instead of freeing
	// immediately, so a concurrent reader racing the last release never
	// observes a reused buffer (spec §4.1, §6 "--use-shared-events").
	UseSharedEvents bool

	GVTInterval          time.Duration
	RedistributeInterval time.Duration

	// Notifier, if set, receives a best-effort event on every rollback
	// and GVT advance this worker performs. Nil disables notification
	// entirely; Publish on a nil Notifier is never called.
	Notifier *notify.Broker
}

// Worker drives the optimistic execution loop for the agents it owns
// (spec §4.6, C6): it is the single point that pops batches off the
// scheduler queue, detects stragglers, rolls them back, and reacts to
// GVT advancing by fossil-collecting history, the queue, and recycled
// event memory.
type Worker struct {
	cfg Config

	mu     sync.Mutex
	agents map[types.AgentID]*agentSlot

	queue    *schedq.Queue
	recycler *event.Recycler
	inbound  mtqueue.Queue
	gvtMgr   *gvt.Manager

	stopCh chan struct{}
	wg     sync.WaitGroup

	rollbacks    int64
	antiMessages int64
	executed     int64

	// fatalErr is set once ExecuteTask surfaces a model bug (spec §4.2,
	// §7): a causality violation the kernel does not attempt to recover
	// from. Once set, Run stops this worker's loop and returns it.
	fatalErr error

	logger zerolog.Logger
}

// NewWorker creates a Worker for one rank. RegisterAgent must be called
// for every agent cfg.Owner assigns to this rank before Run starts.
func NewWorker(cfg Config) *Worker {
	if cfg.MaxPollPerStep <= 0 {
		cfg.MaxPollPerStep = 256
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 4096
	}
	if cfg.GVTInterval <= 0 {
		cfg.GVTInterval = 50 * time.Millisecond
	}
	if cfg.RedistributeInterval <= 0 {
		cfg.RedistributeInterval = 500 * time.Millisecond
	}

	w := &Worker{
		cfg:      cfg,
		agents:   make(map[types.AgentID]*agentSlot),
		queue:    schedq.NewQueue(),
		recycler: event.NewRecycler(cfg.NumaNode, cfg.UseSharedEvents),
		inbound:  mtqueue.New(cfg.QueueKind, cfg.QueueCapacity, cfg.QueueShards),
		stopCh:   make(chan struct{}),
		logger:   log.WithWorker(cfg.Rank),
	}
	w.gvtMgr = gvt.NewManager(cfg.Rank, cfg.NumWorkers, cfg.StartTime, cfg.SendToken, w.localLGVT, w.onGVTAdvanced)
	return w
}

// RegisterAgent adds a to this worker under id. It must already appear
// in cfg.Owner mapped to this worker's rank.
func (w *Worker) RegisterAgent(id types.AgentID, a agent.Agent, out *outstream.Stream) error {
	if owner, ok := w.cfg.Owner[id]; !ok || owner != w.cfg.Rank {
		return fmt.Errorf("worker: agent %d is not assigned to rank %d", id, w.cfg.Rank)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.agents[id] = &agentSlot{agent: a, history: agent.NewHistory(), out: out, lvt: w.cfg.StartTime}
	return nil
}

// Init runs Initialize for every registered agent and records the
// baseline snapshot a straggler can always roll back to.
func (w *Worker) Init() error {
	w.mu.Lock()
	slots := make(map[types.AgentID]*agentSlot, len(w.agents))
	for id, slot := range w.agents {
		slots[id] = slot
	}
	w.mu.Unlock()
	// Initialize runs without w.mu held: ScheduleEvent calls back into
	// scheduleFrom, which takes w.mu itself.
	for id, slot := range slots {
		sched := &agentScheduler{w: w, self: id, now: w.cfg.StartTime}
		if err := slot.agent.Initialize(sched); err != nil {
			return fmt.Errorf("worker: agent %d Initialize: %w", id, err)
		}
		if cur := slot.agent.State(); cur != nil {
			w.mu.Lock()
			slot.history.RecordSnapshot(w.cfg.StartTime, cur.Clone())
			w.mu.Unlock()
		}
	}
	return nil
}

// localLGVT is the callback gvt.Manager uses to learn this worker's
// local virtual time: the smallest receive_time still live anywhere on
// this worker — either queued or the minimum LVT among its agents, if
// that is smaller (an idle agent's LVT never regresses below it).
func (w *Worker) localLGVT() types.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	min := types.Time(math.Inf(1))
	if e, ok := w.queue.PeekMin(); ok && e.ReceiveTime < min {
		min = e.ReceiveTime
	}
	for _, slot := range w.agents {
		if slot.lvt < min {
			min = slot.lvt
		}
	}
	return min
}

// onGVTAdvanced fires once a new GVT is durably committed: it fossil
// collects every agent's history, the scheduler queue, the recycler's
// deferred-deallocation list, and commits any output buffered behind
// the new horizon.
func (w *Worker) onGVTAdvanced(newGVT types.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, slot := range w.agents {
		ds, di, do := slot.history.FossilCollect(newGVT)
		if slot.out != nil {
			if _, err := slot.out.GarbageCollect(newGVT); err != nil {
				w.logger.Warn().Err(err).Uint32("agent", uint32(id)).Msg("committing agent output")
			}
		}
		w.logger.Debug().Uint32("agent", uint32(id)).Int("dropped_snapshots", ds).
			Int("dropped_input", di).Int("dropped_output", do).Float64("gvt", float64(newGVT)).
			Msg("fossil collected agent history")
	}
	dropped := w.queue.FossilCollect(newGVT, func(e *types.Event) { w.recycler.Deallocate(e.Payload) })
	reclaimed, remaining := w.recycler.ScanPending()
	w.logger.Debug().Float64("gvt", float64(newGVT)).Int("dropped_queue_events", dropped).
		Int("reclaimed_buffers", reclaimed).Int("pending_buffers", remaining).Msg("gvt advanced")

	if w.cfg.Notifier != nil {
		w.cfg.Notifier.Publish(notify.Event{
			Kind: notify.KindGVTAdvanced,
			At:   newGVT,
			Rank: w.cfg.Rank,
		})
	}
}

// scheduleFrom is called (always from this worker's own goroutine,
// synchronously inside Initialize/ExecuteTask) whenever an agent
// schedules e. It enforces the non-decreasing-horizon invariant,
// assigns e's GVT colour, and routes it to its destination.
func (w *Worker) scheduleFrom(self types.AgentID, now types.Time, e *types.Event) error {
	if e.ReceiveTime <= now {
		return event.NewPastHorizonError(self, e.ReceiveTime, now)
	}

	destRank, ok := w.cfg.Owner[e.Receiver]
	if !ok {
		return fmt.Errorf("worker: no owner registered for agent %d", e.Receiver)
	}

	color := w.gvtMgr.OnSendEvent(destRank, e.ReceiveTime)
	e.Color = color

	w.mu.Lock()
	if slot, ok := w.agents[self]; ok {
		slot.history.RecordSent(e)
	}
	w.mu.Unlock()

	if destRank == w.cfg.Rank {
		w.gvtMgr.OnReceiveEvent(color)
		clone := w.recycler.CloneForSend(e, w.cfg.NumaNode)
		w.queue.Insert(clone)
		return nil
	}

	clone := w.recycler.CloneForSend(e, w.cfg.NumaNode)
	if err := w.cfg.Send(destRank, clone); err != nil {
		return fmt.Errorf("worker: sending event to rank %d: %w", destRank, err)
	}
	return nil
}

// DeliverEvent accepts an event addressed to one of this worker's
// agents from a peer worker, whether that peer lives in this process or
// across the cross-node transport. It is safe to call concurrently from
// many peers (mtqueue's producer-many / consumer-one contract).
func (w *Worker) DeliverEvent(e *types.Event) {
	for !w.inbound.Push(e) {
		// Bounded queue: the spec's lock-free variants require the
		// producer to retry rather than block the sender permanently.
	}
}

// DeliverToken accepts a GVT control/estimate/ack token addressed to
// this worker.
func (w *Worker) DeliverToken(tok *types.GVTToken) error {
	switch tok.Kind {
	case types.TokenCtrl:
		return w.gvtMgr.ReceiveToken(tok)
	case types.TokenEstimate:
		return w.gvtMgr.ReceiveEstimate(tok)
	case types.TokenAck:
		w.gvtMgr.ReceiveAck(tok)
		return nil
	default:
		return fmt.Errorf("worker: unknown GVT token kind %d", tok.Kind)
	}
}

// ApplyRedistribution imports a NUMA recycler batch received from a
// peer worker.
func (w *Worker) ApplyRedistribution(b numa.Batch) {
	numa.Apply(w.recycler, b)
}

// handleWireFrame dispatches one decoded cross-node transport frame
// (spec §4.4 tier 2) to the matching Deliver* method.
func (w *Worker) handleWireFrame(fromRank int, kind types.MessageKind, payload []byte) {
	switch kind {
	case types.KindEvent:
		e, err := types.DecodeEventWire(payload)
		if err != nil {
			w.logger.Warn().Err(err).Int("from", fromRank).Msg("decoding wire event")
			return
		}
		w.DeliverEvent(e)
	case types.KindGVTCtrl, types.KindGVTEstimate, types.KindGVTAck:
		tok, err := types.DecodeGVTTokenWire(payload)
		if err != nil {
			w.logger.Warn().Err(err).Int("from", fromRank).Msg("decoding wire GVT token")
			return
		}
		if err := w.DeliverToken(tok); err != nil {
			w.logger.Warn().Err(err).Msg("handling GVT token")
		}
	case types.KindRedistribution:
		b, err := numa.DecodeBatchWire(payload)
		if err != nil {
			w.logger.Warn().Err(err).Int("from", fromRank).Msg("decoding redistribution batch")
			return
		}
		w.ApplyRedistribution(b)
	default:
		w.logger.Warn().Int("from", fromRank).Stringer("kind", kind).Msg("unhandled wire frame kind")
	}
}

// drainInbound merges every event waiting in the inbound queue and the
// cross-node transport into the live scheduler queue, decrementing this
// worker's GVT vector counter for each one's colour on the way in.
func (w *Worker) drainInbound() {
	if w.cfg.Transport != nil {
		w.cfg.Transport.Poll(w.cfg.MaxPollPerStep, w.handleWireFrame)
	}
	for _, e := range w.inbound.DrainUpTo(w.cfg.MaxPollPerStep) {
		w.gvtMgr.OnReceiveEvent(e.Color)
		w.queue.Insert(e)
	}
}

// checkStraggler inspects the scheduler queue's minimum event and, if
// it has fallen behind its receiving agent's LVT, triggers a rollback
// (spec §4.6 step 3). It returns true if a rollback occurred.
func (w *Worker) checkStraggler() bool {
	w.mu.Lock()
	e, ok := w.queue.PeekMin()
	if !ok {
		w.mu.Unlock()
		return false
	}
	slot, ok := w.agents[e.Receiver]
	if !ok || e.ReceiveTime >= slot.lvt {
		w.mu.Unlock()
		return false
	}
	w.mu.Unlock()

	w.rollback(e.Receiver, slot, e.ReceiveTime)
	return true
}

// rollback restores slot to the newest snapshot at or before t,
// re-inserts its input suffix, and sends anti-messages for its output
// suffix (spec §4.2/§4.6). Anti-messages are routed exactly like normal
// events, so a cascading rollback at another agent is simply that
// agent's own next straggler check firing once the anti-message lands.
func (w *Worker) rollback(self types.AgentID, slot *agentSlot, t types.Time) {
	restored, reinsert, retract := slot.history.RestoreTo(t)

	w.mu.Lock()
	if restored != nil {
		slot.agent.SetState(restored)
	}
	slot.lvt = t
	w.mu.Unlock()

	if slot.out != nil {
		slot.out.Rollback(t)
	}

	for _, e := range reinsert {
		w.queue.Insert(e)
	}

	for _, sent := range retract {
		anti := sent.Clone(sent.NumaNode)
		anti.MakeAntiMessage()
		w.antiMessages++
		if err := w.scheduleFrom(self, t, anti); err != nil {
			w.logger.Warn().Err(err).Msg("sending anti-message during rollback")
		}
	}

	w.rollbacks++
	w.logger.Debug().Uint32("agent", uint32(self)).Float64("to", float64(t)).
		Int("reinserted", len(reinsert)).Int("retracted", len(retract)).Msg("rollback")

	if w.cfg.Notifier != nil {
		w.cfg.Notifier.Publish(notify.Event{
			Kind:    notify.KindRollback,
			At:      t,
			Rank:    w.cfg.Rank,
			AgentID: self,
		})
	}
}

// Step runs one iteration of the optimistic loop: drain inbound
// traffic, resolve any straggler, then pop and deliver the next
// simultaneous batch. It returns false when there is currently nothing
// to do (the caller should back off briefly before calling again), and
// on every call once a model bug has stopped this worker (see FatalErr).
func (w *Worker) Step() bool {
	if w.FatalErr() != nil {
		return false
	}
	w.drainInbound()

	if w.checkStraggler() {
		return true
	}

	w.mu.Lock()
	batch := w.queue.PopBatchForMinAgent()
	w.mu.Unlock()
	if len(batch) == 0 {
		return false
	}

	receiver := batch[0].Receiver
	at := batch[0].ReceiveTime

	w.mu.Lock()
	slot, ok := w.agents[receiver]
	w.mu.Unlock()
	if !ok {
		w.logger.Warn().Uint32("agent", uint32(receiver)).Msg("dropping batch for unregistered agent")
		return true
	}

	w.mu.Lock()
	if cur := slot.agent.State(); cur != nil {
		slot.history.RecordSnapshot(at, cur.Clone())
	}
	for _, e := range batch {
		slot.history.RecordDelivered(e)
	}
	slot.lvt = at
	w.mu.Unlock()

	sched := &agentScheduler{w: w, self: receiver, now: at}
	err := slot.agent.ExecuteTask(sched, batch)
	w.executed++

	for _, e := range batch {
		w.recycler.Release(e)
	}

	if err != nil {
		if errors.Is(err, agent.ErrPastHorizon) {
			w.mu.Lock()
			if w.fatalErr == nil {
				w.fatalErr = fmt.Errorf("worker: agent %d ExecuteTask: %w", receiver, err)
			}
			w.mu.Unlock()
			w.logger.Error().Err(err).Uint32("agent", uint32(receiver)).Float64("at", float64(at)).
				Msg("model bug detected in ExecuteTask, aborting worker")
			return true
		}
		w.logger.Error().Err(err).Uint32("agent", uint32(receiver)).Msg("ExecuteTask failed")
	}
	return true
}

// FatalErr returns the unrecoverable model-bug error that stopped this
// worker's loop, or nil if none has occurred. Run returns this error;
// Manager.Simulate propagates it to the caller and cancels every other
// local worker's run (spec §4.2/§7: the kernel aborts the whole run,
// not just the rank that detected the violation).
func (w *Worker) FatalErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fatalErr
}

// Run drives Step in a loop until ctx is cancelled, a model bug aborts
// this worker (FatalErr becomes non-nil), or this worker's local view
// of GVT reaches cfg.EndTime with nothing left in flight. It also
// starts the background GVT-round and NUMA-redistribution tickers,
// mirroring the teacher's heartbeat/executor ticker loops.
func (w *Worker) Run(ctx context.Context) error {
	w.wg.Add(1)
	go w.gvtTickerLoop()
	if w.cfg.SendRedistribution != nil {
		w.wg.Add(1)
		go w.redistributeTickerLoop()
	}

	idle := 0
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			w.wg.Wait()
			return nil
		default:
		}

		if err := w.FatalErr(); err != nil {
			w.Stop()
			w.wg.Wait()
			return err
		}

		if w.gvtMgr.GVT() >= w.cfg.EndTime && !w.hasWork() {
			w.Stop()
			w.wg.Wait()
			return nil
		}

		if w.Step() {
			idle = 0
			continue
		}
		idle++
		time.Sleep(time.Duration(min(idle, 20)) * time.Millisecond)
	}
}

func (w *Worker) hasWork() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.queue.PeekMin(); ok {
		return true
	}
	return w.inbound.Len() > 0 || w.gvtMgr.IsRoundInProgress()
}

// Stop signals the background ticker loops to exit. Safe to call more
// than once only from Run itself.
func (w *Worker) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}

func (w *Worker) gvtTickerLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.GVTInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.gvtMgr.StartRound(); err != nil {
				w.logger.Warn().Err(err).Msg("starting GVT round")
			}
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) redistributeTickerLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.RedistributeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.redistribute()
		case <-w.stopCh:
			return
		}
	}
}

// redistribute ships surplus recycled buffers to every peer worker in
// turn (numa.Plan already produces one batch per peer per oversized
// chunk size; here we just label each with a concrete destination
// rank, cycling round-robin over every rank but our own).
func (w *Worker) redistribute() {
	batches := numa.Plan(w.recycler, w.cfg.NumWorkers)
	if len(batches) == 0 {
		return
	}
	peers := make([]int, 0, w.cfg.NumWorkers-1)
	for r := 0; r < w.cfg.NumWorkers; r++ {
		if r != w.cfg.Rank {
			peers = append(peers, r)
		}
	}
	if len(peers) == 0 {
		return
	}
	for i, b := range batches {
		dest := peers[i%len(peers)]
		if err := w.cfg.SendRedistribution(dest, b); err != nil {
			w.logger.Warn().Err(err).Int("dest", dest).Msg("sending redistribution batch")
		}
	}
}

// Rollbacks, AntiMessages and Executed report cumulative counts for
// metrics sampling.
func (w *Worker) Rollbacks() int64    { return w.rollbacks }
func (w *Worker) AntiMessages() int64 { return w.antiMessages }
func (w *Worker) Executed() int64     { return w.executed }

// GVT returns this worker's current committed Global Virtual Time.
func (w *Worker) GVT() types.Time { return w.gvtMgr.GVT() }

// QueueDepth reports how many events currently sit in this worker's
// scheduler queue, for metrics sampling.
func (w *Worker) QueueDepth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queue.Len()
}

// RecyclerStats reports this worker's event-arena allocation counters,
// for metrics sampling.
func (w *Worker) RecyclerStats() event.Stats {
	return w.recycler.Stats()
}

// PendingEvents reports how many released events are still awaiting
// fossil collection in this worker's recycler, for metrics sampling.
func (w *Worker) PendingEvents() int {
	return w.recycler.PendingCount()
}

// Rank returns the worker rank this instance drives.
func (w *Worker) Rank() int { return w.cfg.Rank }

// Finalize runs Finalize on every agent this worker owns. The manager
// calls this once Run returns for every local worker (spec §4.7: the
// manager "waits for them, then finalizes").
func (w *Worker) Finalize() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, slot := range w.agents {
		slot.agent.Finalize()
	}
}

// PendingRedistribution drains every free recycled buffer this worker
// still holds, for the final-sweep transfer to the manager described in
// spec §4.7: "the non-manager workers transfer their pending-deallocation
// lists and NUMA blocks to the manager, which performs a final sweep."
// Unlike the periodic redistribute ticker, this drains completely rather
// than shipping only the surplus above the redistribution threshold.
func (w *Worker) PendingRedistribution() []numa.Batch {
	var batches []numa.Batch
	for _, size := range w.recycler.FreeSizes() {
		free := w.recycler.FreeCount(size)
		if free <= 0 {
			continue
		}
		chunks := w.recycler.TakeFree(size, free)
		if len(chunks) == 0 {
			continue
		}
		batches = append(batches, numa.Batch{
			NumaID:    w.recycler.NumaNode(),
			EntrySize: size,
			Chunks:    chunks,
		})
	}
	return batches
}

// ImportRedistribution absorbs a batch of recycled buffers handed to
// this worker by another worker's final sweep.
func (w *Worker) ImportRedistribution(b numa.Batch) {
	numa.Apply(w.recycler, b)
}
