package gvt

import (
	"fmt"
	"math"
	"sync"

	"github.com/raodj/musesim/internal/types"
)

// Sender delivers a GVT control token to a peer worker, addressed by
// rank. The zero-th worker is the initiator (spec §4.5 "worker 0 =
// initiator").
type Sender func(destRank int, tok *types.GVTToken) error

// Manager implements the per-worker state of Mattern's algorithm (spec
// §4.5, C5): the current color definition, an activeColor flag, vector
// counters for white and non-white outbound events, tMin for
// non-white outbound events, and at most one pending control token.
type Manager struct {
	rank       int
	numWorkers int

	mu          sync.Mutex
	white       types.Color
	activeColor types.Color
	counters    [2][]int32
	tMin        types.Time
	gvt         types.Time

	cycle   int // 0 = idle; nonzero while a round is in progress (StartRound sets 1, each token forward adds 1, the estimate broadcast sets 2)
	pending *types.GVTToken
	acks    int

	send       Sender
	localLGVT  func() types.Time
	onAdvanced func(newGVT types.Time)
}

// NewManager creates a Manager for one worker among numWorkers peers,
// starting GVT at startTime. localLGVT must return the worker's
// current local virtual time; onAdvanced is invoked once a new GVT is
// durably committed (i.e. acknowledged by every worker), and is where
// callers typically trigger fossil collection.
func NewManager(rank, numWorkers int, startTime types.Time, send Sender, localLGVT func() types.Time, onAdvanced func(types.Time)) *Manager {
	return &Manager{
		rank:       rank,
		numWorkers: numWorkers,
		gvt:        startTime,
		tMin:       types.Time(math.Inf(1)),
		counters:   [2][]int32{make([]int32, numWorkers), make([]int32, numWorkers)},
		send:       send,
		localLGVT:  localLGVT,
		onAdvanced: onAdvanced,
	}
}

// GVT returns the most recently committed global virtual time.
func (m *Manager) GVT() types.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gvt
}

// IsRoundInProgress reports whether this worker currently has an
// outstanding token-circulation or estimate/ack round.
func (m *Manager) IsRoundInProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycle != 0
}

// OnSendEvent records an outbound event for GVT accounting: it tags the
// event with the worker's current activeColor, increments the
// corresponding vector counter for destRank, and — for non-white
// (in-flight) events — folds receiveTime into tMin. Callers must call
// this for every event leaving the worker, local or remote, before the
// color is observable by the receiver.
func (m *Manager) OnSendEvent(destRank int, receiveTime types.Time) types.Color {
	m.mu.Lock()
	defer m.mu.Unlock()
	color := m.activeColor
	m.counters[color][destRank]++
	if color != m.white {
		if receiveTime < m.tMin {
			m.tMin = receiveTime
		}
	}
	return color
}

// OnReceiveEvent records an inbound event tagged with the color it was
// sent under, decrementing this worker's own slot in that color's
// vector counter, then checks whether a pending token can now proceed.
func (m *Manager) OnReceiveEvent(color types.Color) {
	m.mu.Lock()
	m.counters[color][m.rank]--
	m.mu.Unlock()
	m.checkWaitingToken()
}

// StartRound begins a new GVT estimation round. It is a no-op unless
// this is worker 0 (the initiator) and no round is already in
// progress. With only one worker, GVT trivially equals local LGVT and
// is committed immediately with no token circulation.
func (m *Manager) StartRound() error {
	m.mu.Lock()
	if m.rank != 0 || m.cycle != 0 {
		m.mu.Unlock()
		return nil
	}
	if m.numWorkers < 2 {
		lgvt := m.localLGVT()
		m.white = m.white.Flip()
		m.activeColor = m.white
		advanced := m.commitLocked(lgvt)
		m.mu.Unlock()
		if advanced && m.onAdvanced != nil {
			m.onAdvanced(lgvt)
		}
		return nil
	}

	tok := &types.GVTToken{
		Kind:        types.TokenCtrl,
		GVTEstimate: m.localLGVT(),
		TMin:        types.Time(math.Inf(1)),
		NumWorkers:  int32(m.numWorkers),
		Counters:    make([]int32, m.numWorkers),
	}
	for i := range tok.Counters {
		tok.Counters[i] = m.counters[m.white][i]
		m.counters[m.white][i] = 0
	}
	m.activeColor = m.white.Flip()
	m.tMin = types.Time(math.Inf(1))
	m.cycle = 1
	m.mu.Unlock()

	return m.send(1%m.numWorkers, tok)
}

// ReceiveToken handles an incoming GVT control token (spec §4.5
// "on receiving token"), flipping this worker's activeColor on first
// contact with the round and re-checking the wait condition.
func (m *Manager) ReceiveToken(tok *types.GVTToken) error {
	m.mu.Lock()
	if m.rank != 0 && m.activeColor == m.white {
		m.activeColor = m.white.Flip()
		m.tMin = types.Time(math.Inf(1))
	}
	m.pending = tok
	m.mu.Unlock()
	return m.checkWaitingToken()
}

// checkWaitingToken implements the wait condition: forward (or, at the
// initiator, close) the pending token only once every transit message
// sent to this worker under the previous round's color (the token's
// count for this rank plus this worker's own slot) has been received
// here (spec §4.5 "The wait condition").
func (m *Manager) checkWaitingToken() error {
	m.mu.Lock()
	tok := m.pending
	if tok == nil {
		m.mu.Unlock()
		return nil
	}
	if tok.Counters[m.rank]+m.counters[m.white][m.rank] > 0 {
		m.mu.Unlock()
		return nil
	}

	if m.rank == 0 && allZero(tok.Counters) {
		newGVT := tok.GVTEstimate
		if tok.TMin < newGVT {
			newGVT = tok.TMin
		}
		if newGVT > m.gvt {
			m.gvt = newGVT
		}
		m.pending = nil
		m.mu.Unlock()
		return m.beginEstimateBroadcast(newGVT)
	}

	for i := 0; i < m.numWorkers; i++ {
		tok.Counters[i] += m.counters[m.white][i]
		m.counters[m.white][i] = 0
	}
	if m.tMin < tok.TMin {
		tok.TMin = m.tMin
	}
	lgvt := m.localLGVT()
	if m.rank != 0 {
		if lgvt < tok.GVTEstimate {
			tok.GVTEstimate = lgvt
		}
	} else {
		tok.GVTEstimate = lgvt
	}
	m.pending = nil
	m.cycle++
	next := (m.rank + 1) % m.numWorkers
	m.mu.Unlock()
	return m.send(next, tok)
}

// beginEstimateBroadcast is called once the token ring has closed (spec
// §4.5 "round closes"): the initiator broadcasts the agreed estimate to
// every other worker and waits for an acknowledgement from each before
// actually committing (firing onAdvanced).
func (m *Manager) beginEstimateBroadcast(newGVT types.Time) error {
	m.mu.Lock()
	if m.numWorkers < 2 {
		advanced := m.commitLocked(newGVT)
		m.mu.Unlock()
		if advanced && m.onAdvanced != nil {
			m.onAdvanced(newGVT)
		}
		return nil
	}
	m.cycle = 2
	m.acks = 0
	m.mu.Unlock()

	for peer := 0; peer < m.numWorkers; peer++ {
		if peer == m.rank {
			continue
		}
		est := &types.GVTToken{Kind: types.TokenEstimate, GVTEstimate: newGVT, NumWorkers: int32(m.numWorkers)}
		if err := m.send(peer, est); err != nil {
			return fmt.Errorf("gvt: broadcasting estimate to worker %d: %w", peer, err)
		}
	}
	return nil
}

// ReceiveEstimate handles a GVT_EST_MSG at a non-initiator worker: it
// advances the local view of GVT and acknowledges back to worker 0.
func (m *Manager) ReceiveEstimate(tok *types.GVTToken) error {
	m.mu.Lock()
	m.white = m.white.Flip()
	m.activeColor = m.white
	m.cycle = 0
	if tok.GVTEstimate > m.gvt {
		m.gvt = tok.GVTEstimate
	}
	gvt := m.gvt
	m.mu.Unlock()

	if m.onAdvanced != nil {
		m.onAdvanced(gvt)
	}
	return m.send(0, &types.GVTToken{Kind: types.TokenAck, NumWorkers: int32(m.numWorkers)})
}

// ReceiveAck handles a GVT_ACK_MSG at the initiator. Once every peer
// has acknowledged, the round is committed and onAdvanced fires.
func (m *Manager) ReceiveAck(*types.GVTToken) {
	m.mu.Lock()
	m.acks++
	done := m.acks >= m.numWorkers-1
	var gvt types.Time
	if done {
		gvt = m.gvt
		m.acks = 0
		m.cycle = 0
		// Mirror the flip every non-initiator makes in ReceiveEstimate:
		// white must toggle on the initiator too, or the next round's
		// StartRound seeds its token from a counter bucket the
		// initiator stopped accumulating into a round ago.
		m.white = m.white.Flip()
	}
	m.mu.Unlock()

	if done && m.onAdvanced != nil {
		m.onAdvanced(gvt)
	}
}

// commitLocked updates gvt (never backwards) and resets cycle state,
// reporting whether the value actually advanced. Callers must hold
// m.mu and are responsible for invoking onAdvanced themselves after
// unlocking, so the callback never runs while m.mu is held.
func (m *Manager) commitLocked(newGVT types.Time) bool {
	m.cycle = 0
	if newGVT <= m.gvt {
		return false
	}
	m.gvt = newGVT
	return true
}

func allZero(counters []int32) bool {
	for _, c := range counters {
		if c != 0 {
			return false
		}
	}
	return true
}
