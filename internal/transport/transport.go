package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/raodj/musesim/internal/log"
	"github.com/raodj/musesim/internal/types"
)

// inboundFrame is one decoded frame waiting to be handed to the worker
// loop's next poll.
type inboundFrame struct {
	fromRank int
	kind     types.MessageKind
	payload  []byte
}

// outboundFrame is one frame that failed to send and is queued for
// retry on the next Poll (spec §7 "transport transient → logged at
// Warn, retried on next poll").
type outboundFrame struct {
	peerRank int
	kind     types.MessageKind
	payload  []byte
}

// Transport is one process's cross-process tier of C4: it accepts
// inbound peer connections (as a gRPC server), dials outbound ones (as
// a gRPC client), and buffers decoded frames for the worker loop to
// drain opportunistically via Poll — mirroring how internal/mtqueue
// exposes a push/drain contract for the intra-node tier, except this
// buffer carries every frame kind the cross-node tier moves (events,
// GVT tokens, redistribution batches), not only events.
type Transport struct {
	rank int

	grpcServer *grpc.Server
	listener   net.Listener

	mu    sync.Mutex
	conns map[int]*peerConn

	inboundMu sync.Mutex
	inbound   []inboundFrame
	notify    chan struct{}

	outMu      sync.Mutex
	outPending []outboundFrame
	retries    atomic.Int64

	logger zerolog.Logger
}

// NewTransport creates a Transport for this process's worker rank. It
// neither listens nor dials: Listen and Dial are called separately, and a
// process that accepts no inbound peers never calls Listen.
func NewTransport(rank int) *Transport {
	return &Transport{
		rank:   rank,
		conns:  make(map[int]*peerConn),
		notify: make(chan struct{}, 1),
		logger: log.WithComponent("transport").With().Int("rank", rank).Logger(),
	}
}

// Listen starts accepting inbound peer connections on addr. It must be
// called before any peer dials this process.
func (t *Transport) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", addr, err)
	}
	t.listener = lis
	t.grpcServer = grpc.NewServer()
	t.grpcServer.RegisterService(&serviceDesc, t)

	go func() {
		if err := t.grpcServer.Serve(lis); err != nil {
			t.logger.Debug().Err(err).Msg("grpc server stopped serving")
		}
	}()
	return nil
}

// Exchange implements ExchangeServer: it is invoked once per inbound
// stream, reads the handshake frame to learn the peer's rank, registers
// the connection, and then runs the same read loop used for outbound
// connections until the stream ends.
func (t *Transport) Exchange(stream ExchangeStream) error {
	conn := newPeerConn(-1, stream)
	kind, payload, err := conn.recv()
	if err != nil {
		return fmt.Errorf("transport: reading handshake: %w", err)
	}
	if kind != handshakeKind {
		return fmt.Errorf("transport: expected handshake frame, got kind %v", kind)
	}
	peerRank, err := decodeHandshake(payload)
	if err != nil {
		return err
	}
	conn.rank = peerRank

	t.mu.Lock()
	t.conns[peerRank] = conn
	t.mu.Unlock()

	t.readLoop(conn)
	return nil
}

// Dial opens an outbound connection to the peer at addr, identifying it
// as peerRank. Safe to call once per peer; re-dialing an already
// connected peer replaces the old connection.
func (t *Transport) Dial(ctx context.Context, peerRank int, addr string) error {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("transport: dialing rank %d at %s: %w", peerRank, addr, err)
	}

	stream, err := newExchangeClient(ctx, cc)
	if err != nil {
		return fmt.Errorf("transport: opening exchange stream to rank %d: %w", peerRank, err)
	}

	conn := newPeerConn(peerRank, stream)
	if err := conn.send(handshakeKind, encodeHandshake(t.rank)); err != nil {
		return fmt.Errorf("transport: handshaking with rank %d: %w", peerRank, err)
	}

	t.mu.Lock()
	t.conns[peerRank] = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

// readLoop decodes frames off conn until it errors (peer closed, or a
// transient network failure — spec §7 "transport transient").
func (t *Transport) readLoop(conn *peerConn) {
	for {
		kind, payload, err := conn.recv()
		if err != nil {
			if err != io.EOF {
				t.logger.Warn().Err(err).Int("peer", conn.rank).Msg("transport read failed, dropping connection")
			}
			conn.close()
			t.mu.Lock()
			delete(t.conns, conn.rank)
			t.mu.Unlock()
			return
		}

		cp := make([]byte, len(payload))
		copy(cp, payload)

		t.inboundMu.Lock()
		t.inbound = append(t.inbound, inboundFrame{fromRank: conn.rank, kind: kind, payload: cp})
		t.inboundMu.Unlock()

		select {
		case t.notify <- struct{}{}:
		default:
		}
	}
}

// Send delivers one already-encoded frame to peerRank. The caller must
// have dialed (or received an inbound connection from) that peer first.
// A transient write failure is not returned to the caller: the frame is
// queued and retried on the next Poll, and the retry is counted (spec
// §7 "transport transient").
func (t *Transport) Send(peerRank int, kind types.MessageKind, payload []byte) error {
	t.mu.Lock()
	conn, ok := t.conns[peerRank]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no connection to rank %d", peerRank)
	}
	if err := conn.send(kind, payload); err != nil {
		t.retries.Add(1)
		t.logger.Warn().Err(err).Int("peer", peerRank).Msg("transport send failed, queued for retry")
		t.outMu.Lock()
		t.outPending = append(t.outPending, outboundFrame{peerRank: peerRank, kind: kind, payload: payload})
		t.outMu.Unlock()
	}
	return nil
}

// RetryCount reports how many outbound frames have been queued for
// retry after a transient send failure, for metrics sampling.
func (t *Transport) RetryCount() int64 { return t.retries.Load() }

// drainOutboundRetries attempts every frame queued by a prior failed
// Send before this Poll drains inbound traffic.
func (t *Transport) drainOutboundRetries() {
	t.outMu.Lock()
	pending := t.outPending
	t.outPending = nil
	t.outMu.Unlock()

	for _, f := range pending {
		_ = t.Send(f.peerRank, f.kind, f.payload)
	}
}

// Poll drains up to maxPerPoll buffered inbound frames (0 means drain
// everything currently buffered) and calls handle for each, in arrival
// order. It returns the number of frames handled. This is the
// "batched opportunistic drain" the worker loop calls once per step.
func (t *Transport) Poll(maxPerPoll int, handle func(fromRank int, kind types.MessageKind, payload []byte)) int {
	t.drainOutboundRetries()

	t.inboundMu.Lock()
	n := len(t.inbound)
	if maxPerPoll > 0 && n > maxPerPoll {
		n = maxPerPoll
	}
	batch := t.inbound[:n]
	t.inbound = t.inbound[n:]
	t.inboundMu.Unlock()

	for _, f := range batch {
		handle(f.fromRank, f.kind, f.payload)
	}
	return len(batch)
}

// Notify returns a channel that receives a value whenever at least one
// new frame has been buffered. The worker loop may select on it instead
// of busy-polling; it is purely an optimization; Poll never blocks.
func (t *Transport) Notify() <-chan struct{} {
	return t.notify
}

// ConnectedPeers reports the ranks this transport currently has a live
// connection to.
func (t *Transport) ConnectedPeers() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	ranks := make([]int, 0, len(t.conns))
	for r := range t.conns {
		ranks = append(ranks, r)
	}
	return ranks
}

// Close stops accepting new connections and closes every live peer
// connection.
func (t *Transport) Close() {
	if t.grpcServer != nil {
		t.grpcServer.GracefulStop()
	}
	t.mu.Lock()
	for _, c := range t.conns {
		c.close()
	}
	t.conns = make(map[int]*peerConn)
	t.mu.Unlock()
}
