package transport

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/raodj/musesim/internal/types"
)

// peerConn is one bidirectional stream to a peer process, identified by
// rank. gRPC streams may not be written to concurrently, so sendMu
// serializes outbound frames from whichever worker goroutines call
// Send; there is exactly one reader per peerConn (the readLoop started
// by Transport), so no recvMu is needed.
type peerConn struct {
	rank   int
	stream ExchangeStream

	sendMu sync.Mutex
	closed bool
}

func newPeerConn(rank int, stream ExchangeStream) *peerConn {
	return &peerConn{rank: rank, stream: stream}
}

// send encodes kind+payload into one frame and writes it, serialized
// against any other concurrent sender on this connection.
func (c *peerConn) send(kind types.MessageKind, payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return fmt.Errorf("transport: send on closed connection to rank %d", c.rank)
	}
	return c.stream.Send(wrapperspb.Bytes(encodeFrame(kind, payload)))
}

// recv blocks for the next frame. Only readLoop calls this.
func (c *peerConn) recv() (types.MessageKind, []byte, error) {
	msg, err := c.stream.Recv()
	if err != nil {
		return 0, nil, err
	}
	return decodeFrame(msg.GetValue())
}

func (c *peerConn) close() {
	c.sendMu.Lock()
	c.closed = true
	c.sendMu.Unlock()
}
