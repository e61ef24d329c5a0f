package transport

import (
	"fmt"

	"github.com/raodj/musesim/internal/types"
)

// handshakeKind tags the first frame exchanged on every new connection,
// before any application traffic: it carries the sender's rank so the
// receiving side can key the connection by peer rank instead of by
// listen address. It deliberately uses a value outside the
// types.MessageKind range used on the wire elsewhere, since the
// handshake never leaves this package.
const handshakeKind types.MessageKind = 0xff

// encodeFrame prepends a one-byte kind tag to an already-encoded
// payload (an Event/GVTToken/numa.Batch EncodeWire result).
func encodeFrame(kind types.MessageKind, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(kind)
	copy(buf[1:], payload)
	return buf
}

// decodeFrame splits a received frame back into its kind tag and
// payload.
func decodeFrame(buf []byte) (types.MessageKind, []byte, error) {
	if len(buf) < 1 {
		return 0, nil, fmt.Errorf("transport: empty frame")
	}
	return types.MessageKind(buf[0]), buf[1:], nil
}

// encodeHandshake returns just the handshake payload (the sender's
// rank); callers pass it to peerConn.send alongside handshakeKind,
// which adds the kind byte itself.
func encodeHandshake(rank int) []byte {
	return []byte{byte(rank >> 24), byte(rank >> 16), byte(rank >> 8), byte(rank)}
}

func decodeHandshake(payload []byte) (int, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("transport: short handshake payload: got %d bytes, need 4", len(payload))
	}
	return int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3]), nil
}
