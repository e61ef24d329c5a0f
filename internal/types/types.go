package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Time is simulation virtual time. It is distinct from wall-clock time,
// which is only ever used for logging and metrics timestamps.
type Time float64

// EndOfTime is the largest representable virtual time, usable as an
// unbounded simulation horizon. No kernel code commits it as a GVT.
const EndOfTime Time = Time(math.MaxFloat64)

// AgentID is a dense, process-local agent identifier. Applications that
// want a stable external name map it to this id at registration time.
type AgentID uint32

// InvalidAgentID is returned by lookups that fail.
const InvalidAgentID AgentID = math.MaxUint32

// Color is the one-bit GVT round tag carried by every event.
type Color uint8

const (
	ColorWhite Color = 0
	ColorRed   Color = 1
)

// Flip returns the other color, used when a GVT round closes.
func (c Color) Flip() Color {
	if c == ColorWhite {
		return ColorRed
	}
	return ColorWhite
}

// MessageKind tags every frame crossing the intra-node queue or the
// cross-node transport (spec §4.4/§6).
type MessageKind uint8

const (
	KindEvent MessageKind = iota
	KindGVTCtrl
	KindGVTEstimate
	KindGVTAck
	KindAgentList
	KindString
	KindRedistribution
)

func (k MessageKind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindGVTCtrl:
		return "gvt-ctrl"
	case KindGVTEstimate:
		return "gvt-estimate"
	case KindGVTAck:
		return "gvt-ack"
	case KindAgentList:
		return "agent-list"
	case KindString:
		return "string"
	case KindRedistribution:
		return "redistribution"
	default:
		return fmt.Sprintf("unknown-kind(%d)", uint8(k))
	}
}

// eventHeaderSize is the size in bytes of the flat header defined by
// spec §6: sender_id:int32, receiver_id:int32, send_time:f64,
// receive_time:f64, color:u8, anti_message:u8, reference_count:i16,
// event_size:i32.
const eventHeaderSize = 4 + 4 + 8 + 8 + 1 + 1 + 2 + 4

// Event is the fundamental message. It is a flat value type: the kernel
// never dispatches on a concrete Go type, only on the MessageKind of the
// envelope that carried it and the application-defined bytes of Payload.
type Event struct {
	Sender      AgentID
	Receiver    AgentID
	SendTime    Time
	ReceiveTime Time
	Color       Color
	AntiMessage bool
	RefCount    int32
	// Seq is the final leg of the tiebreak (receive_time, sender,
	// send_time, seq) — see DESIGN.md "Open Questions resolved". The
	// kernel compares it but does not assign it: a scheduled event keeps
	// whatever Seq its creator set (zero by default).
	Seq     uint64
	Payload []byte
	// NumaNode is an in-memory allocation hint; never serialized.
	NumaNode int
}

// Less implements the total order required by spec §3/§8 invariant 1:
// (receive_time, sender_id, send_time) with Seq as a final deterministic
// tiebreak.
func (e *Event) Less(o *Event) bool {
	if e.ReceiveTime != o.ReceiveTime {
		return e.ReceiveTime < o.ReceiveTime
	}
	if e.Sender != o.Sender {
		return e.Sender < o.Sender
	}
	if e.SendTime != o.SendTime {
		return e.SendTime < o.SendTime
	}
	return e.Seq < o.Seq
}

// SameEvent reports whether o is the positive/anti-message counterpart of
// e: same sender, receiver, send and receive time. Used for annihilation.
func (e *Event) SameEvent(o *Event) bool {
	return e.Sender == o.Sender && e.Receiver == o.Receiver &&
		e.SendTime == o.SendTime && e.ReceiveTime == o.ReceiveTime
}

// Clone produces a deep copy of e, optionally re-homed to numaNode. Used
// by the EventRecycler when handing a private copy to a receiver.
func (e *Event) Clone(numaNode int) *Event {
	clone := *e
	clone.Payload = append([]byte(nil), e.Payload...)
	clone.RefCount = 1
	clone.NumaNode = numaNode
	return &clone
}

// MakeAntiMessage flips e into its own anti-message in place. Used only
// by internal rollback machinery, never by application code.
func (e *Event) MakeAntiMessage() {
	e.AntiMessage = true
}

// WireSize returns the number of bytes EncodeWire will produce.
func (e *Event) WireSize() int {
	return eventHeaderSize + len(e.Payload)
}

// EncodeWire serializes e into the flat header + payload layout defined
// by spec §6. The reference count field is always reset to 1 on the
// wire, matching the spec's note that each side of a remote delivery
// owns exactly one reference to its copy.
func (e *Event) EncodeWire() []byte {
	buf := make([]byte, e.WireSize())
	binary.BigEndian.PutUint32(buf[0:4], uint32(e.Sender))
	binary.BigEndian.PutUint32(buf[4:8], uint32(e.Receiver))
	binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(float64(e.SendTime)))
	binary.BigEndian.PutUint64(buf[16:24], math.Float64bits(float64(e.ReceiveTime)))
	buf[24] = byte(e.Color)
	if e.AntiMessage {
		buf[25] = 1
	}
	binary.BigEndian.PutUint16(buf[26:28], 1)
	binary.BigEndian.PutUint32(buf[28:32], uint32(len(e.Payload)))
	copy(buf[eventHeaderSize:], e.Payload)
	return buf
}

// DecodeEventWire is the inverse of EncodeWire. It returns an error if
// buf is shorter than its own declared event_size, which would indicate
// a truncated or corrupt wire frame.
func DecodeEventWire(buf []byte) (*Event, error) {
	if len(buf) < eventHeaderSize {
		return nil, fmt.Errorf("types: short event header: got %d bytes, need %d", len(buf), eventHeaderSize)
	}
	e := &Event{
		Sender:      AgentID(binary.BigEndian.Uint32(buf[0:4])),
		Receiver:    AgentID(binary.BigEndian.Uint32(buf[4:8])),
		SendTime:    Time(math.Float64frombits(binary.BigEndian.Uint64(buf[8:16]))),
		ReceiveTime: Time(math.Float64frombits(binary.BigEndian.Uint64(buf[16:24]))),
		Color:       Color(buf[24]),
		AntiMessage: buf[25] != 0,
		RefCount:    int32(binary.BigEndian.Uint16(buf[26:28])),
	}
	size := int(binary.BigEndian.Uint32(buf[28:32]))
	if len(buf) < eventHeaderSize+size {
		return nil, fmt.Errorf("types: short event payload: got %d bytes, need %d", len(buf)-eventHeaderSize, size)
	}
	e.Payload = append([]byte(nil), buf[eventHeaderSize:eventHeaderSize+size]...)
	return e, nil
}

// TokenKind distinguishes the three GVT control-token roles (spec §4.5/§6).
type TokenKind uint8

const (
	TokenCtrl TokenKind = iota
	TokenEstimate
	TokenAck
)

// GVTToken is the wire format of a GVT control token (spec §6):
// {kind, destRank, gvtEstimate, tMin, numWorkers, counters[numWorkers]}.
type GVTToken struct {
	Kind        TokenKind
	DestRank    int32
	GVTEstimate Time
	TMin        Time
	NumWorkers  int32
	Counters    []int32
}

// EncodeWire serializes a GVTToken to bytes for the cross-node transport.
func (t *GVTToken) EncodeWire() []byte {
	n := 1 + 4 + 8 + 8 + 4 + 4*len(t.Counters)
	buf := make([]byte, n)
	buf[0] = byte(t.Kind)
	binary.BigEndian.PutUint32(buf[1:5], uint32(t.DestRank))
	binary.BigEndian.PutUint64(buf[5:13], math.Float64bits(float64(t.GVTEstimate)))
	binary.BigEndian.PutUint64(buf[13:21], math.Float64bits(float64(t.TMin)))
	binary.BigEndian.PutUint32(buf[21:25], uint32(t.NumWorkers))
	off := 25
	for _, c := range t.Counters {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(c))
		off += 4
	}
	return buf
}

// DecodeGVTTokenWire is the inverse of GVTToken.EncodeWire.
func DecodeGVTTokenWire(buf []byte) (*GVTToken, error) {
	const fixed = 25
	if len(buf) < fixed {
		return nil, fmt.Errorf("types: short GVT token: got %d bytes, need at least %d", len(buf), fixed)
	}
	t := &GVTToken{
		Kind:        TokenKind(buf[0]),
		DestRank:    int32(binary.BigEndian.Uint32(buf[1:5])),
		GVTEstimate: Time(math.Float64frombits(binary.BigEndian.Uint64(buf[5:13]))),
		TMin:        Time(math.Float64frombits(binary.BigEndian.Uint64(buf[13:21]))),
		NumWorkers:  int32(binary.BigEndian.Uint32(buf[21:25])),
	}
	need := fixed + 4*int(t.NumWorkers)
	if len(buf) < need {
		return nil, fmt.Errorf("types: short GVT token counters: got %d bytes, need %d", len(buf), need)
	}
	t.Counters = make([]int32, t.NumWorkers)
	off := fixed
	for i := range t.Counters {
		t.Counters[i] = int32(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	return t, nil
}
