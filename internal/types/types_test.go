package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventWireRoundTrip(t *testing.T) {
	e := &Event{
		Sender:      1,
		Receiver:    2,
		SendTime:    0,
		ReceiveTime: 5,
		Color:       ColorRed,
		AntiMessage: false,
		RefCount:    2,
		Payload:     []byte("hello"),
	}
	buf := e.EncodeWire()
	got, err := DecodeEventWire(buf)
	require.NoError(t, err)

	require.Equal(t, e.Sender, got.Sender)
	require.Equal(t, e.Receiver, got.Receiver)
	require.Equal(t, e.SendTime, got.SendTime)
	require.Equal(t, e.ReceiveTime, got.ReceiveTime)
	require.Equal(t, e.Color, got.Color)
	require.Equal(t, e.AntiMessage, got.AntiMessage)
	require.Equal(t, int32(1), got.RefCount) // wire always resets to 1
	require.Equal(t, e.Payload, got.Payload)
}

func TestEventOrderingTotalOrder(t *testing.T) {
	a := &Event{Sender: 1, ReceiveTime: 5, SendTime: 0, Seq: 0}
	b := &Event{Sender: 2, ReceiveTime: 5, SendTime: 0, Seq: 1}
	c := &Event{Sender: 1, ReceiveTime: 6, SendTime: 0, Seq: 2}

	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.True(t, a.Less(c))
	require.True(t, b.Less(c))
}

func TestEventOrderingSeqTiebreak(t *testing.T) {
	a := &Event{Sender: 1, ReceiveTime: 5, SendTime: 1, Seq: 0}
	b := &Event{Sender: 1, ReceiveTime: 5, SendTime: 1, Seq: 1}
	require.True(t, a.Less(b))
}

func TestSameEventMatchesAntiMessage(t *testing.T) {
	pos := &Event{Sender: 1, Receiver: 2, SendTime: 2, ReceiveTime: 5}
	anti := pos.Clone(0)
	anti.MakeAntiMessage()
	require.True(t, pos.SameEvent(anti))
}

func TestGVTTokenWireRoundTrip(t *testing.T) {
	tok := &GVTToken{
		Kind:        TokenEstimate,
		DestRank:    3,
		GVTEstimate: 42.5,
		TMin:        10,
		NumWorkers:  4,
		Counters:    []int32{1, -2, 0, 5},
	}
	buf := tok.EncodeWire()
	got, err := DecodeGVTTokenWire(buf)
	require.NoError(t, err)
	require.Equal(t, tok, got)
}

func TestDecodeEventWireRejectsTruncated(t *testing.T) {
	_, err := DecodeEventWire([]byte{1, 2, 3})
	require.Error(t, err)
}
