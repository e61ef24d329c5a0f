package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raodj/musesim/internal/types"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func TestDialDeliversFramesToListener(t *testing.T) {
	addr := freeAddr(t)

	server := NewTransport(0)
	require.NoError(t, server.Listen(addr))
	defer server.Close()

	client := NewTransport(1)
	defer client.Close()

	require.NoError(t, client.Dial(context.Background(), 0, addr))

	ev := &types.Event{Sender: 1, Receiver: 2, ReceiveTime: 5}
	require.NoError(t, client.Send(0, types.KindEvent, ev.EncodeWire()))

	require.Eventually(t, func() bool {
		server.inboundMu.Lock()
		defer server.inboundMu.Unlock()
		return len(server.inbound) == 1
	}, 2*time.Second, 10*time.Millisecond)

	var got *types.Event
	n := server.Poll(0, func(fromRank int, kind types.MessageKind, payload []byte) {
		require.Equal(t, 1, fromRank)
		require.Equal(t, types.KindEvent, kind)
		decoded, err := types.DecodeEventWire(payload)
		require.NoError(t, err)
		got = decoded
	})
	require.Equal(t, 1, n)
	require.NotNil(t, got)
	require.Equal(t, types.Time(5), got.ReceiveTime)
}

func TestServerCanReplyToDialingClient(t *testing.T) {
	addr := freeAddr(t)

	server := NewTransport(0)
	require.NoError(t, server.Listen(addr))
	defer server.Close()

	client := NewTransport(1)
	defer client.Close()

	require.NoError(t, client.Dial(context.Background(), 0, addr))

	require.Eventually(t, func() bool {
		return len(server.ConnectedPeers()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	tok := &types.GVTToken{Kind: types.TokenCtrl, NumWorkers: 2, Counters: []int32{0, 0}}
	require.NoError(t, server.Send(1, types.KindGVTCtrl, tok.EncodeWire()))

	require.Eventually(t, func() bool {
		client.inboundMu.Lock()
		defer client.inboundMu.Unlock()
		return len(client.inbound) == 1
	}, 2*time.Second, 10*time.Millisecond)

	n := client.Poll(0, func(fromRank int, kind types.MessageKind, payload []byte) {
		require.Equal(t, 0, fromRank)
		require.Equal(t, types.KindGVTCtrl, kind)
	})
	require.Equal(t, 1, n)
}

func TestPollRespectsMaxPerPoll(t *testing.T) {
	addr := freeAddr(t)

	server := NewTransport(0)
	require.NoError(t, server.Listen(addr))
	defer server.Close()

	client := NewTransport(1)
	defer client.Close()
	require.NoError(t, client.Dial(context.Background(), 0, addr))

	for i := 0; i < 5; i++ {
		ev := &types.Event{Sender: 1, Receiver: types.AgentID(i)}
		require.NoError(t, client.Send(0, types.KindEvent, ev.EncodeWire()))
	}

	require.Eventually(t, func() bool {
		server.inboundMu.Lock()
		defer server.inboundMu.Unlock()
		return len(server.inbound) == 5
	}, 2*time.Second, 10*time.Millisecond)

	first := server.Poll(2, func(int, types.MessageKind, []byte) {})
	require.Equal(t, 2, first)
	rest := server.Poll(0, func(int, types.MessageKind, []byte) {})
	require.Equal(t, 3, rest)
}

func TestSendWithoutConnectionFails(t *testing.T) {
	tr := NewTransport(0)
	defer tr.Close()
	err := tr.Send(99, types.KindEvent, []byte{1})
	require.Error(t, err)
}

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	buf := encodeFrame(types.KindRedistribution, []byte("payload"))
	kind, payload, err := decodeFrame(buf)
	require.NoError(t, err)
	require.Equal(t, types.KindRedistribution, kind)
	require.Equal(t, []byte("payload"), payload)
}

func TestHandshakeEncodeDecodeRoundTrip(t *testing.T) {
	payload := encodeHandshake(7)
	rank, err := decodeHandshake(payload)
	require.NoError(t, err)
	require.Equal(t, 7, rank)
}

func TestDecodeHandshakeRejectsShortPayload(t *testing.T) {
	_, err := decodeHandshake([]byte{1, 2})
	require.Error(t, err)
}
