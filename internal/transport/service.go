package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ExchangeServer is the interface a bidi-stream frame exchanger must
// implement. It plays the role a protoc-generated "FooServer" interface
// would play, and is what serviceDesc.HandlerType asserts against.
type ExchangeServer interface {
	Exchange(stream ExchangeStream) error
}

// ExchangeStream is the bidi-streaming half of the Exchange RPC, wrapped
// around grpc.ServerStream the way generated client/server stream types
// wrap it for a typed message (wrapperspb.BytesValue here, since this
// service moves opaque already-encoded kernel frames).
type ExchangeStream interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

type exchangeServerStream struct {
	grpc.ServerStream
}

func (x *exchangeServerStream) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

func (x *exchangeServerStream) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func exchangeHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ExchangeServer).Exchange(&exchangeServerStream{ServerStream: stream})
}

const serviceName = "musesim.transport.Exchange"

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

// clientStream adapts grpc.ClientConn's generic streaming API to the
// same Send/Recv shape ExchangeStream exposes on the server side, so
// peerConn can treat inbound and outbound connections identically.
type clientStream struct {
	grpc.ClientStream
}

func (c *clientStream) Send(m *wrapperspb.BytesValue) error {
	return c.ClientStream.SendMsg(m)
}

func (c *clientStream) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

var exchangeStreamDesc = grpc.StreamDesc{
	StreamName:    "Exchange",
	ServerStreams: true,
	ClientStreams: true,
}

func newExchangeClient(ctx context.Context, cc grpc.ClientConnInterface) (ExchangeStream, error) {
	stream, err := cc.NewStream(ctx, &exchangeStreamDesc, "/"+serviceName+"/Exchange")
	if err != nil {
		return nil, err
	}
	return &clientStream{ClientStream: stream}, nil
}
