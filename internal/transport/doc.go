// Package transport implements the cross-process tier of the
// Cross-worker Transport (spec §4.4, C4 tier 2): one bidirectional gRPC
// byte stream per peer process, carrying the kernel's own flat wire
// frames (events, GVT tokens, NUMA redistribution batches — see
// internal/types and internal/numa) boxed in wrapperspb.BytesValue.
//
// There is no generated protobuf service here: Exchange is a
// hand-written grpc.ServiceDesc, the same shape protoc would emit for a
// bidi-streaming RPC, because this kernel's wire frames are already
// fully defined by internal/types and don't need a .proto schema of
// their own.
package transport
