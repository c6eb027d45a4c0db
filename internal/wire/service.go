package wire

import (
	"context"

	"google.golang.org/grpc"
)

const (
	// ServiceName is the fully qualified ListingStream service name.
	ServiceName = "listing_stream.ListingStream"

	streamListingsMethod = "/" + ServiceName + "/StreamListings"
)

// ListingStreamServer is the server API for the ListingStream service.
type ListingStreamServer interface {
	StreamListings(*StreamRequest, grpc.ServerStreamingServer[StreamResponse]) error
}

// ListingStreamServiceDesc describes the ListingStream service for grpc.Server.RegisterService.
var ListingStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ListingStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamListings",
			Handler:       streamListingsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "api/listing_stream.proto",
}

// RegisterListingStreamServer registers srv on s.
// The server must be created with ServerOption.
func RegisterListingStreamServer(s grpc.ServiceRegistrar, srv ListingStreamServer) {
	s.RegisterService(&ListingStreamServiceDesc, srv)
}

// ServerOption installs Codec on a grpc.Server.
func ServerOption() grpc.ServerOption {
	return grpc.ForceServerCodec(Codec{})
}

// DialOption installs Codec as the default for every call on a client connection.
func DialOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{}))
}

func streamListingsHandler(srv any, stream grpc.ServerStream) error {
	m := new(StreamRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ListingStreamServer).StreamListings(m, &grpc.GenericServerStream[StreamRequest, StreamResponse]{ServerStream: stream})
}

// ListingStreamClient is the client API for the ListingStream service.
type ListingStreamClient interface {
	StreamListings(ctx context.Context, in *StreamRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[StreamResponse], error)
}

type listingStreamClient struct {
	cc grpc.ClientConnInterface
}

// NewListingStreamClient creates a client. Dial cc with DialOption or pass
// grpc.ForceCodec(Codec{}) per call.
func NewListingStreamClient(cc grpc.ClientConnInterface) ListingStreamClient {
	return &listingStreamClient{cc: cc}
}

func (c *listingStreamClient) StreamListings(ctx context.Context, in *StreamRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[StreamResponse], error) {
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	stream, err := c.cc.NewStream(ctx, &ListingStreamServiceDesc.Streams[0], streamListingsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[StreamRequest, StreamResponse]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
