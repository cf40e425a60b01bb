package protocol

import (
	"context"

	"google.golang.org/grpc"
)

// The coordinator service accepts node attachments. A node enlists
// with a NodeUpdate carrying its role and instance identity, after
// which the coordinator posts TaskRequests down the stream and the
// node answers with NodeUpdates carrying TaskResults.
//
// Service descriptors are maintained by hand in the shape of
// generated stubs; messages are encoded with the JSON codec.

const Coordinator_Attach_FullMethodName = "/drover.Coordinator/Attach"

type CoordinatorClient interface {
	Attach(ctx context.Context, opts ...grpc.CallOption) (Coordinator_AttachClient, error)
}

type coordinatorClient struct {
	cc grpc.ClientConnInterface
}

func NewCoordinatorClient(cc grpc.ClientConnInterface) CoordinatorClient {
	return &coordinatorClient{cc}
}

func (c *coordinatorClient) Attach(ctx context.Context, opts ...grpc.CallOption) (Coordinator_AttachClient, error) {
	stream, err := c.cc.NewStream(ctx, &Coordinator_ServiceDesc.Streams[0], Coordinator_Attach_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &coordinatorAttachClient{stream}, nil
}

type Coordinator_AttachClient interface {
	Send(*NodeUpdate) error
	Recv() (*TaskRequest, error)
	grpc.ClientStream
}

type coordinatorAttachClient struct {
	grpc.ClientStream
}

func (x *coordinatorAttachClient) Send(m *NodeUpdate) error {
	return x.ClientStream.SendMsg(m)
}

func (x *coordinatorAttachClient) Recv() (*TaskRequest, error) {
	m := new(TaskRequest)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type CoordinatorServer interface {
	Attach(Coordinator_AttachServer) error
}

type Coordinator_AttachServer interface {
	Send(*TaskRequest) error
	Recv() (*NodeUpdate, error)
	grpc.ServerStream
}

type coordinatorAttachServer struct {
	grpc.ServerStream
}

func (x *coordinatorAttachServer) Send(m *TaskRequest) error {
	return x.ServerStream.SendMsg(m)
}

func (x *coordinatorAttachServer) Recv() (*NodeUpdate, error) {
	m := new(NodeUpdate)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Coordinator_Attach_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(CoordinatorServer).Attach(&coordinatorAttachServer{stream})
}

var Coordinator_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "drover.Coordinator",
	HandlerType: (*CoordinatorServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Attach",
			Handler:       _Coordinator_Attach_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "drover/coordinator",
}

func RegisterCoordinatorServer(s grpc.ServiceRegistrar, srv CoordinatorServer) {
	s.RegisterService(&Coordinator_ServiceDesc, srv)
}
