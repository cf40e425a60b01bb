package protocol

import (
	"context"

	"google.golang.org/grpc"
)

// The operator service reports the roster of node processes it
// manages for a run. Consumed once by the coordinator at startup.

const Operator_Register_FullMethodName = "/drover.Operator/Register"

type OperatorClient interface {
	Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*Roster, error)
}

type operatorClient struct {
	cc grpc.ClientConnInterface
}

func NewOperatorClient(cc grpc.ClientConnInterface) OperatorClient {
	return &operatorClient{cc}
}

func (c *operatorClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*Roster, error) {
	out := new(Roster)
	err := c.cc.Invoke(ctx, Operator_Register_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type OperatorServer interface {
	Register(context.Context, *RegisterRequest) (*Roster, error)
}

func _Operator_Register_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RegisterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperatorServer).Register(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Operator_Register_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OperatorServer).Register(ctx, req.(*RegisterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var Operator_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "drover.Operator",
	HandlerType: (*OperatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Register",
			Handler:    _Operator_Register_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "drover/operator",
}

func RegisterOperatorServer(s grpc.ServiceRegistrar, srv OperatorServer) {
	s.RegisterService(&Operator_ServiceDesc, srv)
}
