package rmproto

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name, in the same
// "<package>.<Service>" shape protoc would generate.
const ServiceName = "shoal.rmproto.ResourceManager"

// ResourceManagerServer is the set of RPCs the cluster-side resource
// manager exposes to an AM, corresponding 1:1 to ResourceManagerClient's
// operations (spec §4.2).
type ResourceManagerServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	AddContainerRequest(context.Context, *AddContainerRequestRequest) (*AddContainerRequestResponse, error)
	Allocate(context.Context, *AllocateRequest) (*AllocateResponse, error)
	CompleteContainerRequest(context.Context, *CompleteContainerRequestRequest) (*CompleteContainerRequestResponse, error)
	SetTracker(context.Context, *SetTrackerRequest) (*SetTrackerResponse, error)
	Stop(context.Context, *StopRequest) (*StopResponse, error)
}

func registerHandler(name string, newReq func() interface{}, call func(ResourceManagerServer, context.Context, interface{}) (interface{}, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := newReq()
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ResourceManagerServer), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handlerFn := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ResourceManagerServer), ctx, req)
			}
			return interceptor(ctx, req, info, handlerFn)
		},
	}
}

// ResourceManagerServiceDesc is the hand-written equivalent of what
// protoc-gen-go-grpc would generate from a .proto declaring the same
// six RPCs.
var ResourceManagerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ResourceManagerServer)(nil),
	Methods: []grpc.MethodDesc{
		registerHandler("Register", func() interface{} { return new(RegisterRequest) },
			func(s ResourceManagerServer, ctx context.Context, req interface{}) (interface{}, error) {
				return s.Register(ctx, req.(*RegisterRequest))
			}),
		registerHandler("AddContainerRequest", func() interface{} { return new(AddContainerRequestRequest) },
			func(s ResourceManagerServer, ctx context.Context, req interface{}) (interface{}, error) {
				return s.AddContainerRequest(ctx, req.(*AddContainerRequestRequest))
			}),
		registerHandler("Allocate", func() interface{} { return new(AllocateRequest) },
			func(s ResourceManagerServer, ctx context.Context, req interface{}) (interface{}, error) {
				return s.Allocate(ctx, req.(*AllocateRequest))
			}),
		registerHandler("CompleteContainerRequest", func() interface{} { return new(CompleteContainerRequestRequest) },
			func(s ResourceManagerServer, ctx context.Context, req interface{}) (interface{}, error) {
				return s.CompleteContainerRequest(ctx, req.(*CompleteContainerRequestRequest))
			}),
		registerHandler("SetTracker", func() interface{} { return new(SetTrackerRequest) },
			func(s ResourceManagerServer, ctx context.Context, req interface{}) (interface{}, error) {
				return s.SetTracker(ctx, req.(*SetTrackerRequest))
			}),
		registerHandler("Stop", func() interface{} { return new(StopRequest) },
			func(s ResourceManagerServer, ctx context.Context, req interface{}) (interface{}, error) {
				return s.Stop(ctx, req.(*StopRequest))
			}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rmproto.proto",
}

// RegisterResourceManagerServer registers srv on s.
func RegisterResourceManagerServer(s grpc.ServiceRegistrar, srv ResourceManagerServer) {
	s.RegisterService(&ResourceManagerServiceDesc, srv)
}

// ResourceManagerClient is the hand-written client stub, mirroring the
// shape protoc-gen-go-grpc emits.
type ResourceManagerClient struct {
	cc *grpc.ClientConn
}

// NewResourceManagerClient wraps cc.
func NewResourceManagerClient(cc *grpc.ClientConn) *ResourceManagerClient {
	return &ResourceManagerClient{cc: cc}
}

func (c *ResourceManagerClient) callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(CodecName)}
}

func (c *ResourceManagerClient) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	resp := new(RegisterResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Register", req, resp, c.callOpts()...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ResourceManagerClient) AddContainerRequest(ctx context.Context, req *AddContainerRequestRequest) (*AddContainerRequestResponse, error) {
	resp := new(AddContainerRequestResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/AddContainerRequest", req, resp, c.callOpts()...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ResourceManagerClient) Allocate(ctx context.Context, req *AllocateRequest) (*AllocateResponse, error) {
	resp := new(AllocateResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Allocate", req, resp, c.callOpts()...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ResourceManagerClient) CompleteContainerRequest(ctx context.Context, req *CompleteContainerRequestRequest) (*CompleteContainerRequestResponse, error) {
	resp := new(CompleteContainerRequestResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/CompleteContainerRequest", req, resp, c.callOpts()...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ResourceManagerClient) SetTracker(ctx context.Context, req *SetTrackerRequest) (*SetTrackerResponse, error) {
	resp := new(SetTrackerResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/SetTracker", req, resp, c.callOpts()...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ResourceManagerClient) Stop(ctx context.Context, req *StopRequest) (*StopResponse, error) {
	resp := new(StopResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Stop", req, resp, c.callOpts()...); err != nil {
		return nil, err
	}
	return resp, nil
}
