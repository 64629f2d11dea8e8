package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ObjectStoreServer is implemented by the transport adapter.
type ObjectStoreServer interface {
	Open(context.Context, *OpenRequest) (*OpenResponse, error)
	Apply(context.Context, *ApplyRequest) (*ApplyResponse, error)
	Get(context.Context, *GetRequest) (*GetResponse, error)
	Measure(context.Context, *MeasureRequest) (*MeasureResponse, error)
}

// UnimplementedObjectStoreServer can be embedded to stay forward compatible.
type UnimplementedObjectStoreServer struct{}

func (UnimplementedObjectStoreServer) Open(context.Context, *OpenRequest) (*OpenResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Open not implemented")
}

func (UnimplementedObjectStoreServer) Apply(context.Context, *ApplyRequest) (*ApplyResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Apply not implemented")
}

func (UnimplementedObjectStoreServer) Get(context.Context, *GetRequest) (*GetResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}

func (UnimplementedObjectStoreServer) Measure(context.Context, *MeasureRequest) (*MeasureResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Measure not implemented")
}

var ObjectStore_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ObjectStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Open", Handler: unary[OpenRequest]("Open", ObjectStoreServer.Open)},
		{MethodName: "Apply", Handler: unary[ApplyRequest]("Apply", ObjectStoreServer.Apply)},
		{MethodName: "Get", Handler: unary[GetRequest]("Get", ObjectStoreServer.Get)},
		{MethodName: "Measure", Handler: unary[MeasureRequest]("Measure", ObjectStoreServer.Measure)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: FileName,
}

func RegisterObjectStoreServer(s grpc.ServiceRegistrar, srv ObjectStoreServer) {
	s.RegisterService(&ObjectStore_ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary adapts a typed server method to grpc's untyped handler. The codec
// decodes into a dynamic message; the struct is loaded from it.
func unary[Req any, PReq interface {
	*Req
	wire
}, Resp wire](name string, call func(ObjectStoreServer, context.Context, PReq) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := PReq(new(Req))
		in := dynamicpb.NewMessage(req.descriptor())
		if err := dec(in); err != nil {
			return nil, err
		}
		req.load(in)

		invoke := func(ctx context.Context, _ any) (any, error) {
			resp, err := call(srv.(ObjectStoreServer), ctx, req)
			if err != nil {
				return nil, err
			}
			return toDynamic(resp), nil
		}
		if interceptor == nil {
			return invoke(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		return interceptor(ctx, in, info, invoke)
	}
}

// -------------------- Client --------------------

type ObjectStoreClient struct {
	cc grpc.ClientConnInterface
}

func NewObjectStoreClient(cc grpc.ClientConnInterface) *ObjectStoreClient {
	return &ObjectStoreClient{cc: cc}
}

func (c *ObjectStoreClient) Open(ctx context.Context, in *OpenRequest, opts ...grpc.CallOption) (*OpenResponse, error) {
	out := &OpenResponse{}
	if err := c.invoke(ctx, "Open", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ObjectStoreClient) Apply(ctx context.Context, in *ApplyRequest, opts ...grpc.CallOption) (*ApplyResponse, error) {
	out := &ApplyResponse{}
	if err := c.invoke(ctx, "Apply", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ObjectStoreClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error) {
	out := &GetResponse{}
	if err := c.invoke(ctx, "Get", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ObjectStoreClient) Measure(ctx context.Context, in *MeasureRequest, opts ...grpc.CallOption) (*MeasureResponse, error) {
	out := &MeasureResponse{}
	if err := c.invoke(ctx, "Measure", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ObjectStoreClient) invoke(ctx context.Context, method string, in, out wire, opts []grpc.CallOption) error {
	reply := dynamicpb.NewMessage(out.descriptor())
	if err := c.cc.Invoke(ctx, fullMethod(method), toDynamic(in), reply, opts...); err != nil {
		return err
	}
	out.load(reply)
	return nil
}
