package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Описание сервиса ecotalk.v1.RoomDirectory. Сообщения — well-known types,
// поэтому кодогенерация не нужна.
const (
	RoomDirectoryServiceName = "ecotalk.v1.RoomDirectory"

	methodListRooms       = "/ecotalk.v1.RoomDirectory/ListRooms"
	methodListPublicRooms = "/ecotalk.v1.RoomDirectory/ListPublicRooms"
	methodGetRoom         = "/ecotalk.v1.RoomDirectory/GetRoom"
)

type RoomDirectoryServer interface {
	// ListRooms → {"rooms": [{"id", "participants"}]}
	ListRooms(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// ListPublicRooms → {"rooms": [RoomSummary]}
	ListPublicRooms(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// GetRoom → RoomSummary или NotFound
	GetRoom(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

func RegisterRoomDirectoryServer(s grpc.ServiceRegistrar, srv RoomDirectoryServer) {
	s.RegisterService(&roomDirectoryServiceDesc, srv)
}

var roomDirectoryServiceDesc = grpc.ServiceDesc{
	ServiceName: RoomDirectoryServiceName,
	HandlerType: (*RoomDirectoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListRooms", Handler: listRoomsHandler},
		{MethodName: "ListPublicRooms", Handler: listPublicRoomsHandler},
		{MethodName: "GetRoom", Handler: getRoomHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ecotalk/v1/room_directory.proto",
}

func listRoomsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoomDirectoryServer).ListRooms(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListRooms}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RoomDirectoryServer).ListRooms(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func listPublicRoomsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoomDirectoryServer).ListPublicRooms(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListPublicRooms}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RoomDirectoryServer).ListPublicRooms(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getRoomHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoomDirectoryServer).GetRoom(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetRoom}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RoomDirectoryServer).GetRoom(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// RoomDirectoryClient: клиент к тому же описанию сервиса.
type RoomDirectoryClient struct {
	cc grpc.ClientConnInterface
}

func NewRoomDirectoryClient(cc grpc.ClientConnInterface) *RoomDirectoryClient {
	return &RoomDirectoryClient{cc: cc}
}

func (c *RoomDirectoryClient) ListRooms(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodListRooms, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RoomDirectoryClient) ListPublicRooms(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodListPublicRooms, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RoomDirectoryClient) GetRoom(ctx context.Context, roomID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetRoom, wrapperspb.String(roomID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
