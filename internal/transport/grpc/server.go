package grpcx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
	"github.com/cwrk-planet/ecotalk-server/internal/service"
)

type Server struct {
	roomSvc *service.RoomService
}

var _ RoomDirectoryServer = (*Server)(nil)

func NewServer(roomSvc *service.RoomService) *Server {
	return &Server{roomSvc: roomSvc}
}

// NewGRPCServer собирает *grpc.Server с интерсепторами, otel и health-сервисом.
func NewGRPCServer(s *Server, log *slog.Logger) (*grpc.Server, *health.Server) {
	gs := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(log)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor(log)),
	)
	RegisterRoomDirectoryServer(gs, s)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(RoomDirectoryServiceName, healthpb.HealthCheckResponse_SERVING)
	return gs, hs
}

func (s *Server) ListRooms(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(map[string]any{"rooms": s.roomSvc.ListRooms()})
}

func (s *Server) ListPublicRooms(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(map[string]any{"rooms": s.roomSvc.ListPublicRooms()})
}

func (s *Server) GetRoom(_ context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := strings.TrimSpace(in.GetValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "room id is required")
	}
	room, err := s.roomSvc.GetRoom(id)
	if err != nil {
		return nil, mapErr(err)
	}
	return toStruct(room)
}

// toStruct переводит доменную структуру в structpb через её JSON-представление,
// чтобы gRPC и WS отдавали одинаковые имена полей.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return out, nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrMalformedEvent):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
