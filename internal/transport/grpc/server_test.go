package grpcx

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
	"github.com/cwrk-planet/ecotalk-server/internal/service"
)

func startServer(t *testing.T) (*service.RoomService, *service.MemberService, *grpc.ClientConn) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := service.NewRegistry(nil, service.Options{Logger: log})
	t.Cleanup(reg.Close)
	rooms := service.NewRoomService(reg)
	members := service.NewMemberService(reg)

	lis := bufconn.Listen(1 << 20)
	gs, _ := NewGRPCServer(NewServer(rooms), log)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return rooms, members, conn
}

func TestRoomDirectory(t *testing.T) {
	rooms, members, conn := startServer(t)
	ctx := context.Background()

	info, err := rooms.CreateRoom(ctx, "c1", "alice", domain.RoomSpec{ID: "r1", Name: "Standup"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := members.Join(ctx, info.ID, domain.ParticipantSpec{ID: "alice"}, "c1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	client := NewRoomDirectoryClient(conn)

	list, err := client.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	items := list.GetFields()["rooms"].GetListValue().GetValues()
	if len(items) != 1 {
		t.Fatalf("rooms: %v", list)
	}
	fields := items[0].GetStructValue().GetFields()
	if fields["id"].GetStringValue() != "r1" || fields["participants"].GetNumberValue() != 1 {
		t.Fatalf("room count: %v", fields)
	}

	pub, err := client.ListPublicRooms(ctx)
	if err != nil || len(pub.GetFields()["rooms"].GetListValue().GetValues()) != 1 {
		t.Fatalf("ListPublicRooms: %v %v", pub, err)
	}

	room, err := client.GetRoom(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room.GetFields()["name"].GetStringValue() != "Standup" || room.GetFields()["participantCount"].GetNumberValue() != 1 {
		t.Fatalf("room: %v", room)
	}
}

func TestRoomDirectoryErrors(t *testing.T) {
	_, _, conn := startServer(t)
	client := NewRoomDirectoryClient(conn)

	cases := []struct {
		id   string
		code codes.Code
	}{
		{"missing", codes.NotFound},
		{"  ", codes.InvalidArgument},
	}
	for _, c := range cases {
		_, err := client.GetRoom(context.Background(), c.id)
		if status.Code(err) != c.code {
			t.Errorf("GetRoom(%q) code = %v, want %v", c.id, status.Code(err), c.code)
		}
	}
}

func TestHealthService(t *testing.T) {
	_, _, conn := startServer(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: RoomDirectoryServiceName})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status: %v", resp.GetStatus())
	}
}

func TestUnaryInterceptorRecoversPanic(t *testing.T) {
	icpt := UnaryServerInterceptor(slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"}, func(ctx context.Context, req any) (any, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("deadline guard not applied")
		}
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("panic not converted: %v", err)
	}
}
