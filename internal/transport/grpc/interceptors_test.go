package grpcx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/cwrk-planet/ecotalk-server/internal/logger"
)

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeStream) Context() context.Context { return s.ctx }

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestStreamInterceptorPropagatesLoggerAndCode(t *testing.T) {
	var buf bytes.Buffer
	icpt := StreamServerInterceptor(slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "r-1"))
	err := icpt(nil, fakeStream{ctx: ctx}, &grpc.StreamServerInfo{FullMethod: "/ecotalk.v1.RoomDirectory/Watch"}, func(_ any, ss grpc.ServerStream) error {
		logger.FromContext(ss.Context()).Info("inside handler")
		return status.Error(codes.NotFound, "no such room")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("code: %v", err)
	}

	lines := jsonLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("log lines: %v", lines)
	}
	if lines[0]["req_id"] != "r-1" || lines[0]["rpc"] != "stream" {
		t.Fatalf("handler logger lacks call fields: %v", lines[0])
	}
	call := lines[1]
	if call["msg"] != "grpc call" || call["code"] != "NotFound" || call["level"] != "INFO" || call["err"] != "no such room" {
		t.Fatalf("call log: %v", call)
	}
}

func TestStreamInterceptorRecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	icpt := StreamServerInterceptor(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := icpt(nil, fakeStream{ctx: context.Background()}, &grpc.StreamServerInfo{FullMethod: "/x/Y"}, func(any, grpc.ServerStream) error {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("panic not converted: %v", err)
	}
	lines := jsonLines(t, &buf)
	last := lines[len(lines)-1]
	if last["code"] != "Internal" || last["level"] != "ERROR" {
		t.Fatalf("call log: %v", last)
	}
}

func TestLevelFor(t *testing.T) {
	cases := map[codes.Code]slog.Level{
		codes.OK:               slog.LevelInfo,
		codes.InvalidArgument:  slog.LevelInfo,
		codes.DeadlineExceeded: slog.LevelWarn,
		codes.Unavailable:      slog.LevelWarn,
		codes.Internal:         slog.LevelError,
		codes.Unknown:          slog.LevelError,
	}
	for code, want := range cases {
		if got := levelFor(code); got != want {
			t.Errorf("%s: got %v, want %v", code, got, want)
		}
	}
}
