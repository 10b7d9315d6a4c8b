package grpcx

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/cwrk-planet/ecotalk-server/internal/logger"
)

const defaultCallTimeout = 10 * time.Second

// callLogger: логгер вызова с method, peer и x-request-id из метаданных.
// Он же кладётся в контекст, чтобы обработчики писали с теми же полями.
func callLogger(ctx context.Context, base *slog.Logger, kind, method string) (context.Context, *slog.Logger) {
	l := base.With("rpc", kind, "method", method)
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		l = l.With("peer", p.Addr.String())
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("x-request-id"); len(v) > 0 && v[0] != "" {
			l = l.With("req_id", v[0])
		}
	}
	return logger.WithContext(ctx, l), l
}

// levelFor: ошибки клиента не поднимаются выше WARN.
func levelFor(code codes.Code) slog.Level {
	switch code {
	case codes.OK, codes.NotFound, codes.InvalidArgument, codes.AlreadyExists, codes.Canceled:
		return slog.LevelInfo
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func recoverToStatus(ctx context.Context, l *slog.Logger, rec any) error {
	l.ErrorContext(ctx, "grpc panic", "panic", rec, "stack", string(debug.Stack()))
	return status.Error(codes.Internal, "internal server error")
}

func logCall(ctx context.Context, l *slog.Logger, start time.Time, err error) {
	code := status.Code(err)
	args := []any{"code", code.String(), "dur_ms", time.Since(start).Milliseconds()}
	if err != nil {
		args = append(args, "err", status.Convert(err).Message())
	}
	l.Log(ctx, levelFor(code), "grpc call", args...)
}

// UnaryServerInterceptor: логгер в контексте, recovery и deadline guard для вызовов без deadline.
func UnaryServerInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
			defer cancel()
		}
		ctx, l := callLogger(ctx, log, "unary", info.FullMethod)

		defer func() {
			if r := recover(); r != nil {
				err = recoverToStatus(ctx, l, r)
			}
			logCall(ctx, l, start, err)
		}()

		return handler(ctx, req)
	}
}

// ctxStream подменяет контекст потока.
type ctxStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *ctxStream) Context() context.Context { return s.ctx }

// StreamServerInterceptor: то же для потоков; deadline не навязывается, потоки живут долго.
func StreamServerInterceptor(log *slog.Logger) grpc.StreamServerInterceptor {
	if log == nil {
		log = slog.Default()
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		ctx, l := callLogger(ss.Context(), log, "stream", info.FullMethod)

		defer func() {
			if r := recover(); r != nil {
				err = recoverToStatus(ctx, l, r)
			}
			logCall(ctx, l, start, err)
		}()

		return handler(srv, &ctxStream{ServerStream: ss, ctx: ctx})
	}
}
