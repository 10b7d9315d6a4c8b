package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/cwrk-planet/ecotalk-server/config"
	"github.com/cwrk-planet/ecotalk-server/internal/identity"
	"github.com/cwrk-planet/ecotalk-server/internal/logger"
	"github.com/cwrk-planet/ecotalk-server/internal/metrics"
	"github.com/cwrk-planet/ecotalk-server/internal/postgres"
	"github.com/cwrk-planet/ecotalk-server/internal/service"
	"github.com/cwrk-planet/ecotalk-server/internal/telemetry"
	grpcx "github.com/cwrk-planet/ecotalk-server/internal/transport/grpc"
	httpx "github.com/cwrk-planet/ecotalk-server/internal/transport/http"
	"github.com/cwrk-planet/ecotalk-server/internal/transport/ws"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg := logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	lg.Info("starting ecotalk-server",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version,
		"destroy_policy", cfg.Rooms.DestroyPolicy, "signal_profile", cfg.Signaling.Profile)

	ctx := context.Background()

	// --- telemetry ---
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Logging.Service,
		Version:      cfg.Logging.Version,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		lg.Error("tracing disabled", "err", err)
	}

	// --- postgres (опционально) ---
	var archive service.Archive
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			ApplicationName: cfg.Logging.Service,
		})
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()

		chatRepo := postgres.NewChatRepository(pool)
		if err := chatRepo.EnsureSchema(ctx); err != nil {
			log.Fatalf("postgres: %v", err)
		}
		archive = chatRepo
		lg.Info("chat archive enabled")
	}

	// --- identity ---
	provider, err := buildProvider(cfg.Auth)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	resolver := identity.NewResolver(provider, cfg.Auth.Timeout, lg)

	// --- services ---
	m := metrics.New()
	hub := ws.NewHub(m, lg)
	registry := service.NewRegistry(hub, service.Options{
		DestroyPolicy:        service.DestroyPolicy(cfg.Rooms.DestroyPolicy),
		DestroyGrace:         cfg.Rooms.DestroyGrace,
		MaxParticipantsLimit: cfg.Rooms.MaxParticipantsLimit,
		MaxMessageLength:     cfg.Rooms.MaxMessageLength,
		SignalProfile:        service.SignalProfile(cfg.Signaling.Profile),
		Metrics:              m,
		Logger:               lg,
	})
	roomSvc := service.NewRoomService(registry)
	memberSvc := service.NewMemberService(registry)
	chatSvc := service.NewChatService(registry, archive)

	// --- WS ---
	wsServer := ws.NewServer(ws.Config{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		PingEvery:      cfg.WS.PingEvery,
		WriteWait:      cfg.WS.WriteWait,
		SendBuffer:     cfg.WS.SendBuffer,
		ReadLimit:      cfg.WS.ReadLimit,
		RateLimit:      cfg.WS.RateLimit,
		RateBurst:      cfg.WS.RateBurst,
	}, ws.Deps{
		Hub:      hub,
		Resolver: resolver,
		Rooms:    roomSvc,
		Members:  memberSvc,
		Chat:     chatSvc,
		Metrics:  m,
		Logger:   lg,
	})

	// --- HTTP ---
	handler := httpx.NewHandler(roomSvc, memberSvc, chatSvc)
	router := httpx.NewRouter(httpx.RouterConfig{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AdminToken:     cfg.HTTP.AdminToken,
		Logger:         lg,
	}, handler, wsServer.HandleWS, m)
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- gRPC (опционально) ---
	var grpcServer *grpc.Server
	if cfg.GRPC.Addr != "" {
		grpcServer, _ = grpcx.NewGRPCServer(grpcx.NewServer(roomSvc), lg)
	}

	// --- run servers ---
	errCh := make(chan error, 2)

	go func() {
		lg.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if grpcServer != nil {
		go func() {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				errCh <- err
				return
			}
			lg.Info("grpc listen", "addr", cfg.GRPC.Addr)
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		lg.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		lg.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	// WS-соединения хайджекнуты и Shutdown их не ждёт: закрываем явно
	wsServer.CloseAll()
	_ = httpSrv.Shutdown(ctxShutdown)
	registry.Close()
	if err := shutdownTracing(ctxShutdown); err != nil {
		lg.Warn("tracing shutdown", "err", err)
	}
	lg.Info("stopped", "open_connections", hub.Len())
}

func buildProvider(cfg config.Auth) (identity.Provider, error) {
	switch cfg.Provider {
	case "jwt":
		return identity.NewJWTProvider(identity.JWTConfig{
			Secret:        cfg.JWT.Secret,
			PublicKeyPath: cfg.JWT.PublicKeyPath,
			Issuer:        cfg.JWT.Issuer,
			Audience:      cfg.JWT.Audience,
			Leeway:        cfg.JWT.Leeway,
		})
	case "http":
		return identity.NewHTTPProvider(cfg.HTTP.URL, cfg.Timeout)
	default:
		slog.Info("auth provider disabled, all connections are anonymous")
		return identity.NoneProvider{}, nil
	}
}
