package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cwrk-planet/ecotalk-server/internal/metrics"
	httpmw "github.com/cwrk-planet/ecotalk-server/internal/transport/http/middleware"
)

type RouterConfig struct {
	AllowedOrigins []string
	AdminToken     string
	Logger         *slog.Logger
}

func NewRouter(cfg RouterConfig, h *Handler, wsHandler http.HandlerFunc, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httpmw.WithRequestLogger(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// WS вне группы с RequestLogger: его statusWriter не умеет Hijack
	r.Get("/ws", wsHandler)

	r.Group(func(pr chi.Router) {
		pr.Use(httpmw.RequestLogger)
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		pr.Route("/api/rooms", func(rm chi.Router) {
			rm.Get("/", h.ListRooms)
			rm.Get("/public", h.ListPublicRooms)

			rm.Route("/{id}", func(rr chi.Router) {
				rr.Get("/", h.GetRoom)
				rr.Get("/participants", h.GetParticipants)
				rr.Get("/history", h.GetChatHistory)
				rr.With(httpmw.AdminToken(cfg.AdminToken)).Delete("/", h.DeleteRoom)
			})
		})
	})

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.PrometheusHandler(m))

	return r
}
