package ws

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/ecotalk-server/internal/identity"
	"github.com/cwrk-planet/ecotalk-server/internal/idgen"
	"github.com/cwrk-planet/ecotalk-server/internal/metrics"
	"github.com/cwrk-planet/ecotalk-server/internal/service"
)

type Config struct {
	AllowedOrigins []string // "*" — любой origin
	PingEvery      time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	ReadLimit      int64

	// Лимит входящих событий на соединение (token bucket); 0 отключает лимит.
	RateLimit float64
	RateBurst int
}

func (c Config) withDefaults() Config {
	if c.PingEvery <= 0 {
		c.PingEvery = 15 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = int(c.RateLimit) * 2
		if c.RateBurst < 1 {
			c.RateBurst = 1
		}
	}
	return c
}

type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	hub      *Hub
	resolver *identity.Resolver
	rooms    *service.RoomService
	members  *service.MemberService
	chat     *service.ChatService

	metrics *metrics.Metrics
	log     *slog.Logger
}

type Deps struct {
	Hub      *Hub
	Resolver *identity.Resolver
	Rooms    *service.RoomService
	Members  *service.MemberService
	Chat     *service.ChatService
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func NewServer(cfg Config, d Deps) *Server {
	cfg = cfg.withDefaults()
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		hub:      d.Hub,
		resolver: d.Resolver,
		rooms:    d.Rooms,
		members:  d.Members,
		chat:     d.Chat,
		metrics:  d.Metrics,
		log:      d.Logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin: запросы без Origin (не из браузера) пропускаем.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return OriginAllowed(origin, s.cfg.AllowedOrigins)
}

func OriginAllowed(origin string, allowed []string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	norm := strings.ToLower(u.Scheme + "://" + u.Host)
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimRight(strings.TrimSpace(a), "/"))
		if a == "*" || a == norm {
			return true
		}
	}
	return false
}

// tokenFromRequest: access_token/token в query или Authorization: Bearer.
func tokenFromRequest(r *http.Request) string {
	q := r.URL.Query()
	if t := strings.TrimSpace(q.Get("access_token")); t != "" {
		return t
	}
	if t := strings.TrimSpace(q.Get("token")); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// HandleWS: GET /ws. Личность определяется до апгрейда и до любых действий с комнатами.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ident := s.resolver.Resolve(r.Context(), tokenFromRequest(r), r.URL.Query().Get("anonymous_id"))

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		s.log.Warn("ws upgrade failed", "origin", r.Header.Get("Origin"), "err", err)
		return
	}

	c := newWsConn(idgen.NewConnectionID(), ident, ws, s.cfg, s.log)
	s.hub.add(c)
	s.log.Info("ws connected", "conn", c.id, "user", ident.UserID, "authenticated", ident.IsAuthenticated, "remote", r.RemoteAddr)

	s.hub.Send(c.id, service.Event{Name: service.EventConnected, Payload: service.ConnectedPayload{
		ConnectionID:    c.id,
		UserID:          ident.UserID,
		IsAuthenticated: ident.IsAuthenticated,
	}})

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	go c.writeLoop()
	s.readLoop(ctx, c)

	// неявный выход из всех комнат этого соединения
	outs := s.members.LeaveConnection(ctx, c.id)
	s.hub.remove(c)
	c.closeWith(websocket.CloseNormalClosure, "")
	s.log.Info("ws disconnected", "conn", c.id, "user", ident.UserID, "left_rooms", len(outs))
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	sess := newSession(s, c)

	c.ws.SetReadLimit(s.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("ws read failed", "conn", c.id, "err", err)
			}
			return
		}
		// любой кадр от клиента продлевает жизнь соединения
		_ = c.ws.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))
		if kind != websocket.TextMessage {
			continue
		}
		sess.handle(ctx, data)
		if c.closed() {
			return
		}
	}
}

// CloseAll закрывает все соединения при остановке сервера.
func (s *Server) CloseAll() { s.hub.CloseAll("server shutting down") }
