package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
	"github.com/cwrk-planet/ecotalk-server/internal/metrics"
	"github.com/cwrk-planet/ecotalk-server/internal/postgres"
	"github.com/cwrk-planet/ecotalk-server/internal/service"
)

type memArchive struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (a *memArchive) Save(_ context.Context, _ string, m domain.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, m)
	return nil
}

func (a *memArchive) History(_ context.Context, _, after string, limit int) ([]domain.Message, string, error) {
	if _, err := postgres.DecodeCursor(after); err != nil {
		return nil, "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	n := min(limit, len(a.msgs))
	return append([]domain.Message(nil), a.msgs[:n]...), "", nil
}

type env struct {
	rooms   *service.RoomService
	members *service.MemberService
	chat    *service.ChatService
	router  http.Handler
}

func newEnv(t *testing.T, archive service.Archive, adminToken string) *env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	reg := service.NewRegistry(nil, service.Options{Logger: log, Metrics: m})
	t.Cleanup(reg.Close)

	e := &env{
		rooms:   service.NewRoomService(reg),
		members: service.NewMemberService(reg),
		chat:    service.NewChatService(reg, archive),
	}
	ws := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }
	e.router = NewRouter(RouterConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		AdminToken:     adminToken,
		Logger:         log,
	}, NewHandler(e.rooms, e.members, e.chat), ws, m)
	return e
}

func (e *env) do(t *testing.T, method, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.rooms.CreateRoom(ctx, "c0", "u", domain.RoomSpec{ID: "pub", Name: "Public"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.rooms.CreateRoom(ctx, "c0", "u", domain.RoomSpec{ID: "priv", Name: "Private", IsPrivate: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.members.Join(ctx, "pub", domain.ParticipantSpec{ID: "alice", DisplayName: "Alice"}, "c1"); err != nil {
		t.Fatal(err)
	}
}

func TestListRooms(t *testing.T) {
	e := newEnv(t, nil, "")
	e.seed(t)

	rec := e.do(t, http.MethodGet, "/api/rooms", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var counts []domain.RoomCount
	if err := json.NewDecoder(rec.Body).Decode(&counts); err != nil {
		t.Fatal(err)
	}
	got := map[string]int{}
	for _, c := range counts {
		got[c.ID] = c.Participants
	}
	if len(got) != 2 || got["pub"] != 1 || got["priv"] != 0 {
		t.Fatalf("counts: %+v", counts)
	}

	rec = e.do(t, http.MethodGet, "/api/rooms/public", nil)
	var pub []domain.RoomSummary
	if err := json.NewDecoder(rec.Body).Decode(&pub); err != nil {
		t.Fatal(err)
	}
	if len(pub) != 1 || pub[0].ID != "pub" || pub[0].ParticipantCount != 1 {
		t.Fatalf("public: %+v", pub)
	}
}

func TestGetRoomAndParticipants(t *testing.T) {
	e := newEnv(t, nil, "")
	e.seed(t)

	cases := []struct {
		path string
		want int
	}{
		{"/api/rooms/pub", http.StatusOK},
		{"/api/rooms/nope", http.StatusNotFound},
		{"/api/rooms/pub/participants", http.StatusOK},
		{"/api/rooms/nope/participants", http.StatusNotFound},
	}
	for _, c := range cases {
		if rec := e.do(t, http.MethodGet, c.path, nil); rec.Code != c.want {
			t.Errorf("GET %s = %d, want %d", c.path, rec.Code, c.want)
		}
	}

	rec := e.do(t, http.MethodGet, "/api/rooms/pub/participants", nil)
	var resp ParticipantsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "alice" || !resp.Items[0].IsHost {
		t.Fatalf("participants: %+v", resp)
	}
}

func TestHistory(t *testing.T) {
	e := newEnv(t, nil, "")
	if rec := e.do(t, http.MethodGet, "/api/rooms/pub/history", nil); rec.Code != http.StatusNotImplemented {
		t.Fatalf("without archive: %d", rec.Code)
	}

	arch := &memArchive{}
	e = newEnv(t, arch, "")
	e.seed(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if _, err := e.chat.PostMessage(context.Background(), "pub", domain.MessageSpec{SenderID: "alice", Content: "hello", Timestamp: ts}); err != nil {
		t.Fatal(err)
	}

	rec := e.do(t, http.MethodGet, "/api/rooms/pub/history?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status %d: %s", rec.Code, rec.Body)
	}
	var hist ChatHistoryResponse
	if err := json.NewDecoder(rec.Body).Decode(&hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Items) != 1 || hist.Items[0].Content != "hello" || hist.Items[0].SenderName != "Alice" {
		t.Fatalf("history: %+v", hist)
	}

	for _, q := range []string{"?limit=abc", "?limit=-1", "?after=***"} {
		if rec := e.do(t, http.MethodGet, "/api/rooms/pub/history"+q, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("history%s = %d, want 400", q, rec.Code)
		}
	}
}

func TestDeleteRoomRequiresAdminToken(t *testing.T) {
	e := newEnv(t, nil, "s3cret")
	e.seed(t)

	if rec := e.do(t, http.MethodDelete, "/api/rooms/pub", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	if rec := e.do(t, http.MethodDelete, "/api/rooms/pub", map[string]string{"Authorization": "Bearer nope"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", rec.Code)
	}
	auth := map[string]string{"Authorization": "Bearer s3cret"}
	if rec := e.do(t, http.MethodDelete, "/api/rooms/pub", auth); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := e.do(t, http.MethodDelete, "/api/rooms/pub", auth); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", rec.Code)
	}

	disabled := newEnv(t, nil, "")
	disabled.seed(t)
	if rec := disabled.do(t, http.MethodDelete, "/api/rooms/pub", auth); rec.Code != http.StatusForbidden {
		t.Fatalf("admin api without token configured: %d", rec.Code)
	}
}

func TestRouterHealthMetricsAndWS(t *testing.T) {
	e := newEnv(t, nil, "")

	if rec := e.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body)
	}
	rec := e.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ecotalk_events_total") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body)
	}
	if rec := e.do(t, http.MethodGet, "/ws", nil); rec.Code != http.StatusTeapot {
		t.Fatalf("ws route not wired: %d", rec.Code)
	}
}

func TestCORSAllowList(t *testing.T) {
	e := newEnv(t, nil, "")

	rec := e.do(t, http.MethodGet, "/api/rooms", map[string]string{"Origin": "http://localhost:3000"})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allowed origin header: %q", got)
	}
	rec = e.do(t, http.MethodGet, "/api/rooms", map[string]string{"Origin": "http://evil.example"})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}
