package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
	"github.com/cwrk-planet/ecotalk-server/internal/postgres"
	"github.com/cwrk-planet/ecotalk-server/internal/service"
	httpmw "github.com/cwrk-planet/ecotalk-server/internal/transport/http/middleware"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type Handler struct {
	roomSvc   *service.RoomService
	memberSvc *service.MemberService
	chatSvc   *service.ChatService
}

func NewHandler(room *service.RoomService, member *service.MemberService, chat *service.ChatService) *Handler {
	return &Handler{
		roomSvc:   room,
		memberSvc: member,
		chatSvc:   chat,
	}
}

// GET /api/rooms
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.roomSvc.ListRooms())
}

// GET /api/rooms/public
func (h *Handler) ListPublicRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.roomSvc.ListPublicRooms())
}

// GET /api/rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.roomSvc.GetRoom(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		httpmw.Logger(r.Context()).Error("handler.GetRoom", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// GET /api/rooms/{id}/participants
func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	items, err := h.memberSvc.Participants(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		httpmw.Logger(r.Context()).Error("handler.GetParticipants", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, ParticipantsResponse{Items: items})
}

// GET /api/rooms/{id}/history?after=&limit=
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	if h.chatSvc == nil || !h.chatSvc.HasArchive() {
		writeError(w, http.StatusNotImplemented, "chat archive disabled")
		return
	}
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	items, next, err := h.chatSvc.History(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("after"), limit)
	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrInvalidCursor):
			writeError(w, http.StatusBadRequest, "invalid_cursor")
		case errors.Is(err, service.ErrArchiveDisabled):
			writeError(w, http.StatusNotImplemented, "chat archive disabled")
		default:
			httpmw.Logger(r.Context()).Error("handler.GetChatHistory", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	resp := ChatHistoryResponse{Items: make([]ChatMessageItem, 0, len(items)), NextCursor: next}
	for _, m := range items {
		resp.Items = append(resp.Items, ChatMessageItem{
			ID:         m.ID,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Content:    m.Content,
			Timestamp:  m.Timestamp.Truncate(time.Millisecond),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// DELETE /api/rooms/{id}: только с admin-токеном.
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	if !h.roomSvc.DeleteRoom(r.Context(), chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
