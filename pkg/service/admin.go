package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/meshcast/sfu/pkg/config"
	"github.com/meshcast/sfu/pkg/rtc"
)

const msgpackContentType = "application/msgpack"

// AdminAPI is the operator-facing REST surface: room listing, room
// detail, and forced peer eviction, gated by a static bearer token
// since the signaling protocol carries no such privilege.
type AdminAPI struct {
	manager *rtc.Manager
	token   string
}

func NewAdminAPI(manager *rtc.Manager, cfg config.AdminConfig) *AdminAPI {
	return &AdminAPI{manager: manager, token: cfg.BearerToken}
}

func (a *AdminAPI) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(a.requireBearer)
	r.Get("/rooms", a.listRooms)
	r.Get("/rooms/{roomId}", a.getRoom)
	r.Post("/rooms/{roomId}/peers/{peerId}/evict", a.evictPeer)
	return r
}

func (a *AdminAPI) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token == "" {
			http.Error(w, "admin API disabled: no bearer token configured", http.StatusServiceUnavailable)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != a.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type roomSummary struct {
	RoomID    rtc.RoomID `json:"roomId"`
	PeerCount int        `json:"peerCount"`
}

func (a *AdminAPI) listRooms(w http.ResponseWriter, r *http.Request) {
	ids := a.manager.ListRooms()
	summaries := make([]roomSummary, 0, len(ids))
	for _, id := range ids {
		snap, ok := a.manager.RoomSnapshot(id)
		if !ok {
			continue
		}
		summaries = append(summaries, roomSummary{RoomID: id, PeerCount: len(snap.Peers)})
	}
	writeResponse(w, r, http.StatusOK, summaries)
}

func (a *AdminAPI) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := rtc.RoomID(chi.URLParam(r, "roomId"))
	snap, ok := a.manager.RoomSnapshot(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	writeResponse(w, r, http.StatusOK, snap)
}

func (a *AdminAPI) evictPeer(w http.ResponseWriter, r *http.Request) {
	peerID := rtc.PeerID(chi.URLParam(r, "peerId"))
	peer, ok := a.manager.LookupPeer(peerID)
	if !ok {
		http.Error(w, "peer not found", http.StatusNotFound)
		return
	}
	a.manager.CleanupPeer(context.Background(), peer)
	w.WriteHeader(http.StatusNoContent)
}

// writeResponse encodes as msgpack when the client asks for it — the
// alternate wire encoding roomctl uses over the default JSON — and falls
// back to JSON for everything else, including plain browsers and curl.
func writeResponse(w http.ResponseWriter, r *http.Request, status int, v any) {
	if r.Header.Get("Accept") == msgpackContentType {
		data, err := msgpack.Marshal(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", msgpackContentType)
		w.WriteHeader(status)
		_, _ = w.Write(data)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
