package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-coordinator/internal/engine"
	"github.com/DoyleJ11/rps-coordinator/internal/hub"
	"github.com/DoyleJ11/rps-coordinator/internal/profile"
)

const codeAttempts = 10

// CreateRoomCode hands out a code no live room is using. It does not reserve
// it; the client still has to create-room and retry on DuplicateRoomCode.
func CreateRoomCode(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < codeAttempts; i++ {
			code, err := engine.GenerateCode()
			if err != nil {
				log.Error("generate room code", zap.Error(err))
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			_, err = h.Get(r.Context(), code)
			if errors.Is(err, hub.ErrHubClosed) {
				http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
				return
			}
			if errors.Is(err, engine.ErrRoomNotFound) {
				writeJSON(w, http.StatusCreated, struct {
					Code string `json:"code"`
				}{Code: code})
				return
			}
			if err != nil {
				http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
				return
			}
			log.Debug("collision on code, regenerating", zap.String("code", code))
		}
		http.Error(w, "no free code", http.StatusServiceUnavailable)
	}
}

func Stats(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := h.Count(r.Context())
		if err != nil {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Rooms int `json:"rooms"`
		}{Rooms: n})
	}
}

func Leaderboard(lb profile.LeaderboardReader, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lb == nil {
			http.Error(w, "leaderboard not configured", http.StatusServiceUnavailable)
			return
		}
		entries, err := lb.Leaderboard(r.Context(), limitParam(r))
		if err != nil {
			log.Error("read leaderboard", zap.Error(err))
			http.Error(w, "leaderboard unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func GameHistory(hr profile.HistoryReader, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hr == nil {
			http.Error(w, "game history not configured", http.StatusServiceUnavailable)
			return
		}
		userID := chi.URLParam(r, "userId")
		history, err := hr.GameHistory(r.Context(), userID, limitParam(r))
		switch {
		case errors.Is(err, profile.ErrUserNotFound):
			http.Error(w, "user not found", http.StatusNotFound)
			return
		case err != nil:
			log.Error("read game history", zap.String("user", userID), zap.Error(err))
			http.Error(w, "game history unavailable", http.StatusServiceUnavailable)
			return
		}
		if history.GameHistory == nil {
			history.GameHistory = []profile.HistoryEntry{}
		}
		writeJSON(w, http.StatusOK, history)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func limitParam(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return profile.ClampLimit(n)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
