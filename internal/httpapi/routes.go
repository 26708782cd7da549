package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-coordinator/internal/hub"
	"github.com/DoyleJ11/rps-coordinator/internal/profile"
)

type Deps struct {
	Hub         *hub.Hub
	Leaderboard profile.LeaderboardReader // optional
	History     profile.HistoryReader     // optional
	WS          http.HandlerFunc
	Log         *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/stats", Stats(d.Hub))
	r.Post("/rooms", CreateRoomCode(d.Hub, log))
	r.Get("/leaderboard", Leaderboard(d.Leaderboard, log))
	r.Get("/users/{userId}/game-history", GameHistory(d.History, log))
	if d.WS != nil {
		r.Get("/ws", d.WS)
	}
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("requestId", middleware.GetReqID(r.Context())))
		})
	}
}
