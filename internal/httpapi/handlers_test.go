package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-coordinator/internal/engine"
	"github.com/DoyleJ11/rps-coordinator/internal/hub"
	"github.com/DoyleJ11/rps-coordinator/internal/profile"
	"github.com/DoyleJ11/rps-coordinator/internal/room"
	"github.com/DoyleJ11/rps-coordinator/internal/types"
)

type fakeStore struct {
	limit   int
	entries []profile.LeaderboardEntry
	history map[string]profile.UserHistory
	err     error
}

func (f *fakeStore) Leaderboard(_ context.Context, limit int) ([]profile.LeaderboardEntry, error) {
	f.limit = limit
	return f.entries, f.err
}

func (f *fakeStore) GameHistory(_ context.Context, userID string, limit int) (profile.UserHistory, error) {
	f.limit = limit
	h, ok := f.history[userID]
	if !ok {
		return profile.UserHistory{}, profile.ErrUserNotFound
	}
	return h, f.err
}

type nopConn struct{}

func (nopConn) ID() string                     { return "c1" }
func (nopConn) Send(types.ServerMessage) error { return nil }

func newHub(t *testing.T) *hub.Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, room.Options{Timing: room.DefaultTiming()}, zap.NewNop())
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func do(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router := SetupRoutes(Deps{Hub: newHub(t)})
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/healthz").Code)
}

func TestStats_CountsRooms(t *testing.T) {
	h := newHub(t)
	_, err := h.Create(context.Background(), "AB12CD", engine.Player{UserID: "u-alice"}, nopConn{})
	require.NoError(t, err)

	rec := do(t, SetupRoutes(Deps{Hub: h}), http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"rooms":1}`, rec.Body.String())
}

func TestCreateRoomCode(t *testing.T) {
	rec := do(t, SetupRoutes(Deps{Hub: newHub(t)}), http.MethodPost, "/rooms")
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NoError(t, engine.ValidateCode(body.Code))
}

func TestCreateRoomCode_HubClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, room.Options{Timing: room.DefaultTiming()}, zap.NewNop())
	cancel()
	<-h.Done()

	router := SetupRoutes(Deps{Hub: h})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodPost, "/rooms").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodGet, "/stats").Code)
}

func TestLeaderboard(t *testing.T) {
	store := &fakeStore{entries: []profile.LeaderboardEntry{
		{UserID: "u-alice", Username: "alice", Score: 9, Rank: 1},
		{UserID: "u-bob", Username: "bob", Score: 4, Rank: 2},
	}}
	router := SetupRoutes(Deps{Hub: newHub(t), Leaderboard: store})

	rec := do(t, router, http.MethodGet, "/leaderboard?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, store.limit)

	var got []profile.LeaderboardEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, store.entries, got)

	do(t, router, http.MethodGet, "/leaderboard?limit=5000")
	assert.Equal(t, profile.MaxLimit, store.limit)

	store.err = errors.New("redis down")
	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodGet, "/leaderboard").Code)
}

func TestLeaderboard_NotConfigured(t *testing.T) {
	router := SetupRoutes(Deps{Hub: newHub(t)})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodGet, "/leaderboard").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodGet, "/users/u-alice/game-history").Code)
}

func TestGameHistory(t *testing.T) {
	played := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{history: map[string]profile.UserHistory{
		"u-alice": {
			UserID:   "u-alice",
			Username: "alice",
			GameHistory: []profile.HistoryEntry{{
				OpponentID:     "u-bob",
				OpponentName:   "bob",
				Result:         "win",
				PointsEarned:   3,
				PlayerChoice:   "rock",
				OpponentChoice: "scissors",
				Timestamp:      played,
			}},
		},
		"u-new": {UserID: "u-new", Username: "newbie"},
	}}
	router := SetupRoutes(Deps{Hub: newHub(t), History: store})

	rec := do(t, router, http.MethodGet, "/users/u-alice/game-history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, profile.DefaultLimit, store.limit)

	var body profile.UserHistory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "u-alice", body.UserID)
	assert.Equal(t, "alice", body.Username)
	require.Len(t, body.GameHistory, 1)
	assert.Equal(t, "bob", body.GameHistory[0].OpponentName)
	assert.True(t, played.Equal(body.GameHistory[0].Timestamp))

	rec = do(t, router, http.MethodGet, "/users/u-new/game-history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":"u-new","username":"newbie","gameHistory":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/users/u-nobody/game-history").Code)
}
