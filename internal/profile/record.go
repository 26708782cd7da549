// Package profile hands resolved matches to the profile and leaderboard
// stores. The room never waits on it.
package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/DoyleJ11/rps-coordinator/internal/engine"
)

type Side struct {
	Player  engine.Player
	Choice  engine.Choice
	Outcome engine.Outcome
	Points  int
	Forced  bool
}

type MatchRecord struct {
	RoomCode   string
	PlayCount  int
	ResolvedAt time.Time
	Host       Side
	Guest      Side
}

// NewMatchRecord builds the record for a resolved room state.
func NewMatchRecord(s engine.State) (MatchRecord, error) {
	if s.Phase != engine.PhaseResolved || s.Result == nil {
		return MatchRecord{}, fmt.Errorf("room %s is not resolved", s.Code)
	}
	r := s.Result
	return MatchRecord{
		RoomCode:   s.Code,
		PlayCount:  r.PlayCount,
		ResolvedAt: r.ResolvedAt,
		Host: Side{
			Player:  s.Host.Player,
			Choice:  r.HostChoice,
			Outcome: r.HostOutcome,
			Points:  engine.Points(r.HostOutcome),
			Forced:  r.HostForced,
		},
		Guest: Side{
			Player:  s.Guest.Player,
			Choice:  r.GuestChoice,
			Outcome: r.GuestOutcome,
			Points:  engine.Points(r.GuestOutcome),
			Forced:  r.GuestForced,
		},
	}, nil
}

// Key identifies the match for idempotent writes. Codes are reused once a
// room is evicted, so the resolution time is part of it.
func (m MatchRecord) Key() string {
	return fmt.Sprintf("%s:%d:%d", m.RoomCode, m.PlayCount, m.ResolvedAt.UnixNano())
}

// Sides returns (self, opponent) pairs for both players.
func (m MatchRecord) Sides() [2][2]Side {
	return [2][2]Side{{m.Host, m.Guest}, {m.Guest, m.Host}}
}

// Sink persists a match. Record must be safe to retry with the same record.
type Sink interface {
	Name() string
	Record(ctx context.Context, m MatchRecord) error
}

type LeaderboardEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

// HistoryEntry mirrors the client's game-history shape.
type HistoryEntry struct {
	OpponentID       string    `json:"opponentId"`
	OpponentName     string    `json:"opponentName"`
	OpponentAvatarID string    `json:"opponentAvatarId"`
	Result           string    `json:"result"`
	PointsEarned     int       `json:"pointsEarned"`
	PlayerChoice     string    `json:"playerChoice"`
	OpponentChoice   string    `json:"opponentChoice"`
	Timestamp        time.Time `json:"timestamp"`
}

type LeaderboardReader interface {
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// UserHistory is one user's recent matches, newest first.
type UserHistory struct {
	UserID      string         `json:"userId"`
	Username    string         `json:"username"`
	GameHistory []HistoryEntry `json:"gameHistory"`
}

type HistoryReader interface {
	GameHistory(ctx context.Context, userID string, limit int) (UserHistory, error)
}

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ClampLimit applies the default and ceiling to a requested page size.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}
