// Package types holds the websocket wire format. Every frame in both
// directions is {"event": <name>, "data": <payload>}.
package types

import (
	"encoding/json"
	"fmt"

	"github.com/DoyleJ11/rps-coordinator/internal/engine"
)

// Client -> Server events
const (
	EventCreateRoom   = "create-room"
	EventJoinRoom     = "join-room"
	EventStartGame    = "start-game"
	EventPlayerChoice = "player-choice"
)

// Server -> Client events
const (
	EventRoomCreated                   = "room-created"
	EventPlayerJoined                  = "player-joined"
	EventRoomJoinedSuccess             = "room-joined-success"
	EventPlayerReconnected             = "player-reconnected"
	EventRoomState                     = "room-state"
	EventPlayerReady                   = "player-ready"
	EventStartCountdown                = "start-countdown"
	EventCountdownTick                 = "countdown-tick"
	EventGameResult                    = "game-result"
	EventRoomError                     = "room-error"
	EventPlayerTemporarilyDisconnected = "player-temporarily-disconnected"
	EventPlayerDisconnected            = "player-disconnected"
)

type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type PlayerData struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Rank     int    `json:"rank"`
	AvatarID AvatarID `json:"avatarId,omitempty"`
}

func (p PlayerData) Player() engine.Player {
	return engine.Player{UserID: p.UserID, Username: p.Username, Rank: p.Rank, AvatarID: string(p.AvatarID)}
}

func FromPlayer(p engine.Player) PlayerData {
	return PlayerData{UserID: p.UserID, Username: p.Username, Rank: p.Rank, AvatarID: AvatarID(p.AvatarID)}
}

// AvatarID is sent by clients either as a string or as a bare number.
// It is always written back as a string.
type AvatarID string

func (a *AvatarID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = AvatarID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("avatarId: want string or number, got %s", data)
	}
	*a = AvatarID(n.String())
	return nil
}

// Client payloads

type CreateRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Rank     int    `json:"rank"`
	AvatarID AvatarID `json:"avatarId"`
}

func (p CreateRoomPayload) Player() engine.Player {
	return engine.Player{UserID: p.UserID, Username: p.Username, Rank: p.Rank, AvatarID: string(p.AvatarID)}
}

type JoinRoomPayload struct {
	RoomID    string     `json:"roomId"`
	GuestData PlayerData `json:"guestData"`
}

type StartGamePayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type PlayerChoicePayload struct {
	RoomID string `json:"roomId"`
	Choice string `json:"choice"`
	UserID string `json:"userId"`
}

// Server payloads

type RoomData struct {
	RoomID      string      `json:"roomId"`
	State       string      `json:"state"`
	Host        PlayerData  `json:"host"`
	Guest       *PlayerData `json:"guest,omitempty"`
	HostReady   bool        `json:"hostReady"`
	GuestReady  bool        `json:"guestReady"`
	PlayCount   int         `json:"playCount"`
	SecondsLeft int         `json:"secondsLeft,omitempty"`
}

func NewRoomData(s engine.State, secondsLeft int) RoomData {
	d := RoomData{
		RoomID:      s.Code,
		State:       string(s.Phase),
		Host:        FromPlayer(s.Host.Player),
		HostReady:   s.Host.Ready,
		GuestReady:  s.Guest.Ready,
		PlayCount:   s.PlayCount,
		SecondsLeft: secondsLeft,
	}
	if s.Guest.Taken() {
		g := FromPlayer(s.Guest.Player)
		d.Guest = &g
	}
	return d
}

type RoomCreatedPayload struct {
	RoomID string `json:"roomId"`
	HostID string `json:"hostId"`
}

type PlayerJoinedPayload struct {
	GuestData PlayerData `json:"guestData"`
	RoomData  RoomData   `json:"roomData"`
}

type RoomJoinedSuccessPayload struct {
	HostData PlayerData `json:"hostData"`
	RoomData RoomData   `json:"roomData"`
}

type PlayerReconnectedPayload struct {
	ReconnectedPlayer PlayerData `json:"reconnectedPlayer"`
	RoomData          RoomData   `json:"roomData"`
}

type RoomStatePayload struct {
	Role     string   `json:"role"`
	RoomData RoomData `json:"roomData"`
}

type PlayerReadyPayload struct {
	PlayerName   string `json:"playerName"`
	ReadyCount   int    `json:"readyCount"`
	TotalPlayers int    `json:"totalPlayers"`
}

type CountdownPayload struct {
	SecondsLeft int `json:"secondsLeft"`
}

type GameResultPayload struct {
	PlayerChoice   string `json:"playerChoice"`
	OpponentChoice string `json:"opponentChoice"`
	Result         string `json:"result"`
}

type Empty struct{}

func RoomError(err error) ServerMessage {
	return ServerMessage{Event: EventRoomError, Data: engine.Kind(err)}
}

func GameResult(r engine.Result, role engine.Role) ServerMessage {
	own, opp, outcome := r.For(role)
	return ServerMessage{Event: EventGameResult, Data: GameResultPayload{
		PlayerChoice:   string(own),
		OpponentChoice: string(opp),
		Result:         outcome.Label(),
	}}
}
