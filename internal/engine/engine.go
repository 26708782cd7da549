package engine

import (
	"fmt"
	"time"
)

type Phase string

const (
	PhaseAwaitingGuest Phase = "awaiting-guest"
	PhaseAwaitingReady Phase = "awaiting-ready"
	PhaseCountdown     Phase = "countdown"
	PhaseResolved      Phase = "resolved"
)

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

func (r Role) Other() Role {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}

// Player is the snapshot captured when a user takes a seat. It is never
// refreshed from the profile store while the match runs.
type Player struct {
	UserID   string
	Username string
	Rank     int
	AvatarID string
}

type Seat struct {
	Player  Player
	ConnID  string // empty while pending or before the seat is taken
	Ready   bool
	Choice  Choice
	Forced  bool // Choice was filled at countdown expiry
	Pending bool // connection lost, role held for reconnect
}

func (s Seat) Taken() bool     { return s.Player.UserID != "" }
func (s Seat) Connected() bool { return s.ConnID != "" }

type Result struct {
	PlayCount    int
	HostChoice   Choice
	GuestChoice  Choice
	HostOutcome  Outcome
	GuestOutcome Outcome
	HostForced   bool
	GuestForced  bool
	ResolvedAt   time.Time
}

// For returns (own choice, opponent choice, own outcome) from role's side.
func (r Result) For(role Role) (Choice, Choice, Outcome) {
	if role == RoleHost {
		return r.HostChoice, r.GuestChoice, r.HostOutcome
	}
	return r.GuestChoice, r.HostChoice, r.GuestOutcome
}

type State struct {
	Code           string
	Phase          Phase
	Host           Seat
	Guest          Seat
	PlayCount      int
	Result         *Result
	CreatedAt      time.Time
	LastActivityAt time.Time
}

func (s *State) seat(role Role) *Seat {
	if role == RoleHost {
		return &s.Host
	}
	return &s.Guest
}

// Seat returns a copy of the seat held by role.
func (s State) Seat(role Role) Seat { return *s.seat(role) }

// RoleOfConn reports which role connID is bound to.
func (s State) RoleOfConn(connID string) (Role, bool) {
	switch {
	case connID == "":
		return "", false
	case s.Host.ConnID == connID:
		return RoleHost, true
	case s.Guest.ConnID == connID:
		return RoleGuest, true
	}
	return "", false
}

// RoleOfUser reports which role userID holds, regardless of connection.
func (s State) RoleOfUser(userID string) (Role, bool) {
	switch {
	case userID == "":
		return "", false
	case s.Host.Player.UserID == userID:
		return RoleHost, true
	case s.Guest.Taken() && s.Guest.Player.UserID == userID:
		return RoleGuest, true
	}
	return "", false
}

func (s State) ReadyCount() int {
	n := 0
	if s.Host.Ready {
		n++
	}
	if s.Guest.Ready {
		n++
	}
	return n
}

type CommandType string

const (
	CmdJoin             CommandType = "Join"
	CmdReady            CommandType = "Ready"
	CmdChoose           CommandType = "Choose"
	CmdCountdownExpired CommandType = "CountdownExpired"
	CmdDisconnect       CommandType = "Disconnect"
)

/*
	CmdJoin             -> EvtGuestJoined | EvtPlayerReconnected
	CmdReady            -> EvtPlayerReady [-> EvtCountdownStarted]
	CmdChoose           -> EvtChoiceRecorded [-> EvtRoundResolved]
	CmdCountdownExpired -> EvtChoiceForced* -> EvtRoundResolved
	CmdDisconnect       -> EvtPlayerPending
*/

type Command struct {
	Type   CommandType
	ConnID string
	UserID string
	Player Player
	Choice Choice
	At     time.Time
}

type EventType string

const (
	EvtGuestJoined       EventType = "GuestJoined"
	EvtPlayerReconnected EventType = "PlayerReconnected"
	EvtPlayerReady       EventType = "PlayerReady"
	EvtCountdownStarted  EventType = "CountdownStarted"
	EvtChoiceRecorded    EventType = "ChoiceRecorded"
	EvtChoiceForced      EventType = "ChoiceForced"
	EvtRoundResolved     EventType = "RoundResolved"
	EvtPlayerPending     EventType = "PlayerPending"
)

type Event struct {
	Type   EventType
	Role   Role
	ConnID string // EvtPlayerReconnected: the connection that lost the role, if any
	Choice Choice
}

// NewState opens a room in AwaitingGuest with host bound to connID.
func NewState(code string, host Player, connID string, now time.Time) (State, error) {
	if err := ValidateCode(code); err != nil {
		return State{}, err
	}
	if host.UserID == "" {
		return State{}, ErrInvalidPlayer
	}
	return State{
		Code:           code,
		Phase:          PhaseAwaitingGuest,
		Host:           Seat{Player: host, ConnID: connID},
		CreatedAt:      now,
		LastActivityAt: now,
	}, nil
}

// Apply validates cmd against s. On error the returned state is s unchanged.
// A nil event slice with a nil error means the command was a tolerated no-op.
func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s
	if s.Result != nil {
		r := *s.Result
		newState.Result = &r
	}

	var (
		events []Event
		err    error
	)
	switch cmd.Type {
	case CmdJoin:
		events, err = applyJoin(&newState, cmd)
	case CmdReady:
		events, err = applyReady(&newState, cmd)
	case CmdChoose:
		events, err = applyChoose(&newState, cmd)
	case CmdCountdownExpired:
		events = applyExpired(&newState, cmd)
	case CmdDisconnect:
		events = applyDisconnect(&newState, cmd)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedCommand, cmd.Type)
	}
	if err != nil {
		return nil, s, err
	}
	if len(events) > 0 && !cmd.At.IsZero() {
		newState.LastActivityAt = cmd.At
	}
	return events, newState, nil
}

func applyJoin(s *State, cmd Command) ([]Event, error) {
	userID := cmd.Player.UserID
	if userID == "" {
		return nil, ErrInvalidPlayer
	}
	if role, ok := s.RoleOfConn(cmd.ConnID); ok && s.seat(role).Player.UserID != userID {
		// One connection cannot hold both seats.
		return nil, ErrSelfJoinForbidden
	}

	if role, ok := s.RoleOfUser(userID); ok {
		seat := s.seat(role)
		if role == RoleHost && s.Phase == PhaseAwaitingGuest && seat.ConnID == cmd.ConnID {
			// The host's own connection asking for the guest seat.
			return nil, ErrSelfJoinForbidden
		}
		return rebind(s, role, cmd.ConnID), nil
	}

	if s.Guest.Taken() {
		return nil, ErrRoomFull
	}
	if s.Phase != PhaseAwaitingGuest {
		return nil, ErrInvalidState
	}

	s.Guest = Seat{Player: cmd.Player, ConnID: cmd.ConnID}
	s.Phase = PhaseAwaitingReady
	return []Event{{Type: EvtGuestJoined, Role: RoleGuest}}, nil
}

func rebind(s *State, role Role, connID string) []Event {
	seat := s.seat(role)
	prev := seat.ConnID
	if prev == connID {
		prev = ""
	}
	seat.ConnID = connID
	seat.Pending = false
	return []Event{{Type: EvtPlayerReconnected, Role: role, ConnID: prev}}
}

// member resolves the caller of an in-room intent: the connection must be
// bound to a role and the claimed user must be the one holding it.
func member(s *State, cmd Command) (Role, error) {
	role, ok := s.RoleOfConn(cmd.ConnID)
	if !ok {
		return "", ErrNotInRoom
	}
	if cmd.UserID != "" && s.seat(role).Player.UserID != cmd.UserID {
		return "", ErrNotInRoom
	}
	return role, nil
}

func applyReady(s *State, cmd Command) ([]Event, error) {
	role, err := member(s, cmd)
	if err != nil {
		return nil, err
	}

	switch s.Phase {
	case PhaseAwaitingGuest:
		return nil, ErrInvalidState
	case PhaseCountdown, PhaseResolved:
		return nil, nil
	}

	seat := s.seat(role)
	if seat.Ready {
		return nil, nil
	}
	seat.Ready = true
	events := []Event{{Type: EvtPlayerReady, Role: role}}

	if s.Host.Ready && s.Guest.Ready {
		s.Phase = PhaseCountdown
		s.Host.Choice, s.Guest.Choice = ChoiceNone, ChoiceNone
		s.Host.Forced, s.Guest.Forced = false, false
		events = append(events, Event{Type: EvtCountdownStarted})
	}
	return events, nil
}

func applyChoose(s *State, cmd Command) ([]Event, error) {
	role, err := member(s, cmd)
	if err != nil {
		return nil, err
	}
	if !cmd.Choice.Valid() {
		return nil, ErrInvalidChoice
	}

	switch s.Phase {
	case PhaseAwaitingGuest, PhaseAwaitingReady:
		return nil, ErrInvalidState
	case PhaseResolved:
		return nil, nil
	}

	seat := s.seat(role)
	if seat.Choice != ChoiceNone {
		// Write-once per cycle; late human input may race the forced pick.
		return nil, nil
	}
	seat.Choice = cmd.Choice
	events := []Event{{Type: EvtChoiceRecorded, Role: role, Choice: cmd.Choice}}

	if s.Host.Choice != ChoiceNone && s.Guest.Choice != ChoiceNone {
		events = append(events, resolve(s, cmd.At))
	}
	return events, nil
}

func applyExpired(s *State, cmd Command) []Event {
	if s.Phase != PhaseCountdown {
		return nil
	}

	var events []Event
	for _, role := range []Role{RoleHost, RoleGuest} {
		seat := s.seat(role)
		if seat.Choice != ChoiceNone {
			continue
		}
		seat.Choice = RandomChoice()
		seat.Forced = true
		events = append(events, Event{Type: EvtChoiceForced, Role: role, Choice: seat.Choice})
	}
	return append(events, resolve(s, cmd.At))
}

func applyDisconnect(s *State, cmd Command) []Event {
	role, ok := s.RoleOfConn(cmd.ConnID)
	if !ok {
		return nil
	}
	seat := s.seat(role)
	seat.ConnID = ""
	seat.Pending = true
	return []Event{{Type: EvtPlayerPending, Role: role}}
}

func resolve(s *State, at time.Time) Event {
	s.PlayCount++
	s.Phase = PhaseResolved
	s.Result = &Result{
		PlayCount:    s.PlayCount,
		HostChoice:   s.Host.Choice,
		GuestChoice:  s.Guest.Choice,
		HostOutcome:  Decide(s.Host.Choice, s.Guest.Choice),
		GuestOutcome: Decide(s.Guest.Choice, s.Host.Choice),
		HostForced:   s.Host.Forced,
		GuestForced:  s.Guest.Forced,
		ResolvedAt:   at,
	}
	return Event{Type: EvtRoundResolved}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
