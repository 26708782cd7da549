package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-coordinator/internal/engine"
	"github.com/DoyleJ11/rps-coordinator/internal/profile"
	"github.com/DoyleJ11/rps-coordinator/internal/types"
)

// Conn is the room's view of a client connection. Send must not block.
type Conn interface {
	ID() string
	Send(msg types.ServerMessage) error
}

type Publisher interface {
	Publish(m profile.MatchRecord)
}

type Timing struct {
	CountdownTicks  int
	TickInterval    time.Duration
	ReconnectGrace  time.Duration
	ResultRetention time.Duration
	IdleTimeout     time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		CountdownTicks:  10,
		TickInterval:    time.Second,
		ReconnectGrace:  45 * time.Second,
		ResultRetention: 2 * time.Minute,
		IdleTimeout:     10 * time.Minute,
	}
}

// withDefaults fills unset fields from DefaultTiming.
func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.CountdownTicks <= 0 {
		t.CountdownTicks = d.CountdownTicks
	}
	if t.TickInterval <= 0 {
		t.TickInterval = d.TickInterval
	}
	if t.ReconnectGrace <= 0 {
		t.ReconnectGrace = d.ReconnectGrace
	}
	if t.ResultRetention <= 0 {
		t.ResultRetention = d.ResultRetention
	}
	if t.IdleTimeout <= 0 {
		t.IdleTimeout = d.IdleTimeout
	}
	return t
}

type Msg interface{ isRoomMsg() }

type JoinResult struct {
	Role engine.Role
	Err  error
}

type Join struct {
	Conn   Conn
	Player engine.Player
	Reply  chan JoinResult // optional, buffered
}

func (Join) isRoomMsg() {}

type Ready struct {
	Conn   Conn
	UserID string
}

func (Ready) isRoomMsg() {}

type Choose struct {
	Conn   Conn
	UserID string
	Choice string
}

func (Choose) isRoomMsg() {}

type Leave struct{ ConnID string }

func (Leave) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type timerKind string

const (
	timerTick      timerKind = "tick"
	timerGrace     timerKind = "grace"
	timerIdle      timerKind = "idle"
	timerRetention timerKind = "retention"
)

type timerFired struct {
	kind timerKind
	role engine.Role // grace only
	gen  int
}

func (timerFired) isRoomMsg() {}

type View struct {
	State       engine.State
	SecondsLeft int
	NumConns    int
}

type Options struct {
	Timing    Timing
	Publisher Publisher
	Log       *zap.Logger
	OnClose   func(*Room) // called from the room goroutine once evicted
	Now       func() time.Time
}

// timer is a cancellable one-shot whose fires carry the generation they were
// armed with. Stopping or re-arming bumps the generation so a fire already
// queued in the inbox is recognised as stale.
type timer struct {
	t   *time.Timer
	gen int
}

func (t *timer) stop() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.gen++
}

type Room struct {
	code  string
	inbox chan Msg
	state engine.State
	conns map[string]Conn // bound connections by id

	timing  Timing
	pub     Publisher
	log     *zap.Logger
	onClose func(*Room)
	now     func() time.Time

	secondsLeft int
	tick        timer
	idle        timer
	retention   timer
	grace       map[engine.Role]*timer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New opens a room with host seated on conn and sends room-created to it
// before the room starts accepting messages.
func New(parent context.Context, code string, host engine.Player, conn Conn, opts Options) (*Room, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	opts.Timing = opts.Timing.withDefaults()

	state, err := engine.NewState(code, host, conn.ID(), opts.Now())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		code:    code,
		inbox:   make(chan Msg, 64),
		state:   state,
		conns:   map[string]Conn{conn.ID(): conn},
		timing:  opts.Timing,
		pub:     opts.Publisher,
		log:     opts.Log.With(zap.String("room", code)),
		onClose: opts.OnClose,
		now:     opts.Now,
		grace: map[engine.Role]*timer{
			engine.RoleHost:  {},
			engine.RoleGuest: {},
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.send(conn, types.ServerMessage{
		Event: types.EventRoomCreated,
		Data:  types.RoomCreatedPayload{RoomID: code, HostID: host.UserID},
	})
	r.arm(&r.idle, timerIdle, "", r.timing.IdleTimeout)
	r.log.Info("room created", zap.String("host", host.UserID))

	go r.loop()
	return r, nil
}

func (r *Room) Code() string { return r.code }

// Post queues m for the room. It reports false once the room is closed.
func (r *Room) Post(m Msg) bool {
	if r.ctx.Err() != nil {
		return false
	}
	select {
	case r.inbox <- m:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// Done is closed when the room goroutine has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) Closed() bool { return r.ctx.Err() != nil }

// Expose the inbox so tests can send messages directly.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.close()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.onJoin(msg)

			case Ready:
				events, err := r.apply(engine.Command{
					Type:   engine.CmdReady,
					ConnID: msg.Conn.ID(),
					UserID: msg.UserID,
					At:     r.now(),
				})
				if err != nil {
					r.reject(msg.Conn, "start-game", err)
					break
				}
				if len(events) > 0 && r.state.Phase == engine.PhaseAwaitingReady {
					r.arm(&r.idle, timerIdle, "", r.timing.IdleTimeout)
				}
				r.handle(events)

			case Choose:
				choice, err := engine.ParseChoice(msg.Choice)
				if err != nil {
					r.reject(msg.Conn, "player-choice", err)
					break
				}
				events, err := r.apply(engine.Command{
					Type:   engine.CmdChoose,
					ConnID: msg.Conn.ID(),
					UserID: msg.UserID,
					Choice: choice,
					At:     r.now(),
				})
				if err != nil {
					r.reject(msg.Conn, "player-choice", err)
					break
				}
				r.handle(events)

			case Leave:
				delete(r.conns, msg.ConnID)
				events, _ := r.apply(engine.Command{Type: engine.CmdDisconnect, ConnID: msg.ConnID})
				r.handle(events)

			case timerFired:
				r.onTimer(msg)

			case GetState:
				msg.Reply <- View{
					State:       r.state,
					SecondsLeft: r.secondsLeft,
					NumConns:    len(r.conns),
				}

			case Shutdown:
				r.close()
				return
			}
		}
		if r.Closed() {
			r.close()
			return
		}
	}
}

func (r *Room) onJoin(msg Join) {
	events, err := r.apply(engine.Command{
		Type:   engine.CmdJoin,
		ConnID: msg.Conn.ID(),
		Player: msg.Player,
		At:     r.now(),
	})
	if err != nil {
		r.reply(msg, JoinResult{Err: err})
		r.reject(msg.Conn, "join-room", err)
		return
	}

	role, _ := r.state.RoleOfConn(msg.Conn.ID())
	r.conns[msg.Conn.ID()] = msg.Conn
	r.reply(msg, JoinResult{Role: role})
	if r.state.Phase == engine.PhaseAwaitingReady {
		r.arm(&r.idle, timerIdle, "", r.timing.IdleTimeout)
	}
	r.handle(events)
}

func (r *Room) reply(msg Join, res JoinResult) {
	if msg.Reply == nil {
		return
	}
	select {
	case msg.Reply <- res:
	default:
	}
}

func (r *Room) apply(cmd engine.Command) ([]engine.Event, error) {
	events, next, err := engine.Apply(r.state, cmd)
	if err != nil {
		return nil, err
	}
	r.state = next
	return events, nil
}

func (r *Room) reject(c Conn, intent string, err error) {
	r.log.Debug("intent rejected",
		zap.String("intent", intent),
		zap.String("conn", c.ID()),
		zap.Error(err))
	r.send(c, types.RoomError(err))
}

// handle turns engine events into outbound messages and timer changes.
func (r *Room) handle(events []engine.Event) {
	for _, ev := range events {
		switch ev.Type {
		case engine.EvtGuestJoined:
			data := types.NewRoomData(r.state, 0)
			r.sendTo(engine.RoleHost, types.ServerMessage{
				Event: types.EventPlayerJoined,
				Data:  types.PlayerJoinedPayload{GuestData: types.FromPlayer(r.state.Guest.Player), RoomData: data},
			})
			r.sendTo(engine.RoleGuest, types.ServerMessage{
				Event: types.EventRoomJoinedSuccess,
				Data:  types.RoomJoinedSuccessPayload{HostData: types.FromPlayer(r.state.Host.Player), RoomData: data},
			})
			r.log.Info("guest joined", zap.String("guest", r.state.Guest.Player.UserID))

		case engine.EvtPlayerReconnected:
			if ev.ConnID != "" {
				delete(r.conns, ev.ConnID)
			}
			r.grace[ev.Role].stop()
			r.sendTo(ev.Role.Other(), types.ServerMessage{
				Event: types.EventPlayerReconnected,
				Data: types.PlayerReconnectedPayload{
					ReconnectedPlayer: types.FromPlayer(r.state.Seat(ev.Role).Player),
					RoomData:          types.NewRoomData(r.state, r.secondsLeft),
				},
			})
			r.replay(ev.Role)
			r.log.Info("player reconnected", zap.String("role", string(ev.Role)))

		case engine.EvtPlayerReady:
			if engine.ContainsEvent(events, engine.EvtCountdownStarted) {
				break
			}
			r.sendTo(ev.Role.Other(), types.ServerMessage{
				Event: types.EventPlayerReady,
				Data: types.PlayerReadyPayload{
					PlayerName:   r.state.Seat(ev.Role).Player.Username,
					ReadyCount:   r.state.ReadyCount(),
					TotalPlayers: 2,
				},
			})

		case engine.EvtCountdownStarted:
			r.idle.stop()
			r.secondsLeft = r.timing.CountdownTicks
			r.broadcast(types.ServerMessage{
				Event: types.EventStartCountdown,
				Data:  types.CountdownPayload{SecondsLeft: r.secondsLeft},
			})
			r.arm(&r.tick, timerTick, "", r.timing.TickInterval)
			r.log.Info("countdown started", zap.Int("ticks", r.secondsLeft))

		case engine.EvtChoiceRecorded, engine.EvtChoiceForced:
			r.log.Debug("choice locked",
				zap.String("role", string(ev.Role)),
				zap.Bool("forced", ev.Type == engine.EvtChoiceForced))

		case engine.EvtRoundResolved:
			r.onResolved()

		case engine.EvtPlayerPending:
			r.onPending(ev.Role)
		}
	}
}

func (r *Room) onResolved() {
	r.tick.stop()
	r.secondsLeft = 0
	for _, g := range r.grace {
		g.stop()
	}

	result := *r.state.Result
	r.sendTo(engine.RoleHost, types.GameResult(result, engine.RoleHost))
	r.sendTo(engine.RoleGuest, types.GameResult(result, engine.RoleGuest))

	record, err := profile.NewMatchRecord(r.state)
	if err != nil {
		r.log.Error("build match record", zap.Error(err))
	} else if r.pub != nil {
		r.pub.Publish(record)
	}

	r.arm(&r.retention, timerRetention, "", r.timing.ResultRetention)
	r.log.Info("round resolved",
		zap.Int("playCount", result.PlayCount),
		zap.String("hostChoice", string(result.HostChoice)),
		zap.String("guestChoice", string(result.GuestChoice)),
		zap.String("hostOutcome", string(result.HostOutcome)))
}

func (r *Room) onPending(role engine.Role) {
	r.log.Info("player pending", zap.String("role", string(role)), zap.String("phase", string(r.state.Phase)))
	switch r.state.Phase {
	case engine.PhaseResolved:
		// Retention already bounds the room's life.
		return
	case engine.PhaseCountdown:
		r.sendTo(role.Other(), types.ServerMessage{
			Event: types.EventPlayerTemporarilyDisconnected,
			Data:  types.Empty{},
		})
	}
	r.arm(r.grace[role], timerGrace, role, r.timing.ReconnectGrace)
}

// replay brings a rebinding connection up to date with the room.
func (r *Room) replay(role engine.Role) {
	r.sendTo(role, types.ServerMessage{
		Event: types.EventRoomState,
		Data: types.RoomStatePayload{
			Role:     string(role),
			RoomData: types.NewRoomData(r.state, r.secondsLeft),
		},
	})
	switch r.state.Phase {
	case engine.PhaseCountdown:
		r.sendTo(role, types.ServerMessage{
			Event: types.EventStartCountdown,
			Data:  types.CountdownPayload{SecondsLeft: r.secondsLeft},
		})
	case engine.PhaseResolved:
		r.sendTo(role, types.GameResult(*r.state.Result, role))
	}
}

func (r *Room) onTimer(msg timerFired) {
	t := r.timerFor(msg.kind, msg.role)
	if t == nil || t.gen != msg.gen {
		return // stale
	}
	t.t = nil

	switch msg.kind {
	case timerTick:
		r.secondsLeft--
		r.broadcast(types.ServerMessage{
			Event: types.EventCountdownTick,
			Data:  types.CountdownPayload{SecondsLeft: r.secondsLeft},
		})
		if r.secondsLeft > 0 {
			r.arm(&r.tick, timerTick, "", r.timing.TickInterval)
			return
		}
		events, _ := r.apply(engine.Command{Type: engine.CmdCountdownExpired, At: r.now()})
		r.handle(events)

	case timerGrace:
		if r.state.Phase == engine.PhaseResolved || !r.state.Seat(msg.role).Pending {
			return
		}
		r.sendTo(msg.role.Other(), types.ServerMessage{
			Event: types.EventPlayerDisconnected,
			Data:  types.Empty{},
		})
		r.log.Info("reconnect grace expired", zap.String("role", string(msg.role)))
		r.evict()

	case timerIdle:
		r.broadcast(types.RoomError(engine.ErrRoomExpired))
		r.log.Info("room idle, expiring")
		r.evict()

	case timerRetention:
		r.log.Debug("result retention over")
		r.evict()
	}
}

func (r *Room) timerFor(kind timerKind, role engine.Role) *timer {
	switch kind {
	case timerTick:
		return &r.tick
	case timerIdle:
		return &r.idle
	case timerRetention:
		return &r.retention
	case timerGrace:
		return r.grace[role]
	}
	return nil
}

func (r *Room) arm(t *timer, kind timerKind, role engine.Role, d time.Duration) {
	t.stop()
	gen := t.gen
	t.t = time.AfterFunc(d, func() {
		r.Post(timerFired{kind: kind, role: role, gen: gen})
	})
}

// evict marks the room closed. The loop finishes teardown.
func (r *Room) evict() {
	r.cancel()
}

func (r *Room) close() {
	r.tick.stop()
	r.idle.stop()
	r.retention.stop()
	for _, g := range r.grace {
		g.stop()
	}
	r.cancel()

	// Anything still queued raced the eviction.
	for {
		select {
		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.reply(msg, JoinResult{Err: engine.ErrRoomNotFound})
				r.send(msg.Conn, types.RoomError(engine.ErrRoomNotFound))
			case Ready:
				r.send(msg.Conn, types.RoomError(engine.ErrRoomNotFound))
			case Choose:
				r.send(msg.Conn, types.RoomError(engine.ErrRoomNotFound))
			case GetState:
				select {
				case msg.Reply <- View{State: r.state}:
				default:
				}
			}
		default:
			clear(r.conns)
			if r.onClose != nil {
				r.onClose(r)
			}
			r.log.Info("room closed", zap.Int("playCount", r.state.PlayCount))
			return
		}
	}
}

func (r *Room) sendTo(role engine.Role, msg types.ServerMessage) {
	seat := r.state.Seat(role)
	if !seat.Connected() {
		return
	}
	if c, ok := r.conns[seat.ConnID]; ok {
		r.send(c, msg)
	}
}

func (r *Room) broadcast(msg types.ServerMessage) {
	r.sendTo(engine.RoleHost, msg)
	r.sendTo(engine.RoleGuest, msg)
}

func (r *Room) send(c Conn, msg types.ServerMessage) {
	if err := c.Send(msg); err != nil {
		r.log.Debug("send failed",
			zap.String("conn", c.ID()),
			zap.String("event", msg.Event),
			zap.Error(err))
	}
}
