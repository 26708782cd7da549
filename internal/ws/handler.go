package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-coordinator/internal/auth"
	"github.com/DoyleJ11/rps-coordinator/internal/engine"
	"github.com/DoyleJ11/rps-coordinator/internal/hub"
	"github.com/DoyleJ11/rps-coordinator/internal/room"
	"github.com/DoyleJ11/rps-coordinator/internal/types"
)

const (
	writeTimeout = 3 * time.Second
	replyTimeout = 5 * time.Second
	outboxSize   = 32
)

type Options struct {
	Verifier       *auth.Verifier // nil: tokens not required
	OriginPatterns []string
	PingInterval   time.Duration
	Log            *zap.Logger
}

func Handler(base context.Context, h *hub.Hub, opts Options) http.HandlerFunc {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 20 * time.Second
	}
	log := opts.Log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		var userID string
		if opts.Verifier != nil {
			id, err := opts.Verifier.Verify(r.URL.Query().Get("token"))
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			userID = id
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		// Hijacked connections outlive http.Server.Shutdown, so tie them to
		// the process context as well.
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(base, cancel)
		defer stop()

		s := newSession(uuid.NewString(), userID, cancel, log)
		s.log.Debug("connected", zap.String("user", userID))

		go s.writeLoop(ctx, conn)
		go s.pingLoop(ctx, conn, opts.PingInterval)

		d := &dispatcher{hub: h, s: s}
		defer d.release(context.WithoutCancel(ctx))

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					s.log.Debug("closed by client")
				default:
					s.log.Debug("read ended", zap.Error(err))
				}
				s.close()
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = s.Send(types.RoomError(engine.ErrBadRequest))
				continue
			}
			if err := d.dispatch(ctx, cm); err != nil {
				s.log.Debug("intent failed", zap.String("event", cm.Event), zap.Error(err))
				_ = s.Send(types.RoomError(err))
			}
		}
	}
}

var (
	errSessionClosed = errors.New("session closed")
	errSlowConsumer  = errors.New("outbox full")
)

// session is one browser connection. It implements room.Conn.
type session struct {
	id     string
	userID string // bound by token; empty when tokens are not in use
	out    chan types.ServerMessage
	closed chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	log    *zap.Logger
}

func newSession(id, userID string, cancel context.CancelFunc, log *zap.Logger) *session {
	return &session{
		id:     id,
		userID: userID,
		out:    make(chan types.ServerMessage, outboxSize),
		closed: make(chan struct{}),
		cancel: cancel,
		log:    log.With(zap.String("conn", id)),
	}
}

func (s *session) ID() string { return s.id }

// Send queues msg for the writer. A client that cannot keep up is dropped.
func (s *session) Send(msg types.ServerMessage) error {
	select {
	case <-s.closed:
		return errSessionClosed
	default:
	}
	select {
	case s.out <- msg:
		return nil
	default:
		s.log.Warn("dropping slow client", zap.String("event", msg.Event))
		s.close()
		return errSlowConsumer
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.closed)
		s.cancel()
	})
}

func (s *session) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case msg := <-s.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				s.log.Debug("write failed", zap.String("event", msg.Event), zap.Error(err))
				s.close()
				return
			}
		case <-s.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) pingLoop(ctx context.Context, conn *websocket.Conn, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, every)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				s.log.Debug("ping failed", zap.Error(err))
				s.close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// binding is the session's back-reference into the coordinator.
type binding struct {
	code string
	role engine.Role
}

type dispatcher struct {
	hub   *hub.Hub
	s     *session
	bound *binding
}

func (d *dispatcher) dispatch(ctx context.Context, cm types.ClientMessage) error {
	switch cm.Event {
	case types.EventCreateRoom:
		var p types.CreateRoomPayload
		if err := decode(cm.Data, &p); err != nil {
			return err
		}
		if err := d.authorize(p.UserID); err != nil {
			return err
		}
		r, err := d.hub.Create(ctx, p.RoomID, p.Player(), d.s)
		if err != nil {
			return err
		}
		d.bind(ctx, binding{code: r.Code(), role: engine.RoleHost})
		return nil

	case types.EventJoinRoom:
		var p types.JoinRoomPayload
		if err := decode(cm.Data, &p); err != nil {
			return err
		}
		if err := d.authorize(p.GuestData.UserID); err != nil {
			return err
		}
		r, err := d.hub.Get(ctx, p.RoomID)
		if err != nil {
			return err
		}
		reply := make(chan room.JoinResult, 1)
		if !r.Post(room.Join{Conn: d.s, Player: p.GuestData.Player(), Reply: reply}) {
			return engine.ErrRoomNotFound
		}
		select {
		case res := <-reply:
			// Rejections were already reported by the room.
			if res.Err == nil {
				d.bind(ctx, binding{code: r.Code(), role: res.Role})
			}
		case <-time.After(replyTimeout):
			return fmt.Errorf("join %s: no reply", r.Code())
		case <-ctx.Done():
		}
		return nil

	case types.EventStartGame:
		var p types.StartGamePayload
		if err := decode(cm.Data, &p); err != nil {
			return err
		}
		if err := d.authorize(p.UserID); err != nil {
			return err
		}
		return d.post(ctx, p.RoomID, room.Ready{Conn: d.s, UserID: p.UserID})

	case types.EventPlayerChoice:
		var p types.PlayerChoicePayload
		if err := decode(cm.Data, &p); err != nil {
			return err
		}
		if err := d.authorize(p.UserID); err != nil {
			return err
		}
		return d.post(ctx, p.RoomID, room.Choose{Conn: d.s, UserID: p.UserID, Choice: p.Choice})
	}
	return engine.ErrUnknownEvent
}

func (d *dispatcher) authorize(userID string) error {
	if d.s.userID != "" && userID != d.s.userID {
		return engine.ErrUnauthorized
	}
	return nil
}

// post routes an in-room intent. An empty code falls back to the bound room.
func (d *dispatcher) post(ctx context.Context, code string, m room.Msg) error {
	if code == "" && d.bound != nil {
		code = d.bound.code
	}
	r, err := d.hub.Get(ctx, code)
	if err != nil {
		return err
	}
	if !r.Post(m) {
		return engine.ErrRoomNotFound
	}
	return nil
}

// bind records the session's role, releasing a role held in another room.
func (d *dispatcher) bind(ctx context.Context, b binding) {
	if d.bound != nil && d.bound.code != b.code {
		d.release(ctx)
	}
	d.bound = &b
	d.s.log.Info("bound", zap.String("room", b.code), zap.String("role", string(b.role)))
}

func (d *dispatcher) release(ctx context.Context) {
	if d.bound == nil {
		return
	}
	if r, err := d.hub.Get(ctx, d.bound.code); err == nil {
		r.Post(room.Leave{ConnID: d.s.id})
	}
	d.bound = nil
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return engine.ErrBadRequest
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrBadRequest, err)
	}
	return nil
}
