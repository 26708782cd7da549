package hub

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-coordinator/internal/engine"
	"github.com/DoyleJ11/rps-coordinator/internal/room"
)

// ErrHubClosed is returned once the hub has shut down. Clients still see it
// as RoomNotFound.
var ErrHubClosed = fmt.Errorf("hub closed: %w", engine.ErrRoomNotFound)

type HubMsg interface{ isHubMsg() }

type CreateResult struct {
	Room *room.Room
	Err  error
}

type CreateRoom struct {
	Code  string
	Host  engine.Player
	Conn  room.Conn
	Reply chan CreateResult
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room
}

// RemoveRoom drops code only while it still maps to Room, so a stale
// eviction cannot remove a newer room that reused the code.
type RemoveRoom struct {
	Code string
	Room *room.Room
}

type Stats struct {
	Reply chan int
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (Stats) isHubMsg()       {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox chan HubMsg
	rooms map[string]*room.Room
	opts  room.Options
	log   *zap.Logger
	ctx   context.Context
	done  chan struct{}

	cancel context.CancelFunc
}

// NewHub starts the registry. opts is the template for every room it opens;
// its OnClose is replaced with the hub's own.
func NewHub(parent context.Context, opts room.Options, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		opts:   opts,
		log:    log.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if h.opts.Log == nil {
		h.opts.Log = log
	}
	h.opts.OnClose = func(r *room.Room) {
		h.post(RemoveRoom{Code: r.Code(), Room: r})
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) post(m HubMsg) bool {
	select {
	case h.inbox <- m:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				msg.Reply <- h.create(msg)

			case GetRoom:
				r := h.rooms[msg.Code]
				if r != nil && r.Closed() {
					r = nil
				}
				msg.Reply <- r // may be nil

			case RemoveRoom:
				if h.rooms[msg.Code] == msg.Room {
					delete(h.rooms, msg.Code)
					h.log.Debug("room removed", zap.String("room", msg.Code), zap.Int("rooms", len(h.rooms)))
				}

			case Stats:
				msg.Reply <- len(h.rooms)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create(msg CreateRoom) CreateResult {
	if err := engine.ValidateCode(msg.Code); err != nil {
		return CreateResult{Err: err}
	}
	if existing := h.rooms[msg.Code]; existing != nil && !existing.Closed() {
		h.log.Debug("duplicate room code", zap.String("room", msg.Code), zap.String("host", msg.Host.UserID))
		return CreateResult{Err: engine.ErrDuplicateRoomCode}
	}

	r, err := room.New(h.ctx, msg.Code, msg.Host, msg.Conn, h.opts)
	if err != nil {
		return CreateResult{Err: err}
	}
	h.rooms[msg.Code] = r
	return CreateResult{Room: r}
}

// shutdown cancels every room (their contexts derive from the hub's) and
// waits for them to finish.
func (h *Hub) shutdown() {
	h.cancel()
	for _, r := range h.rooms {
		<-r.Done()
	}
	h.log.Info("hub stopped", zap.Int("rooms", len(h.rooms)))
	clear(h.rooms)
}

// Create opens a room for host under code. Codes are normalized first.
func (h *Hub) Create(ctx context.Context, code string, host engine.Player, conn room.Conn) (*room.Room, error) {
	reply := make(chan CreateResult, 1)
	if err := h.send(ctx, CreateRoom{Code: engine.NormalizeCode(code), Host: host, Conn: conn, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.Room, res.Err
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the live room for code, or ErrRoomNotFound.
func (h *Hub) Get(ctx context.Context, code string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	if err := h.send(ctx, GetRoom{Code: engine.NormalizeCode(code), Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		if r == nil {
			return nil, engine.ErrRoomNotFound
		}
		return r, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.send(ctx, Stats{Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-h.done:
		return 0, ErrHubClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	if h.ctx.Err() != nil {
		return ErrHubClosed
	}
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
