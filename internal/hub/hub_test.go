package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/rps-coordinator/internal/engine"
	"github.com/DoyleJ11/rps-coordinator/internal/room"
	"github.com/DoyleJ11/rps-coordinator/internal/types"
)

type fakeConn struct {
	id  string
	out chan types.ServerMessage
}

func newConn(id string) *fakeConn {
	return &fakeConn{id: id, out: make(chan types.ServerMessage, 16)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg types.ServerMessage) error {
	c.out <- msg
	return nil
}

var (
	alice = engine.Player{UserID: "u-alice", Username: "alice"}
	bob   = engine.Player{UserID: "u-bob", Username: "bob"}
)

func newHub(t *testing.T, timing room.Timing) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(ctx, room.Options{Timing: timing}, zaptest.NewLogger(t))
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func defaultTiming() room.Timing { return room.DefaultTiming() }

func TestHub_Create_Get_SamePointer(t *testing.T) {
	h := newHub(t, defaultTiming())
	ctx := context.Background()

	r1, err := h.Create(ctx, "zed123", alice, newConn("c1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r1.Code() != "ZED123" {
		t.Fatalf("code not normalized: %s", r1.Code())
	}

	r2, err := h.Get(ctx, " ZED123 ")
	if err != nil || r1 != r2 {
		t.Fatalf("expected same room pointer, err=%v", err)
	}

	if n, _ := h.Count(ctx); n != 1 {
		t.Fatalf("want 1 room, got %d", n)
	}
}

func TestHub_DuplicateCodeLeavesFirstRoomUntouched(t *testing.T) {
	h := newHub(t, defaultTiming())
	ctx := context.Background()

	first := newConn("c1")
	r1, err := h.Create(ctx, "AB12CD", alice, first)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = h.Create(ctx, "AB12CD", bob, newConn("c2"))
	if !errors.Is(err, engine.ErrDuplicateRoomCode) {
		t.Fatalf("want DuplicateRoomCode, got %v", err)
	}

	r, _ := h.Get(ctx, "AB12CD")
	if r != r1 {
		t.Fatalf("first room replaced")
	}
	reply := make(chan room.View, 1)
	r.Post(room.GetState{Reply: reply})
	if v := <-reply; v.State.Host.Player.UserID != alice.UserID {
		t.Fatalf("first room host changed: %+v", v.State.Host)
	}
}

func TestHub_InvalidCode(t *testing.T) {
	h := newHub(t, defaultTiming())

	_, err := h.Create(context.Background(), "AB-2", alice, newConn("c1"))
	if !errors.Is(err, engine.ErrInvalidRoomCode) {
		t.Fatalf("want InvalidRoomCode, got %v", err)
	}
}

func TestHub_GetUnknown(t *testing.T) {
	h := newHub(t, defaultTiming())

	_, err := h.Get(context.Background(), "NOPE00")
	if !errors.Is(err, engine.ErrRoomNotFound) {
		t.Fatalf("want RoomNotFound, got %v", err)
	}
}

func TestHub_EvictedRoomIsRemovedAndCodeReusable(t *testing.T) {
	timing := defaultTiming()
	timing.IdleTimeout = 30 * time.Millisecond
	h := newHub(t, timing)
	ctx := context.Background()

	r1, err := h.Create(ctx, "AB12CD", alice, newConn("c1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case <-r1.Done():
	case <-time.After(time.Second):
		t.Fatalf("room not evicted")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := h.Get(ctx, "AB12CD"); errors.Is(err, engine.ErrRoomNotFound) {
			if n, _ := h.Count(ctx); n == 0 {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("evicted room still registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	r2, err := h.Create(ctx, "AB12CD", bob, newConn("c2"))
	if err != nil || r2 == r1 {
		t.Fatalf("code not reusable: %v", err)
	}
}

func TestHub_StaleRemoveKeepsNewerRoom(t *testing.T) {
	h := newHub(t, defaultTiming())
	ctx := context.Background()

	r, err := h.Create(ctx, "AB12CD", alice, newConn("c1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h.Inbox() <- RemoveRoom{Code: "AB12CD", Room: nil}
	if got, err := h.Get(ctx, "AB12CD"); err != nil || got != r {
		t.Fatalf("room removed by stale eviction: %v", err)
	}
}

func TestHub_ShutdownClosesRooms(t *testing.T) {
	h := NewHub(context.Background(), room.Options{Timing: defaultTiming()}, zaptest.NewLogger(t))

	r, err := h.Create(context.Background(), "AB12CD", alice, newConn("c1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h.Inbox() <- ShutdownHub{}
	for _, done := range []<-chan struct{}{h.Done(), r.Done()} {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("shutdown did not finish")
		}
	}

	ctx := context.Background()
	if _, err := h.Get(ctx, "AB12CD"); !errors.Is(err, ErrHubClosed) || !errors.Is(err, engine.ErrRoomNotFound) {
		t.Fatalf("want ErrHubClosed after shutdown, got %v", err)
	}
	if _, err := h.Create(ctx, "ZZ99ZZ", bob, newConn("c2")); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("create after shutdown: %v", err)
	}
	if _, err := h.Count(ctx); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("count after shutdown: %v", err)
	}
}
