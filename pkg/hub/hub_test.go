package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-wrench/pkg/protocol"
)

// fakeConn is an in-memory Conn. ReadMessage blocks until Close.
type fakeConn struct {
	writes chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		writes: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) SetReadLimit(int64) {}
func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *fakeConn) WriteMessage(mt int, data []byte) error {
	if mt != websocket.TextMessage {
		return nil
	}
	select {
	case <-c.closed:
		return errors.New("closed")
	case c.writes <- data:
		return nil
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func waitCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.SubscriberCount() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("SubscriberCount = %d, want %d", h.SubscriberCount(), want)
}

func TestHub_BroadcastReachesSubscribers(t *testing.T) {
	h := New("results", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c1, c2 := newFakeConn(), newFakeConn()
	go NewSubscriber(h, c1).Serve()
	go NewSubscriber(h, c2).Serve()
	waitCount(t, h, 2)

	msg, err := protocol.NewGoalStatusMessage("g1", "succeeded", nil)
	if err != nil {
		t.Fatalf("NewGoalStatusMessage: %v", err)
	}
	if err := h.BroadcastMessage(msg); err != nil {
		t.Fatalf("BroadcastMessage: %v", err)
	}

	for i, c := range []*fakeConn{c1, c2} {
		select {
		case data := <-c.writes:
			parsed, err := protocol.ParseMessage(data)
			if err != nil {
				t.Fatalf("subscriber %d: %v", i, err)
			}
			if parsed.Type != protocol.TypeGoalStatus {
				t.Errorf("subscriber %d got %s", i, parsed.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	h := New("results", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := newFakeConn()
	go NewSubscriber(h, c).Serve()
	waitCount(t, h, 1)

	c.Close()
	waitCount(t, h, 0)
}

func TestHub_StopClosesSubscribers(t *testing.T) {
	h := New("results", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := newFakeConn()
	done := make(chan struct{})
	go func() {
		NewSubscriber(h, c).Serve()
		close(done)
	}()
	waitCount(t, h, 1)

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after hub stopped")
	}
	if h.IsRunning() {
		t.Error("hub should not be running")
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	h := New("idle", nil)

	// No Run loop: the buffer fills and further messages are dropped.
	for i := 0; i < 300; i++ {
		h.Broadcast([]byte("x"))
	}
	if h.Dropped() == 0 {
		t.Error("expected dropped broadcasts on a saturated hub")
	}
}
