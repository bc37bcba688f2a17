// Package hub fans detection results out to websocket subscribers using a
// single goroutine that owns the subscriber set.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-wrench/pkg/protocol"
)

// Hub maintains the set of active subscribers and broadcasts messages to them
type Hub struct {
	name   string
	logger *slog.Logger

	subscribers map[*Subscriber]bool

	broadcast  chan []byte
	register   chan *Subscriber
	unregister chan *Subscriber

	// count mirrors len(subscribers) for readers outside Run
	mu    sync.RWMutex
	count int

	done    chan struct{}
	running atomic.Bool
	dropped atomic.Int64
}

// New creates a new Hub
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:        name,
		logger:      logger.With("hub", name),
		subscribers: make(map[*Subscriber]bool),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		done:        make(chan struct{}),
	}
}

// Run owns the subscriber set until ctx is cancelled. A hub runs once.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			for s := range h.subscribers {
				close(s.send)
				delete(h.subscribers, s)
			}
			h.setCount(0)
			return

		case s := <-h.register:
			h.subscribers[s] = true
			h.setCount(len(h.subscribers))
			h.logger.Info("subscriber connected", "total", len(h.subscribers))

		case s := <-h.unregister:
			if _, ok := h.subscribers[s]; ok {
				delete(h.subscribers, s)
				close(s.send)
			}
			h.setCount(len(h.subscribers))
			h.logger.Info("subscriber disconnected", "remaining", len(h.subscribers))

		case msg := <-h.broadcast:
			for s := range h.subscribers {
				select {
				case s.send <- msg:
				default:
					// Subscriber's buffer is full; drop it.
					close(s.send)
					delete(h.subscribers, s)
					h.logger.Warn("dropped slow subscriber")
				}
			}
			h.setCount(len(h.subscribers))
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Broadcast queues raw bytes for every subscriber. It never blocks.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastMessage encodes and broadcasts a protocol message.
func (h *Hub) BroadcastMessage(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// SubscriberCount returns the number of connected subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// IsRunning returns whether the hub loop is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Dropped returns how many broadcasts were discarded because the hub was
// saturated.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
