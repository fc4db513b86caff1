package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"omnidesk/internal/observability"
)

// Sink is a write-capable handle to one live dashboard connection.
// A failing write marks the sink dead; the hub removes it immediately.
type Sink interface {
	Write(msg Message) error
	Close()
}

// Hub is a single-process fan-out channel. No persistence, no per-subscriber
// backlog: subscribers that are offline simply miss events.
//
// Ordering within a single subscriber matches broadcast call order; ordering
// across subscribers is irrelevant.
type Hub struct {
	mu   sync.Mutex
	subs map[string]Sink
	log  *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{subs: make(map[string]Sink), log: log}
}

func (h *Hub) Subscribe(id string, s Sink) {
	h.mu.Lock()
	if old, ok := h.subs[id]; ok {
		old.Close()
	}
	h.subs[id] = s
	n := len(h.subs)
	h.mu.Unlock()

	observability.LiveSubscribers.Set(float64(n))
	h.log.Debug("subscriber registered", "subscriber_id", id, "total", n)
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		s.Close()
		observability.LiveSubscribers.Set(float64(n))
		h.log.Debug("subscriber removed", "subscriber_id", id, "total", n)
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast serializes payload once and writes it to every registered sink.
// Sinks whose write fails are pruned in the same pass; a stuck sink never
// stalls delivery to the others.
func (h *Hub) Broadcast(t Type, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("broadcast marshal failed", "type", string(t), "err", err)
		return
	}
	msg := Message{Type: t, Data: data}

	h.mu.Lock()
	var dead []string
	for id, s := range h.subs {
		if err := s.Write(msg); err != nil {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			s.Close()
		}
	}
	n := len(h.subs)
	h.mu.Unlock()

	observability.BroadcastEvents.WithLabelValues(string(t)).Inc()
	if len(dead) > 0 {
		observability.LiveSubscribers.Set(float64(n))
		h.log.Info("pruned dead subscribers", "count", len(dead), "remaining", n)
	}
}

// RunHeartbeat writes a no-op keepalive on every tick so connections that
// fail silently (no error until the next write) get detected and pruned.
func (h *Hub) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			h.Broadcast(TypePing, map[string]any{"at": now.UTC()})
		}
	}
}

var errSinkFull = errors.New("events: sink buffer full")
var errSinkClosed = errors.New("events: sink closed")

// ChanSink backs one SSE connection with a bounded buffered channel.
// Writes never block: a full buffer means the consumer stopped draining and
// the sink reports failure so the hub drops it.
type ChanSink struct {
	C chan Message

	mu     sync.Mutex
	closed bool
}

func NewChanSink(buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = 32
	}
	return &ChanSink{C: make(chan Message, buffer)}
}

func (s *ChanSink) Write(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	select {
	case s.C <- msg:
		return nil
	default:
		return errSinkFull
	}
}

func (s *ChanSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.C)
	}
}
