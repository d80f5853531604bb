// Package event carries pipeline notifications to interested observers such as dashboard
// sockets and the process log.
package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies the kind of notification.
type Type string

const (
	TypePassed       Type = "security.passed"
	TypeBlocked      Type = "security.blocked"
	TypePendingImage Type = "generation.pending_image"
	TypeGuardStatus  Type = "guard.status"
	TypeChannel      Type = "channel.status"
	TypeAudit        Type = "audit.entry"
)

// Event is one notification. Identity is the channel-scoped sender key, empty for
// process-wide events.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Identity  string         `json:"identity,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// New stamps an event with the current time.
func New(typ Type, source, identity string, data map[string]any) Event {
	return Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Identity:  identity,
		Data:      data,
	}
}

// Observer receives events. Implementations must not block.
type Observer interface {
	OnEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop discards events.
type Nop struct{}

func (Nop) OnEvent(context.Context, Event) {}

// Multi fans events out to every non-nil observer.
type Multi []Observer

// NewMulti drops nil observers.
func NewMulti(observers ...Observer) Multi {
	out := make(Multi, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m Multi) OnEvent(ctx context.Context, ev Event) {
	for _, o := range m {
		o.OnEvent(ctx, ev)
	}
}

// SlogObserver writes events to a logger. Blocked messages log at warn, the rest at debug.
type SlogObserver struct {
	logger *slog.Logger
}

func NewSlogObserver(log *slog.Logger) *SlogObserver {
	if log == nil {
		log = slog.Default()
	}
	return &SlogObserver{logger: log.With(slog.String("component", "event"))}
}

func (o *SlogObserver) OnEvent(ctx context.Context, ev Event) {
	level := slog.LevelDebug
	if ev.Type == TypeBlocked {
		level = slog.LevelWarn
	}
	attrs := make([]slog.Attr, 0, len(ev.Data)+2)
	attrs = append(attrs, slog.String("source", ev.Source))
	if ev.Identity != "" {
		attrs = append(attrs, slog.String("identity", ev.Identity))
	}
	for k, v := range ev.Data {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.logger.LogAttrs(ctx, level, string(ev.Type), attrs...)
}

// Hub broadcasts events to subscribers. Delivery never blocks the publisher: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	buffer  int
	dropped atomic.Uint64
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{subs: map[uint64]chan Event{}, buffer: buffer}
}

// Subscribe registers a subscriber. The returned cancel closes the channel and is safe
// to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber that has room.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// OnEvent lets the hub act as an Observer.
func (h *Hub) OnEvent(_ context.Context, ev Event) {
	h.Publish(ev)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
