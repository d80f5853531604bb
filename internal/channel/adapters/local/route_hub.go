package local

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/memohai/guardrelay/internal/channel"
)

const routeBuffer = 16

// RouteMessage is a reply addressed to one dashboard session.
type RouteMessage struct {
	Target string
	Reply  channel.Reply
}

// RouteHub fans replies out to the sockets of a session. A full subscriber loses the
// message instead of blocking delivery.
type RouteHub struct {
	mu      sync.RWMutex
	routes  map[string]map[uuid.UUID]chan RouteMessage
	dropped atomic.Uint64
}

func NewRouteHub() *RouteHub {
	return &RouteHub{routes: map[string]map[uuid.UUID]chan RouteMessage{}}
}

// Subscribe streams the replies for route. The cancel func closes the stream; calling
// it again is a no-op.
func (h *RouteHub) Subscribe(route string) (<-chan RouteMessage, func()) {
	id := uuid.New()
	ch := make(chan RouteMessage, routeBuffer)
	h.mu.Lock()
	if h.routes[route] == nil {
		h.routes[route] = map[uuid.UUID]chan RouteMessage{}
	}
	h.routes[route][id] = ch
	h.mu.Unlock()

	return ch, sync.OnceFunc(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.routes[route], id)
		if len(h.routes[route]) == 0 {
			delete(h.routes, route)
		}
		close(ch)
	})
}

func (h *RouteHub) Publish(msg RouteMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.routes[msg.Target] {
		select {
		case ch <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Routes counts sessions with at least one subscriber.
func (h *RouteHub) Routes() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.routes)
}

func (h *RouteHub) Dropped() uint64 {
	return h.dropped.Load()
}
