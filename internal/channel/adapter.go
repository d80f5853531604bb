package channel

import (
	"context"
	"io"
	"sync"
	"time"
)

// InboundHandler receives messages from a transport connection.
type InboundHandler func(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error

// Middleware wraps an InboundHandler.
type Middleware func(next InboundHandler) InboundHandler

// Replier sends replies for the message being processed.
type Replier interface {
	Reply(ctx context.Context, r Reply) error
}

// Adapter is implemented by every transport.
type Adapter interface {
	Type() ChannelType
	Descriptor() Descriptor
}

// Deliverer is an adapter that can send replies.
type Deliverer interface {
	Deliver(ctx context.Context, cfg ChannelConfig, r Reply) error
}

// Receiver is an adapter that keeps a long-lived connection for inbound messages.
type Receiver interface {
	Connect(ctx context.Context, cfg ChannelConfig, handler InboundHandler) (Connection, error)
}

// ImageFetcher is an adapter that can download pictures by transport file id.
type ImageFetcher interface {
	FetchImage(ctx context.Context, cfg ChannelConfig, pic Picture) (io.ReadCloser, string, error)
}

// Descriptor tells the manager how to talk to a transport.
type Descriptor struct {
	Type ChannelType
	Name string
	// Markdown means replies may be sent as markdown.
	Markdown bool
	// Quotes means replies can reference the inbound message.
	Quotes   bool
	Delivery Delivery
}

// Delivery shapes outbound replies for a transport. Zero fields take defaults.
type Delivery struct {
	// ChunkLimit is the longest text part in runes.
	ChunkLimit int
	// Paragraphs prefers blank-line boundaries when splitting.
	Paragraphs bool
	// TextFirst sends text parts before the image.
	TextFirst bool
	Attempts  int
	Backoff   time.Duration
}

func (d Delivery) withDefaults() Delivery {
	if d.ChunkLimit <= 0 {
		d.ChunkLimit = 2000
	}
	if d.Attempts <= 0 {
		d.Attempts = 3
	}
	if d.Backoff <= 0 {
		d.Backoff = 500 * time.Millisecond
	}
	return d
}

// Connection is a live transport connection.
type Connection interface {
	Stop(ctx context.Context) error
	// Done is closed once the connection has ended, whether stopped or lost.
	Done() <-chan struct{}
}

// Link is a Connection backed by a stop function.
type Link struct {
	stop   func(ctx context.Context) error
	once   sync.Once
	done   chan struct{}
	closed sync.Once
	err    error
}

// NewLink returns a running Link. stop may be nil.
func NewLink(stop func(ctx context.Context) error) *Link {
	return &Link{stop: stop, done: make(chan struct{})}
}

// Stop runs the stop function once and ends the link.
func (l *Link) Stop(ctx context.Context) error {
	l.once.Do(func() {
		if l.stop != nil {
			l.err = l.stop(ctx)
		}
		l.Close()
	})
	return l.err
}

// Close marks the link ended without running the stop function. Adapters call it when
// the platform drops the connection.
func (l *Link) Close() {
	l.closed.Do(func() { close(l.done) })
}

func (l *Link) Done() <-chan struct{} {
	return l.done
}
