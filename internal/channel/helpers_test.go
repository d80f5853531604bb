package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errTransport = errors.New("transport down")

// stubTransport is a Receiver and Deliverer that records everything it is asked to do.
type stubTransport struct {
	ct         ChannelType
	desc       Descriptor
	dialErr    error
	deliverErr []error

	mu        sync.Mutex
	dialed    []ChannelConfig
	links     []*Link
	handlers  []InboundHandler
	delivered []Reply
	calls     int
	stopped   int
}

func newStub(ct ChannelType) *stubTransport {
	return &stubTransport{
		ct: ct,
		desc: Descriptor{
			Type:     ct,
			Name:     "Stub",
			Markdown: true,
			Quotes:   true,
			Delivery: Delivery{Backoff: time.Millisecond},
		},
	}
}

func (s *stubTransport) Type() ChannelType      { return s.ct }
func (s *stubTransport) Descriptor() Descriptor { return s.desc }

func (s *stubTransport) Connect(_ context.Context, cfg ChannelConfig, h InboundHandler) (Connection, error) {
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	link := NewLink(func(context.Context) error {
		s.mu.Lock()
		s.stopped++
		s.mu.Unlock()
		return nil
	})
	s.mu.Lock()
	s.dialed = append(s.dialed, cfg)
	s.links = append(s.links, link)
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
	return link, nil
}

func (s *stubTransport) Deliver(_ context.Context, _ ChannelConfig, r Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.deliverErr) > 0 {
		err := s.deliverErr[0]
		s.deliverErr = s.deliverErr[1:]
		if err != nil {
			return err
		}
	}
	s.delivered = append(s.delivered, r)
	return nil
}

func (s *stubTransport) handler() InboundHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handlers) == 0 {
		return nil
	}
	return s.handlers[len(s.handlers)-1]
}

func (s *stubTransport) lastLink() *Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.links) == 0 {
		return nil
	}
	return s.links[len(s.links)-1]
}

func (s *stubTransport) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.delivered))
	for _, r := range s.delivered {
		out = append(out, r.Text)
	}
	return out
}

func (s *stubTransport) counts() (dialed, stopped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dialed), s.stopped
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
