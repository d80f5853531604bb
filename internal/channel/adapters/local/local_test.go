package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/guardrelay/internal/channel"
)

func TestDeliverPublishesToSession(t *testing.T) {
	t.Parallel()

	hub := NewRouteHub()
	a := NewWebAdapter(hub)
	mine, cancel := hub.Subscribe("session-1")
	defer cancel()
	other, cancelOther := hub.Subscribe("session-2")
	defer cancelOther()

	require.NoError(t, a.Deliver(context.Background(), NewChannelConfig(), channel.Reply{ChatID: "session-1", Text: "hello"}))

	got := <-mine
	assert.Equal(t, "session-1", got.Target)
	assert.Equal(t, "hello", got.Reply.Text)
	assert.Empty(t, other)
}

func TestDeliverNeedsSession(t *testing.T) {
	t.Parallel()

	err := NewWebAdapter(NewRouteHub()).Deliver(context.Background(), NewChannelConfig(), channel.Reply{Text: "x"})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRouteHubCancel(t *testing.T) {
	t.Parallel()

	hub := NewRouteHub()
	stream, cancel := hub.Subscribe("s")
	assert.Equal(t, 1, hub.Routes())
	cancel()
	cancel()
	assert.Equal(t, 0, hub.Routes())
	_, open := <-stream
	assert.False(t, open)
	hub.Publish(RouteMessage{Target: "s"})
}

func TestRouteHubDropsWhenFull(t *testing.T) {
	t.Parallel()

	hub := NewRouteHub()
	_, cancel := hub.Subscribe("s")
	defer cancel()
	for range routeBuffer + 2 {
		hub.Publish(RouteMessage{Target: "s"})
	}
	assert.Equal(t, uint64(2), hub.Dropped())
}

func TestWebConfigAndDescriptor(t *testing.T) {
	t.Parallel()

	a := NewWebAdapter(nil)
	desc := a.Descriptor()
	assert.Equal(t, Type, a.Type())
	assert.True(t, desc.Delivery.TextFirst)
	assert.Equal(t, 1, desc.Delivery.Attempts)
	assert.Equal(t, channel.ChannelConfig{ID: "web", Type: Type}, NewChannelConfig())

	_, ok := any(a).(channel.Receiver)
	assert.False(t, ok, "the web channel has no connection")
}
