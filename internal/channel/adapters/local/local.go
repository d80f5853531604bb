// Package local is the dashboard ("web") channel. HTTP handlers post its inbound
// messages; replies go to a RouteHub that dashboard sockets subscribe to by session id.
package local

import (
	"context"
	"errors"

	"github.com/memohai/guardrelay/internal/channel"
)

const Type channel.ChannelType = "web"

var ErrNoRoute = errors.New("web reply has no session id")

// WebAdapter delivers replies to RouteHub subscribers. It has no Connection.
type WebAdapter struct {
	hub *RouteHub
}

func NewWebAdapter(hub *RouteHub) *WebAdapter {
	return &WebAdapter{hub: hub}
}

func (a *WebAdapter) Type() channel.ChannelType { return Type }

func (a *WebAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:     Type,
		Name:     "Dashboard",
		Markdown: true,
		Quotes:   true,
		// Sockets render a whole reply at once and never fail transiently.
		Delivery: channel.Delivery{ChunkLimit: 1 << 20, TextFirst: true, Attempts: 1},
	}
}

// Deliver publishes r on the route named by its chat id.
func (a *WebAdapter) Deliver(_ context.Context, _ channel.ChannelConfig, r channel.Reply) error {
	if r.ChatID == "" {
		return ErrNoRoute
	}
	a.hub.Publish(RouteMessage{Target: r.ChatID, Reply: r})
	return nil
}

// NewChannelConfig is the config dashboard traffic is processed under.
func NewChannelConfig() channel.ChannelConfig {
	return channel.ChannelConfig{ID: Type.String(), Type: Type}
}
