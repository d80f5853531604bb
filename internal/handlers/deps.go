package handlers

import (
	"context"

	"github.com/memohai/guardrelay/internal/channel"
	"github.com/memohai/guardrelay/internal/conversation"
	"github.com/memohai/guardrelay/internal/identity"
)

// Conversation is the part of the pipeline the HTTP surface drives.
type Conversation interface {
	Respond(ctx context.Context, in conversation.Inbound) conversation.Outbound
	SetGuard(ctx context.Context, key identity.Key, enabled bool, source, sender string)
	SetSession(ctx context.Context, key identity.Key, enabled bool, source, sender string)
	ClearHistory(ctx context.Context, key identity.Key, source, sender string)
	Store() *identity.Store
}

// ChannelStatusSource lists chat transport connection statuses.
type ChannelStatusSource interface {
	ConnectionStatuses() []channel.ConnectionStatus
}

// ChannelLifecycle restarts or stops chat transports.
type ChannelLifecycle interface {
	Reconnect(ctx context.Context, channelType channel.ChannelType) (channel.ChannelConfig, error)
	Stop(ctx context.Context, channelType channel.ChannelType) (channel.ChannelConfig, error)
}

// InboundFeeder queues a dashboard message on the channel worker pool.
type InboundFeeder interface {
	HandleInbound(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage) error
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Message string `json:"message"`
}

// identityStatus is the dashboard view of one identity's settings.
type identityStatus struct {
	Identity       string `json:"identity"`
	GuardEnabled   bool   `json:"guard_enabled"`
	SessionEnabled bool   `json:"session_enabled"`
	History        int    `json:"history"`
	HistoryLimit   int    `json:"history_limit"`
}

func statusFor(store *identity.Store, key identity.Key) identityStatus {
	st := store.Get(key)
	return identityStatus{
		Identity:       key.String(),
		GuardEnabled:   st.GuardEnabled,
		SessionEnabled: st.SessionEnabled,
		History:        len(st.History),
		HistoryLimit:   store.Limit(),
	}
}
