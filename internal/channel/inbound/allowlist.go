package inbound

import (
	"context"
	"log/slog"
	"strings"

	"github.com/memohai/guardrelay/internal/channel"
)

// AllowList admits senders by platform id, username or phone. An empty list admits
// everyone.
type AllowList struct {
	allowed map[string]struct{}
	exempt  map[channel.ChannelType]struct{}
	log     *slog.Logger
}

// NewAllowList matches entries case-insensitively, ignoring a leading "@" or "+".
func NewAllowList(log *slog.Logger, entries []string) *AllowList {
	if log == nil {
		log = slog.Default()
	}
	a := &AllowList{
		allowed: map[string]struct{}{},
		exempt:  map[channel.ChannelType]struct{}{},
		log:     log.With(slog.String("component", "allowlist")),
	}
	for _, e := range entries {
		if k := allowKey(e); k != "" {
			a.allowed[k] = struct{}{}
		}
	}
	return a
}

// Exempt admits every sender on the given channels. The dashboard authenticates its
// users itself.
func (a *AllowList) Exempt(types ...channel.ChannelType) *AllowList {
	for _, t := range types {
		a.exempt[t] = struct{}{}
	}
	return a
}

func (a *AllowList) Enabled() bool {
	return a != nil && len(a.allowed) > 0
}

func (a *AllowList) Allowed(msg channel.InboundMessage) bool {
	if !a.Enabled() {
		return true
	}
	if _, ok := a.exempt[msg.Channel]; ok {
		return true
	}
	for _, v := range []string{msg.From.ID, msg.From.Username, msg.From.Phone} {
		if _, ok := a.allowed[allowKey(v)]; ok {
			return true
		}
	}
	return false
}

// Middleware drops unlisted senders before their messages are queued.
func (a *AllowList) Middleware() channel.Middleware {
	return func(next channel.InboundHandler) channel.InboundHandler {
		return func(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage) error {
			if a.Allowed(msg) {
				return next(ctx, cfg, msg)
			}
			a.log.Info("sender not allowed",
				slog.String("channel", msg.Channel.String()),
				slog.String("sender", msg.From.Handle()))
			return nil
		}
	}
}

func allowKey(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	return strings.TrimPrefix(strings.TrimPrefix(v, "@"), "+")
}
