package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/memohai/guardrelay/internal/channel"
	"github.com/memohai/guardrelay/internal/conversation"
	"github.com/memohai/guardrelay/internal/event"
	"github.com/memohai/guardrelay/internal/guard"
	"github.com/memohai/guardrelay/internal/identity"
	"github.com/memohai/guardrelay/internal/intent"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type keywordGate struct{}

func (keywordGate) Evaluate(_ context.Context, text string) guard.Decision {
	if strings.Contains(strings.ToLower(text), "bomb") {
		return guard.Decision{Action: guard.ActionBlock, Reasons: []string{"harmful"}}
	}
	return guard.Decision{Action: guard.ActionAllow}
}

type echoRouter struct{}

func (echoRouter) Route(_ context.Context, req intent.Request) (intent.Result, error) {
	if req.Image != nil {
		return intent.Result{Text: "saw " + req.Image.MimeType, Route: intent.RouteImageAnalysis}, nil
	}
	return intent.Result{Text: "echo: " + req.Prompt, Route: intent.RouteText}, nil
}

func newTestPipeline(observer event.Observer) *conversation.Pipeline {
	return conversation.New(identity.NewStore(), keywordGate{}, echoRouter{}, conversation.Options{
		Observer: observer,
		Logger:   discardLogger(),
	})
}

type fakeStatuses []channel.ConnectionStatus

func (f fakeStatuses) ConnectionStatuses() []channel.ConnectionStatus { return f }

type fakeLifecycle struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeLifecycle) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeLifecycle) Reconnect(_ context.Context, t channel.ChannelType) (channel.ChannelConfig, error) {
	return f.apply("reconnect", t)
}

func (f *fakeLifecycle) Stop(_ context.Context, t channel.ChannelType) (channel.ChannelConfig, error) {
	return f.apply("stop", t)
}

func (f *fakeLifecycle) apply(op string, t channel.ChannelType) (channel.ChannelConfig, error) {
	switch t {
	case "missing":
		return channel.ChannelConfig{}, channel.ErrChannelConfigNotFound
	case "broken":
		return channel.ChannelConfig{}, errors.Join(channel.ErrEnableChannelFailed, errors.New("dial failed"))
	}
	f.mu.Lock()
	f.calls = append(f.calls, op+":"+t.String())
	f.mu.Unlock()
	return channel.ChannelConfig{ID: t.String(), Type: t}, nil
}

func identityKey(channel, subject string) identity.Key {
	return identity.NewKey(channel, subject)
}
