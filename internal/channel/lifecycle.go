package channel

import (
	"context"
	"errors"
	"fmt"
)

// ErrEnableChannelFailed wraps the connect error when a channel could not be brought up.
var ErrEnableChannelFailed = errors.New("enable channel failed")

// Connector applies configs to live connections. *Manager implements it.
type Connector interface {
	Connect(ctx context.Context, cfg ChannelConfig) error
	Disconnect(ctx context.Context, ct ChannelType)
}

// ConfigStore keeps the enabled state of channel configs. *StaticStore implements it.
type ConfigStore interface {
	Get(ctx context.Context, ct ChannelType) (ChannelConfig, error)
	SetDisabled(ctx context.Context, ct ChannelType, disabled bool) (ChannelConfig, error)
}

// Lifecycle serves the operator's reconnect and stop actions.
type Lifecycle struct {
	store ConfigStore
	conn  Connector
}

func NewLifecycle(store ConfigStore, conn Connector) *Lifecycle {
	return &Lifecycle{store: store, conn: conn}
}

// Reconnect drops the channel's connection and dials a fresh one, enabling the config
// if it was stopped. If dialing fails the config is left disabled.
func (l *Lifecycle) Reconnect(ctx context.Context, ct ChannelType) (ChannelConfig, error) {
	if _, err := l.store.Get(ctx, ct); err != nil {
		return ChannelConfig{}, err
	}
	l.conn.Disconnect(ctx, ct)
	cfg, err := l.store.SetDisabled(ctx, ct, false)
	if err != nil {
		return ChannelConfig{}, err
	}
	if err := l.conn.Connect(ctx, cfg); err != nil {
		failed := fmt.Errorf("%w: %w", ErrEnableChannelFailed, err)
		if _, rbErr := l.store.SetDisabled(ctx, ct, true); rbErr != nil {
			return ChannelConfig{}, errors.Join(failed, fmt.Errorf("disable after failure: %w", rbErr))
		}
		return ChannelConfig{}, failed
	}
	return cfg, nil
}

// Stop disables the channel and closes its connection. Reconcile will not redial it.
func (l *Lifecycle) Stop(ctx context.Context, ct ChannelType) (ChannelConfig, error) {
	cfg, err := l.store.SetDisabled(ctx, ct, true)
	if err != nil {
		return ChannelConfig{}, err
	}
	l.conn.Disconnect(ctx, ct)
	return cfg, nil
}
