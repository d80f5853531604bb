package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrConnectionLost is recorded when a transport drops a connection the manager did not stop.
	ErrConnectionLost = errors.New("connection lost")
	// ErrNoReceiver is recorded for configs whose adapter cannot hold a connection.
	ErrNoReceiver = errors.New("adapter cannot receive")
)

type liveConn struct {
	cfg  ChannelConfig
	conn Connection
}

// Reconcile connects every enabled config from the source and stops connections whose
// config was removed or disabled.
func (m *Manager) Reconcile(ctx context.Context) {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	if m.source == nil {
		return
	}
	configs, err := m.source.Configs(ctx)
	if err != nil {
		m.logger.Error("list channel configs", slog.Any("error", err))
		return
	}

	wanted := make(map[string]struct{}, len(configs))
	for _, cfg := range configs {
		if cfg.ID == "" || cfg.Disabled {
			continue
		}
		wanted[cfg.ID] = struct{}{}
		if err := m.connect(ctx, cfg); err != nil {
			m.logger.Error("connect channel",
				slog.String("channel", cfg.Type.String()),
				slog.String("config_id", cfg.ID),
				slog.Any("error", err))
		}
	}

	var gone []*liveConn
	m.mu.Lock()
	for id, lc := range m.live {
		if _, ok := wanted[id]; !ok {
			gone = append(gone, lc)
			delete(m.live, id)
		}
	}
	m.mu.Unlock()
	for _, lc := range gone {
		m.stopConn(ctx, lc)
	}
}

func (m *Manager) connect(ctx context.Context, cfg ChannelConfig) error {
	receiver, ok := As[Receiver](m.registry, cfg.Type)
	if !ok {
		m.setStatus(cfg, false, ErrNoReceiver)
		return nil
	}

	m.mu.Lock()
	current := m.live[cfg.ID]
	if current != nil && !current.cfg.UpdatedAt.Before(cfg.UpdatedAt) && running(current.conn) {
		m.mu.Unlock()
		return nil
	}
	if current != nil {
		delete(m.live, cfg.ID)
	}
	m.mu.Unlock()

	if current != nil {
		m.logger.Info("channel restart", slog.String("config_id", cfg.ID))
		if err := current.conn.Stop(ctx); err != nil {
			m.logger.Warn("stop before restart", slog.String("config_id", cfg.ID), slog.Any("error", err))
		}
	}

	m.logger.Info("channel connect", slog.String("channel", cfg.Type.String()), slog.String("config_id", cfg.ID))
	conn, err := receiver.Connect(context.WithoutCancel(ctx), cfg, m.inboundHandler())
	if err != nil {
		m.setStatus(cfg, false, err)
		return err
	}

	lc := &liveConn{cfg: cfg, conn: conn}
	m.mu.Lock()
	if other := m.live[cfg.ID]; other != nil {
		m.mu.Unlock()
		_ = conn.Stop(context.WithoutCancel(ctx))
		return nil
	}
	m.live[cfg.ID] = lc
	m.mu.Unlock()

	m.setStatus(cfg, true, nil)
	go m.watch(lc)
	return nil
}

// watch clears a connection the transport closed on its own, so the next Reconcile
// dials it again.
func (m *Manager) watch(lc *liveConn) {
	<-lc.conn.Done()
	m.mu.Lock()
	if m.live[lc.cfg.ID] != lc {
		m.mu.Unlock()
		return
	}
	delete(m.live, lc.cfg.ID)
	m.mu.Unlock()
	m.logger.Warn("channel connection lost",
		slog.String("channel", lc.cfg.Type.String()),
		slog.String("config_id", lc.cfg.ID))
	m.setStatus(lc.cfg, false, ErrConnectionLost)
}

// Connect applies one config right away: disabled configs are disconnected, others are
// connected or restarted.
func (m *Manager) Connect(ctx context.Context, cfg ChannelConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("config id is required")
	}
	if cfg.Disabled {
		m.Disconnect(ctx, cfg.Type)
		return nil
	}
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()
	return m.connect(ctx, cfg)
}

// Disconnect stops every connection of channel type ct.
func (m *Manager) Disconnect(ctx context.Context, ct ChannelType) {
	ct = ParseChannelType(ct.String())
	var gone []*liveConn
	m.mu.Lock()
	for id, lc := range m.live {
		if lc.cfg.Type == ct {
			gone = append(gone, lc)
			delete(m.live, id)
		}
	}
	m.mu.Unlock()
	for _, lc := range gone {
		m.stopConn(ctx, lc)
	}
}

// stopConn stops a connection already removed from m.live.
func (m *Manager) stopConn(ctx context.Context, lc *liveConn) {
	m.logger.Info("channel stop", slog.String("channel", lc.cfg.Type.String()), slog.String("config_id", lc.cfg.ID))
	err := lc.conn.Stop(ctx)
	if err != nil {
		m.logger.Warn("channel stop", slog.String("config_id", lc.cfg.ID), slog.Any("error", err))
	}
	m.setStatus(lc.cfg, false, err)
}

func running(c Connection) bool {
	select {
	case <-c.Done():
		return false
	default:
		return true
	}
}
