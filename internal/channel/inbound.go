package channel

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"strings"
)

// ErrInboundQueueFull is returned when the sender's worker queue has no room.
var ErrInboundQueueFull = errors.New("inbound queue full")

type inboundTask struct {
	cfg ChannelConfig
	msg InboundMessage
}

func (m *Manager) work(ctx context.Context, q chan inboundTask) {
	defer m.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q:
			m.dispatch(ctx, task)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, task inboundTask) {
	defer func() {
		if v := recover(); v != nil {
			m.logger.Error("inbound processor panic",
				slog.String("channel", task.cfg.Type.String()),
				slog.Any("panic", v))
		}
	}()
	if m.processor == nil {
		return
	}
	if err := m.processor.Process(ctx, task.cfg, task.msg, m.replier(task.cfg)); err != nil {
		m.logger.Error("process inbound",
			slog.String("channel", task.cfg.Type.String()),
			slog.String("sender", task.msg.From.Handle()),
			slog.Any("error", err))
	}
}

// HandleInbound runs msg through the middleware chain and queues it. The dashboard uses
// it for messages that do not arrive on a Connection.
func (m *Manager) HandleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error {
	return m.inboundHandler()(ctx, cfg, msg)
}

func (m *Manager) inboundHandler() InboundHandler {
	h := InboundHandler(m.enqueue)
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		h = m.middlewares[i](h)
	}
	return h
}

// enqueue hands msg to the worker owning its sender key, so one sender's messages are
// answered in arrival order.
func (m *Manager) enqueue(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error {
	if len(m.queues) == 0 {
		return ErrInboundQueueFull
	}
	q := m.queues[shardFor(msg.SenderKey(), len(m.queues))]
	select {
	case q <- inboundTask{cfg: cfg, msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		m.logger.Warn("inbound queue full",
			slog.String("channel", cfg.Type.String()),
			slog.String("sender", msg.From.Handle()))
		return ErrInboundQueueFull
	}
}

func shardFor(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(key)))
	return int(h.Sum32() % uint32(n))
}
