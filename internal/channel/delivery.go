package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	ErrEmptyReply  = errors.New("reply is empty")
	ErrNoChat      = errors.New("reply has no chat id")
	ErrNoDeliverer = errors.New("adapter cannot deliver")
)

type replier struct {
	m    *Manager
	cfg  ChannelConfig
	desc Descriptor
	out  Deliverer
	ok   bool
}

func (m *Manager) replier(cfg ChannelConfig) Replier {
	r := &replier{m: m, cfg: cfg}
	r.desc, _ = m.registry.Descriptor(cfg.Type)
	r.out, r.ok = As[Deliverer](m.registry, cfg.Type)
	return r
}

// Reply splits r into transport-sized parts and delivers them in order.
func (r *replier) Reply(ctx context.Context, reply Reply) error {
	if reply.Empty() {
		return ErrEmptyReply
	}
	if reply.ChatID == "" {
		return ErrNoChat
	}
	if !r.ok {
		return fmt.Errorf("%w: %s", ErrNoDeliverer, r.cfg.Type)
	}
	d := r.desc.Delivery.withDefaults()
	for i, part := range splitReply(reply, r.desc, d) {
		if err := r.deliver(ctx, part, d); err != nil {
			return fmt.Errorf("deliver part %d: %w", i+1, err)
		}
	}
	return nil
}

func (r *replier) deliver(ctx context.Context, part Reply, d Delivery) error {
	var err error
	for attempt := 1; attempt <= d.Attempts; attempt++ {
		if err = r.out.Deliver(ctx, r.cfg, part); err == nil {
			return nil
		}
		if attempt == d.Attempts {
			break
		}
		r.m.logger.Warn("deliver reply",
			slog.String("channel", r.cfg.Type.String()),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		t := time.NewTimer(d.Backoff << (attempt - 1))
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("after %d attempts: %w", d.Attempts, err)
}

// splitReply turns one reply into the parts a transport accepts: text chunks plus the
// image on its own. Only the first part quotes the inbound message.
func splitReply(reply Reply, desc Descriptor, d Delivery) []Reply {
	markdown := reply.Markdown && desc.Markdown
	var texts []Reply
	for _, chunk := range Chunk(reply.Text, d.ChunkLimit, d.Paragraphs || markdown) {
		texts = append(texts, Reply{ChatID: reply.ChatID, Text: chunk, Markdown: markdown})
	}
	var parts []Reply
	if reply.Image != nil && reply.Image.Base64 != "" {
		img := Reply{ChatID: reply.ChatID, Image: reply.Image}
		if d.TextFirst {
			parts = append(texts, img)
		} else {
			parts = append([]Reply{img}, texts...)
		}
	} else {
		parts = texts
	}
	if len(parts) > 0 && desc.Quotes {
		parts[0].QuoteID = reply.QuoteID
	}
	return parts
}
