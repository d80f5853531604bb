// Package inbound answers channel messages: commands run directly, everything else goes
// through the conversation pipeline, and the answer is sent back as a channel.Reply.
package inbound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/memohai/guardrelay/internal/channel"
	"github.com/memohai/guardrelay/internal/channel/adapters/common"
	"github.com/memohai/guardrelay/internal/chat"
	"github.com/memohai/guardrelay/internal/conversation"
	"github.com/memohai/guardrelay/internal/identity"
	"github.com/memohai/guardrelay/internal/media"
)

// PendingImageMessage is sent before a slow image synthesis starts.
const PendingImageMessage = "🎨 Generating your image, this can take a moment..."

var ErrUnknownSender = errors.New("message has no sender")

// Responder is the conversation surface the processor drives.
type Responder interface {
	Respond(ctx context.Context, in conversation.Inbound) conversation.Outbound
	Execute(ctx context.Context, key identity.Key, source, sender string, cmd conversation.Command) string
}

type ProcessorOptions struct {
	MaxImageBytes int64
	// HTTPClient downloads pictures that arrive as URLs.
	HTTPClient *http.Client
}

// Processor implements channel.InboundProcessor.
type Processor struct {
	registry  *channel.Registry
	responder Responder
	log       *slog.Logger
	maxImage  int64
	client    *http.Client
}

func NewProcessor(log *slog.Logger, registry *channel.Registry, responder Responder, opts ProcessorOptions) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = media.MaxImageBytes
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Processor{
		registry:  registry,
		responder: responder,
		log:       log.With(slog.String("component", "inbound")),
		maxImage:  opts.MaxImageBytes,
		client:    opts.HTTPClient,
	}
}

func (p *Processor) Process(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage, r channel.Replier) error {
	source := msg.Channel.String()
	if source == "" {
		source = cfg.Type.String()
	}
	who := msg.From.Key()
	if who == "" {
		return fmt.Errorf("%w on %s", ErrUnknownSender, source)
	}
	key := identity.NewKey(source, who)
	handle := msg.From.Handle()
	answer := func(text string, img *chat.Image) error {
		reply := channel.Reply{
			ChatID:   msg.ChatID,
			QuoteID:  msg.ID,
			Text:     strings.TrimSpace(text),
			Markdown: looksLikeMarkdown(text),
			Image:    img,
		}
		if reply.Empty() {
			return nil
		}
		return r.Reply(ctx, reply)
	}

	if cmd, ok := conversation.ParseCommand(msg.Text); ok {
		p.log.Info("command", slog.String("channel", source), slog.String("sender", handle), slog.String("command", cmd.Name))
		return answer(p.responder.Execute(ctx, key, source, handle, cmd), nil)
	}

	img, err := p.picture(ctx, cfg, msg)
	if err != nil {
		p.log.Warn("picture skipped", slog.String("channel", source), slog.String("sender", handle), slog.Any("error", err))
		if strings.TrimSpace(msg.Text) == "" {
			return answer(conversation.ErrorMessage, nil)
		}
	}
	if strings.TrimSpace(msg.Text) == "" && img == nil {
		return nil
	}

	p.log.Info("message",
		slog.String("channel", source),
		slog.String("sender", handle),
		slog.Bool("image", img != nil),
		slog.String("text", common.SummarizeText(msg.Text)))

	out := p.responder.Respond(ctx, conversation.Inbound{
		Identity: key,
		Channel:  source,
		Sender:   handle,
		Text:     strings.TrimSpace(msg.Text),
		Image:    img,
		OnPendingImage: func(ctx context.Context) error {
			return r.Reply(ctx, channel.Reply{ChatID: msg.ChatID, Text: PendingImageMessage})
		},
	})
	return answer(out.Text, out.Image)
}

// picture reads the first locatable picture of msg, or returns nil when there is none.
func (p *Processor) picture(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage) (*chat.Image, error) {
	for _, pic := range msg.Pictures {
		if !pic.Located() {
			continue
		}
		body, declared, err := p.open(ctx, cfg, msg.Channel, pic)
		if err != nil {
			return nil, err
		}
		defer func() { _ = body.Close() }()
		if pic.MIME != "" {
			declared = pic.MIME
		}
		return media.ReadImage(body, declared, p.maxImage)
	}
	return nil, nil
}

func (p *Processor) open(ctx context.Context, cfg channel.ChannelConfig, ct channel.ChannelType, pic channel.Picture) (io.ReadCloser, string, error) {
	switch {
	case len(pic.Data) > 0:
		return io.NopCloser(bytes.NewReader(pic.Data)), pic.MIME, nil
	case pic.FileID != "":
		fetcher, ok := channel.As[channel.ImageFetcher](p.registry, ct)
		if !ok {
			return nil, "", fmt.Errorf("%s cannot fetch file %q", ct, pic.FileID)
		}
		return fetcher.FetchImage(ctx, cfg, pic)
	default:
		return media.Download(ctx, p.client, pic.URL, p.maxImage)
	}
}

var markdownHints = []*regexp.Regexp{
	regexp.MustCompile(`\*\*[^*]+\*\*`),
	regexp.MustCompile("`[^`]+`"),
	regexp.MustCompile(`\[[^\]]+\]\([^)]+\)`),
	regexp.MustCompile(`(?m)^#{1,6}\s`),
	regexp.MustCompile(`(?m)^\s*(?:[-*]|\d+\.)\s`),
}

func looksLikeMarkdown(text string) bool {
	for _, re := range markdownHints {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
