// Package discord connects the relay to a Discord bot over the gateway.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/guardrelay/internal/channel"
	"github.com/memohai/guardrelay/internal/channel/adapters/common"
	"github.com/memohai/guardrelay/internal/media"
)

const Type channel.ChannelType = "discord"

const (
	textLimit = 2000
	intents   = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	replayTTL = time.Minute
)

var (
	ErrNoToken  = errors.New("discord bot token is empty")
	mentionTags = regexp.MustCompile(`<@!?\d+>`)
)

// poster is the REST call Deliver needs from a session.
type poster interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Adapter reads MessageCreate events from the gateway and posts replies over REST.
type Adapter struct {
	log *slog.Logger

	mu      sync.Mutex
	posters map[string]*discordgo.Session
	seen    replayFilter
}

func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		log:     log.With(slog.String("adapter", Type.String())),
		posters: map[string]*discordgo.Session{},
		seen:    replayFilter{ttl: replayTTL, at: map[string]time.Time{}},
	}
}

// NewChannelConfig is the single Discord connection for token.
func NewChannelConfig(token string) channel.ChannelConfig {
	return channel.ChannelConfig{ID: Type.String(), Type: Type, Token: strings.TrimSpace(token)}
}

func (a *Adapter) Type() channel.ChannelType { return Type }

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:     Type,
		Name:     "Discord",
		Markdown: true,
		Quotes:   true,
		Delivery: channel.Delivery{ChunkLimit: textLimit, Paragraphs: true},
	}
}

func newSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = intents
	// Run handlers on the event loop so one channel's messages keep their order.
	s.SyncEvents = true
	return s, nil
}

func (a *Adapter) poster(token string) (poster, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.posters[token]; ok {
		return s, nil
	}
	s, err := newSession(token)
	if err != nil {
		return nil, err
	}
	a.posters[token] = s
	return s, nil
}

// Connect opens a gateway session of its own and feeds MessageCreate events to handler.
func (a *Adapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	if cfg.Token == "" {
		return nil, ErrNoToken
	}
	s, err := newSession(cfg.Token)
	if err != nil {
		return nil, err
	}
	remove := s.AddHandler(func(s *discordgo.Session, ev *discordgo.MessageCreate) {
		if ctx.Err() != nil || ev.Message == nil || !a.seen.first(ev.ID) {
			return
		}
		self := ""
		if s.State != nil && s.State.User != nil {
			self = s.State.User.ID
		}
		msg, ok := toInbound(ev.Message, self)
		if !ok {
			return
		}
		a.log.Info("inbound",
			slog.String("chat_id", msg.ChatID),
			slog.String("from", msg.From.Handle()),
			slog.Int("pictures", len(msg.Pictures)),
			slog.String("text", common.SummarizeText(msg.Text)))
		if err := handler(ctx, cfg, msg); err != nil {
			a.log.Warn("inbound rejected", slog.String("chat_id", msg.ChatID), slog.Any("error", err))
		}
	})
	if err := s.Open(); err != nil {
		remove()
		return nil, fmt.Errorf("discord gateway: %w", err)
	}
	a.log.Info("gateway open", slog.String("config_id", cfg.ID))
	return channel.NewLink(func(context.Context) error {
		remove()
		return s.Close()
	}), nil
}

// Deliver posts one reply part. Images are uploaded as files.
func (a *Adapter) Deliver(_ context.Context, cfg channel.ChannelConfig, r channel.Reply) error {
	if strings.TrimSpace(r.ChatID) == "" {
		return fmt.Errorf("discord reply needs a channel id")
	}
	p, err := a.poster(cfg.Token)
	if err != nil {
		return err
	}
	return post(p, r)
}

func post(p poster, r channel.Reply) error {
	send, err := render(r)
	if err != nil {
		return err
	}
	if _, err := p.ChannelMessageSendComplex(r.ChatID, send); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func render(r channel.Reply) (*discordgo.MessageSend, error) {
	send := &discordgo.MessageSend{Content: clip(strings.TrimSpace(r.Text))}
	if r.QuoteID != "" {
		send.Reference = &discordgo.MessageReference{ChannelID: r.ChatID, MessageID: r.QuoteID}
	}
	if r.Image != nil && r.Image.Base64 != "" {
		data, err := r.Image.Bytes()
		if err != nil {
			return nil, fmt.Errorf("decode reply image: %w", err)
		}
		mime := media.NormalizeMime(r.Image.MimeType)
		send.Files = []*discordgo.File{{
			Name:        "image." + strings.TrimPrefix(mime, "image/"),
			ContentType: mime,
			Reader:      bytes.NewReader(data),
		}}
	}
	if send.Content == "" && len(send.Files) == 0 {
		return nil, channel.ErrEmptyReply
	}
	return send, nil
}

// toInbound converts a gateway message. In guilds only messages that mention the bot,
// reply to it or start with "/" are taken.
func toInbound(m *discordgo.Message, self string) (channel.InboundMessage, bool) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return channel.InboundMessage{}, false
	}
	kind := "direct"
	if m.GuildID != "" {
		kind = "guild"
		repliesToBot := self != "" && m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil && m.ReferencedMessage.Author.ID == self
		if !repliesToBot && !strings.HasPrefix(strings.TrimSpace(m.Content), "/") && !mentioned(m, self) {
			return channel.InboundMessage{}, false
		}
	}
	at := m.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	msg := channel.InboundMessage{
		Channel:  Type,
		ID:       m.ID,
		ChatID:   m.ChannelID,
		ChatKind: kind,
		From:     channel.Author{ID: m.Author.ID, Username: m.Author.Username, Name: m.Author.GlobalName},
		Text:     strings.TrimSpace(mentionTags.ReplaceAllString(m.Content, "")),
		At:       at.UTC(),
	}
	for _, att := range m.Attachments {
		if att == nil || !strings.HasPrefix(media.NormalizeMime(att.ContentType), "image/") {
			continue
		}
		msg.Pictures = append(msg.Pictures, channel.Picture{
			URL:  att.URL,
			MIME: media.NormalizeMime(att.ContentType),
			Size: int64(att.Size),
		})
	}
	if msg.Empty() {
		return channel.InboundMessage{}, false
	}
	return msg, true
}

func mentioned(m *discordgo.Message, self string) bool {
	if self == "" {
		return false
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == self {
			return true
		}
	}
	return strings.Contains(m.Content, "<@"+self+">") || strings.Contains(m.Content, "<@!"+self+">")
}

func clip(text string) string {
	if utf8.RuneCountInString(text) <= textLimit {
		return text
	}
	return string([]rune(text)[:textLimit-1]) + "…"
}

// replayFilter drops gateway events redelivered after a resume.
type replayFilter struct {
	mu  sync.Mutex
	ttl time.Duration
	at  map[string]time.Time
	now func() time.Time
}

// first reports whether id has not been seen within the ttl.
func (f *replayFilter) first(id string) bool {
	if id == "" {
		return true
	}
	now := time.Now()
	if f.now != nil {
		now = f.now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, t := range f.at {
		if now.Sub(t) > f.ttl {
			delete(f.at, k)
		}
	}
	if _, dup := f.at[id]; dup {
		return false
	}
	f.at[id] = now
	return true
}
