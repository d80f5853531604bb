// Package telegram connects the relay to a Telegram bot through long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/guardrelay/internal/channel"
	"github.com/memohai/guardrelay/internal/channel/adapters/common"
	"github.com/memohai/guardrelay/internal/media"
)

const Type channel.ChannelType = "telegram"

const (
	textLimit    = 4096
	pollTimeout  = 30
	fetchTimeout = time.Minute
)

var ErrNoToken = errors.New("telegram bot token is empty")

// BotFactory builds an API client for a token. Tests point it at a fake server.
type BotFactory func(token string) (*tgbotapi.BotAPI, error)

// Adapter receives updates by long polling and sends replies through the Bot API.
type Adapter struct {
	log    *slog.Logger
	newBot BotFactory
	http   *http.Client

	mu      sync.Mutex
	senders map[string]*tgbotapi.BotAPI
}

// NewAdapter returns an Adapter. A nil factory uses tgbotapi.NewBotAPI.
func NewAdapter(log *slog.Logger, factory BotFactory) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if factory == nil {
		factory = tgbotapi.NewBotAPI
	}
	a := &Adapter{
		log:     log.With(slog.String("adapter", Type.String())),
		newBot:  factory,
		http:    &http.Client{Timeout: fetchTimeout},
		senders: map[string]*tgbotapi.BotAPI{},
	}
	_ = tgbotapi.SetLogger(botLogger{a.log})
	return a
}

// NewChannelConfig is the single Telegram connection for token.
func NewChannelConfig(token string) channel.ChannelConfig {
	return channel.ChannelConfig{ID: Type.String(), Type: Type, Token: strings.TrimSpace(token)}
}

func (a *Adapter) Type() channel.ChannelType { return Type }

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:   Type,
		Name:   "Telegram",
		Quotes: true,
		Delivery: channel.Delivery{
			ChunkLimit: textLimit,
		},
	}
}

// sender returns the cached client used for sends and file lookups.
func (a *Adapter) sender(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.senders[token]; ok {
		return bot, nil
	}
	bot, err := a.newBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	a.senders[token] = bot
	return bot, nil
}

// Connect starts long polling with a dedicated client; a client that stopped polling
// cannot poll again.
func (a *Adapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	if cfg.Token == "" {
		return nil, ErrNoToken
	}
	bot, err := a.newBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := bot.GetUpdatesChan(u)

	pollCtx, cancel := context.WithCancel(ctx)
	finished := make(chan struct{})
	link := channel.NewLink(func(context.Context) error {
		bot.StopReceivingUpdates()
		cancel()
		<-finished
		// The library goroutine blocks until its channel is drained.
		for range updates {
		}
		return nil
	})

	a.log.Info("polling", slog.String("config_id", cfg.ID), slog.String("bot", bot.Self.UserName))
	go func() {
		defer close(finished)
		for {
			select {
			case <-pollCtx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					link.Close()
					return
				}
				msg, ok := toInbound(bot.Self, upd.Message)
				if !ok {
					continue
				}
				a.log.Info("inbound",
					slog.String("chat_id", msg.ChatID),
					slog.String("from", msg.From.Handle()),
					slog.Int("pictures", len(msg.Pictures)),
					slog.String("text", common.SummarizeText(msg.Text)))
				if err := handler(pollCtx, cfg, msg); err != nil {
					a.log.Warn("inbound rejected", slog.String("chat_id", msg.ChatID), slog.Any("error", err))
				}
			}
		}
	}()
	return link, nil
}

// Deliver sends one reply part: a photo when it carries an image, text otherwise.
func (a *Adapter) Deliver(_ context.Context, cfg channel.ChannelConfig, r channel.Reply) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(r.ChatID), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", r.ChatID, err)
	}
	bot, err := a.sender(cfg.Token)
	if err != nil {
		return err
	}
	quote, _ := strconv.Atoi(r.QuoteID)

	var out tgbotapi.Chattable
	if r.Image != nil && r.Image.Base64 != "" {
		data, err := r.Image.Bytes()
		if err != nil {
			return fmt.Errorf("decode reply image: %w", err)
		}
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "image" + extFor(r.Image.MimeType), Bytes: data})
		photo.Caption = clip(r.Text, 1024)
		photo.ReplyToMessageID = quote
		out = photo
	} else {
		text := tgbotapi.NewMessage(chatID, clip(r.Text, textLimit))
		text.ReplyToMessageID = quote
		out = text
	}
	if _, err := bot.Send(out); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// FetchImage resolves a file id through getFile and downloads it.
func (a *Adapter) FetchImage(ctx context.Context, cfg channel.ChannelConfig, pic channel.Picture) (io.ReadCloser, string, error) {
	bot, err := a.sender(cfg.Token)
	if err != nil {
		return nil, "", err
	}
	url := pic.URL
	if url == "" {
		if url, err = bot.GetFileDirectURL(pic.FileID); err != nil {
			return nil, "", fmt.Errorf("telegram getFile: %w", err)
		}
	}
	body, mime, err := media.Download(ctx, a.http, url, media.MaxImageBytes)
	if err != nil {
		return nil, "", err
	}
	if pic.MIME != "" {
		mime = pic.MIME
	}
	return body, mime, nil
}

// toInbound converts an update. In groups only messages that mention the bot, reply
// to it or start with a command are taken, with the leading mention removed.
func toInbound(self tgbotapi.User, m *tgbotapi.Message) (channel.InboundMessage, bool) {
	if m == nil || m.Chat == nil || (m.From != nil && m.From.IsBot) {
		return channel.InboundMessage{}, false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	msg := channel.InboundMessage{
		Channel:  Type,
		ID:       strconv.Itoa(m.MessageID),
		ChatID:   strconv.FormatInt(m.Chat.ID, 10),
		ChatKind: m.Chat.Type,
		From:     author(m),
		Text:     text,
		Pictures: pictures(m),
		At:       m.Time().UTC(),
	}
	if m.Chat.IsGroup() || m.Chat.IsSuperGroup() {
		repliesToBot := m.ReplyToMessage != nil && m.ReplyToMessage.From != nil && m.ReplyToMessage.From.ID == self.ID
		if !repliesToBot && !m.IsCommand() && !mentions(m, self.UserName) {
			return channel.InboundMessage{}, false
		}
		msg.Text = trimMention(msg.Text, self.UserName)
	}
	if msg.Empty() {
		return channel.InboundMessage{}, false
	}
	return msg, true
}

func author(m *tgbotapi.Message) channel.Author {
	switch {
	case m.From != nil:
		return channel.Author{
			ID:       strconv.FormatInt(m.From.ID, 10),
			Username: m.From.UserName,
			Name:     strings.TrimSpace(m.From.FirstName + " " + m.From.LastName),
		}
	case m.SenderChat != nil:
		return channel.Author{
			ID:       strconv.FormatInt(m.SenderChat.ID, 10),
			Username: m.SenderChat.UserName,
			Name:     m.SenderChat.Title,
		}
	}
	return channel.Author{}
}

// pictures keeps the largest photo size plus any image sent as a document.
func pictures(m *tgbotapi.Message) []channel.Picture {
	var out []channel.Picture
	if n := len(m.Photo); n > 0 {
		best := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		out = append(out, channel.Picture{FileID: best.FileID, Size: int64(best.FileSize)})
	}
	if d := m.Document; d != nil && strings.HasPrefix(media.NormalizeMime(d.MimeType), "image/") {
		out = append(out, channel.Picture{FileID: d.FileID, MIME: media.NormalizeMime(d.MimeType), Size: int64(d.FileSize)})
	}
	return out
}

func mentions(m *tgbotapi.Message, bot string) bool {
	bot = strings.ToLower(strings.TrimPrefix(bot, "@"))
	body := strings.ToLower(m.Text + " " + m.Caption)
	if bot != "" && strings.Contains(body, "@"+bot) {
		return true
	}
	for _, e := range slices.Concat(m.Entities, m.CaptionEntities) {
		if e.Type == "text_mention" && e.User != nil && e.User.IsBot {
			return true
		}
	}
	return false
}

func trimMention(text, bot string) string {
	tag := "@" + strings.TrimPrefix(bot, "@")
	if len(tag) > 1 && len(text) >= len(tag) && strings.EqualFold(text[:len(tag)], tag) {
		return strings.TrimSpace(text[len(tag):])
	}
	return text
}

// clip makes text valid UTF-8 and cuts it to limit runes.
func clip(text string, limit int) string {
	text = strings.ToValidUTF8(text, "")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit-1]) + "…"
}

func extFor(mime string) string {
	switch media.NormalizeMime(mime) {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

type botLogger struct{ log *slog.Logger }

func (l botLogger) Println(v ...any)               { l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...))) }
func (l botLogger) Printf(format string, v ...any) { l.log.Debug(fmt.Sprintf(format, v...)) }
