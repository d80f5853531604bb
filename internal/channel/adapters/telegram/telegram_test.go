package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/guardrelay/internal/channel"
	"github.com/memohai/guardrelay/internal/chat"
)

// botServer answers Bot API calls and records the ones that send something.
type botServer struct {
	mu       sync.Mutex
	calls    []string
	texts    []string
	replyTo  []string
	captions []string
	uploads  []string
	fileURL  string
}

func (s *botServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	s.mu.Lock()
	s.calls = append(s.calls, method)
	switch method {
	case "sendMessage":
		_ = r.ParseForm()
		s.texts = append(s.texts, r.FormValue("text"))
		s.replyTo = append(s.replyTo, r.FormValue("reply_to_message_id"))
	case "sendPhoto":
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			s.captions = append(s.captions, r.FormValue("caption"))
			for field := range r.MultipartForm.File {
				s.uploads = append(s.uploads, field)
			}
		}
	}
	s.mu.Unlock()

	var result any = map[string]any{"message_id": 7, "date": 0, "chat": map[string]any{"id": 100, "type": "private"}}
	switch method {
	case "getMe":
		result = map[string]any{"id": 1, "is_bot": true, "first_name": "relay", "username": "relay_bot"}
	case "getFile":
		result = map[string]any{"file_id": "f1", "file_path": "photos/f1.png"}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func newTestAdapter(t *testing.T) (*Adapter, *botServer) {
	t.Helper()
	api := &botServer{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	factory := func(token string) (*tgbotapi.BotAPI, error) {
		return tgbotapi.NewBotAPIWithAPIEndpoint(token, srv.URL+"/bot%s/%s")
	}
	return NewAdapter(slog.New(slog.NewTextHandler(io.Discard, nil)), factory), api
}

var testConfig = NewChannelConfig(" token ")

func TestNewChannelConfig(t *testing.T) {
	t.Parallel()

	assert.Equal(t, channel.ChannelConfig{ID: "telegram", Type: Type, Token: "token"}, testConfig)
}

func TestToInboundPrivateChat(t *testing.T) {
	t.Parallel()

	msg, ok := toInbound(tgbotapi.User{ID: 1}, &tgbotapi.Message{
		MessageID: 9,
		Date:      1700000000,
		From:      &tgbotapi.User{ID: 42, UserName: "alice", FirstName: "Alice"},
		Chat:      &tgbotapi.Chat{ID: 100, Type: "private"},
		Caption:   "what is this",
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 10, Height: 10},
			{FileID: "large", Width: 100, Height: 100},
		},
	})
	require.True(t, ok)
	assert.Equal(t, Type, msg.Channel)
	assert.Equal(t, "9", msg.ID)
	assert.Equal(t, "100", msg.ChatID)
	assert.Equal(t, "telegram:42", msg.SenderKey())
	assert.Equal(t, "alice", msg.From.Handle())
	assert.Equal(t, "what is this", msg.Text)
	require.Len(t, msg.Pictures, 1)
	assert.Equal(t, "large", msg.Pictures[0].FileID)
	assert.Equal(t, int64(1700000000), msg.At.Unix())
}

func TestToInboundGroupNeedsAddress(t *testing.T) {
	t.Parallel()

	self := tgbotapi.User{ID: 1, UserName: "relay_bot"}
	group := &tgbotapi.Chat{ID: -5, Type: "supergroup"}
	from := &tgbotapi.User{ID: 42}

	_, ok := toInbound(self, &tgbotapi.Message{From: from, Chat: group, Text: "chatter"})
	assert.False(t, ok)

	msg, ok := toInbound(self, &tgbotapi.Message{From: from, Chat: group, Text: "@Relay_Bot draw a cat"})
	require.True(t, ok)
	assert.Equal(t, "draw a cat", msg.Text)

	_, ok = toInbound(self, &tgbotapi.Message{From: from, Chat: group, Text: "more", ReplyToMessage: &tgbotapi.Message{From: &tgbotapi.User{ID: 1}}})
	assert.True(t, ok, "replies to the bot count")

	_, ok = toInbound(self, &tgbotapi.Message{From: &tgbotapi.User{ID: 9, IsBot: true}, Chat: group, Text: "@relay_bot hi"})
	assert.False(t, ok, "other bots are ignored")

	_, ok = toInbound(self, &tgbotapi.Message{From: from, Chat: &tgbotapi.Chat{ID: 3, Type: "private"}})
	assert.False(t, ok, "nothing to answer")
}

func TestImageDocumentBecomesPicture(t *testing.T) {
	t.Parallel()

	msg, ok := toInbound(tgbotapi.User{}, &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 2},
		Chat:     &tgbotapi.Chat{ID: 2, Type: "private"},
		Document: &tgbotapi.Document{FileID: "doc", MimeType: "Image/JPEG"},
	})
	require.True(t, ok)
	require.Len(t, msg.Pictures, 1)
	assert.Equal(t, channel.Picture{FileID: "doc", MIME: "image/jpeg"}, msg.Pictures[0])
}

func TestDeliverText(t *testing.T) {
	t.Parallel()

	a, api := newTestAdapter(t)
	require.NoError(t, a.Deliver(context.Background(), testConfig, channel.Reply{ChatID: "100", QuoteID: "9", Text: "hello"}))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"hello"}, api.texts)
	assert.Equal(t, []string{"9"}, api.replyTo)
}

func TestDeliverImageUploadsBytes(t *testing.T) {
	t.Parallel()

	a, api := newTestAdapter(t)
	img := chat.NewImage("image/png", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, a.Deliver(context.Background(), testConfig, channel.Reply{ChatID: "100", Image: img}))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"photo"}, api.uploads)
	assert.Empty(t, api.texts)
}

func TestDeliverRejects(t *testing.T) {
	t.Parallel()

	a, _ := newTestAdapter(t)
	ctx := context.Background()
	assert.Error(t, a.Deliver(ctx, testConfig, channel.Reply{ChatID: "@name", Text: "x"}))
	assert.ErrorIs(t, a.Deliver(ctx, channel.ChannelConfig{}, channel.Reply{ChatID: "1", Text: "x"}), ErrNoToken)
}

func TestConnectNeedsToken(t *testing.T) {
	t.Parallel()

	a, _ := newTestAdapter(t)
	_, err := a.Connect(context.Background(), channel.ChannelConfig{ID: "telegram", Type: Type}, nil)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFetchImageUsesGivenURL(t *testing.T) {
	t.Parallel()

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))
	t.Cleanup(files.Close)

	a, _ := newTestAdapter(t)
	body, mime, err := a.FetchImage(context.Background(), testConfig, channel.Picture{URL: files.URL + "/x.png", MIME: "image/webp"})
	require.NoError(t, err)
	defer func() { _ = body.Close() }()
	data, _ := io.ReadAll(body)
	assert.Equal(t, "png", string(data))
	assert.Equal(t, "image/webp", mime, "declared type wins over the header")
}

func TestDescriptor(t *testing.T) {
	t.Parallel()

	a, _ := newTestAdapter(t)
	desc := a.Descriptor()
	assert.Equal(t, Type, a.Type())
	assert.Equal(t, textLimit, desc.Delivery.ChunkLimit)
	assert.True(t, desc.Quotes)
	assert.False(t, desc.Markdown, "replies are sent without parse mode")
}

func TestClip(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("世", textLimit+5)
	got := clip(long, textLimit)
	assert.Equal(t, textLimit, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.Equal(t, "short", clip("short", textLimit))
	assert.Equal(t, "ok", clip("ok\xff", textLimit))
}
