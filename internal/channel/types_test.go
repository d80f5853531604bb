package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memohai/guardrelay/internal/chat"
)

func TestAuthorKeyAndHandle(t *testing.T) {
	t.Parallel()

	a := Author{ID: " 42 ", Username: "alice", Name: "Alice A"}
	assert.Equal(t, "42", a.Key())
	assert.Equal(t, "alice", a.Handle())

	a = Author{Name: "Bob"}
	assert.Equal(t, "Bob", a.Key())
	assert.Equal(t, "Bob", a.Handle())
	assert.Empty(t, Author{}.Key())
}

func TestInboundMessageSenderKeyIsChannelScoped(t *testing.T) {
	t.Parallel()

	tg := InboundMessage{Channel: "telegram", From: Author{ID: "7"}}
	dc := InboundMessage{Channel: "discord", From: Author{ID: "7"}}
	assert.Equal(t, "telegram:7", tg.SenderKey())
	assert.NotEqual(t, tg.SenderKey(), dc.SenderKey())
}

func TestEmptiness(t *testing.T) {
	t.Parallel()

	assert.True(t, InboundMessage{Text: " \n"}.Empty())
	assert.False(t, InboundMessage{Pictures: []Picture{{FileID: "f"}}}.Empty())
	assert.True(t, Reply{ChatID: "c"}.Empty())
	assert.True(t, Reply{Image: &chat.Image{}}.Empty())
	assert.False(t, Reply{Image: &chat.Image{Base64: "AA=="}}.Empty())
	assert.False(t, Picture{}.Located())
	assert.True(t, Picture{URL: "https://x/y.png"}.Located())
}

func TestParseChannelType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ChannelType("telegram"), ParseChannelType("  Telegram "))
	assert.Equal(t, ChannelType(""), ParseChannelType(" "))
}
