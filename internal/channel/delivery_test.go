package channel

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/guardrelay/internal/chat"
)

func TestChunk(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		text       string
		limit      int
		paragraphs bool
		want       []string
	}{
		{name: "blank", text: "  ", limit: 10},
		{name: "fits", text: " short ", limit: 10, want: []string{"short"}},
		{name: "lines", text: "aaa\nbbb\nccc", limit: 7, want: []string{"aaa\nbbb", "ccc"}},
		{name: "paragraphs", text: "one\ntwo\n\nthree", limit: 10, paragraphs: true, want: []string{"one\ntwo", "three"}},
		{name: "hard cut", text: "abcdefghij", limit: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "runes", text: "héllo wörld", limit: 5, want: []string{"héllo", "wörld"}},
		{name: "words", text: "the quick brown fox", limit: 10, want: []string{"the quick", "brown fox"}},
		{name: "long word", text: "ab cdefghijk", limit: 4, want: []string{"ab", "cdef", "ghij", "k"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Chunk(tc.text, tc.limit, tc.paragraphs))
		})
	}
}

func TestChunkRespectsLimit(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("lorem ipsum dolor\n", 40) + "\n\n" + strings.Repeat("x", 95)
	for _, part := range Chunk(text, 30, true) {
		assert.LessOrEqual(t, utf8.RuneCountInString(part), 30)
		assert.NotEmpty(t, part)
	}
}

func TestSplitReplyOrdersImage(t *testing.T) {
	t.Parallel()

	img := chat.NewImage("image/png", []byte{1, 2})
	reply := Reply{ChatID: "c", QuoteID: "q", Text: "caption", Markdown: true, Image: img}

	parts := splitReply(reply, Descriptor{Quotes: true}, Delivery{ChunkLimit: 100})
	require.Len(t, parts, 2)
	assert.Same(t, img, parts[0].Image)
	assert.Equal(t, "q", parts[0].QuoteID)
	assert.Empty(t, parts[1].QuoteID)
	assert.False(t, parts[1].Markdown, "transport without markdown gets plain text")

	parts = splitReply(reply, Descriptor{Markdown: true}, Delivery{ChunkLimit: 100, TextFirst: true})
	require.Len(t, parts, 2)
	assert.Equal(t, "caption", parts[0].Text)
	assert.True(t, parts[0].Markdown)
	assert.Empty(t, parts[0].QuoteID, "no quotes without transport support")
}

func TestReplierRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	stub := newStub("stub")
	stub.deliverErr = []error{errTransport, nil}
	reg := NewRegistry()
	reg.MustRegister(stub)
	m := NewManager(quietLogger(), reg, nil, nil, ManagerOptions{})

	err := m.replier(ChannelConfig{ID: "stub", Type: "stub"}).Reply(context.Background(), Reply{ChatID: "c", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, stub.texts())
	assert.Equal(t, 2, stub.calls)
}

func TestReplierGivesUp(t *testing.T) {
	t.Parallel()

	stub := newStub("stub")
	stub.deliverErr = []error{errTransport, errTransport, errTransport}
	reg := NewRegistry()
	reg.MustRegister(stub)
	m := NewManager(quietLogger(), reg, nil, nil, ManagerOptions{})

	err := m.replier(ChannelConfig{Type: "stub"}).Reply(context.Background(), Reply{ChatID: "c", Text: "hello"})
	require.ErrorIs(t, err, errTransport)
	assert.Equal(t, 3, stub.calls)
}

func TestReplierRejects(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.MustRegister(newStub("stub"))
	m := NewManager(quietLogger(), reg, nil, nil, ManagerOptions{})
	ctx := context.Background()

	assert.ErrorIs(t, m.replier(ChannelConfig{Type: "stub"}).Reply(ctx, Reply{ChatID: "c"}), ErrEmptyReply)
	assert.ErrorIs(t, m.replier(ChannelConfig{Type: "stub"}).Reply(ctx, Reply{Text: "x"}), ErrNoChat)
	assert.ErrorIs(t, m.replier(ChannelConfig{Type: "none"}).Reply(ctx, Reply{ChatID: "c", Text: "x"}), ErrNoDeliverer)
}
