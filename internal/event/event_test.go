package event

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelB()
	require.Equal(t, 2, h.Subscribers())

	h.Publish(New(TypePassed, "pipeline", "web:1", nil))
	assert.Equal(t, TypePassed, (<-a).Type)
	assert.Equal(t, "web:1", (<-b).Identity)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, h.Subscribers())
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()

	h := NewHub(1)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(New(TypePassed, "x", "", nil))
	h.Publish(New(TypeBlocked, "x", "", nil))

	assert.Equal(t, TypePassed, (<-ch).Type)
	assert.Equal(t, uint64(1), h.Dropped())
}

func TestMultiSkipsNil(t *testing.T) {
	t.Parallel()

	var got []Type
	m := NewMulti(nil, ObserverFunc(func(_ context.Context, ev Event) {
		got = append(got, ev.Type)
	}), Nop{})
	require.Len(t, m, 2)

	m.OnEvent(context.Background(), New(TypePendingImage, "router", "", nil))
	assert.Equal(t, []Type{TypePendingImage}, got)
}

func TestSlogObserverLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	o := NewSlogObserver(log)

	o.OnEvent(context.Background(), New(TypePassed, "pipeline", "web:1", nil))
	assert.Empty(t, buf.String())

	o.OnEvent(context.Background(), New(TypeBlocked, "pipeline", "web:1", map[string]any{"reason": "pii"}))
	out := buf.String()
	assert.True(t, strings.Contains(out, "level=WARN"), out)
	assert.Contains(t, out, "reason=pii")
	assert.Contains(t, out, "identity=web:1")
}
