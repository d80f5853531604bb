package channelchecker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/guardrelay/internal/channel"
	"github.com/memohai/guardrelay/internal/healthcheck"
)

type statuses []channel.ConnectionStatus

func (s statuses) ConnectionStatuses() []channel.ConnectionStatus { return s }

func TestListChecksPerConnection(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	items := NewChecker(nil, statuses{
		{ConfigID: "discord", ChannelType: "discord", LastError: "401 unauthorized", UpdatedAt: at},
		{ConfigID: "tg", ChannelType: "telegram", Running: true, UpdatedAt: at},
		{ConfigID: "web", ChannelType: "local", UpdatedAt: at},
		{ChannelType: "telegram"},
	}).ListChecks(t.Context())

	require.Len(t, items, 4)
	assert.Equal(t, "channel.connection.discord", items[0].ID)
	assert.Equal(t, healthcheck.StatusError, items[0].Status)
	assert.Equal(t, "401 unauthorized", items[0].Detail)
	assert.Equal(t, healthcheck.StatusOK, items[1].Status)
	assert.Equal(t, "telegram is connected.", items[1].Summary)
	assert.Equal(t, "2026-03-01T12:00:00Z", items[1].Metadata["updated_at"])
	assert.Equal(t, healthcheck.StatusWarn, items[2].Status)
	assert.Equal(t, "channel.connection.telegram", items[3].ID)
	assert.Equal(t, healthcheck.StatusUnknown, items[3].Status)
	assert.Empty(t, items[3].Detail)
}

func TestListChecksWithoutConnections(t *testing.T) {
	t.Parallel()

	items := NewChecker(nil, statuses{}).ListChecks(t.Context())
	require.Len(t, items, 1)
	assert.Equal(t, "channel.connection.none", items[0].ID)
	assert.Equal(t, healthcheck.StatusWarn, items[0].Status)

	items = NewChecker(nil, nil).ListChecks(t.Context())
	require.Len(t, items, 1)
	assert.Equal(t, "channel.connection.manager", items[0].ID)
}

func TestListChecksCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.Empty(t, NewChecker(nil, statuses{{ConfigID: "tg", Running: true}}).ListChecks(ctx))
}
