// Package channelchecker turns transport connection statuses into health items.
package channelchecker

import (
	"cmp"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/guardrelay/internal/channel"
	"github.com/memohai/guardrelay/internal/healthcheck"
)

const kind = "channel.connection"

// StatusSource is satisfied by *channel.Manager.
type StatusSource interface {
	ConnectionStatuses() []channel.ConnectionStatus
}

type Checker struct {
	log    *slog.Logger
	source StatusSource
}

func NewChecker(log *slog.Logger, source StatusSource) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{log: log.With(slog.String("checker", kind)), source: source}
}

// ListChecks returns one item per configured connection, in the manager's order.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if ctx.Err() != nil {
		return nil
	}
	if c.source == nil {
		c.log.Warn("no connection status source")
		return []healthcheck.CheckResult{single("manager", "Transport manager is not running.")}
	}
	statuses := c.source.ConnectionStatuses()
	if len(statuses) == 0 {
		return []healthcheck.CheckResult{single("none", "No chat transport is configured.")}
	}
	items := make([]healthcheck.CheckResult, len(statuses))
	for i, st := range statuses {
		items[i] = describe(st)
	}
	return items
}

func single(suffix, summary string) healthcheck.CheckResult {
	return healthcheck.CheckResult{
		ID:      kind + "." + suffix,
		Type:    kind,
		Status:  healthcheck.StatusWarn,
		Summary: summary,
	}
}

// describe maps a connection to a status. A connection that has never reported and
// has no error is still dialing.
func describe(st channel.ConnectionStatus) healthcheck.CheckResult {
	transport := cmp.Or(strings.TrimSpace(st.ChannelType.String()), "unknown")
	lastErr := strings.TrimSpace(st.LastError)

	status, verb := healthcheck.StatusWarn, "is stopped"
	switch {
	case st.Running:
		status, verb = healthcheck.StatusOK, "is connected"
	case lastErr != "":
		status, verb = healthcheck.StatusError, "failed to connect"
	case st.UpdatedAt.IsZero():
		status, verb = healthcheck.StatusUnknown, "is connecting"
	}

	meta := map[string]any{"channel_type": transport, "running": st.Running}
	if !st.UpdatedAt.IsZero() {
		meta["updated_at"] = st.UpdatedAt.UTC().Format(time.RFC3339)
	}
	item := healthcheck.CheckResult{
		ID:       kind + "." + cmp.Or(strings.TrimSpace(st.ConfigID), transport),
		Type:     kind,
		Subtitle: transport,
		Status:   status,
		Summary:  transport + " " + verb + ".",
		Metadata: meta,
	}
	if status == healthcheck.StatusError {
		item.Detail = lastErr
	}
	return item
}
