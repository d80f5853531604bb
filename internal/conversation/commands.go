package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/memohai/guardrelay/internal/audit"
	"github.com/memohai/guardrelay/internal/event"
	"github.com/memohai/guardrelay/internal/identity"
)

// Command names.
const (
	CommandGuard   = "guard"
	CommandSession = "session"
	CommandClear   = "clear"
	CommandStatus  = "status"
	CommandHelp    = "help"
)

const helpText = `Commands:
/guard on|off - turn the AI Guard on or off
/session on|off - remember or forget this conversation
/clear - forget the conversation so far
/status - show current settings`

// Command is a parsed chat command. On is meaningful for guard and session.
type Command struct {
	Name string
	On   bool
}

// ParseCommand recognizes the chat commands, case-insensitively. Anything else,
// including a known command with a bad argument, is not a command.
func ParseCommand(text string) (Command, bool) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	// Telegram appends the bot name in groups: /guard@relay_bot.
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	switch name {
	case CommandGuard, CommandSession:
		if len(fields) != 2 {
			return Command{}, false
		}
		switch fields[1] {
		case "on":
			return Command{Name: name, On: true}, true
		case "off":
			return Command{Name: name, On: false}, true
		}
		return Command{}, false
	case CommandClear, CommandStatus, CommandHelp:
		if len(fields) != 1 {
			return Command{}, false
		}
		return Command{Name: name}, true
	}
	return Command{}, false
}

// Execute applies cmd for key and returns the reply text.
func (p *Pipeline) Execute(ctx context.Context, key identity.Key, source, sender string, cmd Command) string {
	switch cmd.Name {
	case CommandGuard:
		p.SetGuard(ctx, key, cmd.On, source, sender)
		return GuardStatusText(cmd.On)
	case CommandSession:
		p.SetSession(ctx, key, cmd.On, source, sender)
		if cmd.On {
			return "🧠 Session memory: ENABLED"
		}
		return "🧹 Session memory: DISABLED (history cleared)"
	case CommandClear:
		p.ClearHistory(ctx, key, source, sender)
		return "🧹 History cleared."
	case CommandStatus:
		return p.StatusText(key)
	default:
		return helpText
	}
}

// GuardStatusText is the reply to a guard toggle.
func GuardStatusText(enabled bool) string {
	if enabled {
		return "🛡️ AI Guard: ENABLED"
	}
	return "⚠️ AI Guard: DISABLED"
}

// StatusText summarizes the identity's settings.
func (p *Pipeline) StatusText(key identity.Key) string {
	st := p.store.Get(key)
	session := "DISABLED"
	if st.SessionEnabled {
		session = fmt.Sprintf("ENABLED (%d/%d turns)", len(st.History), p.store.Limit())
	}
	return GuardStatusText(st.GuardEnabled) + "\n🧠 Session memory: " + session
}

// SetGuard toggles the gate for key, audits the change and notifies observers.
func (p *Pipeline) SetGuard(ctx context.Context, key identity.Key, enabled bool, source, sender string) {
	p.store.SetGuard(key, enabled)
	p.recordToggle(ctx, audit.KindGuardToggle, key, enabled, source, sender)
	p.publishStatus(ctx, key, source)
}

// SetSession toggles history recording for key. Disabling clears the history.
func (p *Pipeline) SetSession(ctx context.Context, key identity.Key, enabled bool, source, sender string) {
	p.store.SetSession(key, enabled)
	p.recordToggle(ctx, audit.KindSessionToggle, key, enabled, source, sender)
	p.publishStatus(ctx, key, source)
}

// ClearHistory empties key's history.
func (p *Pipeline) ClearHistory(ctx context.Context, key identity.Key, source, sender string) {
	p.store.Clear(key)
	fields := map[string]any{"identity": key.String(), "source": source}
	if sender != "" {
		fields["sender"] = sender
	}
	p.recorder.Record(audit.KindHistoryCleared, fields)
	p.publishStatus(ctx, key, source)
}

func (p *Pipeline) recordToggle(_ context.Context, kind string, key identity.Key, enabled bool, source, sender string) {
	fields := map[string]any{
		"identity": key.String(),
		"enabled":  enabled,
		"source":   source,
	}
	if sender != "" {
		fields["sender"] = sender
	}
	p.recorder.Record(kind, fields)
}

func (p *Pipeline) publishStatus(ctx context.Context, key identity.Key, source string) {
	st := p.store.Get(key)
	p.observer.OnEvent(ctx, event.New(event.TypeGuardStatus, source, key.String(), map[string]any{
		"guard_enabled":   st.GuardEnabled,
		"session_enabled": st.SessionEnabled,
		"history":         len(st.History),
	}))
}
