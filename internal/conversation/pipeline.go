// Package conversation runs one inbound message through the safety gate and the intent
// router and keeps per-identity history in step with the answer.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/memohai/guardrelay/internal/audit"
	"github.com/memohai/guardrelay/internal/chat"
	"github.com/memohai/guardrelay/internal/event"
	"github.com/memohai/guardrelay/internal/guard"
	"github.com/memohai/guardrelay/internal/identity"
	"github.com/memohai/guardrelay/internal/intent"
)

// User-facing replies.
const (
	BlockedMessage    = "🚫 Blocked by Trend Vision One AI Guard."
	WebBlockedMessage = "🚫 Security Violation: Blocked by Trend Vision One AI Guard."
	ErrorMessage      = "❌ Error processing request."
)

// History placeholders for turns without text.
const (
	PlaceholderImage          = "[image]"
	PlaceholderGeneratedImage = "[generated image]"
)

// WebChannel is the dashboard channel name.
const WebChannel = "web"

// ErrEmptyEnvelope rejects a message with neither text nor image.
var ErrEmptyEnvelope = errors.New("message has neither text nor image")

// Inbound is one normalized message from any channel.
type Inbound struct {
	Identity identity.Key
	// Channel selects channel-specific wording. Empty falls back to Identity.Channel.
	Channel string
	// Sender is the human-readable sender reference used in audit entries.
	Sender string
	Text   string
	Image  *chat.Image
	// OnPendingImage lets the channel send an interim notice before image synthesis.
	OnPendingImage intent.PendingFunc
}

func (in Inbound) channel() string {
	if in.Channel != "" {
		return in.Channel
	}
	return in.Identity.Channel
}

// Outbound is the reply.
type Outbound struct {
	Text              string      `json:"text"`
	Image             *chat.Image `json:"image,omitempty"`
	IsImageGeneration bool        `json:"is_image_generation"`
	Blocked           bool        `json:"blocked"`
	Reasons           []string    `json:"reasons,omitempty"`
}

// Gate screens prompts.
type Gate interface {
	Evaluate(ctx context.Context, text string) guard.Decision
}

// Router answers prompts.
type Router interface {
	Route(ctx context.Context, req intent.Request) (intent.Result, error)
}

// Options configures a Pipeline.
type Options struct {
	Recorder audit.Recorder
	Observer event.Observer
	Logger   *slog.Logger
}

// Pipeline processes inbound messages.
type Pipeline struct {
	store    *identity.Store
	gate     Gate
	router   Router
	recorder audit.Recorder
	observer event.Observer
	logger   *slog.Logger
}

func New(store *identity.Store, gate Gate, router Router, opts Options) *Pipeline {
	if opts.Recorder == nil {
		opts.Recorder = audit.Nop{}
	}
	if opts.Observer == nil {
		opts.Observer = event.Nop{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:    store,
		gate:     gate,
		router:   router,
		recorder: opts.Recorder,
		observer: opts.Observer,
		logger:   log.With(slog.String("component", "pipeline")),
	}
}

// Store exposes the identity store for command handling and status views.
func (p *Pipeline) Store() *identity.Store {
	return p.store
}

// BlockedMessageFor returns the block notice worded for channel.
func BlockedMessageFor(channel string) string {
	if channel == WebChannel {
		return WebBlockedMessage
	}
	return BlockedMessage
}

// Process handles one message. Messages from the same identity are processed one at a
// time, in arrival order at the lock. Only generation failures are returned.
func (p *Pipeline) Process(ctx context.Context, in Inbound) (Outbound, error) {
	hasImage := in.Image != nil
	if strings.TrimSpace(in.Text) == "" && !hasImage {
		return Outbound{}, ErrEmptyEnvelope
	}

	release := p.store.Acquire(in.Identity)
	defer release()

	key := in.Identity.String()
	ch := in.channel()
	base := map[string]any{"identity": key, "channel": ch}
	if in.Sender != "" {
		base["sender"] = in.Sender
	}
	ctx = audit.WithFields(ctx, base)

	state := p.store.Get(in.Identity)
	p.record(ctx, audit.KindMessageReceived, map[string]any{
		"prompt":    in.Text,
		"has_image": hasImage,
	})

	decision := guard.Decision{Action: guard.ActionAllow}
	if guard.NeedsEvaluation(state.GuardEnabled, in.Text, hasImage) {
		decision = p.gate.Evaluate(ctx, in.Text)
		if decision.Blocked() {
			p.record(ctx, audit.KindMessageBlocked, map[string]any{
				"prompt":  in.Text,
				"reasons": decision.Reasons,
			})
			p.observer.OnEvent(ctx, event.New(event.TypeBlocked, ch, key, map[string]any{
				"text":    in.Text,
				"action":  string(decision.Action),
				"reasons": decision.Reasons,
				"raw":     decision.Raw,
			}))
			return Outbound{Text: BlockedMessageFor(ch), Blocked: true, Reasons: decision.Reasons}, nil
		}
	}

	p.observer.OnEvent(ctx, event.New(event.TypePassed, ch, key, map[string]any{
		"text":      in.Text,
		"has_image": hasImage,
		"guarded":   state.GuardEnabled && !hasImage,
		"action":    string(decision.Action),
		"reasons":   decision.Reasons,
		"raw":       decision.Raw,
	}))

	res, err := p.router.Route(ctx, intent.Request{
		Prompt:  in.Text,
		Image:   in.Image,
		History: p.store.HistoryForGeneration(in.Identity),
		OnPendingImage: func(ctx context.Context) error {
			p.observer.OnEvent(ctx, event.New(event.TypePendingImage, ch, key, map[string]any{"text": in.Text}))
			if in.OnPendingImage != nil {
				return in.OnPendingImage(ctx)
			}
			return nil
		},
	})
	if err != nil {
		fields := map[string]any{"prompt": in.Text, "error": err.Error()}
		var ge *intent.GenerationError
		if errors.As(err, &ge) {
			fields["route"] = ge.Route
		}
		p.record(ctx, audit.KindGenerationFailed, fields)
		p.logger.Error("generation failed", slog.String("identity", key), slog.Any("error", err))
		return Outbound{}, err
	}

	userText := in.Text
	if strings.TrimSpace(userText) == "" {
		userText = PlaceholderImage
	}
	modelText := res.Text
	if strings.TrimSpace(modelText) == "" && res.Image != nil {
		modelText = PlaceholderGeneratedImage
	}
	p.store.AppendTurn(in.Identity, identity.RoleUser, userText)
	p.store.AppendTurn(in.Identity, identity.RoleModel, modelText)

	return Outbound{
		Text:              res.Text,
		Image:             res.Image,
		IsImageGeneration: res.IsImageGeneration,
	}, nil
}

// Respond is Process for channel callers: any failure becomes ErrorMessage.
func (p *Pipeline) Respond(ctx context.Context, in Inbound) Outbound {
	out, err := p.Process(ctx, in)
	if err != nil {
		if !errors.Is(err, intent.ErrGeneration) {
			p.logger.Warn("message rejected", slog.String("identity", in.Identity.String()), slog.Any("error", err))
		}
		return Outbound{Text: ErrorMessage}
	}
	return out
}

func (p *Pipeline) record(ctx context.Context, kind string, fields map[string]any) {
	merged := audit.Fields(ctx)
	for k, v := range fields {
		merged[k] = v
	}
	p.recorder.Record(kind, merged)
}
