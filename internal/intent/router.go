// Package intent picks how a message is answered: image analysis, image generation or
// plain text conversation.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/memohai/guardrelay/internal/audit"
	"github.com/memohai/guardrelay/internal/chat"
	"github.com/memohai/guardrelay/internal/identity"
)

// Route names.
const (
	RouteImageAnalysis   = "image_analysis"
	RouteImageGeneration = "image_generation"
	RouteText            = "text"
)

var (
	// ErrClassification marks a failed intent probe. It never leaves the router.
	ErrClassification = errors.New("intent classification failed")
	// ErrGeneration matches every *GenerationError.
	ErrGeneration = errors.New("generation failed")
)

// GenerationError is a failed generation call on the chosen route.
type GenerationError struct {
	Route string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s route: %v", e.Route, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// PendingFunc is told that an image is about to be synthesized. Its error is logged and
// otherwise ignored.
type PendingFunc func(ctx context.Context) error

// Request is one routing call. A nil History means none is sent.
type Request struct {
	Prompt         string
	Image          *chat.Image
	History        []identity.Turn
	OnPendingImage PendingFunc
}

// Result is the routed answer.
type Result struct {
	Text              string
	Image             *chat.Image
	IsImageGeneration bool
	Route             string
}

// Options configures a Router.
type Options struct {
	TextModel    string
	ImageModel   string
	Timeout      time.Duration
	ImageTimeout time.Duration
	ProbeTimeout time.Duration
	Recorder     audit.Recorder
	Logger       *slog.Logger
}

// Router dispatches requests to the generation backend.
type Router struct {
	backend chat.Backend
	opts    Options
	logger  *slog.Logger
}

func NewRouter(backend chat.Backend, opts Options) *Router {
	if opts.Recorder == nil {
		opts.Recorder = audit.Nop{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		backend: backend,
		opts:    opts,
		logger:  log.With(slog.String("component", "intent")),
	}
}

// Route answers req. Only generation failures are returned, as *GenerationError.
func (r *Router) Route(ctx context.Context, req Request) (Result, error) {
	if req.Image != nil {
		return r.analyzeImage(ctx, req)
	}
	wantsImage, err := r.probe(ctx, req.Prompt)
	if err != nil {
		r.logger.Warn("intent probe failed, using text route", slog.Any("error", err))
		fields := audit.Fields(ctx)
		fields["prompt"] = req.Prompt
		fields["error"] = err.Error()
		r.opts.Recorder.Record(audit.KindIntentProbeFailed, fields)
	}
	if wantsImage {
		return r.generateImage(ctx, req)
	}
	return r.converse(ctx, req)
}

func (r *Router) analyzeImage(ctx context.Context, req Request) (Result, error) {
	parts := []chat.Part{{Image: req.Image}}
	if strings.TrimSpace(req.Prompt) != "" {
		parts = append(parts, chat.Part{Text: req.Prompt})
	}
	turns := append(historyTurns(req.History), chat.Turn{Role: chat.RoleUser, Parts: parts})

	res, err := r.call(ctx, r.opts.Timeout, chat.Request{Model: r.opts.TextModel, Turns: turns})
	if err == nil && res.Text() == "" {
		err = chat.ErrEmptyResponse
	}
	if err != nil {
		return Result{}, &GenerationError{Route: RouteImageAnalysis, Err: err}
	}
	return Result{Text: res.Text(), Route: RouteImageAnalysis}, nil
}

func (r *Router) generateImage(ctx context.Context, req Request) (Result, error) {
	r.notifyPending(ctx, req.OnPendingImage)

	res, err := r.call(ctx, r.opts.ImageTimeout, chat.Request{
		Model:     r.opts.ImageModel,
		Turns:     []chat.Turn{chat.TextTurn(chat.RoleUser, req.Prompt)},
		WantImage: true,
	})
	if err == nil && res.Text() == "" && res.FirstImage() == nil {
		err = chat.ErrEmptyResponse
	}
	if err != nil {
		return Result{}, &GenerationError{Route: RouteImageGeneration, Err: err}
	}
	return Result{
		Text:              strings.TrimSpace(res.Text()),
		Image:             res.FirstImage(),
		IsImageGeneration: true,
		Route:             RouteImageGeneration,
	}, nil
}

func (r *Router) converse(ctx context.Context, req Request) (Result, error) {
	turns := append(historyTurns(req.History), chat.TextTurn(chat.RoleUser, req.Prompt))
	res, err := r.call(ctx, r.opts.Timeout, chat.Request{Model: r.opts.TextModel, Turns: turns})
	if err == nil && res.Text() == "" {
		err = chat.ErrEmptyResponse
	}
	if err != nil {
		return Result{}, &GenerationError{Route: RouteText, Err: err}
	}
	return Result{Text: res.Text(), Route: RouteText}, nil
}

func (r *Router) call(ctx context.Context, timeout time.Duration, req chat.Request) (chat.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return r.backend.Generate(ctx, req)
}

func (r *Router) notifyPending(ctx context.Context, fn PendingFunc) {
	if fn == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("pending image notifier panicked", slog.Any("panic", v))
		}
	}()
	if err := fn(ctx); err != nil {
		r.logger.Warn("pending image notifier failed", slog.Any("error", err))
	}
}

// historyTurns maps stored turns to backend turns, oldest first.
func historyTurns(history []identity.Turn) []chat.Turn {
	if history == nil {
		return nil
	}
	out := make([]chat.Turn, 0, len(history)+1)
	for _, t := range history {
		role := chat.RoleUser
		if t.Role == identity.RoleModel {
			role = chat.RoleModel
		}
		out = append(out, chat.TextTurn(role, t.Text))
	}
	return out
}

// normalizeAnswer keeps only the letters of the probe answer, upper-cased.
func normalizeAnswer(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return unicode.ToUpper(r)
		}
		return -1
	}, s)
}
