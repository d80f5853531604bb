// Package guard decides whether a prompt may be forwarded to the generation backend.
//
// The gate is fail-open: when the classifier cannot be reached or answers garbage, the
// prompt is allowed with a diagnostic reason.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/guardrelay/internal/audit"
)

// ErrGateUnavailable wraps every classifier failure.
var ErrGateUnavailable = errors.New("guard unavailable")

// Action is the gate outcome.
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
)

// Decision is the outcome of one evaluation. Action mirrors the classifier's action
// verbatim on success; blocking is decided case-insensitively.
type Decision struct {
	Action  Action         `json:"action"`
	Reasons []string       `json:"reasons,omitempty"`
	Raw     map[string]any `json:"raw,omitempty"`
	// Err is set when the classifier failed and the decision fell open.
	Err error `json:"-"`
}

// Blocked reports whether the prompt must not be forwarded.
func (d Decision) Blocked() bool {
	return strings.EqualFold(string(d.Action), string(ActionBlock))
}

// NeedsEvaluation reports whether a message must go through the gate. Messages carrying
// an image and messages without text bypass it.
func NeedsEvaluation(guardEnabled bool, text string, hasImage bool) bool {
	return guardEnabled && !hasImage && strings.TrimSpace(text) != ""
}

// Options configures a Gate.
type Options struct {
	Timeout  time.Duration
	Recorder audit.Recorder
	Logger   *slog.Logger
}

// Gate evaluates prompts with a classifier.
type Gate struct {
	classifier Classifier
	timeout    time.Duration
	recorder   audit.Recorder
	logger     *slog.Logger
}

// NewGate creates a gate. A nil classifier makes every evaluation fall open.
func NewGate(classifier Classifier, opts Options) *Gate {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	rec := opts.Recorder
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Gate{
		classifier: classifier,
		timeout:    opts.Timeout,
		recorder:   rec,
		logger:     log.With(slog.String("component", "guard")),
	}
}

// Configured reports whether a classifier is attached.
func (g *Gate) Configured() bool {
	return g.classifier != nil
}

type result struct {
	verdict Verdict
	err     error
}

// Evaluate classifies text. It never fails; see decide.
func (g *Gate) Evaluate(ctx context.Context, text string) Decision {
	d := decide(g.classify(ctx, text))

	fields := audit.Fields(ctx)
	fields["prompt"] = text
	fields["action"] = string(d.Action)
	fields["reasons"] = d.Reasons
	if d.Err != nil {
		fields["error"] = d.Err.Error()
		g.logger.Warn("guard unavailable, allowing prompt", slog.Any("error", d.Err))
	} else {
		fields["response"] = d.Raw
		g.logger.Debug("guard decision", slog.String("action", string(d.Action)), slog.Any("reasons", d.Reasons))
	}
	g.recorder.Record(audit.KindSecurityCheck, fields)
	return d
}

func (g *Gate) classify(ctx context.Context, text string) result {
	if g.classifier == nil {
		return result{err: errors.New("classifier not configured")}
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	v, err := g.classifier.Classify(ctx, text)
	return result{verdict: v, err: err}
}

// decide is the single place where a classifier failure turns into an allow.
func decide(r result) Decision {
	if r.err != nil {
		return Decision{
			Action:  ActionAllow,
			Reasons: []string{"guard unavailable: " + r.err.Error()},
			Err:     fmt.Errorf("%w: %w", ErrGateUnavailable, r.err),
		}
	}
	action := Action(r.verdict.Action)
	if action == "" {
		action = ActionAllow
	}
	return Decision{
		Action:  action,
		Reasons: r.verdict.Reasons,
		Raw:     r.verdict.Raw,
	}
}
