// Package guardchecker reports whether the safety classifier and the generation
// backend have credentials.
package guardchecker

import (
	"context"

	"github.com/memohai/guardrelay/internal/healthcheck"
)

// Configurable reports whether a dependency has what it needs to make calls.
type Configurable interface {
	Configured() bool
}

// Checker reports on the classifier and the generation backend.
type Checker struct {
	gate    Configurable
	backend Configurable
}

func NewChecker(gate, backend Configurable) *Checker {
	return &Checker{gate: gate, backend: backend}
}

func (c *Checker) ListChecks(context.Context) []healthcheck.CheckResult {
	guard := healthcheck.CheckResult{
		ID:      "guard.classifier",
		Type:    "guard.classifier",
		Status:  healthcheck.StatusOK,
		Summary: "AI Guard classifier is configured.",
	}
	if c.gate == nil || !c.gate.Configured() {
		// The gate fails open, so every prompt passes unchecked.
		guard.Status = healthcheck.StatusWarn
		guard.Summary = "AI Guard classifier has no API key; prompts pass unchecked."
	}

	backend := healthcheck.CheckResult{
		ID:      "generation.backend",
		Type:    "generation.backend",
		Status:  healthcheck.StatusOK,
		Summary: "Generation backend is configured.",
	}
	if c.backend == nil || !c.backend.Configured() {
		backend.Status = healthcheck.StatusError
		backend.Summary = "Generation backend has no API key."
	}
	return []healthcheck.CheckResult{guard, backend}
}
