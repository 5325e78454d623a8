// Package echo provides a deterministic stand-in executor used until a real
// model backend is wired in.
package echo

import (
	"context"
	"fmt"
	"strings"

	"github.com/fentz26/tether/internal/executor"
)

// Executor echoes the input back as its proposed action. Confidence is a
// crude length heuristic so the decision tiers are all reachable in manual
// testing.
type Executor struct {
	model string
}

// New creates an echo executor.
func New() *Executor {
	return &Executor{model: "echo-1"}
}

// Name returns the executor identifier.
func (e *Executor) Name() string { return "echo" }

// Execute proposes echoing the input.
func (e *Executor) Execute(ctx context.Context, clientID, input string) (*executor.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return &executor.Result{
		Output:     fmt.Sprintf("echo: %s", input),
		Confidence: confidenceFor(input),
		Model:      e.model,
	}, nil
}

func confidenceFor(input string) float64 {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0.1
	}
	// Short inputs are treated as unambiguous commands, long ones as vaguer
	// requests.
	switch {
	case len(trimmed) <= 20:
		return 0.9
	case len(trimmed) <= 80:
		return 0.7
	case len(trimmed) <= 200:
		return 0.5
	default:
		return 0.3
	}
}
