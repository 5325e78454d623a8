// Package executor defines the action-executor boundary for tether. The real
// model backend is opaque to the daemon; it only needs something that turns a
// client input into a proposed output with a confidence score.
package executor

import "context"

// Result holds one proposed action from the executor.
type Result struct {
	Output     string  `json:"output"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
}

// Executor produces proposed actions for client inputs.
type Executor interface {
	// Name returns the executor identifier.
	Name() string

	// Execute proposes an action for the given input.
	Execute(ctx context.Context, clientID, input string) (*Result, error)
}
