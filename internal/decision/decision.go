// Package decision classifies backend-proposed actions into escalation tiers
// based on the confidence the action executor reported.
package decision

import (
	"fmt"

	"github.com/fentz26/tether/internal/models"
)

// Config holds the classification thresholds. Each is an inclusive lower
// bound, evaluated in descending order, so boundary values classify into the
// higher tier. Thresholds are configuration to allow per-deployment tuning.
type Config struct {
	ProceedThreshold      float64
	ReviewThreshold       float64
	InterventionThreshold float64
	// Anything below InterventionThreshold is stop_and_escalate.
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() *Config {
	return &Config{
		ProceedThreshold:      0.8,
		ReviewThreshold:       0.6,
		InterventionThreshold: 0.4,
	}
}

// Recorder appends an exchange and its confidence to a session's histories.
// The session store satisfies this.
type Recorder interface {
	RecordExchange(clientID, input, output string, confidence float64) error
}

// ProposedAction is the executor's proposed response to one client input.
type ProposedAction struct {
	Input  string
	Output string
}

// Engine is a stateless classifier over the session's accumulating history.
// It performs no I/O and no retries; acting on the recommendation is the
// caller's job.
type Engine struct {
	cfg      *Config
	recorder Recorder
}

// New creates an Engine. Pass a nil config for defaults.
func New(cfg *Config, recorder Recorder) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg, recorder: recorder}
}

// Assess classifies a proposed action. The raw confidence is clamped to
// [0,1] rather than rejected, then appended to the session's confidence
// history through the session store.
func (e *Engine) Assess(session *models.Session, action ProposedAction, rawConfidence float64) (models.Decision, error) {
	confidence := clamp(rawConfidence)
	recommendation := e.classify(confidence)

	if err := e.recorder.RecordExchange(session.ClientID, action.Input, action.Output, confidence); err != nil {
		return models.Decision{}, fmt.Errorf("record exchange: %w", err)
	}

	return models.Decision{
		Confidence:     confidence,
		Recommendation: recommendation,
		Reasoning:      e.reasoning(confidence, recommendation),
	}, nil
}

func (e *Engine) classify(confidence float64) models.Recommendation {
	switch {
	case confidence >= e.cfg.ProceedThreshold:
		return models.RecommendProceed
	case confidence >= e.cfg.ReviewThreshold:
		return models.RecommendReview
	case confidence >= e.cfg.InterventionThreshold:
		return models.RecommendIntervention
	default:
		return models.RecommendEscalate
	}
}

func (e *Engine) reasoning(confidence float64, rec models.Recommendation) string {
	switch rec {
	case models.RecommendProceed:
		return fmt.Sprintf("confidence %.2f meets the autonomous threshold %.2f", confidence, e.cfg.ProceedThreshold)
	case models.RecommendReview:
		return fmt.Sprintf("confidence %.2f warrants a human review before relying on the result", confidence)
	case models.RecommendIntervention:
		return fmt.Sprintf("confidence %.2f is too low to act without explicit approval", confidence)
	default:
		return fmt.Sprintf("confidence %.2f is below the intervention threshold %.2f; stopping", confidence, e.cfg.InterventionThreshold)
	}
}

// AverageConfidence returns the arithmetic mean of the session's confidence
// history, for trend display. An empty history averages to zero.
func AverageConfidence(session *models.Session) float64 {
	if len(session.ConfidenceHistory) == 0 {
		return 0
	}
	var sum float64
	for _, c := range session.ConfidenceHistory {
		sum += c
	}
	return sum / float64(len(session.ConfidenceHistory))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
