// Package models defines the core domain types for tether.
package models

import (
	"fmt"
	"time"
)

// Recommendation is an escalation tier produced by the decision engine,
// ordered by increasing need for human involvement.
type Recommendation string

const (
	RecommendProceed      Recommendation = "proceed_autonomously"
	RecommendReview       Recommendation = "human_review_suggested"
	RecommendIntervention Recommendation = "human_intervention_required"
	RecommendEscalate     Recommendation = "stop_and_escalate"
)

// Priority indicates delivery priority of a wire message.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ConnectionDescriptor identifies the daemon endpoint a client pairs with.
// Immutable once parsed; replaced wholesale on re-pairing.
type ConnectionDescriptor struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Path       string `json:"path"`
	ServerName string `json:"server_name,omitempty"`
	Network    string `json:"network,omitempty"`
	Token      string `json:"token,omitempty"`
}

// URL derives the websocket URL for this descriptor.
func (d ConnectionDescriptor) URL() string {
	return fmt.Sprintf("ws://%s:%d%s", d.Host, d.Port, d.Path)
}

// Exchange is one input/output round trip with the confidence the executor
// reported for its output.
type Exchange struct {
	Input      string  `json:"input"`
	Output     string  `json:"output"`
	Confidence float64 `json:"confidence"`
}

// Session is the durable conversational record for one paired client.
// ConversationHistory and ConfidenceHistory always have equal length.
type Session struct {
	ClientID            string     `json:"client_id"`
	WorkspacePath       string     `json:"workspace_path,omitempty"`
	ConversationHistory []Exchange `json:"conversation_history"`
	CurrentTask         string     `json:"current_task,omitempty"`
	ConfidenceHistory   []float64  `json:"confidence_history"`
	CreatedAt           time.Time  `json:"created_at"`
	LastActiveAt        time.Time  `json:"last_active_at"`
}

// Decision is the decision engine's classification of one proposed action.
type Decision struct {
	Confidence     float64        `json:"confidence"`
	Recommendation Recommendation `json:"recommendation"`
	Reasoning      string         `json:"reasoning"`
}

// Envelope is the wire message a client sends over the channel.
type Envelope struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ClientID  string    `json:"client_id"`
	Priority  Priority  `json:"priority"`
}

// Response is the wire message the daemon sends back.
type Response struct {
	Type           string         `json:"type"`
	Status         string         `json:"status"`
	Message        string         `json:"message"`
	Confidence     *float64       `json:"confidence,omitempty"`
	Model          string         `json:"model,omitempty"`
	Recommendation Recommendation `json:"recommendation,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	ClientID       string         `json:"client_id,omitempty"`
}

// DecisionRecord is one persisted audit entry for an assessed action.
type DecisionRecord struct {
	ID             string         `json:"id"`
	ClientID       string         `json:"client_id"`
	Action         string         `json:"action"`
	InputsHash     string         `json:"inputs_hash"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	Timestamp      time.Time      `json:"timestamp"`
}
