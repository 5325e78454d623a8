// Package gateway provides the daemon side of the channel: the websocket
// endpoint clients pair with, and the HTTP surface external tooling uses to
// inspect sessions.
package gateway

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/fentz26/tether/internal/audit"
	"github.com/fentz26/tether/internal/decision"
	"github.com/fentz26/tether/internal/executor"
	"github.com/fentz26/tether/internal/models"
	"github.com/fentz26/tether/internal/sessionstore"
)

// Service wires the session store, decision engine, executor and audit trail
// behind the gateway's handlers.
type Service struct {
	store   *sessionstore.Store
	engine  *decision.Engine
	exec    executor.Executor
	auditor *audit.Writer
}

// NewService creates the gateway service.
func NewService(store *sessionstore.Store, engine *decision.Engine, exec executor.Executor, auditor *audit.Writer) *Service {
	return &Service{
		store:   store,
		engine:  engine,
		exec:    exec,
		auditor: auditor,
	}
}

// HandleEnvelope runs one inbound message through the full exchange:
// session lookup, action execution, decision assessment, audit. It always
// returns a response to send back; executor failures become error responses
// rather than dropped messages.
func (s *Service) HandleEnvelope(ctx context.Context, env models.Envelope) models.Response {
	session := s.store.GetOrCreate(env.ClientID)
	s.store.Touch(env.ClientID)

	if err := s.store.SetCurrentTask(env.ClientID, env.Content); err != nil {
		log.Printf("Failed to set current task for %s: %v", env.ClientID, err)
	}

	result, err := s.exec.Execute(ctx, env.ClientID, env.Content)
	if err != nil {
		return models.Response{
			Type:      "message",
			Status:    "error",
			Message:   "executor failed: " + err.Error(),
			Timestamp: time.Now().UTC(),
			ClientID:  env.ClientID,
		}
	}

	action := decision.ProposedAction{Input: env.Content, Output: result.Output}
	d, err := s.engine.Assess(session, action, result.Confidence)
	if err != nil {
		return models.Response{
			Type:      "message",
			Status:    "error",
			Message:   "assessment failed: " + err.Error(),
			Timestamp: time.Now().UTC(),
			ClientID:  env.ClientID,
		}
	}

	if _, err := s.auditor.Record(env.ClientID, env.Content, d); err != nil {
		log.Printf("Failed to record decision for %s: %v", env.ClientID, err)
	}
	if err := s.store.SetCurrentTask(env.ClientID, ""); err != nil {
		log.Printf("Failed to clear current task for %s: %v", env.ClientID, err)
	}

	confidence := d.Confidence
	return models.Response{
		Type:           "message",
		Status:         "success",
		Message:        result.Output,
		Confidence:     &confidence,
		Model:          result.Model,
		Recommendation: d.Recommendation,
		Timestamp:      time.Now().UTC(),
		ClientID:       env.ClientID,
	}
}

// ListSessions returns all active sessions.
func (s *Service) ListSessions() []models.Session {
	return s.store.List()
}

// GetSession returns one session's serialized state.
func (s *Service) GetSession(clientID string) (*models.Session, error) {
	session, err := s.store.Get(clientID)
	if err != nil {
		if errors.Is(err, sessionstore.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// DeleteSession removes a session by id.
func (s *Service) DeleteSession(clientID string) error {
	err := s.store.Delete(clientID)
	if errors.Is(err, sessionstore.ErrSessionNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// AuditTrail returns the decision records for one client.
func (s *Service) AuditTrail(clientID string) ([]models.DecisionRecord, error) {
	return s.auditor.ForClient(clientID)
}

// AverageConfidence exposes the session's confidence trend.
func (s *Service) AverageConfidence(clientID string) (float64, error) {
	session, err := s.GetSession(clientID)
	if err != nil {
		return 0, err
	}
	return decision.AverageConfidence(session), nil
}
