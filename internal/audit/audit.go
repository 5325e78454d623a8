// Package audit records every decision-engine assessment for later
// inspection.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/tether/internal/models"
	"github.com/fentz26/tether/internal/sessionstore"
)

// Writer appends decision records to the audit trail.
type Writer struct {
	db *sessionstore.DB
}

// NewWriter creates an audit writer over the shared database.
func NewWriter(db *sessionstore.DB) *Writer {
	return &Writer{db: db}
}

// Record writes one audit entry for an assessed action.
func (w *Writer) Record(clientID, action string, d models.Decision) (*models.DecisionRecord, error) {
	rec := &models.DecisionRecord{
		ID:             uuid.New().String(),
		ClientID:       clientID,
		Action:         action,
		InputsHash:     hashInputs(map[string]string{"client_id": clientID, "action": action}),
		Recommendation: d.Recommendation,
		Confidence:     d.Confidence,
		Timestamp:      time.Now().UTC(),
	}
	if err := w.db.WriteDecision(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ForClient returns the audit trail for one client, newest first.
func (w *Writer) ForClient(clientID string) ([]models.DecisionRecord, error) {
	return w.db.DecisionsForClient(clientID)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
