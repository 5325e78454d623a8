package sessionstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fentz26/tether/internal/models"
)

// DB is the durable backend for sessions and decision records.
type DB struct {
	db *sql.DB
}

// OpenDB opens (creating if necessary) the tether SQLite database and runs
// migrations.
func OpenDB(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		client_id TEXT PRIMARY KEY,
		workspace_path TEXT,
		conversation_history TEXT NOT NULL,
		current_task TEXT,
		confidence_history TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_active_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		recommendation TEXT NOT NULL,
		confidence REAL NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at);
	CREATE INDEX IF NOT EXISTS idx_decisions_client_id ON decisions(client_id);
	`

	_, err := d.db.Exec(schema)
	return err
}

// SaveSession upserts one session.
func (d *DB) SaveSession(s *models.Session) error {
	history, err := json.Marshal(s.ConversationHistory)
	if err != nil {
		return fmt.Errorf("marshal conversation history: %w", err)
	}
	confidences, err := json.Marshal(s.ConfidenceHistory)
	if err != nil {
		return fmt.Errorf("marshal confidence history: %w", err)
	}

	_, err = d.db.Exec(
		`INSERT INTO sessions (client_id, workspace_path, conversation_history, current_task, confidence_history, created_at, last_active_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(client_id) DO UPDATE SET
			workspace_path = excluded.workspace_path,
			conversation_history = excluded.conversation_history,
			current_task = excluded.current_task,
			confidence_history = excluded.confidence_history,
			last_active_at = excluded.last_active_at`,
		s.ClientID, s.WorkspacePath, string(history), s.CurrentTask, string(confidences), s.CreatedAt, s.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// LoadSessions reads every persisted session.
func (d *DB) LoadSessions() ([]models.Session, error) {
	rows, err := d.db.Query(
		`SELECT client_id, workspace_path, conversation_history, current_task, confidence_history, created_at, last_active_at
		 FROM sessions ORDER BY last_active_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var s models.Session
		var history, confidences string
		var workspace, task sql.NullString
		if err := rows.Scan(&s.ClientID, &workspace, &history, &task, &confidences, &s.CreatedAt, &s.LastActiveAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if workspace.Valid {
			s.WorkspacePath = workspace.String
		}
		if task.Valid {
			s.CurrentTask = task.String
		}
		if err := json.Unmarshal([]byte(history), &s.ConversationHistory); err != nil {
			return nil, fmt.Errorf("decode conversation history for %s: %w", s.ClientID, err)
		}
		if err := json.Unmarshal([]byte(confidences), &s.ConfidenceHistory); err != nil {
			return nil, fmt.Errorf("decode confidence history for %s: %w", s.ClientID, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteSession removes one persisted session.
func (d *DB) DeleteSession(clientID string) error {
	_, err := d.db.Exec(`DELETE FROM sessions WHERE client_id = ?`, clientID)
	return err
}

// WriteDecision appends one decision record to the audit trail.
func (d *DB) WriteDecision(rec *models.DecisionRecord) error {
	_, err := d.db.Exec(
		`INSERT INTO decisions (id, client_id, action, inputs_hash, recommendation, confidence, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ClientID, rec.Action, rec.InputsHash, rec.Recommendation, rec.Confidence, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// DecisionsForClient returns the audit trail for one client, newest first.
func (d *DB) DecisionsForClient(clientID string) ([]models.DecisionRecord, error) {
	rows, err := d.db.Query(
		`SELECT id, client_id, action, inputs_hash, recommendation, confidence, timestamp
		 FROM decisions WHERE client_id = ? ORDER BY timestamp DESC LIMIT 100`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var records []models.DecisionRecord
	for rows.Next() {
		var rec models.DecisionRecord
		var ts time.Time
		if err := rows.Scan(&rec.ID, &rec.ClientID, &rec.Action, &rec.InputsHash, &rec.Recommendation, &rec.Confidence, &ts); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.Timestamp = ts
		records = append(records, rec)
	}
	return records, rows.Err()
}
