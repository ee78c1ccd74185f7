// Package sqlite is the SQLite-backed call store for single-instance
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/apexsec/voice-dispatch/internal/domain"
	"github.com/apexsec/voice-dispatch/internal/storage"
)

// Store is a SQLite implementation of storage.CallStore.
type Store struct {
	db *sql.DB
}

var _ storage.CallStore = (*Store)(nil)

// New opens (creating if needed) the database at dbPath and initializes the
// schema. WAL mode keeps concurrent call writers from serializing on fsync.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			call_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			caller_address TEXT NOT NULL,
			state TEXT NOT NULL,
			incident_id TEXT,
			end_reason TEXT,
			started_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			call_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			confidence REAL NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (call_id, seq),
			FOREIGN KEY (call_id) REFERENCES calls(call_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			call_id TEXT NOT NULL,
			type TEXT NOT NULL,
			detail TEXT,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (call_id) REFERENCES calls(call_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			incident_id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL,
			info TEXT NOT NULL,
			summary TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_session ON calls(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_state ON calls(state)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_call ON turns(call_id)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_call ON actions(call_id)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_call ON incidents(call_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) CreateCall(ctx context.Context, rec *storage.CallRecord) error {
	rec.UpdatedAt = time.Now()

	query := `INSERT INTO calls (call_id, session_id, caller_address, state, incident_id, end_reason, started_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.CallID, rec.SessionID, rec.CallerAddress, string(rec.State),
		rec.IncidentID, rec.EndReason, rec.StartedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

func (s *Store) UpdateCallState(ctx context.Context, callID string, state domain.CallState, endReason string) error {
	query := `UPDATE calls SET state = ?, end_reason = CASE WHEN ? != '' THEN ? ELSE end_reason END, updated_at = ?
	          WHERE call_id = ?`

	res, err := s.db.ExecContext(ctx, query, string(state), endReason, endReason, time.Now(), callID)
	if err != nil {
		return fmt.Errorf("failed to update call state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("call %s not found", callID)
	}

	return nil
}

func (s *Store) AppendTurn(ctx context.Context, callID string, turn domain.Turn) error {
	query := `INSERT INTO turns (call_id, seq, speaker, text, confidence, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		callID, turn.Seq, string(turn.Speaker), turn.Text, turn.Confidence, turn.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}

	return nil
}

func (s *Store) AppendAction(ctx context.Context, callID string, action domain.Action) error {
	query := `INSERT INTO actions (call_id, type, detail, created_at) VALUES (?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, callID, string(action.Type), action.Detail, action.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append action: %w", err)
	}

	return nil
}

func (s *Store) CreateIncident(ctx context.Context, rec *storage.IncidentRecord) error {
	rec.CreatedAt = time.Now()

	info, err := json.Marshal(rec.Info)
	if err != nil {
		return fmt.Errorf("failed to marshal extracted info: %w", err)
	}

	query := `INSERT INTO incidents (incident_id, call_id, info, summary, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, rec.IncidentID, rec.CallID, string(info), rec.Summary, rec.CreatedAt); err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}

	link := `UPDATE calls SET incident_id = ?, updated_at = ? WHERE call_id = ?`
	if _, err := s.db.ExecContext(ctx, link, rec.IncidentID, time.Now(), rec.CallID); err != nil {
		return fmt.Errorf("failed to link incident to call: %w", err)
	}

	return nil
}

func (s *Store) GetCall(ctx context.Context, callID string) (*storage.CallRecord, error) {
	query := `SELECT call_id, session_id, caller_address, state, incident_id, end_reason, started_at, updated_at
	          FROM calls WHERE call_id = ?`

	var rec storage.CallRecord
	var state string
	var incidentID, endReason sql.NullString

	err := s.db.QueryRowContext(ctx, query, callID).Scan(
		&rec.CallID, &rec.SessionID, &rec.CallerAddress, &state,
		&incidentID, &endReason, &rec.StartedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("call %s not found", callID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	rec.State = domain.CallState(state)
	rec.IncidentID = incidentID.String
	rec.EndReason = endReason.String
	return &rec, nil
}

func (s *Store) GetTurns(ctx context.Context, callID string) ([]domain.Turn, error) {
	query := `SELECT seq, speaker, text, confidence, created_at FROM turns WHERE call_id = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		var speaker string
		if err := rows.Scan(&turn.Seq, &speaker, &turn.Text, &turn.Confidence, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Speaker = domain.Speaker(speaker)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (s *Store) GetActions(ctx context.Context, callID string) ([]domain.Action, error) {
	query := `SELECT type, detail, created_at FROM actions WHERE call_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.Action
	for rows.Next() {
		var action domain.Action
		var actionType string
		var detail sql.NullString
		if err := rows.Scan(&actionType, &detail, &action.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		action.Type = domain.ActionType(actionType)
		action.Detail = detail.String
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
