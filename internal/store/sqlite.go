package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/netdesk/internal/domain"
	"github.com/ashureev/netdesk/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteIncidents implements IncidentRepository using SQLite.
type SQLiteIncidents struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed incident repository.
func NewSQLite(dbPath string) (*SQLiteIncidents, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteIncidents{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteIncidents) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_to TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_user ON incidents(user_id);

	CREATE TABLE IF NOT EXISTS work_notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id TEXT NOT NULL REFERENCES incidents(id),
		note TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_work_notes_incident ON work_notes(incident_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry retries fn with exponential backoff on SQLite lock contention.
func (s *SQLiteIncidents) withRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		s.writeMu.Lock()
		err = fn()
		s.writeMu.Unlock()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms, 200ms
			slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries, err)
}

// Ping verifies database connectivity.
func (s *SQLiteIncidents) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteIncidents) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateIncident stores a new incident. The number is INC followed by a
// zero-padded sequence.
func (s *SQLiteIncidents) CreateIncident(ctx context.Context, inc *domain.Incident) error {
	now := time.Now()
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.Status == "" {
		inc.Status = domain.IncidentNew
	}
	inc.CreatedAt = now
	inc.UpdatedAt = now

	return s.withRetry(ctx, "create incident", func() error {
		var seq int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) + 1 FROM incidents`).Scan(&seq); err != nil {
			return fmt.Errorf("next incident number: %w", err)
		}
		inc.Number = fmt.Sprintf("INC%07d", seq)

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO incidents (id, number, title, description, user_id, status, assigned_to, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inc.ID, inc.Number, inc.Title, inc.Description, inc.UserID,
			string(inc.Status), inc.AssignedTo, now.Unix(), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert incident: %w", err)
		}
		return nil
	})
}

// GetIncident retrieves an incident by ID.
func (s *SQLiteIncidents) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, number, title, description, user_id, status, assigned_to, created_at, updated_at
		FROM incidents WHERE id = ?`, id)

	var inc domain.Incident
	var status string
	var createdAt, updatedAt int64
	err := row.Scan(&inc.ID, &inc.Number, &inc.Title, &inc.Description, &inc.UserID,
		&status, &inc.AssignedTo, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIncidentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan incident row: %w", err)
	}

	inc.Status = domain.IncidentStatus(status)
	inc.CreatedAt = time.Unix(createdAt, 0)
	inc.UpdatedAt = time.Unix(updatedAt, 0)
	return &inc, nil
}

// AddWorkNote attaches a note to an incident.
func (s *SQLiteIncidents) AddWorkNote(ctx context.Context, incidentID, note string) error {
	return s.withRetry(ctx, "add work note", func() error {
		now := time.Now().Unix()
		result, err := s.db.ExecContext(ctx,
			`UPDATE incidents SET updated_at = ? WHERE id = ?`, now, incidentID)
		if err != nil {
			return fmt.Errorf("touch incident: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrIncidentNotFound
		}

		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO work_notes (incident_id, note, created_at) VALUES (?, ?, ?)`,
			incidentID, note, now); err != nil {
			return fmt.Errorf("insert work note: %w", err)
		}
		return nil
	})
}

// ListWorkNotes returns the notes for an incident, oldest first.
func (s *SQLiteIncidents) ListWorkNotes(ctx context.Context, incidentID string) ([]domain.WorkNote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT incident_id, note, created_at FROM work_notes WHERE incident_id = ? ORDER BY id`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("query work notes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close work note rows", "error", closeErr)
		}
	}()

	var notes []domain.WorkNote
	for rows.Next() {
		var n domain.WorkNote
		var createdAt int64
		if err := rows.Scan(&n.IncidentID, &n.Note, &createdAt); err != nil {
			return nil, fmt.Errorf("scan work note row: %w", err)
		}
		n.CreatedAt = time.Unix(createdAt, 0)
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work notes: %w", err)
	}
	return notes, nil
}

// UpdateIncidentStatus changes the status and, if given, the assignee.
func (s *SQLiteIncidents) UpdateIncidentStatus(ctx context.Context, id string, status domain.IncidentStatus, assignedTo string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid incident status %q", status)
	}
	return s.withRetry(ctx, "update incident status", func() error {
		query := `UPDATE incidents SET status = ?, updated_at = ? WHERE id = ?`
		args := []any{string(status), time.Now().Unix(), id}
		if assignedTo != "" {
			query = `UPDATE incidents SET status = ?, assigned_to = ?, updated_at = ? WHERE id = ?`
			args = []any{string(status), assignedTo, time.Now().Unix(), id}
		}

		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update incident status: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrIncidentNotFound
		}
		return nil
	})
}
