package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/havenline/triage/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists audit entries in a local SQLite database. Entries
// are stored as their canonical JSON alongside the columns the recorder's
// indices key on.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) a SQLite-backed store at path. Use
// ":memory:" for an ephemeral database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an existing database handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		sequence INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		day TEXT NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_entries(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_day ON audit_entries(day);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append stores one entry.
func (s *SQLiteStore) Append(ctx context.Context, entry *contracts.AuditEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, sequence, timestamp, event_type, severity, day, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Sequence,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		string(entry.Type),
		string(entry.Severity),
		entry.Timestamp.UTC().Format("2006-01-02"),
		string(payload),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AppendBatch stores entries in one transaction.
func (s *SQLiteStore) AppendBatch(ctx context.Context, entries []*contracts.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO audit_entries (id, sequence, timestamp, event_type, severity, day, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, entry := range entries {
		payload, err := json.Marshal(entry)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			entry.ID,
			entry.Sequence,
			entry.Timestamp.UTC().Format(time.RFC3339Nano),
			string(entry.Type),
			string(entry.Severity),
			entry.Timestamp.UTC().Format("2006-01-02"),
			string(payload),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert audit entry %s: %w", entry.ID, err)
		}
	}
	return tx.Commit()
}

// Get returns the entry decoded from its stored payload.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*contracts.AuditEntry, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM audit_entries WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	var entry contracts.AuditEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Scan visits entries in sequence order.
func (s *SQLiteStore) Scan(ctx context.Context, fn func(*contracts.AuditEntry) bool) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM audit_entries ORDER BY sequence ASC`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		var entry contracts.AuditEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return err
		}
		if !fn(&entry) {
			return nil
		}
	}
	return rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
