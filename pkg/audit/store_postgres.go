package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/havenline/triage/pkg/contracts"
	"github.com/lib/pq"
)

// PostgresStore persists audit entries in Postgres, for deployments where
// compliance tooling queries the trail from outside the pipeline process.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore connects to Postgres with the given DSN and ensures
// the schema exists.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing database handle without migrating,
// for injection in tests.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		sequence BIGINT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		day DATE NOT NULL,
		payload JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_entries(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_day ON audit_entries(day);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append stores one entry.
func (s *PostgresStore) Append(ctx context.Context, entry *contracts.AuditEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, sequence, timestamp, event_type, severity, day, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID,
		entry.Sequence,
		entry.Timestamp.UTC(),
		string(entry.Type),
		string(entry.Severity),
		entry.Timestamp.UTC().Format("2006-01-02"),
		payload,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AppendBatch stores entries in one transaction.
func (s *PostgresStore) AppendBatch(ctx context.Context, entries []*contracts.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit batch: %w", err)
	}
	for _, entry := range entries {
		payload, err := json.Marshal(entry)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO audit_entries (id, sequence, timestamp, event_type, severity, day, payload)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			entry.ID,
			entry.Sequence,
			entry.Timestamp.UTC(),
			string(entry.Type),
			string(entry.Severity),
			entry.Timestamp.UTC().Format("2006-01-02"),
			payload,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert audit entry %s: %w", entry.ID, err)
		}
	}
	return tx.Commit()
}

// Get returns the entry decoded from its stored payload.
func (s *PostgresStore) Get(ctx context.Context, id string) (*contracts.AuditEntry, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM audit_entries WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	var entry contracts.AuditEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Scan visits entries in sequence order.
func (s *PostgresStore) Scan(ctx context.Context, fn func(*contracts.AuditEntry) bool) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM audit_entries ORDER BY sequence ASC`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		var entry contracts.AuditEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return err
		}
		if !fn(&entry) {
			return nil
		}
	}
	return rows.Err()
}

// Close closes the database.
func (s *PostgresStore) Close() error { return s.db.Close() }
