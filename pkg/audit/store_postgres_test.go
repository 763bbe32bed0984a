package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenline/triage/pkg/contracts"
)

func TestPostgresAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := NewPostgresStore(db)

	entry := sqliteEntry("e1", 1)
	mock.ExpectExec("INSERT INTO audit_entries").
		WithArgs(entry.ID, entry.Sequence, entry.Timestamp.UTC(),
			string(entry.Type), string(entry.Severity), "2026-03-14", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Append(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchIsTransactional(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_entries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_entries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	batch := []*contracts.AuditEntry{sqliteEntry("e1", 1), sqliteEntry("e2", 2)}
	require.NoError(t, s.AppendBatch(context.Background(), batch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_entries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_entries").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	batch := []*contracts.AuditEntry{sqliteEntry("e1", 1), sqliteEntry("e2", 2)}
	assert.Error(t, s.AppendBatch(context.Background(), batch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetDecodesPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := NewPostgresStore(db)

	payload := `{"id":"e1","sequence":1,"timestamp":"2026-03-14T10:00:00Z",` +
		`"type":"moderation_analysis","severity":"LOW","content_hash":"sha256:abc",` +
		`"timings":{"processing_time_ns":0},` +
		`"compliance":{"data_class":"sensitive","retention_policy":"7y","privacy_level":"hashed"},` +
		`"prev_hash":"genesis","entry_hash":"sha256:def"}`
	mock.ExpectQuery("SELECT payload FROM audit_entries").
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(payload)))

	got, err := s.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, contracts.AuditModerationAnalysis, got.Type)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), got.Timestamp)
}

func TestPostgresGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := NewPostgresStore(db)

	mock.ExpectQuery("SELECT payload FROM audit_entries").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	_, err = s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}
