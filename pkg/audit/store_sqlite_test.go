package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenline/triage/pkg/contracts"
)

func sqliteEntry(id string, seq uint64) *contracts.AuditEntry {
	return &contracts.AuditEntry{
		ID:          id,
		Sequence:    seq,
		Timestamp:   time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Type:        contracts.AuditModerationAnalysis,
		Severity:    contracts.SeverityLow,
		ContentHash: "sha256:abc",
		Compliance: contracts.ComplianceMeta{
			Regulations:     []string{"GDPR"},
			DataClass:       "sensitive",
			RetentionPolicy: "7y",
			PrivacyLevel:    "hashed",
		},
		PrevHash:  "genesis",
		EntryHash: "sha256:def",
	}
}

func TestSQLiteAppendGetRoundTrip(t *testing.T) {
	s, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	want := sqliteEntry("e1", 1)
	require.NoError(t, s.Append(ctx, want))

	got, err := s.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLiteDuplicateRejected(t *testing.T) {
	s, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, sqliteEntry("e1", 1)))
	assert.ErrorIs(t, s.Append(ctx, sqliteEntry("e1", 2)), ErrDuplicateEntry)
}

func TestSQLiteBatchAndScanOrder(t *testing.T) {
	s, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	batch := []*contracts.AuditEntry{
		sqliteEntry("e1", 1),
		sqliteEntry("e2", 2),
		sqliteEntry("e3", 3),
	}
	require.NoError(t, s.AppendBatch(ctx, batch))

	var ids []string
	require.NoError(t, s.Scan(ctx, func(e *contracts.AuditEntry) bool {
		ids = append(ids, e.ID)
		return true
	}))
	assert.Equal(t, []string{"e1", "e2", "e3"}, ids)
}

func TestSQLiteGetMissing(t *testing.T) {
	s, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestRecorderOverSQLite(t *testing.T) {
	s, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	r := NewRecorder(s, nil, WithFlushInterval(time.Hour))
	defer func() { _ = r.Close() }()
	ctx := context.Background()

	receipt := r.Record(ctx, moderationEvent(contracts.SeverityEmergency))
	entry, err := r.GetEntry(ctx, receipt.AuditID)
	require.NoError(t, err)
	assert.Equal(t, contracts.SeverityEmergency, entry.Severity)

	n, err := r.VerifyChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
