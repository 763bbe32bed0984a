package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenline/triage/pkg/contracts"
)

func newTestRecorder(t *testing.T, opts ...RecorderOption) (*Recorder, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	// A long flush interval keeps the background drain out of the way so
	// tests control flushing explicitly.
	base := []RecorderOption{WithFlushInterval(time.Hour)}
	r := NewRecorder(store, nil, append(base, opts...)...)
	t.Cleanup(func() { _ = r.Close() })
	return r, store
}

func moderationEvent(severity contracts.AuditSeverity) contracts.AuditEvent {
	return contracts.AuditEvent{
		Type:     contracts.AuditModerationAnalysis,
		Severity: severity,
		Content:  "some message content",
		Analysis: &contracts.AnalysisSnapshot{
			ResultID:        "res-1",
			RiskScore:       42,
			ConfidenceScore: 80,
			CrisisLevel:     contracts.CrisisLow,
			Action:          contracts.ActionAllow,
		},
		Timings: contracts.Timings{ProcessingTime: 3 * time.Millisecond},
	}
}

func TestLowSeverityEventsBuffer(t *testing.T) {
	r, store := newTestRecorder(t)

	receipt := r.Record(context.Background(), moderationEvent(contracts.SeverityLow))
	assert.True(t, receipt.Buffered)
	assert.NotEmpty(t, receipt.AuditID)
	assert.Equal(t, 0, store.Len(), "buffered write must not hit the store yet")
	assert.Equal(t, 1, r.PendingWrites())

	r.Flush(context.Background())
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 0, r.PendingWrites())
}

func TestCriticalSeverityBypassesBuffer(t *testing.T) {
	r, store := newTestRecorder(t)

	// Force a large pending buffer first; the critical write must not
	// wait behind it.
	for i := 0; i < 50; i++ {
		r.Record(context.Background(), moderationEvent(contracts.SeverityLow))
	}
	require.Equal(t, 0, store.Len())

	receipt := r.Record(context.Background(), moderationEvent(contracts.SeverityCritical))
	assert.False(t, receipt.Buffered)
	assert.Equal(t, 1, store.Len(), "critical event must be durable immediately")

	receipt = r.Record(context.Background(), moderationEvent(contracts.SeverityEmergency))
	assert.False(t, receipt.Buffered)
	assert.Equal(t, 2, store.Len())
}

func TestHumanOversightAlwaysFlushesImmediately(t *testing.T) {
	r, store := newTestRecorder(t)

	receipt := r.Record(context.Background(), contracts.AuditEvent{
		Type:     contracts.AuditHumanOversight,
		Severity: contracts.SeverityLow, // even at low severity
		Oversight: &contracts.OversightSnapshot{
			CaseID:   "case-1",
			Priority: contracts.PriorityMedium,
			Decision: contracts.DecisionApproveAI,
		},
	})
	assert.False(t, receipt.Buffered)
	assert.Equal(t, 1, store.Len())
}

func TestBufferFullTriggersFlush(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, nil, WithMaxBuffer(8), WithFlushInterval(time.Hour))
	defer func() { _ = r.Close() }()

	for i := 0; i < 8; i++ {
		r.Record(context.Background(), moderationEvent(contracts.SeverityLow))
	}
	assert.Eventually(t, func() bool { return store.Len() == 8 },
		2*time.Second, 10*time.Millisecond, "full buffer should drain in the background")
}

func TestEntriesAreImmutableAndByteIdenticalOnRepeatedReads(t *testing.T) {
	r, store := newTestRecorder(t)

	receipt := r.Record(context.Background(), moderationEvent(contracts.SeverityCritical))
	first, ok := store.GetRaw(receipt.AuditID)
	require.True(t, ok)
	second, ok := store.GetRaw(receipt.AuditID)
	require.True(t, ok)
	assert.Equal(t, first, second)

	// Mutating a returned entry must not affect the stored content.
	entry, err := r.GetEntry(context.Background(), receipt.AuditID)
	require.NoError(t, err)
	entry.Severity = contracts.SeverityLow
	again, err := r.GetEntry(context.Background(), receipt.AuditID)
	require.NoError(t, err)
	assert.Equal(t, contracts.SeverityCritical, again.Severity)
}

func TestDuplicateAppendRejected(t *testing.T) {
	store := NewMemoryStore()
	entry := &contracts.AuditEntry{ID: "dup", Timestamp: time.Now()}
	require.NoError(t, store.Append(context.Background(), entry))
	assert.ErrorIs(t, store.Append(context.Background(), entry), ErrDuplicateEntry)
}

func TestContentIsHashedNeverStored(t *testing.T) {
	r, _ := newTestRecorder(t)

	ev := moderationEvent(contracts.SeverityCritical)
	ev.Content = "I am struggling and need to talk"
	ev.SessionRef = "session-abc"
	ev.UserRef = "user-123"
	receipt := r.Record(context.Background(), ev)

	entry, err := r.GetEntry(context.Background(), receipt.AuditID)
	require.NoError(t, err)
	assert.NotContains(t, entry.ContentHash, "struggling")
	assert.True(t, len(entry.ContentHash) > len("sha256:"))
	assert.NotEqual(t, "session-abc", entry.SessionHash)
	assert.NotEqual(t, "user-123", entry.UserHash)
	assert.NotEmpty(t, entry.SessionHash)
}

func TestHashChainVerifies(t *testing.T) {
	r, _ := newTestRecorder(t)

	for i := 0; i < 5; i++ {
		r.Record(context.Background(), moderationEvent(contracts.SeverityLow))
	}
	r.Record(context.Background(), moderationEvent(contracts.SeverityEmergency))
	r.Flush(context.Background())

	n, err := r.VerifyChain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestStoreFailureDoesNotPropagate(t *testing.T) {
	r := NewRecorder(failingStore{}, nil, WithFlushInterval(time.Hour))
	defer func() { _ = r.Close() }()

	// Both paths swallow store errors; the caller still gets a receipt.
	receipt := r.Record(context.Background(), moderationEvent(contracts.SeverityEmergency))
	assert.NotEmpty(t, receipt.AuditID)

	receipt = r.Record(context.Background(), moderationEvent(contracts.SeverityLow))
	assert.NotEmpty(t, receipt.AuditID)
	r.Flush(context.Background())
}

func TestComplianceDefaultsApplied(t *testing.T) {
	r, _ := newTestRecorder(t)

	receipt := r.Record(context.Background(), moderationEvent(contracts.SeverityCritical))
	entry, err := r.GetEntry(context.Background(), receipt.AuditID)
	require.NoError(t, err)
	assert.Equal(t, "7y", entry.Compliance.RetentionPolicy)
	assert.Contains(t, entry.Compliance.Regulations, "HIPAA")
}

type failingStore struct{}

func (failingStore) Append(context.Context, *contracts.AuditEntry) error { return assert.AnError }
func (failingStore) AppendBatch(context.Context, []*contracts.AuditEntry) error {
	return assert.AnError
}
func (failingStore) Get(context.Context, string) (*contracts.AuditEntry, error) {
	return nil, ErrEntryNotFound
}
func (failingStore) Scan(context.Context, func(*contracts.AuditEntry) bool) error { return nil }
func (failingStore) Close() error                                                 { return nil }
