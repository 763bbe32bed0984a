package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/havenline/triage/pkg/contracts"
)

const (
	defaultMaxBuffer     = 256
	defaultFlushInterval = 5 * time.Second
	defaultRetention     = "7y"
)

// Recorder is the audit trail's write front end. Low-severity events
// batch in a bounded buffer drained by a background goroutine;
// CRITICAL/EMERGENCY events and all human-oversight events bypass the
// buffer and hit the store synchronously.
//
// Store failures are logged to the fallback channel (the process logger)
// and never propagate to the caller: a moderation decision must be
// returned even if durable logging momentarily fails.
type Recorder struct {
	store  Store
	logger *slog.Logger
	clock  func() time.Time
	salt   string

	defaults contracts.ComplianceMeta

	mu        sync.Mutex // guards buffer, sequence, chainHead
	buffer    []*contracts.AuditEntry
	maxBuffer int
	sequence  uint64
	chainHead string

	idxMu  sync.RWMutex
	byType map[contracts.AuditEventType][]string
	byDate map[string][]string // yyyy-mm-dd -> entry ids

	analyticsMu    sync.Mutex
	analyticsCache map[string]analyticsCacheEntry
	analyticsTTL   time.Duration

	flushInterval time.Duration
	flushNudge    chan struct{}
	stop          chan struct{}
	stopped       sync.Once
	drained       sync.WaitGroup
}

type analyticsCacheEntry struct {
	computedAt time.Time
	value      *Analytics
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithMaxBuffer bounds the write buffer; a full buffer triggers an
// immediate background flush.
func WithMaxBuffer(n int) RecorderOption {
	return func(r *Recorder) { r.maxBuffer = n }
}

// WithFlushInterval overrides the periodic flush timer.
func WithFlushInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.flushInterval = d }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) RecorderOption {
	return func(r *Recorder) { r.clock = clock }
}

// WithSalt sets the salt used to anonymize session/user identifiers.
func WithSalt(salt string) RecorderOption {
	return func(r *Recorder) { r.salt = salt }
}

// WithComplianceDefaults sets the compliance metadata applied to events
// that do not carry their own.
func WithComplianceDefaults(meta contracts.ComplianceMeta) RecorderOption {
	return func(r *Recorder) { r.defaults = meta }
}

// NewRecorder creates a Recorder over store and starts its background
// drain. Call Close to flush and stop it.
func NewRecorder(store Store, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  store,
		logger: logger.With("component", "audit"),
		clock:  time.Now,
		salt:   "triage-audit",
		defaults: contracts.ComplianceMeta{
			Regulations:     []string{"HIPAA", "GDPR"},
			DataClass:       "sensitive",
			RetentionPolicy: defaultRetention,
			PrivacyLevel:    "hashed",
		},
		maxBuffer:      defaultMaxBuffer,
		chainHead:      "genesis",
		byType:         make(map[contracts.AuditEventType][]string),
		byDate:         make(map[string][]string),
		analyticsCache: make(map[string]analyticsCacheEntry),
		analyticsTTL:   5 * time.Minute,
		flushInterval:  defaultFlushInterval,
		flushNudge:     make(chan struct{}, 1),
		stop:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.drained.Add(1)
	go r.drainLoop()
	return r
}

// Record builds an immutable entry from ev and persists it. The returned
// receipt reports the observed write latency and whether the write was
// buffered. Record never fails from the caller's perspective.
func (r *Recorder) Record(ctx context.Context, ev contracts.AuditEvent) contracts.AuditReceipt {
	start := r.clock()
	entry := r.buildEntry(ev)

	immediate := ev.Severity.AtLeast(contracts.SeverityCritical) ||
		ev.Type == contracts.AuditHumanOversight
	if immediate {
		if err := r.store.Append(ctx, entry); err != nil {
			r.logger.Error("audit write failed, entry lost to durable store",
				"entry_id", entry.ID, "type", entry.Type, "error", err)
		} else {
			r.index(entry)
		}
		return contracts.AuditReceipt{
			AuditID:      entry.ID,
			WriteLatency: r.clock().Sub(start),
		}
	}

	r.mu.Lock()
	r.buffer = append(r.buffer, entry)
	full := len(r.buffer) >= r.maxBuffer
	r.mu.Unlock()
	if full {
		select {
		case r.flushNudge <- struct{}{}:
		default:
		}
	}
	return contracts.AuditReceipt{
		AuditID:      entry.ID,
		WriteLatency: r.clock().Sub(start),
		Buffered:     true,
	}
}

func (r *Recorder) buildEntry(ev contracts.AuditEvent) *contracts.AuditEntry {
	severity := ev.Severity
	if severity == "" {
		severity = contracts.SeverityLow
	}
	meta := r.defaults
	if ev.Compliance != nil {
		meta = *ev.Compliance
	}

	entry := &contracts.AuditEntry{
		ID:            uuid.New().String(),
		Timestamp:     r.clock().UTC(),
		Type:          ev.Type,
		Severity:      severity,
		ContentHash:   hashContent(ev.Content),
		SessionHash:   r.hashIdentifier(ev.SessionRef),
		UserHash:      r.hashIdentifier(ev.UserRef),
		Analysis:      ev.Analysis,
		Oversight:     ev.Oversight,
		Risk:          ev.Risk,
		Decision:      ev.Decision,
		Timings:       ev.Timings,
		Compliance:    meta,
		Quality:       ev.Quality,
		RelatedEvents: ev.RelatedEvents,
		ParentEventID: ev.ParentEventID,
	}

	r.mu.Lock()
	r.sequence++
	entry.Sequence = r.sequence
	entry.PrevHash = r.chainHead
	entry.EntryHash = entryHash(entry)
	r.chainHead = entry.EntryHash
	r.mu.Unlock()
	return entry
}

// Flush synchronously drains the buffer. The buffer is swapped out under
// the lock and written outside it, so a flush never observes (or blocks)
// a partially-appended buffer.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.buffer
	r.buffer = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if err := r.store.AppendBatch(ctx, batch); err != nil {
		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}
		r.logger.Error("audit batch write failed, entries lost to durable store",
			"count", len(batch), "entry_ids", ids, "error", err)
		return
	}
	for _, e := range batch {
		r.index(e)
	}
}

// PendingWrites returns the number of buffered, unflushed entries.
func (r *Recorder) PendingWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// Close flushes outstanding writes and stops the background drain.
func (r *Recorder) Close() error {
	r.stopped.Do(func() { close(r.stop) })
	r.drained.Wait()
	r.Flush(context.Background())
	return nil
}

func (r *Recorder) drainLoop() {
	defer r.drained.Done()
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.Flush(context.Background())
		case <-r.flushNudge:
			r.Flush(context.Background())
		}
	}
}

func (r *Recorder) index(entry *contracts.AuditEntry) {
	day := entry.Timestamp.UTC().Format("2006-01-02")
	r.idxMu.Lock()
	r.byType[entry.Type] = append(r.byType[entry.Type], entry.ID)
	r.byDate[day] = append(r.byDate[day], entry.ID)
	r.idxMu.Unlock()
}

func (r *Recorder) hashIdentifier(ref string) string {
	if ref == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(r.salt + ":" + ref))
	return hex.EncodeToString(sum[:16])
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// entryHash hashes the JCS-canonicalized entry with EntryHash cleared, so
// the hash covers every persisted field and verification can recompute it.
func entryHash(entry *contracts.AuditEntry) string {
	clone := *entry
	clone.EntryHash = ""
	data, err := json.Marshal(&clone)
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		canonical = data
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// VerifyChain checks the prev-hash chain and each entry's hash across
// the whole store, in sequence order. It returns the number of verified
// entries, or an error naming the first broken link.
func (r *Recorder) VerifyChain(ctx context.Context) (int, error) {
	r.Flush(ctx)
	var entries []*contracts.AuditEntry
	if err := r.store.Scan(ctx, func(entry *contracts.AuditEntry) bool {
		entries = append(entries, entry)
		return true
	}); err != nil {
		return 0, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })

	prev := "genesis"
	for i, entry := range entries {
		if entry.PrevHash != prev {
			return i, fmt.Errorf("audit chain broken at entry %s (seq %d)", entry.ID, entry.Sequence)
		}
		if entryHash(entry) != entry.EntryHash {
			return i, fmt.Errorf("audit entry %s hash mismatch", entry.ID)
		}
		prev = entry.EntryHash
	}
	return len(entries), nil
}
