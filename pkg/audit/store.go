// Package audit implements the compliance audit trail: durable recording
// of every moderation decision and oversight event, filtered queries,
// rollup analytics, and compliance reports.
//
// Entries are append-only and hash-chained. Writes are buffered for
// throughput, but CRITICAL/EMERGENCY events and all human-oversight
// events flush synchronously.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/havenline/triage/pkg/contracts"
)

var (
	// ErrEntryNotFound is returned when no entry exists for an id.
	ErrEntryNotFound = errors.New("audit entry not found")
	// ErrDuplicateEntry is returned on an append with an already-used id.
	// Entries are immutable; a second write with the same id is a bug.
	ErrDuplicateEntry = errors.New("audit entry already exists")
)

// Store persists audit entries. Implementations must treat entries as
// immutable: Append with an existing id fails, and Get returns content
// identical across repeated reads.
type Store interface {
	Append(ctx context.Context, entry *contracts.AuditEntry) error
	AppendBatch(ctx context.Context, entries []*contracts.AuditEntry) error
	Get(ctx context.Context, id string) (*contracts.AuditEntry, error)
	// Scan visits every entry in append order until fn returns false.
	Scan(ctx context.Context, fn func(*contracts.AuditEntry) bool) error
	Close() error
}

// MemoryStore is the default in-process Store. Entries are kept as their
// canonical JSON encoding; Get decodes a fresh copy so callers can never
// mutate stored state.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	raw   map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{raw: make(map[string][]byte)}
}

// Append stores one entry.
func (s *MemoryStore) Append(_ context.Context, entry *contracts.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.raw[entry.ID]; exists {
		return ErrDuplicateEntry
	}
	s.raw[entry.ID] = data
	s.order = append(s.order, entry.ID)
	return nil
}

// AppendBatch stores entries in order. The batch is applied atomically
// with respect to Scan: a concurrent scan sees all of it or none of it.
func (s *MemoryStore) AppendBatch(_ context.Context, entries []*contracts.AuditEntry) error {
	encoded := make([][]byte, len(entries))
	for i, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		encoded[i] = data
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, exists := s.raw[e.ID]; exists {
			return ErrDuplicateEntry
		}
	}
	for i, e := range entries {
		s.raw[e.ID] = encoded[i]
		s.order = append(s.order, e.ID)
	}
	return nil
}

// Get returns a decoded copy of the entry.
func (s *MemoryStore) Get(_ context.Context, id string) (*contracts.AuditEntry, error) {
	s.mu.RLock()
	data, ok := s.raw[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrEntryNotFound
	}
	var entry contracts.AuditEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetRaw returns the stored canonical bytes for an entry. Repeated reads
// return byte-identical content.
func (s *MemoryStore) GetRaw(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.raw[id]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Scan visits entries in append order.
func (s *MemoryStore) Scan(_ context.Context, fn func(*contracts.AuditEntry) bool) error {
	s.mu.RLock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	s.mu.RUnlock()

	for _, id := range ids {
		s.mu.RLock()
		data := s.raw[id]
		s.mu.RUnlock()
		var entry contracts.AuditEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		if !fn(&entry) {
			return nil
		}
	}
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }
