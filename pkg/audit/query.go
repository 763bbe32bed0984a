package audit

import (
	"context"
	"sort"
	"time"

	"github.com/havenline/triage/pkg/contracts"
)

// SortField selects the ordering for query results.
type SortField string

const (
	SortByTimestamp      SortField = "timestamp"
	SortBySeverity       SortField = "severity"
	SortByProcessingTime SortField = "processing_time"
	SortByRiskScore      SortField = "risk_score"
)

// Query is a filtered, paginated read over the audit trail. Zero values
// mean "no constraint"; numeric bounds use pointers so zero is a valid
// bound.
type Query struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`

	Types       []contracts.AuditEventType `json:"types,omitempty"`
	MinSeverity contracts.AuditSeverity    `json:"min_severity,omitempty"`
	Category    string                     `json:"category,omitempty"`
	Action      contracts.Action           `json:"action,omitempty"`
	SessionHash string                     `json:"session_hash,omitempty"`
	UserHash    string                     `json:"user_hash,omitempty"`

	MinProcessing time.Duration `json:"min_processing_ns,omitempty"`
	MaxProcessing time.Duration `json:"max_processing_ns,omitempty"`
	MinConfidence *float64      `json:"min_confidence,omitempty"`
	MaxConfidence *float64      `json:"max_confidence,omitempty"`
	MinRisk       *float64      `json:"min_risk,omitempty"`
	MaxRisk       *float64      `json:"max_risk,omitempty"`

	FalsePositivesOnly bool `json:"false_positives_only,omitempty"`
	HumanOverridesOnly bool `json:"human_overrides_only,omitempty"`

	SortBy   SortField `json:"sort_by,omitempty"`
	SortDesc bool      `json:"sort_desc,omitempty"`
	Offset   int       `json:"offset,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// QueryResult carries a page of matches plus the total match count.
type QueryResult struct {
	Entries    []*contracts.AuditEntry `json:"entries"`
	TotalCount int                     `json:"total_count"`
	QueryTime  time.Duration           `json:"query_time_ns"`
}

// GetEntry returns one entry by id, flushing pending writes first so a
// just-recorded entry is visible.
func (r *Recorder) GetEntry(ctx context.Context, id string) (*contracts.AuditEntry, error) {
	r.Flush(ctx)
	return r.store.Get(ctx, id)
}

// Query runs a filtered, sorted, paginated read. The secondary indices
// (by event type, by calendar date) narrow the candidate set before any
// entry is loaded; only an unconstrained query falls back to a full scan.
func (r *Recorder) Query(ctx context.Context, q Query) (*QueryResult, error) {
	start := r.clock()
	r.Flush(ctx)

	var matches []*contracts.AuditEntry
	collect := func(entry *contracts.AuditEntry) {
		if q.matches(entry) {
			matches = append(matches, entry)
		}
	}

	if ids, ok := r.candidateIDs(q); ok {
		for _, id := range ids {
			entry, err := r.store.Get(ctx, id)
			if err != nil {
				continue // flushed-but-lost entries are logged at write time
			}
			collect(entry)
		}
	} else {
		if err := r.store.Scan(ctx, func(entry *contracts.AuditEntry) bool {
			collect(entry)
			return true
		}); err != nil {
			return nil, err
		}
	}

	sortEntries(matches, q.SortBy, q.SortDesc)
	total := len(matches)
	matches = paginate(matches, q.Offset, q.Limit)

	return &QueryResult{
		Entries:    matches,
		TotalCount: total,
		QueryTime:  r.clock().Sub(start),
	}, nil
}

// candidateIDs narrows the search using the secondary indices. The bool
// result reports whether an index applied at all.
func (r *Recorder) candidateIDs(q Query) ([]string, bool) {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()

	if len(q.Types) > 0 {
		var ids []string
		seen := make(map[string]struct{})
		for _, t := range q.Types {
			for _, id := range r.byType[t] {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
		return ids, true
	}

	if !q.From.IsZero() && !q.To.IsZero() {
		var ids []string
		for day := q.From.UTC().Truncate(24 * time.Hour); !day.After(q.To.UTC()); day = day.Add(24 * time.Hour) {
			ids = append(ids, r.byDate[day.Format("2006-01-02")]...)
		}
		return ids, true
	}
	return nil, false
}

func (q Query) matches(e *contracts.AuditEntry) bool {
	if !q.From.IsZero() && e.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.Timestamp.After(q.To) {
		return false
	}
	if len(q.Types) > 0 && !containsType(q.Types, e.Type) {
		return false
	}
	if q.MinSeverity != "" && !e.Severity.AtLeast(q.MinSeverity) {
		return false
	}
	if q.Category != "" && (e.Analysis == nil || !containsString(e.Analysis.Categories, q.Category)) {
		return false
	}
	if q.Action != "" && !entryAction(e, q.Action) {
		return false
	}
	if q.SessionHash != "" && e.SessionHash != q.SessionHash {
		return false
	}
	if q.UserHash != "" && e.UserHash != q.UserHash {
		return false
	}
	if q.MinProcessing > 0 && e.Timings.ProcessingTime < q.MinProcessing {
		return false
	}
	if q.MaxProcessing > 0 && e.Timings.ProcessingTime > q.MaxProcessing {
		return false
	}
	if q.MinConfidence != nil && (e.Analysis == nil || e.Analysis.ConfidenceScore < *q.MinConfidence) {
		return false
	}
	if q.MaxConfidence != nil && (e.Analysis == nil || e.Analysis.ConfidenceScore > *q.MaxConfidence) {
		return false
	}
	if q.MinRisk != nil && (e.Analysis == nil || e.Analysis.RiskScore < *q.MinRisk) {
		return false
	}
	if q.MaxRisk != nil && (e.Analysis == nil || e.Analysis.RiskScore > *q.MaxRisk) {
		return false
	}
	if q.FalsePositivesOnly && (e.Quality == nil || !e.Quality.FalsePositive) {
		return false
	}
	if q.HumanOverridesOnly && (e.Quality == nil || !e.Quality.HumanOverride) {
		return false
	}
	return true
}

func entryAction(e *contracts.AuditEntry, action contracts.Action) bool {
	if e.Decision != nil && e.Decision.Action == action {
		return true
	}
	return e.Analysis != nil && e.Analysis.Action == action
}

func sortEntries(entries []*contracts.AuditEntry, field SortField, desc bool) {
	less := func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) }
	switch field {
	case SortBySeverity:
		less = func(i, j int) bool { return entries[i].Severity.Rank() < entries[j].Severity.Rank() }
	case SortByProcessingTime:
		less = func(i, j int) bool {
			return entries[i].Timings.ProcessingTime < entries[j].Timings.ProcessingTime
		}
	case SortByRiskScore:
		less = func(i, j int) bool { return riskOf(entries[i]) < riskOf(entries[j]) }
	}
	if desc {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.SliceStable(entries, less)
}

func riskOf(e *contracts.AuditEntry) float64 {
	if e.Analysis != nil {
		return e.Analysis.RiskScore
	}
	return 0
}

func paginate(entries []*contracts.AuditEntry, offset, limit int) []*contracts.AuditEntry {
	if offset >= len(entries) {
		return nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

func containsType(haystack []contracts.AuditEventType, needle contracts.AuditEventType) bool {
	for _, t := range haystack {
		if t == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
