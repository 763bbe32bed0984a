package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/havenline/triage/pkg/contracts"
)

// Analytics is the rollup over a time range.
type Analytics struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	TotalEvents       int                                `json:"total_events"`
	ByType            map[contracts.AuditEventType]int   `json:"by_type"`
	BySeverity        map[contracts.AuditSeverity]int    `json:"by_severity"`
	ByAction          map[contracts.Action]int           `json:"by_action"`
	ByCrisisLevel     map[contracts.CrisisLevel]int      `json:"by_crisis_level"`
	AverageProcessing time.Duration                      `json:"average_processing_ns"`
	AverageRiskScore  float64                            `json:"average_risk_score"`
	HumanOversight    int                                `json:"human_oversight_events"`
	OversightRate     float64                            `json:"oversight_rate"`
	EmergencyEvents   int                                `json:"emergency_events"`
	HumanOverrides    int                                `json:"human_overrides"`
	FalsePositives    int                                `json:"false_positives"`
}

// ComplianceReport summarizes the trail for one regulation over a range.
type ComplianceReport struct {
	Regulation string    `json:"regulation"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`

	TotalDecisions      int           `json:"total_decisions"`
	HumanOversightRate  float64       `json:"human_oversight_rate"`
	AverageResponseTime time.Duration `json:"average_response_time_ns"`
	HighRiskDecisions   int           `json:"high_risk_decisions"` // risk level >= 7 on the 0-10 scale
	RetentionCompliant  float64       `json:"retention_compliant"` // fraction of entries
	PrivacyProtected    float64       `json:"privacy_protected"`
	RecordsComplete     float64       `json:"records_complete"`
}

// Analytics computes (or serves from a 5-minute cache) the rollup for the
// given time range.
func (r *Recorder) Analytics(ctx context.Context, from, to time.Time) (*Analytics, error) {
	key := fmt.Sprintf("%d-%d", from.UnixNano(), to.UnixNano())

	r.analyticsMu.Lock()
	if cached, ok := r.analyticsCache[key]; ok && r.clock().Sub(cached.computedAt) < r.analyticsTTL {
		r.analyticsMu.Unlock()
		return cached.value, nil
	}
	r.analyticsMu.Unlock()

	r.Flush(ctx)
	a := &Analytics{
		From:          from,
		To:            to,
		ByType:        make(map[contracts.AuditEventType]int),
		BySeverity:    make(map[contracts.AuditSeverity]int),
		ByAction:      make(map[contracts.Action]int),
		ByCrisisLevel: make(map[contracts.CrisisLevel]int),
	}
	var totalProcessing time.Duration
	var totalRisk float64
	var riskCount int

	err := r.store.Scan(ctx, func(e *contracts.AuditEntry) bool {
		if !inRange(e.Timestamp, from, to) {
			return true
		}
		a.TotalEvents++
		a.ByType[e.Type]++
		a.BySeverity[e.Severity]++
		totalProcessing += e.Timings.ProcessingTime
		if e.Analysis != nil {
			a.ByCrisisLevel[e.Analysis.CrisisLevel]++
			totalRisk += e.Analysis.RiskScore
			riskCount++
		}
		if e.Decision != nil {
			a.ByAction[e.Decision.Action]++
		} else if e.Analysis != nil {
			a.ByAction[e.Analysis.Action]++
		}
		if e.Type == contracts.AuditHumanOversight {
			a.HumanOversight++
		}
		if e.Severity == contracts.SeverityEmergency {
			a.EmergencyEvents++
		}
		if e.Quality != nil {
			if e.Quality.HumanOverride {
				a.HumanOverrides++
			}
			if e.Quality.FalsePositive {
				a.FalsePositives++
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	if a.TotalEvents > 0 {
		a.AverageProcessing = totalProcessing / time.Duration(a.TotalEvents)
		a.OversightRate = float64(a.HumanOversight) / float64(a.TotalEvents)
	}
	if riskCount > 0 {
		a.AverageRiskScore = totalRisk / float64(riskCount)
	}

	r.analyticsMu.Lock()
	r.analyticsCache[key] = analyticsCacheEntry{computedAt: r.clock(), value: a}
	r.analyticsMu.Unlock()
	return a, nil
}

// ComplianceReport computes the summary for one regulation tag. Entries
// count toward a regulation when their compliance metadata names it.
func (r *Recorder) ComplianceReport(ctx context.Context, regulation string, from, to time.Time) (*ComplianceReport, error) {
	r.Flush(ctx)
	report := &ComplianceReport{Regulation: regulation, From: from, To: to}

	var totalResponse time.Duration
	var oversight, retention, privacy, complete int

	err := r.store.Scan(ctx, func(e *contracts.AuditEntry) bool {
		if !inRange(e.Timestamp, from, to) {
			return true
		}
		if !containsString(e.Compliance.Regulations, regulation) {
			return true
		}
		report.TotalDecisions++
		totalResponse += e.Timings.ProcessingTime
		if e.Type == contracts.AuditHumanOversight || e.Oversight != nil {
			oversight++
		}
		if e.Risk != nil && e.Risk.Level >= 7 {
			report.HighRiskDecisions++
		}
		if e.Compliance.RetentionPolicy != "" {
			retention++
		}
		if e.ContentHash != "" && e.Compliance.PrivacyLevel != "" {
			privacy++
		}
		if e.Analysis != nil || e.Oversight != nil {
			complete++
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	if n := report.TotalDecisions; n > 0 {
		report.HumanOversightRate = float64(oversight) / float64(n)
		report.AverageResponseTime = totalResponse / time.Duration(n)
		report.RetentionCompliant = float64(retention) / float64(n)
		report.PrivacyProtected = float64(privacy) / float64(n)
		report.RecordsComplete = float64(complete) / float64(n)
	}
	return report, nil
}

func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && ts.After(to) {
		return false
	}
	return true
}
