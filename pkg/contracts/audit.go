package contracts

import "time"

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditModerationAnalysis AuditEventType = "moderation_analysis"
	AuditCrisisDetection    AuditEventType = "crisis_detection"
	AuditRiskAssessment     AuditEventType = "risk_assessment"
	AuditHumanOversight     AuditEventType = "human_oversight"
	AuditEscalation         AuditEventType = "escalation"
	AuditSystemAction       AuditEventType = "system_action"
)

// AuditSeverity orders audit events by operational urgency. CRITICAL and
// EMERGENCY events bypass the write buffer.
type AuditSeverity string

const (
	SeverityLow       AuditSeverity = "LOW"
	SeverityMedium    AuditSeverity = "MEDIUM"
	SeverityHigh      AuditSeverity = "HIGH"
	SeverityCritical  AuditSeverity = "CRITICAL"
	SeverityEmergency AuditSeverity = "EMERGENCY"
)

var severityRank = map[AuditSeverity]int{
	SeverityLow:       0,
	SeverityMedium:    1,
	SeverityHigh:      2,
	SeverityCritical:  3,
	SeverityEmergency: 4,
}

// Rank returns the position of the severity in the total order
// LOW < MEDIUM < HIGH < CRITICAL < EMERGENCY.
func (s AuditSeverity) Rank() int { return severityRank[s] }

// AtLeast reports whether s is at or above other in the total order.
func (s AuditSeverity) AtLeast(other AuditSeverity) bool { return s.Rank() >= other.Rank() }

// AnalysisSnapshot preserves the automated analysis of a message.
type AnalysisSnapshot struct {
	ResultID        string      `json:"result_id"`
	RiskScore       float64     `json:"risk_score"`
	ConfidenceScore float64     `json:"confidence_score"`
	CrisisLevel     CrisisLevel `json:"crisis_level"`
	Action          Action      `json:"action"`
	Categories      []string    `json:"categories,omitempty"`
	Models          []string    `json:"models,omitempty"`
	Sentiment       *Sentiment  `json:"sentiment,omitempty"`
}

// OversightSnapshot preserves a human review outcome.
type OversightSnapshot struct {
	CaseID           string        `json:"case_id"`
	Priority         Priority      `json:"priority"`
	Decision         HumanDecision `json:"decision,omitempty"`
	FinalAction      Action        `json:"final_action,omitempty"`
	ResolvedBy       string        `json:"resolved_by,omitempty"`
	TimeToResolution time.Duration `json:"time_to_resolution_ns,omitempty"`
}

// RiskSnapshot preserves the risk assessment on a 0-10 scale. Compliance
// reporting treats Level >= 7 as high-risk.
type RiskSnapshot struct {
	Level   float64  `json:"level"`
	Factors []string `json:"factors,omitempty"`
}

// DecisionSnapshot preserves the final decision for a message.
type DecisionSnapshot struct {
	Action    Action `json:"action"`
	Automated bool   `json:"automated"`
	Reason    string `json:"reason,omitempty"`
}

// Timings captures performance measurements for an event.
type Timings struct {
	ProcessingTime time.Duration `json:"processing_time_ns"`
	ModelTime      time.Duration `json:"model_time_ns,omitempty"`
}

// ComplianceMeta tags an entry with the regulatory context it was
// recorded under.
type ComplianceMeta struct {
	Regulations     []string `json:"regulations,omitempty"`
	DataClass       string   `json:"data_class"`
	RetentionPolicy string   `json:"retention_policy"`
	PrivacyLevel    string   `json:"privacy_level"`
}

// QualityMetrics carries post-hoc quality assessments of a decision.
type QualityMetrics struct {
	FalsePositive bool    `json:"false_positive"`
	HumanOverride bool    `json:"human_override"`
	Confidence    float64 `json:"confidence"`
}

// AuditEvent is the input to the audit recorder. Content and raw
// identifiers are hashed by the recorder before persistence; they never
// appear in a stored entry.
type AuditEvent struct {
	Type          AuditEventType
	Severity      AuditSeverity
	Content       string
	SessionRef    string
	UserRef       string
	Analysis      *AnalysisSnapshot
	Oversight     *OversightSnapshot
	Risk          *RiskSnapshot
	Decision      *DecisionSnapshot
	Timings       Timings
	Compliance    *ComplianceMeta // nil selects the recorder's defaults
	Quality       *QualityMetrics
	RelatedEvents []string
	ParentEventID string
}

// AuditEntry is a single immutable entry in the audit trail. Once written
// it is never mutated; corrections are new entries linked via
// RelatedEvents or ParentEventID.
type AuditEntry struct {
	ID            string             `json:"id"`
	Sequence      uint64             `json:"sequence"`
	Timestamp     time.Time          `json:"timestamp"`
	Type          AuditEventType     `json:"type"`
	Severity      AuditSeverity      `json:"severity"`
	ContentHash   string             `json:"content_hash"`
	SessionHash   string             `json:"session_hash,omitempty"`
	UserHash      string             `json:"user_hash,omitempty"`
	Analysis      *AnalysisSnapshot  `json:"analysis,omitempty"`
	Oversight     *OversightSnapshot `json:"oversight,omitempty"`
	Risk          *RiskSnapshot      `json:"risk,omitempty"`
	Decision      *DecisionSnapshot  `json:"decision,omitempty"`
	Timings       Timings            `json:"timings"`
	Compliance    ComplianceMeta     `json:"compliance"`
	Quality       *QualityMetrics    `json:"quality,omitempty"`
	RelatedEvents []string           `json:"related_events,omitempty"`
	ParentEventID string             `json:"parent_event_id,omitempty"`
	PrevHash      string             `json:"prev_hash"`
	EntryHash     string             `json:"entry_hash"`
}

// AuditReceipt acknowledges a recorded event.
type AuditReceipt struct {
	AuditID      string        `json:"audit_id"`
	WriteLatency time.Duration `json:"write_latency_ns"`
	Buffered     bool          `json:"buffered"`
}
