package contracts

import "time"

// Priority orders oversight cases in the review queue.
type Priority string

const (
	PriorityLow       Priority = "LOW"
	PriorityMedium    Priority = "MEDIUM"
	PriorityHigh      Priority = "HIGH"
	PriorityUrgent    Priority = "URGENT"
	PriorityEmergency Priority = "EMERGENCY"
)

var priorityRank = map[Priority]int{
	PriorityLow:       0,
	PriorityMedium:    1,
	PriorityHigh:      2,
	PriorityUrgent:    3,
	PriorityEmergency: 4,
}

// Rank returns the position of the priority in the total order
// LOW < MEDIUM < HIGH < URGENT < EMERGENCY.
func (p Priority) Rank() int { return priorityRank[p] }

// AtLeast reports whether p is at or above other in the total order.
func (p Priority) AtLeast(other Priority) bool { return p.Rank() >= other.Rank() }

// CaseType describes why a case was escalated to a human.
type CaseType string

const (
	CaseEdgeCase         CaseType = "edge_case"
	CaseAmbiguousContent CaseType = "ambiguous_content"
	CaseAIUncertainty    CaseType = "ai_uncertainty"
	CaseEscalationReview CaseType = "escalation_review"
	CaseQualityCheck     CaseType = "quality_check"
	CaseLearning         CaseType = "learning_case"
)

// CaseStatus is the lifecycle state of an oversight case.
type CaseStatus string

const (
	CasePending          CaseStatus = "pending"
	CaseAssigned         CaseStatus = "assigned"
	CaseInReview         CaseStatus = "in_review"
	CaseResolved         CaseStatus = "resolved"
	CaseEscalatedFurther CaseStatus = "escalated_further"
)

// HumanDecision is the expert's verdict on the automated decision.
type HumanDecision string

const (
	DecisionApproveAI       HumanDecision = "approve_ai"
	DecisionOverrideAI      HumanDecision = "override_ai"
	DecisionModifyAI        HumanDecision = "modify_ai"
	DecisionEscalateFurther HumanDecision = "escalate_further"
)

// ModerationSnapshot captures the salient fields of the triggering
// ModerationResult at escalation time.
type ModerationSnapshot struct {
	ResultID        string      `json:"result_id"`
	RiskScore       float64     `json:"risk_score"`
	ConfidenceScore float64     `json:"confidence_score"`
	CrisisLevel     CrisisLevel `json:"crisis_level"`
	Action          Action      `json:"action"`
	Categories      []string    `json:"categories,omitempty"`
}

// Resolution is the outcome of a human review.
type Resolution struct {
	Decision         HumanDecision `json:"decision"`
	FinalAction      Action        `json:"final_action"`
	Reasoning        string        `json:"reasoning"`
	ResolvedAt       time.Time     `json:"resolved_at"`
	ResolvedBy       string        `json:"resolved_by"`
	TimeToResolution time.Duration `json:"time_to_resolution_ns"`
}

// LearningData is the feedback signal derived from a resolved case.
type LearningData struct {
	AIWasCorrect      bool    `json:"ai_was_correct"`
	Confidence        float64 `json:"confidence"`
	Pattern           string  `json:"pattern,omitempty"`
	TrainingCandidate bool    `json:"training_candidate"`
}

// OversightCase is a unit of work requiring human expert review.
type OversightCase struct {
	ID                string             `json:"id"`
	Priority          Priority           `json:"priority"`
	Type              CaseType           `json:"type"`
	Content           string             `json:"content"`
	Context           RequestContext     `json:"context"`
	Moderation        ModerationSnapshot `json:"moderation"`
	RequiredExpertise []string           `json:"required_expertise,omitempty"`
	Urgency           int                `json:"urgency"` // 1-10
	ResponseBudget    time.Duration      `json:"response_budget_ns"`
	Status            CaseStatus         `json:"status"`
	AssignedTo        string             `json:"assigned_to,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	AssignedAt        *time.Time         `json:"assigned_at,omitempty"`
	Resolution        *Resolution        `json:"resolution,omitempty"`
	Learning          *LearningData      `json:"learning,omitempty"`
}

// AvailabilityStatus is an expert's current availability.
type AvailabilityStatus string

const (
	ExpertAvailable AvailabilityStatus = "available"
	ExpertBusy      AvailabilityStatus = "busy"
	ExpertOffline   AvailabilityStatus = "offline"
)

// Availability tracks an expert's capacity and schedule.
type Availability struct {
	Status             AvailabilityStatus `json:"status"`
	MaxConcurrentCases int                `json:"max_concurrent_cases"`
	CurrentCases       int                `json:"current_cases"`
	WorkingHours       string             `json:"working_hours,omitempty"`
	Timezone           string             `json:"timezone,omitempty"`
}

// Performance tracks an expert's running review statistics. Updated only
// by the oversight manager on resolution.
type Performance struct {
	CasesHandled        int           `json:"cases_handled"`
	AverageResponseTime time.Duration `json:"average_response_time_ns"`
	AccuracyRate        float64       `json:"accuracy_rate"`      // [0,1]
	SatisfactionScore   float64       `json:"satisfaction_score"` // [0,1]
}

// ExpertProfile is a long-lived record of a human reviewer.
type ExpertProfile struct {
	ID             string       `json:"id"`
	Name           string       `json:"name,omitempty"`
	Expertise      []string     `json:"expertise"`
	Availability   Availability `json:"availability"`
	Performance    Performance  `json:"performance"`
	Languages      []string     `json:"languages,omitempty"`
	Certifications []string     `json:"certifications,omitempty"`
}
