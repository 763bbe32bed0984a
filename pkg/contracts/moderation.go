// Package contracts defines the shared data types exchanged between the
// moderation engine, the oversight escalation manager, and the audit
// recorder. Results and audit entries are immutable once produced;
// corrections are expressed as new records, never in-place edits.
package contracts

import "time"

// MessageType classifies the channel a message arrived on. Downstream
// action determination branches on it: crisis and emergency channels are
// never silently blocked.
type MessageType string

const (
	MessageCrisis    MessageType = "crisis"
	MessageVolunteer MessageType = "volunteer"
	MessageGeneral   MessageType = "general"
	MessageEmergency MessageType = "emergency"
)

// IsCrisisChannel reports whether the message arrived on a channel where
// suppression of genuine help-seeking must be avoided.
func (m MessageType) IsCrisisChannel() bool {
	return m == MessageCrisis || m == MessageEmergency
}

// RequestContext carries the situational metadata the caller knows about
// the message. SessionRef and UserRef are opaque to the core; the audit
// recorder hashes them before persisting.
type RequestContext struct {
	MessageType MessageType    `json:"message_type"`
	Anonymous   bool           `json:"anonymous"`
	SessionRef  string         `json:"session_ref,omitempty"`
	UserRef     string         `json:"user_ref,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ModerationRequest is the immutable input to the moderation engine.
type ModerationRequest struct {
	Content      string         `json:"content"`
	Language     string         `json:"language,omitempty"` // optional hint, BCP-47
	Context      RequestContext `json:"context"`
	EnsembleMode bool           `json:"ensemble_mode,omitempty"` // force full-ensemble analysis
}

// CrisisLevel is the ordered severity classification assigned to a message.
type CrisisLevel string

const (
	CrisisNone      CrisisLevel = "NONE"
	CrisisLow       CrisisLevel = "LOW"
	CrisisModerate  CrisisLevel = "MODERATE"
	CrisisHigh      CrisisLevel = "HIGH"
	CrisisCritical  CrisisLevel = "CRITICAL"
	CrisisEmergency CrisisLevel = "EMERGENCY"
)

var crisisRank = map[CrisisLevel]int{
	CrisisNone:      0,
	CrisisLow:       1,
	CrisisModerate:  2,
	CrisisHigh:      3,
	CrisisCritical:  4,
	CrisisEmergency: 5,
}

// Rank returns the position of the level in the total order
// NONE < LOW < MODERATE < HIGH < CRITICAL < EMERGENCY.
func (c CrisisLevel) Rank() int { return crisisRank[c] }

// AtLeast reports whether c is at or above other in the total order.
func (c CrisisLevel) AtLeast(other CrisisLevel) bool { return c.Rank() >= other.Rank() }

// Action is the automated decision for a message.
type Action string

const (
	ActionAllow     Action = "ALLOW"
	ActionFlag      Action = "FLAG"
	ActionBlock     Action = "BLOCK"
	ActionEscalate  Action = "ESCALATE"
	ActionEmergency Action = "EMERGENCY"
)

// FlagScores holds the per-category flag scores, each in [0,1].
type FlagScores struct {
	Toxicity   float64 `json:"toxicity"`
	Harassment float64 `json:"harassment"`
	SelfHarm   float64 `json:"self_harm"`
	Violence   float64 `json:"violence"`
	Spam       float64 `json:"spam"`
	Crisis     float64 `json:"crisis"`
}

// EmotionVector is a bounded emotion estimate, each component in [0,1].
type EmotionVector struct {
	Despair float64 `json:"despair"`
	Anger   float64 `json:"anger"`
	Fear    float64 `json:"fear"`
	Hope    float64 `json:"hope"`
}

// Sentiment is the overall sentiment estimate for a message.
// Overall is in [-1,1].
type Sentiment struct {
	Overall  float64       `json:"overall"`
	Emotions EmotionVector `json:"emotions"`
}

// ModelVote is one scoring model's contribution to a decision. Votes form
// the decision-level audit trail carried on every ModerationResult.
type ModelVote struct {
	Model      string   `json:"model"`
	Version    string   `json:"version"`
	Weight     float64  `json:"weight"`
	Score      float64  `json:"score"`      // [0,1]
	Confidence float64  `json:"confidence"` // [0,1]
	Categories []string `json:"categories,omitempty"`
	Error      string   `json:"error,omitempty"` // set when the model failed and was excluded
}

// ModerationResult is the output of the moderation engine. It is immutable
// once returned to the caller.
type ModerationResult struct {
	ID              string        `json:"id"`
	Safe            bool          `json:"safe"`
	RiskScore       float64       `json:"risk_score"`       // 0-100
	ConfidenceScore float64       `json:"confidence_score"` // 0-100
	CrisisLevel     CrisisLevel   `json:"crisis_level"`
	Categories      []string      `json:"categories,omitempty"`
	Language        string        `json:"language"`
	Flags           FlagScores    `json:"flags"`
	Sentiment       Sentiment     `json:"sentiment"`
	Action          Action        `json:"action"`
	Reasoning       string        `json:"reasoning"`
	Recommendations []string      `json:"recommendations,omitempty"`
	ProcessingTime  time.Duration `json:"processing_time_ns"`
	Models          []string      `json:"models"` // provenance: which models voted
	Votes           []ModelVote   `json:"votes,omitempty"`
	Cached          bool          `json:"cached,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}
