// Package oversight escalates uncertain or high-stakes moderation
// decisions to human experts. The manager evaluates every automated
// decision against its trigger set, opens prioritized cases, matches
// them to experts by required expertise and availability, and folds
// resolutions back into learning signals.
package oversight

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/havenline/triage/pkg/contracts"
)

// AuditSink receives oversight audit events. Human oversight events are
// always written synchronously by the recorder.
type AuditSink interface {
	Record(ctx context.Context, ev contracts.AuditEvent) contracts.AuditReceipt
}

// Evaluation is the outcome of running a moderation decision through
// the oversight triggers.
type Evaluation struct {
	NeedsOversight bool
	Case           *contracts.OversightCase
	Priority       contracts.Priority
	Reasoning      []string
	Assigned       bool
}

// Confidence below this (0-100 scale) escalates for AI uncertainty.
const uncertaintyThreshold = 70.0

// Risk at or above this in a crisis context escalates urgently.
const urgentRiskThreshold = 80.0

var responseBudgets = map[contracts.Priority]time.Duration{
	contracts.PriorityEmergency: 5 * time.Minute,
	contracts.PriorityUrgent:    15 * time.Minute,
	contracts.PriorityHigh:      time.Hour,
	contracts.PriorityMedium:    4 * time.Hour,
	contracts.PriorityLow:       24 * time.Hour,
}

var urgencyBase = map[contracts.Priority]int{
	contracts.PriorityLow:       1,
	contracts.PriorityMedium:    3,
	contracts.PriorityHigh:      5,
	contracts.PriorityUrgent:    7,
	contracts.PriorityEmergency: 9,
}

// Phrases where automated classifiers are known to misread intent:
// passive ideation, idioms, and cultural or religious framings of death.
var edgeCasePhrases = []string{
	"better off without me",
	"what's the point",
	"whats the point",
	"tired of everything",
	"can't do this anymore",
	"cant do this anymore",
	"meet my maker",
	"go to sleep forever",
	"join my ancestors",
	"dying inside",
	"dead tired",
	"killing it",
}

var hedgingWords = []string{
	"maybe", "sometimes", "kind of", "sort of", "i guess",
	"not sure", "possibly", "perhaps", "might",
}

// Statement pairs that contradict each other signal masked distress and
// warrant a psychiatric read.
var contradictionPairs = [][2]string{
	{"getting help", "nothing works"},
	{"i'm fine", "can't go on"},
	{"im fine", "cant go on"},
	{"feeling better", "no way out"},
	{"it's okay", "give up"},
}

// Manager owns the oversight case queue and the expert pool. A single
// mutex guards all state; every public method is safe for concurrent
// use.
type Manager struct {
	mu      sync.Mutex
	queue   *caseQueue
	cases   map[string]*contracts.OversightCase
	experts map[string]*contracts.ExpertProfile

	rules   []*celRule
	sampler *rate.Limiter

	audit  AuditSink
	logger *slog.Logger
	clock  func() time.Time

	totalCases    int
	resolvedCases int
	aiCorrect     int
}

// Option configures a Manager.
type Option func(*Manager)

// WithAuditSink routes oversight events to an audit recorder.
func WithAuditSink(sink AuditSink) Option {
	return func(m *Manager) { m.audit = sink }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithQualitySampling sets the rate of random quality-check escalations
// for otherwise-clean general content, in cases per second.
func WithQualitySampling(perSecond float64, burst int) Option {
	return func(m *Manager) {
		if perSecond > 0 && burst > 0 {
			m.sampler = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewManager creates an oversight manager. Pass trigger rules through
// NewManagerWithRules when compilation errors must be handled.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		queue:   newCaseQueue(),
		cases:   make(map[string]*contracts.OversightCase),
		experts: make(map[string]*contracts.ExpertProfile),
		logger:  slog.Default().With("component", "oversight"),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewManagerWithRules is NewManager plus rule compilation with an
// explicit error path.
func NewManagerWithRules(rules []TriggerRule, opts ...Option) (*Manager, error) {
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, fmt.Errorf("compile trigger rules: %w", err)
	}
	m := NewManager(opts...)
	m.rules = compiled
	return m, nil
}

// Evaluate runs a moderation decision through the trigger set. When any
// trigger fires it opens a case at the highest priority reached and
// attempts immediate assignment for EMERGENCY and URGENT work. A nil
// evaluation error with NeedsOversight=false means the automated
// decision stands.
func (m *Manager) Evaluate(ctx context.Context, content string, result *contracts.ModerationResult, reqctx contracts.RequestContext) (*Evaluation, error) {
	if result == nil {
		return nil, fmt.Errorf("moderation result must not be nil")
	}

	eval := &Evaluation{Priority: contracts.PriorityLow}
	lower := strings.ToLower(content)

	caseType := contracts.CaseEdgeCase
	var expertise []string

	raise := func(p contracts.Priority, reason string) {
		eval.NeedsOversight = true
		eval.Reasoning = append(eval.Reasoning, reason)
		if p.Rank() > eval.Priority.Rank() {
			eval.Priority = p
		}
	}

	if result.ConfidenceScore < uncertaintyThreshold {
		caseType = contracts.CaseAIUncertainty
		raise(contracts.PriorityMedium, fmt.Sprintf("model confidence %.0f below threshold", result.ConfidenceScore))
	}

	for _, phrase := range edgeCasePhrases {
		if strings.Contains(lower, phrase) {
			caseType = contracts.CaseEdgeCase
			expertise = appendUnique(expertise, "cultural_competency")
			raise(contracts.PriorityMedium, "known edge-case phrasing: "+phrase)
			break
		}
	}

	if hedges := countHits(lower, hedgingWords); hedges >= 2 {
		if caseType != contracts.CaseAIUncertainty {
			caseType = contracts.CaseAmbiguousContent
		}
		raise(contracts.PriorityMedium, fmt.Sprintf("%d hedging markers, intent unclear", hedges))
	}

	if result.Language != "" && result.Language != "en" && containsString(result.Categories, "cultural") {
		expertise = appendUnique(expertise, "language_"+result.Language)
		raise(contracts.PriorityMedium, "cultural signals in non-English content")
	}

	if result.RiskScore >= urgentRiskThreshold && reqctx.MessageType.IsCrisisChannel() {
		caseType = contracts.CaseEscalationReview
		expertise = appendUnique(expertise, "crisis_counseling")
		raise(contracts.PriorityUrgent, fmt.Sprintf("risk %.0f on a crisis channel", result.RiskScore))
	}

	for _, pair := range contradictionPairs {
		if strings.Contains(lower, pair[0]) && strings.Contains(lower, pair[1]) {
			expertise = appendUnique(expertise, "psychiatric_evaluation")
			raise(contracts.PriorityHigh, "contradictory statements suggest masked distress")
			break
		}
	}

	for _, rule := range m.rules {
		if rule.eval(result, reqctx) {
			if len(rule.rule.Expertise) > 0 {
				for _, e := range rule.rule.Expertise {
					expertise = appendUnique(expertise, e)
				}
			}
			caseType = rule.rule.CaseType
			raise(rule.rule.Priority, "trigger rule matched: "+rule.rule.Name)
		}
	}

	// Applied last so nothing can lower it.
	if result.CrisisLevel == contracts.CrisisEmergency {
		caseType = contracts.CaseEscalationReview
		expertise = appendUnique(expertise, "crisis_counseling")
		raise(contracts.PriorityEmergency, "emergency crisis level")
	}

	if !eval.NeedsOversight && reqctx.MessageType == contracts.MessageGeneral &&
		m.sampler != nil && m.sampler.Allow() {
		caseType = contracts.CaseQualityCheck
		raise(contracts.PriorityLow, "random quality sample")
	}

	if !eval.NeedsOversight {
		return eval, nil
	}

	c := m.openCase(ctx, content, result, reqctx, eval, caseType, expertise)
	eval.Case = c
	eval.Assigned = c.Status == contracts.CaseAssigned
	return eval, nil
}

func (m *Manager) openCase(ctx context.Context, content string, result *contracts.ModerationResult, reqctx contracts.RequestContext, eval *Evaluation, caseType contracts.CaseType, expertise []string) *contracts.OversightCase {
	now := m.clock()
	c := &contracts.OversightCase{
		ID:       uuid.NewString(),
		Priority: eval.Priority,
		Type:     caseType,
		Content:  content,
		Context:  reqctx,
		Moderation: contracts.ModerationSnapshot{
			ResultID:        result.ID,
			RiskScore:       result.RiskScore,
			ConfidenceScore: result.ConfidenceScore,
			CrisisLevel:     result.CrisisLevel,
			Action:          result.Action,
			Categories:      append([]string(nil), result.Categories...),
		},
		RequiredExpertise: expertise,
		Urgency:           computeUrgency(eval.Priority, result.RiskScore, reqctx.MessageType),
		ResponseBudget:    responseBudgets[eval.Priority],
		Status:            contracts.CasePending,
		CreatedAt:         now,
	}

	m.mu.Lock()
	m.cases[c.ID] = c
	m.totalCases++
	m.queue.add(c)
	if eval.Priority.AtLeast(contracts.PriorityUrgent) {
		m.assignLocked(c)
	}
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "oversight case opened",
		"case_id", c.ID,
		"priority", c.Priority,
		"type", c.Type,
		"urgency", c.Urgency,
		"assigned_to", c.AssignedTo,
	)

	if m.audit != nil {
		m.audit.Record(ctx, contracts.AuditEvent{
			Type:       contracts.AuditEscalation,
			Severity:   prioritySeverity(c.Priority),
			Content:    content,
			SessionRef: reqctx.SessionRef,
			UserRef:    reqctx.UserRef,
			Oversight: &contracts.OversightSnapshot{
				CaseID:   c.ID,
				Priority: c.Priority,
			},
			Analysis: &contracts.AnalysisSnapshot{
				ResultID:        result.ID,
				RiskScore:       result.RiskScore,
				ConfidenceScore: result.ConfidenceScore,
				CrisisLevel:     result.CrisisLevel,
				Action:          result.Action,
			},
			Decision: &contracts.DecisionSnapshot{
				Action:    contracts.ActionEscalate,
				Automated: true,
				Reason:    strings.Join(eval.Reasoning, "; "),
			},
		})
	}
	return c
}

// Resolve records a human decision on a case. The resolution's
// ResolvedBy must name the assigned expert. The manager stamps the
// resolution time, derives learning data, updates the expert's running
// statistics, frees the slot and re-dispatches queued work.
func (m *Manager) Resolve(ctx context.Context, caseID string, res contracts.Resolution) (*contracts.OversightCase, error) {
	m.mu.Lock()
	c, ok := m.cases[caseID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownCase, caseID)
	}
	if c.Status == contracts.CaseResolved {
		m.mu.Unlock()
		return nil, fmt.Errorf("case %s already resolved", caseID)
	}
	if c.AssignedTo != "" && res.ResolvedBy != c.AssignedTo {
		m.mu.Unlock()
		return nil, fmt.Errorf("case %s is assigned to %s, not %s", caseID, c.AssignedTo, res.ResolvedBy)
	}

	now := m.clock()
	res.ResolvedAt = now
	res.TimeToResolution = now.Sub(c.CreatedAt)
	c.Resolution = &res
	if res.Decision == contracts.DecisionEscalateFurther {
		c.Status = contracts.CaseEscalatedFurther
	} else {
		c.Status = contracts.CaseResolved
	}
	m.queue.remove(c.ID)

	aiCorrect := res.Decision == contracts.DecisionApproveAI
	c.Learning = &contracts.LearningData{
		AIWasCorrect:      aiCorrect,
		Confidence:        c.Moderation.ConfidenceScore / 100,
		Pattern:           string(c.Type),
		TrainingCandidate: !aiCorrect || c.Type == contracts.CaseEdgeCase,
	}

	m.resolvedCases++
	if aiCorrect {
		m.aiCorrect++
	}

	if expert, ok := m.experts[res.ResolvedBy]; ok {
		updatePerformance(&expert.Performance, res.TimeToResolution, aiCorrect)
	}
	if c.AssignedTo != "" {
		m.releaseLocked(c.AssignedTo)
	}
	m.dispatchLocked()
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "oversight case resolved",
		"case_id", c.ID,
		"decision", res.Decision,
		"final_action", res.FinalAction,
		"resolved_by", res.ResolvedBy,
		"time_to_resolution", res.TimeToResolution,
	)

	if m.audit != nil {
		m.audit.Record(ctx, contracts.AuditEvent{
			Type:       contracts.AuditHumanOversight,
			Severity:   prioritySeverity(c.Priority),
			Content:    c.Content,
			SessionRef: c.Context.SessionRef,
			UserRef:    c.Context.UserRef,
			Oversight: &contracts.OversightSnapshot{
				CaseID:           c.ID,
				Priority:         c.Priority,
				Decision:         res.Decision,
				FinalAction:      res.FinalAction,
				ResolvedBy:       res.ResolvedBy,
				TimeToResolution: res.TimeToResolution,
			},
			Decision: &contracts.DecisionSnapshot{
				Action:    res.FinalAction,
				Automated: false,
				Reason:    res.Reasoning,
			},
			Quality: &contracts.QualityMetrics{
				HumanOverride: !aiCorrect,
				Confidence:    c.Moderation.ConfidenceScore / 100,
			},
		})
	}
	return c, nil
}

// StartReview marks an assigned case as being actively reviewed. Only
// the assigned expert may open it.
func (m *Manager) StartReview(caseID, expertID string) (contracts.OversightCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[caseID]
	if !ok {
		return contracts.OversightCase{}, fmt.Errorf("%w: %s", ErrUnknownCase, caseID)
	}
	if c.Status != contracts.CaseAssigned {
		return contracts.OversightCase{}, fmt.Errorf("case %s is %s, not assigned", caseID, c.Status)
	}
	if expertID != c.AssignedTo {
		return contracts.OversightCase{}, fmt.Errorf("case %s is assigned to %s, not %s", caseID, c.AssignedTo, expertID)
	}
	c.Status = contracts.CaseInReview
	return *c, nil
}

// Case returns a copy of a case by id.
func (m *Manager) Case(caseID string) (contracts.OversightCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[caseID]
	if !ok {
		return contracts.OversightCase{}, fmt.Errorf("%w: %s", ErrUnknownCase, caseID)
	}
	return *c, nil
}

// PendingCases returns the queued cases in dispatch order.
func (m *Manager) PendingCases() []contracts.OversightCase {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.queue.snapshot()
	out := make([]contracts.OversightCase, len(snap))
	for i, c := range snap {
		out[i] = *c
	}
	return out
}

// Stats summarizes the manager's lifetime counters.
type Stats struct {
	TotalCases     int     `json:"total_cases"`
	PendingCases   int     `json:"pending_cases"`
	ResolvedCases  int     `json:"resolved_cases"`
	AIAccuracyRate float64 `json:"ai_accuracy_rate"`
}

// Statistics returns lifetime counters for monitoring.
func (m *Manager) Statistics() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		TotalCases:    m.totalCases,
		PendingCases:  m.queue.Len(),
		ResolvedCases: m.resolvedCases,
	}
	if m.resolvedCases > 0 {
		s.AIAccuracyRate = float64(m.aiCorrect) / float64(m.resolvedCases)
	}
	return s
}

func computeUrgency(p contracts.Priority, risk float64, msgType contracts.MessageType) int {
	u := urgencyBase[p] + int(risk/25)
	switch msgType {
	case contracts.MessageCrisis:
		u++
	case contracts.MessageEmergency:
		u += 2
	}
	if u < 1 {
		u = 1
	}
	if u > 10 {
		u = 10
	}
	return u
}

func prioritySeverity(p contracts.Priority) contracts.AuditSeverity {
	switch p {
	case contracts.PriorityEmergency:
		return contracts.SeverityEmergency
	case contracts.PriorityUrgent:
		return contracts.SeverityCritical
	case contracts.PriorityHigh:
		return contracts.SeverityHigh
	case contracts.PriorityMedium:
		return contracts.SeverityMedium
	default:
		return contracts.SeverityLow
	}
}

func updatePerformance(p *contracts.Performance, ttr time.Duration, aiCorrect bool) {
	n := float64(p.CasesHandled)
	p.AverageResponseTime = time.Duration((float64(p.AverageResponseTime)*n + float64(ttr)) / (n + 1))
	agreement := 0.0
	if aiCorrect {
		agreement = 1.0
	}
	p.AccuracyRate = (p.AccuracyRate*n + agreement) / (n + 1)
	p.CasesHandled++
}

// countHits counts which of words appear as whole tokens (or token
// sequences) in text, so "might" does not match inside "mightier".
func countHits(text string, words []string) int {
	fields := strings.Fields(text)
	for i, f := range fields {
		fields[i] = strings.Trim(f, ".,!?;:'\"()")
	}
	padded := " " + strings.Join(fields, " ") + " "
	hits := 0
	for _, w := range words {
		if strings.Contains(padded, " "+w+" ") {
			hits++
		}
	}
	return hits
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	if containsString(list, s) {
		return list
	}
	return append(list, s)
}
