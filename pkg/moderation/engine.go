// Package moderation implements the moderation engine, the single entry
// point external collaborators call. It orchestrates language detection,
// result caching, ensemble-versus-primary strategy selection, crisis
// classification, action determination, and audit forwarding.
package moderation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/havenline/triage/pkg/cache"
	"github.com/havenline/triage/pkg/contracts"
	"github.com/havenline/triage/pkg/ensemble"
	"github.com/havenline/triage/pkg/langdetect"
	"github.com/havenline/triage/pkg/lexicon"
)

const (
	defaultCacheTTL      = 5 * time.Minute
	defaultLatencyBudget = 50 * time.Millisecond

	// fingerprintPrefixLen bounds how much content feeds the cache key.
	fingerprintPrefixLen = 256
)

// AuditSink receives every moderation decision. The audit recorder
// satisfies it; tests substitute their own.
type AuditSink interface {
	Record(ctx context.Context, ev contracts.AuditEvent) contracts.AuditReceipt
}

// Metrics receives per-decision latency observations. The observability
// provider satisfies it.
type Metrics interface {
	RecordDecision(ctx context.Context, action contracts.Action, d time.Duration)
}

// EventHandler is notified of engine events ("moderation_complete",
// "emergency_detected") for monitoring integrations.
type EventHandler func(event string, payload map[string]any)

// Thresholds are the classification cutoffs. The numeric values are
// deployment configuration; the ordering between them is not.
type Thresholds struct {
	Emergency float64 `yaml:"emergency"` // lexicon severity
	Critical  float64 `yaml:"critical"`
	High      float64 `yaml:"high"`
	Moderate  float64 `yaml:"moderate"`

	DespairHigh       float64 `yaml:"despair_high"`       // despair above -> HIGH
	SentimentModerate float64 `yaml:"sentiment_moderate"` // overall below -> MODERATE
	SentimentLow      float64 `yaml:"sentiment_low"`      // overall below -> LOW

	Block float64 `yaml:"block"` // risk score (0-100) above -> BLOCK outside crisis context
	Flag  float64 `yaml:"flag"`  // risk score above -> FLAG
}

// DefaultThresholds returns the reference cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Emergency:         0.95,
		Critical:          0.8,
		High:              0.6,
		Moderate:          0.4,
		DespairHigh:       0.8,
		SentimentModerate: -0.5,
		SentimentLow:      -0.2,
		Block:             80,
		Flag:              60,
	}
}

// Engine is the moderation pipeline front end. One engine serves all
// requests in a process; its caches and latency tracking are the only
// shared mutable state, each behind its own lock.
type Engine struct {
	scorer   *ensemble.Scorer
	analyzer *lexicon.Analyzer
	detector *langdetect.Detector
	results  cache.Cache
	sink     AuditSink
	metrics  Metrics
	logger   *slog.Logger
	clock    func() time.Time

	thresholds    Thresholds
	cacheTTL      time.Duration
	latencyBudget time.Duration

	handlerMu sync.RWMutex
	handlers  []EventHandler

	statMu       sync.Mutex
	totalLatency time.Duration
	decisions    uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache sets the result cache. Without one, every request is scored.
func WithCache(c cache.Cache) Option { return func(e *Engine) { e.results = c } }

// WithAuditSink sets the audit recorder the engine forwards decisions to.
func WithAuditSink(s AuditSink) Option { return func(e *Engine) { e.sink = s } }

// WithMetrics sets the metrics receiver.
func WithMetrics(m Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithThresholds overrides the classification cutoffs.
func WithThresholds(t Thresholds) Option { return func(e *Engine) { e.thresholds = t } }

// WithCacheTTL overrides the result cache TTL.
func WithCacheTTL(d time.Duration) Option { return func(e *Engine) { e.cacheTTL = d } }

// WithLatencyBudget overrides the per-request latency budget.
func WithLatencyBudget(d time.Duration) Option { return func(e *Engine) { e.latencyBudget = d } }

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option { return func(e *Engine) { e.clock = clock } }

// NewEngine builds an engine. scorer, analyzer and detector are required;
// everything else is optional.
func NewEngine(scorer *ensemble.Scorer, analyzer *lexicon.Analyzer, detector *langdetect.Detector, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		scorer:        scorer,
		analyzer:      analyzer,
		detector:      detector,
		logger:        logger.With("component", "moderation"),
		clock:         time.Now,
		thresholds:    DefaultThresholds(),
		cacheTTL:      defaultCacheTTL,
		latencyBudget: defaultLatencyBudget,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnEvent registers a monitoring event handler.
func (e *Engine) OnEvent(h EventHandler) {
	e.handlerMu.Lock()
	e.handlers = append(e.handlers, h)
	e.handlerMu.Unlock()
}

// Moderate scores a message and returns an actionable decision. It never
// returns an error for content problems or model failures: the caller
// must always receive a decision, so those degrade to safe or flagged
// results with the failure explained in the reasoning.
func (e *Engine) Moderate(ctx context.Context, req contracts.ModerationRequest) (*contracts.ModerationResult, error) {
	start := e.clock()

	content := strings.TrimSpace(req.Content)
	if content == "" {
		result := e.emptyContentResult(start)
		e.finish(ctx, req, result, start)
		return result, nil
	}

	lang := e.detector.Detect(content, req.Language)

	if cached := e.cachedResult(ctx, content, lang, req); cached != nil {
		cached.ProcessingTime = e.clock().Sub(start)
		e.finish(ctx, req, cached, start)
		return cached, nil
	}

	ensembleMode := req.EnsembleMode || req.Context.MessageType.IsCrisisChannel()

	keywords := e.analyzer.AnalyzeKeywords(content, lang)
	var sentiment contracts.Sentiment
	if ensembleMode {
		sentiment = e.analyzer.AnalyzeSentiment(content, lang)
	} else {
		sentiment = e.analyzer.QuickSentiment(content, lang)
	}

	var combined ensemble.Combined
	var scoreErr error
	if ensembleMode {
		combined, scoreErr = e.scorer.ScoreAll(ctx, content, lang)
	} else {
		combined, scoreErr = e.scorer.ScorePrimary(ctx, content, lang)
	}

	level := e.classifyCrisis(keywords, sentiment)

	var result *contracts.ModerationResult
	if scoreErr != nil {
		if !errors.Is(scoreErr, ensemble.ErrAllModelsFailed) && !errors.Is(scoreErr, ensemble.ErrNoModels) {
			return nil, scoreErr
		}
		// Total model failure must never silently allow.
		e.logger.Error("all scoring models failed, flagging for manual review", "error", scoreErr)
		result = e.degradedResult(keywords, sentiment, level, combined, lang, req)
	} else {
		result = e.buildResult(keywords, sentiment, level, combined, lang, req)
	}
	result.Timestamp = e.clock().UTC()
	result.ProcessingTime = e.clock().Sub(start)

	// A degraded decision reflects a transient outage; caching it would
	// keep serving the synthetic flag after the models recover.
	if scoreErr == nil {
		e.cacheResult(ctx, content, lang, req, result)
	}
	e.finish(ctx, req, result, start)
	return result, nil
}

// AverageLatency reports the rolling mean decision latency.
func (e *Engine) AverageLatency() time.Duration {
	e.statMu.Lock()
	defer e.statMu.Unlock()
	if e.decisions == 0 {
		return 0
	}
	return e.totalLatency / time.Duration(e.decisions)
}

func (e *Engine) classifyCrisis(kw lexicon.KeywordResult, s contracts.Sentiment) contracts.CrisisLevel {
	t := e.thresholds
	switch {
	case kw.Severity >= t.Emergency || kw.Category == lexicon.TierImmediate:
		return contracts.CrisisEmergency
	case kw.Severity >= t.Critical || kw.Category == lexicon.TierPlanning:
		return contracts.CrisisCritical
	case kw.Severity >= t.High || s.Emotions.Despair > t.DespairHigh:
		return contracts.CrisisHigh
	case kw.Severity >= t.Moderate || s.Overall < t.SentimentModerate:
		return contracts.CrisisModerate
	case kw.Severity > 0 || s.Overall < t.SentimentLow:
		return contracts.CrisisLow
	default:
		return contracts.CrisisNone
	}
}

// determineAction maps classification to the automated decision. Crisis
// and emergency channels never resolve to BLOCK: suppressing a message
// there can silence genuine help-seeking, so ambiguity escalates instead.
func (e *Engine) determineAction(level contracts.CrisisLevel, risk float64, msgType contracts.MessageType) contracts.Action {
	if msgType.IsCrisisChannel() {
		switch {
		case level == contracts.CrisisEmergency:
			return contracts.ActionEmergency
		case level == contracts.CrisisCritical, level == contracts.CrisisHigh:
			return contracts.ActionEscalate
		default:
			return contracts.ActionAllow
		}
	}
	switch {
	case level == contracts.CrisisEmergency:
		return contracts.ActionEmergency
	case level == contracts.CrisisCritical:
		return contracts.ActionEscalate
	case risk > e.thresholds.Block:
		return contracts.ActionBlock
	case risk > e.thresholds.Flag || level == contracts.CrisisHigh:
		return contracts.ActionFlag
	default:
		return contracts.ActionAllow
	}
}

func (e *Engine) buildResult(kw lexicon.KeywordResult, sentiment contracts.Sentiment, level contracts.CrisisLevel, combined ensemble.Combined, lang string, req contracts.ModerationRequest) *contracts.ModerationResult {
	risk := 100 * maxf(combined.Score, kw.Severity)
	confidence := 100 * combined.Confidence
	action := e.determineAction(level, risk, req.Context.MessageType)

	categories := append([]string(nil), combined.Categories...)
	if kw.Detected {
		categories = appendUnique(categories, "crisis")
	}

	return &contracts.ModerationResult{
		ID:              uuid.New().String(),
		Safe:            action == contracts.ActionAllow,
		RiskScore:       risk,
		ConfidenceScore: confidence,
		CrisisLevel:     level,
		Categories:      categories,
		Language:        lang,
		Flags:           buildFlags(combined, kw),
		Sentiment:       sentiment,
		Action:          action,
		Reasoning:       e.reasoning(kw, level, action, combined),
		Recommendations: recommendations(level, action),
		Models:          modelNames(combined.Votes),
		Votes:           combined.Votes,
	}
}

// degradedResult is the synthetic decision used when every scoring model
// failed. The lexicon still runs, so crisis classification survives, but
// the result is flagged (or escalated on crisis channels), never allowed.
func (e *Engine) degradedResult(kw lexicon.KeywordResult, sentiment contracts.Sentiment, level contracts.CrisisLevel, combined ensemble.Combined, lang string, req contracts.ModerationRequest) *contracts.ModerationResult {
	action := contracts.ActionFlag
	if req.Context.MessageType.IsCrisisChannel() {
		action = contracts.ActionEscalate
		if level == contracts.CrisisEmergency {
			action = contracts.ActionEmergency
		}
	}
	return &contracts.ModerationResult{
		ID:              uuid.New().String(),
		Safe:            false,
		RiskScore:       100 * maxf(0.5, kw.Severity),
		ConfidenceScore: 0,
		CrisisLevel:     level,
		Categories:      []string{"system_error"},
		Language:        lang,
		Flags:           buildFlags(combined, kw),
		Sentiment:       sentiment,
		Action:          action,
		Reasoning:       "system error: all scoring models failed, manual review required",
		Recommendations: []string{"route to human review queue"},
		Models:          modelNames(combined.Votes),
		Votes:           combined.Votes,
	}
}

func (e *Engine) emptyContentResult(start time.Time) *contracts.ModerationResult {
	return &contracts.ModerationResult{
		ID:              uuid.New().String(),
		Safe:            true,
		ConfidenceScore: 100,
		CrisisLevel:     contracts.CrisisNone,
		Language:        langdetect.DefaultLanguage,
		Action:          contracts.ActionAllow,
		Reasoning:       "empty content",
		Timestamp:       start.UTC(),
	}
}

func (e *Engine) reasoning(kw lexicon.KeywordResult, level contracts.CrisisLevel, action contracts.Action, combined ensemble.Combined) string {
	var b strings.Builder
	fmt.Fprintf(&b, "crisis level %s, action %s", level, action)
	if kw.Detected {
		fmt.Fprintf(&b, "; lexicon matched %s tier (severity %.2f)", kw.Category, kw.Severity)
		if len(kw.ProtectiveFactors) > 0 {
			fmt.Fprintf(&b, ", %d protective factor(s) present", len(kw.ProtectiveFactors))
		}
	}
	fmt.Fprintf(&b, "; ensemble score %.2f from %d model(s)", combined.Score, len(combined.Votes))
	return b.String()
}

func recommendations(level contracts.CrisisLevel, action contracts.Action) []string {
	switch {
	case action == contracts.ActionEmergency:
		return []string{
			"notify on-call crisis counselor immediately",
			"keep the session open and responsive",
		}
	case action == contracts.ActionEscalate:
		return []string{"assign a trained crisis reviewer"}
	case action == contracts.ActionBlock:
		return []string{"suppress message and notify sender of policy violation"}
	case action == contracts.ActionFlag:
		return []string{"queue for moderator review"}
	case level == contracts.CrisisLow:
		return []string{"continue monitoring the session"}
	default:
		return nil
	}
}

func (e *Engine) finish(ctx context.Context, req contracts.ModerationRequest, result *contracts.ModerationResult, start time.Time) {
	elapsed := e.clock().Sub(start)

	e.statMu.Lock()
	e.totalLatency += elapsed
	e.decisions++
	e.statMu.Unlock()

	if elapsed > e.latencyBudget {
		e.logger.Warn("moderation latency budget exceeded",
			"elapsed", elapsed, "budget", e.latencyBudget, "result_id", result.ID)
	}
	if e.metrics != nil {
		e.metrics.RecordDecision(ctx, result.Action, elapsed)
	}

	e.emit("moderation_complete", map[string]any{
		"result_id":    result.ID,
		"action":       string(result.Action),
		"crisis_level": string(result.CrisisLevel),
	})
	if result.CrisisLevel == contracts.CrisisEmergency {
		e.emit("emergency_detected", map[string]any{
			"result_id": result.ID,
			"language":  result.Language,
		})
	}

	e.recordAudit(ctx, req, result, elapsed)
}

func (e *Engine) recordAudit(ctx context.Context, req contracts.ModerationRequest, result *contracts.ModerationResult, elapsed time.Duration) {
	if e.sink == nil {
		return
	}
	analysis := &contracts.AnalysisSnapshot{
		ResultID:        result.ID,
		RiskScore:       result.RiskScore,
		ConfidenceScore: result.ConfidenceScore,
		CrisisLevel:     result.CrisisLevel,
		Action:          result.Action,
		Categories:      result.Categories,
		Models:          result.Models,
		Sentiment:       &result.Sentiment,
	}
	receipt := e.sink.Record(ctx, contracts.AuditEvent{
		Type:       contracts.AuditModerationAnalysis,
		Severity:   severityForLevel(result.CrisisLevel),
		Content:    req.Content,
		SessionRef: req.Context.SessionRef,
		UserRef:    req.Context.UserRef,
		Analysis:   analysis,
		Risk:       &contracts.RiskSnapshot{Level: result.RiskScore / 10},
		Decision: &contracts.DecisionSnapshot{
			Action:    result.Action,
			Automated: true,
			Reason:    result.Reasoning,
		},
		Timings: contracts.Timings{ProcessingTime: elapsed},
	})

	// A detected crisis gets its own linked event so compliance tooling
	// can query detections independently of routine analyses.
	if result.CrisisLevel.AtLeast(contracts.CrisisHigh) {
		e.sink.Record(ctx, contracts.AuditEvent{
			Type:          contracts.AuditCrisisDetection,
			Severity:      severityForLevel(result.CrisisLevel),
			Content:       req.Content,
			SessionRef:    req.Context.SessionRef,
			UserRef:       req.Context.UserRef,
			Analysis:      analysis,
			Risk:          &contracts.RiskSnapshot{Level: result.RiskScore / 10},
			Timings:       contracts.Timings{ProcessingTime: elapsed},
			ParentEventID: receipt.AuditID,
		})
	}
}

func (e *Engine) emit(event string, payload map[string]any) {
	e.handlerMu.RLock()
	handlers := make([]EventHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.handlerMu.RUnlock()
	for _, h := range handlers {
		h(event, payload)
	}
}

func (e *Engine) cachedResult(ctx context.Context, content, lang string, req contracts.ModerationRequest) *contracts.ModerationResult {
	if e.results == nil {
		return nil
	}
	data, ok := e.results.Get(ctx, fingerprint(content, lang, req.Context.MessageType))
	if !ok {
		return nil
	}
	var result contracts.ModerationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	// Cached analysis, fresh identity.
	result.ID = uuid.New().String()
	result.Cached = true
	result.Timestamp = e.clock().UTC()
	return &result
}

func (e *Engine) cacheResult(ctx context.Context, content, lang string, req contracts.ModerationRequest, result *contracts.ModerationResult) {
	if e.results == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	e.results.Set(ctx, fingerprint(content, lang, req.Context.MessageType), data, e.cacheTTL)
}

func fingerprint(content, lang string, msgType contracts.MessageType) string {
	prefix := content
	if len(prefix) > fingerprintPrefixLen {
		prefix = prefix[:fingerprintPrefixLen]
	}
	sum := sha256.Sum256([]byte(prefix + "|" + lang + "|" + string(msgType)))
	return "mod:" + hex.EncodeToString(sum[:16])
}

func severityForLevel(level contracts.CrisisLevel) contracts.AuditSeverity {
	switch level {
	case contracts.CrisisEmergency:
		return contracts.SeverityEmergency
	case contracts.CrisisCritical:
		return contracts.SeverityCritical
	case contracts.CrisisHigh:
		return contracts.SeverityHigh
	case contracts.CrisisModerate:
		return contracts.SeverityMedium
	default:
		return contracts.SeverityLow
	}
}

func buildFlags(combined ensemble.Combined, kw lexicon.KeywordResult) contracts.FlagScores {
	flags := contracts.FlagScores{Crisis: kw.Severity}
	for _, vote := range combined.Votes {
		if vote.Error != "" {
			continue
		}
		for _, cat := range vote.Categories {
			switch cat {
			case "toxicity":
				flags.Toxicity = maxf(flags.Toxicity, vote.Score)
			case "harassment":
				flags.Harassment = maxf(flags.Harassment, vote.Score)
			case "self_harm":
				flags.SelfHarm = maxf(flags.SelfHarm, vote.Score)
			case "violence":
				flags.Violence = maxf(flags.Violence, vote.Score)
			case "spam":
				flags.Spam = maxf(flags.Spam, vote.Score)
			}
		}
	}
	return flags
}

func modelNames(votes []contracts.ModelVote) []string {
	names := make([]string, 0, len(votes))
	for _, v := range votes {
		if v.Error == "" {
			names = append(names, v.Model)
		}
	}
	return names
}

func appendUnique(list []string, item string) []string {
	for _, s := range list {
		if s == item {
			return list
		}
	}
	return append(list, item)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
