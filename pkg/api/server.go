package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/havenline/triage/pkg/audit"
	"github.com/havenline/triage/pkg/contracts"
	"github.com/havenline/triage/pkg/moderation"
	"github.com/havenline/triage/pkg/oversight"
)

const maxBodyBytes = 1 << 20 // 1MB limit

// Server wires the moderation engine, the oversight manager and the
// audit recorder into an HTTP surface.
type Server struct {
	engine   *moderation.Engine
	oversee  *oversight.Manager
	recorder *audit.Recorder
	logger   *slog.Logger
}

// NewServer creates the API server. The oversight manager and recorder
// are optional; their endpoints return 404 when absent.
func NewServer(engine *moderation.Engine, oversee *oversight.Manager, recorder *audit.Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		oversee:  oversee,
		recorder: recorder,
		logger:   logger.With("component", "api"),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/moderate", s.handleModerate)
	mux.HandleFunc("POST /v1/oversight/evaluate", s.handleEvaluate)
	mux.HandleFunc("GET /v1/oversight/cases", s.handleListCases)
	mux.HandleFunc("GET /v1/oversight/cases/{id}", s.handleGetCase)
	mux.HandleFunc("POST /v1/oversight/cases/{id}/review", s.handleStartReview)
	mux.HandleFunc("POST /v1/oversight/cases/{id}/resolve", s.handleResolveCase)
	mux.HandleFunc("POST /v1/oversight/experts", s.handleRegisterExpert)
	mux.HandleFunc("GET /v1/oversight/stats", s.handleOversightStats)
	mux.HandleFunc("POST /v1/audit/query", s.handleAuditQuery)
	mux.HandleFunc("GET /v1/audit/entries/{id}", s.handleAuditEntry)
	mux.HandleFunc("GET /v1/audit/analytics", s.handleAnalytics)
	mux.HandleFunc("GET /v1/audit/compliance-report", s.handleComplianceReport)
	mux.HandleFunc("GET /v1/audit/verify", s.handleVerifyChain)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// OversightSummary reports the escalation outcome alongside a decision.
type OversightSummary struct {
	Needed    bool               `json:"needed"`
	CaseID    string             `json:"case_id,omitempty"`
	Priority  contracts.Priority `json:"priority,omitempty"`
	Assigned  bool               `json:"assigned,omitempty"`
	Reasoning []string           `json:"reasoning,omitempty"`
}

// ModerateResponse is the full pipeline output for one message.
type ModerateResponse struct {
	Result    *contracts.ModerationResult `json:"result"`
	Oversight *OversightSummary           `json:"oversight,omitempty"`
}

func (s *Server) handleModerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req contracts.ModerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Context.MessageType == "" {
		WriteBadRequest(w, "Missing required field: context.message_type")
		return
	}
	if req.Context.Timestamp.IsZero() {
		req.Context.Timestamp = time.Now()
	}

	result, err := s.engine.Moderate(r.Context(), req)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	resp := ModerateResponse{Result: result}
	if s.oversee != nil {
		eval, err := s.oversee.Evaluate(r.Context(), req.Content, result, req.Context)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		if eval.NeedsOversight {
			resp.Oversight = &OversightSummary{
				Needed:    true,
				CaseID:    eval.Case.ID,
				Priority:  eval.Priority,
				Assigned:  eval.Assigned,
				Reasoning: eval.Reasoning,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// EvaluateRequest asks for an oversight decision on an already-moderated
// message, for callers that run moderation and escalation separately.
type EvaluateRequest struct {
	Content string                      `json:"content"`
	Result  *contracts.ModerationResult `json:"result"`
	Context contracts.RequestContext    `json:"context"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.oversee == nil {
		WriteNotFound(w, "Oversight is not enabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Result == nil {
		WriteBadRequest(w, "Missing required field: result")
		return
	}
	if req.Context.MessageType == "" {
		WriteBadRequest(w, "Missing required field: context.message_type")
		return
	}

	eval, err := s.oversee.Evaluate(r.Context(), req.Content, req.Result, req.Context)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	summary := OversightSummary{Needed: eval.NeedsOversight}
	if eval.NeedsOversight {
		summary.CaseID = eval.Case.ID
		summary.Priority = eval.Priority
		summary.Assigned = eval.Assigned
		summary.Reasoning = eval.Reasoning
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	if s.oversee == nil {
		WriteNotFound(w, "Oversight is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": s.oversee.PendingCases(),
	})
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	if s.oversee == nil {
		WriteNotFound(w, "Oversight is not enabled")
		return
	}
	c, err := s.oversee.Case(r.PathValue("id"))
	if err != nil {
		WriteNotFound(w, "No such case")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleStartReview(w http.ResponseWriter, r *http.Request) {
	if s.oversee == nil {
		WriteNotFound(w, "Oversight is not enabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body struct {
		ExpertID string `json:"expert_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if body.ExpertID == "" {
		WriteBadRequest(w, "Missing required field: expert_id")
		return
	}

	c, err := s.oversee.StartReview(r.PathValue("id"), body.ExpertID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, c)
	case isUnknownCase(err):
		WriteNotFound(w, "No such case")
	default:
		WriteConflict(w, err.Error())
	}
}

func (s *Server) handleResolveCase(w http.ResponseWriter, r *http.Request) {
	if s.oversee == nil {
		WriteNotFound(w, "Oversight is not enabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var res contracts.Resolution
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if res.Decision == "" || res.ResolvedBy == "" {
		WriteBadRequest(w, "Missing required fields: decision, resolved_by")
		return
	}

	c, err := s.oversee.Resolve(r.Context(), r.PathValue("id"), res)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, c)
	case isUnknownCase(err):
		WriteNotFound(w, "No such case")
	default:
		WriteConflict(w, err.Error())
	}
}

func (s *Server) handleRegisterExpert(w http.ResponseWriter, r *http.Request) {
	if s.oversee == nil {
		WriteNotFound(w, "Oversight is not enabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var profile contracts.ExpertProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := s.oversee.RegisterExpert(profile); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": profile.ID})
}

func (s *Server) handleOversightStats(w http.ResponseWriter, r *http.Request) {
	if s.oversee == nil {
		WriteNotFound(w, "Oversight is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.oversee.Statistics())
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		WriteNotFound(w, "Auditing is not enabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var q audit.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	result, err := s.recorder.Query(r.Context(), q)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAuditEntry(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		WriteNotFound(w, "Auditing is not enabled")
		return
	}
	entry, err := s.recorder.GetEntry(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteNotFound(w, "No such audit entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		WriteNotFound(w, "Auditing is not enabled")
		return
	}
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	a, err := s.recorder.Analytics(r.Context(), from, to)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		WriteNotFound(w, "Auditing is not enabled")
		return
	}
	regulation := r.URL.Query().Get("regulation")
	if regulation == "" {
		WriteBadRequest(w, "Missing required parameter: regulation")
		return
	}
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	report, err := s.recorder.ComplianceReport(r.Context(), regulation, from, to)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		WriteNotFound(w, "Auditing is not enabled")
		return
	}
	n, err := s.recorder.VerifyChain(r.Context())
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"verified": false,
			"entries":  n,
			"error":    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verified": true,
		"entries":  n,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseRange reads optional from/to RFC 3339 query parameters.
func parseRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "Invalid from timestamp, want RFC 3339")
			return from, to, false
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "Invalid to timestamp, want RFC 3339")
			return from, to, false
		}
		to = t
	}
	return from, to, true
}

func isUnknownCase(err error) bool {
	return errors.Is(err, oversight.ErrUnknownCase)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
