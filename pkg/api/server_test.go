package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenline/triage/pkg/audit"
	"github.com/havenline/triage/pkg/contracts"
	"github.com/havenline/triage/pkg/ensemble"
	"github.com/havenline/triage/pkg/langdetect"
	"github.com/havenline/triage/pkg/lexicon"
	"github.com/havenline/triage/pkg/moderation"
	"github.com/havenline/triage/pkg/oversight"
)

func newTestServer(t *testing.T) (*Server, *audit.Recorder, *oversight.Manager) {
	t.Helper()

	reg := ensemble.NewRegistry()
	require.NoError(t, reg.Register(ensemble.NewToxicityModel()))
	require.NoError(t, reg.Register(ensemble.NewPatternModel()))
	require.NoError(t, reg.Register(ensemble.NewSignalModel()))

	recorder := audit.NewRecorder(audit.NewMemoryStore(), nil)
	t.Cleanup(func() { _ = recorder.Close() })

	manager := oversight.NewManager(oversight.WithAuditSink(recorder))
	engine := moderation.NewEngine(
		ensemble.NewScorer(reg, nil),
		lexicon.NewAnalyzer(),
		langdetect.New(),
		nil,
		moderation.WithAuditSink(recorder),
	)
	return NewServer(engine, manager, recorder, nil), recorder, manager
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestModerateEndToEnd(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/moderate", contracts.ModerationRequest{
		Content: "I have the pills and I'm taking them tonight",
		Context: contracts.RequestContext{MessageType: contracts.MessageCrisis},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ModerateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Result)
	assert.Equal(t, contracts.CrisisEmergency, resp.Result.CrisisLevel)
	assert.Equal(t, contracts.ActionEmergency, resp.Result.Action)

	require.NotNil(t, resp.Oversight)
	assert.True(t, resp.Oversight.Needed)
	assert.Equal(t, contracts.PriorityEmergency, resp.Oversight.Priority)
	assert.NotEmpty(t, resp.Oversight.CaseID)
}

func TestModerateRejectsMissingMessageType(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/moderate", contracts.ModerationRequest{
		Content: "hello",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestModerateRejectsMalformedBody(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/moderate", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	srv, _, manager := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/oversight/experts", contracts.ExpertProfile{
		ID:        "e1",
		Expertise: []string{"crisis_counseling"},
		Availability: contracts.Availability{
			Status:             contracts.ExpertAvailable,
			MaxConcurrentCases: 3,
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/moderate", contracts.ModerationRequest{
		Content: "I have the pills and I'm taking them tonight",
		Context: contracts.RequestContext{MessageType: contracts.MessageCrisis},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ModerateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Oversight)
	caseID := resp.Oversight.CaseID
	assert.True(t, resp.Oversight.Assigned)

	rec = doJSON(t, h, http.MethodGet, "/v1/oversight/cases/"+caseID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var c contracts.OversightCase
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&c))
	assert.Equal(t, contracts.CaseAssigned, c.Status)

	// Only the assigned expert can open the review.
	rec = doJSON(t, h, http.MethodPost, "/v1/oversight/cases/"+caseID+"/review",
		map[string]string{"expert_id": "intruder"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/oversight/cases/"+caseID+"/review",
		map[string]string{"expert_id": "e1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&c))
	assert.Equal(t, contracts.CaseInReview, c.Status)

	rec = doJSON(t, h, http.MethodPost, "/v1/oversight/cases/"+caseID+"/resolve", contracts.Resolution{
		Decision:    contracts.DecisionApproveAI,
		FinalAction: contracts.ActionEmergency,
		Reasoning:   "correct call",
		ResolvedBy:  "e1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resolved, err := manager.Case(caseID)
	require.NoError(t, err)
	assert.Equal(t, contracts.CaseResolved, resolved.Status)

	// Resolving again conflicts.
	rec = doJSON(t, h, http.MethodPost, "/v1/oversight/cases/"+caseID+"/resolve", contracts.Resolution{
		Decision:   contracts.DecisionApproveAI,
		ResolvedBy: "e1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEvaluateEndpointOpensCase(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/oversight/evaluate", EvaluateRequest{
		Content: "I am not sure what to do",
		Result: &contracts.ModerationResult{
			CrisisLevel:     contracts.CrisisNone,
			Action:          contracts.ActionAllow,
			RiskScore:       10,
			ConfidenceScore: 40,
		},
		Context: contracts.RequestContext{MessageType: contracts.MessageVolunteer},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var summary OversightSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	assert.True(t, summary.Needed, "confidence below threshold must escalate")
	assert.NotEmpty(t, summary.CaseID)
	assert.Equal(t, contracts.PriorityMedium, summary.Priority)
}

func TestEvaluateEndpointRequiresResult(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/oversight/evaluate", EvaluateRequest{
		Content: "hello",
		Context: contracts.RequestContext{MessageType: contracts.MessageGeneral},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveUnknownCaseIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/oversight/cases/missing/resolve", contracts.Resolution{
		Decision:   contracts.DecisionApproveAI,
		ResolvedBy: "e1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditQueryAndVerify(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	for i := 0; i < 3; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/moderate", contracts.ModerationRequest{
			Content: fmt.Sprintf("message number %d", i),
			Context: contracts.RequestContext{MessageType: contracts.MessageGeneral},
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/audit/query", audit.Query{
		Types: []contracts.AuditEventType{contracts.AuditModerationAnalysis},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var result audit.QueryResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 3, result.TotalCount)

	rec = doJSON(t, h, http.MethodGet, "/v1/audit/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var verify map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&verify))
	assert.Equal(t, true, verify["verified"])
}

func TestAnalyticsRejectsBadTimestamps(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/audit/analytics?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComplianceReportRequiresRegulation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/audit/compliance-report", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterMiddleware(t *testing.T) {
	srv, _, _ := newTestServer(t)
	limited := NewGlobalRateLimiter(1, 2).Middleware(srv.Handler())

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		codes[rec.Code]++
	}
	assert.Equal(t, 2, codes[http.StatusOK], "burst of 2 allowed")
	assert.Equal(t, 3, codes[http.StatusTooManyRequests])
}
