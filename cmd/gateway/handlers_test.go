package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aerogate/pkg/config"
	"aerogate/pkg/opsdata"
	"aerogate/pkg/ratelimit"
	"aerogate/pkg/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := opsdata.Open(":memory:")
	if err != nil {
		t.Fatalf("open opsdata: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	s, err := newServer(cfg, db, store.NewMemoryCache(), ratelimit.NewSlidingWindow(time.Minute), nil, nil)
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	return s
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	out := map[string]interface{}{}
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			// list responses decode elsewhere
			out = nil
		}
	}
	return rr, out
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rr, body := doJSON(t, s.routes(), http.MethodGet, "/healthz", nil)
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestPolicyCheckEndpoint(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()

	rr, body := doJSON(t, h, http.MethodPost, "/v1/policy/check", map[string]interface{}{
		"user_id":    "cs_agent_001",
		"risk_tier":  "R1",
		"capability": "tool_invocation",
	})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body["allowed"] != true {
		t.Fatalf("expected allowed for R1 tool_invocation: %v", body)
	}

	rr, body = doJSON(t, h, http.MethodPost, "/v1/policy/check", map[string]interface{}{
		"user_id":    "cs_agent_001",
		"risk_tier":  "R1",
		"capability": "write_operations",
	})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body["allowed"] != false {
		t.Fatalf("expected denial for R1 write_operations: %v", body)
	}

	rr, _ = doJSON(t, h, http.MethodPost, "/v1/policy/check", map[string]interface{}{
		"risk_tier":  "R9",
		"capability": "tool_invocation",
	})
	if rr.Code != 400 {
		t.Fatalf("expected 400 for unknown tier, got %d", rr.Code)
	}

	snap := s.Metrics.Snapshot()
	if snap.GateDecisions["allowed"] != 1 || snap.GateDecisions["denied"] != 1 {
		t.Fatalf("unexpected gate decision counters: %v", snap.GateDecisions)
	}
}

func TestPolicyUpdateAndRollbackEndpoints(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()

	rr, body := doJSON(t, h, http.MethodPost, "/v1/policy/update", map[string]interface{}{
		"risk_tier": "R0",
		"policy": map[string]interface{}{
			"version":   "1.1.0",
			"risk_tier": "R0",
			"allowed_capabilities": []map[string]interface{}{
				{"capability": "internet_access"},
				{"capability": "tool_invocation"},
			},
		},
		"approved_by": "governance_board",
		"regression":  map[string]interface{}{"passed": true},
	})
	if rr.Code != 200 || body["updated"] != true {
		t.Fatalf("expected update success, got %d %v", rr.Code, body)
	}

	rr, body = doJSON(t, h, http.MethodGet, "/v1/policy/R0", nil)
	if rr.Code != 200 || body["version"] != "1.1.0" {
		t.Fatalf("expected active 1.1.0, got %d %v", rr.Code, body)
	}

	rr, body = doJSON(t, h, http.MethodPost, "/v1/policy/rollback", map[string]interface{}{"risk_tier": "R0"})
	if rr.Code != 200 || body["rolled_back"] != true {
		t.Fatalf("expected rollback success, got %d %v", rr.Code, body)
	}

	rr, body = doJSON(t, h, http.MethodGet, "/v1/policy/R0", nil)
	if body["version"] != "1.0.0" {
		t.Fatalf("expected active 1.0.0 after rollback, got %v", body)
	}

	rr, body = doJSON(t, h, http.MethodPost, "/v1/policy/update", map[string]interface{}{
		"risk_tier":   "R0",
		"policy":      map[string]interface{}{"version": "2.0.0", "risk_tier": "R0"},
		"regression":  map[string]interface{}{"passed": false},
		"approved_by": "governance_board",
	})
	if body["updated"] != false {
		t.Fatalf("regression failure must block update: %v", body)
	}

	rr, _ = doJSON(t, h, http.MethodGet, "/v1/policy/R9", nil)
	if rr.Code != 400 {
		t.Fatalf("expected 400 for unknown tier, got %d", rr.Code)
	}
}

func TestToolInvokeEndpoint(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()

	rr, body := doJSON(t, h, http.MethodPost, "/v1/tools/invoke", map[string]interface{}{
		"tool_id":    "get_flight_status",
		"parameters": map[string]interface{}{"flight_number": "NZ1"},
		"user_id":    "cs_agent_001",
		"risk_tier":  "R1",
	})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body["success"] != true {
		t.Fatalf("expected success: %v", body)
	}
	result, _ := body["result"].(map[string]interface{})
	if result["status"] != "delayed" {
		t.Fatalf("expected NZ1 delayed, got %v", result)
	}

	rr, _ = doJSON(t, h, http.MethodPost, "/v1/tools/invoke", map[string]interface{}{
		"parameters": map[string]interface{}{},
	})
	if rr.Code != 400 {
		t.Fatalf("expected 400 without tool_id, got %d", rr.Code)
	}

	rr, body = doJSON(t, h, http.MethodGet, "/v1/tools/metrics", nil)
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body["total_invocations"] != float64(1) {
		t.Fatalf("expected 1 invocation, got %v", body)
	}

	snap := s.Metrics.Snapshot()
	if snap.ToolStatuses["success"] != 1 {
		t.Fatalf("expected tool status counter: %v", snap.ToolStatuses)
	}
}

func TestEvidenceValidateEndpoint(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()

	rr, body := doJSON(t, h, http.MethodPost, "/v1/evidence/validate", map[string]interface{}{
		"package": map[string]interface{}{
			"query":     "carry-on allowance?",
			"answer":    "7kg per passenger",
			"risk_tier": "R1",
			"citations": []interface{}{},
		},
		"require_citations": true,
	})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body["valid"] != false || body["answerable"] != false {
		t.Fatalf("citationless R1 package must be blocked: %v", body)
	}

	rr, body = doJSON(t, h, http.MethodPost, "/v1/evidence/validate", map[string]interface{}{
		"package": map[string]interface{}{
			"query":     "draft an email",
			"answer":    "done",
			"risk_tier": "R0",
		},
		"require_citations": false,
	})
	if body["answerable"] != true {
		t.Fatalf("R0 must answer without citations: %v", body)
	}
}

func TestAccessCheckEndpoint(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()

	rr, body := doJSON(t, h, http.MethodPost, "/v1/access/check", map[string]interface{}{
		"user_id": "cs_agent_001",
		"action":  "read",
		"resource": map[string]interface{}{
			"resource_id":     "POL-BAGGAGE-001",
			"resource_type":   "policies",
			"business_domain": "customer_service",
			"sensitivity":     "internal",
		},
	})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body["allowed"] != true {
		t.Fatalf("expected grant: %v", body)
	}

	rr, body = doJSON(t, h, http.MethodPost, "/v1/access/check", map[string]interface{}{
		"user_id": "cs_agent_001",
		"action":  "read",
		"resource": map[string]interface{}{
			"resource_id":     "MAINT-MEL-001",
			"resource_type":   "maintenance_docs",
			"business_domain": "engineering",
			"sensitivity":     "confidential",
		},
	})
	if body["allowed"] != false {
		t.Fatalf("expected cross-domain denial: %v", body)
	}
	reason, _ := body["reason"].(string)
	if !strings.Contains(reason, ";") {
		t.Fatalf("expected multiple joined deny reasons, got %q", reason)
	}

	rr, _ = doJSON(t, h, http.MethodPost, "/v1/access/check", map[string]interface{}{
		"user_id": "ghost_user",
		"action":  "read",
		"resource": map[string]interface{}{
			"resource_id": "POL-BAGGAGE-001",
		},
	})
	if rr.Code != 404 {
		t.Fatalf("expected 404 for unknown user, got %d", rr.Code)
	}
}

func approvalBody() map[string]interface{} {
	return map[string]interface{}{
		"tool_id": "create_work_order",
		"parameters": map[string]interface{}{
			"aircraft_registration": "ZK-OKM",
			"work_type":             "corrective",
			"priority":              "high",
			"description":           "Hydraulic pump pressure fluctuation inspection",
		},
		"requested_by": "engineer_001",
		"session_id":   "sess-9",
		"query":        "create work order for ZK-OKM hydraulics",
	}
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()

	rr, body := doJSON(t, h, http.MethodPost, "/v1/approvals", approvalBody())
	if rr.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	requestID, _ := body["id"].(string)
	if requestID == "" || body["status"] != "pending_approval" {
		t.Fatalf("unexpected request: %v", body)
	}

	// requester cannot approve their own request
	rr, _ = doJSON(t, h, http.MethodPost, "/v1/approvals/"+requestID+"/approve", map[string]interface{}{
		"approver_id": "engineer_001",
		"approved":    true,
	})
	if rr.Code != 403 {
		t.Fatalf("expected 403 for self-approval, got %d", rr.Code)
	}

	rr, body = doJSON(t, h, http.MethodPost, "/v1/approvals/"+requestID+"/approve", map[string]interface{}{
		"approver_id": "supervisor_001",
		"approved":    true,
	})
	if rr.Code != 200 || body["status"] != "pending_approval" {
		t.Fatalf("expected pending after first approval, got %d %v", rr.Code, body)
	}

	// same approver cannot be counted twice
	rr, _ = doJSON(t, h, http.MethodPost, "/v1/approvals/"+requestID+"/approve", map[string]interface{}{
		"approver_id": "supervisor_001",
		"approved":    true,
	})
	if rr.Code != 409 {
		t.Fatalf("expected 409 for duplicate approver, got %d", rr.Code)
	}

	rr, body = doJSON(t, h, http.MethodPost, "/v1/approvals/"+requestID+"/approve", map[string]interface{}{
		"approver_id": "duty_manager_001",
		"approved":    true,
	})
	if rr.Code != 200 {
		t.Fatalf("expected 200 on quorum, got %d: %s", rr.Code, rr.Body.String())
	}
	if body["status"] != "completed" {
		t.Fatalf("expected completed, got %v", body)
	}
	wo, _ := body["wo_number"].(string)
	if !strings.HasPrefix(wo, "WO-") {
		t.Fatalf("expected work order number, got %q", wo)
	}

	if _, err := s.DB.GetWorkOrder(wo); err != nil {
		t.Fatalf("work order not persisted: %v", err)
	}

	rr, body = doJSON(t, h, http.MethodGet, "/v1/approvals/"+requestID, nil)
	if rr.Code != 200 || body["status"] != "completed" {
		t.Fatalf("expected completed request, got %d %v", rr.Code, body)
	}

	rr, _ = doJSON(t, h, http.MethodGet, "/v1/approvals/missing", nil)
	if rr.Code != 404 {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestTraceLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()

	create := map[string]interface{}{
		"trace_id":   "trace-http-1",
		"session_id": "sess-1",
		"user_id":    "cs_agent_001",
		"query":      "what is the carry-on allowance?",
		"risk_tier":  "R1",
	}
	rr, _ := doJSON(t, h, http.MethodPost, "/v1/traces", create)
	if rr.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr, _ = doJSON(t, h, http.MethodPost, "/v1/traces", create)
	if rr.Code != 409 {
		t.Fatalf("expected 409 on duplicate trace, got %d", rr.Code)
	}

	rr, body := doJSON(t, h, http.MethodPost, "/v1/traces/trace-http-1/events", map[string]interface{}{
		"event_type": "retrieval_executed",
		"component":  "retrieval",
		"action":     "search_policies",
		"status":     "success",
	})
	if rr.Code != 201 {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if body["orphaned_trace"] != false {
		t.Fatalf("known trace must not orphan: %v", body)
	}
	event, _ := body["event"].(map[string]interface{})
	if event["event_id"] != "trace-http-1_0" {
		t.Fatalf("unexpected event id: %v", event)
	}

	rr, body = doJSON(t, h, http.MethodPost, "/v1/traces/trace-http-1/complete", map[string]interface{}{
		"final_response": "7kg per passenger [POL-BAGGAGE-001 v2.3]",
		"status":         "completed",
	})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	hash, _ := body["hash"].(string)
	if len(hash) != 64 {
		t.Fatalf("expected sha256 hash, got %q", hash)
	}

	rr, body = doJSON(t, h, http.MethodGet, "/v1/traces/trace-http-1", nil)
	if rr.Code != 200 || body["status"] != "completed" {
		t.Fatalf("unexpected trace: %d %v", rr.Code, body)
	}

	rr, body = doJSON(t, h, http.MethodPost, "/v1/traces/trace-http-1/replay", map[string]interface{}{
		"verify_determinism": false,
	})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body["trace_id"] != "trace-http-1" {
		t.Fatalf("unexpected replay report: %v", body)
	}
	if body["output_matched"] != true {
		t.Fatalf("replay without determinism check must report output matched: %v", body)
	}

	rr, _ = doJSON(t, h, http.MethodGet, "/v1/traces/missing", nil)
	if rr.Code != 404 {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestTraceHistoryAndReportEndpoints(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()

	for i := 0; i < 3; i++ {
		userID := "cs_agent_001"
		if i == 2 {
			userID = "dispatcher_001"
		}
		doJSON(t, h, http.MethodPost, "/v1/traces", map[string]interface{}{
			"trace_id":  fmt.Sprintf("trace-h-%d", i),
			"user_id":   userID,
			"query":     "q",
			"risk_tier": "R1",
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/traces?user_id=cs_agent_001", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var traces []map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &traces); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(traces) != 2 {
		t.Fatalf("expected 2 traces for user, got %d", len(traces))
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/traces?start_date=not-a-date", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != 400 {
		t.Fatalf("expected 400 for bad date, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/reports/compliance?risk_tier=R1", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var report map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report["risk_tier"] != "R1" {
		t.Fatalf("unexpected report: %v", report)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()

	doJSON(t, h, http.MethodGet, "/healthz", nil)

	ch := s.Events.Subscribe(1)
	defer s.Events.Unsubscribe(ch)

	rr, body := doJSON(t, h, http.MethodGet, "/metrics", nil)
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	gauges, ok := body["gauges"].(map[string]any)
	if !ok {
		t.Fatalf("expected gauges in snapshot, got %v", body)
	}
	if gauges["stream_subscribers"] != float64(1) {
		t.Fatalf("expected 1 stream subscriber gauge, got %v", gauges["stream_subscribers"])
	}
	if _, ok := gauges["stream_dropped_events"]; !ok {
		t.Fatalf("expected dropped-events gauge, got %v", gauges)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "aerogate_endpoint_count") {
		t.Fatalf("missing exposition: %s", rec.Body.String())
	}
}

func TestStaticBearerAuthOnRoutes(t *testing.T) {
	db, err := opsdata.Open(":memory:")
	if err != nil {
		t.Fatalf("open opsdata: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Auth.Mode = "static_bearer"
	cfg.Auth.Secret = "token-1"
	s, err := newServer(cfg, db, store.NewMemoryCache(), ratelimit.NewSlidingWindow(time.Minute), nil, nil)
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	h := s.routes()

	req := httptest.NewRequest(http.MethodGet, "/v1/traces", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/traces", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	req.Header.Set("X-User-ID", "cs_agent_001")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}

	// healthz stays open
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz must not require auth, got %d", rr.Code)
	}
}
