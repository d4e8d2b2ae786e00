package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aerogate/pkg/audit"
	"aerogate/pkg/models"
)

func stubGateway(t *testing.T, wantPath string, status int, response interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, wantPath) {
			t.Errorf("unexpected path %s, want prefix %s", r.URL.Path, wantPath)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunRequiresCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run(nil, &out); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out.String(), "aeroctl commands:") {
		t.Fatalf("expected usage, got %q", out.String())
	}
	if err := run([]string{"bogus"}, &out); err == nil {
		t.Fatal("expected unknown command error")
	}
}

func TestPolicyCheckCommand(t *testing.T) {
	srv := stubGateway(t, "/v1/policy/check", 200, map[string]interface{}{
		"allowed": true,
		"reason":  "capability is allowed for R1",
	})
	var out bytes.Buffer
	err := run([]string{"policy-check", "--url", srv.URL, "--user", "cs_agent_001", "--tier", "R1", "--capability", "tool_invocation"}, &out)
	if err != nil {
		t.Fatalf("policy-check failed: %v", err)
	}
	if !strings.Contains(out.String(), "\"allowed\": true") {
		t.Fatalf("expected decision in output: %s", out.String())
	}
}

func TestPolicyCheckMissingFlags(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"policy-check", "--user", "u"}, &out); err == nil {
		t.Fatal("expected error for missing tier and capability")
	}
}

func TestInvokeCommand(t *testing.T) {
	srv := stubGateway(t, "/v1/tools/invoke", 200, map[string]interface{}{
		"success": true,
		"status":  "success",
	})
	var out bytes.Buffer
	err := run([]string{"invoke", "--url", srv.URL, "--tool", "get_flight_status",
		"--params", `{"flight_number":"NZ1"}`, "--user", "cs_agent_001"}, &out)
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if !strings.Contains(out.String(), "\"success\": true") {
		t.Fatalf("expected result in output: %s", out.String())
	}
}

func TestInvokeBadParams(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"invoke", "--tool", "get_flight_status", "--params", "not-json"}, &out)
	if err == nil || !strings.Contains(err.Error(), "parse params") {
		t.Fatalf("expected params parse error, got %v", err)
	}
}

func TestApproveCommandErrorStatus(t *testing.T) {
	srv := stubGateway(t, "/v1/approvals/", 403, map[string]interface{}{
		"error": "approvals: self-approval not allowed",
	})
	var out bytes.Buffer
	err := run([]string{"approve", "--url", srv.URL, "--request", "approval_1", "--approver", "engineer_001"}, &out)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
	if !strings.Contains(out.String(), "self-approval") {
		t.Fatalf("expected error body echoed: %s", out.String())
	}
}

func TestTraceAndReportCommands(t *testing.T) {
	srv := stubGateway(t, "/v1/traces/trace-1", 200, map[string]interface{}{"trace_id": "trace-1"})
	var out bytes.Buffer
	if err := run([]string{"trace", "--url", srv.URL, "--id", "trace-1"}, &out); err != nil {
		t.Fatalf("trace failed: %v", err)
	}

	srv2 := stubGateway(t, "/v1/reports/compliance", 200, map[string]interface{}{"risk_tier": "R2"})
	out.Reset()
	if err := run([]string{"report", "--url", srv2.URL, "--tier", "R2"}, &out); err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if !strings.Contains(out.String(), "R2") {
		t.Fatalf("expected report tier: %s", out.String())
	}
}

func TestHashTraceCommand(t *testing.T) {
	trace := models.ExecutionTrace{
		TraceID: "trace-offline",
		UserID:  "cs_agent_001",
		Query:   "carry-on allowance",
	}
	raw, err := json.Marshal(trace)
	if err != nil {
		t.Fatalf("marshal trace: %v", err)
	}
	path := filepath.Join(t.TempDir(), "trace.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write trace: %v", err)
	}

	var out bytes.Buffer
	if err := run([]string{"hash-trace", "--trace", path}, &out); err != nil {
		t.Fatalf("hash-trace failed: %v", err)
	}
	got := strings.TrimSpace(out.String())
	want, err := audit.ComputeHash(&trace)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if got != want {
		t.Fatalf("hash mismatch: got %s want %s", got, want)
	}
	if len(got) != 64 {
		t.Fatalf("expected sha256 hex, got %q", got)
	}
}

func TestHashTraceMissingFile(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"hash-trace", "--trace", "/nonexistent.json"}, &out); err == nil {
		t.Fatal("expected error for missing file")
	}
}
