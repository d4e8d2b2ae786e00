package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"aerogate/pkg/access"
	"aerogate/pkg/approvals"
	"aerogate/pkg/audit"
	"aerogate/pkg/httpx"
	"aerogate/pkg/models"
	"aerogate/pkg/opsdata"
	"aerogate/pkg/policy"
	"aerogate/pkg/stream"
	"aerogate/pkg/toolgate"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

type policyCheckRequest struct {
	UserID         string          `json:"user_id"`
	Role           string          `json:"role"`
	BusinessDomain string          `json:"business_domain"`
	UseCaseID      string          `json:"use_case_id"`
	RiskTier       models.RiskTier `json:"risk_tier"`
	SessionID      string          `json:"session_id"`
	Capability     string          `json:"capability"`
	TraceID        string          `json:"trace_id,omitempty"`
}

func (s *Server) handlePolicyCheck(w http.ResponseWriter, r *http.Request) {
	var req policyCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if !models.ValidTier(req.RiskTier) {
		httpx.Error(w, 400, "unknown risk tier")
		return
	}
	if strings.TrimSpace(req.Capability) == "" {
		httpx.Error(w, 400, "capability required")
		return
	}
	ectx := models.ExecutionContext{
		UserID:         req.UserID,
		Role:           req.Role,
		BusinessDomain: req.BusinessDomain,
		UseCaseID:      req.UseCaseID,
		RiskTier:       req.RiskTier,
		SessionID:      req.SessionID,
		Timestamp:      time.Now().UTC(),
	}
	decision := s.Policy.CheckCapability(ectx, models.Capability(req.Capability))
	s.Metrics.IncTierRequest(string(req.RiskTier))
	if decision.Allowed {
		s.Metrics.IncGateDecision("allowed")
	} else {
		s.Metrics.IncGateDecision("denied")
	}
	s.Metrics.IncReason(decision.Reason)
	if req.TraceID != "" {
		status := "denied"
		if decision.Allowed {
			status = "granted"
		}
		s.Audit.LogEvent(req.TraceID, models.EventPolicyCheck, "policy_engine", "check_capability", status,
			map[string]interface{}{
				"capability":     req.Capability,
				"reason":         decision.Reason,
				"policy_version": decision.PolicyVersion,
			}, nil)
	}
	httpx.WriteJSON(w, 200, decision)
}

type policyUpdateRequest struct {
	RiskTier   models.RiskTier         `json:"risk_tier"`
	Policy     *models.PolicyVersion   `json:"policy"`
	ApprovedBy string                  `json:"approved_by"`
	Regression policy.RegressionResult `json:"regression"`
}

func (s *Server) handlePolicyUpdate(w http.ResponseWriter, r *http.Request) {
	var req policyUpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if req.Policy == nil {
		httpx.Error(w, 400, "policy required")
		return
	}
	ok := s.Policy.UpdatePolicy(req.RiskTier, req.Policy, req.ApprovedBy, req.Regression)
	if ok {
		s.Events.Publish(stream.NewEvent(stream.TypePolicyUpdated, map[string]string{
			"risk_tier": string(req.RiskTier),
			"version":   req.Policy.Version,
		}))
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"updated": ok})
}

func (s *Server) handlePolicyRollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RiskTier models.RiskTier `json:"risk_tier"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	ok := s.Policy.RollbackPolicy(req.RiskTier)
	if ok {
		active := s.Policy.ActivePolicy(req.RiskTier)
		s.Events.Publish(stream.NewEvent(stream.TypePolicyUpdated, map[string]string{
			"risk_tier": string(req.RiskTier),
			"version":   active.Version,
			"rollback":  "true",
		}))
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"rolled_back": ok})
}

func (s *Server) handleActivePolicy(w http.ResponseWriter, r *http.Request) {
	tier := models.RiskTier(chi.URLParam(r, "tier"))
	if !models.ValidTier(tier) {
		httpx.Error(w, 400, "unknown risk tier")
		return
	}
	active := s.Policy.ActivePolicy(tier)
	if active == nil {
		httpx.Error(w, 404, "no active policy")
		return
	}
	httpx.WriteJSON(w, 200, active)
}

type toolInvokeRequest struct {
	ToolID         string                 `json:"tool_id"`
	Parameters     map[string]interface{} `json:"parameters"`
	UserID         string                 `json:"user_id"`
	TraceID        string                 `json:"trace_id"`
	RiskTier       models.RiskTier        `json:"risk_tier"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
}

func (s *Server) handleToolInvoke(w http.ResponseWriter, r *http.Request) {
	var req toolInvokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if strings.TrimSpace(req.ToolID) == "" {
		httpx.Error(w, 400, "tool_id required")
		return
	}
	result := s.Gateway.Invoke(r.Context(), toolgate.Request{
		ToolID:         req.ToolID,
		Parameters:     req.Parameters,
		UserID:         req.UserID,
		TraceID:        req.TraceID,
		RiskTier:       req.RiskTier,
		IdempotencyKey: req.IdempotencyKey,
	})
	s.Metrics.IncToolStatus(string(result.Status))
	if req.TraceID != "" {
		status := "failure"
		if result.Success {
			status = "success"
		}
		s.Audit.LogEvent(req.TraceID, models.EventToolInvoked, "tool_gateway", req.ToolID, status,
			map[string]interface{}{
				"invocation_id": result.InvocationID,
				"tool_status":   string(result.Status),
				"error":         result.Error,
			}, nil)
	}
	httpx.WriteJSON(w, 200, result)
}

func (s *Server) handleToolRollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvocationID string `json:"invocation_id"`
		TraceID      string `json:"trace_id,omitempty"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	ok := s.Gateway.Rollback(r.Context(), req.InvocationID)
	if req.TraceID != "" {
		status := "failure"
		if ok {
			status = "success"
		}
		s.Audit.LogEvent(req.TraceID, models.EventToolInvoked, "tool_gateway", "rollback", status,
			map[string]interface{}{"invocation_id": req.InvocationID}, nil)
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"rolled_back": ok})
}

func (s *Server) handleToolMetrics(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, 200, s.Gateway.Metrics())
}

func (s *Server) handleToolHistory(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, 200, s.Gateway.History())
}

type evidenceValidateRequest struct {
	Package          models.EvidencePackage `json:"package"`
	RequireCitations bool                   `json:"require_citations"`
}

func (s *Server) handleEvidenceValidate(w http.ResponseWriter, r *http.Request) {
	var req evidenceValidateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	valid, violations := s.Evidence.ValidatePackage(req.Package, req.RequireCitations)
	answerable, reason := s.Evidence.EnforceNoAnswer(req.Package, req.Package.RiskTier)
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"valid":      valid,
		"violations": violations,
		"answerable": answerable,
		"reason":     reason,
	})
}

type accessCheckRequest struct {
	UserID   string `json:"user_id"`
	Action   string `json:"action"`
	Resource struct {
		ResourceID      string   `json:"resource_id"`
		ResourceType    string   `json:"resource_type"`
		BusinessDomain  string   `json:"business_domain"`
		AircraftTypes   []string `json:"aircraft_types,omitempty"`
		ApplicableBases []string `json:"applicable_bases,omitempty"`
		Sensitivity     string   `json:"sensitivity"`
		Version         string   `json:"version,omitempty"`
	} `json:"resource"`
	TraceID string `json:"trace_id,omitempty"`
}

func (s *Server) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	var req accessCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	u, err := s.DB.GetUser(req.UserID)
	if err != nil {
		if errors.Is(err, opsdata.ErrNotFound) {
			httpx.Error(w, 404, "user not found")
			return
		}
		httpx.Error(w, 500, "user lookup failed")
		return
	}
	user := access.User{
		UserID:               u.Username,
		Role:                 access.Role(u.Role),
		AircraftTypes:        u.AircraftTypes,
		Bases:                u.Bases,
		RouteRegions:         u.RouteRegions,
		SensitivityClearance: access.Sensitivity(u.SensitivityClearance),
	}
	for _, d := range u.BusinessDomains {
		user.BusinessDomains = append(user.BusinessDomains, access.Domain(d))
	}
	resource := access.Resource{
		ResourceID:      req.Resource.ResourceID,
		ResourceType:    req.Resource.ResourceType,
		BusinessDomain:  access.Domain(req.Resource.BusinessDomain),
		AircraftTypes:   req.Resource.AircraftTypes,
		ApplicableBases: req.Resource.ApplicableBases,
		Sensitivity:     access.Sensitivity(req.Resource.Sensitivity),
		Version:         req.Resource.Version,
	}
	decision := s.Access.CheckAccess(user, resource, req.Action)
	if req.TraceID != "" {
		status := "denied"
		if decision.Allowed {
			status = "granted"
		}
		s.Audit.LogEvent(req.TraceID, models.EventAccessCheck, "access_control", req.Action, status,
			map[string]interface{}{
				"resource_id": decision.ResourceID,
				"reason":      decision.Reason,
			}, nil)
	}
	httpx.WriteJSON(w, 200, decision)
}

type approvalRequestBody struct {
	ToolID      string                 `json:"tool_id"`
	Parameters  map[string]interface{} `json:"parameters"`
	RequestedBy string                 `json:"requested_by"`
	SessionID   string                 `json:"session_id"`
	Query       string                 `json:"query"`
}

func (s *Server) handleApprovalRequest(w http.ResponseWriter, r *http.Request) {
	var req approvalRequestBody
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if strings.TrimSpace(req.ToolID) == "" || strings.TrimSpace(req.RequestedBy) == "" {
		httpx.Error(w, 400, "tool_id and requested_by required")
		return
	}
	request, err := s.Approvals.Request(r.Context(), approvals.RequestParams{
		ToolID:      req.ToolID,
		Parameters:  req.Parameters,
		RequestedBy: req.RequestedBy,
		SessionID:   req.SessionID,
		Query:       req.Query,
	})
	if err != nil {
		if errors.Is(err, approvals.ErrWriteBlocked) {
			httpx.Error(w, 403, err.Error())
			return
		}
		httpx.Error(w, 500, err.Error())
		return
	}
	s.Metrics.IncApprovalState(request.Status)
	httpx.WriteJSON(w, 201, request)
}

func (s *Server) handleApprovalList(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, 200, s.Approvals.List())
}

func (s *Server) handleApprovalGet(w http.ResponseWriter, r *http.Request) {
	request, err := s.Approvals.Get(chi.URLParam(r, "request_id"))
	if err != nil {
		httpx.Error(w, 404, "approval request not found")
		return
	}
	httpx.WriteJSON(w, 200, request)
}

type approvalDecision struct {
	ApproverID string `json:"approver_id"`
	Approved   bool   `json:"approved"`
	Notes      string `json:"notes,omitempty"`
}

func (s *Server) handleApprovalDecide(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")
	var req approvalDecision
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if strings.TrimSpace(req.ApproverID) == "" {
		httpx.Error(w, 400, "approver_id required")
		return
	}
	outcome, err := s.Approvals.Approve(r.Context(), requestID, req.ApproverID, req.Approved, req.Notes)
	switch {
	case errors.Is(err, approvals.ErrRequestNotFound):
		httpx.Error(w, 404, err.Error())
		return
	case errors.Is(err, approvals.ErrSelfApproval):
		httpx.Error(w, 403, err.Error())
		return
	case errors.Is(err, approvals.ErrDuplicateApprover), errors.Is(err, approvals.ErrTerminal):
		httpx.Error(w, 409, err.Error())
		return
	case err != nil:
		httpx.Error(w, 500, err.Error())
		return
	}
	s.Metrics.IncApprovalState(outcome.Status)
	httpx.WriteJSON(w, 200, outcome)
}

type traceCreateRequest struct {
	TraceID               string          `json:"trace_id"`
	SessionID             string          `json:"session_id"`
	UserID                string          `json:"user_id"`
	Query                 string          `json:"query"`
	RiskTier              models.RiskTier `json:"risk_tier"`
	ModelVersion          string          `json:"model_version,omitempty"`
	PromptVersion         string          `json:"prompt_version,omitempty"`
	RetrievalIndexVersion string          `json:"retrieval_index_version,omitempty"`
	PolicyVersion         string          `json:"policy_version,omitempty"`
}

func (s *Server) handleTraceCreate(w http.ResponseWriter, r *http.Request) {
	var req traceCreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if strings.TrimSpace(req.TraceID) == "" {
		httpx.Error(w, 400, "trace_id required")
		return
	}
	trace, err := s.Audit.CreateTrace(audit.TraceParams{
		TraceID:               req.TraceID,
		SessionID:             req.SessionID,
		UserID:                req.UserID,
		Query:                 req.Query,
		RiskTier:              req.RiskTier,
		ModelVersion:          req.ModelVersion,
		PromptVersion:         req.PromptVersion,
		RetrievalIndexVersion: req.RetrievalIndexVersion,
		PolicyVersion:         req.PolicyVersion,
	})
	if err != nil {
		httpx.Error(w, 409, err.Error())
		return
	}
	httpx.WriteJSON(w, 201, trace)
}

func (s *Server) handleTraceHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.HistoryFilter{
		UserID:   q.Get("user_id"),
		RiskTier: models.RiskTier(q.Get("risk_tier")),
	}
	if raw := q.Get("start_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Error(w, 400, "invalid start_date")
			return
		}
		filter.StartDate = t
	}
	if raw := q.Get("end_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Error(w, 400, "invalid end_date")
			return
		}
		filter.EndDate = t
	}
	httpx.WriteJSON(w, 200, s.Audit.TraceHistory(filter))
}

func (s *Server) handleTraceGet(w http.ResponseWriter, r *http.Request) {
	trace, err := s.Audit.Trace(chi.URLParam(r, "trace_id"))
	if err != nil {
		httpx.Error(w, 404, "trace not found")
		return
	}
	httpx.WriteJSON(w, 200, trace)
}

type traceEventRequest struct {
	EventType models.AuditEventType  `json:"event_type"`
	Component string                 `json:"component"`
	Action    string                 `json:"action"`
	Status    string                 `json:"status"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleTraceEvent(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "trace_id")
	var req traceEventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if req.EventType == "" {
		httpx.Error(w, 400, "event_type required")
		return
	}
	event, orphanCreated := s.Audit.LogEvent(traceID, req.EventType, req.Component, req.Action, req.Status, req.Details, req.Metadata)
	httpx.WriteJSON(w, 201, map[string]interface{}{
		"event":          event,
		"orphaned_trace": orphanCreated,
	})
}

type traceCompleteRequest struct {
	FinalResponse string             `json:"final_response"`
	Status        models.TraceStatus `json:"status"`
}

func (s *Server) handleTraceComplete(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "trace_id")
	var req traceCompleteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if req.Status == "" {
		req.Status = models.TraceCompleted
	}
	trace, err := s.Audit.CompleteTrace(r.Context(), traceID, req.FinalResponse, req.Status)
	if err != nil {
		httpx.Error(w, 404, "trace not found")
		return
	}
	if trace.EndTime != nil {
		s.Metrics.ObserveTraceLatency(trace.EndTime.Sub(trace.StartTime))
	}
	hash, _ := audit.ComputeHash(trace)
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"trace": trace,
		"hash":  hash,
	})
}

func (s *Server) handleTraceReplay(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "trace_id")
	var req struct {
		VerifyDeterminism bool `json:"verify_determinism"`
	}
	if r.Body != nil {
		_ = httpx.DecodeJSON(r, &req)
	}
	report, err := s.Audit.ReplayTrace(traceID, req.VerifyDeterminism)
	if err != nil {
		httpx.Error(w, 404, "trace not found")
		return
	}
	httpx.WriteJSON(w, 200, report)
}

func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)
	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Error(w, 400, "invalid start")
			return
		}
		start = t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Error(w, 400, "invalid end")
			return
		}
		end = t
	}
	tier := models.RiskTier(q.Get("risk_tier"))
	httpx.WriteJSON(w, 200, s.Audit.GenerateComplianceReport(start, end, tier))
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		httpx.Error(w, 503, "stream unavailable")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			if err := wsjson.Write(ctx, conn, evt); err != nil {
				_ = conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}
