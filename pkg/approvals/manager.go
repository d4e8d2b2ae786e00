// Package approvals implements dual-control execution for high-risk write
// tools: an R3 action is parked behind an approval request and only runs
// once two distinct humans, neither the requester, have signed off.
package approvals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"aerogate/pkg/audit"
	"aerogate/pkg/models"
	"aerogate/pkg/policy"
	"aerogate/pkg/stream"
	"aerogate/pkg/toolgate"
)

const component = "maintenance_automation"

var (
	ErrRequestNotFound   = errors.New("approvals: request not found")
	ErrSelfApproval      = errors.New("approvals: self-approval not allowed")
	ErrDuplicateApprover = errors.New("approvals: approver already recorded")
	ErrTerminal          = errors.New("approvals: request already settled")
	ErrWriteBlocked      = errors.New("approvals: write capability not permitted")
)

// Approval is one recorded sign-off.
type Approval struct {
	ApproverID string    `json:"approver_id"`
	Approved   bool      `json:"approved"`
	Notes      string    `json:"notes,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ApprovalRequest is a parked tool execution awaiting quorum.
type ApprovalRequest struct {
	ID          string                 `json:"id"`
	TraceID     string                 `json:"trace_id"`
	ToolID      string                 `json:"tool_id"`
	Parameters  map[string]interface{} `json:"parameters"`
	RequestedBy string                 `json:"requested_by"`
	Required    int                    `json:"required_approvals"`
	Approvals   []Approval             `json:"approvals"`
	Status      string                 `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Manager owns pending requests and drives approved ones through the
// tool gateway.
type Manager struct {
	mu       sync.Mutex
	requests map[string]*ApprovalRequest

	audit   *audit.System
	gateway *toolgate.Gateway
	policy  *policy.Engine
	hub     *stream.Hub
}

// Options wires the collaborators. Audit, gateway and policy are required;
// the hub is optional.
type Options struct {
	Audit   *audit.System
	Gateway *toolgate.Gateway
	Policy  *policy.Engine
	Hub     *stream.Hub
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Audit == nil || opts.Gateway == nil || opts.Policy == nil {
		return nil, fmt.Errorf("approvals: audit, gateway and policy are required")
	}
	return &Manager{
		requests: make(map[string]*ApprovalRequest),
		audit:    opts.Audit,
		gateway:  opts.Gateway,
		policy:   opts.Policy,
		hub:      opts.Hub,
	}, nil
}

// RequestParams opens a dual-control request.
type RequestParams struct {
	ToolID      string
	Parameters  map[string]interface{}
	RequestedBy string
	SessionID   string
	Query       string
}

// Request opens a trace and parks the tool execution behind a two-person
// approval. The trace stays in_progress until a decision lands: an open
// trace with no end time is the audit shape of "waiting on a human".
func (m *Manager) Request(ctx context.Context, p RequestParams) (*ApprovalRequest, error) {
	traceID := "trace_" + uuid.New().String()
	ectx := models.ExecutionContext{
		UserID:    p.RequestedBy,
		RiskTier:  models.TierR3,
		SessionID: p.SessionID,
		Timestamp: time.Now().UTC(),
	}

	active := m.policy.ActivePolicy(models.TierR3)
	policyVersion := "unknown"
	if active != nil {
		policyVersion = active.Version
	}
	if _, err := m.audit.CreateTrace(audit.TraceParams{
		TraceID:       traceID,
		SessionID:     p.SessionID,
		UserID:        p.RequestedBy,
		Query:         p.Query,
		RiskTier:      models.TierR3,
		ModelVersion:  "n/a",
		PromptVersion: "n/a",
		PolicyVersion: policyVersion,
	}); err != nil {
		return nil, err
	}
	m.audit.LogEvent(traceID, models.EventRequestReceived, component, "request_"+p.ToolID, "success",
		map[string]interface{}{"tool_id": p.ToolID}, nil)

	writeCheck := m.policy.CheckCapability(ectx, models.CapWriteOperations)
	dualCheck := m.policy.CheckCapability(ectx, models.CapDualControl)
	m.audit.LogEvent(traceID, models.EventPolicyCheck, "policy_engine", "check_write_capability",
		checkStatus(writeCheck.Allowed),
		map[string]interface{}{
			"write_allowed":         writeCheck.Allowed,
			"dual_control_required": dualCheck.Allowed,
		}, nil)
	if !writeCheck.Allowed {
		m.audit.CompleteTrace(ctx, traceID, "Write operation not permitted", models.TraceDenied)
		return nil, fmt.Errorf("%w: %s", ErrWriteBlocked, writeCheck.Reason)
	}

	req := &ApprovalRequest{
		ID:          "approval_" + uuid.New().String(),
		TraceID:     traceID,
		ToolID:      p.ToolID,
		Parameters:  p.Parameters,
		RequestedBy: p.RequestedBy,
		Required:    2,
		Status:      StatusPendingApproval,
		CreatedAt:   time.Now().UTC(),
	}
	m.mu.Lock()
	m.requests[req.ID] = req
	m.mu.Unlock()

	m.audit.LogEvent(traceID, models.EventApprovalRequested, component, "request_approval", "pending",
		map[string]interface{}{
			"approval_request_id": req.ID,
			"required_approvals":  req.Required,
		}, nil)
	if m.hub != nil {
		m.hub.Publish(stream.NewEvent(stream.TypeApprovalRequested, map[string]interface{}{
			"approval_request_id": req.ID,
			"tool_id":             p.ToolID,
			"requested_by":        p.RequestedBy,
		}))
	}
	return snapshot(req), nil
}

// Outcome is the result of one Approve call.
type Outcome struct {
	Status               string     `json:"status"`
	Message              string     `json:"message"`
	TraceID              string     `json:"trace_id"`
	RequiredApprovals    int        `json:"required_approvals"`
	CurrentApprovals     int        `json:"current_approvals"`
	WONumber             string     `json:"wo_number,omitempty"`
	CanRollback          bool       `json:"can_rollback"`
	RollbackInvocationID string     `json:"rollback_invocation_id,omitempty"`
	Approvals            []Approval `json:"approvals,omitempty"`
	Error                string     `json:"error,omitempty"`
}

// Approve records one decision. A self-approval or duplicate approver is
// rejected without being counted. A denial settles the request
// immediately; quorum executes the tool exactly once.
func (m *Manager) Approve(ctx context.Context, requestID, approverID string, approved bool, notes string) (Outcome, error) {
	m.mu.Lock()
	req, ok := m.requests[requestID]
	if !ok {
		m.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	if IsTerminal(req.Status) {
		status := req.Status
		m.mu.Unlock()
		return Outcome{Status: status}, fmt.Errorf("%w: %s", ErrTerminal, status)
	}
	traceID := req.TraceID

	if approverID == req.RequestedBy {
		m.mu.Unlock()
		m.audit.LogEvent(traceID, models.EventApprovalDenied, component, "approve", "denied",
			map[string]interface{}{"reason": "self-approval not allowed", "approver": approverID}, nil)
		return Outcome{Status: req.Status, TraceID: traceID}, ErrSelfApproval
	}
	for _, a := range req.Approvals {
		if a.ApproverID == approverID {
			m.mu.Unlock()
			return Outcome{Status: req.Status, TraceID: traceID}, fmt.Errorf("%w: %s", ErrDuplicateApprover, approverID)
		}
	}

	req.Approvals = append(req.Approvals, Approval{
		ApproverID: approverID,
		Approved:   approved,
		Notes:      notes,
		Timestamp:  time.Now().UTC(),
	})
	count := approvedCount(req)
	required := req.Required

	eventType := models.EventApprovalGranted
	status := "approved"
	if !approved {
		eventType = models.EventApprovalDenied
		status = "denied"
	}
	m.mu.Unlock()

	m.audit.LogEvent(traceID, eventType, component, "record_approval", status,
		map[string]interface{}{
			"approver_id":    approverID,
			"notes":          notes,
			"approval_count": count,
		}, nil)

	if !approved {
		m.settle(req, StatusDenied)
		m.audit.CompleteTrace(ctx, traceID, "Work order creation denied", models.TraceDenied)
		m.publishDecision(req, StatusDenied)
		return Outcome{
			Status:            StatusDenied,
			Message:           "request denied by approver",
			TraceID:           traceID,
			RequiredApprovals: required,
			CurrentApprovals:  count,
		}, nil
	}

	if !QuorumReached(count, required) {
		remaining := required - count
		return Outcome{
			Status:            StatusPendingApproval,
			Message:           fmt.Sprintf("approval recorded, %d more required", remaining),
			TraceID:           traceID,
			RequiredApprovals: required,
			CurrentApprovals:  count,
		}, nil
	}

	m.settle(req, StatusApproved)
	return m.execute(ctx, req, required, count)
}

// execute runs the approved tool through the gateway. The idempotency key
// is derived from the trace so a retried Approve cannot create the work
// order twice. required and count were snapshotted under the manager lock.
func (m *Manager) execute(ctx context.Context, req *ApprovalRequest, required, count int) (Outcome, error) {
	result := m.gateway.Invoke(ctx, toolgate.Request{
		ToolID:         req.ToolID,
		Parameters:     req.Parameters,
		UserID:         req.RequestedBy,
		TraceID:        req.TraceID,
		RiskTier:       models.TierR3,
		IdempotencyKey: "wo_" + req.TraceID,
	})

	if !result.Success {
		m.settle(req, StatusFailed)
		m.audit.LogEvent(req.TraceID, models.EventErrorOccurred, "tool_gateway", req.ToolID, "failed",
			map[string]interface{}{"error": result.Error}, nil)
		m.audit.CompleteTrace(ctx, req.TraceID, "Work order creation failed", models.TraceFailed)
		m.publishDecision(req, StatusFailed)
		return Outcome{
			Status:  StatusFailed,
			TraceID: req.TraceID,
			Error:   result.Error,
		}, nil
	}

	woNumber, _ := result.Result["wo_number"].(string)
	m.settle(req, StatusCompleted)
	m.audit.LogEvent(req.TraceID, models.EventToolInvoked, "tool_gateway", req.ToolID, "success",
		map[string]interface{}{
			"wo_number":    woNumber,
			"can_rollback": result.CanRollback,
		}, nil)
	m.audit.CompleteTrace(ctx, req.TraceID, fmt.Sprintf("Work order created: %s", woNumber), models.TraceCompleted)
	m.publishDecision(req, StatusCompleted)

	out := Outcome{
		Status:            StatusCompleted,
		Message:           fmt.Sprintf("work order %s created", woNumber),
		TraceID:           req.TraceID,
		RequiredApprovals: required,
		CurrentApprovals:  count,
		WONumber:          woNumber,
		CanRollback:       result.CanRollback,
	}
	if result.CanRollback {
		out.RollbackInvocationID = result.InvocationID
	}
	m.mu.Lock()
	out.Approvals = append([]Approval(nil), req.Approvals...)
	m.mu.Unlock()
	return out, nil
}

// Get returns a snapshot of one request.
func (m *Manager) Get(requestID string) (*ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	return snapshot(req), nil
}

// List returns snapshots of all requests, newest first not guaranteed.
func (m *Manager) List() []*ApprovalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ApprovalRequest, 0, len(m.requests))
	for _, req := range m.requests {
		out = append(out, snapshot(req))
	}
	return out
}

func (m *Manager) settle(req *ApprovalRequest, status string) {
	m.mu.Lock()
	if CanTransition(req.Status, status) {
		req.Status = status
	}
	m.mu.Unlock()
}

func (m *Manager) publishDecision(req *ApprovalRequest, status string) {
	if m.hub == nil {
		return
	}
	m.hub.Publish(stream.NewEvent(stream.TypeApprovalDecided, map[string]interface{}{
		"approval_request_id": req.ID,
		"status":              status,
	}))
}

func approvedCount(req *ApprovalRequest) int {
	n := 0
	for _, a := range req.Approvals {
		if a.Approved {
			n++
		}
	}
	return n
}

func snapshot(req *ApprovalRequest) *ApprovalRequest {
	cp := *req
	cp.Approvals = append([]Approval(nil), req.Approvals...)
	return &cp
}

func checkStatus(allowed bool) string {
	if allowed {
		return "success"
	}
	return "violation"
}
