// Package client is the typed Go SDK for the governance gateway. Agent
// integrations use it instead of hand-rolling HTTP calls; every method maps
// to one gateway endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aerogate/pkg/approvals"
	"aerogate/pkg/audit"
	"aerogate/pkg/models"
	"aerogate/pkg/toolgate"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	AuthToken  string
	UserID     string
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CheckCapability asks the policy engine whether the tier may use a
// capability.
func (c *Client) CheckCapability(ctx context.Context, ectx models.ExecutionContext, capability models.Capability) (models.GateDecision, error) {
	var out models.GateDecision
	err := c.post(ctx, "/v1/policy/check", map[string]interface{}{
		"user_id":         ectx.UserID,
		"role":            ectx.Role,
		"business_domain": ectx.BusinessDomain,
		"use_case_id":     ectx.UseCaseID,
		"risk_tier":       ectx.RiskTier,
		"session_id":      ectx.SessionID,
		"capability":      capability,
	}, &out)
	return out, err
}

// InvokeTool runs one tool through the gateway pipeline.
func (c *Client) InvokeTool(ctx context.Context, req toolgate.Request) (toolgate.Result, error) {
	var out toolgate.Result
	err := c.post(ctx, "/v1/tools/invoke", map[string]interface{}{
		"tool_id":         req.ToolID,
		"parameters":      req.Parameters,
		"user_id":         req.UserID,
		"trace_id":        req.TraceID,
		"risk_tier":       req.RiskTier,
		"idempotency_key": req.IdempotencyKey,
	}, &out)
	return out, err
}

// RequestApproval parks a write behind dual control.
func (c *Client) RequestApproval(ctx context.Context, p approvals.RequestParams) (approvals.ApprovalRequest, error) {
	var out approvals.ApprovalRequest
	err := c.post(ctx, "/v1/approvals", map[string]interface{}{
		"tool_id":      p.ToolID,
		"parameters":   p.Parameters,
		"requested_by": p.RequestedBy,
		"session_id":   p.SessionID,
		"query":        p.Query,
	}, &out)
	return out, err
}

// Approve records one human decision on a pending request.
func (c *Client) Approve(ctx context.Context, requestID, approverID string, approved bool, notes string) (approvals.Outcome, error) {
	var out approvals.Outcome
	err := c.post(ctx, "/v1/approvals/"+requestID+"/approve", map[string]interface{}{
		"approver_id": approverID,
		"approved":    approved,
		"notes":       notes,
	}, &out)
	return out, err
}

// Trace fetches one execution trace.
func (c *Client) Trace(ctx context.Context, traceID string) (models.ExecutionTrace, error) {
	var out models.ExecutionTrace
	err := c.get(ctx, "/v1/traces/"+traceID, &out)
	return out, err
}

// ComplianceReport fetches the aggregate report for a period and tier.
func (c *Client) ComplianceReport(ctx context.Context, start, end time.Time, tier models.RiskTier) (audit.ComplianceReport, error) {
	path := "/v1/reports/compliance?risk_tier=" + string(tier)
	if !start.IsZero() {
		path += "&start=" + start.UTC().Format(time.RFC3339)
	}
	if !end.IsZero() {
		path += "&end=" + end.UTC().Format(time.RFC3339)
	}
	var out audit.ComplianceReport
	err := c.get(ctx, path, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	c.applyAuth(req)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway %s failed status=%d body=%s", req.URL.Path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) applyAuth(req *http.Request) {
	if strings.TrimSpace(c.AuthToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}
	if strings.TrimSpace(c.UserID) != "" {
		req.Header.Set("X-User-ID", c.UserID)
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
