package models

import (
	"time"
)

// RiskTier classifies an AI use case by autonomy and impact.
// Tiers are strictly ordered: R0 < R1 < R2 < R3.
type RiskTier string

const (
	TierR0 RiskTier = "R0" // internal productivity
	TierR1 RiskTier = "R1" // external customer-facing
	TierR2 RiskTier = "R2" // ops decision support, human in loop
	TierR3 RiskTier = "R3" // closed-loop automated actions
)

// ValidTier reports whether t is one of the four known tiers.
func ValidTier(t RiskTier) bool {
	switch t {
	case TierR0, TierR1, TierR2, TierR3:
		return true
	}
	return false
}

// Capability names a controllable runtime capability.
type Capability string

const (
	CapInternetAccess  Capability = "internet_access"
	CapToolInvocation  Capability = "tool_invocation"
	CapWriteOperations Capability = "write_operations"
	CapCitations       Capability = "citations"
	CapDualControl     Capability = "dual_control"
	CapHumanApproval   Capability = "human_approval"
	CapRollback        Capability = "rollback"
)

// CapabilityGrant binds a capability to whether it is a mandatory control.
// Mandatory replaces the name-sniffing convention of older policy tables:
// a granted capability with Mandatory=true must be enforced by the caller,
// not merely permitted.
type CapabilityGrant struct {
	Capability Capability `json:"capability"`
	Mandatory  bool       `json:"mandatory"`
}

// PolicyVersion is one versioned capability policy for a risk tier.
// Exactly one version is active per tier at any time.
type PolicyVersion struct {
	Version         string            `json:"version"`
	EffectiveDate   time.Time         `json:"effective_date"`
	ApprovedBy      string            `json:"approved_by"`
	RiskTier        RiskTier          `json:"risk_tier"`
	Allowed         []CapabilityGrant `json:"allowed_capabilities"`
	Blocked         []Capability      `json:"blocked_capabilities"`
	Description     string            `json:"description"`
	RollbackVersion string            `json:"rollback_version,omitempty"`
}

// ExecutionContext is the immutable per-request identity and tier context.
type ExecutionContext struct {
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	BusinessDomain string    `json:"business_domain"`
	UseCaseID      string    `json:"use_case_id"`
	RiskTier       RiskTier  `json:"risk_tier"`
	SessionID      string    `json:"session_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// GateDecision is the outcome of a capability gate check.
type GateDecision struct {
	Allowed       bool       `json:"allowed"`
	Capability    Capability `json:"capability"`
	RiskTier      RiskTier   `json:"risk_tier"`
	Reason        string     `json:"reason"`
	PolicyVersion string     `json:"policy_version"`
	Timestamp     time.Time  `json:"timestamp"`
}

// SourceSystem identifies where a cited document lives.
type SourceSystem string

const (
	SourcePolicyManagement  SourceSystem = "policy_management"
	SourceMaintenanceManual SourceSystem = "maintenance_manual"
	SourceOperationsManual  SourceSystem = "operations_manual"
	SourceFlightOps         SourceSystem = "flight_ops"
	SourceEngineeringDocs   SourceSystem = "engineering_docs"
	SourceWorkOrderSystem   SourceSystem = "work_order_system"
	SourceSafetyManagement  SourceSystem = "safety_management"
)

// EvidenceType classifies the cited document.
type EvidenceType string

const (
	EvidencePolicy      EvidenceType = "policy"
	EvidenceProcedure   EvidenceType = "procedure"
	EvidenceManual      EvidenceType = "manual"
	EvidenceRegulation  EvidenceType = "regulation"
	EvidenceNotice      EvidenceType = "notice"
	EvidenceWorkOrder   EvidenceType = "work_order"
	EvidenceCaseHistory EvidenceType = "case_history"
)

// Applicability scopes a citation to fleets, bases, regions and domains,
// and carries supersession state.
type Applicability struct {
	AircraftTypes   []string   `json:"aircraft_types,omitempty"`
	Bases           []string   `json:"bases,omitempty"`
	RouteRegions    []string   `json:"route_regions,omitempty"`
	BusinessDomains []string   `json:"business_domains,omitempty"`
	EffectiveFrom   time.Time  `json:"effective_from"`
	EffectiveUntil  *time.Time `json:"effective_until,omitempty"`
	SupersededBy    string     `json:"superseded_by,omitempty"`
}

// Citation binds an answer to a verifiable document excerpt. ContentHash is
// sha256 of the excerpt; it is the integrity link between the citation and
// the text it quotes.
type Citation struct {
	DocumentID         string            `json:"document_id"`
	Version            string            `json:"version"`
	Revision           string            `json:"revision"`
	Title              string            `json:"title"`
	SourceSystem       SourceSystem      `json:"source_system"`
	EvidenceType       EvidenceType      `json:"evidence_type"`
	ParagraphLocator   string            `json:"paragraph_locator"`
	Excerpt            string            `json:"excerpt"`
	ContentHash        string            `json:"content_hash"`
	EffectiveDate      time.Time         `json:"effective_date"`
	RetrievalTimestamp time.Time         `json:"retrieval_timestamp"`
	EffectiveUntil     *time.Time        `json:"effective_until,omitempty"`
	Applicability      *Applicability    `json:"applicability,omitempty"`
	URL                string            `json:"url,omitempty"`
	FilePath           string            `json:"file_path,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// EvidencePackage is the full evidence bundle behind one answer.
type EvidencePackage struct {
	Query             string     `json:"query"`
	Answer            string     `json:"answer"`
	Citations         []Citation `json:"citations"`
	RetrievalStrategy string     `json:"retrieval_strategy"`
	ConfidenceScore   float64    `json:"confidence_score"`
	Timestamp         time.Time  `json:"timestamp"`
	RiskTier          RiskTier   `json:"risk_tier"`
}

// ToolType separates read, write and delete tools.
type ToolType string

const (
	ToolRead   ToolType = "read"
	ToolWrite  ToolType = "write"
	ToolDelete ToolType = "delete"
)

// ToolStatus is the terminal status of one invocation attempt.
type ToolStatus string

const (
	StatusSuccess          ToolStatus = "success"
	StatusFailure          ToolStatus = "failure"
	StatusRateLimited      ToolStatus = "rate_limited"
	StatusValidationError  ToolStatus = "validation_error"
	StatusPermissionDenied ToolStatus = "permission_denied"
	StatusIdempotentSkip   ToolStatus = "idempotent_skip"
)

// ToolInvocation is one append-only record of an execution attempt.
type ToolInvocation struct {
	InvocationID string                 `json:"invocation_id"`
	ToolID       string                 `json:"tool_id"`
	UserID       string                 `json:"user_id"`
	TraceID      string                 `json:"trace_id"`
	Parameters   map[string]interface{} `json:"parameters"`
	Status       ToolStatus             `json:"status"`
	Result       map[string]interface{} `json:"result,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	RollbackData map[string]interface{} `json:"rollback_data,omitempty"`
}

// TraceStatus is the lifecycle status of an execution trace.
type TraceStatus string

const (
	TraceInProgress TraceStatus = "in_progress"
	TraceCompleted  TraceStatus = "completed"
	TraceFailed     TraceStatus = "failed"
	TraceDenied     TraceStatus = "denied"
	TraceEscalated  TraceStatus = "escalated"
)

// AuditEventType enumerates auditable event kinds.
type AuditEventType string

const (
	EventRequestReceived   AuditEventType = "request_received"
	EventIntentDetected    AuditEventType = "intent_detected"
	EventAccessCheck       AuditEventType = "access_check"
	EventRetrievalExecuted AuditEventType = "retrieval_executed"
	EventToolInvoked       AuditEventType = "tool_invoked"
	EventPolicyCheck       AuditEventType = "policy_check"
	EventEvidenceValidated AuditEventType = "evidence_validated"
	EventResponseGenerated AuditEventType = "response_generated"
	EventApprovalRequested AuditEventType = "approval_requested"
	EventApprovalGranted   AuditEventType = "approval_granted"
	EventApprovalDenied    AuditEventType = "approval_denied"
	EventErrorOccurred     AuditEventType = "error_occurred"
)

// AuditEvent is one immutable, trace-ordered audit record. EventID is the
// trace id plus the zero-based ordinal within the trace.
type AuditEvent struct {
	EventID   string                 `json:"event_id"`
	EventType AuditEventType         `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	UserID    string                 `json:"user_id"`
	SessionID string                 `json:"session_id"`
	TraceID   string                 `json:"trace_id"`
	Component string                 `json:"component"`
	Action    string                 `json:"action"`
	Status    string                 `json:"status"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ExecutionTrace is the ordered record of everything that happened for one
// request. A trace left in_progress with no end time is the pending-approval
// pattern: completion is deferred until a human decision lands.
type ExecutionTrace struct {
	TraceID       string       `json:"trace_id"`
	SessionID     string       `json:"session_id"`
	UserID        string       `json:"user_id"`
	Query         string       `json:"query"`
	RiskTier      RiskTier     `json:"risk_tier"`
	StartTime     time.Time    `json:"start_time"`
	EndTime       *time.Time   `json:"end_time,omitempty"`
	Events        []AuditEvent `json:"events"`
	FinalResponse string       `json:"final_response,omitempty"`
	Status        TraceStatus  `json:"status"`
	Orphaned      bool         `json:"orphaned,omitempty"`

	ModelVersion          string `json:"model_version"`
	PromptVersion         string `json:"prompt_version"`
	RetrievalIndexVersion string `json:"retrieval_index_version"`
	PolicyVersion         string `json:"policy_version"`
}
