// Package toolgate is the single execution chokepoint for agent tool calls.
// Every invocation passes a fixed safety pipeline before the tool body runs:
// existence, tier allowlist, parameter schema, rate limit, idempotency.
package toolgate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"aerogate/pkg/models"
	"aerogate/pkg/ratelimit"
	"aerogate/pkg/store"
)

// ParamSpec constrains one named parameter.
type ParamSpec struct {
	Type      string   `json:"type"` // "string" or "integer"
	Required  bool     `json:"required"`
	Enum      []string `json:"enum,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	MinLength int      `json:"min_length,omitempty"`
}

// ExecuteFunc runs the tool body. The returned map becomes the invocation
// result; rollback data, when present, is taken from the "rollback_data" key.
type ExecuteFunc func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// RollbackFunc compensates a prior successful invocation using its
// recorded rollback data.
type RollbackFunc func(ctx context.Context, rollbackData map[string]interface{}) error

// ToolDefinition declares a tool and its safety metadata.
type ToolDefinition struct {
	ToolID              string
	Name                string
	Description         string
	ToolType            models.ToolType
	AllowedRiskTiers    []models.RiskTier
	RequiresApproval    bool
	RequiresDualControl bool
	SupportsRollback    bool
	RateLimitPerMinute  int
	ParameterSchema     map[string]ParamSpec
	Execute             ExecuteFunc
	Rollback            RollbackFunc
}

// Result is the outcome of one Invoke call.
type Result struct {
	Success      bool                   `json:"success"`
	Status       models.ToolStatus      `json:"status"`
	Result       map[string]interface{} `json:"result,omitempty"`
	Error        string                 `json:"error,omitempty"`
	InvocationID string                 `json:"invocation_id"`
	Timestamp    time.Time              `json:"timestamp"`
	CanRollback  bool                   `json:"can_rollback"`
	RollbackData map[string]interface{} `json:"rollback_data,omitempty"`
}

// Request carries everything Invoke needs besides the parameters.
type Request struct {
	ToolID         string
	Parameters     map[string]interface{}
	UserID         string
	TraceID        string
	RiskTier       models.RiskTier
	IdempotencyKey string
}

// Options configures a Gateway. Nil fields fall back to in-process defaults.
type Options struct {
	Limiter ratelimit.Limiter
	Cache   store.Cache
}

// Gateway registers tools and mediates every execution.
type Gateway struct {
	mu       sync.Mutex
	tools    map[string]*ToolDefinition
	history  []models.ToolInvocation
	byID     map[string]*models.ToolInvocation
	inflight map[string]chan struct{}
	limiter  ratelimit.Limiter
	cache    store.Cache
}

// New builds a Gateway with no tools registered.
func New(opts Options) *Gateway {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewSlidingWindow(time.Minute)
	}
	cache := opts.Cache
	if cache == nil {
		cache = store.NewMemoryCache()
	}
	return &Gateway{
		tools:    make(map[string]*ToolDefinition),
		byID:     make(map[string]*models.ToolInvocation),
		inflight: make(map[string]chan struct{}),
		limiter:  limiter,
		cache:    cache,
	}
}

// Register adds or replaces a tool definition.
func (g *Gateway) Register(def ToolDefinition) error {
	if def.ToolID == "" {
		return fmt.Errorf("tool id required")
	}
	if def.Execute == nil {
		return fmt.Errorf("tool %s: execute function required", def.ToolID)
	}
	if def.SupportsRollback && def.Rollback == nil {
		return fmt.Errorf("tool %s: rollback declared but no rollback function", def.ToolID)
	}
	for name, spec := range def.ParameterSchema {
		if spec.Pattern != "" {
			if _, err := regexp.Compile(spec.Pattern); err != nil {
				return fmt.Errorf("tool %s: parameter %s pattern: %w", def.ToolID, name, err)
			}
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tools[def.ToolID] = &def
	return nil
}

// Tool returns a registered definition, or nil.
func (g *Gateway) Tool(toolID string) *ToolDefinition {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tools[toolID]
}

// Invoke runs the five-stage safety pipeline and, if all stages pass,
// executes the tool body. Every terminal outcome is recorded in the
// append-only history.
func (g *Gateway) Invoke(ctx context.Context, req Request) Result {
	timestamp := time.Now().UTC()
	invocationID := req.ToolID + "_" + uuid.New().String()

	// Stage 1: tool exists.
	g.mu.Lock()
	def := g.tools[req.ToolID]
	g.mu.Unlock()
	if def == nil {
		return g.errorResult(req, invocationID, timestamp, models.StatusValidationError,
			fmt.Sprintf("tool %s not found", req.ToolID))
	}

	// Stage 2: risk tier allowlist.
	allowed := false
	for _, t := range def.AllowedRiskTiers {
		if t == req.RiskTier {
			allowed = true
			break
		}
	}
	if !allowed {
		return g.errorResult(req, invocationID, timestamp, models.StatusPermissionDenied,
			fmt.Sprintf("tool %s not allowed for risk tier %s", req.ToolID, req.RiskTier))
	}

	// Stage 3: parameter schema.
	if verr := validateParameters(req.Parameters, def.ParameterSchema); verr != "" {
		return g.errorResult(req, invocationID, timestamp, models.StatusValidationError,
			"parameter validation failed: "+verr)
	}

	// Stage 4: rate limit, keyed tool plus user. A denied call consumes
	// no slot; an admitted call has its slot consumed before execution.
	dec := g.limiter.Allow(req.ToolID+":"+req.UserID, def.RateLimitPerMinute)
	if !dec.Allowed {
		return g.errorResult(req, invocationID, timestamp, models.StatusRateLimited,
			fmt.Sprintf("rate limit exceeded: %d/min", def.RateLimitPerMinute))
	}

	// Stage 5: idempotency. The first caller for a key claims it and
	// executes; concurrent and later callers get the cached invocation.
	if req.IdempotencyKey != "" {
		if res, done := g.claimIdempotent(ctx, req.IdempotencyKey); done {
			return res
		}
		defer g.releaseInflight(req.IdempotencyKey)
	}

	return g.execute(ctx, def, req, invocationID, timestamp)
}

// claimIdempotent returns (cachedResult, true) when the key has already
// been executed or is being executed by another goroutine, and (zero,
// false) when the caller has claimed the key and must execute.
func (g *Gateway) claimIdempotent(ctx context.Context, key string) (Result, bool) {
	for {
		g.mu.Lock()
		ch, running := g.inflight[key]
		if !running {
			if inv := g.lookupCached(ctx, key); inv != nil {
				g.mu.Unlock()
				return skipResult(inv), true
			}
			g.inflight[key] = make(chan struct{})
			g.mu.Unlock()
			return Result{}, false
		}
		g.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return Result{
				Success:   false,
				Status:    models.StatusFailure,
				Error:     ctx.Err().Error(),
				Timestamp: time.Now().UTC(),
			}, true
		}
	}
}

func (g *Gateway) releaseInflight(key string) {
	g.mu.Lock()
	if ch, ok := g.inflight[key]; ok {
		close(ch)
		delete(g.inflight, key)
	}
	g.mu.Unlock()
}

// lookupCached loads a completed invocation for an idempotency key.
// Caller holds g.mu.
func (g *Gateway) lookupCached(ctx context.Context, key string) *models.ToolInvocation {
	raw, err := g.cache.Get(ctx, "idem:"+key)
	if err != nil {
		return nil
	}
	var inv models.ToolInvocation
	if err := json.Unmarshal([]byte(raw), &inv); err != nil {
		return nil
	}
	return &inv
}

func skipResult(inv *models.ToolInvocation) Result {
	return Result{
		Success:      inv.Status == models.StatusSuccess,
		Status:       models.StatusIdempotentSkip,
		Result:       inv.Result,
		InvocationID: inv.InvocationID,
		Timestamp:    inv.Timestamp,
		CanRollback:  false,
	}
}

func (g *Gateway) execute(ctx context.Context, def *ToolDefinition, req Request, invocationID string, timestamp time.Time) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = g.recordFailure(req, invocationID, timestamp, fmt.Sprintf("tool panic: %v", r))
		}
	}()

	result, err := def.Execute(ctx, req.Parameters)
	if err != nil {
		return g.recordFailure(req, invocationID, timestamp, err.Error())
	}

	var rollbackData map[string]interface{}
	if def.SupportsRollback {
		if rd, ok := result["rollback_data"].(map[string]interface{}); ok {
			rollbackData = rd
		}
	}

	inv := models.ToolInvocation{
		InvocationID: invocationID,
		ToolID:       req.ToolID,
		UserID:       req.UserID,
		TraceID:      req.TraceID,
		Parameters:   req.Parameters,
		Status:       models.StatusSuccess,
		Result:       result,
		Timestamp:    timestamp,
		RollbackData: rollbackData,
	}
	g.record(inv)

	if req.IdempotencyKey != "" {
		if raw, err := json.Marshal(inv); err == nil {
			_ = g.cache.Set(ctx, "idem:"+req.IdempotencyKey, string(raw), 0)
		}
	}

	return Result{
		Success:      true,
		Status:       models.StatusSuccess,
		Result:       result,
		InvocationID: invocationID,
		Timestamp:    timestamp,
		CanRollback:  def.SupportsRollback,
		RollbackData: rollbackData,
	}
}

func (g *Gateway) recordFailure(req Request, invocationID string, timestamp time.Time, errMsg string) Result {
	g.record(models.ToolInvocation{
		InvocationID: invocationID,
		ToolID:       req.ToolID,
		UserID:       req.UserID,
		TraceID:      req.TraceID,
		Parameters:   req.Parameters,
		Status:       models.StatusFailure,
		Error:        errMsg,
		Timestamp:    timestamp,
	})
	return Result{
		Success:      false,
		Status:       models.StatusFailure,
		Error:        errMsg,
		InvocationID: invocationID,
		Timestamp:    timestamp,
	}
}

// errorResult records a pipeline rejection and returns it. Rejections go
// into history too so Metrics sees them.
func (g *Gateway) errorResult(req Request, invocationID string, timestamp time.Time, status models.ToolStatus, errMsg string) Result {
	g.record(models.ToolInvocation{
		InvocationID: invocationID,
		ToolID:       req.ToolID,
		UserID:       req.UserID,
		TraceID:      req.TraceID,
		Parameters:   req.Parameters,
		Status:       status,
		Error:        errMsg,
		Timestamp:    timestamp,
	})
	return Result{
		Success:      false,
		Status:       status,
		Error:        errMsg,
		InvocationID: invocationID,
		Timestamp:    timestamp,
	}
}

func (g *Gateway) record(inv models.ToolInvocation) {
	g.mu.Lock()
	g.history = append(g.history, inv)
	cp := inv
	g.byID[inv.InvocationID] = &cp
	g.mu.Unlock()
}

// Rollback compensates a prior successful invocation. Returns false when
// the invocation is unknown, the tool does not support rollback, no
// rollback data was recorded, or the rollback function fails. The original
// history record is never mutated.
func (g *Gateway) Rollback(ctx context.Context, invocationID string) bool {
	g.mu.Lock()
	inv, ok := g.byID[invocationID]
	var def *ToolDefinition
	if ok {
		def = g.tools[inv.ToolID]
	}
	g.mu.Unlock()
	if !ok || def == nil || !def.SupportsRollback || def.Rollback == nil {
		return false
	}
	if inv.Status != models.StatusSuccess || len(inv.RollbackData) == 0 {
		return false
	}
	return def.Rollback(ctx, inv.RollbackData) == nil
}

// History returns a copy of all recorded invocations, oldest first.
func (g *Gateway) History() []models.ToolInvocation {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.ToolInvocation, len(g.history))
	copy(out, g.history)
	return out
}

// Metrics summarizes invocation outcomes.
type Metrics struct {
	TotalInvocations int     `json:"total_invocations"`
	Successful       int     `json:"successful"`
	Failed           int     `json:"failed"`
	RateLimited      int     `json:"rate_limited"`
	SuccessRate      float64 `json:"success_rate"`
}

// Metrics computes aggregate invocation counters from the history.
func (g *Gateway) Metrics() Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := Metrics{TotalInvocations: len(g.history)}
	for _, inv := range g.history {
		switch inv.Status {
		case models.StatusSuccess:
			m.Successful++
		case models.StatusFailure:
			m.Failed++
		case models.StatusRateLimited:
			m.RateLimited++
		}
	}
	if m.TotalInvocations > 0 {
		m.SuccessRate = float64(m.Successful) / float64(m.TotalInvocations)
	}
	return m
}

// validateParameters checks params against the schema and returns the
// first violation, or "" when valid.
func validateParameters(params map[string]interface{}, schema map[string]ParamSpec) string {
	// Required first, in a stable order independent of map iteration:
	// report the first missing name alphabetically.
	missing := ""
	for name, spec := range schema {
		if !spec.Required {
			continue
		}
		if _, ok := params[name]; !ok {
			if missing == "" || name < missing {
				missing = name
			}
		}
	}
	if missing != "" {
		return "missing required parameter: " + missing
	}

	for name, spec := range schema {
		value, ok := params[name]
		if !ok {
			continue
		}
		switch spec.Type {
		case "string":
			s, ok := value.(string)
			if !ok {
				return fmt.Sprintf("parameter %s must be a string", name)
			}
			if len(spec.Enum) > 0 && !contains(spec.Enum, s) {
				return fmt.Sprintf("parameter %s must be one of %v", name, spec.Enum)
			}
			if spec.Pattern != "" {
				re := regexp.MustCompile(spec.Pattern)
				if !re.MatchString(s) {
					return fmt.Sprintf("parameter %s does not match pattern %s", name, spec.Pattern)
				}
			}
			if spec.MinLength > 0 && len(s) < spec.MinLength {
				return fmt.Sprintf("parameter %s must be at least %d characters", name, spec.MinLength)
			}
		case "integer":
			// JSON numbers decode as float64; accept only whole values.
			switch v := value.(type) {
			case int, int64:
			case float64:
				if v != math.Trunc(v) {
					return fmt.Sprintf("parameter %s must be an integer", name)
				}
			case json.Number:
				if _, err := v.Int64(); err != nil {
					return fmt.Sprintf("parameter %s must be an integer", name)
				}
			default:
				return fmt.Sprintf("parameter %s must be an integer", name)
			}
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
