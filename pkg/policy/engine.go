package policy

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"aerogate/pkg/models"
)

const (
	ReasonNoActivePolicy = "no active policy for risk tier"
	ReasonBlocked        = "capability is blocked"
	ReasonAllowed        = "capability is allowed"
	ReasonNotListed      = "capability not explicitly allowed"
)

// RegressionResult carries the outcome of the pre-activation regression run
// required by change control.
type RegressionResult struct {
	Passed  bool   `json:"passed"`
	Suite   string `json:"suite,omitempty"`
	Details string `json:"details,omitempty"`
}

// Engine answers capability gate checks and manages the versioned policy
// lifecycle. All policies are injected at construction; there is no ambient
// default registration.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*models.PolicyVersion
	active   map[models.RiskTier]*models.PolicyVersion
}

// New builds an engine from explicit policy versions. Every version must
// validate; each becomes the active policy for its tier (last one wins when
// two versions share a tier).
func New(versions ...*models.PolicyVersion) (*Engine, error) {
	e := &Engine{
		policies: map[string]*models.PolicyVersion{},
		active:   map[models.RiskTier]*models.PolicyVersion{},
	}
	for _, v := range versions {
		if err := Validate(v); err != nil {
			return nil, fmt.Errorf("policy %s/%s: %w", v.RiskTier, v.Version, err)
		}
		e.policies[policyKey(v.RiskTier, v.Version)] = v
		e.active[v.RiskTier] = v
	}
	return e, nil
}

// Validate rejects structurally broken policies. A capability listed as both
// allowed and blocked is a configuration error: blocked would silently win
// at check time, so the overlap is refused up front.
func Validate(v *models.PolicyVersion) error {
	if v == nil {
		return fmt.Errorf("nil policy")
	}
	if strings.TrimSpace(v.Version) == "" {
		return fmt.Errorf("version required")
	}
	if !models.ValidTier(v.RiskTier) {
		return fmt.Errorf("unknown risk tier %q", v.RiskTier)
	}
	blocked := map[models.Capability]struct{}{}
	for _, c := range v.Blocked {
		blocked[c] = struct{}{}
	}
	for _, g := range v.Allowed {
		if _, ok := blocked[g.Capability]; ok {
			return fmt.Errorf("capability %s both allowed and blocked", g.Capability)
		}
	}
	return nil
}

// CheckCapability decides whether the context's tier may use a capability.
// Blocked beats allowed; anything unlisted is denied.
func (e *Engine) CheckCapability(ctx models.ExecutionContext, cap models.Capability) models.GateDecision {
	now := time.Now().UTC()
	e.mu.RLock()
	active := e.active[ctx.RiskTier]
	e.mu.RUnlock()

	if active == nil {
		return models.GateDecision{
			Allowed:       false,
			Capability:    cap,
			RiskTier:      ctx.RiskTier,
			Reason:        fmt.Sprintf("%s %s", ReasonNoActivePolicy, ctx.RiskTier),
			PolicyVersion: "unknown",
			Timestamp:     now,
		}
	}
	for _, blocked := range active.Blocked {
		if blocked == cap {
			return models.GateDecision{
				Allowed:       false,
				Capability:    cap,
				RiskTier:      ctx.RiskTier,
				Reason:        fmt.Sprintf("%s for %s", ReasonBlocked, ctx.RiskTier),
				PolicyVersion: active.Version,
				Timestamp:     now,
			}
		}
	}
	for _, grant := range active.Allowed {
		if grant.Capability == cap {
			return models.GateDecision{
				Allowed:       true,
				Capability:    cap,
				RiskTier:      ctx.RiskTier,
				Reason:        fmt.Sprintf("%s for %s", ReasonAllowed, ctx.RiskTier),
				PolicyVersion: active.Version,
				Timestamp:     now,
			}
		}
	}
	// Default deny: silence about a capability means prohibition.
	return models.GateDecision{
		Allowed:       false,
		Capability:    cap,
		RiskTier:      ctx.RiskTier,
		Reason:        fmt.Sprintf("%s for %s", ReasonNotListed, ctx.RiskTier),
		PolicyVersion: active.Version,
		Timestamp:     now,
	}
}

// UpdatePolicy activates a new policy version for a tier. The update is
// refused unless the regression run passed; on success the outgoing version
// is recorded for rollback. This is the only path that changes the active
// policy besides RollbackPolicy.
func (e *Engine) UpdatePolicy(tier models.RiskTier, next *models.PolicyVersion, approvedBy string, regression RegressionResult) bool {
	if next == nil {
		return false
	}
	if !regression.Passed {
		log.Printf("policy update rejected for %s v%s: regression tests failed", tier, next.Version)
		return false
	}
	if err := Validate(next); err != nil {
		log.Printf("policy update rejected for %s v%s: %v", tier, next.Version, err)
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if current := e.active[tier]; current != nil {
		next.RollbackVersion = current.Version
	}
	next.ApprovedBy = approvedBy
	e.policies[policyKey(tier, next.Version)] = next
	e.active[tier] = next
	log.Printf("policy updated for %s to v%s by %s", tier, next.Version, approvedBy)
	return true
}

// RollbackPolicy reactivates the version recorded on the currently active
// policy. It fails when no rollback version is recorded or the recorded
// version is no longer stored.
func (e *Engine) RollbackPolicy(tier models.RiskTier) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	current := e.active[tier]
	if current == nil || current.RollbackVersion == "" {
		log.Printf("no rollback version available for %s", tier)
		return false
	}
	prior, ok := e.policies[policyKey(tier, current.RollbackVersion)]
	if !ok {
		log.Printf("rollback policy not found: %s v%s", tier, current.RollbackVersion)
		return false
	}
	e.active[tier] = prior
	log.Printf("policy rolled back for %s from v%s to v%s", tier, current.Version, prior.Version)
	return true
}

// ActivePolicy returns the active policy for a tier, or nil.
func (e *Engine) ActivePolicy(tier models.RiskTier) *models.PolicyVersion {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active[tier]
}

// RequiredControls returns the granted capabilities the tier's policy marks
// as mandatory. These must be enforced by the caller, not merely permitted.
func (e *Engine) RequiredControls(ctx models.ExecutionContext) []models.Capability {
	e.mu.RLock()
	active := e.active[ctx.RiskTier]
	e.mu.RUnlock()
	if active == nil {
		return nil
	}
	var out []models.Capability
	for _, grant := range active.Allowed {
		if grant.Mandatory {
			out = append(out, grant.Capability)
		}
	}
	return out
}

func policyKey(tier models.RiskTier, version string) string {
	return strings.ToLower(string(tier)) + "_v" + version
}
