// Package access enforces RBAC/ABAC with pre-retrieval filtering: resources
// a user cannot see are dropped before any data leaves the store, never
// masked afterwards.
package access

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// Role is a user role within the airline.
type Role string

const (
	RoleCustomerService   Role = "customer_service"
	RoleEngineering       Role = "engineering"
	RoleDispatchOCC       Role = "dispatch_occ"
	RoleSafety            Role = "safety"
	RoleRevenueManagement Role = "revenue_management"
	RoleAirportOps        Role = "airport_ops"
	RoleMaintenance       Role = "maintenance"
	RoleITSecurity        Role = "it_security"
	RoleAdmin             Role = "admin"
)

// Domain is a business-domain isolation boundary.
type Domain string

const (
	DomainOperations      Domain = "operations"
	DomainEngineering     Domain = "engineering"
	DomainCustomerService Domain = "customer_service"
	DomainHR              Domain = "hr"
	DomainFinance         Domain = "finance"
	DomainSafety          Domain = "safety"
	DomainCargo           Domain = "cargo"
	DomainRetail          Domain = "retail"
)

// Sensitivity is a ranked data classification. Comparison is by rank, not
// by string value.
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "public"
	SensitivityInternal     Sensitivity = "internal"
	SensitivityConfidential Sensitivity = "confidential"
	SensitivityRestricted   Sensitivity = "restricted"
)

var sensitivityRank = map[Sensitivity]int{
	SensitivityPublic:       0,
	SensitivityInternal:     1,
	SensitivityConfidential: 2,
	SensitivityRestricted:   3,
}

// Rank returns the numeric rank of a sensitivity level; unknown levels rank
// above restricted so they are never accidentally readable.
func (s Sensitivity) Rank() int {
	if r, ok := sensitivityRank[s]; ok {
		return r
	}
	return len(sensitivityRank)
}

// User carries the attributes access decisions are made on.
type User struct {
	UserID               string
	Role                 Role
	BusinessDomains      []Domain
	AircraftTypes        []string
	Bases                []string
	RouteRegions         []string
	SensitivityClearance Sensitivity
}

// Resource carries the attributes of the thing being accessed.
type Resource struct {
	ResourceID      string
	ResourceType    string // policies, work_orders, flight_status, ...
	BusinessDomain  Domain
	AircraftTypes   []string
	ApplicableBases []string
	Sensitivity     Sensitivity
	Version         string
}

// Decision is the outcome of one access check. Reason joins every failed
// rule so a denial names all problems at once.
type Decision struct {
	Allowed      bool      `json:"allowed"`
	UserID       string    `json:"user_id"`
	ResourceID   string    `json:"resource_id"`
	Reason       string    `json:"reason"`
	MatchedRules []string  `json:"matched_rules"`
	Timestamp    time.Time `json:"timestamp"`
}

// Engine evaluates the six access rules against explicit permission tables.
type Engine struct {
	rolePermissions map[Role]map[string]bool
	domainRoles     map[Domain]map[Role]bool
}

// Config holds the permission tables an Engine is built from.
type Config struct {
	RolePermissions map[Role][]string
	DomainRoles     map[Domain][]Role
}

func New(cfg Config) *Engine {
	e := &Engine{
		rolePermissions: make(map[Role]map[string]bool),
		domainRoles:     make(map[Domain]map[Role]bool),
	}
	for role, perms := range cfg.RolePermissions {
		set := make(map[string]bool, len(perms))
		for _, p := range perms {
			set[p] = true
		}
		e.rolePermissions[role] = set
	}
	for domain, roles := range cfg.DomainRoles {
		set := make(map[Role]bool, len(roles))
		for _, r := range roles {
			set[r] = true
		}
		e.domainRoles[domain] = set
	}
	return e
}

// CheckAccess evaluates all six rules and collects every failure. This is
// the primary gate: retrieval must pass through here before fetching data.
func (e *Engine) CheckAccess(user User, resource Resource, action string) Decision {
	var matched []string
	var denials []string

	// Rule 1: domain isolation.
	if !e.domainRoles[resource.BusinessDomain][user.Role] {
		denials = append(denials, fmt.Sprintf("role %s not authorized for domain %s", user.Role, resource.BusinessDomain))
	} else {
		matched = append(matched, "domain_isolation_passed")
	}

	// Rule 2: role permission, exact or action wildcard.
	required := action + ":" + resource.ResourceType
	perms := e.rolePermissions[user.Role]
	if !perms[required] && !perms[action+":*"] {
		denials = append(denials, fmt.Sprintf("role %s lacks permission %s", user.Role, required))
	} else {
		matched = append(matched, "role_permission_granted")
	}

	// Rule 3: sensitivity clearance by rank.
	if resource.Sensitivity.Rank() > user.SensitivityClearance.Rank() {
		denials = append(denials, fmt.Sprintf("user clearance %s insufficient for %s resource", user.SensitivityClearance, resource.Sensitivity))
	} else {
		matched = append(matched, "sensitivity_clearance_ok")
	}

	// Rule 4: domain membership.
	member := false
	for _, d := range user.BusinessDomains {
		if d == resource.BusinessDomain {
			member = true
			break
		}
	}
	if !member {
		denials = append(denials, fmt.Sprintf("user not member of required domain %s", resource.BusinessDomain))
	} else {
		matched = append(matched, "domain_membership_ok")
	}

	// Rule 5: aircraft type applicability. An unscoped resource matches all.
	if len(resource.AircraftTypes) > 0 && !intersects(resource.AircraftTypes, user.AircraftTypes) {
		denials = append(denials, fmt.Sprintf("user aircraft types %v do not match resource types %v", user.AircraftTypes, resource.AircraftTypes))
	} else {
		matched = append(matched, "aircraft_type_match")
	}

	// Rule 6: base applicability.
	if len(resource.ApplicableBases) > 0 && !intersects(resource.ApplicableBases, user.Bases) {
		denials = append(denials, fmt.Sprintf("user bases %v do not match resource bases %v", user.Bases, resource.ApplicableBases))
	} else {
		matched = append(matched, "base_match")
	}

	dec := Decision{
		Allowed:      len(denials) == 0,
		UserID:       user.UserID,
		ResourceID:   resource.ResourceID,
		Reason:       "Access granted",
		MatchedRules: matched,
		Timestamp:    time.Now().UTC(),
	}
	if len(denials) > 0 {
		dec.Reason = strings.Join(denials, "; ")
	}

	verdict := "GRANTED"
	if !dec.Allowed {
		verdict = "DENIED"
	}
	log.Printf("access %s user=%s role=%s resource=%s action=%s reason=%q",
		verdict, user.UserID, user.Role, resource.ResourceID, action, dec.Reason)
	return dec
}

// FilterRetrievable drops candidates the user cannot access before any
// retrieval happens.
func (e *Engine) FilterRetrievable(user User, candidates []Resource, action string) []Resource {
	var accessible []Resource
	for _, r := range candidates {
		if e.CheckAccess(user, r, action).Allowed {
			accessible = append(accessible, r)
		}
	}
	log.Printf("access pre-retrieval filter user=%s accessible=%d/%d", user.UserID, len(accessible), len(candidates))
	return accessible
}

// Scope is everything a user can reach, for debugging and audit.
type Scope struct {
	Domains         []Domain    `json:"domains"`
	AircraftTypes   []string    `json:"aircraft_types"`
	Bases           []string    `json:"bases"`
	Regions         []string    `json:"regions"`
	MaxSensitivity  Sensitivity `json:"max_sensitivity"`
	RolePermissions []string    `json:"role_permissions"`
}

// UserScope dumps the user's full access scope with permissions sorted for
// stable output.
func (e *Engine) UserScope(user User) Scope {
	perms := make([]string, 0, len(e.rolePermissions[user.Role]))
	for p := range e.rolePermissions[user.Role] {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return Scope{
		Domains:         user.BusinessDomains,
		AircraftTypes:   user.AircraftTypes,
		Bases:           user.Bases,
		Regions:         user.RouteRegions,
		MaxSensitivity:  user.SensitivityClearance,
		RolePermissions: perms,
	}
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
