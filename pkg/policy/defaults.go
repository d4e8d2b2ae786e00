package policy

import (
	"time"

	"aerogate/pkg/models"
)

// Default returns the four seed policies, one per tier, mirroring the
// reference governance baseline. Callers pass them to New; nothing is
// registered implicitly.
func Default() []*models.PolicyVersion {
	now := time.Now().UTC()
	return []*models.PolicyVersion{
		{
			Version:       "1.0.0",
			EffectiveDate: now,
			ApprovedBy:    "system_admin",
			RiskTier:      models.TierR0,
			Allowed: []models.CapabilityGrant{
				{Capability: models.CapInternetAccess},
			},
			Blocked: []models.Capability{
				models.CapWriteOperations,
				models.CapDualControl,
			},
			Description: "Internal productivity: writing, coding, summarisation",
		},
		{
			Version:       "1.0.0",
			EffectiveDate: now,
			ApprovedBy:    "system_admin",
			RiskTier:      models.TierR1,
			Allowed: []models.CapabilityGrant{
				{Capability: models.CapToolInvocation},
				{Capability: models.CapCitations, Mandatory: true},
			},
			Blocked: []models.Capability{
				models.CapWriteOperations,
				models.CapInternetAccess,
			},
			Description: "Customer service: policy clarification, baggage and rebooking guidance",
		},
		{
			Version:       "1.0.0",
			EffectiveDate: now,
			ApprovedBy:    "system_admin",
			RiskTier:      models.TierR2,
			Allowed: []models.CapabilityGrant{
				{Capability: models.CapToolInvocation},
				{Capability: models.CapCitations, Mandatory: true},
				{Capability: models.CapHumanApproval, Mandatory: true},
			},
			Blocked: []models.Capability{
				models.CapWriteOperations,
				models.CapInternetAccess,
			},
			Description: "Ops and maintenance decision support with mandatory human review",
		},
		{
			Version:       "1.0.0",
			EffectiveDate: now,
			ApprovedBy:    "system_admin",
			RiskTier:      models.TierR3,
			Allowed: []models.CapabilityGrant{
				{Capability: models.CapToolInvocation},
				{Capability: models.CapWriteOperations},
				{Capability: models.CapCitations, Mandatory: true},
				{Capability: models.CapDualControl, Mandatory: true},
				{Capability: models.CapHumanApproval, Mandatory: true},
				{Capability: models.CapRollback, Mandatory: true},
			},
			Blocked: []models.Capability{
				models.CapInternetAccess,
			},
			Description: "Automated actions with dual control and rollback",
		},
	}
}
