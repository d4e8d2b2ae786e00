package audit

import (
	"time"

	"aerogate/pkg/models"
)

// ComplianceReport aggregates trace outcomes, access checks and policy
// checks over a period.
type ComplianceReport struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	RiskTier string    `json:"risk_tier"`

	Summary struct {
		TotalRequests int     `json:"total_requests"`
		Completed     int     `json:"completed"`
		Failed        int     `json:"failed"`
		Denied        int     `json:"denied"`
		SuccessRate   float64 `json:"success_rate"`
	} `json:"summary"`

	AccessControl struct {
		TotalChecks int     `json:"total_checks"`
		Granted     int     `json:"granted"`
		Denied      int     `json:"denied"`
		DenialRate  float64 `json:"denial_rate"`
	} `json:"access_control"`

	PolicyCompliance struct {
		TotalChecks   int     `json:"total_checks"`
		Violations    int     `json:"violations"`
		ViolationRate float64 `json:"violation_rate"`
	} `json:"policy_compliance"`

	GeneratedAt time.Time `json:"generated_at"`
}

// GenerateComplianceReport builds the aggregate view for [start, end].
// tier narrows the trace summary when non-empty; event counters always
// cover all tiers, matching the flat event log.
func (s *System) GenerateComplianceReport(start, end time.Time, tier models.RiskTier) ComplianceReport {
	traces := s.TraceHistory(HistoryFilter{RiskTier: tier, StartDate: start, EndDate: end})

	var report ComplianceReport
	report.Start = start
	report.End = end
	report.RiskTier = "all"
	if tier != "" {
		report.RiskTier = string(tier)
	}

	report.Summary.TotalRequests = len(traces)
	for _, t := range traces {
		switch t.Status {
		case models.TraceCompleted:
			report.Summary.Completed++
		case models.TraceFailed:
			report.Summary.Failed++
		case models.TraceDenied:
			report.Summary.Denied++
		}
	}
	if report.Summary.TotalRequests > 0 {
		report.Summary.SuccessRate = float64(report.Summary.Completed) / float64(report.Summary.TotalRequests)
	}

	s.mu.Lock()
	for _, e := range s.events {
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		switch e.EventType {
		case models.EventAccessCheck:
			report.AccessControl.TotalChecks++
			switch e.Status {
			case "granted":
				report.AccessControl.Granted++
			case "denied":
				report.AccessControl.Denied++
			}
		case models.EventPolicyCheck:
			report.PolicyCompliance.TotalChecks++
			if e.Status == "violation" {
				report.PolicyCompliance.Violations++
			}
		}
	}
	s.mu.Unlock()

	if report.AccessControl.TotalChecks > 0 {
		report.AccessControl.DenialRate = float64(report.AccessControl.Denied) / float64(report.AccessControl.TotalChecks)
	}
	if report.PolicyCompliance.TotalChecks > 0 {
		report.PolicyCompliance.ViolationRate = float64(report.PolicyCompliance.Violations) / float64(report.PolicyCompliance.TotalChecks)
	}
	report.GeneratedAt = time.Now().UTC()
	return report
}
