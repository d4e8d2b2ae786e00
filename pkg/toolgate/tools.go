package toolgate

import (
	"context"
	"fmt"

	"aerogate/pkg/models"
	"aerogate/pkg/opsdata"
)

// DefaultTools returns the five reference tools backed by the operational
// database. Callers register the ones they want; nothing is registered
// implicitly.
func DefaultTools(db *opsdata.DB) []ToolDefinition {
	return []ToolDefinition{
		{
			ToolID:      "get_flight_status",
			Name:        "Get Flight Status",
			Description: "Retrieve current status for a flight",
			ToolType:    models.ToolRead,
			AllowedRiskTiers: []models.RiskTier{models.TierR0, models.TierR1, models.TierR2, models.TierR3},
			SupportsRollback:   false,
			RateLimitPerMinute: 100,
			ParameterSchema: map[string]ParamSpec{
				"flight_number": {Type: "string", Required: true, Pattern: `^NZ\d+$`},
			},
			Execute: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				number := params["flight_number"].(string)
				f, err := db.GetFlightStatus(number)
				if err != nil {
					return nil, fmt.Errorf("flight %s: %w", number, err)
				}
				return map[string]interface{}{
					"flight_number":         f.FlightNumber,
					"route":                 f.Route,
					"status":                f.Status,
					"gate":                  f.Gate,
					"delay_minutes":         f.DelayMinutes,
					"delay_reason":          f.DelayReason,
					"scheduled_departure":   f.ScheduledDeparture,
					"scheduled_arrival":     f.ScheduledArrival,
					"aircraft_registration": f.AircraftRegistration,
				}, nil
			},
		},
		{
			ToolID:      "get_aircraft_availability",
			Name:        "Get Aircraft Availability",
			Description: "List available aircraft at a base",
			ToolType:    models.ToolRead,
			AllowedRiskTiers: []models.RiskTier{models.TierR2, models.TierR3},
			SupportsRollback:   false,
			RateLimitPerMinute: 50,
			ParameterSchema: map[string]ParamSpec{
				"base": {Type: "string", Required: true, Enum: []string{"AKL", "CHC", "WLG"}},
			},
			Execute: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				base := params["base"].(string)
				list, err := db.GetAircraftAvailability(base)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"base":     base,
					"count":    len(list),
					"aircraft": list,
				}, nil
			},
		},
		{
			ToolID:      "get_crew_availability",
			Name:        "Get Crew Availability",
			Description: "List available crew at a base, optionally by type rating",
			ToolType:    models.ToolRead,
			AllowedRiskTiers: []models.RiskTier{models.TierR2, models.TierR3},
			SupportsRollback:   false,
			RateLimitPerMinute: 50,
			ParameterSchema: map[string]ParamSpec{
				"base":          {Type: "string", Required: true},
				"aircraft_type": {Type: "string", Required: false},
			},
			Execute: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				base := params["base"].(string)
				aircraftType, _ := params["aircraft_type"].(string)
				list, err := db.GetCrewAvailability(base, aircraftType)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"base":  base,
					"count": len(list),
					"crew":  list,
				}, nil
			},
		},
		{
			ToolID:      "search_policies",
			Name:        "Search Policies",
			Description: "Full-text search over policy documents",
			ToolType:    models.ToolRead,
			AllowedRiskTiers: []models.RiskTier{models.TierR1, models.TierR2, models.TierR3},
			SupportsRollback:   false,
			RateLimitPerMinute: 100,
			ParameterSchema: map[string]ParamSpec{
				"query":           {Type: "string", Required: true},
				"business_domain": {Type: "string", Required: false},
			},
			Execute: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				query := params["query"].(string)
				domain, _ := params["business_domain"].(string)
				docs, err := db.SearchPolicies(query, domain)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"query":    query,
					"count":    len(docs),
					"policies": docs,
				}, nil
			},
		},
		{
			ToolID:      "create_work_order",
			Name:        "Create Work Order",
			Description: "Create a maintenance work order",
			ToolType:    models.ToolWrite,
			AllowedRiskTiers:    []models.RiskTier{models.TierR3},
			RequiresApproval:    true,
			RequiresDualControl: true,
			SupportsRollback:    true,
			RateLimitPerMinute:  10,
			ParameterSchema: map[string]ParamSpec{
				"aircraft_registration": {Type: "string", Required: true},
				"work_type":             {Type: "string", Required: true, Enum: []string{"corrective", "preventive", "inspection"}},
				"priority":              {Type: "string", Required: true, Enum: []string{"low", "medium", "high", "critical"}},
				"description":           {Type: "string", Required: true, MinLength: 10},
			},
			Execute: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				assignedTo, _ := params["assigned_to"].(string)
				dueDate, _ := params["due_date"].(string)
				wo, err := db.CreateWorkOrder(opsdata.CreateWorkOrderInput{
					AircraftRegistration: params["aircraft_registration"].(string),
					WorkType:             params["work_type"].(string),
					Priority:             params["priority"].(string),
					Description:          params["description"].(string),
					AssignedTo:           assignedTo,
					DueDate:              dueDate,
				})
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"wo_number": wo,
					"status":    "pending",
					"rollback_data": map[string]interface{}{
						"wo_number": wo,
					},
				}, nil
			},
			Rollback: func(ctx context.Context, rollbackData map[string]interface{}) error {
				wo, _ := rollbackData["wo_number"].(string)
				if wo == "" {
					return fmt.Errorf("rollback data missing wo_number")
				}
				return db.DeleteWorkOrder(wo)
			},
		},
	}
}
