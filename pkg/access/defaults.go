package access

// Default returns the reference permission tables: role permission sets and
// per-domain role allowlists. HR and retail stay admin-only.
func Default() Config {
	return Config{
		RolePermissions: map[Role][]string{
			RoleCustomerService: {
				"read:policies",
				"read:fare_rules",
				"read:baggage_policies",
				"read:rebooking_procedures",
				"read:customer_data",
			},
			RoleEngineering: {
				"read:maintenance_manuals",
				"read:engineering_docs",
				"read:work_orders",
				"read:component_history",
				"read:airworthiness_directives",
			},
			RoleDispatchOCC: {
				"read:flight_status",
				"read:weather",
				"read:crew_availability",
				"read:aircraft_status",
				"read:disruption_procedures",
				"read:gate_assignments",
			},
			RoleSafety: {
				"read:incident_reports",
				"read:safety_procedures",
				"read:risk_assessments",
				"read:audit_logs",
				"read:compliance_docs",
			},
			RoleMaintenance: {
				"read:maintenance_manuals",
				"read:mel_procedures",
				"read:work_orders",
				"write:work_orders",
				"read:component_history",
			},
			RoleAdmin: {
				"read:*",
				"write:*",
				"delete:*",
			},
		},
		DomainRoles: map[Domain][]Role{
			DomainOperations:      {RoleDispatchOCC, RoleAirportOps, RoleAdmin},
			DomainEngineering:     {RoleEngineering, RoleMaintenance, RoleSafety, RoleAdmin},
			DomainCustomerService: {RoleCustomerService, RoleAdmin},
			DomainHR:              {RoleAdmin},
			DomainFinance:         {RoleRevenueManagement, RoleAdmin},
			DomainSafety:          {RoleSafety, RoleEngineering, RoleAdmin},
			DomainCargo:           {RoleCustomerService, RoleAdmin},
		},
	}
}
