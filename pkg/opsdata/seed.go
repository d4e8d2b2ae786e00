package opsdata

import (
	"encoding/json"
	"fmt"
	"time"
)

// seed loads the reference dataset. Idempotent: skipped when the flights
// table already has rows.
func (d *DB) seed() error {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM flights`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	now := time.Now().UTC()
	ts := now.Format(time.RFC3339)
	day := 24 * time.Hour

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	flights := [][]interface{}{
		{"NZ1", "AKL-SYD", "AKL", "SYD", "14:00", "17:00", "delayed", "ZK-OKM", "23", 182, 220, 150, "Hydraulic system maintenance"},
		{"NZ2", "SYD-AKL", "SYD", "AKL", "18:30", "21:30", "on_time", "ZK-OKN", "25", 195, 220, 0, nil},
		{"NZ5", "AKL-LAX", "AKL", "LAX", "20:00", "12:00", "on_time", "ZK-NZA", "30", 240, 275, 0, nil},
		{"NZ101", "AKL-CHC", "AKL", "CHC", "09:00", "10:15", "on_time", "ZK-MCY", "15", 140, 168, 0, nil},
		{"NZ8", "AKL-SIN", "AKL", "SIN", "22:00", "05:00", "boarding", "ZK-NZB", "28", 265, 275, 0, nil},
	}
	for _, f := range flights {
		args := append(f, ts, ts)
		if _, err := tx.Exec(`
			INSERT INTO flights (flight_number, route, origin, destination,
			       scheduled_departure, scheduled_arrival, status,
			       aircraft_registration, gate, pax_count, pax_capacity,
			       delay_minutes, delay_reason, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return fmt.Errorf("seed flights: %w", err)
		}
	}

	aircraft := [][]interface{}{
		{"ZK-OKM", "B787-9", "Boeing", "787-9 Dreamliner", 275, "maintenance", "AKL", now.Add(-1 * day), now.Add(7 * day), 12500, 3200},
		{"ZK-OKN", "B787-9", "Boeing", "787-9 Dreamliner", 275, "available", "AKL", now.Add(-30 * day), now.Add(60 * day), 11200, 2950},
		{"ZK-NZA", "B787-9", "Boeing", "787-9 Dreamliner", 275, "in_flight", "AKL", now.Add(-15 * day), now.Add(75 * day), 13100, 3450},
		{"ZK-NZB", "B787-9", "Boeing", "787-9 Dreamliner", 275, "boarding", "AKL", now.Add(-20 * day), now.Add(70 * day), 12800, 3380},
		{"ZK-MCY", "A320", "Airbus", "A320neo", 168, "in_flight", "AKL", now.Add(-5 * day), now.Add(85 * day), 8500, 2100},
	}
	for _, a := range aircraft {
		args := []interface{}{a[0], a[1], a[2], a[3], a[4], a[5], a[6],
			a[7].(time.Time).Format(time.RFC3339), a[8].(time.Time).Format(time.RFC3339),
			a[9], a[10], ts}
		if _, err := tx.Exec(`
			INSERT INTO aircraft (registration, aircraft_type, manufacturer, model,
			       capacity, status, base, last_maintenance, next_maintenance_due,
			       flight_hours, cycles, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return fmt.Errorf("seed aircraft: %w", err)
		}
	}

	crew := []struct {
		id, name, role, base string
		quals                []string
		status               string
		fdp                  int
	}{
		{"EMP-1001", "Sarah Chen", "Captain", "AKL", []string{"B787-9", "A320"}, "available", 480},
		{"EMP-1002", "Mike Johnson", "First Officer", "AKL", []string{"B787-9"}, "on_duty", 240},
		{"EMP-2001", "Lisa Wang", "Cabin Manager", "AKL", []string{"B787-9", "A320"}, "available", 480},
		{"EMP-3001", "Tom Brown", "Engineer", "AKL", []string{"B787-9", "A320", "ATR72"}, "on_duty", 480},
	}
	for _, c := range crew {
		quals, _ := json.Marshal(c.quals)
		if _, err := tx.Exec(`
			INSERT INTO crew (employee_id, name, role, base, aircraft_qualifications,
			       status, flight_duty_period_remaining, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.id, c.name, c.role, c.base, string(quals), c.status, c.fdp, ts); err != nil {
			return fmt.Errorf("seed crew: %w", err)
		}
	}

	gates := [][]interface{}{
		{"15", "Domestic", "A320,ATR72", "occupied", "NZ101"},
		{"23", "International", "B787-9,B787-10", "available", nil},
		{"25", "International", "B787-9,B787-10", "available", nil},
		{"28", "International", "B787-9,B787-10", "occupied", "NZ8"},
		{"30", "International", "B787-9,B787-10", "occupied", "NZ5"},
	}
	for _, g := range gates {
		args := append(g, ts, ts)
		if _, err := tx.Exec(`
			INSERT INTO gates (gate_number, terminal, aircraft_type_allowed, status,
			       current_flight, available_from, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return fmt.Errorf("seed gates: %w", err)
		}
	}

	allJSON := `["all"]`
	policies := [][]interface{}{
		{"POL-BAGGAGE-001", "Checked Baggage Allowance Policy", "3.2", "2024-01-01", nil,
			"customer_service",
			"Economy passengers are entitled to 2 pieces of checked baggage, each not exceeding 23kg. Business Premier passengers are entitled to 3 pieces, each not exceeding 32kg. Excess baggage charges apply beyond this allowance.",
			allJSON, allJSON, "customer_service"},
		{"OPS-DISRUPT-001", "Flight Delay Recovery Procedures", "2.1", "2024-01-01", nil,
			"operations",
			"For delays exceeding 120 minutes, consider aircraft swap if available. Priority: protect connections, minimize passenger impact. Consult with OCC before executing swap. Document all decisions in operational log.",
			allJSON, allJSON, "operations"},
		{"MAINT-MEL-001", "Minimum Equipment List Procedures", "4.5", "2023-06-01", nil,
			"maintenance",
			"MEL items must be reviewed by certified engineer. Category A: rectify within time limit. Category B: rectify within 3 days. Category C: rectify within 10 days. Category D: rectify within 120 days. All deferrals require captain acknowledgment.",
			`["B787-9","A320"]`, allJSON, "engineering"},
	}
	for _, p := range policies {
		args := append(p, ts)
		if _, err := tx.Exec(`
			INSERT INTO policies (document_id, title, version, effective_date,
			       effective_until, category, content, aircraft_types, route_regions,
			       business_domain, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return fmt.Errorf("seed policies: %w", err)
		}
	}

	workOrders := [][]interface{}{
		{"WO-2024-001", "ZK-OKM", "corrective", "high", "in_progress",
			"Hydraulic system pressure fluctuation - System 1. Replace hydraulic pump per AMM 29-21-00.",
			"EMP-3001", now.Add(-3 * time.Hour).Format(time.RFC3339), now.Add(2 * time.Hour).Format(time.RFC3339), nil},
		{"WO-2024-002", "ZK-NZA", "preventive", "medium", "completed",
			"500-hour inspection complete. All items within limits.",
			"EMP-3002", now.Add(-2 * day).Format(time.RFC3339), now.Add(-1 * day).Format(time.RFC3339), now.Add(-1 * day).Format(time.RFC3339)},
	}
	for _, w := range workOrders {
		if _, err := tx.Exec(`
			INSERT INTO work_orders (wo_number, aircraft_registration, work_type,
			       priority, status, description, assigned_to, created_at, due_date,
			       completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, w...); err != nil {
			return fmt.Errorf("seed work orders: %w", err)
		}
	}

	users := []struct {
		username, name, role           string
		domains, types, bases, regions []string
		clearance                      string
	}{
		{"cs_agent_001", "Emma Wilson", "customer_service",
			[]string{"customer_service"}, []string{"all"}, []string{"AKL", "CHC", "WLG"}, []string{"Domestic", "Trans-Tasman"},
			"internal"},
		{"dispatcher_001", "James Lee", "dispatch_occ",
			[]string{"operations"}, []string{"B787-9", "A320"}, []string{"AKL"}, []string{"all"},
			"internal"},
		{"engineer_001", "Tom Brown", "maintenance",
			[]string{"engineering"}, []string{"B787-9", "A320", "ATR72"}, []string{"AKL"}, []string{"Domestic"},
			"confidential"},
		{"admin_001", "Admin User", "admin",
			[]string{"all"}, []string{"all"}, []string{"all"}, []string{"all"},
			"restricted"},
	}
	for _, u := range users {
		domains, _ := json.Marshal(u.domains)
		types, _ := json.Marshal(u.types)
		bases, _ := json.Marshal(u.bases)
		regions, _ := json.Marshal(u.regions)
		if _, err := tx.Exec(`
			INSERT INTO users (username, name, role, business_domains, aircraft_types,
			       bases, route_regions, sensitivity_clearance, active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			u.username, u.name, u.role, string(domains), string(types),
			string(bases), string(regions), u.clearance, ts); err != nil {
			return fmt.Errorf("seed users: %w", err)
		}
	}

	return tx.Commit()
}
