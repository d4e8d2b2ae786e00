// Package opsdata provides the embedded operational dataset: flights,
// aircraft, crew, gates, policy documents, work orders and users. It backs
// the reference tools and the access-control scope lookups.
package opsdata

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("opsdata: not found")

const schema = `
CREATE TABLE IF NOT EXISTS flights (
	flight_id             INTEGER PRIMARY KEY AUTOINCREMENT,
	flight_number         TEXT NOT NULL,
	route                 TEXT NOT NULL,
	origin                TEXT NOT NULL,
	destination           TEXT NOT NULL,
	scheduled_departure   TEXT NOT NULL,
	scheduled_arrival     TEXT NOT NULL,
	status                TEXT NOT NULL,
	aircraft_registration TEXT,
	gate                  TEXT,
	pax_count             INTEGER,
	pax_capacity          INTEGER,
	delay_minutes         INTEGER DEFAULT 0,
	delay_reason          TEXT,
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS aircraft (
	aircraft_id          INTEGER PRIMARY KEY AUTOINCREMENT,
	registration         TEXT UNIQUE NOT NULL,
	aircraft_type        TEXT NOT NULL,
	manufacturer         TEXT NOT NULL,
	model                TEXT NOT NULL,
	capacity             INTEGER NOT NULL,
	status               TEXT NOT NULL,
	base                 TEXT NOT NULL,
	last_maintenance     TEXT,
	next_maintenance_due TEXT,
	flight_hours         INTEGER DEFAULT 0,
	cycles               INTEGER DEFAULT 0,
	created_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS crew (
	crew_id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	employee_id                  TEXT UNIQUE NOT NULL,
	name                         TEXT NOT NULL,
	role                         TEXT NOT NULL,
	base                         TEXT NOT NULL,
	aircraft_qualifications      TEXT,
	status                       TEXT NOT NULL,
	duty_start                   TEXT,
	duty_end                     TEXT,
	flight_duty_period_remaining INTEGER,
	created_at                   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS gates (
	gate_id               INTEGER PRIMARY KEY AUTOINCREMENT,
	gate_number           TEXT UNIQUE NOT NULL,
	terminal              TEXT NOT NULL,
	aircraft_type_allowed TEXT NOT NULL,
	status                TEXT NOT NULL,
	current_flight        TEXT,
	available_from        TEXT,
	created_at            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS policies (
	policy_id       INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id     TEXT UNIQUE NOT NULL,
	title           TEXT NOT NULL,
	version         TEXT NOT NULL,
	effective_date  TEXT NOT NULL,
	effective_until TEXT,
	category        TEXT NOT NULL,
	content         TEXT NOT NULL,
	aircraft_types  TEXT,
	route_regions   TEXT,
	business_domain TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS work_orders (
	work_order_id         INTEGER PRIMARY KEY AUTOINCREMENT,
	wo_number             TEXT UNIQUE NOT NULL,
	aircraft_registration TEXT NOT NULL,
	work_type             TEXT NOT NULL,
	priority              TEXT NOT NULL,
	status                TEXT NOT NULL,
	description           TEXT NOT NULL,
	assigned_to           TEXT,
	created_at            TEXT NOT NULL,
	due_date              TEXT,
	completed_at          TEXT
);

CREATE TABLE IF NOT EXISTS users (
	user_id               INTEGER PRIMARY KEY AUTOINCREMENT,
	username              TEXT UNIQUE NOT NULL,
	name                  TEXT NOT NULL,
	role                  TEXT NOT NULL,
	business_domains      TEXT NOT NULL,
	aircraft_types        TEXT,
	bases                 TEXT,
	route_regions         TEXT,
	sensitivity_clearance TEXT NOT NULL,
	active                INTEGER DEFAULT 1,
	created_at            TEXT NOT NULL
);
`

// DB wraps the SQLite operational database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, runs migrations and seeds
// the reference dataset when the flights table is empty. Use ":memory:"
// for an ephemeral instance.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	d := &DB{db: db}
	if err := d.seed(); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error { return d.db.Close() }

// Flight is one row of the flights table.
type Flight struct {
	FlightNumber         string `json:"flight_number"`
	Route                string `json:"route"`
	Origin               string `json:"origin"`
	Destination          string `json:"destination"`
	ScheduledDeparture   string `json:"scheduled_departure"`
	ScheduledArrival     string `json:"scheduled_arrival"`
	Status               string `json:"status"`
	AircraftRegistration string `json:"aircraft_registration"`
	Gate                 string `json:"gate"`
	PaxCount             int    `json:"pax_count"`
	PaxCapacity          int    `json:"pax_capacity"`
	DelayMinutes         int    `json:"delay_minutes"`
	DelayReason          string `json:"delay_reason,omitempty"`
}

// Aircraft is one row of the aircraft table.
type Aircraft struct {
	Registration       string `json:"registration"`
	AircraftType       string `json:"aircraft_type"`
	Manufacturer       string `json:"manufacturer"`
	Model              string `json:"model"`
	Capacity           int    `json:"capacity"`
	Status             string `json:"status"`
	Base               string `json:"base"`
	LastMaintenance    string `json:"last_maintenance,omitempty"`
	NextMaintenanceDue string `json:"next_maintenance_due,omitempty"`
	FlightHours        int    `json:"flight_hours"`
	Cycles             int    `json:"cycles"`
}

// CrewMember is one row of the crew table.
type CrewMember struct {
	EmployeeID                string   `json:"employee_id"`
	Name                      string   `json:"name"`
	Role                      string   `json:"role"`
	Base                      string   `json:"base"`
	AircraftQualifications    []string `json:"aircraft_qualifications"`
	Status                    string   `json:"status"`
	FlightDutyPeriodRemaining int      `json:"flight_duty_period_remaining"`
}

// Gate is one row of the gates table.
type Gate struct {
	GateNumber          string `json:"gate_number"`
	Terminal            string `json:"terminal"`
	AircraftTypeAllowed string `json:"aircraft_type_allowed"`
	Status              string `json:"status"`
	CurrentFlight       string `json:"current_flight,omitempty"`
}

// PolicyDocument is one row of the policies table.
type PolicyDocument struct {
	DocumentID     string `json:"document_id"`
	Title          string `json:"title"`
	Version        string `json:"version"`
	EffectiveDate  string `json:"effective_date"`
	EffectiveUntil string `json:"effective_until,omitempty"`
	Category       string `json:"category"`
	Content        string `json:"content"`
	BusinessDomain string `json:"business_domain"`
}

// WorkOrder is one row of the work_orders table.
type WorkOrder struct {
	WONumber             string `json:"wo_number"`
	AircraftRegistration string `json:"aircraft_registration"`
	WorkType             string `json:"work_type"`
	Priority             string `json:"priority"`
	Status               string `json:"status"`
	Description          string `json:"description"`
	AssignedTo           string `json:"assigned_to,omitempty"`
	CreatedAt            string `json:"created_at"`
	DueDate              string `json:"due_date,omitempty"`
}

// User is one row of the users table.
type User struct {
	Username             string   `json:"username"`
	Name                 string   `json:"name"`
	Role                 string   `json:"role"`
	BusinessDomains      []string `json:"business_domains"`
	AircraftTypes        []string `json:"aircraft_types"`
	Bases                []string `json:"bases"`
	RouteRegions         []string `json:"route_regions"`
	SensitivityClearance string   `json:"sensitivity_clearance"`
	Active               bool     `json:"active"`
}

// GetFlightStatus returns the latest row for a flight number.
func (d *DB) GetFlightStatus(flightNumber string) (*Flight, error) {
	row := d.db.QueryRow(`
		SELECT flight_number, route, origin, destination, scheduled_departure,
		       scheduled_arrival, status, COALESCE(aircraft_registration, ''),
		       COALESCE(gate, ''), COALESCE(pax_count, 0), COALESCE(pax_capacity, 0),
		       COALESCE(delay_minutes, 0), COALESCE(delay_reason, '')
		FROM flights WHERE flight_number = ?
		ORDER BY created_at DESC LIMIT 1`, flightNumber)
	var f Flight
	err := row.Scan(&f.FlightNumber, &f.Route, &f.Origin, &f.Destination,
		&f.ScheduledDeparture, &f.ScheduledArrival, &f.Status,
		&f.AircraftRegistration, &f.Gate, &f.PaxCount, &f.PaxCapacity,
		&f.DelayMinutes, &f.DelayReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("flight status: %w", err)
	}
	return &f, nil
}

// GetAircraftAvailability returns aircraft at base with status "available".
func (d *DB) GetAircraftAvailability(base string) ([]Aircraft, error) {
	rows, err := d.db.Query(`
		SELECT registration, aircraft_type, manufacturer, model, capacity, status,
		       base, COALESCE(last_maintenance, ''), COALESCE(next_maintenance_due, ''),
		       flight_hours, cycles
		FROM aircraft WHERE base = ? AND status = 'available'`, base)
	if err != nil {
		return nil, fmt.Errorf("aircraft availability: %w", err)
	}
	defer rows.Close()
	var out []Aircraft
	for rows.Next() {
		var a Aircraft
		if err := rows.Scan(&a.Registration, &a.AircraftType, &a.Manufacturer,
			&a.Model, &a.Capacity, &a.Status, &a.Base, &a.LastMaintenance,
			&a.NextMaintenanceDue, &a.FlightHours, &a.Cycles); err != nil {
			return nil, fmt.Errorf("scan aircraft: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetCrewAvailability returns available crew at base, optionally filtered
// by aircraft type qualification.
func (d *DB) GetCrewAvailability(base, aircraftType string) ([]CrewMember, error) {
	q := `SELECT employee_id, name, role, base, COALESCE(aircraft_qualifications, '[]'),
	             status, COALESCE(flight_duty_period_remaining, 0)
	      FROM crew WHERE base = ? AND status = 'available'`
	args := []interface{}{base}
	if aircraftType != "" {
		q += ` AND aircraft_qualifications LIKE ?`
		args = append(args, "%"+aircraftType+"%")
	}
	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("crew availability: %w", err)
	}
	defer rows.Close()
	var out []CrewMember
	for rows.Next() {
		var c CrewMember
		var quals string
		if err := rows.Scan(&c.EmployeeID, &c.Name, &c.Role, &c.Base, &quals,
			&c.Status, &c.FlightDutyPeriodRemaining); err != nil {
			return nil, fmt.Errorf("scan crew: %w", err)
		}
		if err := json.Unmarshal([]byte(quals), &c.AircraftQualifications); err != nil {
			return nil, fmt.Errorf("decode qualifications: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetGateAvailability returns available gates, optionally filtered by the
// aircraft type they can accept.
func (d *DB) GetGateAvailability(aircraftType string) ([]Gate, error) {
	q := `SELECT gate_number, terminal, aircraft_type_allowed, status,
	             COALESCE(current_flight, '')
	      FROM gates WHERE status = 'available'`
	args := []interface{}{}
	if aircraftType != "" {
		q += ` AND aircraft_type_allowed LIKE ?`
		args = append(args, "%"+aircraftType+"%")
	}
	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("gate availability: %w", err)
	}
	defer rows.Close()
	var out []Gate
	for rows.Next() {
		var g Gate
		if err := rows.Scan(&g.GateNumber, &g.Terminal, &g.AircraftTypeAllowed,
			&g.Status, &g.CurrentFlight); err != nil {
			return nil, fmt.Errorf("scan gate: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// SearchPolicies matches the query against title and content, newest
// effective date first. businessDomain narrows the search when non-empty.
func (d *DB) SearchPolicies(query, businessDomain string) ([]PolicyDocument, error) {
	like := "%" + query + "%"
	q := `SELECT document_id, title, version, effective_date,
	             COALESCE(effective_until, ''), category, content, business_domain
	      FROM policies WHERE (title LIKE ? OR content LIKE ?)`
	args := []interface{}{like, like}
	if businessDomain != "" {
		q += ` AND business_domain = ?`
		args = append(args, businessDomain)
	}
	q += ` ORDER BY effective_date DESC`
	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("search policies: %w", err)
	}
	defer rows.Close()
	var out []PolicyDocument
	for rows.Next() {
		var p PolicyDocument
		if err := rows.Scan(&p.DocumentID, &p.Title, &p.Version, &p.EffectiveDate,
			&p.EffectiveUntil, &p.Category, &p.Content, &p.BusinessDomain); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetWorkOrder returns a work order by its WO number.
func (d *DB) GetWorkOrder(woNumber string) (*WorkOrder, error) {
	row := d.db.QueryRow(`
		SELECT wo_number, aircraft_registration, work_type, priority, status,
		       description, COALESCE(assigned_to, ''), created_at, COALESCE(due_date, '')
		FROM work_orders WHERE wo_number = ?`, woNumber)
	var w WorkOrder
	err := row.Scan(&w.WONumber, &w.AircraftRegistration, &w.WorkType, &w.Priority,
		&w.Status, &w.Description, &w.AssignedTo, &w.CreatedAt, &w.DueDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("work order: %w", err)
	}
	return &w, nil
}

// CreateWorkOrderInput carries the fields for a new work order.
type CreateWorkOrderInput struct {
	AircraftRegistration string
	WorkType             string
	Priority             string
	Description          string
	AssignedTo           string
	DueDate              string
}

// CreateWorkOrder inserts a new pending work order and returns its WO number.
func (d *DB) CreateWorkOrder(in CreateWorkOrderInput) (string, error) {
	now := time.Now().UTC()
	wo := "WO-" + now.Format("2006-01-02-150405")
	_, err := d.db.Exec(`
		INSERT INTO work_orders (wo_number, aircraft_registration, work_type,
		       priority, status, description, assigned_to, created_at, due_date)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, ?, ?)`,
		wo, in.AircraftRegistration, in.WorkType, in.Priority, in.Description,
		nullable(in.AssignedTo), now.Format(time.RFC3339), nullable(in.DueDate))
	if err != nil {
		return "", fmt.Errorf("create work order: %w", err)
	}
	return wo, nil
}

// DeleteWorkOrder removes a work order. Used to compensate a completed
// create when a rollback is requested.
func (d *DB) DeleteWorkOrder(woNumber string) error {
	res, err := d.db.Exec(`DELETE FROM work_orders WHERE wo_number = ?`, woNumber)
	if err != nil {
		return fmt.Errorf("delete work order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUser returns an active user by username.
func (d *DB) GetUser(username string) (*User, error) {
	row := d.db.QueryRow(`
		SELECT username, name, role, business_domains, COALESCE(aircraft_types, '[]'),
		       COALESCE(bases, '[]'), COALESCE(route_regions, '[]'),
		       sensitivity_clearance, active
		FROM users WHERE username = ? AND active = 1`, username)
	var u User
	var domains, types, bases, regions string
	var active int
	err := row.Scan(&u.Username, &u.Name, &u.Role, &domains, &types, &bases,
		&regions, &u.SensitivityClearance, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user: %w", err)
	}
	for _, pair := range []struct {
		raw string
		dst *[]string
	}{{domains, &u.BusinessDomains}, {types, &u.AircraftTypes}, {bases, &u.Bases}, {regions, &u.RouteRegions}} {
		if err := json.Unmarshal([]byte(pair.raw), pair.dst); err != nil {
			return nil, fmt.Errorf("decode user scope: %w", err)
		}
	}
	u.Active = active == 1
	return &u, nil
}

func nullable(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
