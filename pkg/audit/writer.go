package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"aerogate/pkg/models"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Writer persists completed traces to Postgres. Satisfied by *pgxpool.Pool.
type Writer struct {
	DB auditDB
}

const traceSchema = `
CREATE TABLE IF NOT EXISTS execution_traces (
	trace_id                TEXT PRIMARY KEY,
	session_id              TEXT NOT NULL DEFAULT '',
	user_id                 TEXT NOT NULL DEFAULT '',
	query                   TEXT NOT NULL DEFAULT '',
	risk_tier               TEXT NOT NULL DEFAULT '',
	status                  TEXT NOT NULL DEFAULT '',
	start_time              TIMESTAMPTZ,
	end_time                TIMESTAMPTZ,
	final_response          TEXT NOT NULL DEFAULT '',
	trace_hash              TEXT NOT NULL DEFAULT '',
	events                  JSONB,
	model_version           TEXT NOT NULL DEFAULT '',
	prompt_version          TEXT NOT NULL DEFAULT '',
	retrieval_index_version TEXT NOT NULL DEFAULT '',
	policy_version          TEXT NOT NULL DEFAULT ''
)`

// NewWriter provisions the trace table and returns a ready writer. The DDL
// is idempotent so restarts against an existing database are safe.
func NewWriter(ctx context.Context, db auditDB) (*Writer, error) {
	if _, err := db.Exec(ctx, traceSchema); err != nil {
		return nil, fmt.Errorf("provision execution_traces: %w", err)
	}
	return &Writer{DB: db}, nil
}

// Append inserts one completed trace with its integrity hash. The event
// chain is stored as a JSON document; the hash makes post-hoc tampering
// detectable.
func (w *Writer) Append(ctx context.Context, trace *models.ExecutionTrace, hash string) error {
	events, err := json.Marshal(trace.Events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	_, err = w.DB.Exec(ctx, `
		INSERT INTO execution_traces
		(trace_id, session_id, user_id, query, risk_tier, status, start_time, end_time, final_response, trace_hash, events, model_version, prompt_version, retrieval_index_version, policy_version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, trace.TraceID, trace.SessionID, trace.UserID, trace.Query, string(trace.RiskTier),
		string(trace.Status), trace.StartTime, trace.EndTime, trace.FinalResponse, hash,
		events, trace.ModelVersion, trace.PromptVersion, trace.RetrievalIndexVersion, trace.PolicyVersion)
	return err
}

// StoredTrace is one persisted row.
type StoredTrace struct {
	TraceID       string
	UserID        string
	RiskTier      string
	Status        string
	TraceHash     string
	FinalResponse string
	Events        []models.AuditEvent
}

// Get loads a persisted trace by id.
func (w *Writer) Get(ctx context.Context, traceID string) (StoredTrace, error) {
	var rec StoredTrace
	var events []byte
	row := w.DB.QueryRow(ctx, `
		SELECT trace_id, user_id, risk_tier, status, trace_hash, final_response, events
		FROM execution_traces WHERE trace_id=$1
	`, traceID)
	if err := row.Scan(&rec.TraceID, &rec.UserID, &rec.RiskTier, &rec.Status, &rec.TraceHash, &rec.FinalResponse, &events); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(events, &rec.Events); err != nil {
		return rec, fmt.Errorf("decode events: %w", err)
	}
	return rec, nil
}
