package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tty-relay/pkg/utils"
)

const schemaAuditEvents = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	call_id     TEXT        NOT NULL,
	type        TEXT        NOT NULL,
	actor       TEXT        NOT NULL DEFAULT '',
	actor_role  TEXT        NOT NULL DEFAULT '',
	ip_address  TEXT        NOT NULL DEFAULT '',
	message     TEXT        NOT NULL DEFAULT '',
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL
)`

const indexAuditEventsCall = `
CREATE INDEX IF NOT EXISTS audit_events_call_id_created_at
	ON audit_events (call_id, created_at)`

const insertAuditEvent = `
INSERT INTO audit_events (id, call_id, type, actor, actor_role, ip_address, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// PostgresRepo stores audit events in Postgres via database/sql (pgx driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// EnsureSchema creates the audit table and index if missing.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if r.db == nil {
		return errors.New("audit: db not configured")
	}
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range []string{schemaAuditEvents, indexAuditEventsCall} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("audit: ensure schema: %w", err)
			}
		}
		return nil
	})
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	if r.db == nil {
		return errors.New("audit: db not configured")
	}
	var metadata sql.NullString
	if e.Metadata != "" {
		metadata = sql.NullString{String: e.Metadata, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, insertAuditEvent,
		e.ID, e.CallID, string(e.Type), e.Actor, e.ActorRole, e.IPAddress, e.Message, metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// ForCall returns the events recorded for callID in creation order.
func (r *PostgresRepo) ForCall(ctx context.Context, callID string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, call_id, type, actor, actor_role, ip_address, message, COALESCE(metadata::text, ''), created_at
FROM audit_events WHERE call_id = $1 ORDER BY created_at, id`, callID)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e   Event
			typ string
		)
		if err := rows.Scan(&e.ID, &e.CallID, &typ, &e.Actor, &e.ActorRole, &e.IPAddress, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
