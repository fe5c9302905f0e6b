package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends events to the audit_events table. The table should be
// INSERT-only, ideally enforced with a trigger blocking UPDATE/DELETE.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, actor_user_id, actor_role, session_id, entry_id, call_id,
  action, reason, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.ActorUserID,
		e.ActorRole,
		e.SessionID,
		e.EntryID,
		e.CallID,
		e.Action,
		e.Reason,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
