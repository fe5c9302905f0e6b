package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"telehealth-platform/pkg/utils"
)

// NOTE: This repository assumes the following tables exist:
// - clinic_sessions
//   UNIQUE (doctor_id, date) WHERE status <> 'cancelled'
// - queue_entries
//   UNIQUE (session_id, token_number)
//
// Status-guarded UPDATEs implement optimistic concurrency: a transition only
// lands if the row is still in the status the caller saw.

// PostgresRepo implements Repository on a Postgres pool.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) CreateSession(ctx context.Context, s ClinicSession) error {
	const q = `
INSERT INTO clinic_sessions (
  id, doctor_id, date, start_time, end_time, timezone, status,
  current_token, max_tokens, avg_consultation_minutes, cancel_reason,
  created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.DoctorID,
		s.Date,
		s.StartTime,
		s.EndTime,
		s.Timezone,
		s.Status,
		s.CurrentToken,
		s.MaxTokens,
		s.AvgConsultationMinutes,
		nullable(s.CancelReason),
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrSessionExists
	}
	return err
}

func (r *PostgresRepo) GetSession(ctx context.Context, id string) (ClinicSession, error) {
	const q = sessionSelect + ` WHERE id = $1`
	return scanSession(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) ActiveSessionForDate(ctx context.Context, doctorID, date string) (ClinicSession, bool, error) {
	const q = sessionSelect + `
 WHERE doctor_id = $1 AND date = $2 AND status <> 'cancelled'
 LIMIT 1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, doctorID, date))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ClinicSession{}, false, nil
		}
		return ClinicSession{}, false, err
	}
	return s, true, nil
}

func (r *PostgresRepo) UpdateSessionStatus(ctx context.Context, s ClinicSession, expect SessionStatus) error {
	const q = `
UPDATE clinic_sessions
SET status = $1, current_token = $2, cancel_reason = $3, updated_at = $4
WHERE id = $5 AND status = $6
`
	res, err := r.db.ExecContext(ctx, q,
		s.Status,
		s.CurrentToken,
		nullable(s.CancelReason),
		s.UpdatedAt,
		s.ID,
		expect,
	)
	if err != nil {
		return err
	}
	return conflictUnlessOneRow(res)
}

func (r *PostgresRepo) CancelSessionCascade(ctx context.Context, sessionID, reason string, expect SessionStatus, at time.Time) (ClinicSession, error) {
	var out ClinicSession
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const qs = `
UPDATE clinic_sessions
SET status = 'cancelled', cancel_reason = $1, updated_at = $2
WHERE id = $3 AND status = $4
` + sessionReturning
		if err := scanSessionInto(tx.QueryRowContext(ctx, qs, reason, at, sessionID, expect), &out); err != nil {
			if errors.Is(err, ErrNotFound) {
				// The caller saw the session moments ago; a miss here means the
				// status guard lost a race.
				return ErrConflict
			}
			return err
		}

		// Terminal entries keep their status; everything still in flight is
		// cancelled by the session with the session's reason.
		const qe = `
UPDATE queue_entries
SET status = 'cancelled_by_session', status_reason = $1, updated_at = $2
WHERE session_id = $3
  AND status NOT IN ('no_show','completed','cancelled','cancelled_by_session')
`
		_, err := tx.ExecContext(ctx, qe, reason, at, sessionID)
		return err
	})
	if err != nil {
		return ClinicSession{}, err
	}
	return out, nil
}

func (r *PostgresRepo) ListLiveSessions(ctx context.Context) ([]ClinicSession, error) {
	const q = sessionSelect + ` WHERE status = 'live' ORDER BY date, start_time`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClinicSession
	for rows.Next() {
		var s ClinicSession
		if err := scanSessionInto(rows, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CreateEntry(ctx context.Context, e QueueEntry) error {
	const q = `
INSERT INTO queue_entries (
  id, session_id, patient_id, patient_name, token_number, consultation_mode,
  status, recall_count, status_reason, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.SessionID,
		e.PatientID,
		e.PatientName,
		e.TokenNumber,
		e.Mode,
		e.Status,
		e.RecallCount,
		nullable(e.StatusReason),
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *PostgresRepo) GetEntry(ctx context.Context, id string) (QueueEntry, error) {
	const q = entrySelect + ` WHERE id = $1`
	return scanEntry(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) UpdateEntry(ctx context.Context, e QueueEntry, expect EntryStatus) error {
	const q = `
UPDATE queue_entries
SET status = $1, recall_count = $2, status_reason = $3, updated_at = $4
WHERE id = $5 AND status = $6
`
	res, err := r.db.ExecContext(ctx, q,
		e.Status,
		e.RecallCount,
		nullable(e.StatusReason),
		e.UpdatedAt,
		e.ID,
		expect,
	)
	if err != nil {
		return err
	}
	return conflictUnlessOneRow(res)
}

func (r *PostgresRepo) ListEntries(ctx context.Context, sessionID string) ([]QueueEntry, error) {
	const q = entrySelect + ` WHERE session_id = $1 ORDER BY token_number`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var e QueueEntry
		if err := scanEntryInto(rows, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountEntries(ctx context.Context, sessionID string) (int, error) {
	const q = `SELECT COUNT(*) FROM queue_entries WHERE session_id = $1`
	var n int
	if err := r.db.QueryRowContext(ctx, q, sessionID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

/* ===================== SCAN HELPERS ===================== */

const sessionSelect = `
SELECT id, doctor_id, date, start_time, end_time, timezone, status,
       current_token, max_tokens, avg_consultation_minutes, cancel_reason,
       created_at, updated_at
FROM clinic_sessions`

const sessionReturning = `
RETURNING id, doctor_id, date, start_time, end_time, timezone, status,
          current_token, max_tokens, avg_consultation_minutes, cancel_reason,
          created_at, updated_at`

const entrySelect = `
SELECT id, session_id, patient_id, patient_name, token_number, consultation_mode,
       status, recall_count, status_reason, created_at, updated_at
FROM queue_entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (ClinicSession, error) {
	var s ClinicSession
	if err := scanSessionInto(row, &s); err != nil {
		return ClinicSession{}, err
	}
	return s, nil
}

func scanSessionInto(row rowScanner, s *ClinicSession) error {
	var cancelReason sql.NullString
	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.Timezone,
		&s.Status,
		&s.CurrentToken,
		&s.MaxTokens,
		&s.AvgConsultationMinutes,
		&cancelReason,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	s.CancelReason = cancelReason.String
	return nil
}

func scanEntry(row rowScanner) (QueueEntry, error) {
	var e QueueEntry
	if err := scanEntryInto(row, &e); err != nil {
		return QueueEntry{}, err
	}
	return e, nil
}

func scanEntryInto(row rowScanner, e *QueueEntry) error {
	var reason sql.NullString
	err := row.Scan(
		&e.ID,
		&e.SessionID,
		&e.PatientID,
		&e.PatientName,
		&e.TokenNumber,
		&e.Mode,
		&e.Status,
		&e.RecallCount,
		&reason,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	e.StatusReason = reason.String
	return nil
}

func conflictUnlessOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	// pgx surfaces Postgres errors as *pgconn.PgError; 23505 is unique_violation.
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
