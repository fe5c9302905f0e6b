package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("queue: not found")
	ErrConflict        = errors.New("queue: concurrent modification")
	ErrSessionExists   = errors.New("queue: session already exists for this date")
	ErrInvalidArgument = errors.New("queue: invalid argument")
)

// Repository is the persistence contract for clinic sessions and queue entries.
//
// Entries are never deleted; terminal statuses are the only form of removal.
// Implementations must enforce doctor scoping on session lookups.
type Repository interface {
	CreateSession(ctx context.Context, s ClinicSession) error
	GetSession(ctx context.Context, id string) (ClinicSession, error)
	// ActiveSessionForDate returns the doctor's non-cancelled session on a
	// date, if any. At most one such session may exist.
	ActiveSessionForDate(ctx context.Context, doctorID, date string) (ClinicSession, bool, error)
	// UpdateSessionStatus transitions a session, guarded by the expected
	// current status. Returns ErrConflict when the guard fails.
	UpdateSessionStatus(ctx context.Context, s ClinicSession, expect SessionStatus) error
	// CancelSessionCascade atomically cancels the session and moves every
	// non-terminal entry to cancelled_by_session with the given reason.
	CancelSessionCascade(ctx context.Context, sessionID, reason string, expect SessionStatus, at time.Time) (ClinicSession, error)
	// ListLiveSessions returns sessions currently in the live status,
	// for the auto-end sweep.
	ListLiveSessions(ctx context.Context) ([]ClinicSession, error)

	CreateEntry(ctx context.Context, e QueueEntry) error
	GetEntry(ctx context.Context, id string) (QueueEntry, error)
	// UpdateEntry persists an entry transition, guarded by the expected
	// current status. Returns ErrConflict when the guard fails.
	UpdateEntry(ctx context.Context, e QueueEntry, expect EntryStatus) error
	// ListEntries returns a session's entries ordered by token number.
	ListEntries(ctx context.Context, sessionID string) ([]QueueEntry, error)
	// CountEntries counts all entries booked into a session, terminal included
	// (token numbers are never reused).
	CountEntries(ctx context.Context, sessionID string) (int, error)
}
