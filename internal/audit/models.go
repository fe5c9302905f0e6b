package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Audit is internal-only; it is never exposed to patients or doctors.
// - Audit logging is best-effort; do not block queue or call flows on audit failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event (if applicable).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// Target identifiers (optional, depending on the event type).
	SessionID string `json:"session_id,omitempty" db:"session_id"`
	EntryID   string `json:"entry_id,omitempty" db:"entry_id"`
	CallID    string `json:"call_id,omitempty" db:"call_id"`

	// Action is the specific transition taken (call, recall, skip, start,
	// cancel, call_ended, ...).
	Action string `json:"action,omitempty" db:"action"`

	// Reason carries the mandatory cancellation/no-show reason when present.
	Reason string `json:"reason,omitempty" db:"reason"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeQueueAction       EventType = "queue_action"
	EventTypeSessionTransition EventType = "session_transition"
	EventTypeCallLifecycle     EventType = "call_lifecycle"
)
