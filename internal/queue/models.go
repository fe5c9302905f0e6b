package queue

import "time"

// ClinicSession is a doctor's scheduled time window for seeing patients on a
// given date. Its lifecycle is independent of individual queue entries.
//
// Invariant: at most one non-cancelled session per doctor per calendar day.
// Date is immutable once created. StartTime/EndTime are wall-clock strings
// ("15:04") evaluated in the session's timezone; only the server clock decides
// whether the window is open.
type ClinicSession struct {
	ID       string `json:"id" db:"id"`
	DoctorID string `json:"doctor_id" db:"doctor_id"`

	// Date is the calendar day, "2006-01-02".
	Date      string `json:"date" db:"date"`
	StartTime string `json:"start_time" db:"start_time"`
	EndTime   string `json:"end_time" db:"end_time"`

	// Timezone is the IANA zone the wall-clock window is evaluated in.
	Timezone string `json:"timezone" db:"timezone"`

	Status SessionStatus `json:"status" db:"status"`

	// CurrentToken is the last token number called.
	CurrentToken int `json:"current_token" db:"current_token"`

	// MaxTokens is the session capacity, derived from the window duration and
	// the average consultation length at scheduling time.
	MaxTokens              int `json:"max_tokens" db:"max_tokens"`
	AvgConsultationMinutes int `json:"avg_consultation_minutes" db:"avg_consultation_minutes"`

	// CancelReason is set only when Status is cancelled.
	CancelReason string `json:"cancel_reason,omitempty" db:"cancel_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusLive      SessionStatus = "live"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the session can no longer transition.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusCancelled
}

// QueueEntry is one patient's position within a clinic session.
//
// TokenNumber is assigned at booking and never reordered by recall or skip.
// RecallCount is monotonically non-decreasing and never reset after creation.
// A terminal entry is never mutated again; entries are never deleted.
type QueueEntry struct {
	ID        string `json:"id" db:"id"`
	SessionID string `json:"session_id" db:"session_id"`
	PatientID string `json:"patient_id" db:"patient_id"`

	// PatientName is denormalized for queue display and call invites.
	PatientName string `json:"patient_name" db:"patient_name"`

	TokenNumber int              `json:"token_number" db:"token_number"`
	Mode        ConsultationMode `json:"consultation_mode" db:"consultation_mode"`

	Status      EntryStatus `json:"status" db:"status"`
	RecallCount int         `json:"recall_count" db:"recall_count"`

	// StatusReason records why a terminal status was applied (no-show reason,
	// session cancellation reason).
	StatusReason string `json:"status_reason,omitempty" db:"status_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type ConsultationMode string

const (
	ModeInPerson  ConsultationMode = "in_person"
	ModeCall      ConsultationMode = "call"
	ModeVideoCall ConsultationMode = "video_call"
)

func (m ConsultationMode) Valid() bool {
	switch m {
	case ModeInPerson, ModeCall, ModeVideoCall:
		return true
	default:
		return false
	}
}

// EntryStatus is the single canonical lifecycle state of a queue entry.
// The legacy split between a persistence status and a display "queue status"
// collapses into this enum; DisplayStatus reproduces the display surface.
type EntryStatus string

const (
	EntryStatusWaiting           EntryStatus = "waiting"
	EntryStatusCalled            EntryStatus = "called"
	EntryStatusInConsultation    EntryStatus = "in_consultation"
	EntryStatusSkipped           EntryStatus = "skipped"
	EntryStatusNoShow            EntryStatus = "no_show"
	EntryStatusCompleted         EntryStatus = "completed"
	EntryStatusCancelled         EntryStatus = "cancelled"
	EntryStatusCancelledBySession EntryStatus = "cancelled_by_session"
)

// Terminal reports whether no further action may mutate the entry.
func (s EntryStatus) Terminal() bool {
	switch s {
	case EntryStatusNoShow, EntryStatusCompleted, EntryStatusCancelled, EntryStatusCancelledBySession:
		return true
	default:
		return false
	}
}

// DisplayStatus maps the canonical status onto the label shown in queue views.
func (s EntryStatus) DisplayStatus() string {
	switch s {
	case EntryStatusWaiting:
		return "waiting"
	case EntryStatusCalled, EntryStatusInConsultation:
		return "called"
	case EntryStatusSkipped:
		return "skipped"
	case EntryStatusNoShow:
		return "no-show"
	case EntryStatusCompleted:
		return "completed"
	case EntryStatusCancelled, EntryStatusCancelledBySession:
		return "cancelled"
	default:
		return string(s)
	}
}

// RecallLimit caps how many times a called patient can be returned to waiting.
const RecallLimit = 2

// QueueSnapshot is the authoritative queue state pushed to clients after every
// mutation and on demand. Clients replace local state with it wholesale.
type QueueSnapshot struct {
	Session ClinicSession `json:"session"`
	Entries []QueueEntry  `json:"entries"`
}
