package signaling

import (
	"errors"
	"time"
)

var (
	// ErrCallExists is retryable: the party already holds an active call slot.
	ErrCallExists = errors.New("signaling: a call already exists")
	// ErrChannelUnavailable means the other party has no live event channel.
	// Actions are rejected immediately, never queued.
	ErrChannelUnavailable = errors.New("signaling: channel unavailable")
)

// CallStatus is the server-side phase of a signaled call.
type CallStatus string

const (
	// Ringing: invite delivered, waiting on accept/decline/timeout.
	CallStatusRinging CallStatus = "ringing"
	// Connecting: accepted, media transport being established.
	CallStatusConnecting CallStatus = "connecting"
	// Started: callee joined the media transport.
	CallStatusStarted CallStatus = "started"
	CallStatusEnded   CallStatus = "ended"
)

// EndReason explains why a call left the active set.
type EndReason string

const (
	EndReasonHangup   EndReason = "hangup"
	EndReasonDeclined EndReason = "declined"
	EndReasonTimeout  EndReason = "timeout"
	EndReasonError    EndReason = "error"
)

// Call is the authoritative server-side record of one signaled call between a
// caller (doctor) and a callee (patient), anchored to a queue entry acting as
// the appointment.
type Call struct {
	ID            string
	AppointmentID string

	CallerID   string
	CallerName string
	CalleeID   string
	CalleeName string

	Status    CallStatus
	CreatedAt time.Time

	// StartedAt is stamped when the callee joins the media transport.
	StartedAt time.Time
	EndedAt   time.Time
	EndReason EndReason

	// pendingTimer bounds the current pending step: the ring while the call
	// awaits an answer, then the connect window while it awaits media-live.
	pendingTimer *time.Timer
}

// Duration is the connected time, zero for calls that never started.
func (c *Call) Duration() time.Duration {
	if c.StartedAt.IsZero() || c.EndedAt.IsZero() {
		return 0
	}
	return c.EndedAt.Sub(c.StartedAt)
}

// CallRecord is the immutable view handed to observers once a call ends.
type CallRecord struct {
	ID            string        `json:"id"`
	AppointmentID string        `json:"appointment_id"`
	CallerID      string        `json:"caller_id"`
	CalleeID      string        `json:"callee_id"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       time.Time     `json:"ended_at"`
	EndReason     EndReason     `json:"end_reason"`
	Duration      time.Duration `json:"duration"`
}

func (c *Call) record() CallRecord {
	return CallRecord{
		ID:            c.ID,
		AppointmentID: c.AppointmentID,
		CallerID:      c.CallerID,
		CalleeID:      c.CalleeID,
		StartedAt:     c.StartedAt,
		EndedAt:       c.EndedAt,
		EndReason:     c.EndReason,
		Duration:      c.Duration(),
	}
}
