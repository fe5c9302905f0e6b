package reporting

import (
	"context"
	"errors"

	"telehealth-platform/internal/queue"
	"telehealth-platform/internal/signaling"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. Implementations must
// enforce doctor scoping on session lookups and should read from immutable
// sources (terminal queue entries, finished call records).
type Repository interface {
	SessionWithEntries(ctx context.Context, doctorID, sessionID string) (queue.ClinicSession, []queue.QueueEntry, error)
	CallsForAppointments(ctx context.Context, appointmentIDs []string) ([]signaling.CallRecord, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// SessionSummary aggregates a doctor's session. The doctor id scopes the
// lookup; foreign sessions surface as not found.
func (s *Service) SessionSummary(ctx context.Context, doctorID, sessionID string) (SessionSummary, error) {
	if doctorID == "" || sessionID == "" {
		return SessionSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SessionSummary{}, errors.New("reporting: repository not configured")
	}

	sess, entries, err := s.repo.SessionWithEntries(ctx, doctorID, sessionID)
	if err != nil {
		return SessionSummary{}, err
	}

	out := SessionSummary{
		SessionID: sess.ID,
		DoctorID:  sess.DoctorID,
		Date:      sess.Date,
		Status:    string(sess.Status),
	}

	apptIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		out.TotalEntries++
		out.TotalRecalls += e.RecallCount
		apptIDs = append(apptIDs, e.ID)
		switch e.Status {
		case queue.EntryStatusWaiting:
			out.Waiting++
		case queue.EntryStatusCalled:
			out.Called++
		case queue.EntryStatusInConsultation:
			out.InConsultation++
		case queue.EntryStatusSkipped:
			out.Skipped++
		case queue.EntryStatusCompleted:
			out.Completed++
		case queue.EntryStatusNoShow:
			out.NoShow++
		case queue.EntryStatusCancelled, queue.EntryStatusCancelledBySession:
			out.Cancelled++
		}
	}

	recs, err := s.repo.CallsForAppointments(ctx, apptIDs)
	if err != nil {
		return SessionSummary{}, err
	}
	for _, rec := range recs {
		switch rec.EndReason {
		case signaling.EndReasonDeclined, signaling.EndReasonTimeout:
			out.DeclinedOrTimedOutCalls++
		default:
			if rec.Duration > 0 {
				out.CompletedCalls++
				out.TotalCallSeconds += int(rec.Duration.Seconds())
			}
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageCallSeconds = out.TotalCallSeconds / out.CompletedCalls
	}
	return out, nil
}
