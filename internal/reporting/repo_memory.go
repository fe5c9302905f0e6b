package reporting

import (
	"context"
	"sync"

	"telehealth-platform/internal/queue"
	"telehealth-platform/internal/signaling"
)

// MemoryRepo layers finished-call records over a queue repository. RecordCall
// is wired to the signaling manager's end-of-call hook.
type MemoryRepo struct {
	queue queue.Repository

	mu      sync.Mutex
	records []signaling.CallRecord
}

func NewMemoryRepo(q queue.Repository) *MemoryRepo {
	return &MemoryRepo{queue: q}
}

// RecordCall appends a finished call. Records are immutable.
func (r *MemoryRepo) RecordCall(rec signaling.CallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *MemoryRepo) SessionWithEntries(ctx context.Context, doctorID, sessionID string) (queue.ClinicSession, []queue.QueueEntry, error) {
	sess, err := r.queue.GetSession(ctx, sessionID)
	if err != nil {
		return queue.ClinicSession{}, nil, err
	}
	if sess.DoctorID != doctorID {
		return queue.ClinicSession{}, nil, queue.ErrNotFound
	}
	entries, err := r.queue.ListEntries(ctx, sessionID)
	if err != nil {
		return queue.ClinicSession{}, nil, err
	}
	return sess, entries, nil
}

func (r *MemoryRepo) CallsForAppointments(ctx context.Context, appointmentIDs []string) ([]signaling.CallRecord, error) {
	wanted := make(map[string]struct{}, len(appointmentIDs))
	for _, id := range appointmentIDs {
		wanted[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []signaling.CallRecord
	for _, rec := range r.records {
		if _, ok := wanted[rec.AppointmentID]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
