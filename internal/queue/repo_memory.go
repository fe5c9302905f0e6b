package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is a mutex-guarded in-memory repository used by tests and local
// development. Not intended for production use.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]ClinicSession
	entries  map[string]QueueEntry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		sessions: make(map[string]ClinicSession),
		entries:  make(map[string]QueueEntry),
	}
}

func (r *MemoryRepo) CreateSession(ctx context.Context, s ClinicSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions {
		if existing.DoctorID == s.DoctorID && existing.Date == s.Date && existing.Status != SessionStatusCancelled {
			return ErrSessionExists
		}
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepo) GetSession(ctx context.Context, id string) (ClinicSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ClinicSession{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) ActiveSessionForDate(ctx context.Context, doctorID, date string) (ClinicSession, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.DoctorID == doctorID && s.Date == date && s.Status != SessionStatusCancelled {
			return s, true, nil
		}
	}
	return ClinicSession{}, false, nil
}

func (r *MemoryRepo) UpdateSessionStatus(ctx context.Context, s ClinicSession, expect SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expect {
		return ErrConflict
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepo) CancelSessionCascade(ctx context.Context, sessionID, reason string, expect SessionStatus, at time.Time) (ClinicSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ClinicSession{}, ErrNotFound
	}
	if s.Status != expect {
		return ClinicSession{}, ErrConflict
	}

	s.Status = SessionStatusCancelled
	s.CancelReason = reason
	s.UpdatedAt = at
	r.sessions[sessionID] = s

	for id, e := range r.entries {
		if e.SessionID != sessionID || e.Status.Terminal() {
			continue
		}
		e.Status = EntryStatusCancelledBySession
		e.StatusReason = reason
		e.UpdatedAt = at
		r.entries[id] = e
	}
	return s, nil
}

func (r *MemoryRepo) ListLiveSessions(ctx context.Context) ([]ClinicSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ClinicSession
	for _, s := range r.sessions {
		if s.Status == SessionStatusLive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *MemoryRepo) CreateEntry(ctx context.Context, e QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = e
	return nil
}

func (r *MemoryRepo) GetEntry(ctx context.Context, id string) (QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return QueueEntry{}, ErrNotFound
	}
	return e, nil
}

func (r *MemoryRepo) UpdateEntry(ctx context.Context, e QueueEntry, expect EntryStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[e.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expect {
		return ErrConflict
	}
	r.entries[e.ID] = e
	return nil
}

func (r *MemoryRepo) ListEntries(ctx context.Context, sessionID string) ([]QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []QueueEntry
	for _, e := range r.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenNumber < out[j].TokenNumber })
	return out, nil
}

func (r *MemoryRepo) CountEntries(ctx context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}
