package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"telehealth-platform/internal/audit"
	"telehealth-platform/internal/config"
	"telehealth-platform/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrSessionNotLive = errors.New("queue: session is not live")
	ErrWindowClosed   = errors.New("queue: session window is not open")
	ErrBadTransition  = errors.New("queue: transition not allowed from current status")
	ErrTerminalEntry  = errors.New("queue: entry is terminal")
	ErrRecallLimit    = errors.New("queue: recall limit reached")
	ErrCapacityFull   = errors.New("queue: session is at token capacity")
	ErrReasonRequired = errors.New("queue: a reason is required")
)

// Notifier pushes authoritative queue snapshots to connected clients.
// It is the single reconciliation path: the same snapshot is produced after
// every mutation and on periodic re-fetch, and clients replace local state
// with it wholesale.
type Notifier interface {
	QueueUpdated(ctx context.Context, doctorID string, snap QueueSnapshot)
}

// NopNotifier discards snapshots. Used in tests and tooling.
type NopNotifier struct{}

func (NopNotifier) QueueUpdated(context.Context, string, QueueSnapshot) {}

// Service owns the clinic-session and queue-entry state machines.
//
// Every mutating operation:
//  1. re-validates preconditions against current persisted state,
//  2. persists the transition guarded by the expected prior status,
//  3. records an audit event (best-effort),
//  4. pushes a fresh authoritative snapshot to the doctor's channel.
//
// The server clock is the only time authority: session start requests are
// validated against the wall-clock window here, never on the client.
type Service struct {
	repo     Repository
	notifier Notifier
	audit    *audit.Service
	clock    func() time.Time

	defaultAvgMinutes int
	defaultTimezone   string
}

func NewService(repo Repository, notifier Notifier, aud *audit.Service, cfg config.ClinicConfig) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	avg := cfg.DefaultAvgConsultationMinutes
	if avg <= 0 {
		avg = 15
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return &Service{
		repo:              repo,
		notifier:          notifier,
		audit:             aud,
		clock:             time.Now,
		defaultAvgMinutes: avg,
		defaultTimezone:   tz,
	}
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

/* ===================== SESSIONS ===================== */

type ScheduleSessionInput struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`

	// AvgConsultationMinutes overrides the clinic default when > 0.
	AvgConsultationMinutes int `json:"avg_consultation_minutes,omitempty"`

	// Timezone overrides the clinic default when set.
	Timezone string `json:"timezone,omitempty"`
}

// ScheduleSession creates a scheduled session for the doctor on a date.
// At most one non-cancelled session per doctor per date may exist.
func (s *Service) ScheduleSession(ctx context.Context, doctorID string, in ScheduleSessionInput) (ClinicSession, error) {
	if doctorID == "" || in.Date == "" {
		return ClinicSession{}, ErrInvalidArgument
	}
	avg := in.AvgConsultationMinutes
	if avg <= 0 {
		avg = s.defaultAvgMinutes
	}
	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = s.defaultTimezone
	}

	maxTokens, err := MaxTokens(in.StartTime, in.EndTime, avg)
	if err != nil {
		return ClinicSession{}, err
	}

	now := s.clock().UTC()
	sess := ClinicSession{
		ID:                     uuid.NewString(),
		DoctorID:               doctorID,
		Date:                   in.Date,
		StartTime:              in.StartTime,
		EndTime:                in.EndTime,
		Timezone:               tz,
		Status:                 SessionStatusScheduled,
		MaxTokens:              maxTokens,
		AvgConsultationMinutes: avg,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	// Window must parse in the chosen timezone before we persist.
	if _, _, err := SessionWindow(sess); err != nil {
		return ClinicSession{}, err
	}

	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return ClinicSession{}, err
	}
	s.logSession(ctx, doctorID, sess.ID, "schedule", "")
	return sess, nil
}

// StartSession moves a scheduled session live. The wall-clock window is
// re-validated against the server clock at the moment of the request; a
// rejection leaves the stored status untouched.
func (s *Service) StartSession(ctx context.Context, doctorID, sessionID string) (ClinicSession, error) {
	sess, err := s.ownedSession(ctx, doctorID, sessionID)
	if err != nil {
		return ClinicSession{}, err
	}
	if sess.Status != SessionStatusScheduled {
		return ClinicSession{}, ErrBadTransition
	}

	open, err := WindowOpen(sess, s.clock())
	if err != nil {
		return ClinicSession{}, err
	}
	if !open {
		return ClinicSession{}, ErrWindowClosed
	}

	sess.Status = SessionStatusLive
	sess.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateSessionStatus(ctx, sess, SessionStatusScheduled); err != nil {
		return ClinicSession{}, err
	}
	s.logSession(ctx, doctorID, sess.ID, "start", "")
	s.pushSnapshot(ctx, sess.DoctorID, sess.ID)
	return sess, nil
}

// EndSession completes a live session.
func (s *Service) EndSession(ctx context.Context, doctorID, sessionID string) (ClinicSession, error) {
	sess, err := s.ownedSession(ctx, doctorID, sessionID)
	if err != nil {
		return ClinicSession{}, err
	}
	if sess.Status != SessionStatusLive {
		return ClinicSession{}, ErrBadTransition
	}

	sess.Status = SessionStatusCompleted
	sess.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateSessionStatus(ctx, sess, SessionStatusLive); err != nil {
		return ClinicSession{}, err
	}
	s.logSession(ctx, doctorID, sess.ID, "end", "")
	s.pushSnapshot(ctx, sess.DoctorID, sess.ID)
	return sess, nil
}

// CancelSession cancels a scheduled or live session with a mandatory reason
// and cascades every non-terminal entry to cancelled_by_session atomically.
func (s *Service) CancelSession(ctx context.Context, doctorID, sessionID, reason string) (ClinicSession, error) {
	if strings.TrimSpace(reason) == "" {
		return ClinicSession{}, ErrReasonRequired
	}
	sess, err := s.ownedSession(ctx, doctorID, sessionID)
	if err != nil {
		return ClinicSession{}, err
	}
	if sess.Status != SessionStatusScheduled && sess.Status != SessionStatusLive {
		return ClinicSession{}, ErrBadTransition
	}

	cancelled, err := s.repo.CancelSessionCascade(ctx, sessionID, reason, sess.Status, s.clock().UTC())
	if err != nil {
		return ClinicSession{}, err
	}
	s.logSession(ctx, doctorID, sess.ID, "cancel", reason)
	s.pushSnapshot(ctx, sess.DoctorID, sess.ID)
	return cancelled, nil
}

// AutoEndDue completes live sessions whose scheduled end has passed.
// Invoked from a background sweep; returns the number of sessions ended.
func (s *Service) AutoEndDue(ctx context.Context) (int, error) {
	live, err := s.repo.ListLiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock()
	ended := 0
	for _, sess := range live {
		_, end, err := SessionWindow(sess)
		if err != nil {
			logger.From(ctx).Warn("auto-end: bad session window", "session_id", sess.ID, "err", err)
			continue
		}
		if now.Before(end) {
			continue
		}
		sess.Status = SessionStatusCompleted
		sess.UpdatedAt = now.UTC()
		if err := s.repo.UpdateSessionStatus(ctx, sess, SessionStatusLive); err != nil {
			// Raced with an explicit end or cancel; nothing to do.
			continue
		}
		s.logSession(ctx, "", sess.ID, "auto_end", "")
		s.pushSnapshot(ctx, sess.DoctorID, sess.ID)
		ended++
	}
	return ended, nil
}

/* ===================== BOOKING ===================== */

type BookEntryInput struct {
	SessionID   string           `json:"session_id"`
	PatientID   string           `json:"patient_id"`
	PatientName string           `json:"patient_name"`
	Mode        ConsultationMode `json:"consultation_mode"`
}

// AddEntry books a patient into a session, assigning the next token number.
// Token numbers count every entry ever booked; they are never reused.
func (s *Service) AddEntry(ctx context.Context, in BookEntryInput) (QueueEntry, error) {
	if in.SessionID == "" || in.PatientID == "" || !in.Mode.Valid() {
		return QueueEntry{}, ErrInvalidArgument
	}
	sess, err := s.repo.GetSession(ctx, in.SessionID)
	if err != nil {
		return QueueEntry{}, err
	}
	if sess.Status.Terminal() {
		return QueueEntry{}, ErrBadTransition
	}

	count, err := s.repo.CountEntries(ctx, in.SessionID)
	if err != nil {
		return QueueEntry{}, err
	}
	if count >= sess.MaxTokens {
		return QueueEntry{}, ErrCapacityFull
	}

	name := strings.TrimSpace(in.PatientName)
	if name == "" {
		name = "Patient"
	}

	now := s.clock().UTC()
	e := QueueEntry{
		ID:          uuid.NewString(),
		SessionID:   in.SessionID,
		PatientID:   in.PatientID,
		PatientName: name,
		TokenNumber: count + 1,
		Mode:        in.Mode,
		Status:      EntryStatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateEntry(ctx, e); err != nil {
		return QueueEntry{}, err
	}
	s.pushSnapshot(ctx, sess.DoctorID, sess.ID)
	return e, nil
}

/* ===================== QUEUE ACTIONS ===================== */

// CallPatient calls a waiting or previously skipped patient to consultation.
// The session current token advances to the entry's token number.
func (s *Service) CallPatient(ctx context.Context, doctorID, entryID string) (QueueEntry, error) {
	e, sess, err := s.entryForAction(ctx, doctorID, entryID)
	if err != nil {
		return QueueEntry{}, err
	}
	if e.Status != EntryStatusWaiting && e.Status != EntryStatusSkipped {
		return QueueEntry{}, ErrBadTransition
	}

	prior := e.Status
	e.Status = EntryStatusCalled
	e.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateEntry(ctx, e, prior); err != nil {
		return QueueEntry{}, err
	}

	if e.TokenNumber > sess.CurrentToken {
		sess.CurrentToken = e.TokenNumber
		sess.UpdatedAt = e.UpdatedAt
		if err := s.repo.UpdateSessionStatus(ctx, sess, SessionStatusLive); err != nil && !errors.Is(err, ErrConflict) {
			return QueueEntry{}, err
		}
	}

	s.logAction(ctx, doctorID, sess.ID, e.ID, "call", "")
	s.pushSnapshot(ctx, sess.DoctorID, sess.ID)
	return e, nil
}

// Recall returns a called patient to waiting, at most RecallLimit times.
// The recall counter only ever increases.
func (s *Service) Recall(ctx context.Context, doctorID, entryID string) (QueueEntry, error) {
	e, sess, err := s.entryForAction(ctx, doctorID, entryID)
	if err != nil {
		return QueueEntry{}, err
	}
	if e.Status != EntryStatusCalled && e.Status != EntryStatusInConsultation {
		return QueueEntry{}, ErrBadTransition
	}
	if e.RecallCount >= RecallLimit {
		return QueueEntry{}, ErrRecallLimit
	}

	prior := e.Status
	e.Status = EntryStatusWaiting
	e.RecallCount++
	e.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateEntry(ctx, e, prior); err != nil {
		return QueueEntry{}, err
	}

	s.logAction(ctx, doctorID, sess.ID, e.ID, "recall", "")
	s.pushSnapshot(ctx, sess.DoctorID, sess.ID)
	return e, nil
}

// Skip moves a non-terminal entry aside without touching its recall count.
// A skipped patient can be called again later.
func (s *Service) Skip(ctx context.Context, doctorID, entryID string) (QueueEntry, error) {
	e, sess, err := s.entryForAction(ctx, doctorID, entryID)
	if err != nil {
		return QueueEntry{}, err
	}
	if e.Status.Terminal() {
		return QueueEntry{}, ErrTerminalEntry
	}

	prior := e.Status
	e.Status = EntryStatusSkipped
	e.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateEntry(ctx, e, prior); err != nil {
		return QueueEntry{}, err
	}

	s.logAction(ctx, doctorID, sess.ID, e.ID, "skip", "")
	s.pushSnapshot(ctx, sess.DoctorID, sess.ID)
	return e, nil
}

// MarkNoShow terminates a non-terminal entry with a recorded reason.
// The patient may rebook externally.
func (s *Service) MarkNoShow(ctx context.Context, doctorID, entryID, reason string) (QueueEntry, error) {
	if strings.TrimSpace(reason) == "" {
		return QueueEntry{}, ErrReasonRequired
	}
	e, sess, err := s.entryForAction(ctx, doctorID, entryID)
	if err != nil {
		return QueueEntry{}, err
	}
	if e.Status.Terminal() {
		return QueueEntry{}, ErrTerminalEntry
	}

	prior := e.Status
	e.Status = EntryStatusNoShow
	e.StatusReason = reason
	e.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateEntry(ctx, e, prior); err != nil {
		return QueueEntry{}, err
	}

	s.logAction(ctx, doctorID, sess.ID, e.ID, "no_show", reason)
	s.pushSnapshot(ctx, sess.DoctorID, sess.ID)
	return e, nil
}

// Complete finishes a consultation. Terminal.
func (s *Service) Complete(ctx context.Context, doctorID, entryID string) (QueueEntry, error) {
	e, sess, err := s.entryForAction(ctx, doctorID, entryID)
	if err != nil {
		return QueueEntry{}, err
	}
	if e.Status != EntryStatusCalled && e.Status != EntryStatusInConsultation {
		return QueueEntry{}, ErrBadTransition
	}

	prior := e.Status
	e.Status = EntryStatusCompleted
	e.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateEntry(ctx, e, prior); err != nil {
		return QueueEntry{}, err
	}

	s.logAction(ctx, doctorID, sess.ID, e.ID, "complete", "")
	s.pushSnapshot(ctx, sess.DoctorID, sess.ID)
	return e, nil
}

// MarkInConsultation records that the consultation actually began (the
// real-time call reached media-live, or the doctor confirmed an in-person
// start). Not one of the doctor-facing queue actions.
func (s *Service) MarkInConsultation(ctx context.Context, entryID string) (QueueEntry, error) {
	e, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return QueueEntry{}, err
	}
	if e.Status != EntryStatusCalled {
		return QueueEntry{}, ErrBadTransition
	}

	sess, err := s.repo.GetSession(ctx, e.SessionID)
	if err != nil {
		return QueueEntry{}, err
	}

	e.Status = EntryStatusInConsultation
	e.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateEntry(ctx, e, EntryStatusCalled); err != nil {
		return QueueEntry{}, err
	}
	s.pushSnapshot(ctx, sess.DoctorID, sess.ID)
	return e, nil
}

/* ===================== READS ===================== */

// QueueForDate returns the authoritative snapshot for the doctor's session on
// a date. ErrNotFound when no non-cancelled session exists.
func (s *Service) QueueForDate(ctx context.Context, doctorID, date string) (QueueSnapshot, error) {
	if doctorID == "" || date == "" {
		return QueueSnapshot{}, ErrInvalidArgument
	}
	sess, ok, err := s.repo.ActiveSessionForDate(ctx, doctorID, date)
	if err != nil {
		return QueueSnapshot{}, err
	}
	if !ok {
		return QueueSnapshot{}, ErrNotFound
	}
	entries, err := s.repo.ListEntries(ctx, sess.ID)
	if err != nil {
		return QueueSnapshot{}, err
	}
	return QueueSnapshot{Session: sess, Entries: entries}, nil
}

// EntryWithSession fetches an entry together with its session. Used by the
// signaling layer to resolve an appointment into caller/callee parties.
func (s *Service) EntryWithSession(ctx context.Context, entryID string) (QueueEntry, ClinicSession, error) {
	e, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return QueueEntry{}, ClinicSession{}, err
	}
	sess, err := s.repo.GetSession(ctx, e.SessionID)
	if err != nil {
		return QueueEntry{}, ClinicSession{}, err
	}
	return e, sess, nil
}

/* ===================== INTERNAL ===================== */

func (s *Service) ownedSession(ctx context.Context, doctorID, sessionID string) (ClinicSession, error) {
	if doctorID == "" || sessionID == "" {
		return ClinicSession{}, ErrInvalidArgument
	}
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return ClinicSession{}, err
	}
	if sess.DoctorID != doctorID {
		// Do not leak other doctors' sessions.
		return ClinicSession{}, ErrNotFound
	}
	return sess, nil
}

// entryForAction loads an entry and its session and enforces the global
// queue-action precondition: the session must be live and owned by the actor.
func (s *Service) entryForAction(ctx context.Context, doctorID, entryID string) (QueueEntry, ClinicSession, error) {
	if doctorID == "" || entryID == "" {
		return QueueEntry{}, ClinicSession{}, ErrInvalidArgument
	}
	e, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return QueueEntry{}, ClinicSession{}, err
	}
	sess, err := s.repo.GetSession(ctx, e.SessionID)
	if err != nil {
		return QueueEntry{}, ClinicSession{}, err
	}
	if sess.DoctorID != doctorID {
		return QueueEntry{}, ClinicSession{}, ErrNotFound
	}
	if sess.Status != SessionStatusLive {
		return QueueEntry{}, ClinicSession{}, ErrSessionNotLive
	}
	return e, sess, nil
}

// pushSnapshot re-fetches the authoritative state and notifies the doctor's
// channel. Re-fetch after mutation is deliberate: the persisted state, not
// the in-flight patch, is what clients reconcile against.
func (s *Service) pushSnapshot(ctx context.Context, doctorID, sessionID string) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		logger.From(ctx).Warn("snapshot fetch failed", "session_id", sessionID, "err", err)
		return
	}
	entries, err := s.repo.ListEntries(ctx, sessionID)
	if err != nil {
		logger.From(ctx).Warn("snapshot entries fetch failed", "session_id", sessionID, "err", err)
		return
	}
	s.notifier.QueueUpdated(ctx, doctorID, QueueSnapshot{Session: sess, Entries: entries})
}

func (s *Service) logAction(ctx context.Context, actorID, sessionID, entryID, action, reason string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogQueueAction(ctx, actorID, "doctor", sessionID, entryID, action, reason); err != nil {
		logger.From(ctx).Warn("audit append failed", "action", action, "err", err)
	}
}

func (s *Service) logSession(ctx context.Context, actorID, sessionID, action, reason string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogSessionTransition(ctx, actorID, "doctor", sessionID, action, reason); err != nil {
		logger.From(ctx).Warn("audit append failed", "action", action, "err", err)
	}
}
