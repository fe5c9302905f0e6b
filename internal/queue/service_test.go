package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telehealth-platform/internal/audit"
	"telehealth-platform/internal/config"
)

type captureNotifier struct {
	mu    sync.Mutex
	snaps []QueueSnapshot
}

func (n *captureNotifier) QueueUpdated(_ context.Context, _ string, snap QueueSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snaps = append(n.snaps, snap)
}

func (n *captureNotifier) last(t *testing.T) QueueSnapshot {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.snaps) == 0 {
		t.Fatalf("no snapshot pushed")
	}
	return n.snaps[len(n.snaps)-1]
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepo
	notifier *captureNotifier
	audit    *audit.MemoryRepo
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := NewMemoryRepo()
	notifier := &captureNotifier{}
	auditRepo := audit.NewMemoryRepo()
	svc := NewService(repo, notifier, audit.NewService(auditRepo), config.ClinicConfig{
		DefaultAvgConsultationMinutes: 15,
		Timezone:                      "UTC",
	})
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return now })
	return &fixture{svc: svc, repo: repo, notifier: notifier, audit: auditRepo, now: now}
}

func (f *fixture) liveSession(t *testing.T) ClinicSession {
	t.Helper()
	ctx := context.Background()
	sess, err := f.svc.ScheduleSession(ctx, "doc-1", ScheduleSessionInput{
		Date:      "2026-03-10",
		StartTime: "09:00",
		EndTime:   "12:00",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	live, err := f.svc.StartSession(ctx, "doc-1", sess.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return live
}

func (f *fixture) book(t *testing.T, sessionID, patientID string, mode ConsultationMode) QueueEntry {
	t.Helper()
	e, err := f.svc.AddEntry(context.Background(), BookEntryInput{
		SessionID:   sessionID,
		PatientID:   patientID,
		PatientName: "Patient " + patientID,
		Mode:        mode,
	})
	if err != nil {
		t.Fatalf("book %s: %v", patientID, err)
	}
	return e
}

func TestScheduleSession_DerivesCapacityAndRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.ScheduleSession(ctx, "doc-1", ScheduleSessionInput{
		Date: "2026-03-10", StartTime: "09:00", EndTime: "12:00",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if sess.MaxTokens != 12 || sess.Status != SessionStatusScheduled {
		t.Fatalf("unexpected session: %+v", sess)
	}

	if _, err := f.svc.ScheduleSession(ctx, "doc-1", ScheduleSessionInput{
		Date: "2026-03-10", StartTime: "14:00", EndTime: "16:00",
	}); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("duplicate date: got %v", err)
	}

	// A different doctor on the same date is fine.
	if _, err := f.svc.ScheduleSession(ctx, "doc-2", ScheduleSessionInput{
		Date: "2026-03-10", StartTime: "09:00", EndTime: "12:00",
	}); err != nil {
		t.Fatalf("other doctor: %v", err)
	}
}

func TestStartSession_RejectsOutsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.ScheduleSession(ctx, "doc-1", ScheduleSessionInput{
		Date: "2026-03-11", StartTime: "09:00", EndTime: "12:00",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Clock is on 2026-03-10; tomorrow's window is closed.
	if _, err := f.svc.StartSession(ctx, "doc-1", sess.ID); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed, got %v", err)
	}

	// Rejection leaves the stored status untouched.
	stored, err := f.repo.GetSession(ctx, sess.ID)
	if err != nil || stored.Status != SessionStatusScheduled {
		t.Fatalf("status mutated on rejection: %+v err=%v", stored, err)
	}
}

func TestStartSession_ScopedToOwningDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, _ := f.svc.ScheduleSession(ctx, "doc-1", ScheduleSessionInput{
		Date: "2026-03-10", StartTime: "09:00", EndTime: "12:00",
	})
	if _, err := f.svc.StartSession(ctx, "doc-2", sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign doctor, got %v", err)
	}
}

func TestAddEntry_TokensAndCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.ScheduleSession(ctx, "doc-1", ScheduleSessionInput{
		Date: "2026-03-10", StartTime: "09:00", EndTime: "09:30",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if sess.MaxTokens != 2 {
		t.Fatalf("max tokens: %d", sess.MaxTokens)
	}

	e1 := f.book(t, sess.ID, "pat-1", ModeInPerson)
	e2 := f.book(t, sess.ID, "pat-2", ModeCall)
	if e1.TokenNumber != 1 || e2.TokenNumber != 2 {
		t.Fatalf("token numbers: %d, %d", e1.TokenNumber, e2.TokenNumber)
	}

	if _, err := f.svc.AddEntry(ctx, BookEntryInput{
		SessionID: sess.ID, PatientID: "pat-3", Mode: ModeInPerson,
	}); !errors.Is(err, ErrCapacityFull) {
		t.Fatalf("expected ErrCapacityFull, got %v", err)
	}
}

func TestAddEntry_TokensNeverReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.liveSession(t)

	e1 := f.book(t, sess.ID, "pat-1", ModeInPerson)
	if _, err := f.svc.MarkNoShow(ctx, "doc-1", e1.ID, "left the clinic"); err != nil {
		t.Fatalf("no-show: %v", err)
	}

	// Terminal entries still occupy their token; the next booking gets a new one.
	e2 := f.book(t, sess.ID, "pat-2", ModeInPerson)
	if e2.TokenNumber != 2 {
		t.Fatalf("token reused: %d", e2.TokenNumber)
	}
}

func TestCallPatient_AdvancesCurrentToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.liveSession(t)
	f.book(t, sess.ID, "pat-1", ModeInPerson)
	e2 := f.book(t, sess.ID, "pat-2", ModeCall)

	called, err := f.svc.CallPatient(ctx, "doc-1", e2.ID)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if called.Status != EntryStatusCalled {
		t.Fatalf("status: %s", called.Status)
	}

	snap := f.notifier.last(t)
	if snap.Session.CurrentToken != 2 {
		t.Fatalf("current token: %d", snap.Session.CurrentToken)
	}
	if len(snap.Entries) != 2 {
		t.Fatalf("snapshot entries: %d", len(snap.Entries))
	}
}

func TestQueueActions_RequireLiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.liveSession(t)
	e := f.book(t, sess.ID, "pat-1", ModeInPerson)

	if _, err := f.svc.EndSession(ctx, "doc-1", sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := f.svc.CallPatient(ctx, "doc-1", e.ID); !errors.Is(err, ErrSessionNotLive) {
		t.Fatalf("expected ErrSessionNotLive, got %v", err)
	}
}

func TestRecall_CapEnforcedAndCounterMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.liveSession(t)
	e := f.book(t, sess.ID, "pat-1", ModeInPerson)

	for i := 0; i < RecallLimit; i++ {
		if _, err := f.svc.CallPatient(ctx, "doc-1", e.ID); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		r, err := f.svc.Recall(ctx, "doc-1", e.ID)
		if err != nil {
			t.Fatalf("recall %d: %v", i, err)
		}
		if r.RecallCount != i+1 {
			t.Fatalf("recall count after %d recalls: %d", i+1, r.RecallCount)
		}
	}

	if _, err := f.svc.CallPatient(ctx, "doc-1", e.ID); err != nil {
		t.Fatalf("final call: %v", err)
	}
	if _, err := f.svc.Recall(ctx, "doc-1", e.ID); !errors.Is(err, ErrRecallLimit) {
		t.Fatalf("expected ErrRecallLimit, got %v", err)
	}

	// Skip must not reset the counter.
	if _, err := f.svc.Skip(ctx, "doc-1", e.ID); err != nil {
		t.Fatalf("skip: %v", err)
	}
	got, _ := f.repo.GetEntry(ctx, e.ID)
	if got.RecallCount != RecallLimit {
		t.Fatalf("recall count reset by skip: %d", got.RecallCount)
	}
}

func TestSkip_AllowsLaterCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.liveSession(t)
	e := f.book(t, sess.ID, "pat-1", ModeInPerson)

	if _, err := f.svc.Skip(ctx, "doc-1", e.ID); err != nil {
		t.Fatalf("skip: %v", err)
	}
	called, err := f.svc.CallPatient(ctx, "doc-1", e.ID)
	if err != nil || called.Status != EntryStatusCalled {
		t.Fatalf("call after skip: %+v err=%v", called, err)
	}
}

func TestMarkNoShow_RequiresReasonAndIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.liveSession(t)
	e := f.book(t, sess.ID, "pat-1", ModeInPerson)

	if _, err := f.svc.MarkNoShow(ctx, "doc-1", e.ID, "  "); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("blank reason: got %v", err)
	}
	if _, err := f.svc.MarkNoShow(ctx, "doc-1", e.ID, "did not answer"); err != nil {
		t.Fatalf("no-show: %v", err)
	}

	// Terminal: every further action must fail.
	if _, err := f.svc.CallPatient(ctx, "doc-1", e.ID); err == nil {
		t.Fatalf("call on terminal entry succeeded")
	}
	if _, err := f.svc.Skip(ctx, "doc-1", e.ID); !errors.Is(err, ErrTerminalEntry) {
		t.Fatalf("skip on terminal: got %v", err)
	}
	if _, err := f.svc.MarkNoShow(ctx, "doc-1", e.ID, "again"); !errors.Is(err, ErrTerminalEntry) {
		t.Fatalf("double no-show: got %v", err)
	}
}

func TestMarkInConsultation_FromCalledOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.liveSession(t)
	e := f.book(t, sess.ID, "pat-1", ModeVideoCall)

	if _, err := f.svc.MarkInConsultation(ctx, e.ID); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("waiting entry: got %v", err)
	}

	if _, err := f.svc.CallPatient(ctx, "doc-1", e.ID); err != nil {
		t.Fatalf("call: %v", err)
	}
	got, err := f.svc.MarkInConsultation(ctx, e.ID)
	if err != nil || got.Status != EntryStatusInConsultation {
		t.Fatalf("in consultation: %+v err=%v", got, err)
	}

	done, err := f.svc.Complete(ctx, "doc-1", e.ID)
	if err != nil || done.Status != EntryStatusCompleted {
		t.Fatalf("complete: %+v err=%v", done, err)
	}
}

func TestCancelSession_CascadesNonTerminalEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.liveSession(t)

	e1 := f.book(t, sess.ID, "pat-1", ModeInPerson)
	e2 := f.book(t, sess.ID, "pat-2", ModeCall)
	e3 := f.book(t, sess.ID, "pat-3", ModeInPerson)

	if _, err := f.svc.CallPatient(ctx, "doc-1", e1.ID); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := f.svc.Complete(ctx, "doc-1", e1.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := f.svc.CancelSession(ctx, "doc-1", sess.ID, ""); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("blank reason: got %v", err)
	}

	cancelled, err := f.svc.CancelSession(ctx, "doc-1", sess.ID, "doctor unavailable")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != SessionStatusCancelled || cancelled.CancelReason != "doctor unavailable" {
		t.Fatalf("unexpected session: %+v", cancelled)
	}

	// Completed entry keeps its status; the in-flight ones cascade.
	g1, _ := f.repo.GetEntry(ctx, e1.ID)
	g2, _ := f.repo.GetEntry(ctx, e2.ID)
	g3, _ := f.repo.GetEntry(ctx, e3.ID)
	if g1.Status != EntryStatusCompleted {
		t.Fatalf("completed entry mutated: %s", g1.Status)
	}
	if g2.Status != EntryStatusCancelledBySession || g3.Status != EntryStatusCancelledBySession {
		t.Fatalf("cascade missed: %s, %s", g2.Status, g3.Status)
	}
	if g2.StatusReason != "doctor unavailable" {
		t.Fatalf("cascade reason: %q", g2.StatusReason)
	}
}

func TestAutoEndDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.liveSession(t)

	// Still inside the window: nothing to do.
	n, err := f.svc.AutoEndDue(ctx)
	if err != nil || n != 0 {
		t.Fatalf("premature auto-end: n=%d err=%v", n, err)
	}

	f.svc.WithClock(func() time.Time {
		return time.Date(2026, 3, 10, 12, 1, 0, 0, time.UTC)
	})
	n, err = f.svc.AutoEndDue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("auto-end: n=%d err=%v", n, err)
	}
	got, _ := f.repo.GetSession(ctx, sess.ID)
	if got.Status != SessionStatusCompleted {
		t.Fatalf("status after auto-end: %s", got.Status)
	}
}

func TestQueueForDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.liveSession(t)
	f.book(t, sess.ID, "pat-2", ModeCall)
	f.book(t, sess.ID, "pat-1", ModeInPerson)

	snap, err := f.svc.QueueForDate(ctx, "doc-1", "2026-03-10")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if snap.Session.ID != sess.ID || len(snap.Entries) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Entries[0].TokenNumber != 1 || snap.Entries[1].TokenNumber != 2 {
		t.Fatalf("entries not token-ordered: %+v", snap.Entries)
	}

	if _, err := f.svc.QueueForDate(ctx, "doc-1", "2026-03-12"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing date: got %v", err)
	}
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.liveSession(t)
	e := f.book(t, sess.ID, "pat-1", ModeInPerson)
	if _, err := f.svc.CallPatient(ctx, "doc-1", e.ID); err != nil {
		t.Fatalf("call: %v", err)
	}

	var sawStart, sawCall bool
	for _, ev := range f.audit.Events() {
		if ev.Type == audit.EventTypeSessionTransition && ev.Action == "start" {
			sawStart = true
		}
		if ev.Type == audit.EventTypeQueueAction && ev.Action == "call" && ev.EntryID == e.ID {
			sawCall = true
		}
	}
	if !sawStart || !sawCall {
		t.Fatalf("audit trail incomplete: start=%v call=%v", sawStart, sawCall)
	}
}
