package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"telehealth-platform/internal/queue"
	"telehealth-platform/internal/signaling"
)

func seedSession(t *testing.T, repo queue.Repository) queue.ClinicSession {
	t.Helper()
	ctx := context.Background()
	sess := queue.ClinicSession{
		ID: "sess-1", DoctorID: "doc-1", Date: "2026-03-10",
		StartTime: "09:00", EndTime: "12:00", Timezone: "UTC",
		Status: queue.SessionStatusLive, MaxTokens: 12, AvgConsultationMinutes: 15,
	}
	if err := repo.CreateSession(ctx, sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	entries := []queue.QueueEntry{
		{ID: "e-1", SessionID: "sess-1", PatientID: "p-1", TokenNumber: 1, Mode: queue.ModeCall, Status: queue.EntryStatusCompleted, RecallCount: 1},
		{ID: "e-2", SessionID: "sess-1", PatientID: "p-2", TokenNumber: 2, Mode: queue.ModeInPerson, Status: queue.EntryStatusNoShow},
		{ID: "e-3", SessionID: "sess-1", PatientID: "p-3", TokenNumber: 3, Mode: queue.ModeVideoCall, Status: queue.EntryStatusWaiting, RecallCount: 2},
		{ID: "e-4", SessionID: "sess-1", PatientID: "p-4", TokenNumber: 4, Mode: queue.ModeInPerson, Status: queue.EntryStatusCancelledBySession},
	}
	for _, e := range entries {
		if err := repo.CreateEntry(ctx, e); err != nil {
			t.Fatalf("seed entry: %v", err)
		}
	}
	return sess
}

func TestSessionSummary(t *testing.T) {
	qrepo := queue.NewMemoryRepo()
	seedSession(t, qrepo)
	repo := NewMemoryRepo(qrepo)

	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	repo.RecordCall(signaling.CallRecord{
		ID: "c-1", AppointmentID: "e-1", CallerID: "doc-1", CalleeID: "p-1",
		StartedAt: start, EndedAt: start.Add(4 * time.Minute),
		EndReason: signaling.EndReasonHangup, Duration: 4 * time.Minute,
	})
	repo.RecordCall(signaling.CallRecord{
		ID: "c-2", AppointmentID: "e-3", CallerID: "doc-1", CalleeID: "p-3",
		EndReason: signaling.EndReasonDeclined,
	})
	// A call for some other session's entry is excluded.
	repo.RecordCall(signaling.CallRecord{
		ID: "c-3", AppointmentID: "other-entry", Duration: time.Hour, EndReason: signaling.EndReasonHangup,
	})

	svc := NewService(repo)
	sum, err := svc.SessionSummary(context.Background(), "doc-1", "sess-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if sum.TotalEntries != 4 || sum.Completed != 1 || sum.NoShow != 1 || sum.Waiting != 1 || sum.Cancelled != 1 {
		t.Fatalf("entry counts: %+v", sum)
	}
	if sum.TotalRecalls != 3 {
		t.Fatalf("recalls: %d", sum.TotalRecalls)
	}
	if sum.CompletedCalls != 1 || sum.TotalCallSeconds != 240 || sum.AverageCallSeconds != 240 {
		t.Fatalf("call metrics: %+v", sum)
	}
	if sum.DeclinedOrTimedOutCalls != 1 {
		t.Fatalf("declined/timeout: %d", sum.DeclinedOrTimedOutCalls)
	}
}

func TestSessionSummary_DoctorScoped(t *testing.T) {
	qrepo := queue.NewMemoryRepo()
	seedSession(t, qrepo)
	svc := NewService(NewMemoryRepo(qrepo))

	if _, err := svc.SessionSummary(context.Background(), "doc-2", "sess-1"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("foreign doctor: got %v", err)
	}
	if _, err := svc.SessionSummary(context.Background(), "", "sess-1"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing doctor: got %v", err)
	}
}
