package main

import (
	"context"
	"log/slog"
	"time"

	"telehealth-platform/internal/callstate"
	"telehealth-platform/internal/events"
	"telehealth-platform/internal/httpapi"
	"telehealth-platform/internal/queue"
	"telehealth-platform/internal/rbac"
	"telehealth-platform/internal/reporting"
	"telehealth-platform/internal/signaling"
)

// queueNotifier pushes authoritative queue snapshots to the owning doctor's
// event channel, in the same view shape the REST fetch returns. An offline
// doctor simply misses the push and reconciles on the next fetch.
type queueNotifier struct {
	hub *events.Hub
	log *slog.Logger
}

func (n *queueNotifier) QueueUpdated(_ context.Context, doctorID string, snap queue.QueueSnapshot) {
	env, err := events.New(events.TypeQueueUpdated, httpapi.NewQueueView(snap))
	if err != nil {
		n.log.Warn("queue snapshot encode failed", "session_id", snap.Session.ID, "err", err)
		return
	}
	if err := n.hub.Publish(doctorID, env); err != nil && err != events.ErrNotConnected {
		n.log.Warn("queue snapshot push failed", "doctor_id", doctorID, "err", err)
	}
}

// appointmentDirectory resolves a queue entry into the parties of a call.
// Only the session's doctor may initiate, and only for a called entry whose
// consultation happens remotely.
type appointmentDirectory struct {
	queue *queue.Service
}

func (d *appointmentDirectory) Resolve(ctx context.Context, callerID, appointmentID string) (signaling.Appointment, error) {
	entry, sess, err := d.queue.EntryWithSession(ctx, appointmentID)
	if err != nil {
		return signaling.Appointment{}, err
	}
	if sess.DoctorID != callerID {
		return signaling.Appointment{}, queue.ErrNotFound
	}
	if entry.Mode == queue.ModeInPerson {
		return signaling.Appointment{}, queue.ErrInvalidArgument
	}
	if entry.Status.Terminal() {
		return signaling.Appointment{}, queue.ErrTerminalEntry
	}
	return signaling.Appointment{
		ID:          entry.ID,
		DoctorID:    sess.DoctorID,
		PatientID:   entry.PatientID,
		PatientName: entry.PatientName,
	}, nil
}

// wireCallHooks fans signaling transitions out to the queue, reporting and
// call-widget stores.
func wireCallHooks(m *signaling.Manager, q *queue.Service, reports *reporting.MemoryRepo, widgets *callstate.Store, log *slog.Logger) {
	m.OnStarted = func(ctx context.Context, appointmentID string) {
		if _, err := q.MarkInConsultation(ctx, appointmentID); err != nil {
			// The entry may have been completed or recalled mid-ring.
			log.Warn("entry not moved to consultation", "entry_id", appointmentID, "err", err)
		}
	}

	m.OnEnded = func(_ context.Context, rec signaling.CallRecord) {
		reports.RecordCall(rec)
	}

	m.OnPhase = func(ctx context.Context, ch signaling.PhaseChange) {
		callID := ch.CallID
		apptID := ch.AppointmentID
		switch ch.Status {
		case signaling.CallStatusRinging:
			widgets.StartCall(ctx, rbac.RoleDoctor, ch.CallerID, callstate.Info{
				CallID:        &callID,
				AppointmentID: &apptID,
				RemoteName:    &ch.CalleeName,
			}, callstate.StatusCalling)
		case signaling.CallStatusConnecting:
			widgets.UpdateStatus(ctx, rbac.RoleDoctor, ch.CallerID, callstate.StatusConnecting, time.Now())
			widgets.StartCall(ctx, rbac.RolePatient, ch.CalleeID, callstate.Info{
				CallID:        &callID,
				AppointmentID: &apptID,
				RemoteName:    &ch.CallerName,
			}, callstate.StatusConnecting)
		case signaling.CallStatusStarted:
			now := time.Now()
			widgets.UpdateStatus(ctx, rbac.RoleDoctor, ch.CallerID, callstate.StatusStarted, now)
			widgets.UpdateStatus(ctx, rbac.RolePatient, ch.CalleeID, callstate.StatusStarted, now)
		case signaling.CallStatusEnded:
			widgets.EndCall(ctx, rbac.RoleDoctor, ch.CallerID)
			widgets.EndCall(ctx, rbac.RolePatient, ch.CalleeID)
		}
	}
}
