package signaling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"telehealth-platform/internal/audit"
	"telehealth-platform/internal/config"
	"telehealth-platform/internal/events"

	"github.com/google/uuid"
)

// Publisher is the outbound side of the event channel.
type Publisher interface {
	Publish(userID string, env events.Envelope) error
	IsConnected(userID string) bool
}

// Appointment names the two parties of a call. The appointment id is the
// queue entry the call belongs to.
type Appointment struct {
	ID          string
	DoctorID    string
	DoctorName  string
	PatientID   string
	PatientName string
}

// AppointmentDirectory resolves an appointment id for an initiating caller.
// Implementations must reject appointments the caller is not a party of.
type AppointmentDirectory interface {
	Resolve(ctx context.Context, callerID, appointmentID string) (Appointment, error)
}

// Manager owns the server-side call state machine:
//
//	ringing -> connecting -> started -> ended
//
// with decline, timeout and error as terminal outcomes from ringing. One
// active call per user, enforced by the slot guard. All signaling flows over
// the event channel; there is no polling surface.
type Manager struct {
	pub   Publisher
	dir   AppointmentDirectory
	slots SlotGuard
	audit *audit.Service
	log   *slog.Logger

	ringTimeout    time.Duration
	connectTimeout time.Duration
	clock          func() time.Time

	mu     sync.Mutex
	calls  map[string]*Call  // call id -> call
	active map[string]string // user id -> active call id
	ended  *EndedSet

	// OnStarted fires when the callee joins the media transport; wiring uses
	// it to move the queue entry into consultation.
	OnStarted func(ctx context.Context, appointmentID string)
	// OnEnded fires once per terminated call with the final record.
	OnEnded func(ctx context.Context, rec CallRecord)
	// OnPhase fires on every call phase transition, for call-widget state
	// fanout.
	OnPhase func(ctx context.Context, ch PhaseChange)
}

// PhaseChange describes one call state transition for observers.
type PhaseChange struct {
	CallID        string
	AppointmentID string
	CallerID      string
	CallerName    string
	CalleeID      string
	CalleeName    string
	Status        CallStatus
}

func NewManager(pub Publisher, dir AppointmentDirectory, slots SlotGuard, aud *audit.Service, cfg config.SignalingConfig, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	ringTimeout := cfg.RingTimeout
	if ringTimeout <= 0 {
		ringTimeout = 10 * time.Second
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &Manager{
		pub:            pub,
		dir:            dir,
		slots:          slots,
		audit:          aud,
		log:            log,
		ringTimeout:    ringTimeout,
		connectTimeout: connectTimeout,
		clock:          time.Now,
		calls:          make(map[string]*Call),
		active:         make(map[string]string),
		ended:          NewEndedSet(endedSetCapacity),
	}
}

// WithClock overrides the manager clock. Tests only.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// HandleEvent dispatches inbound envelopes from the event channel.
func (m *Manager) HandleEvent(ctx context.Context, from events.Sender, env events.Envelope) {
	switch env.Type {
	case events.TypeCallInitiate:
		var p events.CallInitiatePayload
		if err := env.Decode(&p); err != nil {
			m.sendError(from.UserID, "invalid initiate payload")
			return
		}
		m.Initiate(ctx, from, p.AppointmentID)
	case events.TypeCallAccept:
		var p events.CallRefPayload
		if err := env.Decode(&p); err != nil {
			return
		}
		m.Accept(ctx, from, p.CallID)
	case events.TypeCallDecline:
		var p events.CallRefPayload
		if err := env.Decode(&p); err != nil {
			return
		}
		m.Decline(ctx, from, p.CallID)
	case events.TypeCallJoined:
		var p events.CallRefPayload
		// joined may arrive with no payload at all; match leniently below.
		_ = env.Decode(&p)
		m.Joined(ctx, from, p.CallID)
	case events.TypeCallEnded:
		var p events.CallRefPayload
		if err := env.Decode(&p); err != nil {
			return
		}
		m.Ended(ctx, from, p.CallID)
	default:
		// Unknown types are ignored; the channel also carries server-push
		// events a confused client might echo back.
	}
}

// Initiate starts a call from the appointment's doctor to its patient.
func (m *Manager) Initiate(ctx context.Context, from events.Sender, appointmentID string) {
	if appointmentID == "" {
		m.sendError(from.UserID, "appointment id is required")
		return
	}
	appt, err := m.dir.Resolve(ctx, from.UserID, appointmentID)
	if err != nil {
		m.sendError(from.UserID, "appointment not found")
		return
	}

	if !m.pub.IsConnected(appt.PatientID) {
		m.sendError(from.UserID, ErrChannelUnavailable.Error())
		return
	}

	ok, err := m.slots.Acquire(ctx, from.UserID)
	if err != nil {
		m.log.Error("slot acquire failed", "user_id", from.UserID, "err", err)
		m.sendError(from.UserID, "call setup failed")
		return
	}
	if !ok {
		m.sendError(from.UserID, ErrCallExists.Error())
		return
	}
	ok, err = m.slots.Acquire(ctx, appt.PatientID)
	if err != nil || !ok {
		m.slots.Release(ctx, from.UserID)
		if err != nil {
			m.log.Error("slot acquire failed", "user_id", appt.PatientID, "err", err)
			m.sendError(from.UserID, "call setup failed")
			return
		}
		m.sendError(from.UserID, ErrCallExists.Error())
		return
	}

	callerName := from.Name
	if callerName == "" {
		callerName = appt.DoctorName
	}
	call := &Call{
		ID:            uuid.NewString(),
		AppointmentID: appt.ID,
		CallerID:      from.UserID,
		CallerName:    callerName,
		CalleeID:      appt.PatientID,
		CalleeName:    appt.PatientName,
		Status:        CallStatusRinging,
		CreatedAt:     m.clock(),
	}

	m.mu.Lock()
	m.calls[call.ID] = call
	m.active[call.CallerID] = call.ID
	m.active[call.CalleeID] = call.ID
	call.pendingTimer = time.AfterFunc(m.ringTimeout, func() {
		m.ringTimedOut(call.ID)
	})
	m.mu.Unlock()

	m.publish(call.CallerID, events.TypeCallInitiated, events.CallInitiatedPayload{
		CallID: call.ID, AppointmentID: call.AppointmentID,
	})

	// An id already in the ended set means this call was torn down before the
	// invite went out; never resurrect it on the callee's screen.
	if m.ended.Contains(call.ID) {
		return
	}
	if err := m.publish(call.CalleeID, events.TypeCallInvite, events.CallInvitePayload{
		CallID:            call.ID,
		AppointmentID:     call.AppointmentID,
		CallerDisplayName: call.CallerName,
	}); err != nil {
		m.terminate(ctx, call.ID, EndReasonError, from.UserID)
		m.sendError(from.UserID, ErrChannelUnavailable.Error())
		return
	}

	m.logCall(ctx, from.UserID, call, "initiated", "")
	m.notifyPhase(ctx, call)
}

// Accept resolves a ringing call exactly once. Duplicate or late accepts are
// ignored. The ring timer is replaced by a connect timer: an accepted call
// that never reaches media-live ends with a timeout instead of holding both
// slots forever.
func (m *Manager) Accept(ctx context.Context, from events.Sender, callID string) {
	if m.ended.Contains(callID) {
		return
	}

	m.mu.Lock()
	call, ok := m.calls[callID]
	if !ok || call.Status != CallStatusRinging || call.CalleeID != from.UserID {
		m.mu.Unlock()
		return
	}
	if call.pendingTimer != nil {
		call.pendingTimer.Stop()
	}
	call.Status = CallStatusConnecting
	call.pendingTimer = time.AfterFunc(m.connectTimeout, func() {
		m.connectTimedOut(call.ID)
	})
	m.mu.Unlock()

	m.publish(call.CallerID, events.TypeCallAccepted, events.CallRefPayload{CallID: call.ID})
	m.logCall(ctx, from.UserID, call, "accepted", "")
	m.notifyPhase(ctx, call)
}

// Decline resolves a ringing call exactly once; the callee receives an ack
// and the caller a terminal ended event.
func (m *Manager) Decline(ctx context.Context, from events.Sender, callID string) {
	m.mu.Lock()
	call, ok := m.calls[callID]
	if !ok || call.Status != CallStatusRinging || call.CalleeID != from.UserID {
		m.mu.Unlock()
		return
	}
	m.endLocked(call, EndReasonDeclined)
	m.mu.Unlock()

	m.releaseSlots(ctx, call)
	m.publish(call.CalleeID, events.TypeCallDeclined, events.CallRefPayload{CallID: call.ID})
	m.publish(call.CallerID, events.TypeCallEnded, events.CallRefPayload{CallID: call.ID})
	m.logCall(ctx, from.UserID, call, "declined", string(EndReasonDeclined))
	m.notifyEnded(ctx, call)
}

// Joined marks the callee's media transport live. Matching is lenient: when
// the call id is missing or stale, the update applies to the user's single
// active call instead of being dropped.
func (m *Manager) Joined(ctx context.Context, from events.Sender, callID string) {
	m.mu.Lock()
	call, ok := m.calls[callID]
	if !ok {
		if activeID, found := m.active[from.UserID]; found {
			call, ok = m.calls[activeID]
		}
	}
	if !ok || call == nil || call.Status == CallStatusEnded {
		m.mu.Unlock()
		return
	}
	if call.CalleeID != from.UserID {
		m.mu.Unlock()
		return
	}
	if call.pendingTimer != nil {
		call.pendingTimer.Stop()
	}
	alreadyStarted := call.Status == CallStatusStarted
	call.Status = CallStatusStarted
	if call.StartedAt.IsZero() {
		call.StartedAt = m.clock()
	}
	m.mu.Unlock()

	if alreadyStarted {
		return
	}

	m.publish(call.CallerID, events.TypeCallPatientJoined, events.CallPatientJoinedPayload{
		CallID: call.ID, AppointmentID: call.AppointmentID,
	})
	m.logCall(ctx, from.UserID, call, "joined", "")
	m.notifyPhase(ctx, call)
	if m.OnStarted != nil {
		m.OnStarted(ctx, call.AppointmentID)
	}
}

// Ended terminates a call from either side. Ids with no call state are still
// recorded in the ended set, so a stale invite that races an ended notice can
// never resurrect the call. Live calls are only ended, and only poisoned, by
// one of their two parties.
func (m *Manager) Ended(ctx context.Context, from events.Sender, callID string) {
	m.mu.Lock()
	call, ok := m.calls[callID]
	if !ok || call.Status == CallStatusEnded {
		m.mu.Unlock()
		m.ended.Add(callID)
		return
	}
	if call.CallerID != from.UserID && call.CalleeID != from.UserID {
		m.mu.Unlock()
		return
	}
	m.endLocked(call, EndReasonHangup)
	m.mu.Unlock()

	m.releaseSlots(ctx, call)
	other := call.CallerID
	if from.UserID == call.CallerID {
		other = call.CalleeID
	}
	m.publish(other, events.TypeCallEnded, events.CallRefPayload{CallID: call.ID})
	m.logCall(ctx, from.UserID, call, "ended", string(EndReasonHangup))
	m.notifyEnded(ctx, call)
}

// ActiveCall returns the user's current call, if any.
func (m *Manager) ActiveCall(userID string) (*Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[userID]
	if !ok {
		return nil, false
	}
	call, ok := m.calls[id]
	return call, ok
}

/* ===================== INTERNAL ===================== */

// ringTimedOut fires when a ringing call was not accepted in time.
func (m *Manager) ringTimedOut(callID string) {
	ctx := context.Background()

	m.mu.Lock()
	call, ok := m.calls[callID]
	if !ok || call.Status != CallStatusRinging {
		m.mu.Unlock()
		return
	}
	m.endLocked(call, EndReasonTimeout)
	m.mu.Unlock()

	m.releaseSlots(ctx, call)
	m.sendError(call.CallerID, "call timed out")
	m.publish(call.CallerID, events.TypeCallEnded, events.CallRefPayload{CallID: call.ID})
	m.publish(call.CalleeID, events.TypeCallEnded, events.CallRefPayload{CallID: call.ID})
	m.logCall(ctx, "", call, "ended", string(EndReasonTimeout))
	m.notifyEnded(ctx, call)
}

// connectTimedOut fires when an accepted call never reached media-live.
func (m *Manager) connectTimedOut(callID string) {
	ctx := context.Background()

	m.mu.Lock()
	call, ok := m.calls[callID]
	if !ok || call.Status != CallStatusConnecting {
		m.mu.Unlock()
		return
	}
	m.endLocked(call, EndReasonTimeout)
	m.mu.Unlock()

	m.releaseSlots(ctx, call)
	m.sendError(call.CallerID, "call setup timed out")
	m.sendError(call.CalleeID, "call setup timed out")
	m.publish(call.CallerID, events.TypeCallEnded, events.CallRefPayload{CallID: call.ID})
	m.publish(call.CalleeID, events.TypeCallEnded, events.CallRefPayload{CallID: call.ID})
	m.logCall(ctx, "", call, "ended", string(EndReasonTimeout))
	m.notifyEnded(ctx, call)
}

// terminate force-ends a call from server-side failure paths.
func (m *Manager) terminate(ctx context.Context, callID string, reason EndReason, actorID string) {
	m.mu.Lock()
	call, ok := m.calls[callID]
	if !ok || call.Status == CallStatusEnded {
		m.mu.Unlock()
		return
	}
	m.endLocked(call, reason)
	m.mu.Unlock()

	m.releaseSlots(ctx, call)
	m.logCall(ctx, actorID, call, "ended", string(reason))
	m.notifyEnded(ctx, call)
}

// endLocked finalizes call state. Caller holds m.mu.
func (m *Manager) endLocked(call *Call, reason EndReason) {
	if call.pendingTimer != nil {
		call.pendingTimer.Stop()
	}
	call.Status = CallStatusEnded
	call.EndedAt = m.clock()
	call.EndReason = reason
	m.ended.Add(call.ID)
	delete(m.calls, call.ID)
	if m.active[call.CallerID] == call.ID {
		delete(m.active, call.CallerID)
	}
	if m.active[call.CalleeID] == call.ID {
		delete(m.active, call.CalleeID)
	}
}

func (m *Manager) releaseSlots(ctx context.Context, call *Call) {
	if err := m.slots.Release(ctx, call.CallerID); err != nil {
		m.log.Warn("slot release failed", "user_id", call.CallerID, "err", err)
	}
	if err := m.slots.Release(ctx, call.CalleeID); err != nil {
		m.log.Warn("slot release failed", "user_id", call.CalleeID, "err", err)
	}
}

func (m *Manager) notifyEnded(ctx context.Context, call *Call) {
	m.notifyPhase(ctx, call)
	if m.OnEnded != nil {
		m.OnEnded(ctx, call.record())
	}
}

func (m *Manager) notifyPhase(ctx context.Context, call *Call) {
	if m.OnPhase == nil {
		return
	}
	m.OnPhase(ctx, PhaseChange{
		CallID:        call.ID,
		AppointmentID: call.AppointmentID,
		CallerID:      call.CallerID,
		CallerName:    call.CallerName,
		CalleeID:      call.CalleeID,
		CalleeName:    call.CalleeName,
		Status:        call.Status,
	})
}

func (m *Manager) publish(userID, typ string, payload any) error {
	env, err := events.New(typ, payload)
	if err != nil {
		return err
	}
	if err := m.pub.Publish(userID, env); err != nil {
		if !errors.Is(err, events.ErrNotConnected) {
			m.log.Warn("publish failed", "user_id", userID, "type", typ, "err", err)
		}
		return err
	}
	return nil
}

func (m *Manager) sendError(userID, msg string) {
	m.publish(userID, events.TypeCallError, events.CallErrorPayload{Message: msg})
}

func (m *Manager) logCall(ctx context.Context, actorID string, call *Call, action, reason string) {
	if m.audit == nil {
		return
	}
	if err := m.audit.LogCallEvent(ctx, actorID, call.ID, call.AppointmentID, action, reason); err != nil {
		m.log.Warn("audit append failed", "action", action, "err", err)
	}
}
