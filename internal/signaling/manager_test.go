package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telehealth-platform/internal/config"
	"telehealth-platform/internal/events"
)

type fakePublisher struct {
	mu        sync.Mutex
	connected map[string]bool
	sent      map[string][]events.Envelope

	// onPublish, when set, runs after each delivery with the lock released,
	// letting tests interleave manager calls between two publishes.
	onPublish func(userID string, env events.Envelope)
}

func newFakePublisher(online ...string) *fakePublisher {
	p := &fakePublisher{
		connected: make(map[string]bool),
		sent:      make(map[string][]events.Envelope),
	}
	for _, id := range online {
		p.connected[id] = true
	}
	return p
}

func (p *fakePublisher) Publish(userID string, env events.Envelope) error {
	p.mu.Lock()
	if !p.connected[userID] {
		p.mu.Unlock()
		return events.ErrNotConnected
	}
	p.sent[userID] = append(p.sent[userID], env)
	hook := p.onPublish
	p.mu.Unlock()
	if hook != nil {
		hook(userID, env)
	}
	return nil
}

func (p *fakePublisher) IsConnected(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected[userID]
}

func (p *fakePublisher) ofType(userID, typ string) []events.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Envelope
	for _, env := range p.sent[userID] {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

type fakeDirectory struct {
	appts map[string]Appointment
}

func (d *fakeDirectory) Resolve(_ context.Context, callerID, appointmentID string) (Appointment, error) {
	a, ok := d.appts[appointmentID]
	if !ok || a.DoctorID != callerID {
		return Appointment{}, errors.New("appointment not found")
	}
	return a, nil
}

const (
	doctorID  = "doc-1"
	patientID = "pat-1"
	apptID    = "entry-1"
)

func doctor() events.Sender {
	return events.Sender{UserID: doctorID, Role: "doctor", Name: "Dr. Rao"}
}

func patient() events.Sender {
	return events.Sender{UserID: patientID, Role: "patient", Name: "Asha"}
}

func newManager(t *testing.T, pub *fakePublisher, ringTimeout time.Duration) *Manager {
	t.Helper()
	return newManagerCfg(t, pub, config.SignalingConfig{RingTimeout: ringTimeout})
}

func newManagerCfg(t *testing.T, pub *fakePublisher, cfg config.SignalingConfig) *Manager {
	t.Helper()
	dir := &fakeDirectory{appts: map[string]Appointment{
		apptID: {ID: apptID, DoctorID: doctorID, DoctorName: "Dr. Rao", PatientID: patientID, PatientName: "Asha"},
	}}
	return NewManager(pub, dir, NewMemorySlotGuard(), nil, cfg, nil)
}

// initiate runs a happy-path initiate and returns the new call id from the
// caller's ack.
func initiate(t *testing.T, m *Manager, pub *fakePublisher) string {
	t.Helper()
	m.Initiate(context.Background(), doctor(), apptID)
	acks := pub.ofType(doctorID, events.TypeCallInitiated)
	if len(acks) == 0 {
		t.Fatalf("no call:initiated ack; errors: %v", pub.ofType(doctorID, events.TypeCallError))
	}
	var p events.CallInitiatedPayload
	if err := acks[len(acks)-1].Decode(&p); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return p.CallID
}

func TestInitiate_DeliversInviteWithCallerName(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManager(t, pub, time.Minute)

	callID := initiate(t, m, pub)

	invites := pub.ofType(patientID, events.TypeCallInvite)
	if len(invites) != 1 {
		t.Fatalf("invites: %d", len(invites))
	}
	var inv events.CallInvitePayload
	if err := invites[0].Decode(&inv); err != nil {
		t.Fatalf("decode invite: %v", err)
	}
	if inv.CallID != callID || inv.AppointmentID != apptID || inv.CallerDisplayName != "Dr. Rao" {
		t.Fatalf("invite payload: %+v", inv)
	}
}

func TestInitiate_RejectedWhenCalleeOffline(t *testing.T) {
	pub := newFakePublisher(doctorID)
	m := newManager(t, pub, time.Minute)

	m.Initiate(context.Background(), doctor(), apptID)

	errs := pub.ofType(doctorID, events.TypeCallError)
	if len(errs) != 1 {
		t.Fatalf("errors: %d", len(errs))
	}
	var p events.CallErrorPayload
	errs[0].Decode(&p)
	if p.Message != ErrChannelUnavailable.Error() {
		t.Fatalf("message: %q", p.Message)
	}

	// The rejection must not leak a slot.
	pub.mu.Lock()
	pub.connected[patientID] = true
	pub.mu.Unlock()
	initiate(t, m, pub)
}

func TestInitiate_SecondCallRejectedWhileActive(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManager(t, pub, time.Minute)

	initiate(t, m, pub)
	m.Initiate(context.Background(), doctor(), apptID)

	errs := pub.ofType(doctorID, events.TypeCallError)
	if len(errs) != 1 {
		t.Fatalf("errors: %d", len(errs))
	}
	var p events.CallErrorPayload
	errs[0].Decode(&p)
	if p.Message != ErrCallExists.Error() {
		t.Fatalf("message: %q", p.Message)
	}
}

func TestInitiate_UnknownAppointment(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManager(t, pub, time.Minute)

	m.Initiate(context.Background(), doctor(), "bogus")
	if len(pub.ofType(doctorID, events.TypeCallError)) != 1 {
		t.Fatalf("expected error event")
	}
	if len(pub.ofType(patientID, events.TypeCallInvite)) != 0 {
		t.Fatalf("invite sent for bogus appointment")
	}
}

func TestInitiate_NoInviteWhenCallEndsBeforeDelivery(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManager(t, pub, time.Minute)

	// Hang up between the caller's ack and the invite going out; the ended
	// set must swallow the invite.
	pub.onPublish = func(_ string, env events.Envelope) {
		if env.Type != events.TypeCallInitiated {
			return
		}
		var p events.CallInitiatedPayload
		if err := env.Decode(&p); err != nil {
			t.Errorf("decode ack: %v", err)
			return
		}
		m.Ended(context.Background(), doctor(), p.CallID)
	}

	m.Initiate(context.Background(), doctor(), apptID)

	if got := len(pub.ofType(patientID, events.TypeCallInvite)); got != 0 {
		t.Fatalf("invite delivered for ended call: %d", got)
	}
}

func TestAccept_ResolvesExactlyOnce(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManager(t, pub, time.Minute)
	callID := initiate(t, m, pub)

	m.Accept(context.Background(), patient(), callID)
	m.Accept(context.Background(), patient(), callID)

	if got := len(pub.ofType(doctorID, events.TypeCallAccepted)); got != 1 {
		t.Fatalf("call:accepted count: %d", got)
	}
	if call, ok := m.ActiveCall(patientID); !ok || call.Status != CallStatusConnecting {
		t.Fatalf("active call: %+v ok=%v", call, ok)
	}
}

func TestAccept_IgnoredFromNonCallee(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManager(t, pub, time.Minute)
	callID := initiate(t, m, pub)

	m.Accept(context.Background(), events.Sender{UserID: "intruder"}, callID)
	if len(pub.ofType(doctorID, events.TypeCallAccepted)) != 0 {
		t.Fatalf("accept from non-callee honored")
	}
}

func TestDecline_AcksCalleeEndsCallerAndReleasesSlots(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManager(t, pub, time.Minute)
	callID := initiate(t, m, pub)

	var ended []CallRecord
	m.OnEnded = func(_ context.Context, rec CallRecord) { ended = append(ended, rec) }

	m.Decline(context.Background(), patient(), callID)
	m.Decline(context.Background(), patient(), callID)

	if got := len(pub.ofType(patientID, events.TypeCallDeclined)); got != 1 {
		t.Fatalf("call:declined count: %d", got)
	}
	if got := len(pub.ofType(doctorID, events.TypeCallEnded)); got != 1 {
		t.Fatalf("call:ended count: %d", got)
	}
	if len(ended) != 1 || ended[0].EndReason != EndReasonDeclined {
		t.Fatalf("end records: %+v", ended)
	}

	// Slots are free again.
	initiate(t, m, pub)
}

func TestRingTimeout_EndsCallWithErrorToCaller(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManager(t, pub, 20*time.Millisecond)
	callID := initiate(t, m, pub)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(pub.ofType(doctorID, events.TypeCallEnded)) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	errs := pub.ofType(doctorID, events.TypeCallError)
	if len(errs) != 1 {
		t.Fatalf("timeout error count: %d", len(errs))
	}
	var p events.CallErrorPayload
	errs[0].Decode(&p)
	if p.Message != "call timed out" {
		t.Fatalf("message: %q", p.Message)
	}

	// Accept after timeout is ignored; the id is in the ended set.
	m.Accept(context.Background(), patient(), callID)
	if len(pub.ofType(doctorID, events.TypeCallAccepted)) != 0 {
		t.Fatalf("accept honored after timeout")
	}

	// Slots are free again.
	initiate(t, m, pub)
}

func TestAccept_CancelsRingTimer(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManager(t, pub, 30*time.Millisecond)
	callID := initiate(t, m, pub)

	m.Accept(context.Background(), patient(), callID)
	time.Sleep(100 * time.Millisecond)

	if len(pub.ofType(doctorID, events.TypeCallError)) != 0 {
		t.Fatalf("timer fired after accept")
	}
	if call, ok := m.ActiveCall(doctorID); !ok || call.Status != CallStatusConnecting {
		t.Fatalf("call torn down after accept: %+v ok=%v", call, ok)
	}
}

func TestConnectTimeout_EndsStalledCallAndReleasesSlots(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManagerCfg(t, pub, config.SignalingConfig{
		RingTimeout:    time.Minute,
		ConnectTimeout: 20 * time.Millisecond,
	})
	callID := initiate(t, m, pub)

	// Accepted but the callee never joins the media transport.
	m.Accept(context.Background(), patient(), callID)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(pub.ofType(doctorID, events.TypeCallEnded)) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := len(pub.ofType(patientID, events.TypeCallEnded)); got != 1 {
		t.Fatalf("callee ended count: %d", got)
	}
	errs := pub.ofType(doctorID, events.TypeCallError)
	if len(errs) != 1 {
		t.Fatalf("timeout error count: %d", len(errs))
	}
	var p events.CallErrorPayload
	errs[0].Decode(&p)
	if p.Message != "call setup timed out" {
		t.Fatalf("message: %q", p.Message)
	}

	// Joined after timeout is ignored; the id is in the ended set.
	m.Joined(context.Background(), patient(), callID)
	if len(pub.ofType(doctorID, events.TypeCallPatientJoined)) != 0 {
		t.Fatalf("joined honored after timeout")
	}

	// Slots are free again.
	initiate(t, m, pub)
}

func TestJoined_CancelsConnectTimer(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManagerCfg(t, pub, config.SignalingConfig{
		RingTimeout:    time.Minute,
		ConnectTimeout: 30 * time.Millisecond,
	})
	callID := initiate(t, m, pub)

	m.Accept(context.Background(), patient(), callID)
	m.Joined(context.Background(), patient(), callID)
	time.Sleep(100 * time.Millisecond)

	if len(pub.ofType(doctorID, events.TypeCallError)) != 0 {
		t.Fatalf("timer fired after joined")
	}
	if call, ok := m.ActiveCall(doctorID); !ok || call.Status != CallStatusStarted {
		t.Fatalf("call torn down after joined: %+v ok=%v", call, ok)
	}
}

func TestJoined_LenientMatchProducesPatientJoined(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManager(t, pub, time.Minute)
	callID := initiate(t, m, pub)
	m.Accept(context.Background(), patient(), callID)

	var started []string
	m.OnStarted = func(_ context.Context, appointmentID string) {
		started = append(started, appointmentID)
	}

	// Stale id from the client; the user's single active call matches anyway.
	m.Joined(context.Background(), patient(), "stale-id")

	joined := pub.ofType(doctorID, events.TypeCallPatientJoined)
	if len(joined) != 1 {
		t.Fatalf("patientJoined count: %d", len(joined))
	}
	var p events.CallPatientJoinedPayload
	joined[0].Decode(&p)
	if p.CallID != callID || p.AppointmentID != apptID {
		t.Fatalf("payload: %+v", p)
	}
	if len(started) != 1 || started[0] != apptID {
		t.Fatalf("OnStarted calls: %v", started)
	}

	// A duplicate joined must not refire.
	m.Joined(context.Background(), patient(), callID)
	if len(pub.ofType(doctorID, events.TypeCallPatientJoined)) != 1 || len(started) != 1 {
		t.Fatalf("duplicate joined refired")
	}
}

func TestEnded_NotifiesOtherPartyAndStampsDuration(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManager(t, pub, time.Minute)

	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	now := base
	m.WithClock(func() time.Time { return now })

	callID := initiate(t, m, pub)
	m.Accept(context.Background(), patient(), callID)
	m.Joined(context.Background(), patient(), callID)

	now = base.Add(3 * time.Minute)
	var rec CallRecord
	m.OnEnded = func(_ context.Context, r CallRecord) { rec = r }
	m.Ended(context.Background(), doctor(), callID)

	if got := len(pub.ofType(patientID, events.TypeCallEnded)); got != 1 {
		t.Fatalf("callee ended count: %d", got)
	}
	if rec.EndReason != EndReasonHangup || rec.Duration != 3*time.Minute {
		t.Fatalf("record: %+v", rec)
	}

	// Duplicate ended is a no-op.
	m.Ended(context.Background(), patient(), callID)
	if got := len(pub.ofType(doctorID, events.TypeCallEnded)); got != 0 {
		t.Fatalf("duplicate ended notified caller: %d", got)
	}
}

func TestEnded_RecordedEvenWithoutCallState(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManager(t, pub, time.Minute)

	// An ended notice for a call this server never saw still poisons the id.
	m.Ended(context.Background(), patient(), "ghost-call")
	if !m.ended.Contains("ghost-call") {
		t.Fatalf("ended id not recorded")
	}
}

func TestEnded_IgnoredFromNonParticipant(t *testing.T) {
	pub := newFakePublisher(doctorID, patientID)
	m := newManager(t, pub, time.Minute)
	callID := initiate(t, m, pub)

	// A third party who learned the id can neither end the call nor poison
	// its accept.
	m.Ended(context.Background(), events.Sender{UserID: "intruder"}, callID)
	if m.ended.Contains(callID) {
		t.Fatalf("live call poisoned by non-participant")
	}

	m.Accept(context.Background(), patient(), callID)
	if got := len(pub.ofType(doctorID, events.TypeCallAccepted)); got != 1 {
		t.Fatalf("call:accepted count: %d", got)
	}
}
