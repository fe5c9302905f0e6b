package events

import (
	"encoding/json"
	"fmt"
)

// Event names carried in the envelope's type field.
const (
	TypeQueueUpdated = "queue:updated"

	// Client to server.
	TypeCallInitiate = "call:initiate"
	TypeCallAccept   = "call:accept"
	TypeCallDecline  = "call:decline"
	TypeCallJoined   = "call:joined"

	// Server to client.
	TypeCallInitiated     = "call:initiated"
	TypeCallInvite        = "call:invite"
	TypeCallAccepted      = "call:accepted"
	TypeCallDeclined      = "call:declined"
	TypeCallPatientJoined = "call:patientJoined"
	TypeCallError         = "call:error"

	// Bidirectional.
	TypeCallEnded = "call:ended"
)

// Envelope is the wire format for every message on the event channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New marshals payload into an Envelope of the given type.
func New(typ string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: typ}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: data}, nil
}

// Decode unmarshals the envelope payload into out.
func (e Envelope) Decode(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("events: %s has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("events: decode %s payload: %w", e.Type, err)
	}
	return nil
}

/* ===================== PAYLOADS ===================== */

type CallInitiatePayload struct {
	AppointmentID string `json:"appointmentId"`
}

type CallInitiatedPayload struct {
	CallID        string `json:"callId"`
	AppointmentID string `json:"appointmentId"`
}

type CallInvitePayload struct {
	CallID            string `json:"callId"`
	AppointmentID     string `json:"appointmentId"`
	CallerDisplayName string `json:"callerDisplayName"`
}

// CallRefPayload carries just a call id. Used by accept, decline, joined and
// ended in both directions.
type CallRefPayload struct {
	CallID string `json:"callId"`
}

type CallPatientJoinedPayload struct {
	CallID        string `json:"callId"`
	AppointmentID string `json:"appointmentId"`
}

type CallErrorPayload struct {
	Message string `json:"message"`
}
