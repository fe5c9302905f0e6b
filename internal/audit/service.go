package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.Action == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogQueueAction records a queue-entry transition taken by an actor.
func (s *Service) LogQueueAction(ctx context.Context, actorUserID, actorRole, sessionID, entryID, action, reason string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeQueueAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		SessionID:   sessionID,
		EntryID:     entryID,
		Action:      action,
		Reason:      reason,
	})
}

// LogSessionTransition records a clinic-session lifecycle change.
func (s *Service) LogSessionTransition(ctx context.Context, actorUserID, actorRole, sessionID, action, reason string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeSessionTransition,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		SessionID:   sessionID,
		Action:      action,
		Reason:      reason,
	})
}

// LogCallEvent records a call-signaling lifecycle edge.
func (s *Service) LogCallEvent(ctx context.Context, actorUserID, callID, entryID, action, reason string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeCallLifecycle,
		ActorUserID: actorUserID,
		EntryID:     entryID,
		CallID:      callID,
		Action:      action,
		Reason:      reason,
	})
}
