package callstate

import (
	"context"
	"sync"
	"time"
)

// Status is the client-facing phase of a user's call widget.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusCalling    Status = "calling"
	StatusConnecting Status = "connecting"
	StatusStarted    Status = "started"
	StatusEnded      Status = "ended"
)

// DefaultRemoteName is shown until the remote party's name is known.
const DefaultRemoteName = "Remote User"

// Descriptor is the per-user view of the current call. CallID may be empty
// while the call is still ringing and no id has been assigned to this side.
type Descriptor struct {
	CallID        string    `json:"call_id,omitempty"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	RemoteName    string    `json:"remote_name"`
	Status        Status    `json:"status"`
	StartTime     time.Time `json:"start_time"`
	Minimized     bool      `json:"minimized"`
}

func idleDescriptor() Descriptor {
	return Descriptor{RemoteName: DefaultRemoteName, Status: StatusIdle}
}

// Info is a partial update applied onto a descriptor. Nil fields are left
// untouched.
type Info struct {
	CallID        *string
	AppointmentID *string
	RemoteName    *string
	StartTime     *time.Time
}

// Observer is notified after every descriptor mutation. All notifications go
// through the single dispatch path in Store; there is no secondary bus.
type Observer func(userID, role string, d Descriptor)

// FlagStore persists the minimized flag across reloads, scoped per role so a
// user acting in two roles keeps independent window states.
type FlagStore interface {
	SetMinimized(ctx context.Context, role, userID string, minimized bool) error
	Minimized(ctx context.Context, role, userID string) (bool, error)
	Clear(ctx context.Context, role, userID string) error
}

// Store keeps per-user call descriptors in memory. Every operation is total:
// unknown users resolve to the idle descriptor and mutations never fail.
type Store struct {
	mu        sync.Mutex
	byUser    map[string]Descriptor
	flags     FlagStore
	observers []Observer
}

func NewStore(flags FlagStore) *Store {
	if flags == nil {
		flags = NewMemoryFlagStore()
	}
	return &Store{
		byUser: make(map[string]Descriptor),
		flags:  flags,
	}
}

// Subscribe registers an observer for descriptor changes. Not safe to call
// concurrently with mutations; register observers during wiring.
func (s *Store) Subscribe(obs Observer) {
	s.observers = append(s.observers, obs)
}

// Get returns the user's descriptor, hydrating the minimized flag from the
// flag store.
func (s *Store) Get(ctx context.Context, role, userID string) Descriptor {
	s.mu.Lock()
	d, ok := s.byUser[userID]
	s.mu.Unlock()
	if !ok {
		d = idleDescriptor()
	}
	if min, err := s.flags.Minimized(ctx, role, userID); err == nil {
		d.Minimized = min
	}
	return d
}

// StartCall begins tracking an outgoing or incoming call for the user.
func (s *Store) StartCall(ctx context.Context, role, userID string, info Info, status Status) Descriptor {
	return s.mutate(ctx, role, userID, func(d Descriptor) Descriptor {
		d = idleDescriptor()
		d.Status = status
		return applyInfo(d, info)
	})
}

// UpdateStatus moves the user's call to a new phase. Entering started stamps
// the start time if none was recorded yet.
func (s *Store) UpdateStatus(ctx context.Context, role, userID string, status Status, at time.Time) Descriptor {
	return s.mutate(ctx, role, userID, func(d Descriptor) Descriptor {
		d.Status = status
		if status == StatusStarted && d.StartTime.IsZero() {
			d.StartTime = at
		}
		return d
	})
}

// UpdateInfo merges partial call details into the descriptor.
func (s *Store) UpdateInfo(ctx context.Context, role, userID string, info Info) Descriptor {
	return s.mutate(ctx, role, userID, func(d Descriptor) Descriptor {
		return applyInfo(d, info)
	})
}

// Apply rewrites the descriptor as a function of its previous value.
func (s *Store) Apply(ctx context.Context, role, userID string, fn func(Descriptor) Descriptor) Descriptor {
	return s.mutate(ctx, role, userID, fn)
}

// EndCall resets the user to idle and clears the persisted minimized flag.
func (s *Store) EndCall(ctx context.Context, role, userID string) Descriptor {
	s.flags.Clear(ctx, role, userID)
	return s.mutate(ctx, role, userID, func(Descriptor) Descriptor {
		return idleDescriptor()
	})
}

// ToggleMinimize flips the minimized flag and persists it.
func (s *Store) ToggleMinimize(ctx context.Context, role, userID string) Descriptor {
	return s.mutate(ctx, role, userID, func(d Descriptor) Descriptor {
		d.Minimized = !d.Minimized
		s.flags.SetMinimized(ctx, role, userID, d.Minimized)
		return d
	})
}

func (s *Store) Minimize(ctx context.Context, role, userID string) Descriptor {
	return s.setMinimized(ctx, role, userID, true)
}

func (s *Store) Maximize(ctx context.Context, role, userID string) Descriptor {
	return s.setMinimized(ctx, role, userID, false)
}

func (s *Store) setMinimized(ctx context.Context, role, userID string, min bool) Descriptor {
	return s.mutate(ctx, role, userID, func(d Descriptor) Descriptor {
		d.Minimized = min
		s.flags.SetMinimized(ctx, role, userID, min)
		return d
	})
}

func (s *Store) mutate(ctx context.Context, role, userID string, fn func(Descriptor) Descriptor) Descriptor {
	s.mu.Lock()
	d, ok := s.byUser[userID]
	if !ok {
		d = idleDescriptor()
		if min, err := s.flags.Minimized(ctx, role, userID); err == nil {
			d.Minimized = min
		}
	}
	d = fn(d)
	s.byUser[userID] = d
	obs := s.observers
	s.mu.Unlock()

	for _, o := range obs {
		o(userID, role, d)
	}
	return d
}

func applyInfo(d Descriptor, info Info) Descriptor {
	if info.CallID != nil {
		d.CallID = *info.CallID
	}
	if info.AppointmentID != nil {
		d.AppointmentID = *info.AppointmentID
	}
	if info.RemoteName != nil {
		name := *info.RemoteName
		if name == "" {
			name = DefaultRemoteName
		}
		d.RemoteName = name
	}
	if info.StartTime != nil {
		d.StartTime = *info.StartTime
	}
	return d
}

// Str is a convenience for building Info literals.
func Str(s string) *string { return &s }
