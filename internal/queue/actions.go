package queue

// Action is a queue-entry action a doctor may be offered.
type Action string

const (
	ActionCall     Action = "call"
	ActionRecall   Action = "recall"
	ActionSkip     Action = "skip"
	ActionNoShow   Action = "no_show"
	ActionComplete Action = "complete"

	// Mode-specific call buttons. Initiate is offered before the remote call
	// has begun; Resume is offered once the patient is in consultation.
	ActionInitiateAudioCall Action = "initiate_audio_call"
	ActionInitiateVideoCall Action = "initiate_video_call"
	ActionResumeAudioCall   Action = "resume_audio_call"
	ActionResumeVideoCall   Action = "resume_video_call"
)

// AvailableActions is the pure availability function for queue-entry actions.
// It is the single source of truth for what the UI may offer:
//   - nothing unless the session is live
//   - nothing on terminal entries
//   - recall disappears once RecallCount reaches RecallLimit
//   - call-initiation/in-call buttons depend on consultation mode and state
//
// The service re-validates every precondition on execution; this function
// only decides what is offered.
func AvailableActions(session ClinicSession, e QueueEntry) []Action {
	if session.Status != SessionStatusLive {
		return nil
	}
	if e.Status.Terminal() {
		return nil
	}

	var out []Action
	switch e.Status {
	case EntryStatusWaiting, EntryStatusSkipped:
		out = append(out, ActionCall)
	case EntryStatusCalled:
		if e.RecallCount < RecallLimit {
			out = append(out, ActionRecall)
		}
		switch e.Mode {
		case ModeCall:
			out = append(out, ActionInitiateAudioCall)
		case ModeVideoCall:
			out = append(out, ActionInitiateVideoCall)
		case ModeInPerson:
		}
		out = append(out, ActionComplete)
	case EntryStatusInConsultation:
		if e.RecallCount < RecallLimit {
			out = append(out, ActionRecall)
		}
		switch e.Mode {
		case ModeCall:
			out = append(out, ActionResumeAudioCall)
		case ModeVideoCall:
			out = append(out, ActionResumeVideoCall)
		case ModeInPerson:
		}
		out = append(out, ActionComplete)
	case EntryStatusNoShow, EntryStatusCompleted, EntryStatusCancelled, EntryStatusCancelledBySession:
		// unreachable: terminal handled above
		return nil
	}

	// Skip and no-show apply to any non-terminal entry.
	out = append(out, ActionSkip, ActionNoShow)
	return out
}

func hasAction(actions []Action, a Action) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}
