package httpapi

import "telehealth-platform/internal/queue"

// QueueView is the client-facing queue snapshot: every entry annotated with
// its display status and the actions the doctor may currently take. The same
// shape is returned by the REST fetch and pushed over the event channel, so
// clients reconcile against one format.
type QueueView struct {
	Session queue.ClinicSession `json:"session"`
	Entries []EntryView         `json:"entries"`
}

type EntryView struct {
	queue.QueueEntry
	DisplayStatus    string         `json:"display_status"`
	AvailableActions []queue.Action `json:"available_actions"`
}

func NewQueueView(snap queue.QueueSnapshot) QueueView {
	out := QueueView{
		Session: snap.Session,
		Entries: make([]EntryView, 0, len(snap.Entries)),
	}
	for _, e := range snap.Entries {
		out.Entries = append(out.Entries, EntryView{
			QueueEntry:       e,
			DisplayStatus:    e.Status.DisplayStatus(),
			AvailableActions: queue.AvailableActions(snap.Session, e),
		})
	}
	return out
}
