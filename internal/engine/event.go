package engine

type EventKind string

const (
	EventPartnersUpdated EventKind = "partners-updated"
	EventPartnersFailed  EventKind = "partners-failed"
	EventThreadUpdated   EventKind = "thread-updated"
	EventHistoryFailed   EventKind = "history-failed"
	// EventSendFailed is emitted once per failed send, after the pending
	// message has been removed. Content is the text that was lost.
	EventSendFailed EventKind = "send-failed"
)

// Event tells the view something changed. Read state through the engine;
// events only carry what the view cannot get otherwise.
type Event struct {
	Kind      EventKind
	PartnerID string
	Content   string
	Err       error
}
