package domain

type EventType string

const (
	EventHeaderAccepted EventType = "header_accepted"
	EventReorgDetected  EventType = "reorg_detected"
)

// Event is what the tip watcher publishes to its subscribers. A reorg event
// always precedes the replacement headers for the invalidated range; its
// RestartHeight is the first height whose locally cached state must be
// treated as provisional.
type Event struct {
	Type          EventType
	Header        Header // set when Type == EventHeaderAccepted
	RestartHeight uint64 // set when Type == EventReorgDetected
}

// HeaderAccepted wraps a header in an event.
func HeaderAccepted(h Header) Event {
	return Event{Type: EventHeaderAccepted, Header: h}
}

// ReorgDetected builds a reorg event restarting at the given height.
func ReorgDetected(height uint64) Event {
	return Event{Type: EventReorgDetected, RestartHeight: height}
}
