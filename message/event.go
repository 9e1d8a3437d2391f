package message

import "fmt"

type EventKind uint8

const (
	EventInvalid      EventKind = 0
	EventConnected    EventKind = 1
	EventDisconnected EventKind = 2
	EventError        EventKind = 3
)

func (k EventKind) String() string {
	switch k {
	case EventInvalid:
		return "Invalid Event"
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	case EventError:
		return "Error"
	default:
		return "Unknown Event"
	}
}

// NetworkEvent reports connection lifecycle to the consumer.
// Each connection yields exactly one EventConnected and at most one EventDisconnected,
// an EventError for a connection is always queued before its EventDisconnected.
type NetworkEvent struct {
	Kind   EventKind
	ConnID ConnID
	Err    error // set for EventError only
}

func (e *NetworkEvent) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s<%s>: %s", e.Kind, e.ConnID, e.Err.Error())
	}
	return fmt.Sprintf("%s<%s>", e.Kind, e.ConnID)
}
