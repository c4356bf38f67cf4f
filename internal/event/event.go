package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	ChannelOpened Type = iota + 1
	ChannelClosed
	WriteFailed
	WritesDropped
	ReadFailed
	EndpointGood
	EndpointConflict
	EndpointWrong
)

var typeNames = [...]string{
	ChannelOpened:    "ChannelOpened",
	ChannelClosed:    "ChannelClosed",
	WriteFailed:      "WriteFailed",
	WritesDropped:    "WritesDropped",
	ReadFailed:       "ReadFailed",
	EndpointGood:     "EndpointGood",
	EndpointConflict: "EndpointConflict",
	EndpointWrong:    "EndpointWrong",
}

func (t Type) String() string {
	if int(t) < len(typeNames) && typeNames[t] != "" {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single channel or validator event.
type Event struct {
	Timestamp time.Time
	Error     error
	Host      string // endpoint host identifier
	Path      string // endpoint commdev path
	Session   string // channel session id, empty for validator events
	Size      int64  // bytes affected (WriteFailed, WritesDropped)
	Type      Type
}

// Send delivers ev on ch without blocking. A nil channel or a full buffer
// drops the event.
func Send(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case ch <- ev:
	default:
	}
}
