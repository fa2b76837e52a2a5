package watch

import "time"

// State is the supervisor's lifecycle state.
type State int

const (
	Idle State = iota
	Starting
	Running
	Restarting
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Restarting:
		return "Restarting"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// EventType names a lifecycle event.
type EventType string

const (
	// EventStart: the child is listening.
	EventStart EventType = "start"
	// EventReady: the child finished its onReady hooks.
	EventReady EventType = "ready"
	// EventRestart: a change was detected; the current child is about to
	// be terminated.
	EventRestart EventType = "restart"
	// EventClose: the supervisor stopped. Always the last event.
	EventClose EventType = "close"
)

// Event is delivered to handlers added with OnEvent.
type Event struct {
	Type EventType
	// Instance is the ID of the child the event refers to, if any.
	Instance string
	// Address is where the child listens (start and ready only).
	Address string
	// Paths lists the changed files (restart only).
	Paths []string
	Time  time.Time
}

// Handler receives lifecycle events. Handlers run synchronously on the
// supervisor goroutine, in the order events are emitted.
type Handler func(Event)
