package ws

// State is the connection lifecycle state of one Socket. Only StateConnected
// permits immediate sends; every other state queues or rejects.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
	StateAuthFailed
	StateReconnectFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	case StateAuthFailed:
		return "auth_failed"
	case StateReconnectFailed:
		return "reconnect_failed"
	default:
		return "unknown"
	}
}

// Event identifies a socket lifecycle event.
type Event int

const (
	EventOpen Event = iota
	EventClose
	EventError
	EventMessage
	EventReconnect
	EventReconnectFailed
)

func (e Event) String() string {
	switch e {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	case EventReconnect:
		return "reconnect"
	case EventReconnectFailed:
		return "reconnect_failed"
	default:
		return "unknown"
	}
}

// EventInfo is passed to lifecycle event handlers.
type EventInfo struct {
	Event Event
	State State
	Err   error
	Data  []byte // set for EventMessage only
}

// MessageHandler receives the raw bytes of one inbound frame.
type MessageHandler func(data []byte)

// EventHandler receives lifecycle events.
type EventHandler func(info EventInfo)
