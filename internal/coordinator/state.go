package coordinator

// State - состояние подключения к relay
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// SessionState - состояние соединения с одним участником
type SessionState int

const (
	SessionNew SessionState = iota
	SessionNegotiating
	SessionConnected
	SessionFailed
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionNegotiating:
		return "negotiating"
	case SessionConnected:
		return "connected"
	case SessionFailed:
		return "failed"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}
