package model

// ConnectionState tracks the lifecycle of a single socket.
//
// disconnected → connecting → connected → (disconnected | reconnecting | error)
// reconnecting → connecting on each attempt. The error state is terminal:
// automatic attempts stop and the caller must re-connect explicitly.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s ConnectionState) String() string {
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
	default:
		return "unknown"
	}
}
