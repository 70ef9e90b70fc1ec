package client

// ConnectionState tracks where the client is in its connection lifecycle.
type ConnectionState int32

const (
	// Initial means no connection attempt has completed yet.
	Initial ConnectionState = iota
	// Connected means the transport is established and usable.
	Connected
	// Disconnected means the transport failed, was closed by the peer, or a
	// connection attempt did not succeed. A peer reset and a graceful close
	// both land here.
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Initial:
		return "initial"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// StateHandler observes connection state transitions. It is invoked
// synchronously on the engine goroutine for every transition; a slow
// handler stalls the engine.
type StateHandler func(prev, next ConnectionState)
