// Package transport defines how the client obtains the byte stream it runs
// over. Implementations live in subpackages.
package transport

import (
	"context"
	"net"
)

// Dialer establishes a reliable, ordered, bidirectional byte stream to a
// host and port. The client engine owns the returned connection.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (net.Conn, error)
}
