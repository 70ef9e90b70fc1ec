package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrClosed is returned for operations issued after Close.
	ErrClosed = errors.New("client is closed")

	// ErrRateLimited is returned by Go and Call when the configured limiter
	// rejects the call.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// TimeoutError reports that a bounded wait did not complete in time. Either
// Method is set (a call wait) or Host/Port are (a connection wait).
type TimeoutError struct {
	Duration time.Duration
	Host     string
	Port     int
	Method   string
}

func (e *TimeoutError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("timeout of %s while calling %q", e.Duration, e.Method)
	}
	return fmt.Sprintf("timeout of %s while connecting to %s:%d", e.Duration, e.Host, e.Port)
}

// Timeout reports this error as a timeout, matching net.Error conventions.
func (e *TimeoutError) Timeout() bool {
	return true
}

// RemoteError is an error response from the server, tagged with the method
// that produced it. Payload is the raw error value from the frame.
type RemoteError struct {
	Method  string
	Payload msgpack.RawMessage
}

// Value decodes the error payload into a Go value.
func (e *RemoteError) Value() (interface{}, error) {
	var v interface{}
	if err := msgpack.Unmarshal(e.Payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (e *RemoteError) Error() string {
	v, err := e.Value()
	if err != nil {
		return fmt.Sprintf("call %q failed with an undecodable error payload", e.Method)
	}
	return fmt.Sprintf("call %q failed: %v", e.Method, v)
}

// TransportError reports a connection-level failure: a read or write fault,
// a peer close, or the client shutting down with calls still pending.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
