package client

import (
	"net"
	"sync"
)

// serializedWriter owns the outbound side of the connection. Enqueue is
// safe from any goroutine; buffers are written to the socket one at a time,
// in submission order, never interleaved. A buffer enqueued before the
// connection is established is held until the writer is bound to one.
type serializedWriter struct {
	mu       sync.Mutex
	queue    [][]byte
	conn     net.Conn
	draining bool

	// onError is invoked at most once per bound connection, from the drain
	// goroutine, when a write fails. The queue is abandoned first.
	onError func(conn net.Conn, err error)
}

func newSerializedWriter(onError func(conn net.Conn, err error)) *serializedWriter {
	return &serializedWriter{
		onError: onError,
	}
}

// bind attaches the writer to a live connection and starts draining any
// buffers queued while disconnected.
func (w *serializedWriter) bind(conn net.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn = conn
	w.maybeDrainLocked()
}

// reset detaches the writer and discards everything still queued.
func (w *serializedWriter) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn = nil
	w.queue = nil
}

func (w *serializedWriter) enqueue(bs []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = append(w.queue, bs)
	w.maybeDrainLocked()
}

func (w *serializedWriter) maybeDrainLocked() {
	if w.draining || w.conn == nil || len(w.queue) == 0 {
		return
	}
	w.draining = true
	go w.drain(w.conn)
}

func (w *serializedWriter) drain(conn net.Conn) {
	for {
		w.mu.Lock()
		if w.conn != conn || len(w.queue) == 0 {
			w.draining = false
			if w.conn != conn {
				// Rebound to a new connection while this drain was in
				// flight; hand the queue off to a fresh drain.
				w.maybeDrainLocked()
			}
			w.mu.Unlock()
			return
		}
		bs := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if err := writeFull(conn, bs); err != nil {
			w.mu.Lock()
			if w.conn == conn {
				w.conn = nil
			}
			w.queue = nil
			w.draining = false
			w.mu.Unlock()
			w.onError(conn, err)
			return
		}
	}
}

func writeFull(conn net.Conn, bs []byte) error {
	for len(bs) > 0 {
		n, err := conn.Write(bs)
		if err != nil {
			return err
		}
		bs = bs[n:]
	}
	return nil
}
