// Package client implements an asynchronous RPC client over a streaming
// transport. Calls are issued by method name, framed by pkg/wire, and
// resolved by matching response frames back to pending calls by id.
//
// All connection state, the correlation table, and the outbound queue are
// owned by a single engine goroutine. Caller goroutines never touch them
// directly; they post closures onto the engine and block on per-call
// completions. This is what makes the public API safe from any goroutine
// without per-access locks on the engine's data.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/time/rate"

	"github.com/kbirk/tether/pkg/discovery"
	"github.com/kbirk/tether/pkg/log"
	"github.com/kbirk/tether/pkg/transport"
	"github.com/kbirk/tether/pkg/transport/tcp"
	"github.com/kbirk/tether/pkg/wire"
)

type Config struct {
	Host string
	Port int

	// Dialer establishes the byte stream. Defaults to TCP with no-delay.
	Dialer transport.Dialer

	// Resolver produces endpoints for connection attempts. Defaults to a
	// static resolver over Host and Port.
	Resolver discovery.Resolver

	// StateHandler, if set, observes every connection state transition. It
	// runs synchronously on the engine goroutine.
	StateHandler StateHandler

	// Limiter, if set, bounds the rate of outbound calls.
	Limiter *rate.Limiter

	// ReadChunkSize bounds a single read from the connection. Defaults to
	// wire.DefaultBufferSize.
	ReadChunkSize int

	// MaxFrameSize caps the body length of an incoming frame. Defaults to
	// wire.DefaultMaxFrameSize.
	MaxFrameSize int

	// DialTimeout bounds a single connection attempt. 0 means no limit.
	DialTimeout time.Duration

	Logger log.Logger
}

// Client is the public surface of the engine. A Client owns exactly one
// transport connection at a time; construction starts the engine goroutine
// and the first connection attempt.
type Client struct {
	conf     Config
	dialer   transport.Dialer
	resolver discovery.Resolver

	ops  chan func()
	stop chan struct{}
	done chan struct{}

	callID  atomic.Uint32
	state   atomic.Int32
	timeout atomic.Int64 // default wait bound in nanoseconds, 0 = none

	closeOnce sync.Once

	// Engine-owned; touched only on the engine goroutine (and in Close,
	// after the engine goroutine has exited).
	conn     net.Conn
	pending  map[uint32]*Pending
	writer   *serializedWriter
	deferred []func()

	// Tracks the in-flight connection attempt; each attempt's channel is
	// closed when it resolves.
	connMu    sync.Mutex
	attemptCh chan struct{}
}

// New creates a client and immediately begins connecting to the target.
// Use WaitForConnection to block until the first attempt resolves.
func New(conf Config) *Client {
	if conf.ReadChunkSize <= 0 {
		conf.ReadChunkSize = wire.DefaultBufferSize
	}

	c := &Client{
		conf:     conf,
		dialer:   conf.Dialer,
		resolver: conf.Resolver,
		ops:      make(chan func(), 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		pending:  make(map[uint32]*Pending),
	}
	if c.dialer == nil {
		c.dialer = tcp.NewDialer(tcp.Config{
			NoDelay: true,
		})
	}
	if c.resolver == nil {
		c.resolver = discovery.NewStatic(discovery.Endpoint{
			Host: conf.Host,
			Port: conf.Port,
		})
	}
	c.writer = newSerializedWriter(c.onWriteError)

	go c.run()
	c.startConnect()
	return c
}

// run is the engine goroutine: it executes posted operations one at a time,
// in submission order, until Close.
func (c *Client) run() {
	defer close(c.done)
	for {
		if len(c.deferred) > 0 {
			op := c.deferred[0]
			c.deferred = c.deferred[1:]
			op()
			continue
		}
		select {
		case op := <-c.ops:
			op()
		case <-c.stop:
			return
		}
	}
}

// post hands an operation to the engine goroutine. Returns false if the
// client is closed.
func (c *Client) post(op func()) bool {
	select {
	case c.ops <- op:
		return true
	case <-c.stop:
		return false
	}
}

// schedule queues an operation behind the one currently executing. Only
// called from the engine goroutine; unlike post it cannot block the engine
// against its own ops channel.
func (c *Client) schedule(op func()) {
	c.deferred = append(c.deferred, op)
}

func (c *Client) logDebug(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Debug(msg)
	}
}

func (c *Client) logInfo(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Info(msg)
	}
}

func (c *Client) logWarn(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Warn(msg)
	}
}

func (c *Client) logError(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Error(msg)
	}
}

// State returns the last observed connection state.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// setState runs on the engine goroutine; the observer sees transitions in
// the order they happen.
func (c *Client) setState(next ConnectionState) {
	prev := ConnectionState(c.state.Swap(int32(next)))
	if c.conf.StateHandler != nil {
		c.conf.StateHandler(prev, next)
	}
}

// SetStateHandler registers the transition observer. The handler runs
// synchronously on the engine goroutine; a slow handler stalls the engine.
func (c *Client) SetStateHandler(handler StateHandler) {
	c.post(func() {
		c.conf.StateHandler = handler
	})
}

// SetTimeout configures the default bound used by WaitForConnection and
// Call. The granularity callers care about is milliseconds.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout.Store(int64(timeout))
}

// ClearTimeout removes the default bound; waits block indefinitely again.
func (c *Client) ClearTimeout() {
	c.timeout.Store(0)
}

// Timeout returns the configured default bound, 0 if none.
func (c *Client) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

// Go issues a call and returns its pending completion without blocking.
// Call ids are allocated from a monotonically increasing counter starting
// at 1; registering the call and queueing its bytes happen as a single
// engine operation, so a response can never arrive before the registration
// is visible.
func (c *Client) Go(method string, args ...interface{}) (*Pending, error) {
	id := c.callID.Add(1)
	bs, err := wire.EncodeRequest(id, method, args)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	// The token is consumed last so a call rejected for another reason
	// does not burn one.
	select {
	case <-c.stop:
		return nil, ErrClosed
	default:
	}
	if c.conf.Limiter != nil && !c.conf.Limiter.Allow() {
		return nil, ErrRateLimited
	}

	p := newPending(id, method)
	ok := c.post(func() {
		if _, exists := c.pending[p.id]; exists {
			// Only possible after the id counter wraps with a stale call
			// still outstanding.
			p.fail(fmt.Errorf("call id %d is already pending", p.id))
			return
		}
		c.pending[p.id] = p
		c.writer.enqueue(bs)
	})
	if !ok {
		return nil, ErrClosed
	}
	return p, nil
}

// Call issues a call and blocks until it resolves, decoding the result into
// result (which may be nil to discard it). If a default timeout is
// configured the wait is bounded by it.
func (c *Client) Call(result interface{}, method string, args ...interface{}) error {
	p, err := c.Go(method, args...)
	if err != nil {
		return err
	}

	var raw msgpack.RawMessage
	if timeout := c.Timeout(); timeout > 0 {
		raw, err = p.WaitTimeout(timeout)
	} else {
		raw, err = p.Wait()
	}
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := msgpack.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode result for %q: %w", method, err)
	}
	return nil
}

// WaitForConnection blocks until the in-flight connection attempt resolves
// and returns the resulting state. If the state is already Connected, or
// there is no attempt in flight, it returns immediately. The configured
// default timeout bounds the wait.
func (c *Client) WaitForConnection() (ConnectionState, error) {
	return c.waitConn(c.Timeout())
}

// WaitForConnectionTimeout is WaitForConnection with an explicit bound.
func (c *Client) WaitForConnectionTimeout(timeout time.Duration) (ConnectionState, error) {
	return c.waitConn(timeout)
}

func (c *Client) waitConn(timeout time.Duration) (ConnectionState, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		if state := c.State(); state == Connected {
			return state, nil
		}

		c.connMu.Lock()
		attempt := c.attemptCh
		c.connMu.Unlock()
		if attempt == nil {
			// Nothing in flight; the state is settled.
			return c.State(), nil
		}

		select {
		case <-attempt:
		case <-expired:
			return c.State(), &TimeoutError{
				Duration: timeout,
				Host:     c.conf.Host,
				Port:     c.conf.Port,
			}
		case <-c.stop:
			return c.State(), ErrClosed
		}
	}
}

// AsyncReconnect starts a connection attempt and returns a channel that
// receives its outcome. Safe in any state; reconnecting while connected
// tears the current connection down first.
func (c *Client) AsyncReconnect() <-chan ConnectionState {
	return c.startConnect()
}

// Reconnect is AsyncReconnect, blocking until the attempt resolves.
func (c *Client) Reconnect() ConnectionState {
	return <-c.AsyncReconnect()
}

func (c *Client) startConnect() <-chan ConnectionState {
	result := make(chan ConnectionState, 1)

	// The attempt is registered before the connect op is posted so a waiter
	// arriving immediately after has something to wait on. A superseded
	// attempt still closes its own channel when it resolves.
	attempt := make(chan struct{})
	c.connMu.Lock()
	c.attemptCh = attempt
	c.connMu.Unlock()

	if !c.post(func() { c.doConnect(result, attempt) }) {
		result <- Disconnected
		c.finishAttempt(attempt)
	}
	return result
}

// doConnect runs on the engine goroutine. The dial itself happens on a
// helper goroutine so a slow connect cannot stall the engine; its outcome
// is posted back.
func (c *Client) doConnect(result chan<- ConnectionState, attempt chan struct{}) {
	// Reconnecting while connected tears the connection down first; there
	// is no connected-to-connected transition.
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.writer.reset()
		c.setState(Disconnected)
		c.failPending(&TransportError{
			Op:  "reconnect",
			Err: errors.New("connection replaced"),
		})
	}

	c.logInfo("initiating connection")

	go func() {
		ctx := context.Background()
		if c.conf.DialTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.conf.DialTimeout)
			defer cancel()
		}
		conn, err := c.dial(ctx)
		if !c.post(func() { c.finishConnect(conn, err, result, attempt) }) {
			if conn != nil {
				conn.Close()
			}
			result <- Disconnected
			c.finishAttempt(attempt)
		}
	}()
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	endpoints, err := c.resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve endpoints: %w", err)
	}

	var lastErr error
	for _, endpoint := range endpoints {
		conn, err := c.dialer.Dial(ctx, endpoint.Host, endpoint.Port)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// finishConnect runs on the engine goroutine.
func (c *Client) finishConnect(conn net.Conn, err error, result chan<- ConnectionState, attempt chan struct{}) {
	if err != nil {
		c.logError("connection attempt failed: " + err.Error())
		c.setState(Disconnected)
		result <- Disconnected
		c.finishAttempt(attempt)
		return
	}

	// A competing attempt may have connected while this one was dialing;
	// keep the established connection and discard this one. Calls already
	// in flight on it stay pending and resolve normally.
	if c.conn != nil {
		conn.Close()
		result <- c.State()
		c.finishAttempt(attempt)
		return
	}

	c.conn = conn
	c.writer.bind(conn)
	c.setState(Connected)
	c.logInfo(fmt.Sprintf("connected to %s", conn.RemoteAddr()))
	result <- Connected
	c.finishAttempt(attempt)

	go c.readLoop(conn)
}

func (c *Client) finishAttempt(attempt chan struct{}) {
	c.connMu.Lock()
	if c.attemptCh == attempt {
		c.attemptCh = nil
	}
	c.connMu.Unlock()
	close(attempt)
}

// readLoop runs one goroutine per established connection. It reads chunks,
// feeds them to the frame decoder, and posts every batch of decoded frames
// to the engine for dispatch. It exits on the first terminal condition.
func (c *Client) readLoop(conn net.Conn) {
	dec := wire.NewDecoder(c.conf.ReadChunkSize)
	dec.SetMaxFrameSize(c.conf.MaxFrameSize)
	for {
		buf := dec.Buffer(c.conf.ReadChunkSize)
		n, err := conn.Read(buf)
		if n > 0 {
			c.logDebug(fmt.Sprintf("read chunk of %d bytes", n))
			dec.Advance(n)

			var frames []*wire.Frame
			for {
				frame, derr := dec.Next()
				if derr != nil {
					c.logError("frame decode failed: " + derr.Error())
					c.post(func() { c.handleDisconnect(conn, derr) })
					return
				}
				if frame == nil {
					break
				}
				frames = append(frames, frame)
			}
			if len(frames) > 0 {
				if !c.post(func() { c.dispatch(frames) }) {
					return
				}
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.logWarn("the server closed the connection")
				c.post(func() { c.handleDisconnect(conn, err) })
			case errors.Is(err, syscall.ECONNRESET):
				c.logWarn("the connection was reset")
				c.post(func() { c.handleDisconnect(conn, err) })
			case errors.Is(err, net.ErrClosed):
				// Local teardown; the engine already knows.
			default:
				// Not a recognized terminal condition; stop reading and
				// leave recovery to an explicit reconnect.
				c.logError("unhandled read error: " + err.Error())
			}
			return
		}
	}
}

// dispatch runs on the engine goroutine, routing each decoded frame to its
// pending call. Removal is scheduled behind the dispatch rather than done
// inline, so the table is not mutated while the batch is in flight.
func (c *Client) dispatch(frames []*wire.Frame) {
	for _, frame := range frames {
		p, ok := c.pending[frame.ID]
		if !ok {
			c.logWarn(fmt.Sprintf("dropping frame with no pending call for id %d", frame.ID))
			continue
		}
		if frame.IsError() {
			p.fail(&RemoteError{
				Method:  p.method,
				Payload: frame.Body,
			})
		} else {
			p.resolve(frame.Body)
		}

		id := frame.ID
		c.schedule(func() {
			delete(c.pending, id)
		})
	}
}

func (c *Client) onWriteError(conn net.Conn, err error) {
	c.logError("write failed: " + err.Error())
	c.post(func() { c.handleDisconnect(conn, err) })
}

// handleDisconnect runs on the engine goroutine. Events from a connection
// that has already been replaced are ignored.
func (c *Client) handleDisconnect(conn net.Conn, cause error) {
	if c.conn != conn {
		return
	}
	c.conn.Close()
	c.conn = nil
	c.writer.reset()
	c.setState(Disconnected)
	c.failPending(&TransportError{
		Op:  "connection",
		Err: cause,
	})
}

// failPending resolves every currently pending call with err and clears the
// table. Leaving calls dangling across a disconnect would strand their
// waiters until an unrelated timeout fired, so the engine fails them fast.
func (c *Client) failPending(err error) {
	if len(c.pending) == 0 {
		return
	}
	c.logWarn(fmt.Sprintf("failing %d pending calls: %v", len(c.pending), err))
	for id, p := range c.pending {
		p.fail(err)
		delete(c.pending, id)
	}
}

// WaitAll blocks until every call pending at the moment of the snapshot has
// resolved. Calls issued after WaitAll begins are not waited on.
func (c *Client) WaitAll() {
	var snapshot []*Pending
	taken := make(chan struct{})
	if !c.post(func() {
		snapshot = make([]*Pending, 0, len(c.pending))
		for _, p := range c.pending {
			snapshot = append(snapshot, p)
		}
		close(taken)
	}) {
		return
	}
	<-taken

	for _, p := range snapshot {
		<-p.done
	}
}

// PendingCalls returns the number of calls currently awaiting a response.
func (c *Client) PendingCalls() int {
	var count int
	taken := make(chan struct{})
	if !c.post(func() {
		count = len(c.pending)
		close(taken)
	}) {
		return 0
	}
	<-taken
	return count
}

// Close stops the engine and tears down the connection. Calls still pending
// are failed with a TransportError wrapping ErrClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done

		// The engine goroutine has exited; its state is safe to touch here.
		// Run any operations that were posted but never executed so calls
		// caught in the buffer still register and get failed below.
		for {
			select {
			case op := <-c.ops:
				op()
				continue
			default:
			}
			if len(c.deferred) > 0 {
				op := c.deferred[0]
				c.deferred = c.deferred[1:]
				op()
				continue
			}
			break
		}

		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.writer.reset()
		c.failPending(&TransportError{
			Op:  "shutdown",
			Err: ErrClosed,
		})
	})
}
