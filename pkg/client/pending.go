package client

import (
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Pending is an in-flight call awaiting its matching response. Exactly one
// of a result or an error is ever delivered to it, exactly once; duplicate
// deliveries are no-ops.
type Pending struct {
	id     uint32
	method string

	once   sync.Once
	done   chan struct{}
	result msgpack.RawMessage
	err    error
}

func newPending(id uint32, method string) *Pending {
	return &Pending{
		id:     id,
		method: method,
		done:   make(chan struct{}),
	}
}

// ID returns the call id allocated for this call.
func (p *Pending) ID() uint32 {
	return p.id
}

// Method returns the method name this call was issued with.
func (p *Pending) Method() string {
	return p.method
}

// Done is closed once the call has resolved.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the call resolves and returns the raw result.
func (p *Pending) Wait() (msgpack.RawMessage, error) {
	<-p.done
	return p.result, p.err
}

// WaitTimeout is Wait bounded by a timeout. On expiry it returns a
// TimeoutError carrying the method name; the call itself stays pending and
// may still resolve later.
func (p *Pending) WaitTimeout(timeout time.Duration) (msgpack.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-time.After(timeout):
		return nil, &TimeoutError{
			Duration: timeout,
			Method:   p.method,
		}
	}
}

// Decode waits for the call to resolve and unmarshals its result into v.
func (p *Pending) Decode(v interface{}) error {
	raw, err := p.Wait()
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(raw, v)
}

func (p *Pending) resolve(result msgpack.RawMessage) {
	p.once.Do(func() {
		p.result = result
		close(p.done)
	})
}

func (p *Pending) fail(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}
