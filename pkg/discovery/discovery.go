// Package discovery resolves a client's target into connectable endpoints.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Endpoint is a connectable host and port.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Resolver produces the endpoints a connection attempt should try, in order.
type Resolver interface {
	Resolve(ctx context.Context) ([]Endpoint, error)
}

// Static resolves to a fixed set of endpoints.
type Static struct {
	endpoints []Endpoint
}

func NewStatic(endpoints ...Endpoint) *Static {
	return &Static{
		endpoints: endpoints,
	}
}

func (s *Static) Resolve(ctx context.Context) ([]Endpoint, error) {
	if len(s.endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured")
	}
	return s.endpoints, nil
}
