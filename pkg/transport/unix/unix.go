// Package unix dials a unix domain socket. The host and port of the dial
// request are ignored; the socket path is fixed at construction.
package unix

import (
	"context"
	"net"
	"time"
)

type Dialer struct {
	conf Config
}

type Config struct {
	Path        string        // Socket path
	DialTimeout time.Duration // 0 for no limit
}

func NewDialer(conf Config) *Dialer {
	return &Dialer{
		conf: conf,
	}
}

func (d *Dialer) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout: d.conf.DialTimeout,
	}
	return dialer.DialContext(ctx, "unix", d.conf.Path)
}
