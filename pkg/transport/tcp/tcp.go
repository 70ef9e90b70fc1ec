package tcp

import (
	"context"
	"net"
	"strconv"
	"time"
)

// Dialer implements transport.Dialer for plain TCP.
type Dialer struct {
	conf Config
}

type Config struct {
	NoDelay     bool          // Disable Nagle's algorithm for better latency
	KeepAlive   time.Duration // Keep-alive probe interval (0 for OS default)
	DialTimeout time.Duration // Per-attempt dial timeout (0 for no limit)
}

func NewDialer(conf Config) *Dialer {
	return &Dialer{
		conf: conf,
	}
}

func (d *Dialer) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   d.conf.DialTimeout,
		KeepAlive: d.conf.KeepAlive,
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(d.conf.NoDelay); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return conn, nil
}
