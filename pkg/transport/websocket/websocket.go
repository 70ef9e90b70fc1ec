// Package websocket adapts a gorilla/websocket connection to the net.Conn
// byte stream the client engine expects. Frames are carried inside binary
// websocket messages; message boundaries are not significant to the engine.
package websocket

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer implements transport.Dialer over a websocket connection.
type Dialer struct {
	conf Config
}

type Config struct {
	Path             string      // Request path (default "/rpc")
	TLS              *tls.Config // Optional: enables wss
	HandshakeTimeout time.Duration
}

func NewDialer(conf Config) *Dialer {
	if conf.Path == "" {
		conf.Path = "/rpc"
	}
	return &Dialer{
		conf: conf,
	}
}

func (d *Dialer) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	scheme := "ws"
	if d.conf.TLS != nil {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   d.conf.Path,
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.conf.HandshakeTimeout,
		TLSClientConfig:  d.conf.TLS,
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	return &streamConn{
		conn: conn,
	}, nil
}

// streamConn presents a websocket connection as a continuous byte stream.
type streamConn struct {
	conn    *websocket.Conn
	reader  io.Reader
	writeMu sync.Mutex
}

func (c *streamConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			msgType, r, err := c.conn.NextReader()
			if err != nil {
				// A clean websocket close is a graceful end of stream.
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			// Current message exhausted; move on to the next one.
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *streamConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *streamConn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// Send a proper close frame before closing the connection.
	// Use a short deadline to avoid blocking indefinitely.
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)
	return c.conn.Close()
}

func (c *streamConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *streamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *streamConn) SetDeadline(t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.conn.SetWriteDeadline(t)
}

func (c *streamConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *streamConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
