package client

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kbirk/tether/pkg/wire"
)

// frameHandler is invoked once per decoded request frame. Responses are
// written back through the server so writes from delayed handlers don't
// interleave.
type frameHandler func(s *testServer, conn net.Conn, id uint32, method string, args msgpack.RawMessage)

// testServer is a minimal peer speaking the wire protocol over TCP.
// A real server is out of scope for this module, so tests bring their own.
type testServer struct {
	t        testing.TB
	listener net.Listener
	handler  frameHandler

	mu      sync.Mutex
	writeMu sync.Mutex
	conns   []net.Conn
	closed  bool
}

func newTestServer(t testing.TB, handler frameHandler) *testServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{
		t:        t,
		listener: listener,
		handler:  handler,
	}
	go s.acceptLoop()
	return s
}

func (s *testServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *testServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.serveConn(conn)
	}
}

func (s *testServer) serveConn(conn net.Conn) {
	dec := wire.NewDecoder(wire.DefaultBufferSize)
	for {
		buf := dec.Buffer(wire.DefaultBufferSize)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		dec.Advance(n)
		for {
			frame, err := dec.Next()
			if err != nil || frame == nil {
				if err != nil {
					return
				}
				break
			}
			method, args, err := wire.DecodeRequest(frame)
			if err != nil {
				return
			}
			s.handler(s, conn, frame.ID, method, args)
		}
	}
}

// send writes a pre-encoded frame to conn, serializing concurrent handlers.
func (s *testServer) send(conn net.Conn, bs []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.Write(bs)
}

func (s *testServer) sendResult(conn net.Conn, id uint32, result interface{}) {
	bs, err := wire.EncodeResult(id, result)
	require.NoError(s.t, err)
	s.send(conn, bs)
}

func (s *testServer) sendError(conn net.Conn, id uint32, payload interface{}) {
	bs, err := wire.EncodeError(id, payload)
	require.NoError(s.t, err)
	s.send(conn, bs)
}

func (s *testServer) close() {
	s.mu.Lock()
	s.closed = true
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	s.listener.Close()
	for _, conn := range conns {
		conn.Close()
	}
}

// echoHandler responds to "echo" with the first argument, to "fail" with an
// error payload, and swallows "slow" without replying.
func echoHandler(s *testServer, conn net.Conn, id uint32, method string, args msgpack.RawMessage) {
	switch method {
	case "echo":
		var decoded []interface{}
		require.NoError(s.t, msgpack.Unmarshal(args, &decoded))
		require.NotEmpty(s.t, decoded)
		s.sendResult(conn, id, decoded[0])
	case "fail":
		s.sendError(conn, id, "something went wrong")
	case "slow":
		// No reply; the caller is expected to time out.
	}
}
