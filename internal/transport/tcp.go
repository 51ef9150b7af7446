package transport

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// TCPSender dials a fresh connection per Send, writes the payload, and
// half-closes so the peer's read loop observes end-of-stream as
// end-of-message, per the wire protocol's one-message-per-connection
// contract.
type TCPSender struct {
	DialTimeout time.Duration
}

// Send delivers payload to addr over a new TCP connection.
func (s *TCPSender) Send(addr string, payload []byte) error {
	timeout := s.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return errors.Wrap(err, "transport: dial")
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return errors.Wrap(err, "transport: write")
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	return nil
}

// TCPReceiver accepts connections on a bound listener; each connection
// is read to completion (one message) and handed to the Serve handler
// on its own goroutine.
type TCPReceiver struct {
	ln net.Listener
}

// ListenTCP binds addr (e.g. "0.0.0.0:6000") and returns a Receiver.
func ListenTCP(addr string) (*TCPReceiver, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "transport: listen")
	}
	return &TCPReceiver{ln: ln}, nil
}

// Addr returns the receiver's bound network address.
func (r *TCPReceiver) Addr() net.Addr {
	return r.ln.Addr()
}

// Serve accepts connections until Close is called, reading each to
// completion and invoking handler with the full payload.
func (r *TCPReceiver) Serve(handler func(payload []byte)) error {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return errors.Wrap(err, "transport: accept")
		}
		go func(c net.Conn) {
			defer c.Close()
			payload, err := io.ReadAll(c)
			if err != nil {
				return
			}
			handler(payload)
		}(conn)
	}
}

// Close stops accepting new connections; Serve's Accept loop then
// returns an error the caller should treat as expected shutdown.
func (r *TCPReceiver) Close() error {
	return r.ln.Close()
}
