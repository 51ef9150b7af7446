// Package transport defines the message-delivery contract the paxos
// roles are wired against: a Sender that fires a framed payload at one
// destination address, and a Receiver that accepts inbound frames and
// hands each to a caller-supplied handler. Per the wire protocol, each
// connection carries exactly one message; end-of-stream is end-of-
// message. Framing is this package's concern (one fresh connection per
// message, with no pooling and no retry); encoding the payload itself
// belongs to the caller (internal/paxos's Encode/Decode).
package transport

import "github.com/pkg/errors"

// ErrUnknownDestination is returned by an in-memory Sender when no
// Receiver is registered for the requested address.
var ErrUnknownDestination = errors.New("transport: unknown destination")

// Sender delivers payload to addr. Send is fire-and-forget: a nil error
// only means the frame was handed to the transport, not that it was
// durably received. The in-memory Network sender returns at once;
// TCPSender blocks for the dial (bounded by DialTimeout) and the write.
// Parliament calls Send on its own goroutine per message.
type Sender interface {
	Send(addr string, payload []byte) error
}

// Receiver accepts inbound connections at its bound address and invokes
// handler with each frame's full payload, once per connection. Serve
// blocks until Close is called, at which point it returns a non-nil
// error the caller should treat as expected shutdown (not a failure).
type Receiver interface {
	Serve(handler func(payload []byte)) error
	Close() error
}
