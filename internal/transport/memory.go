package transport

import (
	"sync"

	"github.com/pkg/errors"
)

// Network is an in-process registry of participants, used by tests and
// the single-process demo in place of real sockets. Send on one
// participant delivers straight to the destination's registered handler
// on its own goroutine, simulating the async, order-agnostic delivery a
// real TCP transport provides without the overhead of actual sockets.
type Network struct {
	mu       sync.RWMutex
	handlers map[string]func([]byte)
}

// NewNetwork returns an empty registry.
func NewNetwork() *Network {
	return &Network{handlers: make(map[string]func([]byte))}
}

// Sender returns a Sender that delivers through this network.
func (n *Network) Sender() Sender {
	return (*networkSender)(n)
}

// Receiver returns a Receiver bound to addr within this network.
func (n *Network) Receiver(addr string) Receiver {
	return &memoryReceiver{network: n, addr: addr}
}

func (n *Network) register(addr string, handler func([]byte)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[addr] = handler
}

func (n *Network) deregister(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, addr)
}

type networkSender Network

// Send copies payload and hands it to addr's registered handler on a
// fresh goroutine, so a slow or wedged handler never blocks the caller.
func (s *networkSender) Send(addr string, payload []byte) error {
	n := (*Network)(s)
	n.mu.RLock()
	h, ok := n.handlers[addr]
	n.mu.RUnlock()
	if !ok {
		return ErrUnknownDestination
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	go h(cp)
	return nil
}

type memoryReceiver struct {
	network *Network
	addr    string
	mu      sync.Mutex
	closed  bool
	done    chan struct{}
}

// Serve registers handler for this receiver's address and blocks until
// Close is called.
func (r *memoryReceiver) Serve(handler func([]byte)) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errClosed
	}
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.network.register(r.addr, handler)
	<-r.done
	return errClosed
}

// Close deregisters the handler and unblocks Serve.
func (r *memoryReceiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.network.deregister(r.addr)
	if r.done != nil {
		close(r.done)
	}
	return nil
}

var errClosed = errors.New("transport: receiver closed")
