package paxos

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/senutpal/legislature/internal/storage"
)

// ApplyHandler is invoked once a decree is durably appended to the
// ledger, still under the ledger's lock, so apply-side effects observe
// a ledger including the current decree and execute in total order.
// Handlers must be short, non-blocking, and idempotent: on crash
// recovery the ledger is re-read and handlers may be re-invoked.
type ApplyHandler func(d Decree) error

// Ledger is the durable, ordered, append-only (with head-trim for
// rollover) sequence of committed decrees.
type Ledger struct {
	mu       sync.Mutex
	queue    storage.Queue
	tail     Decree
	hasTail  bool
	handlers map[DecreeType]ApplyHandler
	logger   log.Logger
}

// NewLedger wraps a durable Queue. It does not replay persisted entries
// itself, since no apply handlers are registered yet; call Replay after
// RegisterHandler to perform crash recovery.
func NewLedger(q storage.Queue, logger log.Logger) *Ledger {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Ledger{
		queue:    q,
		handlers: make(map[DecreeType]ApplyHandler),
		logger:   logger,
	}
}

// RegisterHandler installs an apply-side handler for a decree type.
// UserDecree is bound by the embedding application; AddReplicaDecree and
// RemoveReplicaDecree are bound to the internal membership handlers.
func (l *Ledger) RegisterHandler(t DecreeType, h ApplyHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[t] = h
}

// Replay re-reads every persisted entry and re-invokes its handler,
// updating the in-memory tail cache. Call once at startup after every
// RegisterHandler call.
func (l *Ledger) Replay() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	raw, err := l.queue.All()
	if err != nil {
		return errors.Wrap(err, "paxos: replay ledger")
	}
	for _, b := range raw {
		d, err := decodeDecree(b)
		if err != nil {
			return errors.Wrap(err, "paxos: decode ledger entry during replay")
		}
		l.tail = d
		l.hasTail = true
		if h, ok := l.handlers[d.Type]; ok {
			if err := h(d); err != nil {
				level.Warn(l.logger).Log("msg", "apply handler failed during replay", "number", d.Number, "err", err)
			}
		}
	}
	return nil
}

// Append admits d only if it strictly exceeds the current tail by
// number; duplicates and out-of-order entries are discarded and logged.
// On success the type handler is invoked while the lock is still held.
func (l *Ledger) Append(d Decree) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hasTail && !IsDecreeHigher(d, l.tail) {
		level.Warn(l.logger).Log("msg", "dropping non-increasing ledger append", "number", d.Number, "tail", l.tail.Number)
		return false, nil
	}
	raw, err := encodeDecree(d)
	if err != nil {
		return false, errors.Wrap(err, "paxos: encode ledger entry")
	}
	if err := l.queue.Enqueue(raw); err != nil {
		return false, errors.Wrap(err, "paxos: durable ledger append failed")
	}
	l.tail = d
	l.hasTail = true
	if h, ok := l.handlers[d.Type]; ok {
		if err := h(d); err != nil {
			level.Warn(l.logger).Log("msg", "apply handler returned error", "number", d.Number, "err", err)
		}
	}
	return true, nil
}

// Remove pops the head entry, used by rollover.
func (l *Ledger) Remove() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.queue.Dequeue()
	if err != nil {
		return errors.Wrap(err, "paxos: ledger rollover")
	}
	return nil
}

// Tail returns the most recently appended decree.
func (l *Ledger) Tail() (Decree, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tail, l.hasTail
}

// Head returns the oldest live (not yet rolled over) decree.
func (l *Ledger) Head() (Decree, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	raw, err := l.queue.All()
	if err != nil || len(raw) == 0 {
		return Decree{}, false
	}
	d, err := decodeDecree(raw[0])
	if err != nil {
		return Decree{}, false
	}
	return d, true
}

// Next returns the first live entry whose root number strictly exceeds
// prev's.
func (l *Ledger) Next(prev Decree) (Decree, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	raw, err := l.queue.All()
	if err != nil {
		return Decree{}, false
	}
	for _, b := range raw {
		d, err := decodeDecree(b)
		if err != nil {
			continue
		}
		if d.RootNumber > prev.RootNumber {
			return d, true
		}
	}
	return Decree{}, false
}

// Size returns the number of live entries.
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, err := l.queue.Len()
	if err != nil {
		return 0
	}
	return n
}

// All returns every live entry, head to tail, for callers walking the
// full history.
func (l *Ledger) All() []Decree {
	l.mu.Lock()
	defer l.mu.Unlock()
	raw, err := l.queue.All()
	if err != nil {
		return nil
	}
	out := make([]Decree, 0, len(raw))
	for _, b := range raw {
		d, err := decodeDecree(b)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}
