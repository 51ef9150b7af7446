package paxos

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/senutpal/legislature/internal/metrics"
	"github.com/senutpal/legislature/internal/storage"
)

// Acceptor enforces the Paxos safety rules with durable state: it never
// forgets a promise or an accepted value across a crash.
type Acceptor struct {
	mu sync.Mutex

	self  Replica
	promisedField storage.Field
	acceptedField storage.Field
	promised Decree
	accepted Decree

	leaseWindow time.Duration
	leaseTimer  *time.Timer

	send   func(Message)
	logger log.Logger
	stats  metrics.Recorder
}

// NewAcceptor constructs an Acceptor, loading any durable promised/
// accepted state before serving any message.
func NewAcceptor(self Replica, promisedField, acceptedField storage.Field, leaseWindow time.Duration, send func(Message), logger log.Logger, stats metrics.Recorder) (*Acceptor, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if stats == nil {
		stats = metrics.NoopClient{}
	}
	a := &Acceptor{
		self:          self,
		promisedField: promisedField,
		acceptedField: acceptedField,
		leaseWindow:   leaseWindow,
		send:          send,
		logger:        logger,
		stats:         stats,
	}
	if raw, err := promisedField.Get(); err == nil {
		d, derr := decodeDecree(raw)
		if derr != nil {
			return nil, errors.Wrap(derr, "paxos: decode persisted promised_decree")
		}
		a.promised = d
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrap(err, "paxos: load promised_decree")
	}
	if raw, err := acceptedField.Get(); err == nil {
		d, derr := decodeDecree(raw)
		if derr != nil {
			return nil, errors.Wrap(derr, "paxos: decode persisted accepted_decree")
		}
		a.accepted = d
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrap(err, "paxos: load accepted_decree")
	}
	return a, nil
}

func (a *Acceptor) persistPromised(d Decree) error {
	raw, err := encodeDecree(d)
	if err != nil {
		return err
	}
	return a.promisedField.Put(raw)
}

func (a *Acceptor) persistAccepted(d Decree) error {
	raw, err := encodeDecree(d)
	if err != nil {
		return err
	}
	return a.acceptedField.Put(raw)
}

// HandlePrepare is the acceptor's phase-1 response. If m.Decree is not
// lower than promised_decree (or ties with it from the same author), it
// durably records the promise and replies with a decree that surfaces
// any previously accepted payload so the proposer can adopt it. A tie
// from a different author yields NackTie; a strictly lower round yields
// Nack.
func (a *Acceptor) HandlePrepare(m Message) Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	cmp := Compare(m.Decree, a.promised)
	switch {
	case cmp > 0 || (cmp == 0 && m.Decree.Author == a.promised.Author):
		round := Decree{Number: m.Decree.Number, RootNumber: m.Decree.RootNumber, Author: m.Decree.Author, Type: m.Decree.Type}
		if err := a.persistPromised(round); err != nil {
			level.Error(a.logger).Log("msg", "durable write failure persisting promised_decree", "err", err)
			return Message{}
		}
		a.promised = round
		a.resetLeaseLocked()

		reply := round
		if !a.accepted.IsZero() {
			reply.Content = a.accepted.Content
			reply.Type = a.accepted.Type
			reply.RootNumber = a.accepted.RootNumber
			reply.Author = a.accepted.Author
		}
		a.stats.Incr("acceptor.promise", 1)
		return Message{From: a.self, To: m.From, Type: PromiseMessage, Decree: reply}
	case cmp == 0:
		a.stats.Incr("acceptor.nacktie", 1)
		return Message{From: a.self, To: m.From, Type: NackTieMessage, Decree: a.promised}
	default:
		a.stats.Incr("acceptor.nack", 1)
		return Message{From: a.self, To: m.From, Type: NackMessage, Decree: a.promised}
	}
}

// HandleAccept is the acceptor's phase-2 response. If m.Decree is not
// lower than promised_decree, it durably advances accepted_decree and
// broadcasts AcceptedMessage to the full membership (replicas is a
// snapshot taken by the caller, since the acceptor itself doesn't hold
// the membership view).
func (a *Acceptor) HandleAccept(m Message, replicas []Replica) Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	if Compare(m.Decree, a.promised) < 0 {
		a.stats.Incr("acceptor.nack", 1)
		return Message{From: a.self, To: m.From, Type: NackMessage, Decree: a.promised}
	}

	merged := MaxDecree(a.accepted, m.Decree)
	if err := a.persistAccepted(merged); err != nil {
		level.Error(a.logger).Log("msg", "durable write failure persisting accepted_decree", "err", err)
		return Message{}
	}
	a.accepted = merged
	if IsDecreeHigher(m.Decree, a.promised) {
		round := Decree{Number: m.Decree.Number, RootNumber: m.Decree.RootNumber, Author: m.Decree.Author, Type: m.Decree.Type}
		if err := a.persistPromised(round); err != nil {
			level.Error(a.logger).Log("msg", "durable write failure persisting promised_decree", "err", err)
			return Message{}
		}
		a.promised = round
	}
	a.resetLeaseLocked()
	a.stats.Incr("acceptor.accepted", 1)

	for _, r := range replicas {
		a.send(Message{From: a.self, To: r, Type: AcceptedMessage, Decree: merged})
	}
	return Message{}
}

// resetLeaseLocked restarts the cleanup lease timer; the latest-arriving
// prepare resets it, per the documented resolution of the acceptor's
// cleanup trigger.
func (a *Acceptor) resetLeaseLocked() {
	if a.leaseWindow <= 0 {
		return
	}
	if a.leaseTimer != nil {
		a.leaseTimer.Stop()
	}
	a.leaseTimer = time.AfterFunc(a.leaseWindow, a.handleCleanup)
}

// handleCleanup resets promised_decree toward the accepted one once a
// promise has stalled past the lease window without a matching accept,
// so a new proposer can make progress.
func (a *Acceptor) handleCleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if IsDecreeHigher(a.promised, a.accepted) {
		if err := a.persistPromised(a.accepted); err != nil {
			level.Error(a.logger).Log("msg", "durable write failure during lease cleanup", "err", err)
			return
		}
		a.promised = a.accepted
		level.Debug(a.logger).Log("msg", "acceptor lease expired, reset promised_decree", "number", a.accepted.Number)
	}
}

// Promised returns a copy of the currently promised decree, for tests
// and diagnostics.
func (a *Acceptor) Promised() Decree {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.promised
}

// Accepted returns a copy of the currently accepted decree, for tests
// and diagnostics.
func (a *Acceptor) Accepted() Decree {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accepted
}
