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

// requestEntry is one pending (content, type) tuple waiting for a round
// to carry it through phase 2. signal is non-nil only for requests
// placed via Request (the in-process embedding path); requests arriving
// over the wire via HandleRequest have no local waiter.
type requestEntry struct {
	content []byte
	typ     DecreeType
	signal  *Signal
}

// Proposer drives phase 1 (prepare) and phase 2 (accept) on behalf of
// queued requests. At most one round is ever in flight per replica
// (in_progress is a test-and-set guard); everything else queues.
type Proposer struct {
	mu sync.Mutex

	self                 Replica
	replicas             *ReplicaSet
	highestProposedField storage.Field
	highestProposed      Decree

	current    Decree
	inProgress bool
	requested  []requestEntry

	promiseMap map[int64]map[Replica]struct{}
	nackMap    map[int64]map[Replica]struct{}
	adopted    map[int64]Decree // best prior-accepted value surfaced per round, if any

	highestWitnessed Decree // highest promised_decree seen in any Nack/NackTie
	pendingSignals   map[int64]*Signal // keyed by RootNumber, consumed by membership apply handlers

	pause         Pause
	retryInterval time.Duration

	send          func(Message)
	localDispatch func(Message)
	logger        log.Logger
	stats         metrics.Recorder
}

// ProposerConfig bundles a Proposer's construction-time dependencies.
type ProposerConfig struct {
	Self                 Replica
	Replicas             *ReplicaSet
	HighestProposedField storage.Field
	Pause                Pause
	RetryInterval        time.Duration
	Send                 func(Message)
	LocalDispatch        func(Message)
	Logger               log.Logger
	Stats                metrics.Recorder
}

// NewProposer constructs a Proposer, loading its durable
// highest_proposed_decree before accepting any request.
func NewProposer(cfg ProposerConfig) (*Proposer, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	if cfg.Stats == nil {
		cfg.Stats = metrics.NoopClient{}
	}
	if cfg.Pause == nil {
		cfg.Pause = NoPause{}
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	p := &Proposer{
		self:                 cfg.Self,
		replicas:             cfg.Replicas,
		highestProposedField: cfg.HighestProposedField,
		promiseMap:           make(map[int64]map[Replica]struct{}),
		nackMap:              make(map[int64]map[Replica]struct{}),
		adopted:              make(map[int64]Decree),
		pendingSignals:       make(map[int64]*Signal),
		pause:                cfg.Pause,
		retryInterval:        cfg.RetryInterval,
		send:                 cfg.Send,
		localDispatch:        cfg.LocalDispatch,
		logger:               cfg.Logger,
		stats:                cfg.Stats,
	}
	if raw, err := cfg.HighestProposedField.Get(); err == nil {
		d, derr := decodeDecree(raw)
		if derr != nil {
			return nil, errors.Wrap(derr, "paxos: decode persisted highest_proposed_decree")
		}
		p.highestProposed = d
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrap(err, "paxos: load highest_proposed_decree")
	}
	return p, nil
}

// Request is the in-process embedding entry point: it enqueues a
// (content, type) tuple and returns a Signal the caller can Wait on.
// SendProposal discards the signal (fire-and-forget); AddLegislator/
// RemoveLegislator block on it.
func (p *Proposer) Request(content []byte, typ DecreeType) *Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	sig := NewSignal(func() { p.Request(nil, UserDecree) })
	p.enqueueLocked(content, typ, sig)
	return sig
}

// HandleRequest is the wire-level ingestion point (RequestMessage): it
// enqueues the message's content/type with no local waiter.
func (p *Proposer) HandleRequest(m Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enqueueLocked(m.Decree.Content, m.Decree.Type, nil)
}

func (p *Proposer) enqueueLocked(content []byte, typ DecreeType, sig *Signal) {
	p.requested = append(p.requested, requestEntry{content: content, typ: typ, signal: sig})
	if !p.inProgress {
		p.inProgress = true
		p.openRoundLocked()
	}
}

// openRoundLocked reads highest_proposed_decree, builds a fresh round
// one greater, durably persists it before broadcasting, and sends
// Prepare to the full membership. Caller holds p.mu and has already set
// in_progress.
func (p *Proposer) openRoundLocked() {
	next := p.highestProposed.Number + 1
	if p.highestWitnessed.Number+1 > next {
		next = p.highestWitnessed.Number + 1
	}
	round := Decree{Author: p.self, Number: next, RootNumber: next, Type: UserDecree}
	if err := p.persistHighestProposedLocked(round); err != nil {
		level.Error(p.logger).Log("msg", "durable write failure persisting highest_proposed_decree", "err", err)
		return
	}
	p.current = round
	p.resetRoundBookkeepingLocked(round.Number)
	p.stats.Incr("proposer.prepare", 1)
	p.broadcastLocked(Message{From: p.self, Type: PrepareMessage, Decree: round})
}

// resetRoundBookkeepingLocked drops promise/nack/adopted-value tracking
// for every round but number: the in_progress single-flight guard means
// at most one round is ever live, so a superseded round's bookkeeping
// can never again receive a quorum and would otherwise grow these maps
// by one entry per retry for the life of the replica.
func (p *Proposer) resetRoundBookkeepingLocked(number int64) {
	for n := range p.promiseMap {
		if n != number {
			delete(p.promiseMap, n)
		}
	}
	for n := range p.nackMap {
		if n != number {
			delete(p.nackMap, n)
		}
	}
	for n := range p.adopted {
		if n != number {
			delete(p.adopted, n)
		}
	}
	p.promiseMap[number] = make(map[Replica]struct{})
}

func (p *Proposer) persistHighestProposedLocked(d Decree) error {
	raw, err := encodeDecree(d)
	if err != nil {
		return err
	}
	if err := p.highestProposedField.Put(raw); err != nil {
		return err
	}
	p.highestProposed = d
	return nil
}

func (p *Proposer) broadcastLocked(template Message) {
	for _, r := range p.replicas.Snapshot() {
		m := template
		m.To = r
		if r == p.self && p.localDispatch != nil {
			p.localDispatch(m)
			continue
		}
		go p.send(m)
	}
}

// HandlePromise records a promise toward the current round. On reaching
// quorum it pops a queued request (or adopts a prior accepted value
// surfaced by one of the promises, per the proposer safety rule) and
// broadcasts Accept.
func (p *Proposer) HandlePromise(m Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m.Decree.Number != p.current.Number {
		return // stale or foreign round; discard
	}
	set := p.promiseMap[p.current.Number]
	if set == nil {
		set = make(map[Replica]struct{})
		p.promiseMap[p.current.Number] = set
	}
	set[m.From] = struct{}{}

	// A surfaced value whose root number is below this round's belongs to
	// an earlier logical request and is not re-proposed.
	if len(m.Decree.Content) > 0 && m.Decree.RootNumber >= p.current.RootNumber {
		if best, ok := p.adopted[p.current.Number]; !ok || m.Decree.RootNumber > best.RootNumber {
			p.adopted[p.current.Number] = m.Decree
		}
	}

	if len(set) < p.replicas.Quorum() {
		return
	}

	var decree Decree
	if best, ok := p.adopted[p.current.Number]; ok {
		// Safety rule: a prior accepted value was surfaced by some
		// acceptor. Propose it, under this round's number, instead of
		// our own queued value — it may already be chosen.
		decree = Decree{Author: best.Author, Number: p.current.Number, RootNumber: best.RootNumber, Content: best.Content, Type: best.Type}
	} else if len(p.requested) > 0 {
		entry := p.requested[0]
		p.requested = p.requested[1:]
		decree = Decree{Author: p.self, Number: p.current.Number, RootNumber: p.current.RootNumber, Content: entry.content, Type: entry.typ}
		if entry.signal != nil {
			p.pendingSignals[decree.RootNumber] = entry.signal
		}
	} else {
		return
	}

	p.current = decree
	p.stats.Incr("proposer.accept", 1)
	p.broadcastLocked(Message{From: p.self, Type: AcceptMessage, Decree: decree})
}

// HandleNackTie records a phase-1 collision. On quorum it pauses, then
// retries with a strictly higher number, preserving root_number.
func (p *Proposer) HandleNackTie(m Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordNackLocked(m)
}

// HandleNack records a phase-2 rejection with the same retry policy as
// HandleNackTie; both record the highest promised_decree witnessed so
// far, and the retry numbers past it.
func (p *Proposer) HandleNack(m Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordNackLocked(m)
}

func (p *Proposer) recordNackLocked(m Message) {
	if m.Decree.Number < p.current.Number {
		return
	}
	if IsDecreeHigher(m.Decree, p.highestWitnessed) {
		p.highestWitnessed = m.Decree
	}
	set := p.nackMap[p.current.Number]
	if set == nil {
		set = make(map[Replica]struct{})
		p.nackMap[p.current.Number] = set
	}
	set[m.From] = struct{}{}
	if len(set) < p.replicas.Quorum() {
		return
	}
	delete(p.nackMap, p.current.Number)
	p.stats.Incr("proposer.retry", 1)
	p.pause.Start(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.retryLocked()
	})
}

func (p *Proposer) retryLocked() {
	number := p.highestProposed.Number
	if p.highestWitnessed.Number >= number {
		number = p.highestWitnessed.Number
	}
	number++
	round := Decree{Author: p.self, Number: number, RootNumber: p.current.RootNumber, Type: p.current.Type}
	if err := p.persistHighestProposedLocked(round); err != nil {
		level.Error(p.logger).Log("msg", "durable write failure persisting highest_proposed_decree", "err", err)
		return
	}
	p.current = round
	p.resetRoundBookkeepingLocked(round.Number)
	p.stats.Incr("proposer.prepare", 1)
	p.broadcastLocked(Message{From: p.self, Type: PrepareMessage, Decree: round})
}

// HandleResume is invoked once this replica's own commit completes
// (signaled by the ledger apply path, via the Parliament's local
// dispatch, not over the network). It drains the next queued request if
// any, otherwise clears in_progress.
func (p *Proposer) HandleResume(m Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requested) == 0 {
		p.inProgress = false
		return
	}
	p.openRoundLocked()
}

// ResolveSignal looks up and fires the Signal waiting on rootNumber, if
// any — called by the membership apply handlers once applied.
func (p *Proposer) ResolveSignal(rootNumber int64, ok bool) {
	p.mu.Lock()
	sig, found := p.pendingSignals[rootNumber]
	if found {
		delete(p.pendingSignals, rootNumber)
	}
	p.mu.Unlock()
	if found {
		sig.Set(ok)
	}
}

// RetryInterval returns the configured Signal.Wait retry interval.
func (p *Proposer) RetryInterval() time.Duration {
	return p.retryInterval
}

// HighestProposed returns a copy of the proposer's durable high-water
// mark, for tests and diagnostics.
func (p *Proposer) HighestProposed() Decree {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highestProposed
}
