package paxos

import (
	"container/heap"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/senutpal/legislature/internal/metrics"
)

// decreeHeap is a min-heap of decrees ordered by RootNumber, backing
// tracked_future_decrees: decrees accepted ahead of the ledger's current
// tail, waiting for the gap to close.
type decreeHeap []Decree

func (h decreeHeap) Len() int            { return len(h) }
func (h decreeHeap) Less(i, j int) bool  { return h[i].RootNumber < h[j].RootNumber }
func (h decreeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *decreeHeap) Push(x interface{}) { *h = append(*h, x.(Decree)) }
func (h *decreeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type votes struct {
	decree Decree
	voters map[Replica]struct{}
}

// Learner tracks accept-quorum progress, delivers chosen decrees to the
// ledger in strict root-number order, and detects gaps left by a
// lagging replica.
type Learner struct {
	mu sync.Mutex

	self       Replica
	replicas   *ReplicaSet
	ledger     *Ledger
	isObserver bool

	accepted map[DecreeKey]*votes
	order    []DecreeKey // insertion order, bounded, for GetAbsenteeBallots and pruning
	future   decreeHeap

	// retention bounds how many trailing accepted-map entries survive
	// ledger advancement, so GetAbsenteeBallots can still report on
	// recently-committed positions instead of losing their vote sets
	// the instant they're superseded by the tail.
	retention int

	send          func(Message)
	onLocalCommit func(Decree)
	logger        log.Logger
	stats         metrics.Recorder
}

// LearnerConfig bundles a Learner's construction-time dependencies.
type LearnerConfig struct {
	Self          Replica
	Replicas      *ReplicaSet
	Ledger        *Ledger
	Retention     int
	Send          func(Message)
	OnLocalCommit func(Decree)
	Logger        log.Logger
	Stats         metrics.Recorder
}

// NewLearner constructs a Learner.
func NewLearner(cfg LearnerConfig) *Learner {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	if cfg.Stats == nil {
		cfg.Stats = metrics.NoopClient{}
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 1024
	}
	return &Learner{
		self:          cfg.Self,
		replicas:      cfg.Replicas,
		ledger:        cfg.Ledger,
		accepted:      make(map[DecreeKey]*votes),
		retention:     cfg.Retention,
		send:          cfg.Send,
		onLocalCommit: cfg.OnLocalCommit,
		logger:        cfg.Logger,
		stats:         cfg.Stats,
	}
}

// SetObserver flips is_observer: an observing learner tracks accepted
// decrees but never appends to its own ledger.
func (l *Learner) SetObserver(observer bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isObserver = observer
}

func (l *Learner) nextRootLocked() int64 {
	if tail, ok := l.ledger.Tail(); ok {
		return tail.RootNumber + 1
	}
	return 1
}

// HandleAccepted tallies an Accepted vote. On reaching quorum for a
// decree whose root-number is exactly the ledger's next slot, it's
// appended and the future-decree heap is drained of anything now
// contiguous. A quorum reached ahead of the ledger is tracked and
// triggers an UpdateMessage asking for the missing range.
func (l *Learner) HandleAccepted(m Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.replicas.Contains(m.From) {
		return // unknown-peer isolation
	}
	l.recordVoteLocked(m.Decree, m.From)
	l.maybeAdvanceLocked(m.Decree)
}

// HandleUpdated applies a peer's catch-up reply with the same
// gap-or-append rule, bypassing quorum bookkeeping since it's a direct
// answer from one peer, not a vote.
func (l *Learner) HandleUpdated(m Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isObserver {
		return
	}
	next := l.nextRootLocked()
	switch {
	case m.Decree.RootNumber == next:
		l.appendAndDrainLocked(m.Decree)
	case m.Decree.RootNumber > next:
		l.pushFutureLocked(m.Decree)
	}
}

func (l *Learner) recordVoteLocked(d Decree, from Replica) {
	key := d.Key()
	v, ok := l.accepted[key]
	if !ok {
		v = &votes{decree: d, voters: make(map[Replica]struct{})}
		l.accepted[key] = v
		l.order = append(l.order, key)
		l.pruneLocked()
	}
	v.voters[from] = struct{}{}
}

func (l *Learner) pruneLocked() {
	if len(l.order) <= l.retention {
		return
	}
	drop := l.order[:len(l.order)-l.retention]
	l.order = l.order[len(l.order)-l.retention:]
	for _, k := range drop {
		delete(l.accepted, k)
	}
}

func (l *Learner) maybeAdvanceLocked(d Decree) {
	v := l.accepted[d.Key()]
	if v == nil || len(v.voters) < l.replicas.Quorum() {
		return
	}
	next := l.nextRootLocked()
	switch {
	case d.RootNumber == next:
		if l.isObserver {
			return
		}
		l.appendAndDrainLocked(d)
	case d.RootNumber > next:
		l.pushFutureLocked(d)
	}
}

func (l *Learner) appendAndDrainLocked(d Decree) {
	ok, err := l.ledger.Append(d)
	if err != nil {
		level.Error(l.logger).Log("msg", "ledger append failed", "err", err)
		return
	}
	if !ok {
		return
	}
	l.stats.Incr("learner.committed", 1)
	if d.Author == l.self && l.onLocalCommit != nil {
		l.onLocalCommit(d)
	}
	for l.future.Len() > 0 {
		next := l.nextRootLocked()
		if l.future[0].RootNumber != next {
			break
		}
		future := heap.Pop(&l.future).(Decree)
		ok, err := l.ledger.Append(future)
		if err != nil {
			level.Error(l.logger).Log("msg", "ledger append failed draining future decrees", "err", err)
			return
		}
		if ok {
			l.stats.Incr("learner.committed", 1)
			if future.Author == l.self && l.onLocalCommit != nil {
				l.onLocalCommit(future)
			}
		}
	}
}

func (l *Learner) pushFutureLocked(d Decree) {
	for _, f := range l.future {
		if f.RootNumber == d.RootNumber {
			return // already tracked
		}
	}
	heap.Push(&l.future, d)
	tail, _ := l.ledger.Tail()
	l.stats.Incr("learner.gap_detected", 1)
	l.send(Message{From: l.self, Type: UpdateMessage, Decree: tail})
}

// GetAbsenteeBallots reports, for the most recent maxN decrees the
// learner has tallied votes for, which current members have not yet
// sent an Accepted. Go map keys must be comparable, so decrees are
// identified by DecreeKey rather than by the (non-comparable, due to
// []byte Content) Decree value itself.
func (l *Learner) GetAbsenteeBallots(maxN int) map[DecreeKey][]Replica {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := 0
	if len(l.order) > maxN {
		start = len(l.order) - maxN
	}
	result := make(map[DecreeKey][]Replica)
	for _, key := range l.order[start:] {
		v := l.accepted[key]
		var absentees []Replica
		for _, r := range l.replicas.Snapshot() {
			if _, ok := v.voters[r]; !ok {
				absentees = append(absentees, r)
			}
		}
		result[key] = absentees
	}
	return result
}

// DecreeFor recovers the full Decree recorded for a DecreeKey returned
// by GetAbsenteeBallots, if it's still tracked.
func (l *Learner) DecreeFor(key DecreeKey) (Decree, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.accepted[key]
	if !ok {
		return Decree{}, false
	}
	return v.decree, true
}
