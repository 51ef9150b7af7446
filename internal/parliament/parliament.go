// Package parliament wires the five paxos role engines — Proposer,
// Acceptor, Learner, Updater, and the membership apply handlers — to a
// shared Ledger, ReplicaSet, and transport.Sender, and dispatches
// inbound messages to the right role by type (spec §2's Receiver
// demultiplexing, §9's "dynamic dispatch by message type" design note).
// It does not own a Receiver. It is the Go counterpart of the teacher's
// single-process internal/node.Node, generalized from one chosen-value
// instance to the full decree-ledger machine, and of original_source's
// roles.cpp message wiring.
package parliament

import (
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/senutpal/legislature/internal/bootstrap"
	"github.com/senutpal/legislature/internal/metrics"
	"github.com/senutpal/legislature/internal/paxos"
	"github.com/senutpal/legislature/internal/storage"
	"github.com/senutpal/legislature/internal/transport"
)

// Config bundles every collaborator needed to assemble a Parliament.
type Config struct {
	Self    paxos.Replica
	Members []paxos.Replica

	LedgerQueue          storage.Queue
	PromisedField        storage.Field
	AcceptedField        storage.Field
	HighestProposedField storage.Field
	ReplicaSetField      storage.Field

	Sender     transport.Sender
	Transferer bootstrap.Transferer

	// UserHandler is invoked, under the ledger lock, for every committed
	// UserDecree. Must be short and non-blocking (spec §9).
	UserHandler func(content []byte) error

	LeaseWindow   time.Duration
	RetryInterval time.Duration
	Pause         paxos.Pause
	IsObserver    bool

	Logger log.Logger
	Stats  metrics.Recorder
}

// Parliament is one replica's full set of role engines, wired together
// and ready to serve inbound messages via Dispatch.
type Parliament struct {
	self     paxos.Replica
	replicas *paxos.ReplicaSet
	ledger   *paxos.Ledger

	proposer   *paxos.Proposer
	acceptor   *paxos.Acceptor
	learner    *paxos.Learner
	updater    *paxos.Updater
	membership *paxos.MembershipHandlers

	send   transport.Sender
	logger log.Logger

	retryInterval time.Duration
}

// New constructs a Parliament, replays the ledger, and returns it ready
// to Dispatch messages. It does not start a Receiver; callers pass
// HandleInbound to whatever Receiver they choose (TCP or in-memory), or
// call Dispatch directly.
func New(cfg Config) (*Parliament, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	if cfg.Stats == nil {
		cfg.Stats = metrics.NoopClient{}
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}

	p := &Parliament{
		self:          cfg.Self,
		replicas:      paxos.NewReplicaSet(cfg.Members...),
		send:          cfg.Sender,
		logger:        cfg.Logger,
		retryInterval: cfg.RetryInterval,
	}

	p.ledger = paxos.NewLedger(cfg.LedgerQueue, log.With(cfg.Logger, "role", "ledger"))

	var err error
	p.proposer, err = paxos.NewProposer(paxos.ProposerConfig{
		Self:                 cfg.Self,
		Replicas:             p.replicas,
		HighestProposedField: cfg.HighestProposedField,
		Pause:                cfg.Pause,
		RetryInterval:        cfg.RetryInterval,
		Send:                 p.deliver,
		Logger:               log.With(cfg.Logger, "role", "proposer"),
		Stats:                cfg.Stats,
	})
	if err != nil {
		return nil, errors.Wrap(err, "parliament: construct proposer")
	}

	p.acceptor, err = paxos.NewAcceptor(cfg.Self, cfg.PromisedField, cfg.AcceptedField, cfg.LeaseWindow, p.deliver, log.With(cfg.Logger, "role", "acceptor"), cfg.Stats)
	if err != nil {
		return nil, errors.Wrap(err, "parliament: construct acceptor")
	}

	p.learner = paxos.NewLearner(paxos.LearnerConfig{
		Self:     cfg.Self,
		Replicas: p.replicas,
		Ledger:   p.ledger,
		Send:     p.deliver,
		OnLocalCommit: func(d paxos.Decree) {
			p.deliver(paxos.Message{From: cfg.Self, To: cfg.Self, Type: paxos.ResumeMessage})
		},
		Logger: log.With(cfg.Logger, "role", "learner"),
		Stats:  cfg.Stats,
	})
	p.learner.SetObserver(cfg.IsObserver)

	p.updater = paxos.NewUpdater(cfg.Self, p.ledger)

	p.membership = paxos.NewMembershipHandlers(paxos.MembershipHandlersConfig{
		Self:         cfg.Self,
		Replicas:     p.replicas,
		ReplicaField: cfg.ReplicaSetField,
		Transferer:   cfg.Transferer,
		Snapshot: func() ([]bootstrap.File, error) {
			return paxos.BuildBootstrapSnapshot(cfg.LedgerQueue, cfg.PromisedField, cfg.AcceptedField, cfg.HighestProposedField, cfg.ReplicaSetField)
		},
		Resolve: p.proposer.ResolveSignal,
		Logger:  log.With(cfg.Logger, "role", "membership"),
		Stats:   cfg.Stats,
	})

	p.ledger.RegisterHandler(paxos.AddReplicaDecree, p.membership.HandleAddReplica)
	p.ledger.RegisterHandler(paxos.RemoveReplicaDecree, p.membership.HandleRemoveReplica)
	if cfg.UserHandler != nil {
		p.ledger.RegisterHandler(paxos.UserDecree, func(d paxos.Decree) error {
			return cfg.UserHandler(d.Content)
		})
	}
	if err := p.ledger.Replay(); err != nil {
		return nil, errors.Wrap(err, "parliament: replay ledger")
	}

	return p, nil
}

// deliver routes m either back into this Parliament's own Dispatch (if
// addressed to self), out over the transport (if addressed to one
// peer), or to every current member (if m carries no destination, the
// convention the learner's gap-fill UpdateMessage uses to mean "ask the
// cluster"). It always runs asynchronously so a role holding its own
// lock never blocks on I/O or re-enters itself synchronously.
func (p *Parliament) deliver(m paxos.Message) {
	if m.Type == paxos.InvalidMessage {
		return // the zero Message{} sentinel for "no reply"
	}
	if m.To.IsZero() {
		for _, r := range p.replicas.Snapshot() {
			addressed := m
			addressed.To = r
			p.deliver(addressed)
		}
		return
	}
	go func() {
		if m.To == p.self {
			p.Dispatch(m)
			return
		}
		payload, err := paxos.Encode(m)
		if err != nil {
			level.Error(p.logger).Log("msg", "failed to encode outbound message", "type", m.Type, "err", err)
			return
		}
		if err := p.send.Send(m.To.String(), payload); err != nil {
			level.Warn(p.logger).Log("msg", "send failed", "to", m.To, "type", m.Type, "err", err)
		}
	}()
}

// knownPeer reports whether from may influence this replica's state:
// current members, plus self (loopback messages).
func (p *Parliament) knownPeer(from paxos.Replica) bool {
	return from == p.self || p.replicas.Contains(from)
}

// Dispatch fans an inbound (or looped-back) Message out to the role
// handler registered for its type, per spec §2's Receiver and §7's
// unknown-peer isolation rule.
func (p *Parliament) Dispatch(m paxos.Message) {
	switch m.Type {
	case paxos.RequestMessage:
		if !p.knownPeer(m.From) {
			return
		}
		p.proposer.HandleRequest(m)
	case paxos.PrepareMessage:
		if !p.knownPeer(m.From) {
			return
		}
		p.deliver(p.acceptor.HandlePrepare(m))
	case paxos.PromiseMessage:
		if !p.knownPeer(m.From) {
			return
		}
		p.proposer.HandlePromise(m)
	case paxos.NackTieMessage:
		if !p.knownPeer(m.From) {
			return
		}
		p.proposer.HandleNackTie(m)
	case paxos.AcceptMessage:
		if !p.knownPeer(m.From) {
			return
		}
		p.deliver(p.acceptor.HandleAccept(m, p.replicas.Snapshot()))
	case paxos.NackMessage:
		if !p.knownPeer(m.From) {
			return
		}
		p.proposer.HandleNack(m)
	case paxos.AcceptedMessage:
		if !p.knownPeer(m.From) {
			return
		}
		p.learner.HandleAccepted(m)
	case paxos.ResumeMessage:
		if !p.knownPeer(m.From) {
			return
		}
		p.proposer.HandleResume(m)
	case paxos.UpdateMessage:
		if !p.knownPeer(m.From) {
			return
		}
		p.deliver(p.updater.HandleUpdate(m))
	case paxos.UpdatedMessage:
		if !p.knownPeer(m.From) {
			return
		}
		p.learner.HandleUpdated(m)
	default:
		level.Warn(p.logger).Log("msg", "dropping message of unrecognized type", "type", m.Type, "from", m.From)
	}
}

// HandleInbound decodes a raw wire payload and dispatches it; this is
// the function a transport.Receiver's Serve handler should call.
func (p *Parliament) HandleInbound(payload []byte) {
	m, err := paxos.Decode(payload)
	if err != nil {
		level.Warn(p.logger).Log("msg", "failed to decode inbound message", "err", err)
		return
	}
	p.Dispatch(m)
}

// SendProposal is the fire-and-forget embedding entry point: it queues
// content as a UserDecree. Delivery is observed via the UserHandler
// registered at construction.
func (p *Parliament) SendProposal(content []byte) {
	p.proposer.Request(content, paxos.UserDecree)
}

// AddLegislator proposes an AddReplicaDecree and blocks until it is
// applied (or the caller's patience for retries runs out — Wait never
// gives up on its own).
func (p *Parliament) AddLegislator(host string, port int, remoteDirectory string) (bool, error) {
	content, err := paxos.EncodeAddReplica(p.self, paxos.Replica{Host: host, Port: port}, remoteDirectory)
	if err != nil {
		return false, errors.Wrap(err, "parliament: encode add-replica request")
	}
	sig := p.proposer.Request(content, paxos.AddReplicaDecree)
	return sig.Wait(p.retryInterval), nil
}

// RemoveLegislator proposes a RemoveReplicaDecree and blocks until applied.
func (p *Parliament) RemoveLegislator(host string, port int) (bool, error) {
	content, err := paxos.EncodeRemoveReplica(p.self, paxos.Replica{Host: host, Port: port})
	if err != nil {
		return false, errors.Wrap(err, "parliament: encode remove-replica request")
	}
	sig := p.proposer.Request(content, paxos.RemoveReplicaDecree)
	return sig.Wait(p.retryInterval), nil
}

// SetActive marks this replica's learner as a full voting participant.
func (p *Parliament) SetActive() { p.learner.SetObserver(false) }

// SetInactive marks this replica's learner as an observer: it tracks
// accepted decrees but never appends to its own ledger.
func (p *Parliament) SetInactive() { p.learner.SetObserver(true) }

// GetLegislators returns the current membership view.
func (p *Parliament) GetLegislators() []paxos.Replica { return p.replicas.Snapshot() }

// GetAbsenteeBallots reports, for the most recent maxN decrees, which
// current members have not yet voted Accepted.
func (p *Parliament) GetAbsenteeBallots(maxN int) map[paxos.DecreeKey][]paxos.Replica {
	return p.learner.GetAbsenteeBallots(maxN)
}

// Ledger exposes the committed decree sequence, read-only, for
// diagnostics and tests.
func (p *Parliament) Ledger() *paxos.Ledger { return p.ledger }

// Self returns this Parliament's own replica identity.
func (p *Parliament) Self() paxos.Replica { return p.self }

// Addr formats a paxos wire address for a Replica ("host:port").
func Addr(r paxos.Replica) string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }
