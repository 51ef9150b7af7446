package paxos

import (
	"gopkg.in/check.v1"

	"github.com/senutpal/legislature/internal/storage"
)

type LearnerSuite struct {
	self     Replica
	replicas *ReplicaSet
	ledger   *Ledger
	learner  *Learner
	sent     []Message
	committed []Decree
}

var _ = check.Suite(&LearnerSuite{})

func (s *LearnerSuite) SetUpTest(c *check.C) {
	s.self = Replica{Host: "a", Port: 1}
	s.replicas = NewReplicaSet(
		s.self,
		Replica{Host: "b", Port: 2},
		Replica{Host: "c", Port: 3},
	)
	s.ledger = NewLedger(storage.NewMemoryQueue(), nil)
	s.sent = nil
	s.committed = nil
	s.learner = NewLearner(LearnerConfig{
		Self:     s.self,
		Replicas: s.replicas,
		Ledger:   s.ledger,
		Send:     func(m Message) { s.sent = append(s.sent, m) },
		OnLocalCommit: func(d Decree) {
			s.committed = append(s.committed, d)
		},
	})
}

func (s *LearnerSuite) TestQuorumAppendsInOrder(c *check.C) {
	d := Decree{Number: 1, RootNumber: 1, Author: s.self}
	s.learner.HandleAccepted(Message{From: s.self, Decree: d})
	s.learner.HandleAccepted(Message{From: Replica{Host: "b", Port: 2}, Decree: d})

	tail, ok := s.ledger.Tail()
	c.Assert(ok, check.Equals, true)
	c.Assert(tail.RootNumber, check.Equals, int64(1))
	c.Assert(s.committed, check.DeepEquals, []Decree{d})
}

func (s *LearnerSuite) TestUnknownPeerIsIgnored(c *check.C) {
	d := Decree{Number: 1, RootNumber: 1, Author: s.self}
	stranger := Replica{Host: "ghost", Port: 9}
	s.learner.HandleAccepted(Message{From: stranger, Decree: d})
	s.learner.HandleAccepted(Message{From: s.self, Decree: d})

	_, ok := s.ledger.Tail()
	c.Assert(ok, check.Equals, false) // only one real vote, no quorum
}

func (s *LearnerSuite) TestGapAheadOfLedgerTracksFutureAndRequestsUpdate(c *check.C) {
	ahead := Decree{Number: 5, RootNumber: 5, Author: s.self}
	s.learner.HandleAccepted(Message{From: s.self, Decree: ahead})
	s.learner.HandleAccepted(Message{From: Replica{Host: "b", Port: 2}, Decree: ahead})

	_, ok := s.ledger.Tail()
	c.Assert(ok, check.Equals, false)
	c.Assert(len(s.sent), check.Equals, 1)
	c.Assert(s.sent[0].Type, check.Equals, UpdateMessage)
}

func (s *LearnerSuite) TestDrainsFutureOnceGapCloses(c *check.C) {
	ahead := Decree{Number: 5, RootNumber: 2, Author: s.self}
	s.learner.HandleAccepted(Message{From: s.self, Decree: ahead})
	s.learner.HandleAccepted(Message{From: Replica{Host: "b", Port: 2}, Decree: ahead})

	gapFiller := Decree{Number: 1, RootNumber: 1, Author: s.self}
	s.learner.HandleAccepted(Message{From: s.self, Decree: gapFiller})
	s.learner.HandleAccepted(Message{From: Replica{Host: "b", Port: 2}, Decree: gapFiller})

	tail, ok := s.ledger.Tail()
	c.Assert(ok, check.Equals, true)
	c.Assert(tail.RootNumber, check.Equals, int64(2))
	c.Assert(len(s.committed), check.Equals, 2)
}

func (s *LearnerSuite) TestObserverNeverAppends(c *check.C) {
	s.learner.SetObserver(true)
	d := Decree{Number: 1, RootNumber: 1, Author: s.self}
	s.learner.HandleAccepted(Message{From: s.self, Decree: d})
	s.learner.HandleAccepted(Message{From: Replica{Host: "b", Port: 2}, Decree: d})

	_, ok := s.ledger.Tail()
	c.Assert(ok, check.Equals, false)
}

func (s *LearnerSuite) TestGetAbsenteeBallots(c *check.C) {
	d := Decree{Number: 1, RootNumber: 1, Author: s.self}
	s.learner.HandleAccepted(Message{From: s.self, Decree: d})

	absentees := s.learner.GetAbsenteeBallots(10)
	want := []Replica{{Host: "b", Port: 2}, {Host: "c", Port: 3}}
	c.Assert(absentees[d.Key()], check.DeepEquals, want)
}
