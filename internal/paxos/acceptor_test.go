package paxos

import (
	"gopkg.in/check.v1"

	"github.com/senutpal/legislature/internal/storage"
)

type AcceptorSuite struct {
	self     Replica
	proposer Replica
	acceptor *Acceptor
	sent     []Message
}

var _ = check.Suite(&AcceptorSuite{})

func (s *AcceptorSuite) SetUpTest(c *check.C) {
	s.self = Replica{Host: "acceptor", Port: 1}
	s.proposer = Replica{Host: "proposer", Port: 2}
	s.sent = nil
	a, err := NewAcceptor(s.self, storage.NewMemoryField(), storage.NewMemoryField(), 0, func(m Message) {
		s.sent = append(s.sent, m)
	}, nil, nil)
	c.Assert(err, check.IsNil)
	s.acceptor = a
}

func (s *AcceptorSuite) TestHandlePrepareHigherPromises(c *check.C) {
	reply := s.acceptor.HandlePrepare(Message{From: s.proposer, Decree: Decree{Number: 1, Author: s.proposer}})
	c.Assert(reply.Type, check.Equals, PromiseMessage)
	c.Assert(reply.Decree.Content, check.IsNil)
	c.Assert(s.acceptor.Promised().Number, check.Equals, int64(1))
}

func (s *AcceptorSuite) TestHandlePrepareLowerNacks(c *check.C) {
	s.acceptor.HandlePrepare(Message{From: s.proposer, Decree: Decree{Number: 5, Author: s.proposer}})
	reply := s.acceptor.HandlePrepare(Message{From: s.proposer, Decree: Decree{Number: 3, Author: s.proposer}})
	c.Assert(reply.Type, check.Equals, NackMessage)
	c.Assert(reply.Decree.Number, check.Equals, int64(5))
}

func (s *AcceptorSuite) TestHandlePrepareTieFromDifferentAuthorNackTies(c *check.C) {
	s.acceptor.HandlePrepare(Message{From: s.proposer, Decree: Decree{Number: 5, Author: s.proposer}})
	other := Replica{Host: "other", Port: 3}
	reply := s.acceptor.HandlePrepare(Message{From: other, Decree: Decree{Number: 5, Author: other}})
	c.Assert(reply.Type, check.Equals, NackTieMessage)
}

func (s *AcceptorSuite) TestHandlePrepareSurfacesAcceptedValue(c *check.C) {
	s.acceptor.HandlePrepare(Message{From: s.proposer, Decree: Decree{Number: 1, Author: s.proposer}})
	s.acceptor.HandleAccept(Message{From: s.proposer, Decree: Decree{Number: 1, Author: s.proposer, Content: []byte("v")}}, nil)

	reply := s.acceptor.HandlePrepare(Message{From: s.proposer, Decree: Decree{Number: 2, Author: s.proposer}})
	c.Assert(reply.Type, check.Equals, PromiseMessage)
	c.Assert(reply.Decree.Content, check.DeepEquals, []byte("v"))
}

func (s *AcceptorSuite) TestHandleAcceptBroadcastsToMembership(c *check.C) {
	s.acceptor.HandlePrepare(Message{From: s.proposer, Decree: Decree{Number: 1, Author: s.proposer}})
	members := []Replica{s.self, s.proposer, {Host: "third", Port: 3}}
	reply := s.acceptor.HandleAccept(Message{From: s.proposer, Decree: Decree{Number: 1, Author: s.proposer, Content: []byte("v")}}, members)

	c.Assert(reply.Type, check.Equals, InvalidMessage)
	c.Assert(len(s.sent), check.Equals, 3)
	for _, m := range s.sent {
		c.Assert(m.Type, check.Equals, AcceptedMessage)
		c.Assert(m.Decree.Content, check.DeepEquals, []byte("v"))
	}
}

func (s *AcceptorSuite) TestHandleAcceptNacksBelowPromised(c *check.C) {
	s.acceptor.HandlePrepare(Message{From: s.proposer, Decree: Decree{Number: 5, Author: s.proposer}})
	reply := s.acceptor.HandleAccept(Message{From: s.proposer, Decree: Decree{Number: 3, Author: s.proposer}}, nil)
	c.Assert(reply.Type, check.Equals, NackMessage)
	c.Assert(len(s.sent), check.Equals, 0)
}
