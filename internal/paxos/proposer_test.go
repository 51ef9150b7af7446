package paxos

import (
	"sync"
	"time"

	"gopkg.in/check.v1"

	"github.com/senutpal/legislature/internal/storage"
)

type ProposerSuite struct {
	self     Replica
	peers    []Replica
	replicas *ReplicaSet
	proposer *Proposer

	mu   sync.Mutex
	sent []Message
}

var _ = check.Suite(&ProposerSuite{})

func (s *ProposerSuite) SetUpTest(c *check.C) {
	s.self = Replica{Host: "a", Port: 1}
	s.peers = []Replica{{Host: "b", Port: 2}, {Host: "c", Port: 3}}
	s.replicas = NewReplicaSet(append([]Replica{s.self}, s.peers...)...)
	s.mu.Lock()
	s.sent = nil
	s.mu.Unlock()

	p, err := NewProposer(ProposerConfig{
		Self:                 s.self,
		Replicas:             s.replicas,
		HighestProposedField: storage.NewMemoryField(),
		Pause:                NoPause{},
		RetryInterval:        10 * time.Millisecond,
		Send: func(m Message) {
			s.mu.Lock()
			s.sent = append(s.sent, m)
			s.mu.Unlock()
		},
	})
	c.Assert(err, check.IsNil)
	s.proposer = p
}

func (s *ProposerSuite) snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *ProposerSuite) waitForType(c *check.C, t MessageType) []Message {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		var matches []Message
		for _, m := range s.snapshot() {
			if m.Type == t {
				matches = append(matches, m)
			}
		}
		if len(matches) > 0 {
			return matches
		}
		time.Sleep(time.Millisecond)
	}
	c.Fatalf("timed out waiting for a %s message", t)
	return nil
}

func (s *ProposerSuite) TestRequestBroadcastsPrepare(c *check.C) {
	s.proposer.Request([]byte("law"), UserDecree)
	prepares := s.waitForType(c, PrepareMessage)
	c.Assert(len(prepares) >= 1, check.Equals, true)
	c.Assert(prepares[0].Decree.Author, check.Equals, s.self)
}

func (s *ProposerSuite) TestQuorumOfPromisesBroadcastsAccept(c *check.C) {
	s.proposer.Request([]byte("law"), UserDecree)
	s.waitForType(c, PrepareMessage)

	round := s.proposer.current
	s.proposer.HandlePromise(Message{From: s.peers[0], Decree: Decree{Number: round.Number}})
	s.proposer.HandlePromise(Message{From: s.peers[1], Decree: Decree{Number: round.Number}})

	accepts := s.waitForType(c, AcceptMessage)
	c.Assert(accepts[0].Decree.Content, check.DeepEquals, []byte("law"))
}

func (s *ProposerSuite) TestAdoptsHighestPriorAcceptedValue(c *check.C) {
	s.proposer.Request([]byte("mine"), UserDecree)
	s.waitForType(c, PrepareMessage)
	round := s.proposer.current

	s.proposer.HandlePromise(Message{From: s.peers[0], Decree: Decree{Number: round.Number, RootNumber: 99, Author: s.peers[0], Content: []byte("theirs")}})
	s.proposer.HandlePromise(Message{From: s.peers[1], Decree: Decree{Number: round.Number}})

	accepts := s.waitForType(c, AcceptMessage)
	c.Assert(accepts[0].Decree.Content, check.DeepEquals, []byte("theirs"))
}

func (s *ProposerSuite) TestQuorumOfNacksRetriesWithHigherNumber(c *check.C) {
	s.proposer.Request([]byte("law"), UserDecree)
	s.waitForType(c, PrepareMessage)
	firstRound := s.proposer.current.Number

	s.proposer.HandleNack(Message{From: s.peers[0], Decree: Decree{Number: firstRound + 5}})
	s.proposer.HandleNack(Message{From: s.peers[1], Decree: Decree{Number: firstRound + 5}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.proposer.HighestProposed().Number > firstRound {
			break
		}
		time.Sleep(time.Millisecond)
	}
	c.Assert(s.proposer.HighestProposed().Number > firstRound, check.Equals, true)
}

func (s *ProposerSuite) TestRoundTransitionDropsSupersededBookkeeping(c *check.C) {
	s.proposer.Request([]byte("law"), UserDecree)
	s.waitForType(c, PrepareMessage)
	firstRound := s.proposer.current.Number

	s.proposer.HandleNack(Message{From: s.peers[0], Decree: Decree{Number: firstRound}})
	s.proposer.HandleNack(Message{From: s.peers[1], Decree: Decree{Number: firstRound}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.proposer.mu.Lock()
		n := len(s.proposer.promiseMap)
		current := s.proposer.current.Number
		s.proposer.mu.Unlock()
		if current > firstRound {
			c.Assert(n, check.Equals, 1)
			_, stillTracked := func() (map[Replica]struct{}, bool) {
				s.proposer.mu.Lock()
				defer s.proposer.mu.Unlock()
				v, ok := s.proposer.promiseMap[firstRound]
				return v, ok
			}()
			c.Assert(stillTracked, check.Equals, false)
			return
		}
		time.Sleep(time.Millisecond)
	}
	c.Fatal("proposer never advanced past the nacked round")
}

func (s *ProposerSuite) TestResolveSignalFiresPendingWaiter(c *check.C) {
	sig := s.proposer.Request([]byte("membership change"), AddReplicaDecree)
	s.waitForType(c, PrepareMessage)
	round := s.proposer.current

	s.proposer.HandlePromise(Message{From: s.peers[0], Decree: Decree{Number: round.Number}})
	s.proposer.HandlePromise(Message{From: s.peers[1], Decree: Decree{Number: round.Number}})

	rootNumber := s.proposer.current.RootNumber
	done := make(chan bool, 1)
	go func() { done <- sig.Wait(time.Hour) }()

	s.proposer.ResolveSignal(rootNumber, true)
	select {
	case v := <-done:
		c.Assert(v, check.Equals, true)
	case <-time.After(time.Second):
		c.Fatal("signal never resolved")
	}
}
