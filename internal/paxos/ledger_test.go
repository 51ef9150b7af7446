package paxos

import (
	"gopkg.in/check.v1"

	"github.com/senutpal/legislature/internal/storage"
)

type LedgerSuite struct {
	ledger *Ledger
}

var _ = check.Suite(&LedgerSuite{})

func (s *LedgerSuite) SetUpTest(c *check.C) {
	s.ledger = NewLedger(storage.NewMemoryQueue(), nil)
}

func (s *LedgerSuite) TestAppendRejectsNonIncreasing(c *check.C) {
	ok, err := s.ledger.Append(Decree{Number: 1})
	c.Assert(err, check.IsNil)
	c.Assert(ok, check.Equals, true)

	ok, err = s.ledger.Append(Decree{Number: 1})
	c.Assert(err, check.IsNil)
	c.Assert(ok, check.Equals, false)

	tail, ok := s.ledger.Tail()
	c.Assert(ok, check.Equals, true)
	c.Assert(tail.Number, check.Equals, int64(1))
}

func (s *LedgerSuite) TestAppendInvokesHandlerUnderLock(c *check.C) {
	var seen []int64
	s.ledger.RegisterHandler(UserDecree, func(d Decree) error {
		seen = append(seen, d.Number)
		return nil
	})

	_, err := s.ledger.Append(Decree{Number: 1, Type: UserDecree})
	c.Assert(err, check.IsNil)
	_, err = s.ledger.Append(Decree{Number: 2, Type: UserDecree})
	c.Assert(err, check.IsNil)

	c.Assert(seen, check.DeepEquals, []int64{1, 2})
}

func (s *LedgerSuite) TestReplayReinvokesHandlers(c *check.C) {
	_, err := s.ledger.Append(Decree{Number: 1, Type: UserDecree, Content: []byte("a")})
	c.Assert(err, check.IsNil)
	_, err = s.ledger.Append(Decree{Number: 2, Type: UserDecree, Content: []byte("b")})
	c.Assert(err, check.IsNil)

	var applied [][]byte
	s.ledger.RegisterHandler(UserDecree, func(d Decree) error {
		applied = append(applied, d.Content)
		return nil
	})
	c.Assert(s.ledger.Replay(), check.IsNil)
	c.Assert(applied, check.DeepEquals, [][]byte{[]byte("a"), []byte("b")})
}

func (s *LedgerSuite) TestNextReturnsFirstEntryPastRoot(c *check.C) {
	_, _ = s.ledger.Append(Decree{Number: 1, RootNumber: 1})
	_, _ = s.ledger.Append(Decree{Number: 2, RootNumber: 2})
	_, _ = s.ledger.Append(Decree{Number: 3, RootNumber: 3})

	next, ok := s.ledger.Next(Decree{RootNumber: 1})
	c.Assert(ok, check.Equals, true)
	c.Assert(next.RootNumber, check.Equals, int64(2))
}

func (s *LedgerSuite) TestHeadAndSize(c *check.C) {
	_, ok := s.ledger.Head()
	c.Assert(ok, check.Equals, false)

	_, _ = s.ledger.Append(Decree{Number: 1})
	_, _ = s.ledger.Append(Decree{Number: 2})
	head, ok := s.ledger.Head()
	c.Assert(ok, check.Equals, true)
	c.Assert(head.Number, check.Equals, int64(1))
	c.Assert(s.ledger.Size(), check.Equals, 2)

	c.Assert(s.ledger.Remove(), check.IsNil)
	head, ok = s.ledger.Head()
	c.Assert(ok, check.Equals, true)
	c.Assert(head.Number, check.Equals, int64(2))
}
