package paxos

import (
	"time"

	"gopkg.in/check.v1"
)

type SignalSuite struct{}

var _ = check.Suite(&SignalSuite{})

func (s *SignalSuite) TestSetBeforeWaitReturnsImmediately(c *check.C) {
	sig := NewSignal(nil)
	sig.Set(true)
	c.Assert(sig.Wait(time.Hour), check.Equals, true)
}

func (s *SignalSuite) TestSetIsSingleUse(c *check.C) {
	sig := NewSignal(nil)
	sig.Set(false)
	sig.Set(true) // ignored, first value sticks
	c.Assert(sig.Wait(time.Hour), check.Equals, false)
}

func (s *SignalSuite) TestWaitRetriesUntilSet(c *check.C) {
	var retries int
	done := make(chan struct{})
	sig := NewSignal(func() {
		retries++
		if retries == 2 {
			close(done)
		}
	})
	go func() {
		<-done
		sig.Set(true)
	}()
	c.Assert(sig.Wait(5*time.Millisecond), check.Equals, true)
	c.Assert(retries >= 2, check.Equals, true)
}
