package paxos

import (
	"math/rand"
	"time"
)

// Pause is a strategy object controlling when a scheduled callback runs.
// Used by the proposer before retrying after a nack, to break symmetric
// collisions between competing proposers.
type Pause interface {
	Start(callback func())
}

// NoPause runs the callback immediately on a new goroutine, so callers
// can treat every Pause implementation uniformly as asynchronous.
type NoPause struct{}

// Start invokes callback with no delay.
func (NoPause) Start(callback func()) {
	go callback()
}

// RandomPause schedules callback after a uniform random delay in
// [0, Max], the same jittered-backoff shape as the rest of the corpus's
// hand-rolled retry loops (no backoff library needed for this).
type RandomPause struct {
	Max time.Duration
}

// Start schedules callback after a random delay bounded by Max.
func (p RandomPause) Start(callback func()) {
	delay := time.Duration(0)
	if p.Max > 0 {
		delay = time.Duration(rand.Int63n(int64(p.Max) + 1))
	}
	time.AfterFunc(delay, callback)
}
