// Package storage provides the two durable-state abstractions the paxos
// package needs: a Field (a single crash-safe cell — promised_decree,
// accepted_decree, highest_proposed_decree, replicaset) and a Queue (a
// durable FIFO backing the ledger). Both are byte-oriented: paxos owns
// all gob encoding/decoding of the values it persists, so this package
// never imports paxos.
package storage

import "github.com/pkg/errors"

// ErrNotFound is returned by Field.Get when nothing has ever been Put.
var ErrNotFound = errors.New("storage: field not set")

// Field is a storage cell holding a single serialized value with
// crash-safe Get/Put. Put must appear atomic to a concurrent Get from
// this or any other process after restart.
type Field interface {
	Get() ([]byte, error)
	Put(value []byte) error
}

// Queue is a durable FIFO over typed byte-string entries backing the
// ledger. Implementations must survive a process restart with every
// previously-Enqueued, not-yet-Dequeued entry intact and in order.
type Queue interface {
	Enqueue(value []byte) error
	Dequeue() ([]byte, error)
	Last() ([]byte, bool, error)
	// All returns every entry from head to tail, in order.
	All() ([][]byte, error)
	Len() (int, error)
}
