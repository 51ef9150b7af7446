package paxos

import (
	"bytes"
	"encoding/gob"
)

// DecreeType distinguishes opaque user entries from the two
// internally-applied membership-change records.
type DecreeType int

const (
	// UserDecree carries an opaque payload bound to the embedding
	// application's handler.
	UserDecree DecreeType = iota
	// AddReplicaDecree carries a gob-encoded addReplicaRecord, applied by
	// the membership-change handler in membership.go.
	AddReplicaDecree
	// RemoveReplicaDecree carries a gob-encoded removeReplicaRecord,
	// applied by the membership-change handler in membership.go.
	RemoveReplicaDecree
)

func (t DecreeType) String() string {
	switch t {
	case UserDecree:
		return "UserDecree"
	case AddReplicaDecree:
		return "AddReplicaDecree"
	case RemoveReplicaDecree:
		return "RemoveReplicaDecree"
	default:
		return "UnknownDecree"
	}
}

// Decree is the unit of Paxos agreement: author, round number, the root
// number of the logical request this round serves (stable across
// retries), an opaque payload, and a type tag.
type Decree struct {
	Author     Replica
	Number     int64
	RootNumber int64
	Content    []byte
	Type       DecreeType
}

// IsZero reports whether d is the zero Decree — the sentinel used for
// "nothing promised/accepted yet" and an empty ledger's virtual tail.
func (d Decree) IsZero() bool {
	return d.Number == 0 && d.RootNumber == 0 && d.Author.IsZero() && len(d.Content) == 0
}

// DecreeKey is the comparable (number, author) identity used as a map key
// wherever two concurrent decrees with the same number but different
// authors must occupy distinct slots (spec's compare_map_decree).
type DecreeKey struct {
	Number int64
	Author Replica
}

// Key returns d's map identity.
func (d Decree) Key() DecreeKey {
	return DecreeKey{Number: d.Number, Author: d.Author}
}

// Compare orders two decrees by Number only; this is the ordering used
// for promised/accepted/highest-proposed comparisons ("greater",
// "higher", "IsDecreeHigher"). Author distinguishes map slots, not
// magnitude.
func Compare(a, b Decree) int {
	switch {
	case a.Number < b.Number:
		return -1
	case a.Number > b.Number:
		return 1
	default:
		return 0
	}
}

// IsDecreeHigher reports whether a strictly exceeds b by number.
func IsDecreeHigher(a, b Decree) bool {
	return Compare(a, b) > 0
}

// IsDecreeHigherOrEqual reports whether a is not lower than b by number.
func IsDecreeHigherOrEqual(a, b Decree) bool {
	return Compare(a, b) >= 0
}

// MaxDecree returns whichever of a, b compares higher; ties favor a.
func MaxDecree(a, b Decree) Decree {
	if IsDecreeHigher(b, a) {
		return b
	}
	return a
}

// IsDecreeOrdered reports whether rhs immediately follows lhs by number:
// rhs.Number == lhs.Number + 1. The ledger admits entries with
// IsDecreeHigher and the learner compares RootNumber directly, so
// neither calls this.
func IsDecreeOrdered(lhs, rhs Decree) bool {
	return rhs.Number == lhs.Number+1
}

// IsRootDecreeOrdered is IsDecreeOrdered over RootNumber instead of
// Number. Ledger.Next does its own RootNumber comparison and does not
// call it.
func IsRootDecreeOrdered(lhs, rhs Decree) bool {
	return rhs.RootNumber == lhs.RootNumber+1
}

// encodeDecree/decodeDecree gob-encode a Decree for storage in a
// storage.Queue or storage.Field, which deal only in []byte: paxos owns
// this translation so storage never needs to import paxos.

func encodeDecree(d Decree) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeDecree(raw []byte) (Decree, error) {
	var d Decree
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&d); err != nil {
		return Decree{}, err
	}
	return d, nil
}
