package paxos

import "gopkg.in/check.v1"

type ReplicaSetSuite struct{}

var _ = check.Suite(&ReplicaSetSuite{})

func (s *ReplicaSetSuite) TestAddContainsRemove(c *check.C) {
	rs := NewReplicaSet()
	r := Replica{Host: "a", Port: 1}
	c.Assert(rs.Contains(r), check.Equals, false)
	rs.Add(r)
	c.Assert(rs.Contains(r), check.Equals, true)
	rs.Remove(r)
	c.Assert(rs.Contains(r), check.Equals, false)
}

func (s *ReplicaSetSuite) TestQuorum(c *check.C) {
	rs := NewReplicaSet(
		Replica{Host: "a", Port: 1},
		Replica{Host: "b", Port: 2},
		Replica{Host: "c", Port: 3},
	)
	c.Assert(rs.Quorum(), check.Equals, 2)

	rs.Add(Replica{Host: "d", Port: 4})
	c.Assert(rs.Quorum(), check.Equals, 3)
}

func (s *ReplicaSetSuite) TestSnapshotIsSorted(c *check.C) {
	rs := NewReplicaSet(
		Replica{Host: "c", Port: 1},
		Replica{Host: "a", Port: 2},
		Replica{Host: "b", Port: 1},
	)
	got := rs.Snapshot()
	c.Assert(got, check.DeepEquals, []Replica{
		{Host: "a", Port: 2},
		{Host: "b", Port: 1},
		{Host: "c", Port: 1},
	})
}

func (s *ReplicaSetSuite) TestIntersectionAndDifference(c *check.C) {
	a := NewReplicaSet(Replica{Host: "x", Port: 1}, Replica{Host: "y", Port: 2})
	b := NewReplicaSet(Replica{Host: "y", Port: 2}, Replica{Host: "z", Port: 3})

	inter := a.Intersection(b)
	c.Assert(inter.Snapshot(), check.DeepEquals, []Replica{{Host: "y", Port: 2}})

	diff := a.Difference(b)
	c.Assert(diff.Snapshot(), check.DeepEquals, []Replica{{Host: "x", Port: 1}})
}
