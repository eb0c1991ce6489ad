package paxos

import (
	"fmt"

	"github.com/kickboxer/trex/node"
)

// Ballot totally orders proposals. Ordering is lexicographic on
// (Counter, NodeId): the node-id tiebreak guarantees ballots minted by
// distinct nodes are always disjoint, which is what lets each node fabricate
// fresh ballots unilaterally without a coordination round (spec 3).
type Ballot struct {
	Counter uint32
	NodeId  node.Id
}

// Zero is the ballot below every ballot a node can ever mint (Counter starts
// at 1), used as the initial value of Progress.HighestPromised.
var Zero = Ballot{}

func (b Ballot) Less(o Ballot) bool {
	if b.Counter != o.Counter {
		return b.Counter < o.Counter
	}
	return b.NodeId < o.NodeId
}

func (b Ballot) LessOrEqual(o Ballot) bool {
	return b == o || b.Less(o)
}

func (b Ballot) Greater(o Ballot) bool {
	return o.Less(b)
}

func (b Ballot) GreaterOrEqual(o Ballot) bool {
	return b == o || o.Less(b)
}

func (b Ballot) String() string {
	return fmt.Sprintf("(%d,%s)", b.Counter, b.NodeId)
}

// NextBallot fabricates a fresh ballot for self, strictly greater than any
// ballot this node has promised so far (spec 4.1).
func NextBallot(highestPromised Ballot, self node.Id) Ballot {
	return Ballot{Counter: highestPromised.Counter + 1, NodeId: self}
}
