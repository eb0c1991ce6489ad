package paxos

import "github.com/kickboxer/trex/node"

// Progress is the per-node durable triple the engine's safety rests on
// (spec 3, 4.2). It is created when the journal is initialized, mutated only
// inside the core, and never destroyed.
//
// Invariants (spec 3, 8): HighestFixed <= HighestAccepted always;
// HighestPromised is monotone non-decreasing across the node's entire
// lifetime, including crashes.
type Progress struct {
	NodeId           node.Id
	HighestPromised  Ballot
	HighestAccepted  Slot
	HighestFixed     Slot
}

// Copy returns a value copy; Progress is small and passed by value
// everywhere outside of the core's own state.
func (p Progress) Copy() Progress { return p }
