package paxos

import "github.com/kickboxer/trex/node"

// prepareTally accumulates PrepareResponses for a single slot during
// recovery. Inserted when the node issues a Prepare for that slot; cleared
// per-slot once a win is achieved and an Accept has been issued, and cleared
// wholesale on backdown (spec 3).
type prepareTally struct {
	slot      Slot
	responses map[node.Id]*PrepareResponse
}

func newPrepareTally(slot Slot) *prepareTally {
	return &prepareTally{slot: slot, responses: make(map[node.Id]*PrepareResponse)}
}

func (t *prepareTally) votes() []Vote {
	votes := make([]Vote, 0, len(t.responses))
	for _, r := range t.responses {
		votes = append(votes, r.Vote)
	}
	return votes
}

// acceptTally tracks a single in-flight Accept this node proposed, along with
// the AcceptResponses received and whether a quorum has chosen it. Inserted
// when this node becomes proposer for a slot; retained until the contiguous
// commit scan consumes it (spec 3).
type acceptTally struct {
	accept    Accept
	responses map[node.Id]*AcceptResponse
	chosen    bool
}

func newAcceptTally(accept Accept) *acceptTally {
	return &acceptTally{accept: accept, responses: make(map[node.Id]*AcceptResponse)}
}

func (t *acceptTally) votes() []Vote {
	votes := make([]Vote, 0, len(t.responses))
	for _, r := range t.responses {
		votes = append(votes, r.Vote)
	}
	return votes
}
