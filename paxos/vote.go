package paxos

import "github.com/kickboxer/trex/node"

// Vote is the common shape carried inside both PrepareResponse and
// AcceptResponse (spec 6).
type Vote struct {
	Voter    node.Id
	VotedFor node.Id
	Slot     Slot
	Yes      bool
	Ballot   Ballot
}
