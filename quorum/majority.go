// Package quorum provides concrete paxos.Assessor implementations. The core
// never assumes majority itself (spec 4.3); these are the pluggable
// quorum-set geometries a host wires in.
package quorum

import "github.com/kickboxer/trex/paxos"

// Majority is a simple-majority assessor over a fixed cluster size,
// grounded on the quorum arithmetic used throughout the teacher repo's
// consensus package (e.g. consensus/scope_accept.go's
// ((len(replicas)+1)/2)+1 and consensus/manager_prepare.go's
// (len(replicas)/2)+1 — both compute "more than half of clusterSize").
type Majority struct {
	clusterSize int
}

// NewMajority builds a majority assessor for a cluster of clusterSize nodes
// (including self). clusterSize must be >= 1.
func NewMajority(clusterSize int) *Majority {
	if clusterSize < 1 {
		panic("quorum: cluster size must be at least 1")
	}
	return &Majority{clusterSize: clusterSize}
}

func (m *Majority) quorumSize() int {
	return m.clusterSize/2 + 1
}

// assess is shared between AssessPromises and AssessAccepts: the geometry
// (plain majority) does not distinguish between phase-1 and phase-2 votes.
// votes is expected to already carry this node's own vote as an explicit
// entry — paxos.Core always self-delivers its own Prepare/Accept, so there
// is no implicit self-credit here; crediting self twice would let a node
// reach quorum on its own vote alone.
func (m *Majority) assess(votes []paxos.Vote) paxos.Outcome {
	yes := 0
	no := 0
	for _, v := range votes {
		if v.Yes {
			yes++
		} else {
			no++
		}
	}
	need := m.quorumSize()
	if yes >= need {
		return paxos.Win
	}
	// Lose once the remaining possible yes votes can no longer reach
	// quorum, i.e. a quorum of nos is already proven impossible to
	// overturn (spec 4.3).
	remaining := m.clusterSize - yes - no
	if yes+remaining < need {
		return paxos.Lose
	}
	return paxos.Wait
}

func (m *Majority) AssessPromises(_ paxos.Slot, votes []paxos.Vote) paxos.Outcome {
	return m.assess(votes)
}

func (m *Majority) AssessAccepts(_ paxos.Slot, votes []paxos.Vote) paxos.Outcome {
	return m.assess(votes)
}
