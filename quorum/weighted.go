package quorum

import (
	"sync"

	"github.com/kickboxer/trex/node"
	"github.com/kickboxer/trex/paxos"
)

// Weighted is a flexible-Paxos-style assessor: each voter carries a weight,
// and phase-1 (promise) and phase-2 (accept) quorums can require different
// weighted thresholds, which is exactly what flexible Paxos trades off
// (spec 4.3, "flexible Paxos variants").
//
// Grounded on topology/datacenter.go's DatacenterContainer, which keeps a
// per-datacenter Ring of replicas and answers "how many nodes are in this
// replica set" (GetNodesForToken/Size). Cluster membership/ring topology
// itself is out of scope (spec 1); this type keeps only the part of that
// shape relevant to quorum accounting — a per-node weight table — and drops
// the ring/partitioner/datacenter machinery entirely.
type Weighted struct {
	mu            sync.RWMutex
	weights       map[node.Id]uint32
	promiseQuorum uint32
	acceptQuorum  uint32
	totalWeight   uint32
}

// NewWeighted builds a weighted assessor. weights must include every voting
// node except selfId; selfWeight is this node's own weight, folded into the
// weight table under selfId so that this node's self-delivered vote (which
// paxos.Core always records as an explicit Vote) resolves to the right
// weight like any other voter's. promiseThreshold/acceptThreshold are the
// minimum total weight (including self) required to reach WIN for phase 1
// and phase 2 respectively.
func NewWeighted(selfId node.Id, selfWeight uint32, weights map[node.Id]uint32, promiseThreshold, acceptThreshold uint32) *Weighted {
	w := &Weighted{
		weights:       make(map[node.Id]uint32, len(weights)+1),
		promiseQuorum: promiseThreshold,
		acceptQuorum:  acceptThreshold,
	}
	total := selfWeight
	w.weights[selfId] = selfWeight
	for id, weight := range weights {
		w.weights[id] = weight
		total += weight
	}
	w.totalWeight = total
	return w
}

func (w *Weighted) assess(votes []paxos.Vote, quorum uint32) paxos.Outcome {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var yes, no uint32
	for _, v := range votes {
		weight := w.weights[v.Voter]
		if v.Yes {
			yes += weight
		} else {
			no += weight
		}
	}
	if yes >= quorum {
		return paxos.Win
	}
	remaining := w.totalWeight - yes - no
	if yes+remaining < quorum {
		return paxos.Lose
	}
	return paxos.Wait
}

func (w *Weighted) AssessPromises(_ paxos.Slot, votes []paxos.Vote) paxos.Outcome {
	return w.assess(votes, w.promiseQuorum)
}

func (w *Weighted) AssessAccepts(_ paxos.Slot, votes []paxos.Vote) paxos.Outcome {
	return w.assess(votes, w.acceptQuorum)
}
