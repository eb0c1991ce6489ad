package quorum_test

import (
	"testing"

	"github.com/kickboxer/trex/node"
	"github.com/kickboxer/trex/paxos"
	"github.com/kickboxer/trex/quorum"
)

func vote(id node.Id, yes bool) paxos.Vote {
	return paxos.Vote{Voter: id, Yes: yes}
}

func TestMajorityWaitsBelowQuorum(t *testing.T) {
	m := quorum.NewMajority(5)
	out := m.AssessPromises(paxos.Slot(1), []paxos.Vote{vote(2, true)})
	if out != paxos.Wait {
		t.Fatalf("got %v, want Wait", out)
	}
}

func TestMajorityWinsAtQuorum(t *testing.T) {
	m := quorum.NewMajority(5)
	// self's own explicit vote plus 2 yes votes = 3, the majority of 5.
	out := m.AssessAccepts(paxos.Slot(1), []paxos.Vote{vote(1, true), vote(2, true), vote(3, true)})
	if out != paxos.Win {
		t.Fatalf("got %v, want Win", out)
	}
}

func TestMajorityLosesWhenUnreachable(t *testing.T) {
	m := quorum.NewMajority(5)
	out := m.AssessPromises(paxos.Slot(1), []paxos.Vote{vote(2, false), vote(3, false), vote(4, false)})
	if out != paxos.Lose {
		t.Fatalf("got %v, want Lose", out)
	}
}

func TestMajoritySingleNodeWinsImmediately(t *testing.T) {
	m := quorum.NewMajority(1)
	// a lone node still needs its own explicit self-delivered vote; the
	// assessor no longer credits it implicitly.
	out := m.AssessPromises(paxos.Slot(1), []paxos.Vote{vote(1, true)})
	if out != paxos.Win {
		t.Fatalf("got %v, want Win", out)
	}
}

func TestMajorityPanicsOnEmptyCluster(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic constructing a zero-size majority")
		}
	}()
	quorum.NewMajority(0)
}
