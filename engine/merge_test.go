package engine

import (
	"testing"

	"github.com/google/uuid"

	"github.com/kickboxer/trex/node"
	"github.com/kickboxer/trex/paxos"
)

func TestMergeResultCombinesMessagesAndFixedEntries(t *testing.T) {
	cmd := paxos.NewAppCommand(uuid.New(), []byte("x"))
	outbound := []paxos.Message{&paxos.Prepare{From: node.Id(1), Slot: paxos.Slot(1), Ballot: paxos.Ballot{Counter: 1, NodeId: node.Id(1)}}}
	fixed := []paxos.FixedEntry{{Slot: paxos.Slot(1), Command: paxos.NoOpCommand}, {Slot: paxos.Slot(2), Command: cmd}}

	result, err := mergeResult(outbound, fixed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(result.Messages))
	}
	if len(result.CommandsBySlot) != 2 {
		t.Fatalf("expected 2 fixed slots, got %d", len(result.CommandsBySlot))
	}
	if !result.CommandsBySlot[paxos.Slot(2)].Equal(cmd) {
		t.Fatalf("slot 2 command mismatch")
	}
}

func TestMergeResultToleratesRepeatedIdenticalFixes(t *testing.T) {
	fixed := []paxos.FixedEntry{{Slot: paxos.Slot(1), Command: paxos.NoOpCommand}, {Slot: paxos.Slot(1), Command: paxos.NoOpCommand}}
	result, err := mergeResult(nil, fixed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.CommandsBySlot) != 1 {
		t.Fatalf("expected 1 fixed slot, got %d", len(result.CommandsBySlot))
	}
}

// C9 (spec 8, property 6): two different commands reported fixed at the
// same slot within one batch is a safety violation, not a recoverable error.
func TestMergeResultConflictingFixesIsFatal(t *testing.T) {
	a := paxos.NewAppCommand(uuid.New(), []byte("a"))
	b := paxos.NewAppCommand(uuid.New(), []byte("b"))
	fixed := []paxos.FixedEntry{{Slot: paxos.Slot(1), Command: a}, {Slot: paxos.Slot(1), Command: b}}

	_, err := mergeResult(nil, fixed)
	if err == nil {
		t.Fatal("expected a ConflictError")
	}
	if _, ok := err.(*paxos.ConflictError); !ok {
		t.Fatalf("expected *paxos.ConflictError, got %T", err)
	}
}
