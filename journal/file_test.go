package journal_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/kickboxer/trex/journal"
	"github.com/kickboxer/trex/node"
	"github.com/kickboxer/trex/paxos"
)

func TestFileSaveThenLoadProgressRoundTrips(t *testing.T) {
	f, err := journal.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	want := paxos.Progress{NodeId: node.Id(1), HighestPromised: paxos.Ballot{Counter: 9, NodeId: node.Id(2)}, HighestAccepted: 12, HighestFixed: 11}
	if err := f.SaveProgress(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := f.LoadProgress(node.Id(1))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestFileLoadProgressMissingReturnsZeroValue(t *testing.T) {
	f, err := journal.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	got, err := f.LoadProgress(node.Id(3))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.NodeId != node.Id(3) || got.HighestAccepted != 0 {
		t.Fatalf("expected zero-value progress, got %+v", got)
	}
}

func TestFileSaveProgressOverwritesPriorFile(t *testing.T) {
	f, err := journal.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	first := paxos.Progress{NodeId: node.Id(1), HighestAccepted: 1, HighestFixed: 1}
	second := paxos.Progress{NodeId: node.Id(1), HighestAccepted: 5, HighestFixed: 5}
	if err := f.SaveProgress(first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := f.SaveProgress(second); err != nil {
		t.Fatalf("save second: %v", err)
	}
	got, err := f.LoadProgress(node.Id(1))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != second {
		t.Fatalf("got %+v, want %+v", got, second)
	}
}

func TestFileJournalAcceptThenLoad(t *testing.T) {
	f, err := journal.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	a := paxos.Accept{ProposerId: node.Id(1), Slot: paxos.Slot(7), Ballot: paxos.Ballot{Counter: 1, NodeId: node.Id(1)}, Command: paxos.NewAppCommand(uuid.New(), []byte("payload"))}
	if err := f.JournalAccept(a); err != nil {
		t.Fatalf("journal: %v", err)
	}
	got, err := f.LoadAccept(paxos.Slot(7))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || !got.Equal(a) {
		t.Fatalf("got %+v, want %+v", got, a)
	}
}

func TestFileJournalAcceptIdenticalRecordIsNoop(t *testing.T) {
	f, err := journal.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	a := paxos.Accept{ProposerId: node.Id(1), Slot: paxos.Slot(7), Ballot: paxos.Ballot{Counter: 1, NodeId: node.Id(1)}, Command: paxos.NewAppCommand(uuid.New(), []byte("payload"))}
	if err := f.JournalAccept(a); err != nil {
		t.Fatalf("journal first: %v", err)
	}
	if err := f.JournalAccept(a); err != nil {
		t.Fatalf("journal identical record again should not error: %v", err)
	}
	got, err := f.LoadAccept(paxos.Slot(7))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || !got.Equal(a) {
		t.Fatalf("got %+v, want %+v", got, a)
	}
}

func TestFileJournalAcceptReplacesDifferentRecordAtSameSlot(t *testing.T) {
	f, err := journal.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	a1 := paxos.Accept{ProposerId: node.Id(1), Slot: paxos.Slot(7), Ballot: paxos.Ballot{Counter: 1, NodeId: node.Id(1)}, Command: paxos.NewAppCommand(uuid.New(), []byte("first"))}
	a2 := paxos.Accept{ProposerId: node.Id(2), Slot: paxos.Slot(7), Ballot: paxos.Ballot{Counter: 2, NodeId: node.Id(2)}, Command: paxos.NewAppCommand(uuid.New(), []byte("second"))}

	if err := f.JournalAccept(a1); err != nil {
		t.Fatalf("journal a1: %v", err)
	}
	if err := f.JournalAccept(a2); err != nil {
		t.Fatalf("journal a2 (replacing a1): %v", err)
	}
	got, err := f.LoadAccept(paxos.Slot(7))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || !got.Equal(a2) {
		t.Fatalf("got %+v, want %+v", got, a2)
	}
}

func TestFileLoadAcceptMissingSlotReturnsNil(t *testing.T) {
	f, err := journal.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	got, err := f.LoadAccept(paxos.Slot(123))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for an unjournalled slot, got %+v", got)
	}
}

func TestFileSyncSucceedsOnFreshDirectory(t *testing.T) {
	f, err := journal.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func TestFileNoOpCommandRoundTrips(t *testing.T) {
	f, err := journal.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	a := paxos.Accept{ProposerId: node.Id(1), Slot: paxos.Slot(1), Ballot: paxos.Ballot{Counter: 1, NodeId: node.Id(1)}, Command: paxos.NoOpCommand}
	if err := f.JournalAccept(a); err != nil {
		t.Fatalf("journal: %v", err)
	}
	got, err := f.LoadAccept(paxos.Slot(1))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || !got.Equal(a) {
		t.Fatalf("got %+v, want %+v", got, a)
	}
}
