package wire_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/kickboxer/trex/node"
	"github.com/kickboxer/trex/paxos"
	"github.com/kickboxer/trex/wire"
)

// round trip is required for every message kind and Progress (spec 8,
// property 9).
func TestMessageRoundTrip(t *testing.T) {
	id := uuid.New()
	accept := paxos.Accept{
		ProposerId: node.Id(2),
		Slot:       paxos.Slot(7),
		Ballot:     paxos.Ballot{Counter: 4, NodeId: node.Id(1)},
		Command:    paxos.NewAppCommand(id, []byte("payload")),
	}

	cases := []paxos.Message{
		&paxos.Prepare{From: node.Id(1), Slot: paxos.Slot(3), Ballot: paxos.Ballot{Counter: 1, NodeId: node.Id(1)}},
		&paxos.PrepareResponse{
			From: node.Id(2), To: node.Id(1),
			Vote:                 paxos.Vote{Voter: node.Id(2), VotedFor: node.Id(1), Slot: paxos.Slot(3), Yes: true, Ballot: paxos.Ballot{Counter: 1, NodeId: node.Id(1)}},
			VoterHighestFixed:    paxos.Slot(2),
			VoterHighestAccepted: paxos.Slot(5),
			JournalledAccept:     &accept,
		},
		&paxos.PrepareResponse{
			From: node.Id(3), To: node.Id(1),
			Vote:              paxos.Vote{Voter: node.Id(3), VotedFor: node.Id(1), Slot: paxos.Slot(3), Yes: false, Ballot: paxos.Ballot{Counter: 1, NodeId: node.Id(1)}},
			VoterHighestFixed: paxos.Slot(0),
			JournalledAccept:  nil,
		},
		&paxos.AcceptMsg{From: node.Id(1), Slot: paxos.Slot(7), Ballot: paxos.Ballot{Counter: 4, NodeId: node.Id(1)}, Command: paxos.NewAppCommand(id, []byte("payload"))},
		&paxos.AcceptMsg{From: node.Id(1), Slot: paxos.Slot(1), Ballot: paxos.Ballot{Counter: 1, NodeId: node.Id(1)}, Command: paxos.NoOpCommand},
		&paxos.AcceptResponse{From: node.Id(2), To: node.Id(1), Vote: paxos.Vote{Voter: node.Id(2), VotedFor: node.Id(1), Slot: paxos.Slot(7), Yes: true, Ballot: paxos.Ballot{Counter: 4, NodeId: node.Id(1)}}, VoterHighestFixed: paxos.Slot(6)},
		&paxos.FixedCommit{From: node.Id(1), FixedSlot: paxos.Slot(7), FixedBallot: paxos.Ballot{Counter: 4, NodeId: node.Id(1)}},
		&paxos.Catchup{From: node.Id(3), To: node.Id(1), Slots: []paxos.Slot{4, 5, 6}},
		&paxos.Catchup{From: node.Id(3), To: node.Id(1), Slots: nil},
		&paxos.CatchupResponse{From: node.Id(1), To: node.Id(3), Accepts: []paxos.Accept{accept}},
	}

	for _, original := range cases {
		raw, err := wire.EncodeMessage(original)
		if err != nil {
			t.Fatalf("encode %T: %v", original, err)
		}
		decoded, err := wire.DecodeMessage(raw)
		if err != nil {
			t.Fatalf("decode %T: %v", original, err)
		}
		assertMessageEqual(t, original, decoded)
	}
}

func TestProgressRoundTrip(t *testing.T) {
	p := paxos.Progress{
		NodeId:          node.Id(2),
		HighestPromised: paxos.Ballot{Counter: 9, NodeId: node.Id(3)},
		HighestAccepted: paxos.Slot(100),
		HighestFixed:    paxos.Slot(99),
	}
	raw := wire.EncodeProgress(p)
	decoded, err := wire.DecodeProgress(raw)
	if err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if decoded != p {
		t.Fatalf("progress round trip mismatch: got %+v, want %+v", decoded, p)
	}
}

func TestDecodeUnknownTagIsError(t *testing.T) {
	_, err := wire.DecodeMessage([]byte{0xff})
	if err == nil {
		t.Fatal("expected an error decoding an unknown message tag")
	}
}

func TestDecodeTruncatedIsError(t *testing.T) {
	_, err := wire.DecodeMessage([]byte{0x01, 0x00})
	if err == nil {
		t.Fatal("expected an error decoding a truncated payload")
	}
}

func assertMessageEqual(t *testing.T, a, b paxos.Message) {
	t.Helper()
	switch av := a.(type) {
	case *paxos.Prepare:
		bv := b.(*paxos.Prepare)
		if *av != *bv {
			t.Fatalf("Prepare mismatch: %+v != %+v", av, bv)
		}
	case *paxos.PrepareResponse:
		bv := b.(*paxos.PrepareResponse)
		if av.From != bv.From || av.To != bv.To || av.Vote != bv.Vote ||
			av.VoterHighestFixed != bv.VoterHighestFixed || av.VoterHighestAccepted != bv.VoterHighestAccepted {
			t.Fatalf("PrepareResponse mismatch: %+v != %+v", av, bv)
		}
		if (av.JournalledAccept == nil) != (bv.JournalledAccept == nil) {
			t.Fatalf("PrepareResponse JournalledAccept presence mismatch")
		}
		if av.JournalledAccept != nil && !av.JournalledAccept.Equal(*bv.JournalledAccept) {
			t.Fatalf("PrepareResponse JournalledAccept mismatch")
		}
	case *paxos.AcceptMsg:
		bv := b.(*paxos.AcceptMsg)
		if av.From != bv.From || av.Slot != bv.Slot || av.Ballot != bv.Ballot || !av.Command.Equal(bv.Command) {
			t.Fatalf("AcceptMsg mismatch: %+v != %+v", av, bv)
		}
	case *paxos.AcceptResponse:
		bv := b.(*paxos.AcceptResponse)
		if *av != *bv {
			t.Fatalf("AcceptResponse mismatch: %+v != %+v", av, bv)
		}
	case *paxos.FixedCommit:
		bv := b.(*paxos.FixedCommit)
		if *av != *bv {
			t.Fatalf("FixedCommit mismatch: %+v != %+v", av, bv)
		}
	case *paxos.Catchup:
		bv := b.(*paxos.Catchup)
		if av.From != bv.From || av.To != bv.To || len(av.Slots) != len(bv.Slots) {
			t.Fatalf("Catchup mismatch: %+v != %+v", av, bv)
		}
		for i := range av.Slots {
			if av.Slots[i] != bv.Slots[i] {
				t.Fatalf("Catchup slot %d mismatch", i)
			}
		}
	case *paxos.CatchupResponse:
		bv := b.(*paxos.CatchupResponse)
		if av.From != bv.From || av.To != bv.To || len(av.Accepts) != len(bv.Accepts) {
			t.Fatalf("CatchupResponse mismatch: %+v != %+v", av, bv)
		}
		for i := range av.Accepts {
			if !av.Accepts[i].Equal(bv.Accepts[i]) {
				t.Fatalf("CatchupResponse accept %d mismatch", i)
			}
		}
	default:
		t.Fatalf("unhandled message type in assertion: %T", a)
	}
}
