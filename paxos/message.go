package paxos

import "github.com/kickboxer/trex/node"

// Message is the sealed hierarchy every inbound/outbound protocol message
// implements (spec 9, "Sum-typed messages"). Dispatch exhaustively switches
// over the concrete type so every message is handled exactly once.
type Message interface {
	GetFrom() node.Id
	isMessage()
}

// Directed is implemented by the message kinds that carry an explicit `to`
// (spec 6, "direct messages also carry to"), letting a transport route them
// point-to-point instead of broadcasting.
type Directed interface {
	Message
	GetTo() node.Id
}

type Prepare struct {
	From   node.Id
	Slot   Slot
	Ballot Ballot
}

func (m *Prepare) GetFrom() node.Id { return m.From }
func (*Prepare) isMessage()         {}

type PrepareResponse struct {
	From                 node.Id
	To                   node.Id
	Vote                 Vote
	VoterHighestFixed    Slot
	VoterHighestAccepted Slot    // voter's Progress.HighestAccepted, used to extend recovery probing (spec 4.4.3(a))
	JournalledAccept     *Accept // nil when the voter has nothing journalled at Vote.Slot
}

func (m *PrepareResponse) GetFrom() node.Id { return m.From }
func (m *PrepareResponse) GetTo() node.Id   { return m.To }
func (*PrepareResponse) isMessage()         {}

// AcceptMsg is the phase-2 proposal message. It shares its field shape with
// the Accept journal record (spec 3) but is kept as a distinct wire type so
// Message's type switch stays exhaustive and unambiguous.
type AcceptMsg struct {
	From    node.Id
	Slot    Slot
	Ballot  Ballot
	Command Command
}

func (m *AcceptMsg) GetFrom() node.Id { return m.From }
func (*AcceptMsg) isMessage()         {}

func (m *AcceptMsg) toAccept() Accept {
	return Accept{ProposerId: m.From, Slot: m.Slot, Ballot: m.Ballot, Command: m.Command}
}

func acceptToMsg(a Accept) *AcceptMsg {
	return &AcceptMsg{From: a.ProposerId, Slot: a.Slot, Ballot: a.Ballot, Command: a.Command}
}

type AcceptResponse struct {
	From              node.Id
	To                node.Id
	Vote              Vote
	VoterHighestFixed Slot
}

func (m *AcceptResponse) GetFrom() node.Id { return m.From }
func (m *AcceptResponse) GetTo() node.Id   { return m.To }
func (*AcceptResponse) isMessage()         {}

// FixedCommit announces that From has fixed FixedSlot under FixedBallot.
// This module implements the ballot-carrying variant (spec 9(i)).
type FixedCommit struct {
	From        node.Id
	FixedSlot   Slot
	FixedBallot Ballot
}

func (m *FixedCommit) GetFrom() node.Id { return m.From }
func (*FixedCommit) isMessage()         {}

type Catchup struct {
	From    node.Id
	To      node.Id
	Slots   []Slot
}

func (m *Catchup) GetFrom() node.Id { return m.From }
func (m *Catchup) GetTo() node.Id   { return m.To }
func (*Catchup) isMessage()         {}

type CatchupResponse struct {
	From    node.Id
	To      node.Id
	Accepts []Accept
}

func (m *CatchupResponse) GetFrom() node.Id { return m.From }
func (m *CatchupResponse) GetTo() node.Id   { return m.To }
func (*CatchupResponse) isMessage()         {}
