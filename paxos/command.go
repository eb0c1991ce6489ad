package paxos

import (
	"bytes"

	"github.com/google/uuid"

	"github.com/kickboxer/trex/node"
)

// CommandKind distinguishes the NoOp placeholder from a real client
// application command (spec 3).
type CommandKind uint8

const (
	NoOp CommandKind = iota
	App
)

// Command is the unit of work carried by an Accept. NoOp commands are
// sentinels used to fill uncontested slots during recovery so the fixed log
// stays contiguous (glossary); the host's application state machine never
// sees them applied (spec 4.4.5).
type Command struct {
	Kind CommandKind

	// ClientMsgUUID identifies the originating client request. The engine
	// never deduplicates on this value (spec 1, non-goal 3) — it is carried
	// purely for the host/application layer's benefit.
	ClientMsgUUID uuid.UUID
	Payload       []byte
}

// NoOpCommand is the canonical placeholder command used to fill a slot
// nobody proposed a real value for (spec 4.4.3).
var NoOpCommand = Command{Kind: NoOp}

// NewAppCommand builds a client command carrying an opaque payload.
func NewAppCommand(id uuid.UUID, payload []byte) Command {
	return Command{Kind: App, ClientMsgUUID: id, Payload: payload}
}

// Equal implements the structural equality spec 3 requires of Command.
func (c Command) Equal(o Command) bool {
	if c.Kind != o.Kind {
		return false
	}
	if c.Kind == NoOp {
		return true
	}
	return c.ClientMsgUUID == o.ClientMsgUUID && bytes.Equal(c.Payload, o.Payload)
}

// Accept is both the phase-2 protocol message and the sole per-slot journal
// record (spec 3, spec 4.2). Ordering for "pick highest accepted" purposes is
// (Ballot, Slot) ascending (spec 3).
type Accept struct {
	ProposerId node.Id
	Slot       Slot
	Ballot     Ballot
	Command    Command
}

func (a Accept) Equal(o Accept) bool {
	return a.ProposerId == o.ProposerId && a.Slot == o.Slot && a.Ballot == o.Ballot && a.Command.Equal(o.Command)
}

// higherAccept returns whichever of a, b has the higher (Ballot, Slot); used
// when recovery must pick the highest-numbered Accept observed across
// voters at a slot (spec 4.4.3(b)).
func higherAccept(a, b *Accept) *Accept {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Ballot != b.Ballot {
		if a.Ballot.Less(b.Ballot) {
			return b
		}
		return a
	}
	if a.Slot < b.Slot {
		return b
	}
	return a
}
