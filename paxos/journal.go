package paxos

import "github.com/kickboxer/trex/node"

// Journal is the crash-durability contract the core depends on (spec 4.2).
// Concrete storage is an external collaborator (spec 1); this module ships
// journal.Memory and journal.File as reference implementations.
type Journal interface {
	// LoadProgress is called at startup only.
	LoadProgress(id node.Id) (Progress, error)

	// JournalAccept durably appends/overwrites the Accept at its slot.
	// Overwrite is permitted only for a slot the caller has not yet
	// declared fixed; once fixed, the Accept at that slot is immutable.
	// Journalling a bit-identical Accept a second time must be a no-op
	// observable only as a redundant Sync (spec 9(iii)).
	JournalAccept(a Accept) error

	LoadAccept(slot Slot) (*Accept, error)

	// SaveProgress durably writes the progress triple.
	SaveProgress(p Progress) error

	// Sync blocks until every prior JournalAccept/SaveProgress is on stable
	// storage. The Engine calls this before releasing any outbound message
	// (spec 4.2, 5).
	Sync() error
}
