package paxos

// Slot is a position in the replicated log. Slot 0 is reserved; the first
// usable slot is 1 (spec 3).
type Slot uint64

const NoSlot = Slot(0)
