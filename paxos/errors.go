package paxos

import "fmt"

// FatalError marks a message/progress combination the invariants say cannot
// arise (spec 7, "Unreachable state"). The host is expected to treat this as
// a process-fatal condition — better to crash than risk replicating
// inconsistently — rather than attempt to recover from it locally.
type FatalError struct {
	Reason string
}

func (e FatalError) Error() string {
	return fmt.Sprintf("paxos: fatal invariant violation: %s", e.Reason)
}

func newFatalf(format string, args ...interface{}) FatalError {
	return FatalError{Reason: fmt.Sprintf(format, args...)}
}

// ErrNotLeader is returned by Propose when called on a node that is not
// currently Lead (spec 9(ii)): no accept, no state change.
var ErrNotLeader = fmt.Errorf("paxos: propose called on a non-leader node")

// ConflictError is raised by result merging (spec 2 C9, spec 7) when a batch
// produces two different fixed commands at the same slot. It is fatal in the
// same sense as FatalError: a host that observes it must not continue to
// trust this node's output.
type ConflictError struct {
	Slot Slot
	A    Command
	B    Command
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("paxos: conflicting fixed commands at slot %d", e.Slot)
}
