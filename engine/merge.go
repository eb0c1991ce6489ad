package engine

import "github.com/kickboxer/trex/paxos"

// mergeResult implements spec 2/7's C9: combine a batch's per-message
// outbound messages and fixed entries into one envelope, asserting no two
// fixed entries at the same slot disagree (spec 8, property 6). A
// disagreement can only mean a safety violation upstream, so it is fatal
// rather than recoverable (spec 7).
func mergeResult(outbound []paxos.Message, fixed []paxos.FixedEntry) (*Result, error) {
	byslot := make(map[paxos.Slot]paxos.Command, len(fixed))
	for _, f := range fixed {
		if existing, ok := byslot[f.Slot]; ok {
			if !existing.Equal(f.Command) {
				return nil, &paxos.ConflictError{Slot: f.Slot, A: existing, B: f.Command}
			}
			continue
		}
		byslot[f.Slot] = f.Command
	}
	return &Result{Messages: outbound, CommandsBySlot: byslot}, nil
}
