package paxos

// Role is one of the three states a node's consensus participation can be
// in (spec 3). The invariants below are enforced by core.go, not by the type
// itself:
//
//   Follow:   no term, no prepare tallies, no accept tallies.
//   Recover:  has a term; has prepare and/or accept tallies; may hold both.
//   Lead:     has a term; has no prepare tallies; may hold accept tallies
//             for in-flight proposals.
type Role uint8

const (
	Follow Role = iota
	Recover
	Lead
)

func (r Role) String() string {
	switch r {
	case Follow:
		return "follow"
	case Recover:
		return "recover"
	case Lead:
		return "lead"
	default:
		return "unknown"
	}
}
