// Package node defines the identity type shared by every other package in
// this module. It exists on its own so the core (paxos) and its
// collaborators (journal, quorum, engine, transport) can refer to node
// identity without importing each other.
package node

import "fmt"

// Id identifies a node within a cluster. The wire format fixes this at a
// single byte (spec 6), which caps cluster size at 256 nodes (ids 0-255).
type Id uint8

func (id Id) String() string {
	return fmt.Sprintf("n%d", uint8(id))
}
