// Package journal provides reference implementations of paxos.Journal
// (spec 4.2). Concrete durable storage is an external collaborator of the
// core (spec 1); Memory is the volatile implementation used in tests,
// File is the crash-durable one a host process uses.
package journal

import (
	"sync"

	"github.com/kickboxer/trex/node"
	"github.com/kickboxer/trex/paxos"
)

// Memory is a volatile, in-process paxos.Journal. It never touches disk, so
// "restart" in tests means constructing a fresh Core over a Progress value
// carried forward by hand — exactly spec 1 non-goal 4's "the engine does not
// persist volatile tally maps across restarts" taken to its logical, fully
// in-memory extreme.
type Memory struct {
	mu       sync.Mutex
	progress map[node.Id]paxos.Progress
	accepts  map[paxos.Slot]paxos.Accept
}

func NewMemory() *Memory {
	return &Memory{
		progress: make(map[node.Id]paxos.Progress),
		accepts:  make(map[paxos.Slot]paxos.Accept),
	}
}

func (m *Memory) LoadProgress(id node.Id) (paxos.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.progress[id]; ok {
		return p, nil
	}
	return paxos.Progress{NodeId: id}, nil
}

func (m *Memory) SaveProgress(p paxos.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[p.NodeId] = p
	return nil
}

// JournalAccept is a no-op when the slot already holds a record equal to a
// under Accept.Equal, safe under either interpretation of spec 9(iii).
func (m *Memory) JournalAccept(a paxos.Accept) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.accepts[a.Slot]; ok && existing.Equal(a) {
		return nil
	}
	m.accepts[a.Slot] = a
	return nil
}

func (m *Memory) LoadAccept(slot paxos.Slot) (*paxos.Accept, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accepts[slot]; ok {
		return &a, nil
	}
	return nil, nil
}

// Sync is a no-op: nothing is buffered, everything above already landed in
// the map under the mutex.
func (m *Memory) Sync() error { return nil }
