// Package store is a minimal demo application state machine that consumes
// the engine's fixed commands. It exists only as a reference consumer;
// spec.md explicitly places the application state machine out of the
// core's scope ("(c) the application state machine that consumes fixed
// commands" — spec 1), and the engine package never imports this one.
//
// Grounded on this directory's original Value/Instruction shape (a
// Cmd/Key/Args/Timestamp instruction executed against a keyed Value store)
// and redis.go's singleValue, reduced from that store's multi-command,
// multi-type interface down to the single SET instruction a demo needs.
package store

import (
	"bufio"
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kickboxer/trex/paxos"
)

// Value is the record held at a key, mirroring the original singleValue
// (data + timestamp, no richer value types).
type Value struct {
	Data      []byte
	Timestamp time.Time
}

func (v Value) Equal(o Value) bool {
	return bytes.Equal(v.Data, o.Data) && v.Timestamp.Equal(o.Timestamp)
}

// Instruction is the decoded form of a paxos.Command.Payload: a single SET
// against a key.
type Instruction struct {
	Key       string
	Data      []byte
	Timestamp time.Time
}

func (i Instruction) Equal(o Instruction) bool {
	return i.Key == o.Key && bytes.Equal(i.Data, o.Data) && i.Timestamp.Equal(o.Timestamp)
}

// EncodeInstruction serializes an Instruction for use as a Command payload,
// using a length-prefixed field framing in the style of
// serializer.WriteFieldBytes/ReadFieldBytes.
func EncodeInstruction(instr Instruction) []byte {
	var buf bytes.Buffer
	writeFieldBytes(&buf, []byte(instr.Key))
	writeFieldBytes(&buf, instr.Data)
	ts, _ := instr.Timestamp.MarshalBinary()
	writeFieldBytes(&buf, ts)
	return buf.Bytes()
}

func decodeInstruction(payload []byte) (Instruction, error) {
	r := bufio.NewReader(bytes.NewReader(payload))
	key, err := readFieldBytes(r)
	if err != nil {
		return Instruction{}, fmt.Errorf("store: decode key: %w", err)
	}
	data, err := readFieldBytes(r)
	if err != nil {
		return Instruction{}, fmt.Errorf("store: decode data: %w", err)
	}
	tsBytes, err := readFieldBytes(r)
	if err != nil {
		return Instruction{}, fmt.Errorf("store: decode timestamp: %w", err)
	}
	var ts time.Time
	if err := ts.UnmarshalBinary(tsBytes); err != nil {
		return Instruction{}, fmt.Errorf("store: decode timestamp: %w", err)
	}
	return Instruction{Key: string(key), Data: data, Timestamp: ts}, nil
}

// NewSetCommand builds a paxos.Command carrying a SET instruction, keyed by
// a client-supplied request id (spec 3, "App{client_msg_uuid, payload}").
func NewSetCommand(id uuid.UUID, key string, data []byte, ts time.Time) paxos.Command {
	payload := EncodeInstruction(Instruction{Key: key, Data: data, Timestamp: ts})
	return paxos.NewAppCommand(id, payload)
}

// Machine is the demo keyspace that applies fixed commands in slot order.
// It tracks which slots it has already applied so a replayed Fixed report
// for an already-applied slot (the engine does not deduplicate, spec 1
// non-goal 3) is a no-op rather than a double-apply.
type Machine struct {
	mu      sync.RWMutex
	data    map[string]Value
	applied map[paxos.Slot]bool
}

func NewMachine() *Machine {
	return &Machine{
		data:    make(map[string]Value),
		applied: make(map[paxos.Slot]bool),
	}
}

// Apply applies a single fixed command at slot. NoOp commands advance
// nothing in the keyspace but are still marked applied, so a later replay
// of the same slot is recognized as a duplicate.
func (m *Machine) Apply(slot paxos.Slot, cmd paxos.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.applied[slot] {
		return nil
	}
	m.applied[slot] = true

	if cmd.Kind == paxos.NoOp {
		return nil
	}

	instr, err := decodeInstruction(cmd.Payload)
	if err != nil {
		return err
	}
	m.data[instr.Key] = Value{Data: instr.Data, Timestamp: instr.Timestamp}
	return nil
}

func (m *Machine) Get(key string) (Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *Machine) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

func writeFieldBytes(buf *bytes.Buffer, b []byte) {
	size := uint32(len(b))
	buf.WriteByte(byte(size >> 24))
	buf.WriteByte(byte(size >> 16))
	buf.WriteByte(byte(size >> 8))
	buf.WriteByte(byte(size))
	buf.Write(b)
}

func readFieldBytes(r *bufio.Reader) ([]byte, error) {
	var sz [4]byte
	if _, err := fullRead(r, sz[:]); err != nil {
		return nil, err
	}
	size := uint32(sz[0])<<24 | uint32(sz[1])<<16 | uint32(sz[2])<<8 | uint32(sz[3])
	b := make([]byte, size)
	if _, err := fullRead(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func fullRead(r *bufio.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := r.Read(b[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
