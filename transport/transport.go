// Package transport is a reference TCP host loop: it accepts inbound
// frames, decodes them with package wire, hands them to an engine.Engine,
// and relays the resulting outbound messages to their peers.
//
// Grounded on cluster/node.go's RemoteNode.SendMessage (dial-or-reuse a
// connection, write a message, read the response) and LocalNode (this
// node never dials itself). The connection-pool/partitioner/topology
// machinery cluster.go layers on top of that connect/send shape is cluster
// membership reconfiguration, out of scope per spec.md §1, and is not
// reproduced — this package only needs a fixed, operator-supplied peer
// address table.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"

	logging "github.com/op/go-logging"

	"github.com/kickboxer/trex/engine"
	"github.com/kickboxer/trex/node"
	"github.com/kickboxer/trex/paxos"
	"github.com/kickboxer/trex/wire"
)

var logger *logging.Logger

func init() {
	logger = logging.MustGetLogger("transport")
}

// Transport owns this node's listener and its outbound connections to
// peers, and drives an engine.Engine with whatever arrives.
type Transport struct {
	selfId     node.Id
	listenAddr string
	engine     *engine.Engine
	onFixed    func(paxos.Slot, paxos.Command)

	mu       sync.Mutex
	peers    map[node.Id]string
	conns    map[node.Id]net.Conn
	listener net.Listener
}

func New(selfId node.Id, listenAddr string, peers map[node.Id]string, eng *engine.Engine) *Transport {
	return &Transport{
		selfId:     selfId,
		listenAddr: listenAddr,
		engine:     eng,
		peers:      peers,
		conns:      make(map[node.Id]net.Conn),
	}
}

// OnFixed registers a callback invoked, in slot order, for every command
// this node's engine reports fixed — the host's hook for driving an
// application state machine such as store.Machine (spec.md §1, "the
// application state machine that consumes fixed commands" is an external
// collaborator; this package only reports, it never applies).
func (t *Transport) OnFixed(fn func(paxos.Slot, paxos.Command)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFixed = fn
}

// ListenAndServe accepts inbound connections and serves each on its own
// goroutine until the listener is closed.
func (t *Transport) ListenAndServe() error {
	ln, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()
	logger.Info("listening on %v as node %v", ln.Addr(), t.selfId)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("transport: accept: %w", err)
		}
		go t.serve(conn)
	}
}

// Addr returns the listener's bound address, or nil if ListenAndServe has
// not yet finished binding it — useful for tests that listen on ":0" and
// need to discover the OS-assigned port to hand to a peer.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// SetPeerAddr updates (or adds) the dial address for peer id, discarding
// any cached connection to it. Used by tests and by hosts that learn a
// peer's real address only after it starts listening.
func (t *Transport) SetPeerAddr(id node.Id, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peers == nil {
		t.peers = make(map[node.Id]string)
	}
	t.peers[id] = addr
	if conn, ok := t.conns[id]; ok {
		conn.Close()
		delete(t.conns, id)
	}
}

func (t *Transport) serve(conn net.Conn) {
	defer conn.Close()
	for {
		frame, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				logger.Warning("read frame from %v failed: %v", conn.RemoteAddr(), err)
			}
			return
		}
		msg, err := wire.DecodeMessage(frame)
		if err != nil {
			logger.Warning("decode frame from %v failed: %v", conn.RemoteAddr(), err)
			continue
		}
		t.deliver(msg)
	}
}

// deliver hands a single inbound message to the engine, applies whatever it
// fixed, and relays whatever it produces.
func (t *Transport) deliver(msg paxos.Message) {
	result, err := t.engine.Paxos([]paxos.Message{msg})
	if err != nil {
		logger.Error("paxos dispatch of %T from %v failed: %v", msg, msg.GetFrom(), err)
		return
	}
	t.applyFixed(result.CommandsBySlot)
	t.relay(result.Messages)
}

// applyFixed invokes the registered OnFixed callback for each newly-fixed
// slot in ascending order (spec.md §8 property 4, "fixed slots are produced
// in contiguous ascending order").
func (t *Transport) applyFixed(bySlot map[paxos.Slot]paxos.Command) {
	if len(bySlot) == 0 {
		return
	}
	t.mu.Lock()
	fn := t.onFixed
	t.mu.Unlock()
	if fn == nil {
		return
	}
	slots := make([]paxos.Slot, 0, len(bySlot))
	for s := range bySlot {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	for _, s := range slots {
		fn(s, bySlot[s])
	}
}

// Relay routes a batch of outbound messages produced outside the normal
// inbound-dispatch path — a fired timeout or heartbeat, for instance — the
// same way deliver's own outbound messages are routed.
func (t *Transport) Relay(msgs []paxos.Message) {
	t.relay(msgs)
}

// relay routes each outbound message: directed messages (spec 6, "direct
// messages also carry to") go point-to-point, everything else broadcasts
// to every known peer.
func (t *Transport) relay(msgs []paxos.Message) {
	for _, m := range msgs {
		if directed, ok := m.(paxos.Directed); ok {
			if err := t.Send(directed.GetTo(), m); err != nil {
				logger.Warning("send %T to %v failed: %v", m, directed.GetTo(), err)
			}
			continue
		}
		t.mu.Lock()
		peers := make([]node.Id, 0, len(t.peers))
		for id := range t.peers {
			peers = append(peers, id)
		}
		t.mu.Unlock()
		for _, id := range peers {
			if id == t.selfId {
				continue
			}
			if err := t.Send(id, m); err != nil {
				logger.Warning("broadcast %T to %v failed: %v", m, id, err)
			}
		}
	}
}

// Send delivers a single message to peer id, dialing lazily and caching
// the connection for reuse (RemoteNode.getConnection's pool-or-dial shape,
// reduced to a single cached connection per peer rather than a pool).
func (t *Transport) Send(to node.Id, msg paxos.Message) error {
	conn, err := t.connFor(to)
	if err != nil {
		return err
	}
	frame, err := wire.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err := writeFrame(conn, frame); err != nil {
		t.mu.Lock()
		delete(t.conns, to)
		t.mu.Unlock()
		conn.Close()
		return err
	}
	return nil
}

func (t *Transport) connFor(id node.Id) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[id]; ok {
		return conn, nil
	}
	addr, ok := t.peers[id]
	if !ok {
		return nil, fmt.Errorf("transport: unknown peer %v", id)
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %v: %w", addr, err)
	}
	t.conns[id] = conn
	return conn, nil
}

// --- length-prefixed framing ---------------------------------------------

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
