// Package wire implements the bit-exact, big-endian network codec spec 6
// pins for paxos.Message and paxos.Progress. It is independent of the
// journal package's on-disk framing, which is free to pick its own layout.
//
// Grounded on the shape of serializer/serializer.go's
// WriteFieldBytes/ReadFieldBytes (length-prefixed fields over a
// bufio.Writer/Reader), but binary.BigEndian throughout per spec 6 — the
// teacher's codec is little-endian, a deliberate deviation since the wire
// format here is pinned exactly and unambiguously by the specification.
package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/kickboxer/trex/node"
	"github.com/kickboxer/trex/paxos"
)

// Message type discriminators (spec 6).
const (
	tagPrepare          = 0x01
	tagPrepareResponse  = 0x02
	tagAccept           = 0x03
	tagAcceptResponse   = 0x04
	tagFixedCommit      = 0x05
	tagCatchup          = 0x06
	tagCatchupResponse  = 0x07
)

// command kind tags within an encoded Accept (spec 6).
const (
	cmdNoOp = 0x00
	cmdApp  = 0x01
)

// DecodeError reports a malformed or unrecognized wire payload. Per spec 7
// ("unknown message type during decode: decoder error surfaced; core never
// sees it"), this is returned to the caller and must never reach
// paxos.Core.Dispatch.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return fmt.Sprintf("wire: decode: %s", e.Reason) }

// EncodeMessage serializes any paxos.Message to its big-endian wire form.
func EncodeMessage(m paxos.Message) ([]byte, error) {
	var buf bytes.Buffer
	switch v := m.(type) {
	case *paxos.Prepare:
		buf.WriteByte(tagPrepare)
		writeNodeID(&buf, v.From)
		writeU64(&buf, uint64(v.Slot))
		writeBallot(&buf, v.Ballot)
	case *paxos.PrepareResponse:
		buf.WriteByte(tagPrepareResponse)
		writeNodeID(&buf, v.From)
		writeNodeID(&buf, v.To)
		writeVote(&buf, v.Vote)
		writeU64(&buf, uint64(v.VoterHighestFixed))
		writeU64(&buf, uint64(v.VoterHighestAccepted))
		writeOptionalAccept(&buf, v.JournalledAccept)
	case *paxos.AcceptMsg:
		buf.WriteByte(tagAccept)
		writeNodeID(&buf, v.From)
		writeU64(&buf, uint64(v.Slot))
		writeBallot(&buf, v.Ballot)
		writeCommand(&buf, v.Command)
	case *paxos.AcceptResponse:
		buf.WriteByte(tagAcceptResponse)
		writeNodeID(&buf, v.From)
		writeNodeID(&buf, v.To)
		writeVote(&buf, v.Vote)
		writeU64(&buf, uint64(v.VoterHighestFixed))
	case *paxos.FixedCommit:
		buf.WriteByte(tagFixedCommit)
		writeNodeID(&buf, v.From)
		writeU64(&buf, uint64(v.FixedSlot))
		writeBallot(&buf, v.FixedBallot)
	case *paxos.Catchup:
		buf.WriteByte(tagCatchup)
		writeNodeID(&buf, v.From)
		writeNodeID(&buf, v.To)
		writeU32(&buf, uint32(len(v.Slots)))
		for _, s := range v.Slots {
			writeU64(&buf, uint64(s))
		}
	case *paxos.CatchupResponse:
		buf.WriteByte(tagCatchupResponse)
		writeNodeID(&buf, v.From)
		writeNodeID(&buf, v.To)
		writeU32(&buf, uint32(len(v.Accepts)))
		for _, a := range v.Accepts {
			writeAccept(&buf, a)
		}
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unencodable message type %T", m)}
	}
	return buf.Bytes(), nil
}

// DecodeMessage parses a big-endian wire payload into a paxos.Message.
func DecodeMessage(raw []byte) (paxos.Message, error) {
	r := bufio.NewReader(bytes.NewReader(raw))
	tag, err := r.ReadByte()
	if err != nil {
		return nil, &DecodeError{Reason: "empty payload"}
	}

	switch tag {
	case tagPrepare:
		from, err := readNodeID(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		slot, err := readU64(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		ballot, err := readBallot(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		return &paxos.Prepare{From: from, Slot: paxos.Slot(slot), Ballot: ballot}, nil

	case tagPrepareResponse:
		from, err := readNodeID(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		to, err := readNodeID(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		vote, err := readVote(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		voterFixed, err := readU64(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		voterAccepted, err := readU64(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		accept, err := readOptionalAccept(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		return &paxos.PrepareResponse{
			From: from, To: to, Vote: vote,
			VoterHighestFixed:    paxos.Slot(voterFixed),
			VoterHighestAccepted: paxos.Slot(voterAccepted),
			JournalledAccept:     accept,
		}, nil

	case tagAccept:
		from, err := readNodeID(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		slot, err := readU64(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		ballot, err := readBallot(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		cmd, err := readCommand(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		return &paxos.AcceptMsg{From: from, Slot: paxos.Slot(slot), Ballot: ballot, Command: cmd}, nil

	case tagAcceptResponse:
		from, err := readNodeID(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		to, err := readNodeID(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		vote, err := readVote(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		voterFixed, err := readU64(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		return &paxos.AcceptResponse{From: from, To: to, Vote: vote, VoterHighestFixed: paxos.Slot(voterFixed)}, nil

	case tagFixedCommit:
		from, err := readNodeID(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		slot, err := readU64(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		ballot, err := readBallot(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		return &paxos.FixedCommit{From: from, FixedSlot: paxos.Slot(slot), FixedBallot: ballot}, nil

	case tagCatchup:
		from, err := readNodeID(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		to, err := readNodeID(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		count, err := readU32(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		slots := make([]paxos.Slot, count)
		for i := range slots {
			s, err := readU64(r)
			if err != nil {
				return nil, wrapDecode(err)
			}
			slots[i] = paxos.Slot(s)
		}
		return &paxos.Catchup{From: from, To: to, Slots: slots}, nil

	case tagCatchupResponse:
		from, err := readNodeID(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		to, err := readNodeID(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		count, err := readU32(r)
		if err != nil {
			return nil, wrapDecode(err)
		}
		accepts := make([]paxos.Accept, count)
		for i := range accepts {
			a, err := readAccept(r)
			if err != nil {
				return nil, wrapDecode(err)
			}
			accepts[i] = a
		}
		return &paxos.CatchupResponse{From: from, To: to, Accepts: accepts}, nil

	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown message tag 0x%02x", tag)}
	}
}

func wrapDecode(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return &DecodeError{Reason: "truncated payload"}
	}
	return &DecodeError{Reason: err.Error()}
}

// --- primitive field codecs -------------------------------------------

func writeNodeID(buf *bytes.Buffer, id node.Id) { buf.WriteByte(byte(id)) }

func readNodeID(r *bufio.Reader) (node.Id, error) {
	b, err := r.ReadByte()
	return node.Id(b), err
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	buf.Write(b[:])
}

func readU64(r *bufio.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	var v uint64
	for _, bb := range b {
		v = v<<8 | uint64(bb)
	}
	return v, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	for i := 3; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	buf.Write(b[:])
}

func readU32(r *bufio.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	var v uint32
	for _, bb := range b {
		v = v<<8 | uint32(bb)
	}
	return v, nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func readU16(r *bufio.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func writeBallot(buf *bytes.Buffer, b paxos.Ballot) {
	writeU32(buf, b.Counter)
	writeNodeID(buf, b.NodeId)
}

func readBallot(r *bufio.Reader) (paxos.Ballot, error) {
	counter, err := readU32(r)
	if err != nil {
		return paxos.Ballot{}, err
	}
	id, err := readNodeID(r)
	if err != nil {
		return paxos.Ballot{}, err
	}
	return paxos.Ballot{Counter: counter, NodeId: id}, nil
}

func writeVote(buf *bytes.Buffer, v paxos.Vote) {
	writeNodeID(buf, v.Voter)
	writeNodeID(buf, v.VotedFor)
	writeU64(buf, uint64(v.Slot))
	writeBool(buf, v.Yes)
	writeBallot(buf, v.Ballot)
}

func readVote(r *bufio.Reader) (paxos.Vote, error) {
	voter, err := readNodeID(r)
	if err != nil {
		return paxos.Vote{}, err
	}
	votedFor, err := readNodeID(r)
	if err != nil {
		return paxos.Vote{}, err
	}
	slot, err := readU64(r)
	if err != nil {
		return paxos.Vote{}, err
	}
	yes, err := readBool(r)
	if err != nil {
		return paxos.Vote{}, err
	}
	ballot, err := readBallot(r)
	if err != nil {
		return paxos.Vote{}, err
	}
	return paxos.Vote{Voter: voter, VotedFor: votedFor, Slot: paxos.Slot(slot), Yes: yes, Ballot: ballot}, nil
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bufio.Reader) (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func writeCommand(buf *bytes.Buffer, c paxos.Command) {
	if c.Kind == paxos.NoOp {
		buf.WriteByte(cmdNoOp)
		return
	}
	buf.WriteByte(cmdApp)
	idBytes, _ := c.ClientMsgUUID.MarshalBinary()
	writeU16(buf, uint16(len(idBytes)))
	buf.Write(idBytes)
	writeU32(buf, uint32(len(c.Payload)))
	buf.Write(c.Payload)
}

func readCommand(r *bufio.Reader) (paxos.Command, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return paxos.Command{}, err
	}
	if tag == cmdNoOp {
		return paxos.NoOpCommand, nil
	}
	if tag != cmdApp {
		return paxos.Command{}, fmt.Errorf("unknown command tag 0x%02x", tag)
	}
	idLen, err := readU16(r)
	if err != nil {
		return paxos.Command{}, err
	}
	idBytes := make([]byte, idLen)
	if _, err := io.ReadFull(r, idBytes); err != nil {
		return paxos.Command{}, err
	}
	payloadLen, err := readU32(r)
	if err != nil {
		return paxos.Command{}, err
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return paxos.Command{}, err
	}
	var id uuid.UUID
	if len(idBytes) == 16 {
		id, _ = uuid.FromBytes(idBytes)
	}
	return paxos.Command{Kind: paxos.App, ClientMsgUUID: id, Payload: payload}, nil
}

func writeAccept(buf *bytes.Buffer, a paxos.Accept) {
	writeNodeID(buf, a.ProposerId)
	writeU64(buf, uint64(a.Slot))
	writeBallot(buf, a.Ballot)
	writeCommand(buf, a.Command)
}

func readAccept(r *bufio.Reader) (paxos.Accept, error) {
	proposer, err := readNodeID(r)
	if err != nil {
		return paxos.Accept{}, err
	}
	slot, err := readU64(r)
	if err != nil {
		return paxos.Accept{}, err
	}
	ballot, err := readBallot(r)
	if err != nil {
		return paxos.Accept{}, err
	}
	cmd, err := readCommand(r)
	if err != nil {
		return paxos.Accept{}, err
	}
	return paxos.Accept{ProposerId: proposer, Slot: paxos.Slot(slot), Ballot: ballot, Command: cmd}, nil
}

func writeOptionalAccept(buf *bytes.Buffer, a *paxos.Accept) {
	if a == nil {
		writeBool(buf, false)
		return
	}
	writeBool(buf, true)
	writeAccept(buf, *a)
}

func readOptionalAccept(r *bufio.Reader) (*paxos.Accept, error) {
	present, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	a, err := readAccept(r)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// EncodeProgress serializes a paxos.Progress per spec 6's journal encoding.
func EncodeProgress(p paxos.Progress) []byte {
	var buf bytes.Buffer
	writeNodeID(&buf, p.NodeId)
	writeBallot(&buf, p.HighestPromised)
	writeU64(&buf, uint64(p.HighestAccepted))
	writeU64(&buf, uint64(p.HighestFixed))
	return buf.Bytes()
}

// DecodeProgress is EncodeProgress's inverse.
func DecodeProgress(raw []byte) (paxos.Progress, error) {
	r := bufio.NewReader(bytes.NewReader(raw))
	id, err := readNodeID(r)
	if err != nil {
		return paxos.Progress{}, wrapDecode(err)
	}
	ballot, err := readBallot(r)
	if err != nil {
		return paxos.Progress{}, wrapDecode(err)
	}
	accepted, err := readU64(r)
	if err != nil {
		return paxos.Progress{}, wrapDecode(err)
	}
	fixed, err := readU64(r)
	if err != nil {
		return paxos.Progress{}, wrapDecode(err)
	}
	return paxos.Progress{
		NodeId:          id,
		HighestPromised: ballot,
		HighestAccepted: paxos.Slot(accepted),
		HighestFixed:    paxos.Slot(fixed),
	}, nil
}
