package paxos

import (
	"sort"

	logging "github.com/op/go-logging"

	"github.com/kickboxer/trex/node"
)

var logger *logging.Logger

func init() {
	logger = logging.MustGetLogger("paxos")
}

// FixedEntry is a single newly-fixed command, paired with the slot it was
// fixed at (spec 2, C7).
type FixedEntry struct {
	Slot    Slot
	Command Command
}

// Core is the per-node Paxos decision function (spec 2, C7; spec 4.4). It
// owns Progress, role, term and the volatile tallies, and is the single
// place role transitions and the safety invariants are enforced. Core does
// no I/O beyond the Journal it is handed, and returns everything else
// (outbound messages, fixed commands) for its caller — normally an
// engine.Engine — to act on.
//
// Core is not safe for concurrent use; the Engine wrapper supplies the
// single-writer mutual exclusion (spec 5).
type Core struct {
	selfId   node.Id
	journal  Journal
	assessor Assessor

	progress Progress
	role     Role
	term     *Ballot

	prepareTallies map[Slot]*prepareTally
	acceptTallies  map[Slot]*acceptTally

	// maxProbedSlot tracks how far this node has extended its recovery
	// Prepare probing under the current term (spec 4.4.3(a)).
	maxProbedSlot Slot

	// pending holds self-addressed messages queued by a handler for
	// delivery within the same Dispatch call (spec 9, "Cyclic self
	// delivery"), instead of true recursion.
	pending []Message
}

// New constructs a Core from durable progress already loaded from the
// journal (spec 4.2, "load_progress is called at startup only"). The node
// always begins as a Follower; volatile tallies are never persisted across
// restarts (spec 1, non-goal 4).
func New(selfID node.Id, progress Progress, j Journal, a Assessor) *Core {
	return &Core{
		selfId:         selfID,
		journal:        j,
		assessor:       a,
		progress:       progress,
		role:           Follow,
		prepareTallies: make(map[Slot]*prepareTally),
		acceptTallies:  make(map[Slot]*acceptTally),
	}
}

func (c *Core) Progress() Progress { return c.progress }
func (c *Core) Role() Role         { return c.role }
func (c *Core) SelfId() node.Id    { return c.selfId }

// Abdicate forces a backdown from outside the core, used by the Engine
// wrapper's evidence-of-leader handling (spec 4.5) which must abdicate
// before a message is even dispatched.
func (c *Core) Abdicate() {
	if c.role != Follow {
		logger.Info("abdicating at caller's request (evidence of leader)")
		c.backdown()
	}
}

// Term returns this node's current proposal ballot, or nil when Follow
// (spec 3, "Term").
func (c *Core) Term() *Ballot {
	if c.term == nil {
		return nil
	}
	t := *c.term
	return &t
}

// Dispatch feeds a single inbound message through the core and drains any
// self-addressed messages it queues, returning the full batch of outbound
// messages and newly-fixed commands (spec 4.4).
func (c *Core) Dispatch(msg Message) (outbound []Message, fixed []FixedEntry, err error) {
	c.pending = append(c.pending, msg)
	return c.drainPending()
}

// --- 4.4.1 Prepare -----------------------------------------------------

func (c *Core) handlePrepare(m *Prepare) ([]Message, error) {
	p := c.progress

	if m.Ballot.Less(p.HighestPromised) || m.Slot <= p.HighestFixed {
		resp := c.negativePrepareResponse(m)
		logger.Debug("prepare from %v at slot %v ballot %v rejected", m.From, m.Slot, m.Ballot)
		return []Message{resp}, nil
	}

	if p.HighestPromised.Less(m.Ballot) {
		p.HighestPromised = m.Ballot
		c.progress = p
		if err := c.journal.SaveProgress(p); err != nil {
			return nil, err
		}

		resp := c.positivePrepareResponse(m)

		if m.From != c.selfId && c.role != Follow {
			logger.Info("backing down: saw prepare from %v with higher ballot %v", m.From, m.Ballot)
			c.backdown()
		}

		if m.From == c.selfId {
			c.pending = append(c.pending, resp)
		}
		return []Message{resp}, nil
	}

	// ballot == HighestPromised: idempotent re-ack. Still self-deliver when
	// self-originated: the extension probes issued at the same term in
	// handlePrepareResponse's WIN branch land here (HighestPromised was
	// already raised by the initial Timeout Prepare), and every tally this
	// node opens for itself must receive an explicit self-vote.
	resp := c.positivePrepareResponse(m)
	if m.From == c.selfId {
		c.pending = append(c.pending, resp)
	}
	return []Message{resp}, nil
}

func (c *Core) negativePrepareResponse(m *Prepare) *PrepareResponse {
	accept, _ := c.journal.LoadAccept(m.Slot)
	return &PrepareResponse{
		From:                 c.selfId,
		To:                   m.From,
		Vote:                 Vote{Voter: c.selfId, VotedFor: m.From, Slot: m.Slot, Yes: false, Ballot: m.Ballot},
		VoterHighestFixed:    c.progress.HighestFixed,
		VoterHighestAccepted: c.progress.HighestAccepted,
		JournalledAccept:     accept,
	}
}

func (c *Core) positivePrepareResponse(m *Prepare) *PrepareResponse {
	accept, _ := c.journal.LoadAccept(m.Slot)
	return &PrepareResponse{
		From:                 c.selfId,
		To:                   m.From,
		Vote:                 Vote{Voter: c.selfId, VotedFor: m.From, Slot: m.Slot, Yes: true, Ballot: m.Ballot},
		VoterHighestFixed:    c.progress.HighestFixed,
		VoterHighestAccepted: c.progress.HighestAccepted,
		JournalledAccept:     accept,
	}
}

// --- 4.4.2 Accept --------------------------------------------------------

func (c *Core) handleAccept(m *AcceptMsg) ([]Message, error) {
	p := c.progress

	negative := m.Ballot.Less(p.HighestPromised) ||
		(p.HighestPromised.Less(m.Ballot) && m.Slot <= p.HighestFixed)
	if negative {
		resp := &AcceptResponse{
			From:              c.selfId,
			To:                m.From,
			Vote:              Vote{Voter: c.selfId, VotedFor: m.From, Slot: m.Slot, Yes: false, Ballot: m.Ballot},
			VoterHighestFixed: p.HighestFixed,
		}
		return []Message{resp}, nil
	}

	accept := m.toAccept()
	if err := c.journal.JournalAccept(accept); err != nil {
		return nil, err
	}

	if m.Slot > p.HighestAccepted {
		p.HighestAccepted = m.Slot
	}

	raisedBallot := p.HighestPromised.Less(m.Ballot)
	if raisedBallot {
		p.HighestPromised = m.Ballot
	}
	c.progress = p

	if raisedBallot && c.role == Lead {
		if tally, ok := c.acceptTallies[m.Slot]; ok && tally.accept.Ballot.Less(m.Ballot) {
			tally.responses[c.selfId] = &AcceptResponse{
				From: c.selfId, To: c.selfId,
				Vote:              Vote{Voter: c.selfId, VotedFor: c.selfId, Slot: m.Slot, Yes: false, Ballot: m.Ballot},
				VoterHighestFixed: p.HighestFixed,
			}
			if c.assessor.AssessAccepts(m.Slot, tally.votes()) == Lose {
				logger.Info("backing down: self-nack on slot %v lost quorum after higher accept seen", m.Slot)
				c.backdown()
			}
		}
	}

	if err := c.journal.SaveProgress(c.progress); err != nil {
		return nil, err
	}

	resp := &AcceptResponse{
		From:              c.selfId,
		To:                m.From,
		Vote:              Vote{Voter: c.selfId, VotedFor: m.From, Slot: m.Slot, Yes: true, Ballot: m.Ballot},
		VoterHighestFixed: c.progress.HighestFixed,
	}
	if m.From == c.selfId {
		c.pending = append(c.pending, resp)
	}
	return []Message{resp}, nil
}

// --- 4.4.3 PrepareResponse -----------------------------------------------

func (c *Core) handlePrepareResponse(m *PrepareResponse) ([]Message, []FixedEntry, error) {
	if c.role != Recover || m.To != c.selfId {
		return nil, nil, nil
	}

	if m.VoterHighestFixed > c.progress.HighestFixed {
		logger.Info("backing down: prepare voter %v has fixed past us (%v > %v)", m.From, m.VoterHighestFixed, c.progress.HighestFixed)
		c.backdown()
		return nil, nil, nil
	}

	slot := m.Vote.Slot
	tally, ok := c.prepareTallies[slot]
	if !ok {
		return nil, nil, nil
	}
	tally.responses[m.From] = m

	switch c.assessor.AssessPromises(slot, tally.votes()) {
	case Wait:
		return nil, nil, nil
	case Lose:
		logger.Info("backing down: lost prepare quorum at slot %v", slot)
		c.backdown()
		return nil, nil, nil
	}

	// WIN.
	var outbound []Message

	maxAccepted := c.progress.HighestAccepted
	for _, r := range tally.responses {
		if r.VoterHighestAccepted > maxAccepted {
			maxAccepted = r.VoterHighestAccepted
		}
	}
	if maxAccepted > c.maxProbedSlot {
		for s := c.maxProbedSlot + 1; s <= maxAccepted; s++ {
			c.prepareTallies[s] = newPrepareTally(s)
			probe := &Prepare{From: c.selfId, Slot: s, Ballot: *c.term}
			outbound = append(outbound, probe)
			// self-delivered like the initial Timeout Prepare: the assessor
			// takes no implicit credit for this node's own vote, so every
			// tally this node opens for itself must receive an explicit one.
			c.pending = append(c.pending, probe)
		}
		c.maxProbedSlot = maxAccepted
	}

	var chosen *Accept
	for _, r := range tally.responses {
		if r.JournalledAccept != nil && r.JournalledAccept.Slot == slot {
			chosen = higherAccept(chosen, r.JournalledAccept)
		}
	}
	cmd := NoOpCommand
	if chosen != nil {
		cmd = chosen.Command
	}

	accept := Accept{ProposerId: c.selfId, Slot: slot, Ballot: *c.term, Command: cmd}
	if err := c.journal.JournalAccept(accept); err != nil {
		return nil, nil, err
	}
	c.acceptTallies[slot] = newAcceptTally(accept)
	acceptMsg := acceptToMsg(accept)
	outbound = append(outbound, acceptMsg)
	c.pending = append(c.pending, acceptMsg)

	delete(c.prepareTallies, slot)

	if len(c.prepareTallies) == 0 {
		c.role = Lead
		logger.Info("ascending to leader at term %v", c.term)
	}

	return outbound, nil, nil
}

// --- 4.4.4 AcceptResponse -------------------------------------------------

func (c *Core) handleAcceptResponse(m *AcceptResponse) ([]Message, []FixedEntry, error) {
	if c.role == Follow || m.To != c.selfId {
		return nil, nil, nil
	}

	if c.role == Lead && m.VoterHighestFixed > c.progress.HighestFixed {
		logger.Info("backing down: accept voter %v has fixed past us while leading", m.From)
		c.backdown()
		return nil, nil, nil
	}

	slot := m.Vote.Slot
	tally, ok := c.acceptTallies[slot]
	if !ok || tally.chosen {
		return nil, nil, nil
	}
	tally.responses[m.From] = m

	switch c.assessor.AssessAccepts(slot, tally.votes()) {
	case Wait:
		return nil, nil, nil
	case Lose:
		logger.Info("backing down: lost accept quorum at slot %v", slot)
		c.backdown()
		return nil, nil, nil
	}

	tally.chosen = true

	fixed, err := c.contiguousCommitScan()
	if err != nil {
		return nil, nil, err
	}

	commit := &FixedCommit{From: c.selfId, FixedSlot: c.progress.HighestFixed, FixedBallot: *c.term}
	return []Message{commit}, fixed, nil
}

// contiguousCommitScan walks the AcceptTally map in ascending slot order,
// fixing every contiguous chosen entry starting at HighestFixed+1 and
// stopping at the first gap (spec 4.4.4 WIN branch).
func (c *Core) contiguousCommitScan() ([]FixedEntry, error) {
	slots := make([]Slot, 0, len(c.acceptTallies))
	for s := range c.acceptTallies {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	var fixed []FixedEntry
	next := c.progress.HighestFixed + 1
	for _, s := range slots {
		if s != next {
			break
		}
		tally := c.acceptTallies[s]
		if !tally.chosen {
			break
		}
		fixed = append(fixed, FixedEntry{Slot: s, Command: tally.accept.Command})
		delete(c.acceptTallies, s)
		c.progress.HighestFixed = s
		next = s + 1
	}

	if len(fixed) > 0 {
		if err := c.journal.SaveProgress(c.progress); err != nil {
			return nil, err
		}
	}
	return fixed, nil
}

// --- 4.4.5 Fixed/Commit ---------------------------------------------------

func (c *Core) handleFixedCommit(m *FixedCommit) ([]Message, []FixedEntry, error) {
	h := c.progress.HighestFixed
	if m.FixedSlot <= h {
		return nil, nil, nil
	}

	var fixed []FixedEntry
	s := h + 1
	for ; s <= m.FixedSlot; s++ {
		accept, err := c.journal.LoadAccept(s)
		if err != nil {
			return nil, nil, err
		}
		if accept == nil {
			break
		}
		if s == m.FixedSlot && accept.Ballot != m.FixedBallot {
			break
		}
		fixed = append(fixed, FixedEntry{Slot: s, Command: accept.Command})
		c.progress.HighestFixed = s
	}

	if len(fixed) > 0 {
		if err := c.journal.SaveProgress(c.progress); err != nil {
			return nil, nil, err
		}
	}

	var outbound []Message
	if s <= m.FixedSlot {
		missing := make([]Slot, 0, m.FixedSlot-s+1)
		for ; s <= m.FixedSlot; s++ {
			missing = append(missing, s)
		}
		outbound = append(outbound, &Catchup{From: c.selfId, To: m.From, Slots: missing})
	}

	if c.role != Follow {
		logger.Info("backing down: fixed/commit from %v at slot %v is authoritative", m.From, m.FixedSlot)
		c.backdown()
	}

	return outbound, fixed, nil
}

// --- 4.4.6 Catchup ---------------------------------------------------------

func (c *Core) handleCatchup(m *Catchup) ([]Message, error) {
	accepts := make([]Accept, 0, len(m.Slots))
	for _, s := range m.Slots {
		if s > c.progress.HighestFixed {
			continue
		}
		if accept, err := c.journal.LoadAccept(s); err == nil && accept != nil {
			accepts = append(accepts, *accept)
		}
	}
	return []Message{&CatchupResponse{From: c.selfId, To: m.From, Accepts: accepts}}, nil
}

// --- 4.4.7 CatchupResponse ---------------------------------------------

func (c *Core) handleCatchupResponse(m *CatchupResponse) ([]Message, error) {
	var outbound []Message
	for _, a := range m.Accepts {
		out, _, err := c.handleAccept(acceptToMsg(a))
		if err != nil {
			return nil, err
		}
		outbound = append(outbound, out...)
	}
	return outbound, nil
}

// --- 4.4.8 Propose ----------------------------------------------------

// Propose is the host-initiated "commit this command" entry point. It is
// only valid when this node is Lead (spec 4.4.8, spec 9(ii)).
func (c *Core) Propose(cmd Command) (*AcceptMsg, []Message, []FixedEntry, error) {
	if c.role != Lead || c.term == nil {
		return nil, nil, nil, ErrNotLeader
	}

	slot := c.progress.HighestAccepted + 1
	accept := Accept{ProposerId: c.selfId, Slot: slot, Ballot: *c.term, Command: cmd}
	c.acceptTallies[slot] = newAcceptTally(accept)

	if err := c.journal.JournalAccept(accept); err != nil {
		return nil, nil, nil, err
	}
	c.progress.HighestAccepted = slot
	if err := c.journal.SaveProgress(c.progress); err != nil {
		return nil, nil, nil, err
	}

	acceptMsg := acceptToMsg(accept)
	c.pending = append(c.pending, acceptMsg)
	outbound, fixed, err := c.drainPending()
	if err != nil {
		return nil, nil, nil, err
	}
	return acceptMsg, outbound, fixed, nil
}

// drainSafetyBound caps how many self-addressed messages a single Dispatch
// call will drain. The protocol's own recursion depth is small (prepare ->
// self-response -> accept -> self-response, spec 5), but a recovery that
// extends probing across many slots at once (4.4.3(a)) can queue one
// self-delivered Prepare and one self-delivered Accept per extended slot, so
// this is a generous backstop against a runaway loop, not a protocol limit:
// it must never be reached by any slot count a real cluster would recover
// across in one round. Draining to quiescence within the same Dispatch call
// is what spec 9's "Cyclic self-delivery" requires.
const drainSafetyBound = 1 << 20

// drainPending runs the Dispatch loop over whatever is already queued in
// c.pending, without adding a new outer message. Used by Propose/Timeout
// which seed self-delivery directly.
func (c *Core) drainPending() ([]Message, []FixedEntry, error) {
	var outbound []Message
	var fixed []FixedEntry
	for i := 0; i < drainSafetyBound && len(c.pending) > 0; i++ {
		next := c.pending[0]
		c.pending = c.pending[1:]

		var out []Message
		var fx []FixedEntry
		var err error
		switch m := next.(type) {
		case *Prepare:
			out, err = c.handlePrepare(m)
		case *PrepareResponse:
			out, fx, err = c.handlePrepareResponse(m)
		case *AcceptMsg:
			out, err = c.handleAccept(m)
		case *AcceptResponse:
			out, fx, err = c.handleAcceptResponse(m)
		case *FixedCommit:
			out, fx, err = c.handleFixedCommit(m)
		case *Catchup:
			out, err = c.handleCatchup(m)
		case *CatchupResponse:
			out, err = c.handleCatchupResponse(m)
		default:
			err = newFatalf("unhandled message type %T", next)
		}
		if err != nil {
			return outbound, fixed, err
		}
		outbound = append(outbound, out...)
		fixed = append(fixed, fx...)
	}
	return outbound, fixed, nil
}

// --- 4.4.9 Timeout -------------------------------------------------------

// Timeout transitions a Follower into Recover and kicks off an explicit
// Prepare round. A no-op when already Recover or Lead (spec 4.4.9).
//
// Like Propose, the seeded self-Prepare can resolve entirely through
// self-delivery when the assessor's quorum is reached by this node's own
// vote alone (a single-node cluster, spec 4.4.9's degenerate case), so the
// drainPending fixed result is forwarded rather than discarded.
func (c *Core) Timeout() (*Prepare, []Message, []FixedEntry, error) {
	if c.role != Follow {
		return nil, nil, nil, nil
	}

	c.term = new(Ballot)
	*c.term = NextBallot(c.progress.HighestPromised, c.selfId)
	c.role = Recover

	slot := c.progress.HighestFixed + 1
	c.maxProbedSlot = slot
	c.prepareTallies = map[Slot]*prepareTally{slot: newPrepareTally(slot)}
	c.acceptTallies = map[Slot]*acceptTally{}

	prepare := &Prepare{From: c.selfId, Slot: slot, Ballot: *c.term}
	c.pending = append(c.pending, prepare)
	outbound, fixed, err := c.drainPending()
	if err != nil {
		return nil, nil, nil, err
	}
	return prepare, outbound, fixed, nil
}

// --- 4.4.10 Heartbeat ------------------------------------------------

// Heartbeat re-announces progress (Lead), re-emits pending Prepares
// (Recover), or does nothing (Follow) (spec 4.4.10).
func (c *Core) Heartbeat() ([]Message, error) {
	switch c.role {
	case Lead:
		msgs := []Message{&FixedCommit{From: c.selfId, FixedSlot: c.progress.HighestFixed, FixedBallot: *c.term}}
		for s := c.progress.HighestFixed + 1; s <= c.progress.HighestAccepted; s++ {
			accept, err := c.journal.LoadAccept(s)
			if err != nil {
				return nil, err
			}
			if accept != nil {
				msgs = append(msgs, acceptToMsg(*accept))
			}
		}
		return msgs, nil
	case Recover:
		slots := make([]Slot, 0, len(c.prepareTallies))
		for s := range c.prepareTallies {
			slots = append(slots, s)
		}
		sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
		msgs := make([]Message, 0, len(slots))
		for _, s := range slots {
			msgs = append(msgs, &Prepare{From: c.selfId, Slot: s, Ballot: *c.term})
		}
		return msgs, nil
	default:
		return nil, nil
	}
}

// --- 4.4.11 Backdown -------------------------------------------------

// backdown transitions to Follow and clears volatile state. Progress is
// left untouched and is not re-persisted (spec 4.4.11).
func (c *Core) backdown() {
	c.role = Follow
	c.term = nil
	c.prepareTallies = make(map[Slot]*prepareTally)
	c.acceptTallies = make(map[Slot]*acceptTally)
	c.maxProbedSlot = 0
}
