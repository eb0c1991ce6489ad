// Package engine wraps a paxos.Core with the mutual exclusion, journal
// sync ordering, timer-hook signalling and evidence-of-leader detection
// that spec 4.5/5 require of a host-facing Engine (spec 2, C8).
package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
	logging "github.com/op/go-logging"

	"github.com/kickboxer/trex/paxos"
)

var logger *logging.Logger

func init() {
	logger = logging.MustGetLogger("engine")
}

// TimerHooks is the pluggable timer-scheduling surface (spec 4.5, spec 9
// "Dynamic dispatch"). The engine declares when timers must be armed or
// cleared; it never schedules them itself.
type TimerHooks interface {
	SetRandomTimeout()
	ClearTimeout()
	SetHeartbeat()
}

// NopHooks is a TimerHooks that does nothing, useful for tests that drive
// Timeout/Heartbeat by hand.
type NopHooks struct{}

func (NopHooks) SetRandomTimeout() {}
func (NopHooks) ClearTimeout()     {}
func (NopHooks) SetHeartbeat()     {}

// Result is the merged output of a Paxos batch (spec 2, C9): every outbound
// message produced across the batch, plus a slot→command map with a
// uniqueness assertion already enforced.
type Result struct {
	Messages       []paxos.Message
	CommandsBySlot map[paxos.Slot]paxos.Command
}

// Engine guards a paxos.Core with single-writer mutual exclusion (spec 5)
// and is the only component permitted to call the Journal (spec 5, "Shared
// resource policy").
//
// Grounded on consensus/manager.go's Manager, which likewise wraps a core
// decision structure with a lock and a Journal dependency; the statsd
// instrumentation pattern is grounded on consensus/testing_mocks.go's
// mockNode.SendMessage, which times serialize/deserialize/process phases
// and increments an error counter per message type.
type Engine struct {
	mu sync.Mutex

	core    *paxos.Core
	journal paxos.Journal
	hooks   TimerHooks
	stats   statsd.Statter
}

func New(core *paxos.Core, journal paxos.Journal, hooks TimerHooks, stats statsd.Statter) *Engine {
	if hooks == nil {
		hooks = NopHooks{}
	}
	if stats == nil {
		stats, _ = statsd.NewNoopClient()
	}
	return &Engine{core: core, journal: journal, hooks: hooks, stats: stats}
}

// Start arms the initial random timeout (spec 6, "engine.start()").
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks.SetRandomTimeout()
}

// Paxos dispatches a batch of inbound messages, applying evidence-of-leader
// detection before each one, merges the results (C9), syncs the journal
// before returning (spec 5(ii)), and updates timer hooks on role change.
func (e *Engine) Paxos(batch []paxos.Message) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.core.Role()

	var allOutbound []paxos.Message
	var allFixed []paxos.FixedEntry

	for _, msg := range batch {
		if msg.GetFrom() == e.core.SelfId() {
			continue // self-originated messages seen via broadcast are dropped (spec 2)
		}

		if e.hasEvidenceOfLeader(msg) && e.core.Role() == paxos.Lead {
			e.stats.Inc("evidence_of_leader", 1, 1.0)
			e.core.Abdicate()
		}

		start := e.timingStart()
		outbound, fixed, err := e.core.Dispatch(msg)
		e.timeSince(fmt.Sprintf("dispatch.%T", msg), start)
		if err != nil {
			e.stats.Inc(statName("dispatch_error", msg), 1, 1.0)
			return nil, err
		}
		allOutbound = append(allOutbound, outbound...)
		allFixed = append(allFixed, fixed...)
	}

	if err := e.journal.Sync(); err != nil {
		return nil, err
	}

	result, err := mergeResult(allOutbound, allFixed)
	if err != nil {
		return nil, err
	}

	e.signalTimers(before)
	return result, nil
}

// Command proposes each command in turn, only producing output while Lead
// (spec 6, "engine.command"); a command submitted while not leading is
// silently dropped from the output, matching Propose's ErrNotLeader being a
// normal, side-effect-free outcome (spec 9(ii)).
func (e *Engine) Command(batch []paxos.Command) ([]paxos.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.core.Role()
	var outbound []paxos.Message
	for _, cmd := range batch {
		accept, msgs, _, err := e.core.Propose(cmd)
		if err == paxos.ErrNotLeader {
			continue
		}
		if err != nil {
			return nil, err
		}
		outbound = append(outbound, accept)
		outbound = append(outbound, msgs...)
	}

	if len(outbound) > 0 {
		if err := e.journal.Sync(); err != nil {
			return nil, err
		}
	}

	e.signalTimers(before)
	return outbound, nil
}

// Timeout fires the core's timeout transition (spec 6, "engine.timeout()").
func (e *Engine) Timeout() (*paxos.Prepare, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.core.Role()
	prepare, _, _, err := e.core.Timeout()
	if err != nil {
		return nil, err
	}
	if prepare != nil {
		if err := e.journal.Sync(); err != nil {
			return nil, err
		}
	}
	e.signalTimers(before)
	return prepare, nil
}

// Heartbeat re-announces progress or re-issues Prepares (spec 6,
// "engine.heartbeat()").
func (e *Engine) Heartbeat() ([]paxos.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	msgs, err := e.core.Heartbeat()
	if err != nil {
		return nil, err
	}
	if e.core.Role() == paxos.Lead || e.core.Role() == paxos.Recover {
		e.hooks.SetHeartbeat()
	}
	return msgs, nil
}

// hasEvidenceOfLeader implements spec 4.5's three evidence conditions.
func (e *Engine) hasEvidenceOfLeader(msg paxos.Message) bool {
	p := e.core.Progress()
	switch m := msg.(type) {
	case *paxos.FixedCommit:
		return m.FixedSlot >= p.HighestFixed
	case *paxos.AcceptMsg:
		return m.Slot > p.HighestAccepted || m.Slot > p.HighestFixed
	case *paxos.AcceptResponse:
		return m.VoterHighestFixed > p.HighestFixed
	default:
		return false
	}
}

// signalTimers arms/clears timers per spec 4.5's role-transition rules.
func (e *Engine) signalTimers(before paxos.Role) {
	after := e.core.Role()
	if before == paxos.Lead && after != paxos.Lead {
		e.hooks.SetRandomTimeout()
	}
	if after == paxos.Lead && before != paxos.Lead {
		e.hooks.ClearTimeout()
	}
	if after == paxos.Lead || after == paxos.Recover {
		e.hooks.SetHeartbeat()
	}
}

func statName(prefix string, msg paxos.Message) string {
	return strings.Replace(fmt.Sprintf("%s.%T", prefix, msg), "*", "", -1)
}

// timingStart/timeSince mirror consensus/testing_mocks.go's
// mockNode.SendMessage getDuration closure: millisecond timings plus 1ms, so
// a zero-duration call still registers.
func (e *Engine) timingStart() time.Time { return time.Now() }

func (e *Engine) timeSince(stat string, start time.Time) {
	delta := time.Since(start) / time.Millisecond
	e.stats.Timing(stat, int64(delta)+1, 1.0)
}
