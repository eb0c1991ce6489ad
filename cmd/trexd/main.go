// Command trexd wires a journal.File, quorum.Majority, paxos.Core,
// engine.Engine, transport.Transport and store.Machine into a runnable
// single-process Paxos node. No environment-variable or exit-code surface
// belongs to the core (spec.md §6); flags live here, not in the library
// packages.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	logging "github.com/op/go-logging"

	"github.com/kickboxer/trex/engine"
	"github.com/kickboxer/trex/journal"
	"github.com/kickboxer/trex/node"
	"github.com/kickboxer/trex/paxos"
	"github.com/kickboxer/trex/quorum"
	"github.com/kickboxer/trex/store"
	"github.com/kickboxer/trex/transport"
)

var logger *logging.Logger

func init() {
	logger = logging.MustGetLogger("trexd")
}

func main() {
	var (
		selfFlag   = flag.Uint("id", 0, "this node's id (0-255)")
		listenFlag = flag.String("listen", ":7700", "address to listen on")
		peersFlag  = flag.String("peers", "", "comma-separated id=addr pairs for every other node, e.g. 2=host:7700,3=host:7700")
		dataFlag   = flag.String("data", "./trex-data", "journal directory")
		minTimeout = flag.Duration("min-timeout", 1500*time.Millisecond, "minimum follower timeout")
		maxTimeout = flag.Duration("max-timeout", 3000*time.Millisecond, "maximum follower timeout")
		heartbeat  = flag.Duration("heartbeat", 500*time.Millisecond, "leader/recoverer heartbeat period")
	)
	flag.Parse()

	selfId := node.Id(*selfFlag)
	peers, err := parsePeers(*peersFlag)
	if err != nil {
		logger.Error("invalid -peers: %v", err)
		os.Exit(1)
	}

	j, err := journal.NewFile(*dataFlag)
	if err != nil {
		logger.Error("opening journal: %v", err)
		os.Exit(1)
	}

	progress, err := j.LoadProgress(selfId)
	if err != nil {
		logger.Error("loading progress: %v", err)
		os.Exit(1)
	}

	assessor := quorum.NewMajority(len(peers) + 1)
	core := paxos.New(selfId, progress, j, assessor)

	hooks := &timerHost{
		minTimeout: *minTimeout,
		maxTimeout: *maxTimeout,
		heartbeat:  *heartbeat,
	}
	eng := engine.New(core, j, hooks, nil)
	hooks.eng = eng

	tr := transport.New(selfId, *listenFlag, peers, eng)
	hooks.tr = tr

	machine := store.NewMachine()
	tr.OnFixed(func(slot paxos.Slot, cmd paxos.Command) {
		if err := machine.Apply(slot, cmd); err != nil {
			logger.Error("applying fixed slot %v: %v", slot, err)
		}
	})

	eng.Start()
	logger.Info("trexd node %v listening on %v, %d peers configured", selfId, *listenFlag, len(peers))
	if err := tr.ListenAndServe(); err != nil {
		logger.Error("serve: %v", err)
		os.Exit(1)
	}
}

func parsePeers(spec string) (map[node.Id]string, error) {
	peers := make(map[node.Id]string)
	if spec == "" {
		return peers, nil
	}
	for _, pair := range strings.Split(spec, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed peer entry %q", pair)
		}
		id, err := strconv.Atoi(kv[0])
		if err != nil || id < 0 || id > 255 {
			return nil, fmt.Errorf("malformed peer id in %q", pair)
		}
		peers[node.Id(id)] = kv[1]
	}
	return peers, nil
}

// timerHost implements engine.TimerHooks with real time.Timers, the way a
// host process (rather than a test) must.
type timerHost struct {
	minTimeout time.Duration
	maxTimeout time.Duration
	heartbeat  time.Duration

	eng *engine.Engine
	tr  *transport.Transport

	timeoutTimer *time.Timer
	heartbeatTimer *time.Timer
}

func (h *timerHost) SetRandomTimeout() {
	if h.timeoutTimer != nil {
		h.timeoutTimer.Stop()
	}
	span := h.maxTimeout - h.minTimeout
	d := h.minTimeout
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	h.timeoutTimer = time.AfterFunc(d, func() {
		prepare, err := h.eng.Timeout()
		if err != nil {
			logger.Error("timeout: %v", err)
			return
		}
		if prepare != nil {
			h.tr.Relay([]paxos.Message{prepare})
		}
	})
}

func (h *timerHost) ClearTimeout() {
	if h.timeoutTimer != nil {
		h.timeoutTimer.Stop()
	}
}

func (h *timerHost) SetHeartbeat() {
	if h.heartbeatTimer != nil {
		return
	}
	h.heartbeatTimer = time.AfterFunc(h.heartbeat, func() {
		h.heartbeatTimer = nil
		msgs, err := h.eng.Heartbeat()
		if err != nil {
			logger.Error("heartbeat: %v", err)
			return
		}
		h.tr.Relay(msgs)
	})
}
