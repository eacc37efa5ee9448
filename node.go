// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package votemesh wires the mesh, discovery, round, gui, and cli
// packages into one running node process: a single type that owns
// every subsystem and implements the Dispatcher every command surface
// (interactive REPL, GUI observer COMMAND frames) executes against.
package votemesh

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/luxfi/votemesh/cli"
	"github.com/luxfi/votemesh/config"
	"github.com/luxfi/votemesh/discovery"
	"github.com/luxfi/votemesh/gui"
	"github.com/luxfi/votemesh/log"
	"github.com/luxfi/votemesh/mesh"
	"github.com/luxfi/votemesh/round"
	"github.com/luxfi/votemesh/status"
	"github.com/luxfi/votemesh/telemetry"
	"go.uber.org/zap"
)

var _ cli.Dispatcher = (*Node)(nil)

// Node owns every subsystem of one running process: the mesh manager,
// the discovery beacon, the round engine, and the GUI fan-out. It
// implements cli.Dispatcher, so the interactive REPL and the GUI
// fan-out's COMMAND handler drive it identically.
type Node struct {
	cfg config.NodeConfig

	mesh   *mesh.Manager
	beacon *discovery.Beacon
	engine *round.Engine
	fanout *gui.FanOut

	log         log.Logger
	metrics     *telemetry.NodeMetrics
	startupTime time.Time
}

// New validates cfg and constructs every subsystem, wiring the round
// engine and GUI fan-out into the mesh manager's frame dispatch. It
// does not open any socket; call Run to do that.
func New(cfg config.NodeConfig, logger log.Logger, metrics *telemetry.NodeMetrics) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("votemesh: invalid config: %w", err)
	}

	n := &Node{
		cfg:         cfg,
		log:         logger,
		metrics:     metrics,
		startupTime: time.Now(),
	}

	n.mesh = mesh.NewManager(cfg.NodeID, cfg.ListenPort, cfg.Seeds, cfg.HeartbeatInterval, logger.With(zap.String("subsystem", "mesh")), metrics)
	n.engine = round.NewEngine(context.Background(), cfg.NodeID, cfg, n.mesh, logger.With(zap.String("subsystem", "round")), metrics)
	n.beacon = discovery.New(cfg.NodeID, cfg.ListenPort, cfg.DiscoveryPort, cfg.BeaconInterval, n.mesh, logger.With(zap.String("subsystem", "discovery")), metrics)
	n.fanout = gui.New(n.mesh, n, logger.With(zap.String("subsystem", "gui")))

	n.mesh.SetVotingHandler(n.engine.HandleFrame)
	n.mesh.SetCommandHandler(n.fanout.HandleCommand)

	return n, nil
}

// Run probes the seed list for a duplicate identity, then opens the
// TCP listener, the discovery beacon, the heartbeat loop, and (unless
// NoGUI is set) the GUI fan-out, blocking until ctx is cancelled or a
// subsystem fails fatally.
func (n *Node) Run(ctx context.Context) error {
	if err := n.mesh.ProbeDuplicates(ctx, n.cfg.Seeds); err != nil {
		return fmt.Errorf("votemesh: startup duplicate check: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := n.mesh.Listen(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := n.beacon.Run(ctx); err != nil {
			n.log.Warn("discovery beacon stopped", zap.Error(err))
		}
	}()
	go n.mesh.RunHeartbeat(ctx, n.cfg.HeartbeatInterval)
	if !n.cfg.NoGUI {
		go n.fanout.Run(ctx)
	}

	for _, seed := range n.cfg.Seeds {
		host, portStr, err := splitHostPort(seed)
		if err != nil {
			n.log.Warn("skipping malformed seed", zap.String("seed", seed), zap.Error(err))
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			n.log.Warn("skipping malformed seed port", zap.String("seed", seed), zap.Error(err))
			continue
		}
		go n.mesh.Dial(ctx, "", host, port)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("votemesh: %q is not host:port", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

// Status implements cli.Dispatcher.
func (n *Node) Status() status.Snapshot {
	s := n.engine.Snapshot()
	s.NodeID = n.cfg.NodeID
	s.Peers = n.mesh.ActiveNodeCount() - 1
	s.PeersList = n.mesh.ActivePeerIDs()
	return s
}

// Peers implements cli.Dispatcher, listing every known address-book
// record regardless of activity.
func (n *Node) Peers() []cli.PeerSummary {
	return n.peerSummaries(n.mesh.AddressBook().All())
}

// Network implements cli.Dispatcher, listing only currently-active
// peers — the node's view of the live mesh topology.
func (n *Node) Network() []cli.PeerSummary {
	return n.peerSummaries(n.mesh.AddressBook().Active())
}

func (n *Node) peerSummaries(recs []mesh.PeerRecord) []cli.PeerSummary {
	out := make([]cli.PeerSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, cli.PeerSummary{NodeID: r.NodeID, Host: r.Host, Port: r.Port, Active: r.Active, LastSeen: r.LastSeen})
	}
	return out
}

// Discover implements cli.Dispatcher: it forgets every address the
// beacon has already deduplicated against, so the next broadcast
// cycle can rediscover peers that dropped off silently.
func (n *Node) Discover() {
	for _, r := range n.mesh.AddressBook().All() {
		n.beacon.Forget(r.Host, r.Port)
	}
}

// StartVotingRound implements cli.Dispatcher.
func (n *Node) StartVotingRound(topic string, allowedChoices []string, votingTimeSeconds int) (string, error) {
	r, err := n.engine.StartVotingRound(topic, allowedChoices, votingTimeSeconds)
	if err != nil {
		return "", err
	}
	return r.RoundID, nil
}

// CastVote implements cli.Dispatcher.
func (n *Node) CastVote(choice string) error {
	return n.engine.CastVote(choice)
}

// Results implements cli.Dispatcher.
func (n *Node) Results() (cli.ResultsSummary, bool) {
	r, ok := n.engine.Results()
	if !ok {
		return cli.ResultsSummary{}, false
	}
	return cli.ResultsSummary{
		RoundID:            r.RoundID,
		Topic:              r.Topic,
		Results:            r.Tally,
		VoteCount:          r.VoteCount,
		ParticipatingNodes: r.ParticipatingNodes,
		ActiveNodes:        r.ActiveNodes,
		ConsensusAchieved:  r.ConsensusAchieved,
		Final:              r.Final,
	}, true
}

// Verify implements cli.Dispatcher.
func (n *Node) Verify() (bool, string) {
	return n.engine.Verify()
}

// CheckDuplicates implements cli.Dispatcher, re-running the same probe
// Run performed at startup against the current seed list.
func (n *Node) CheckDuplicates() error {
	return n.mesh.ProbeDuplicates(context.Background(), n.cfg.Seeds)
}

// Whoami implements cli.Dispatcher.
func (n *Node) Whoami() cli.WhoamiInfo {
	return cli.WhoamiInfo{
		NodeID:      n.cfg.NodeID,
		ListenPort:  n.cfg.ListenPort,
		StartupTime: n.startupTime,
		ActivePeers: n.mesh.ActiveNodeCount() - 1,
	}
}

// GUIInfo implements cli.Dispatcher.
func (n *Node) GUIInfo() []string {
	return n.mesh.GUIObserverIDs()
}
