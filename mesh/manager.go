// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mesh

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/luxfi/votemesh/codec"
	"github.com/luxfi/votemesh/log"
	"github.com/luxfi/votemesh/meshlink"
	"github.com/luxfi/votemesh/telemetry"
	"github.com/luxfi/votemesh/utils/set"
	"go.uber.org/zap"
)

// VotingHandler receives every voting-plane frame (ROUND_START,
// ENCRYPTED_VOTE, BATCH_VOTE_KEYS, VOTE_KEY, RESULT_PROPOSAL) the mesh
// accepts. It is implemented by the round engine.
type VotingHandler func(mt codec.MessageType, raw []byte)

// CommandHandler answers a GUI-issued COMMAND frame.
type CommandHandler func(cmd codec.CommandMsg) codec.CommandResponseMsg

// mirrorTypes is the set of peer-broadcast message kinds additionally
// mirrored to every open GUI observer, per the protocol's broadcast
// rule. PHASE_CHANGE, RESULTS, VOTE_RECEIVED, and STATUS_UPDATE are
// observer-only and go through MirrorToGUI directly instead.
var mirrorTypes = map[codec.MessageType]bool{
	codec.RoundStart:     true,
	codec.ResultProposal: true,
	codec.EncryptedVote:  true,
}

// Manager owns the set of peer links, the address book, and the seed
// list. All mutation goes through its mutex; there is no second
// goroutine that touches mesh state directly.
type Manager struct {
	mu sync.Mutex

	nodeID      string
	listenPort  int
	startupTime int64
	seeds       []string

	book     *AddressBook
	links    map[string]*meshlink.Link // active peer links, by nodeId
	guiLinks map[*meshlink.Link]struct{}
	inFlight map[string]bool // addresses with a connect attempt in progress

	heartbeatInterval time.Duration

	votingHandler  VotingHandler
	commandHandler CommandHandler

	log     log.Logger
	metrics *telemetry.NodeMetrics
}

// NewManager constructs a Manager for nodeID listening on listenPort,
// with an initial seed list (host:port strings).
func NewManager(nodeID string, listenPort int, seeds []string, heartbeatInterval time.Duration, logger log.Logger, metrics *telemetry.NodeMetrics) *Manager {
	return &Manager{
		nodeID:            nodeID,
		listenPort:        listenPort,
		startupTime:       time.Now().UnixMilli(),
		seeds:             append([]string{}, seeds...),
		book:              NewAddressBook(),
		links:             make(map[string]*meshlink.Link),
		guiLinks:          make(map[*meshlink.Link]struct{}),
		inFlight:          make(map[string]bool),
		heartbeatInterval: heartbeatInterval,
		log:               logger,
		metrics:           metrics,
	}
}

func (m *Manager) SetVotingHandler(h VotingHandler)   { m.votingHandler = h }
func (m *Manager) SetCommandHandler(h CommandHandler) { m.commandHandler = h }

func (m *Manager) NodeID() string { return m.nodeID }

// ActiveNodeCount returns the active remote peer count plus self, the
// denominator the round engine uses for its consensus threshold.
func (m *Manager) ActiveNodeCount() int {
	return m.book.ActiveCount() + 1
}

// ActivePeerIDs returns the nodeIds of every currently-active peer, in
// a deterministic (sorted) order suitable for a status snapshot's
// peersList field.
func (m *Manager) ActivePeerIDs() []string {
	recs := m.book.Active()
	ids := set.NewSet[string](len(recs))
	for _, r := range recs {
		ids.Add(r.NodeID)
	}
	return set.SortedList(ids)
}

// Listen opens the TCP listener and accepts inbound links until ctx is
// cancelled.
func (m *Manager) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", m.listenPort))
	if err != nil {
		return fmt.Errorf("mesh: listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("mesh: accept: %w", err)
			}
		}
		link := meshlink.New(conn, meshlink.Inbound, m.log)
		go m.serveInbound(ctx, link)
	}
}

// Dial implements discovery.Dialer: it opens an outbound link to
// host:port, unless one is already active or in flight.
func (m *Manager) Dial(ctx context.Context, nodeID, host string, port int) {
	m.dial(ctx, nodeID, host, port)
}

// dialGossipPeer dials a peer learned from a PEER_EXCHANGE_RESPONSE and,
// on failure, removes its seed entry so a stale address doesn't
// accumulate forever in the seed list.
func (m *Manager) dialGossipPeer(ctx context.Context, seed, nodeID, host string, port int) {
	if m.dial(ctx, nodeID, host, port) {
		return
	}
	m.mu.Lock()
	for i, s := range m.seeds {
		if s == seed {
			m.seeds = append(m.seeds[:i], m.seeds[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
}

// dial opens an outbound link to host:port, unless one is already
// active or in flight, and reports whether the connect succeeded.
func (m *Manager) dial(ctx context.Context, nodeID, host string, port int) bool {
	addr := fmt.Sprintf("%s:%d", host, port)

	m.mu.Lock()
	if m.book.HasAddress(host, port) || m.inFlight[addr] {
		m.mu.Unlock()
		return false
	}
	m.inFlight[addr] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inFlight, addr)
		m.mu.Unlock()
	}()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		m.log.Debug("dial peer failed", zap.String("addr", addr), zap.Error(err))
		return false
	}
	link := meshlink.New(conn, meshlink.Outbound, m.log)
	m.serveOutbound(ctx, link)
	return true
}

func (m *Manager) serveOutbound(ctx context.Context, link *meshlink.Link) {
	peerID, peerPort, ok := m.handshakeOutbound(ctx, link)
	if !ok {
		link.Close()
		return
	}
	m.afterHandshake(link, peerID, peerPort)
	m.readLoop(ctx, link)
}

func (m *Manager) serveInbound(ctx context.Context, link *meshlink.Link) {
	raw, mt, err := link.Recv()
	if err != nil {
		link.Close()
		return
	}

	if mt == codec.PeerExchangeRequest {
		// A transient duplicate-identity probe: answer and close
		// without ever registering this link as an active peer.
		m.handleGossipRequest(ctx, link, raw)
		link.Close()
		return
	}

	peerID, peerPort, isGUI, ok := m.handshakeInboundFrame(ctx, link, raw, mt)
	if !ok {
		link.Close()
		return
	}
	if isGUI {
		link.SetClass(meshlink.ClassGUI)
		link.SetNodeID(peerID)
		m.mu.Lock()
		m.guiLinks[link] = struct{}{}
		m.mu.Unlock()
		m.readLoop(ctx, link)
		m.mu.Lock()
		delete(m.guiLinks, link)
		m.mu.Unlock()
		return
	}
	m.afterHandshake(link, peerID, peerPort)
	m.readLoop(ctx, link)
}

func (m *Manager) afterHandshake(link *meshlink.Link, peerID string, peerPort int) {
	link.SetNodeID(peerID)
	m.mu.Lock()
	m.links[peerID] = link
	m.mu.Unlock()
	m.book.Upsert(peerID, link.RemoteHost(), peerPort)
	m.book.SetActive(peerID, true)
	if m.metrics != nil {
		m.metrics.SetPeersActive(m.book.ActiveCount())
	}
}

// readLoop delivers frames until the link closes, then deactivates the
// peer without removing its address-book entry.
func (m *Manager) readLoop(ctx context.Context, link *meshlink.Link) {
	defer func() {
		link.Close()
		if id := link.NodeID(); id != "" {
			m.mu.Lock()
			if m.links[id] == link {
				delete(m.links, id)
			}
			m.mu.Unlock()
			m.book.SetActive(id, false)
			if m.metrics != nil {
				m.metrics.SetPeersActive(m.book.ActiveCount())
			}
		}
	}()

	for {
		raw, mt, err := link.Recv()
		if err != nil {
			if mt == "" && raw != nil {
				m.log.Debug("drop malformed frame", zap.Error(err))
				continue
			}
			return
		}
		m.dispatch(ctx, link, mt, raw)
	}
}

func (m *Manager) dispatch(ctx context.Context, link *meshlink.Link, mt codec.MessageType, raw []byte) {
	m.book.Touch(link.NodeID())

	switch mt {
	case codec.Heartbeat:
		// Receipt of any message refreshes activePeers; nothing more
		// to do for a heartbeat itself.
	case codec.PeerExchangeRequest:
		m.handleGossipRequest(ctx, link, raw)
	case codec.PeerExchangeResponse:
		m.handleGossipResponse(ctx, raw)
	case codec.DuplicateNodeRejection:
		m.handleDuplicateRejection(raw)
	case codec.Handshake, codec.HandshakeAck:
		// Post-handshake HANDSHAKE/HANDSHAKE_ACK frames are not
		// expected; ignored per "unknown/unexpected type" rule.
	case codec.Command:
		m.handleCommand(link, raw)
	case codec.RoundStart, codec.EncryptedVote, codec.BatchVoteKeys, codec.VoteKey, codec.ResultProposal:
		if m.votingHandler != nil {
			m.votingHandler(mt, raw)
		}
	default:
		m.log.Debug("drop unknown frame type", zap.String("type", string(mt)))
	}
}

func (m *Manager) handleCommand(link *meshlink.Link, raw []byte) {
	var cmd codec.CommandMsg
	if _, err := codec.Codec.Unmarshal(raw, &cmd); err != nil {
		return
	}
	if m.commandHandler == nil {
		return
	}
	resp := m.commandHandler(cmd)
	resp.Type = codec.CommandResponse
	_ = link.Send(context.Background(), resp)
}

// Broadcast sends msg to every active peer link, deactivating any that
// fail, and mirrors it to GUI observers when its type requires that.
func (m *Manager) Broadcast(ctx context.Context, mt codec.MessageType, msg interface{}) {
	m.mu.Lock()
	targets := make([]*meshlink.Link, 0, len(m.links))
	for _, l := range m.links {
		targets = append(targets, l)
	}
	guiTargets := make([]*meshlink.Link, 0, len(m.guiLinks))
	if mirrorTypes[mt] {
		for l := range m.guiLinks {
			guiTargets = append(guiTargets, l)
		}
	}
	m.mu.Unlock()

	for _, l := range targets {
		if err := l.Send(ctx, msg); err != nil {
			m.book.SetActive(l.NodeID(), false)
			m.log.Debug("broadcast send failed, deactivating peer", zap.String("nodeId", l.NodeID()), zap.Error(err))
		}
	}
	for _, l := range guiTargets {
		_ = l.Send(ctx, msg)
	}
}

// MirrorToGUI sends msg to every open GUI observer unconditionally,
// used by the round engine and GUI fan-out for observer-only frames
// (STATUS_UPDATE, VOTE_RECEIVED) that are never broadcast to peers.
func (m *Manager) MirrorToGUI(ctx context.Context, msg interface{}) {
	m.mu.Lock()
	guiTargets := make([]*meshlink.Link, 0, len(m.guiLinks))
	for l := range m.guiLinks {
		guiTargets = append(guiTargets, l)
	}
	m.mu.Unlock()

	for _, l := range guiTargets {
		_ = l.Send(ctx, msg)
	}
}

// AddressBook exposes the address book for the CLI's peers/network
// commands.
func (m *Manager) AddressBook() *AddressBook { return m.book }

// GUIObserverIDs returns the identifiers every currently-connected GUI
// observer announced at handshake, sorted for deterministic display.
func (m *Manager) GUIObserverIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := set.NewSet[string](len(m.guiLinks))
	for l := range m.guiLinks {
		ids.Add(l.NodeID())
	}
	return set.SortedList(ids)
}
