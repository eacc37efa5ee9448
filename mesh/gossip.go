// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mesh

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/luxfi/votemesh/codec"
	"github.com/luxfi/votemesh/meshlink"
)

// maxSimultaneousGossipDials caps how many new connect attempts one
// PEER_EXCHANGE_RESPONSE can trigger.
const maxSimultaneousGossipDials = 3

// gossipStaggerDelay is the per-index delay applied before dialing a
// newly-learned peer, so a burst of gossip doesn't open many
// connections in the same instant.
const gossipStaggerDelay = 2 * time.Second

func (m *Manager) handleGossipRequest(ctx context.Context, link *meshlink.Link, raw []byte) {
	var req codec.PeerExchangeRequestMsg
	if _, err := codec.Codec.Unmarshal(raw, &req); err != nil {
		return
	}

	peers := make([]codec.PeerAddr, 0, len(m.seeds)+m.book.ActiveCount())
	for _, seed := range m.seeds {
		host, port, ok := splitHostPort(seed)
		if ok {
			peers = append(peers, codec.PeerAddr{Host: host, Port: port})
		}
	}
	for _, rec := range m.book.Active() {
		peers = append(peers, codec.PeerAddr{NodeID: rec.NodeID, Host: rec.Host, Port: rec.Port})
	}
	// A startup duplicate probe also learns the responder's own nodeId,
	// so a seed already running under the prober's name is detected.
	if req.IsValidation {
		peers = append(peers, codec.PeerAddr{NodeID: m.nodeID, Port: m.listenPort})
	}

	_ = link.Send(ctx, codec.PeerExchangeResponseMsg{Type: codec.PeerExchangeResponse, Peers: peers})
}

func (m *Manager) handleGossipResponse(ctx context.Context, raw []byte) {
	var resp codec.PeerExchangeResponseMsg
	if _, err := codec.Codec.Unmarshal(raw, &resp); err != nil {
		return
	}

	dialed := 0
	for i, p := range resp.Peers {
		if p.NodeID == m.nodeID {
			continue
		}
		if p.Host == "" || p.Port == 0 {
			continue
		}
		if p.Host == "localhost" && p.Port == m.listenPort {
			continue
		}
		if m.book.HasAddress(p.Host, p.Port) {
			continue
		}
		if dialed >= maxSimultaneousGossipDials {
			break
		}
		dialed++

		seed := fmt.Sprintf("%s:%d", p.Host, p.Port)
		m.mu.Lock()
		m.seeds = append(m.seeds, seed)
		m.mu.Unlock()

		delay := time.Duration(i) * gossipStaggerDelay
		nodeID, host, port := p.NodeID, p.Host, p.Port
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			m.dialGossipPeer(ctx, seed, nodeID, host, port)
		}()
	}
}

func splitHostPort(addr string) (string, int, bool) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return host, port, true
}
