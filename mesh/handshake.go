// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mesh

import (
	"context"
	"fmt"
	"time"

	"github.com/luxfi/votemesh/codec"
	"github.com/luxfi/votemesh/meshlink"
	"go.uber.org/zap"
)

// knownPeerList builds the peer-list payload sent with our HANDSHAKE
// or HANDSHAKE_ACK: every currently-active peer's recorded address.
func (m *Manager) knownPeerList() []codec.PeerAddr {
	recs := m.book.Active()
	out := make([]codec.PeerAddr, 0, len(recs))
	for _, r := range recs {
		out = append(out, codec.PeerAddr{NodeID: r.NodeID, Host: r.Host, Port: r.Port})
	}
	return out
}

// handshakeOutbound sends HANDSHAKE and waits for HANDSHAKE_ACK,
// returning the remote's nodeId and advertised port.
func (m *Manager) handshakeOutbound(ctx context.Context, link *meshlink.Link) (string, int, bool) {
	hello := codec.HandshakeMsg{
		Type:        codec.Handshake,
		From:        m.nodeID,
		Port:        m.listenPort,
		KnownPeers:  m.knownPeerList(),
		StartupTime: m.startupTime,
	}
	if err := link.Send(ctx, hello); err != nil {
		m.log.Debug("send handshake failed", zap.Error(err))
		return "", 0, false
	}

	raw, mt, err := link.Recv()
	if err != nil {
		m.log.Debug("recv handshake ack failed", zap.Error(err))
		return "", 0, false
	}
	if mt == codec.DuplicateNodeRejection {
		m.handleDuplicateRejection(raw)
		return "", 0, false
	}
	if mt != codec.HandshakeAck {
		return "", 0, false
	}
	var ack codec.HandshakeMsg
	if _, err := codec.Codec.Unmarshal(raw, &ack); err != nil {
		return "", 0, false
	}
	if ack.From == m.nodeID {
		m.rejectDuplicate(ctx, link, ack.From)
		return "", 0, false
	}
	m.mergePeerList(ack.KnownPeers)
	return ack.From, ack.Port, true
}

// handshakeInboundFrame completes an inbound handshake given the
// already-read first frame (raw, mt), replying with HANDSHAKE_ACK. It
// returns the remote's nodeId, advertised port, and whether it
// identified itself as a GUI observer.
func (m *Manager) handshakeInboundFrame(ctx context.Context, link *meshlink.Link, raw []byte, mt codec.MessageType) (string, int, bool, bool) {
	if mt != codec.Handshake {
		return "", 0, false, false
	}
	var hello codec.HandshakeMsg
	if _, err := codec.Codec.Unmarshal(raw, &hello); err != nil {
		return "", 0, false, false
	}

	if hello.From == m.nodeID {
		m.rejectDuplicate(ctx, link, hello.From)
		return "", 0, false, false
	}

	if hello.IsGUI {
		ack := codec.HandshakeMsg{Type: codec.HandshakeAck, From: m.nodeID, Port: m.listenPort}
		if err := link.Send(ctx, ack); err != nil {
			return "", 0, false, false
		}
		return hello.From, 0, true, true
	}

	m.mergePeerList(hello.KnownPeers)

	ack := codec.HandshakeMsg{
		Type:        codec.HandshakeAck,
		From:        m.nodeID,
		Port:        m.listenPort,
		KnownPeers:  m.knownPeerList(),
		StartupTime: m.startupTime,
	}
	if err := link.Send(ctx, ack); err != nil {
		return "", 0, false, false
	}

	// After replying to a HANDSHAKE (not a HANDSHAKE_ACK), immediately
	// request the new peer's own peer list.
	_ = link.Send(ctx, codec.PeerExchangeRequestMsg{Type: codec.PeerExchangeRequest, From: m.nodeID})

	return hello.From, hello.Port, false, true
}

func (m *Manager) rejectDuplicate(ctx context.Context, link *meshlink.Link, offender string) {
	_ = link.Send(ctx, codec.DuplicateNodeRejectionMsg{
		Type:           codec.DuplicateNodeRejection,
		Reason:         fmt.Sprintf("nodeId %q collides with our own", offender),
		ExistingNodeID: m.nodeID,
	})
	m.log.Warn("rejected duplicate node identity", zap.String("from", offender))
}

func (m *Manager) handleDuplicateRejection(raw []byte) {
	var msg codec.DuplicateNodeRejectionMsg
	if _, err := codec.Codec.Unmarshal(raw, &msg); err != nil {
		return
	}
	m.log.Error("our nodeId collides with an existing mesh member; exiting", zap.String("reason", msg.Reason))
	time.Sleep(3 * time.Second)
	m.log.Fatal("duplicate node identity detected at runtime")
}

func (m *Manager) mergePeerList(peers []codec.PeerAddr) {
	for _, p := range peers {
		if p.NodeID == m.nodeID || p.Host == "" || p.Port == 0 {
			continue
		}
		if !m.book.HasAddress(p.Host, p.Port) {
			m.book.Upsert(p.NodeID, p.Host, p.Port)
		}
	}
}
