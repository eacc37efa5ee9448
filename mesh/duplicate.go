// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mesh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/luxfi/votemesh/codec"
	"github.com/luxfi/votemesh/meshlink"
	"go.uber.org/zap"
)

// ErrDuplicateNodeID is returned by ProbeDuplicates when a seed peer's
// response reveals that our nodeId is already in use on the mesh.
var ErrDuplicateNodeID = errors.New("mesh: nodeId already present on the mesh")

// probeTimeout bounds the entire startup duplicate check.
const probeTimeout = 10 * time.Second

// perPeerProbeTimeout bounds a single seed's probe, so one hung seed
// cannot consume the whole startup budget.
const perPeerProbeTimeout = 5 * time.Second

// ProbeDuplicates opens a transient probe link to each seed peer
// before the node joins the mesh, asking whether our nodeId already
// exists. Probe connection failures are not considered duplicates;
// only an explicit match is. A fatal error here must abort startup
// before the listener opens.
func (m *Manager) ProbeDuplicates(ctx context.Context, seeds []string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	validationID := fmt.Sprintf("validator_%d", time.Now().UnixNano())

	for _, seed := range seeds {
		peerCtx, peerCancel := context.WithTimeout(ctx, perPeerProbeTimeout)
		err := m.probeOne(peerCtx, seed, validationID)
		peerCancel()
		if err != nil {
			if errors.Is(err, ErrDuplicateNodeID) {
				return err
			}
			m.log.Debug("duplicate probe connection failed, not treated as duplicate", zap.String("seed", seed), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) probeOne(ctx context.Context, seed, validationID string) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", seed)
	if err != nil {
		return fmt.Errorf("mesh: probe dial %s: %w", seed, err)
	}
	link := meshlink.New(conn, meshlink.Outbound, m.log)
	defer link.Close()

	// Recv below blocks without its own deadline; close the link if the
	// per-peer context expires so a hung seed cannot stall the probe.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			link.Close()
		case <-done:
		}
	}()

	req := codec.PeerExchangeRequestMsg{Type: codec.PeerExchangeRequest, From: validationID, IsValidation: true}
	if err := link.Send(ctx, req); err != nil {
		return fmt.Errorf("mesh: probe send %s: %w", seed, err)
	}

	raw, mt, err := link.Recv()
	if err != nil {
		return fmt.Errorf("mesh: probe recv %s: %w", seed, err)
	}

	switch mt {
	case codec.Handshake, codec.HandshakeAck:
		var hs codec.HandshakeMsg
		if _, err := codec.Codec.Unmarshal(raw, &hs); err == nil && hs.From == m.nodeID {
			return ErrDuplicateNodeID
		}
	case codec.PeerExchangeResponse:
		var resp codec.PeerExchangeResponseMsg
		if _, err := codec.Codec.Unmarshal(raw, &resp); err == nil {
			for _, p := range resp.Peers {
				if p.NodeID == m.nodeID {
					return ErrDuplicateNodeID
				}
			}
		}
	}
	return nil
}
