// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mesh

import (
	"context"
	"time"

	"github.com/luxfi/votemesh/codec"
)

// RunHeartbeat broadcasts HEARTBEAT on interval until ctx is
// cancelled.
func (m *Manager) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Broadcast(ctx, codec.Heartbeat, codec.HeartbeatMsg{Type: codec.Heartbeat, From: m.nodeID})
		}
	}
}
