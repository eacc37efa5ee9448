// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/votemesh/discovery/discoverymock"
	"github.com/luxfi/votemesh/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recordingDialer struct {
	mu    sync.Mutex
	calls []string
}

func (d *recordingDialer) Dial(_ context.Context, nodeID, host string, port int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, nodeID)
}

func (d *recordingDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func TestBeaconHandleDropsSelf(t *testing.T) {
	dialer := &recordingDialer{}
	b := New("alice", 3000, 0, time.Second, dialer, log.NewNoOp("discovery"), nil)

	b.handle(context.Background(), beacon{NodeID: "alice", Port: 3000}, "10.0.0.1")
	require.Equal(t, 0, dialer.count())
}

func TestBeaconHandleDedupesSameAddress(t *testing.T) {
	dialer := &recordingDialer{}
	b := New("alice", 3000, 0, time.Second, dialer, log.NewNoOp("discovery"), nil)

	b.handle(context.Background(), beacon{NodeID: "bob", Port: 3001}, "10.0.0.2")
	b.handle(context.Background(), beacon{NodeID: "bob", Port: 3001}, "10.0.0.2")
	require.Equal(t, 1, dialer.count())
}

func TestBeaconForgetAllowsRetry(t *testing.T) {
	dialer := &recordingDialer{}
	b := New("alice", 3000, 0, time.Second, dialer, log.NewNoOp("discovery"), nil)

	b.handle(context.Background(), beacon{NodeID: "bob", Port: 3001}, "10.0.0.2")
	b.Forget("10.0.0.2", 3001)
	b.handle(context.Background(), beacon{NodeID: "bob", Port: 3001}, "10.0.0.2")
	require.Equal(t, 2, dialer.count())
}

func TestBeaconHandleCallsDialerWithDiscoveredAddress(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := discoverymock.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any(), "bob", "10.0.0.5", 4001)

	b := New("alice", 3000, 0, time.Second, dialer, log.NewNoOp("discovery"), nil)
	b.handle(context.Background(), beacon{NodeID: "bob", Port: 4001}, "10.0.0.5")
}

func TestDefaultDiscoveryPort(t *testing.T) {
	dialer := &recordingDialer{}
	b := New("alice", 3000, 0, time.Second, dialer, log.NewNoOp("discovery"), nil)
	require.Equal(t, DefaultPort, b.discPort)
}
