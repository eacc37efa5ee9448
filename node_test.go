// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package votemesh

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/luxfi/votemesh/config"
	"github.com/luxfi/votemesh/log"
	"github.com/stretchr/testify/require"
)

// freePort asks the OS for an ephemeral TCP port and releases it
// immediately; good enough for a test that binds it moments later.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T, nodeID string, seeds []string) config.NodeConfig {
	cfg := config.DefaultNodeConfig()
	cfg.NodeID = nodeID
	cfg.ListenPort = freePort(t)
	cfg.DiscoveryPort = freePort(t)
	cfg.Seeds = seeds
	cfg.NoGUI = true
	cfg.MinVotingSeconds = 1
	cfg.DefaultVotingSeconds = 1
	return cfg
}

func TestNodeRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultNodeConfig()
	cfg.NodeID = "!!"
	_, err := New(cfg, log.NewNoOp("test"), nil)
	require.Error(t, err)
}

func TestNodeWhoamiReflectsConfig(t *testing.T) {
	cfg := testConfig(t, "alice", nil)
	n, err := New(cfg, log.NewNoOp("alice"), nil)
	require.NoError(t, err)

	w := n.Whoami()
	require.Equal(t, "alice", w.NodeID)
	require.Equal(t, cfg.ListenPort, w.ListenPort)
	require.Equal(t, 0, w.ActivePeers)
}

func TestNodeStartVotingRoundAndCastVote(t *testing.T) {
	cfg := testConfig(t, "alice", nil)
	n, err := New(cfg, log.NewNoOp("alice"), nil)
	require.NoError(t, err)

	roundID, err := n.StartVotingRound("merge it", []string{"yes", "no"}, 60)
	require.NoError(t, err)
	require.NotEmpty(t, roundID)

	require.NoError(t, n.CastVote("yes"))
	require.Error(t, n.CastVote("no"))

	s := n.Status()
	require.Equal(t, roundID, s.RoundID)
	require.True(t, s.HasVoted)
}

func TestNodeTwoPeersDiscoverAndVote(t *testing.T) {
	alicePort := freePort(t)
	aliceCfg := testConfig(t, "alice", nil)
	aliceCfg.ListenPort = alicePort

	bobCfg := testConfig(t, "bob", []string{fmt.Sprintf("127.0.0.1:%d", alicePort)})

	alice, err := New(aliceCfg, log.NewNoOp("alice"), nil)
	require.NoError(t, err)
	bob, err := New(bobCfg, log.NewNoOp("bob"), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go alice.Run(ctx)
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", alicePort))
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond, "alice's listener never came up")

	go bob.Run(ctx)

	require.Eventually(t, func() bool {
		return len(alice.GUIInfo()) == 0 && alice.mesh.ActiveNodeCount() == 2 && bob.mesh.ActiveNodeCount() == 2
	}, 5*time.Second, 20*time.Millisecond)

	roundID, err := alice.StartVotingRound("merge it", []string{"yes", "no"}, 30)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := bob.Status()
		return s.RoundID == roundID
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, alice.CastVote("yes"))
	require.NoError(t, bob.CastVote("no"))

	require.Eventually(t, func() bool {
		s := alice.Status()
		return s.EncryptedVotes == 2
	}, 2*time.Second, 20*time.Millisecond)
}
