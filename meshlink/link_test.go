// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package meshlink

import (
	"context"
	"net"
	"testing"

	"github.com/luxfi/votemesh/codec"
	"github.com/luxfi/votemesh/log"
	"github.com/stretchr/testify/require"
)

func TestLinkSendRecvRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := New(clientConn, Outbound, log.NewNoOp("client"))
	server := New(serverConn, Inbound, log.NewNoOp("server"))

	msg := codec.HeartbeatMsg{Type: codec.Heartbeat, From: "alice"}

	errCh := make(chan error, 1)
	go func() { errCh <- client.Send(context.Background(), msg) }()

	raw, mt, err := server.Recv()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, codec.Heartbeat, mt)

	var decoded codec.HeartbeatMsg
	_, err = codec.Codec.Unmarshal(raw, &decoded)
	require.NoError(t, err)
	require.Equal(t, "alice", decoded.From)
}

func TestLinkCloseIsIdempotent(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	client := New(clientConn, Outbound, log.NewNoOp("client"))
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	require.True(t, client.Closed())
}

func TestLinkSendAfterCloseFails(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	client := New(clientConn, Outbound, log.NewNoOp("client"))
	require.NoError(t, client.Close())

	err := client.Send(context.Background(), codec.HeartbeatMsg{Type: codec.Heartbeat, From: "alice"})
	require.Error(t, err)
}

func TestLinkClassAndDirection(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	l := New(clientConn, Outbound, log.NewNoOp("client"))
	require.Equal(t, Outbound, l.Direction())
	require.Equal(t, ClassPeer, l.Class())

	l.SetClass(ClassGUI)
	require.Equal(t, ClassGUI, l.Class())

	l.SetNodeID("bob")
	require.Equal(t, "bob", l.NodeID())
}
