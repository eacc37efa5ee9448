// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mesh

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/luxfi/votemesh/codec"
	"github.com/luxfi/votemesh/log"
	"github.com/luxfi/votemesh/meshlink"
	"github.com/stretchr/testify/require"
)

func newLinkFromConn(conn net.Conn) *meshlink.Link {
	return meshlink.New(conn, meshlink.Outbound, log.NewNoOp("test"))
}

func TestManagerHandshakeBetweenTwoNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	bob := NewManager("bob", port, nil, time.Second, log.NewNoOp("bob"), nil)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go bob.serveInbound(ctx, newLinkFromConn(conn))
		}
	}()

	alice := NewManager("alice", 0, nil, time.Second, log.NewNoOp("alice"), nil)
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	link := newLinkFromConn(conn)

	peerID, peerPort, ok := alice.handshakeOutbound(ctx, link)
	require.True(t, ok)
	require.Equal(t, "bob", peerID)
	require.Equal(t, port, peerPort)

	require.Eventually(t, func() bool {
		return bob.book.ActiveCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestManagerRejectsDuplicateIdentity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	// bob already occupies the nodeId "alice" on the mesh.
	bob := NewManager("alice", port, nil, time.Second, log.NewNoOp("bob"), nil)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		bob.serveInbound(ctx, newLinkFromConn(conn))
	}()

	alice := NewManager("alice", 0, nil, time.Second, log.NewNoOp("alice"), nil)
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	link := newLinkFromConn(conn)

	_, _, ok := alice.handshakeOutbound(ctx, link)
	require.False(t, ok)
}

func TestActiveNodeCountIncludesSelf(t *testing.T) {
	m := NewManager("alice", 3000, nil, time.Second, log.NewNoOp("alice"), nil)
	require.Equal(t, 1, m.ActiveNodeCount())

	m.book.Upsert("bob", "10.0.0.2", 3001)
	m.book.SetActive("bob", true)
	require.Equal(t, 2, m.ActiveNodeCount())
}

func TestGossipRequestListsSeedsAndActivePeers(t *testing.T) {
	ctx := context.Background()
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	m := NewManager("alice", 3000, []string{"10.0.0.9:4000"}, time.Second, log.NewNoOp("alice"), nil)
	m.book.Upsert("bob", "10.0.0.2", 3001)
	m.book.SetActive("bob", true)

	link := newLinkFromConn(serverConn)

	done := make(chan struct{})
	go func() {
		m.handleGossipRequest(ctx, link, mustMarshal(t, codec.PeerExchangeRequestMsg{Type: codec.PeerExchangeRequest, From: "carol"}))
		close(done)
	}()

	clientLink := newLinkFromConn(clientConn)
	raw, mt, err := clientLink.Recv()
	require.NoError(t, err)
	require.Equal(t, codec.PeerExchangeResponse, mt)

	var resp codec.PeerExchangeResponseMsg
	_, err = codec.Codec.Unmarshal(raw, &resp)
	require.NoError(t, err)
	require.Len(t, resp.Peers, 2)
	<-done
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := codec.Codec.Marshal(codec.CurrentVersion, v)
	require.NoError(t, err)
	return raw
}
