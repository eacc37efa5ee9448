// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package meshlink implements one bidirectional, message-oriented TCP
// channel to one remote: a self-describing JSON frame per line, with
// error isolation so one bad frame or one dead connection never takes
// down the process.
package meshlink

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/luxfi/votemesh/codec"
	"github.com/luxfi/votemesh/log"
)

// Direction records which side opened the link.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

// Class distinguishes an ordinary mesh peer from a GUI observer; the
// mesh manager treats the two differently for activeNodeCount and
// broadcast mirroring.
type Class int

const (
	ClassPeer Class = iota
	ClassGUI
)

// Link is one open channel to one remote. NodeID is populated once
// the handshake completes; it is empty on a freshly-accepted inbound
// link.
type Link struct {
	mu        sync.Mutex
	conn      net.Conn
	dec       *bufio.Scanner
	direction Direction
	class     Class
	nodeID    string
	closed    bool

	log log.Logger
}

// New wraps an established net.Conn. dir records which side initiated
// the connection.
func New(conn net.Conn, dir Direction, logger log.Logger) *Link {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Link{
		conn:      conn,
		dec:       scanner,
		direction: dir,
		class:     ClassPeer,
		log:       logger,
	}
}

// RemoteHost returns the remote's IP address, with loopback addresses
// normalized to "localhost" per the address-book convention.
func (l *Link) RemoteHost() string {
	host, _, err := net.SplitHostPort(l.conn.RemoteAddr().String())
	if err != nil {
		return l.conn.RemoteAddr().String()
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return "localhost"
	}
	return host
}

func (l *Link) Direction() Direction { return l.direction }

func (l *Link) SetClass(c Class) { l.class = c }
func (l *Link) Class() Class     { return l.class }

func (l *Link) SetNodeID(id string) { l.nodeID = id }
func (l *Link) NodeID() string      { return l.nodeID }

// Send marshals and writes one frame. Safe for concurrent use.
func (l *Link) Send(ctx context.Context, msg interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("meshlink: send on closed link")
	}
	raw, err := codec.Codec.Marshal(codec.CurrentVersion, msg)
	if err != nil {
		return fmt.Errorf("meshlink: marshal frame: %w", err)
	}
	if _, err := l.conn.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("meshlink: write frame: %w", err)
	}
	return nil
}

// Recv blocks for the next frame and returns its raw JSON bytes along
// with its peeked MessageType. Malformed frames are dropped silently
// (returned with an error) without closing the link, per protocol.
func (l *Link) Recv() ([]byte, codec.MessageType, error) {
	if !l.dec.Scan() {
		if err := l.dec.Err(); err != nil {
			return nil, "", fmt.Errorf("meshlink: read frame: %w", err)
		}
		return nil, "", fmt.Errorf("meshlink: connection closed")
	}
	raw := append([]byte{}, l.dec.Bytes()...)
	mt, err := codec.Codec.PeekType(raw)
	if err != nil {
		return raw, "", err
	}
	return raw, mt, nil
}

// Close closes the underlying connection. Idempotent.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.conn.Close()
}

func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
