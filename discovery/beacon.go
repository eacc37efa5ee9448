// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package discovery implements the LAN peer-discovery beacon: a UDP
// broadcast announcing {nodeId, port} every few seconds, and the
// listener that turns other nodes' announcements into connect
// attempts handed to a Dialer.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/luxfi/votemesh/log"
	"github.com/luxfi/votemesh/telemetry"
	"go.uber.org/zap"
)

// DefaultPort is the UDP port the beacon broadcasts and listens on.
const DefaultPort = 41234

// beacon is the wire format of one discovery announcement.
type beacon struct {
	NodeID string `json:"nodeId"`
	Port   int    `json:"port"`
}

// Dialer schedules a connect attempt against a discovered address. The
// caller (the mesh manager) is responsible for deduplicating against
// already-active links and in-flight attempts.
type Dialer interface {
	Dial(ctx context.Context, nodeID, host string, port int)
}

// Beacon periodically broadcasts this node's presence and listens for
// other nodes' broadcasts, forwarding new ones to a Dialer.
type Beacon struct {
	nodeID   string
	port     int
	discPort int
	interval time.Duration

	dialer  Dialer
	log     log.Logger
	metrics *telemetry.NodeMetrics

	conn *net.UDPConn

	// seenMu guards seen, which is written by handle (the listenLoop
	// goroutine) and both read and written by Forget (called from
	// whatever goroutine owns the mesh manager).
	seenMu sync.Mutex
	// seen tracks (host,port) pairs we have already scheduled a
	// connect for, so the beacon never fires more than one
	// simultaneous connect at the same address.
	seen map[string]bool
}

// New constructs a Beacon. discPort defaults to DefaultPort when 0.
func New(nodeID string, listenPort, discPort int, interval time.Duration, dialer Dialer, logger log.Logger, metrics *telemetry.NodeMetrics) *Beacon {
	if discPort == 0 {
		discPort = DefaultPort
	}
	return &Beacon{
		nodeID:   nodeID,
		port:     listenPort,
		discPort: discPort,
		interval: interval,
		dialer:   dialer,
		log:      logger,
		metrics:  metrics,
		seen:     make(map[string]bool),
	}
}

// Run opens the UDP socket and blocks, broadcasting on interval and
// listening for incoming beacons, until ctx is cancelled.
func (b *Beacon) Run(ctx context.Context) error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", b.discPort))
	if err != nil {
		return fmt.Errorf("discovery: listen udp: %w", err)
	}
	conn := pc.(*net.UDPConn)
	b.conn = conn
	defer conn.Close()

	go b.broadcastLoop(ctx)
	return b.listenLoop(ctx)
}

func (b *Beacon) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	payload, err := json.Marshal(beacon{NodeID: b.nodeID, Port: b.port})
	if err != nil {
		b.log.Error("marshal beacon payload", zap.Error(err))
		return
	}

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: b.discPort}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.conn.WriteToUDP(payload, dst); err != nil {
				b.log.Warn("broadcast beacon", zap.Error(err))
			}
		}
	}
}

func (b *Beacon) listenLoop(ctx context.Context) error {
	buf := make([]byte, 1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		b.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, src, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("discovery: read udp: %w", err)
		}

		var msg beacon
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			b.log.Debug("drop malformed beacon", zap.Error(err))
			continue
		}
		b.handle(ctx, msg, src.IP.String())
	}
}

func (b *Beacon) handle(ctx context.Context, msg beacon, host string) {
	if msg.NodeID == b.nodeID {
		return
	}
	key := fmt.Sprintf("%s:%d", host, msg.Port)
	b.seenMu.Lock()
	if b.seen[key] {
		b.seenMu.Unlock()
		return
	}
	b.seen[key] = true
	b.seenMu.Unlock()

	b.log.Debug("discovered peer beacon", zap.String("nodeId", msg.NodeID), zap.String("addr", key))
	b.dialer.Dial(ctx, msg.NodeID, host, msg.Port)
}

// Forget clears an address from the dedup set, used by the mesh
// manager when a previously-attempted connect later fails and a fresh
// beacon should be allowed to retry it.
func (b *Beacon) Forget(host string, port int) {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	delete(b.seen, fmt.Sprintf("%s:%d", host, port))
}
