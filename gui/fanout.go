// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gui implements the observer-plane fan-out: the periodic
// STATUS_UPDATE broadcast to every connected GUI link, and translation
// of an observer-issued COMMAND into the same typed command the CLI
// REPL executes.
package gui

import (
	"context"
	"time"

	"github.com/luxfi/votemesh/cli"
	"github.com/luxfi/votemesh/codec"
	"github.com/luxfi/votemesh/log"
)

// StatusInterval is how often STATUS_UPDATE is streamed to observers.
const StatusInterval = 2 * time.Second

// Mirror is the mesh manager's observer-facing surface the fan-out
// needs.
type Mirror interface {
	MirrorToGUI(ctx context.Context, msg interface{})
}

// FanOut drives the STATUS_UPDATE loop and answers observer commands.
type FanOut struct {
	mesh Mirror
	d    cli.Dispatcher
	log  log.Logger
}

// New constructs a FanOut. d is the same Dispatcher the CLI REPL uses.
func New(mesh Mirror, d cli.Dispatcher, logger log.Logger) *FanOut {
	return &FanOut{mesh: mesh, d: d, log: logger}
}

// Run streams STATUS_UPDATE every StatusInterval until ctx is
// cancelled.
func (f *FanOut) Run(ctx context.Context) {
	ticker := time.NewTicker(StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mesh.MirrorToGUI(ctx, f.buildStatusUpdate())
		}
	}
}

func (f *FanOut) buildStatusUpdate() codec.StatusUpdateMsg {
	s := f.d.Status()
	return codec.StatusUpdateMsg{
		Type:           codec.StatusUpdate,
		NodeID:         f.d.Whoami().NodeID,
		Peers:          s.Peers,
		PeersList:      s.PeersList,
		RoundTopic:     s.RoundTopic,
		Phase:          s.Phase,
		TimeRemaining:  int64(s.TimeRemaining / time.Second),
		EncryptedVotes: s.EncryptedVotes,
		DecryptedVotes: s.DecryptedVotes,
	}
}

// HandleCommand answers an observer-issued COMMAND frame, translating
// it into the same Command the CLI REPL would execute.
func (f *FanOut) HandleCommand(cmd codec.CommandMsg) codec.CommandResponseMsg {
	parsed, err := cli.Parse(cmd.Command, cmd.Args)
	if err != nil {
		return codec.CommandResponseMsg{Type: codec.CommandResponse, Response: err.Error()}
	}
	return codec.CommandResponseMsg{Type: codec.CommandResponse, Response: cli.Execute(parsed, f.d)}
}
