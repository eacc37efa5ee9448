// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gui

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/votemesh/cli"
	"github.com/luxfi/votemesh/codec"
	"github.com/luxfi/votemesh/log"
	"github.com/luxfi/votemesh/status"
	"github.com/stretchr/testify/require"
)

type recordingMirror struct {
	sent []interface{}
}

func (m *recordingMirror) MirrorToGUI(ctx context.Context, msg interface{}) {
	m.sent = append(m.sent, msg)
}

type stubDispatcher struct {
	cli.Dispatcher
	snap   status.Snapshot
	whoami cli.WhoamiInfo
}

func (s *stubDispatcher) Status() status.Snapshot { return s.snap }
func (s *stubDispatcher) Whoami() cli.WhoamiInfo  { return s.whoami }
func (s *stubDispatcher) GUIInfo() []string       { return nil }

func TestFanOutRunStreamsStatusUpdates(t *testing.T) {
	mirror := &recordingMirror{}
	d := &stubDispatcher{snap: status.Snapshot{Peers: 2, Phase: "VOTING"}, whoami: cli.WhoamiInfo{NodeID: "alice"}}
	f := New(mirror, d, log.NewNoOp("test"))

	ctx, cancel := context.WithTimeout(context.Background(), StatusInterval+300*time.Millisecond)
	defer cancel()
	f.Run(ctx)

	require.NotEmpty(t, mirror.sent)
	update, ok := mirror.sent[0].(codec.StatusUpdateMsg)
	require.True(t, ok)
	require.Equal(t, "alice", update.NodeID)
	require.Equal(t, 2, update.Peers)
	require.Equal(t, "VOTING", update.Phase)
}

func TestFanOutHandleCommandTranslatesToCLI(t *testing.T) {
	d := &stubDispatcher{whoami: cli.WhoamiInfo{NodeID: "alice"}}
	f := New(&recordingMirror{}, d, log.NewNoOp("test"))

	resp := f.HandleCommand(codec.CommandMsg{Command: "whoami"})
	require.Contains(t, resp.Response, "alice")

	resp = f.HandleCommand(codec.CommandMsg{Command: "nonsense"})
	require.Contains(t, resp.Response, "unknown command")
}
