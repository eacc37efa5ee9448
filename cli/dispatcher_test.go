// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cli

import (
	"errors"
	"testing"
	"time"

	"github.com/luxfi/votemesh/codec"
	"github.com/luxfi/votemesh/status"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	snap        status.Snapshot
	peers       []PeerSummary
	startErr    error
	startRoundID string
	voteErr     error
	results     ResultsSummary
	resultsOK   bool
	verifyOK    bool
	verifyMsg   string
	dupErr      error
	whoami      WhoamiInfo
	observers   []string
	discovered  bool
}

func (f *fakeDispatcher) Status() status.Snapshot { return f.snap }
func (f *fakeDispatcher) Peers() []PeerSummary     { return f.peers }
func (f *fakeDispatcher) Network() []PeerSummary   { return f.peers }
func (f *fakeDispatcher) Discover()                { f.discovered = true }
func (f *fakeDispatcher) StartVotingRound(topic string, choices []string, seconds int) (string, error) {
	return f.startRoundID, f.startErr
}
func (f *fakeDispatcher) CastVote(choice string) error           { return f.voteErr }
func (f *fakeDispatcher) Results() (ResultsSummary, bool)        { return f.results, f.resultsOK }
func (f *fakeDispatcher) Verify() (bool, string)                 { return f.verifyOK, f.verifyMsg }
func (f *fakeDispatcher) CheckDuplicates() error                 { return f.dupErr }
func (f *fakeDispatcher) Whoami() WhoamiInfo                     { return f.whoami }
func (f *fakeDispatcher) GUIInfo() []string                      { return f.observers }

func TestExecuteStatusWithNoActiveRound(t *testing.T) {
	d := &fakeDispatcher{snap: status.Snapshot{Peers: 3}}
	out := Execute(Command{Kind: Status}, d)
	require.Contains(t, out, "peers=3")
	require.Contains(t, out, "no active round")
}

func TestExecuteStart(t *testing.T) {
	d := &fakeDispatcher{startRoundID: "round_1_alice"}
	out := Execute(Command{Kind: Start, Topic: "merge it"}, d)
	require.Contains(t, out, "round_1_alice")

	d.startErr = errors.New("boom")
	out = Execute(Command{Kind: Start}, d)
	require.Contains(t, out, "error")
}

func TestExecuteVote(t *testing.T) {
	d := &fakeDispatcher{}
	out := Execute(Command{Kind: Vote, Choice: "yes"}, d)
	require.Contains(t, out, "voted")

	d.voteErr = errors.New("already voted")
	out = Execute(Command{Kind: Vote, Choice: "yes"}, d)
	require.Contains(t, out, "error")
}

func TestExecuteResultsNoRound(t *testing.T) {
	d := &fakeDispatcher{resultsOK: false}
	out := Execute(Command{Kind: Results}, d)
	require.Contains(t, out, "no round")
}

func TestExecuteResultsFormatsTally(t *testing.T) {
	d := &fakeDispatcher{
		resultsOK: true,
		results: ResultsSummary{
			RoundID: "r1", Topic: "t", Final: true, ConsensusAchieved: true,
			Results: []codec.TallyEntry{{Choice: "yes", Count: 3}},
			VoteCount: 3, ParticipatingNodes: 2, ActiveNodes: 2,
		},
	}
	out := Execute(Command{Kind: Results}, d)
	require.Contains(t, out, "yes")
	require.Contains(t, out, "consensus reached")
}

func TestExecuteDiscoverTriggersCallback(t *testing.T) {
	d := &fakeDispatcher{}
	Execute(Command{Kind: Discover}, d)
	require.True(t, d.discovered)
}

func TestExecuteWhoami(t *testing.T) {
	d := &fakeDispatcher{whoami: WhoamiInfo{NodeID: "alice", ListenPort: 9000, StartupTime: time.Unix(0, 0), ActivePeers: 2}}
	out := Execute(Command{Kind: Whoami}, d)
	require.Contains(t, out, "alice")
	require.Contains(t, out, "9000")
}

func TestExecuteGUIInfoEmpty(t *testing.T) {
	d := &fakeDispatcher{}
	out := Execute(Command{Kind: GUIInfo}, d)
	require.Contains(t, out, "no GUI observers")
}

func TestExecuteCheckDuplicates(t *testing.T) {
	d := &fakeDispatcher{}
	require.Contains(t, Execute(Command{Kind: CheckDuplicates}, d), "no duplicate")

	d.dupErr = errors.New("alice")
	require.Contains(t, Execute(Command{Kind: CheckDuplicates}, d), "duplicate identity")
}

func TestExecuteHelp(t *testing.T) {
	d := &fakeDispatcher{}
	require.Contains(t, Execute(Command{Kind: Help}, d), "commands:")
}
