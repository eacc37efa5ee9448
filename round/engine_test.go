// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package round

import (
	"context"
	"sync"
	"testing"

	"github.com/luxfi/votemesh/codec"
	"github.com/luxfi/votemesh/config"
	"github.com/luxfi/votemesh/log"
	"github.com/stretchr/testify/require"
)

// relayBroadcaster is a Broadcaster test double. Broadcast forwards
// the message synchronously to peer's HandleFrame, if set, simulating
// a two-node mesh without any real transport.
type relayBroadcaster struct {
	mu     sync.Mutex
	peer   *Engine
	sent   []codec.MessageType
	active int
}

func (b *relayBroadcaster) Broadcast(ctx context.Context, mt codec.MessageType, msg interface{}) {
	b.mu.Lock()
	b.sent = append(b.sent, mt)
	peer := b.peer
	b.mu.Unlock()

	if peer != nil {
		raw, err := codec.Codec.Marshal(codec.CurrentVersion, msg)
		if err != nil {
			panic(err)
		}
		peer.HandleFrame(mt, raw)
	}
}

func (b *relayBroadcaster) MirrorToGUI(ctx context.Context, msg interface{}) {}

func (b *relayBroadcaster) ActiveNodeCount() int { return b.active }

func newTestEngine(nodeID string, bc *relayBroadcaster) *Engine {
	return NewEngine(context.Background(), nodeID, config.DefaultNodeConfig(), bc, log.NewNoOp("test"), nil)
}

func TestStartVotingRoundClampsDuration(t *testing.T) {
	bc := &relayBroadcaster{active: 1}
	eng := newTestEngine("alice", bc)

	r, err := eng.StartVotingRound("topic", nil, 5) // below MinVotingSeconds
	require.NoError(t, err)
	require.Equal(t, config.DefaultNodeConfig().DefaultVotingSeconds, r.VotingTimeSeconds)
}

func TestCastVoteRejectsWithoutActiveRound(t *testing.T) {
	bc := &relayBroadcaster{active: 1}
	eng := newTestEngine("alice", bc)
	require.ErrorIs(t, eng.CastVote("yes"), ErrNoActiveRound)
}

func TestCastVoteRejectsDoubleVote(t *testing.T) {
	bc := &relayBroadcaster{active: 1}
	eng := newTestEngine("alice", bc)
	_, err := eng.StartVotingRound("topic", nil, 60)
	require.NoError(t, err)

	require.NoError(t, eng.CastVote("yes"))
	require.ErrorIs(t, eng.CastVote("no"), ErrAlreadyVoted)
}

func TestCastVoteRejectsInvalidChoice(t *testing.T) {
	bc := &relayBroadcaster{active: 1}
	eng := newTestEngine("alice", bc)
	_, err := eng.StartVotingRound("topic", []string{"yes", "no"}, 60)
	require.NoError(t, err)

	require.ErrorIs(t, eng.CastVote("maybe"), ErrInvalidChoice)
}

func TestCastVoteRecordsOwnBallotAndKeyLocally(t *testing.T) {
	bc := &relayBroadcaster{active: 1}
	eng := newTestEngine("alice", bc)
	_, err := eng.StartVotingRound("topic", nil, 60)
	require.NoError(t, err)
	require.NoError(t, eng.CastVote("yes"))

	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Len(t, eng.current.EncryptedBallots, 1)
	require.True(t, eng.current.HasVoted)
	require.NotNil(t, eng.current.MyBallot)
	require.Equal(t, "yes", eng.current.MyBallot.Choice)
	require.Len(t, eng.current.ownKeys, 1)
}

func TestHandleEncryptedVoteIgnoresDuplicateAnonymousVoteID(t *testing.T) {
	bc := &relayBroadcaster{active: 2}
	eng := newTestEngine("alice", bc)
	r, err := eng.StartVotingRound("topic", nil, 60)
	require.NoError(t, err)

	frame := codec.EncryptedVoteMsg{
		Type:            codec.EncryptedVote,
		RoundID:         r.RoundID,
		AnonymousVoteID: "dup",
		EncryptedData:   "aa",
		IV:              "bb",
	}
	raw, err := codec.Codec.Marshal(codec.CurrentVersion, frame)
	require.NoError(t, err)

	eng.HandleEncryptedVote(raw)
	eng.HandleEncryptedVote(raw)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Len(t, eng.current.EncryptedBallots, 1)
}

// TestEngineFullRoundLifecycleReachesConsensus drives two engines
// through VOTING, CONSENSUS, and FINISHED, calling the phase-advancing
// methods directly rather than waiting on real timers.
func TestEngineFullRoundLifecycleReachesConsensus(t *testing.T) {
	aliceBC := &relayBroadcaster{active: 2}
	bobBC := &relayBroadcaster{active: 2}

	alice := newTestEngine("alice", aliceBC)
	bob := newTestEngine("bob", bobBC)
	aliceBC.peer = bob
	bobBC.peer = alice

	r, err := alice.StartVotingRound("referendum", nil, 60)
	require.NoError(t, err)
	roundID := r.RoundID

	_, _, bobPhase, _, _, _, _, ok := bob.Current()
	require.True(t, ok)
	require.Equal(t, Voting, bobPhase)

	require.NoError(t, alice.CastVote("yes"))
	require.NoError(t, bob.CastVote("no"))

	alice.mu.Lock()
	alice.current.Phase = Consensus
	alice.mu.Unlock()
	bob.mu.Lock()
	bob.current.Phase = Consensus
	bob.mu.Unlock()

	alice.releaseKeys(roundID)
	bob.releaseKeys(roundID)

	alice.proposeResult(roundID)
	bob.proposeResult(roundID)

	alice.finishRound(roundID, true)
	bob.finishRound(roundID, true)

	alice.mu.Lock()
	bob.mu.Lock()
	defer alice.mu.Unlock()
	defer bob.mu.Unlock()

	require.Equal(t, Finished, alice.current.Phase)
	require.Equal(t, Finished, bob.current.Phase)
	require.True(t, alice.current.ConsensusOK)
	require.True(t, bob.current.ConsensusOK)
	require.Equal(t, 2, alice.current.FinalVoteCount)
	require.Equal(t, alice.current.FinalResults, bob.current.FinalResults)
	require.True(t, alice.current.MyBallot.Verified)
	require.True(t, bob.current.MyBallot.Verified)
}

func TestFinishRoundIsIdempotent(t *testing.T) {
	bc := &relayBroadcaster{active: 1}
	eng := newTestEngine("alice", bc)
	r, err := eng.StartVotingRound("topic", nil, 60)
	require.NoError(t, err)

	eng.finishRound(r.RoundID, false)
	eng.mu.Lock()
	first := eng.current.FinalVoteCount
	eng.mu.Unlock()

	eng.finishRound(r.RoundID, false)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Equal(t, first, eng.current.FinalVoteCount)
}

func TestHandleRoundStartIgnoresOlderStartTime(t *testing.T) {
	bc := &relayBroadcaster{active: 2}
	eng := newTestEngine("bob", bc)

	first := codec.RoundStartMsg{Type: codec.RoundStart, RoundID: "r2", Topic: "second", VotingTimeSeconds: 60, StartTime: 2000, From: "alice"}
	raw, err := codec.Codec.Marshal(codec.CurrentVersion, first)
	require.NoError(t, err)
	eng.HandleRoundStart(raw)

	stale := codec.RoundStartMsg{Type: codec.RoundStart, RoundID: "r1", Topic: "first", VotingTimeSeconds: 60, StartTime: 1000, From: "alice"}
	raw, err = codec.Codec.Marshal(codec.CurrentVersion, stale)
	require.NoError(t, err)
	eng.HandleRoundStart(raw)

	roundID, topic, _, _, _, _, _, ok := eng.Current()
	require.True(t, ok)
	require.Equal(t, "r2", roundID)
	require.Equal(t, "second", topic)
}
