// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package round

import (
	"fmt"
	"time"

	"github.com/luxfi/votemesh/codec"
	"github.com/luxfi/votemesh/status"
)

// Snapshot returns the round-specific fields of a status snapshot;
// NodeID/Peers/PeersList are left zero-valued for the caller (the node
// package) to fill in from the mesh manager.
func (e *Engine) Snapshot() status.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.current
	if r == nil {
		return status.Snapshot{}
	}

	var remaining time.Duration
	switch r.Phase {
	case Voting:
		remaining = time.Until(r.ConsensusDeadline())
	case Consensus:
		remaining = time.Until(r.FinishDeadline())
	}
	if remaining < 0 {
		remaining = 0
	}

	return status.Snapshot{
		RoundID:        r.RoundID,
		RoundTopic:     r.Topic,
		Phase:          string(r.Phase),
		TimeRemaining:  remaining,
		EncryptedVotes: len(r.EncryptedBallots),
		DecryptedVotes: len(r.Decrypted),
		HasVoted:       r.HasVoted,
	}
}

// Results is the fields the CLI/GUI "results" command needs, whether
// or not the round has finished yet. ok is false when there is no
// current round.
type Results struct {
	RoundID            string
	Topic              string
	Tally              []codec.TallyEntry
	VoteCount          int
	ParticipatingNodes int
	ActiveNodes        int
	ConsensusAchieved  bool
	Final              bool
}

// Results returns the current or final tally for the active round.
func (e *Engine) Results() (Results, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.current
	if r == nil {
		return Results{}, false
	}

	if r.Phase == Finished {
		return Results{
			RoundID:            r.RoundID,
			Topic:              r.Topic,
			Tally:              r.FinalResults,
			VoteCount:          r.FinalVoteCount,
			ParticipatingNodes: r.FinalParticipantCount,
			ActiveNodes:        r.FinalActiveNodeCount,
			ConsensusAchieved:  r.ConsensusOK,
			Final:              true,
		}, true
	}

	return Results{
		RoundID:            r.RoundID,
		Topic:              r.Topic,
		Tally:              r.OwnTally,
		VoteCount:          len(r.Decrypted),
		ParticipatingNodes: len(r.EncryptedBallots),
		ActiveNodes:        e.mesh.ActiveNodeCount(),
		ConsensusAchieved:  r.ConsensusOK,
		Final:              false,
	}, true
}

// Verify reports whether this node's own ballot has been confirmed
// present and unaltered in the decrypted set, with a human-readable
// explanation.
func (e *Engine) Verify() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.current
	if r == nil || r.MyBallot == nil {
		return false, "no ballot cast this round"
	}
	if r.MyBallot.Verified {
		return true, fmt.Sprintf("ballot %s verified: choice %q recorded correctly", r.MyBallot.AnonymousVoteID, r.MyBallot.Choice)
	}
	if _, ok := r.Decrypted[r.MyBallot.AnonymousVoteID]; !ok {
		return false, "own ballot not yet decrypted; verification pending"
	}
	return false, "own ballot decrypted but does not match what was cast"
}
