// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package round implements the three-phase voting state machine: the
// VOTING -> CONSENSUS -> FINISHED round object, ballot and key stores,
// deterministic tallying, and the consensus-by-agreement check.
package round

import (
	"fmt"
	"strings"
	"time"

	"github.com/luxfi/votemesh/codec"
	"github.com/luxfi/votemesh/utils/set"
)

// Phase is one of the round's three states.
type Phase string

const (
	Voting    Phase = "VOTING"
	Consensus Phase = "CONSENSUS"
	Finished  Phase = "FINISHED"
)

// ConsensusThresholdFraction is the point in the voting window, as a
// fraction of votingTimeSeconds, at which the CONSENSUS timer fires.
const ConsensusThresholdFraction = 0.8

// KeySettleDelay is the additional wait after readiness first latches,
// absorbing late key batches before a node actually proposes.
const KeySettleDelay = 3 * time.Second

// ReadinessPollInterval is how often readiness is re-checked from the
// moment the round enters CONSENSUS, besides being checked after every
// new batch.
const ReadinessPollInterval = 3 * time.Second

// FinishAfterConsensusDelay is the delay between consensus latching
// and finishRound actually running.
const FinishAfterConsensusDelay = 500 * time.Millisecond

// keyReleaseMinDelay/keyReleaseMaxDelay bound the random delay before a node
// broadcasts its own BATCH_VOTE_KEYS.
const (
	keyReleaseMinDelay = 500 * time.Millisecond
	keyReleaseMaxDelay = 1500 * time.Millisecond
)

// Ballot is one stored ciphertext.
type Ballot struct {
	IV         string
	Ciphertext string
	Signature  string
	ReceivedAt time.Time
}

// KeyEntry is one released ballot key.
type KeyEntry struct {
	Key        string
	KeyProvider string
}

// DecryptedVote is one successfully-decrypted ballot.
type DecryptedVote struct {
	Choice    string
	Timestamp int64
}

// MyBallotTracking records the local node's own ballot for
// self-verification at FINISHED.
type MyBallotTracking struct {
	AnonymousVoteID string
	Choice          string
	Verified        bool
}

// Round is one topic, its timing, and every ballot/key/result
// associated with it.
type Round struct {
	RoundID           string
	Topic             string
	AllowedChoices    []string // nil means any choice is accepted
	StartTime         time.Time
	VotingTimeSeconds int
	Originator        string

	Phase Phase

	EncryptedBallots map[string]Ballot
	Keys             map[string]KeyEntry
	Decrypted        map[string]DecryptedVote

	HasVoted        bool
	MyBallot        *MyBallotTracking
	ConsensusNodes  set.Set[string]
	ResultProposed  bool
	KeysSharing     bool
	ConsensusOK     bool

	FinalResults           []codec.TallyEntry
	FinalVoteCount         int
	FinalParticipantCount  int
	FinalActiveNodeCount   int

	// ownKeys holds this node's own ballot keys (anonymousVoteId -> hex
	// key) between CastVote and the CONSENSUS key release; they are
	// never broadcast until KeysSharing fires.
	ownKeys map[string]string

	// OwnTally is this node's own computed tally, cached once it has
	// proposed a result, so a RESULT_PROPOSAL arriving afterward can be
	// compared against it.
	OwnTally []codec.TallyEntry

	// pendingProposals holds RESULT_PROPOSAL tallies received before
	// this node has proposed its own, keyed by sender, so they can be
	// compared retroactively once we do.
	pendingProposals map[string][]codec.TallyEntry

	settleArmed bool
	finishOnce  bool
}

// NewRound constructs a fresh round in VOTING phase.
func NewRound(roundID, topic string, allowedChoices []string, startTime time.Time, votingTimeSeconds int, originator string) *Round {
	return &Round{
		RoundID:           roundID,
		Topic:             topic,
		AllowedChoices:    normalizeChoices(allowedChoices),
		StartTime:         startTime,
		VotingTimeSeconds: votingTimeSeconds,
		Originator:        originator,
		Phase:             Voting,
		EncryptedBallots:  make(map[string]Ballot),
		Keys:              make(map[string]KeyEntry),
		Decrypted:         make(map[string]DecryptedVote),
		ConsensusNodes:    set.NewSet[string](0),
		ownKeys:           make(map[string]string),
		pendingProposals:  make(map[string][]codec.TallyEntry),
	}
}

func normalizeChoices(choices []string) []string {
	if choices == nil {
		return nil
	}
	out := make([]string, len(choices))
	for i, c := range choices {
		out[i] = strings.ToLower(strings.TrimSpace(c))
	}
	return out
}

// AllowsChoice reports whether choice (case-insensitive) is a legal
// vote for this round.
func (r *Round) AllowsChoice(choice string) bool {
	if r.AllowedChoices == nil {
		return true
	}
	choice = strings.ToLower(strings.TrimSpace(choice))
	for _, c := range r.AllowedChoices {
		if c == choice {
			return true
		}
	}
	return false
}

// ConsensusDeadline returns the wall-clock time the CONSENSUS timer
// fires.
func (r *Round) ConsensusDeadline() time.Time {
	return r.StartTime.Add(time.Duration(float64(r.VotingTimeSeconds)*ConsensusThresholdFraction) * time.Second)
}

// FinishDeadline returns the wall-clock time the hard FINISH timer
// fires.
func (r *Round) FinishDeadline() time.Time {
	return r.StartTime.Add(time.Duration(r.VotingTimeSeconds) * time.Second)
}

// NewRoundID mints a roundId of the form round_<unixMs>_<nodeId>.
func NewRoundID(nodeID string, now time.Time) string {
	return fmt.Sprintf("round_%d_%s", now.UnixMilli(), nodeID)
}

// uniqueKeyProviders returns the count of distinct KeyProvider values
// across r.Keys.
func (r *Round) uniqueKeyProviders() int {
	seen := make(map[string]bool)
	for _, k := range r.Keys {
		seen[k.KeyProvider] = true
	}
	return len(seen)
}

// ReadyForProposal reports whether every ciphertext has a key and
// every active node has released its batch.
func (r *Round) ReadyForProposal(activeNodeCount int) bool {
	return len(r.Keys) >= len(r.EncryptedBallots) && r.uniqueKeyProviders() >= activeNodeCount
}
