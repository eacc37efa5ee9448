// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package round

import (
	"encoding/hex"
	"math/rand"
	"strings"
	"time"

	"github.com/luxfi/votemesh/codec"
	vcrypto "github.com/luxfi/votemesh/crypto"
	"go.uber.org/zap"
)

// enterConsensus transitions roundID from VOTING to CONSENSUS: it
// arms the random key-release delay and starts the readiness poller.
func (e *Engine) enterConsensus(roundID string) {
	e.mu.Lock()
	r := e.current
	if r == nil || r.RoundID != roundID || r.Phase != Voting {
		e.mu.Unlock()
		return
	}
	r.Phase = Consensus
	delay := keyReleaseMinDelay + time.Duration(rand.Int63n(int64(keyReleaseMaxDelay-keyReleaseMinDelay)))
	e.timers.consensusDone = time.AfterFunc(delay, func() { e.releaseKeys(roundID) })
	e.mu.Unlock()

	e.mesh.MirrorToGUI(e.ctx, codec.PhaseChangeMsg{Type: codec.PhaseChange, RoundID: roundID, Phase: string(Consensus)})
	go e.pollReadiness(roundID)
}

// pollReadiness checks readiness every ReadinessPollInterval until the
// round is no longer the current one or has reached FINISHED.
func (e *Engine) pollReadiness(roundID string) {
	ticker := time.NewTicker(ReadinessPollInterval)
	defer ticker.Stop()
	for range ticker.C {
		e.mu.Lock()
		r := e.current
		done := r == nil || r.RoundID != roundID || r.Phase == Finished
		e.mu.Unlock()
		if done {
			return
		}
		e.checkReadiness(roundID)
	}
}

// releaseKeys broadcasts this node's own ballot keys, shuffled, once
// per round.
func (e *Engine) releaseKeys(roundID string) {
	e.mu.Lock()
	r := e.current
	if r == nil || r.RoundID != roundID || r.KeysSharing {
		e.mu.Unlock()
		return
	}
	r.KeysSharing = true

	voteIDs := make([]string, 0, len(r.ownKeys))
	for id := range r.ownKeys {
		voteIDs = append(voteIDs, id)
	}
	voteIDs = shuffle(voteIDs)

	entries := make([]codec.KeyEntry, 0, len(voteIDs))
	for _, id := range voteIDs {
		entries = append(entries, codec.KeyEntry{AnonymousVoteID: id, Key: r.ownKeys[id]})
	}
	mergeKeyBatch(r, e.nodeID, entries)
	e.mu.Unlock()

	if len(entries) == 0 {
		e.checkReadiness(roundID)
		return
	}

	if e.metrics != nil {
		e.metrics.IncKeysReleased(len(entries))
	}
	e.mesh.Broadcast(e.ctx, codec.BatchVoteKeys, codec.BatchVoteKeysMsg{
		Type:    codec.BatchVoteKeys,
		RoundID: roundID,
		Keys:    entries,
		From:    e.nodeID,
	})

	e.decryptAndProcessVotes(roundID)
	e.checkReadiness(roundID)
}

// mergeKeyBatch adds every key in keys not already known, crediting
// provider as the releasing node. Duplicates (already-known keys) are
// ignored, keeping key receipt idempotent.
func mergeKeyBatch(r *Round, provider string, keys []codec.KeyEntry) {
	for _, k := range keys {
		if _, exists := r.Keys[k.AnonymousVoteID]; exists {
			continue
		}
		r.Keys[k.AnonymousVoteID] = KeyEntry{Key: k.Key, KeyProvider: provider}
	}
}

// HandleBatchVoteKeys processes an incoming BATCH_VOTE_KEYS frame.
func (e *Engine) HandleBatchVoteKeys(raw []byte) {
	var msg codec.BatchVoteKeysMsg
	if _, err := codec.Codec.Unmarshal(raw, &msg); err != nil {
		return
	}

	e.mu.Lock()
	r := e.current
	if r == nil || r.RoundID != msg.RoundID {
		e.mu.Unlock()
		return
	}
	mergeKeyBatch(r, msg.From, msg.Keys)
	e.mu.Unlock()

	e.decryptAndProcessVotes(msg.RoundID)
	e.checkReadiness(msg.RoundID)
}

// HandleVoteKey processes a defensively-accepted single-key release.
func (e *Engine) HandleVoteKey(raw []byte) {
	var msg codec.VoteKeyMsg
	if _, err := codec.Codec.Unmarshal(raw, &msg); err != nil {
		return
	}

	e.mu.Lock()
	r := e.current
	if r == nil || r.RoundID != msg.RoundID {
		e.mu.Unlock()
		return
	}
	mergeKeyBatch(r, msg.From, []codec.KeyEntry{{AnonymousVoteID: msg.AnonymousVoteID, Key: msg.Key}})
	e.mu.Unlock()

	e.decryptAndProcessVotes(msg.RoundID)
	e.checkReadiness(msg.RoundID)
}

// decryptAndProcessVotes attempts to decrypt every ballot whose key has
// arrived but hasn't yet been decrypted. A ballot that fails to decrypt
// (bad padding, wrong key) is dropped silently: a malicious or buggy
// key holder cannot force the round to wedge.
func (e *Engine) decryptAndProcessVotes(roundID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.current
	if r == nil || r.RoundID != roundID {
		return
	}
	e.decryptLocked(r)
}

func (e *Engine) decryptLocked(r *Round) {
	for voteID, ballot := range r.EncryptedBallots {
		if _, done := r.Decrypted[voteID]; done {
			continue
		}
		keyEntry, ok := r.Keys[voteID]
		if !ok {
			continue
		}

		key, err := hex.DecodeString(keyEntry.Key)
		if err != nil {
			e.noteDecryptFailure(r, voteID, err)
			continue
		}
		iv, err := hex.DecodeString(ballot.IV)
		if err != nil {
			e.noteDecryptFailure(r, voteID, err)
			continue
		}
		ciphertext, err := hex.DecodeString(ballot.Ciphertext)
		if err != nil {
			e.noteDecryptFailure(r, voteID, err)
			continue
		}

		plaintextRaw, err := vcrypto.Decrypt(key, iv, ciphertext)
		if err != nil {
			e.noteDecryptFailure(r, voteID, err)
			continue
		}

		var plaintext vcrypto.BallotPlaintext
		if _, err := codec.Codec.Unmarshal(plaintextRaw, &plaintext); err != nil {
			e.noteDecryptFailure(r, voteID, err)
			continue
		}

		r.Decrypted[voteID] = DecryptedVote{Choice: plaintext.Choice, Timestamp: plaintext.Timestamp}
	}
}

func (e *Engine) noteDecryptFailure(r *Round, voteID string, err error) {
	if e.metrics != nil {
		e.metrics.IncDecryptFailures()
	}
	e.log.Warn("dropping ballot that failed to decrypt", zap.String("roundId", r.RoundID), zap.String("anonymousVoteId", voteID), zap.Error(err))
}

// checkReadiness proposes a result once every ciphertext has a key and
// every active node has released a batch, after absorbing
// KeySettleDelay to let stragglers arrive.
func (e *Engine) checkReadiness(roundID string) {
	e.mu.Lock()
	r := e.current
	if r == nil || r.RoundID != roundID || r.ResultProposed || r.settleArmed {
		e.mu.Unlock()
		return
	}
	if !r.ReadyForProposal(e.mesh.ActiveNodeCount()) {
		e.mu.Unlock()
		return
	}
	r.settleArmed = true
	e.timers.settle = time.AfterFunc(KeySettleDelay, func() { e.proposeResult(roundID) })
	e.mu.Unlock()
}

// proposeResult computes and broadcasts this node's tally, then checks
// whether consensus has already been reached against proposals that
// arrived before this one.
func (e *Engine) proposeResult(roundID string) {
	e.mu.Lock()
	r := e.current
	if r == nil || r.RoundID != roundID || r.ResultProposed {
		e.mu.Unlock()
		return
	}
	e.decryptLocked(r)

	tally := Tally(r.Decrypted)
	r.OwnTally = tally
	r.ResultProposed = true
	r.ConsensusNodes.Add(e.nodeID)

	for from, theirs := range r.pendingProposals {
		if TalliesEqual(tally, theirs) {
			r.ConsensusNodes.Add(from)
		}
	}
	r.pendingProposals = make(map[string][]codec.TallyEntry)

	activeNodeCount := e.mesh.ActiveNodeCount()
	msg := codec.ResultProposalMsg{
		Type:      codec.ResultProposal,
		RoundID:   roundID,
		Results:   tally,
		VoteCount: len(r.Decrypted),
		From:      e.nodeID,
	}
	achieved := e.checkConsensusLocked(r, activeNodeCount)
	e.mu.Unlock()

	e.mesh.Broadcast(e.ctx, codec.ResultProposal, msg)
	if achieved {
		e.scheduleFinish(roundID)
	}
}

// HandleResultProposal compares an incoming proposal against this
// node's own tally once it has one, or stashes it for later otherwise.
func (e *Engine) HandleResultProposal(raw []byte) {
	var msg codec.ResultProposalMsg
	if _, err := codec.Codec.Unmarshal(raw, &msg); err != nil {
		return
	}

	e.mu.Lock()
	r := e.current
	if r == nil || r.RoundID != msg.RoundID {
		e.mu.Unlock()
		return
	}

	if !r.ResultProposed {
		r.pendingProposals[msg.From] = msg.Results
		e.mu.Unlock()
		return
	}

	achieved := false
	if TalliesEqual(r.OwnTally, msg.Results) {
		r.ConsensusNodes.Add(msg.From)
		achieved = e.checkConsensusLocked(r, e.mesh.ActiveNodeCount())
	}
	e.mu.Unlock()

	if achieved {
		e.scheduleFinish(msg.RoundID)
	}
}

// checkConsensusLocked reports whether every active node now agrees on
// the tally, and latches ConsensusOK the first time it does. Caller
// must hold e.mu.
func (e *Engine) checkConsensusLocked(r *Round, activeNodeCount int) bool {
	if r.ConsensusOK {
		return false
	}
	if r.ConsensusNodes.Len() < activeNodeCount {
		return false
	}
	r.ConsensusOK = true
	return true
}

// scheduleFinish cancels the hard FINISH timer and runs finishRound
// after the short grace delay, giving the consensus-driven path
// priority over the timeout-driven one.
func (e *Engine) scheduleFinish(roundID string) {
	e.mu.Lock()
	if e.timers.finish != nil {
		e.timers.finish.Stop()
	}
	e.mu.Unlock()
	time.AfterFunc(FinishAfterConsensusDelay, func() { e.finishRound(roundID, true) })
}

// finishRound idempotently freezes roundID's final tally, runs
// self-verification against this node's own ballot, and mirrors
// RESULTS to observers.
func (e *Engine) finishRound(roundID string, consensusDriven bool) {
	e.mu.Lock()
	r := e.current
	if r == nil || r.RoundID != roundID || r.finishOnce {
		e.mu.Unlock()
		return
	}
	r.finishOnce = true
	r.Phase = Finished
	e.decryptLocked(r)

	r.FinalResults = Tally(r.Decrypted)
	r.FinalVoteCount = len(r.Decrypted)
	r.FinalParticipantCount = len(r.EncryptedBallots)
	r.FinalActiveNodeCount = e.mesh.ActiveNodeCount()
	consensusAchieved := r.ConsensusOK

	if r.MyBallot != nil {
		if dv, ok := r.Decrypted[r.MyBallot.AnonymousVoteID]; ok && strings.EqualFold(dv.Choice, r.MyBallot.Choice) {
			r.MyBallot.Verified = true
		} else {
			e.log.Error("self-verification failed: own ballot missing or mismatched at finish",
				zap.String("roundId", roundID), zap.String("anonymousVoteId", r.MyBallot.AnonymousVoteID))
		}
	}

	e.timers.stopAll()
	msg := codec.ResultsMsg{
		Type:               codec.Results,
		RoundID:            roundID,
		Results:            r.FinalResults,
		VoteCount:          r.FinalVoteCount,
		ParticipatingNodes: r.FinalParticipantCount,
		ActiveNodes:        r.FinalActiveNodeCount,
		ConsensusAchieved:  consensusAchieved,
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.IncRoundsFinished()
	}
	e.mesh.MirrorToGUI(e.ctx, codec.PhaseChangeMsg{Type: codec.PhaseChange, RoundID: roundID, Phase: string(Finished)})
	e.mesh.MirrorToGUI(e.ctx, msg)
	e.log.Info("round finished", zap.String("roundId", roundID), zap.Bool("consensusAchieved", consensusAchieved), zap.Bool("timedOut", !consensusDriven))
}
