// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package round

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/luxfi/votemesh/codec"
	vcrypto "github.com/luxfi/votemesh/crypto"
	"github.com/luxfi/votemesh/log"
	"github.com/luxfi/votemesh/telemetry"
	"go.uber.org/zap"
)

// Policy errors surfaced to the caller (CLI or GUI) as human-readable
// rejections. They never change round state.
var (
	ErrNoActiveRound   = errors.New("round: no active round")
	ErrNotVoting       = errors.New("round: not in VOTING phase")
	ErrAlreadyVoted    = errors.New("round: already voted this round")
	ErrInvalidChoice   = errors.New("round: choice is not one of the allowed choices")
)

// Broadcaster is the mesh manager's outbound surface the engine needs:
// send a message to every active peer (and mirror where required), or
// push a message to GUI observers only.
type Broadcaster interface {
	Broadcast(ctx context.Context, mt codec.MessageType, msg interface{})
	MirrorToGUI(ctx context.Context, msg interface{})
	ActiveNodeCount() int
}

// timerSet holds the up to four outstanding timers for the current
// round, so finishRound and re-arm logic can cancel them
// idempotently.
type timerSet struct {
	consensus *time.Timer
	finish    *time.Timer
	settle    *time.Timer
	consensusDone *time.Timer
}

func (t *timerSet) stopAll() {
	for _, tm := range []*time.Timer{t.consensus, t.finish, t.settle, t.consensusDone} {
		if tm != nil {
			tm.Stop()
		}
	}
}

// Engine owns the single current round and every timer driving it. A
// process holds exactly one Engine; all access goes through its
// mutex, so there is no second goroutine directly touching round
// state.
type Engine struct {
	mu sync.Mutex

	nodeID string
	cfg    VotingBounds

	current *Round
	timers  timerSet

	mesh    Broadcaster
	log     log.Logger
	metrics *telemetry.NodeMetrics

	ctx context.Context
}

// VotingBounds is the subset of config.NodeConfig the engine needs to
// clamp a requested voting duration.
type VotingBounds interface {
	ClampVotingSeconds(requested int) int
}

// NewEngine constructs an Engine for nodeID.
func NewEngine(ctx context.Context, nodeID string, cfg VotingBounds, mesh Broadcaster, logger log.Logger, metrics *telemetry.NodeMetrics) *Engine {
	return &Engine{
		ctx:     ctx,
		nodeID:  nodeID,
		cfg:     cfg,
		mesh:    mesh,
		log:     logger,
		metrics: metrics,
	}
}

// Current returns a snapshot-safe copy of minimal status fields (the
// CLI/GUI status commands read Snapshot instead). Returns ok=false if
// no round exists yet.
func (e *Engine) Current() (roundID, topic string, phase Phase, startTime time.Time, votingSeconds int, encryptedCount, decryptedCount int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return "", "", "", time.Time{}, 0, 0, 0, false
	}
	r := e.current
	return r.RoundID, r.Topic, r.Phase, r.StartTime, r.VotingTimeSeconds, len(r.EncryptedBallots), len(r.Decrypted), true
}

// StartVotingRound begins a new round initiated locally.
func (e *Engine) StartVotingRound(topic string, allowedChoices []string, votingTimeSeconds int) (*Round, error) {
	e.mu.Lock()
	clamped := e.cfg.ClampVotingSeconds(votingTimeSeconds)
	now := time.Now()
	r := NewRound(NewRoundID(e.nodeID, now), topic, allowedChoices, now, clamped, e.nodeID)
	e.current = r
	e.timers.stopAll()
	e.armTimers(r)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.IncRoundsStarted()
	}

	msg := codec.RoundStartMsg{
		Type:              codec.RoundStart,
		RoundID:           r.RoundID,
		Topic:             r.Topic,
		AllowedChoices:    r.AllowedChoices,
		VotingTimeSeconds: r.VotingTimeSeconds,
		StartTime:         r.StartTime.UnixMilli(),
		From:              e.nodeID,
	}
	e.mesh.Broadcast(e.ctx, codec.RoundStart, msg)
	return r, nil
}

// HandleRoundStart processes an incoming ROUND_START frame.
func (e *Engine) HandleRoundStart(raw []byte) {
	var msg codec.RoundStartMsg
	if _, err := codec.Codec.Unmarshal(raw, &msg); err != nil {
		return
	}

	e.mu.Lock()
	startTime := time.UnixMilli(msg.StartTime)
	if e.current != nil && !startTime.After(e.current.StartTime) {
		e.mu.Unlock()
		return
	}
	e.timers.stopAll()
	r := NewRound(msg.RoundID, msg.Topic, msg.AllowedChoices, startTime, msg.VotingTimeSeconds, msg.From)
	e.current = r
	e.armTimers(r)
	e.mu.Unlock()

	e.log.Info("joined voting round", zap.String("roundId", r.RoundID), zap.String("topic", r.Topic))
}

// armTimers schedules the CONSENSUS and FINISH timers for r, using at
// least 100ms even if the deadline has already nominally passed (a
// late joiner case).
func (e *Engine) armTimers(r *Round) {
	minDelay := 100 * time.Millisecond

	consensusDelay := time.Until(r.ConsensusDeadline())
	if consensusDelay < minDelay {
		consensusDelay = minDelay
	}
	finishDelay := time.Until(r.FinishDeadline())
	if finishDelay < minDelay {
		finishDelay = minDelay
	}

	roundID := r.RoundID
	e.timers.consensus = time.AfterFunc(consensusDelay, func() { e.enterConsensus(roundID) })
	e.timers.finish = time.AfterFunc(finishDelay, func() { e.finishRound(roundID, false) })
}

// CastVote submits the local node's ballot for the current round.
func (e *Engine) CastVote(choice string) error {
	e.mu.Lock()
	r := e.current
	if r == nil {
		e.mu.Unlock()
		return ErrNoActiveRound
	}
	if r.Phase != Voting {
		e.mu.Unlock()
		return ErrNotVoting
	}
	if r.HasVoted {
		e.mu.Unlock()
		return ErrAlreadyVoted
	}
	if !r.AllowsChoice(choice) {
		e.mu.Unlock()
		return ErrInvalidChoice
	}

	key, err := vcrypto.GenerateKey()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("round: generate ballot key: %w", err)
	}
	iv, err := vcrypto.GenerateIV()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("round: generate ballot iv: %w", err)
	}
	voteID, err := vcrypto.GenerateAnonymousVoteID()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("round: generate vote id: %w", err)
	}

	now := time.Now()
	plaintext := vcrypto.BallotPlaintext{
		Choice:          choice,
		AnonymousVoteID: voteID,
		Timestamp:       now.UnixMilli(),
		RoundID:         r.RoundID,
	}
	plaintextRaw, err := codec.Codec.Marshal(codec.CurrentVersion, plaintext)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("round: marshal ballot: %w", err)
	}
	ciphertext, err := vcrypto.Encrypt(key, iv, plaintextRaw)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("round: encrypt ballot: %w", err)
	}

	r.HasVoted = true
	r.ownKeys[voteID] = hex.EncodeToString(key)
	r.MyBallot = &MyBallotTracking{AnonymousVoteID: voteID, Choice: choice}
	r.EncryptedBallots[voteID] = Ballot{
		IV:         hex.EncodeToString(iv),
		Ciphertext: hex.EncodeToString(ciphertext),
		ReceivedAt: now,
	}

	msg := codec.EncryptedVoteMsg{
		Type:            codec.EncryptedVote,
		RoundID:         r.RoundID,
		AnonymousVoteID: voteID,
		EncryptedData:   hex.EncodeToString(ciphertext),
		IV:              hex.EncodeToString(iv),
		Timestamp:       now.UnixMilli(),
	}
	e.mu.Unlock()

	e.mesh.Broadcast(e.ctx, codec.EncryptedVote, msg)
	return nil
}

// HandleEncryptedVote processes an incoming ENCRYPTED_VOTE frame.
func (e *Engine) HandleEncryptedVote(raw []byte) {
	var msg codec.EncryptedVoteMsg
	if _, err := codec.Codec.Unmarshal(raw, &msg); err != nil {
		return
	}

	e.mu.Lock()
	r := e.current
	if r == nil || r.RoundID != msg.RoundID || r.Phase != Voting {
		e.mu.Unlock()
		return
	}
	if _, exists := r.EncryptedBallots[msg.AnonymousVoteID]; exists {
		e.mu.Unlock()
		return
	}
	r.EncryptedBallots[msg.AnonymousVoteID] = Ballot{
		IV:         msg.IV,
		Ciphertext: msg.EncryptedData,
		Signature:  msg.Signature,
		ReceivedAt: time.Now(),
	}
	roundID, encryptedCount := r.RoundID, len(r.EncryptedBallots)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.IncBallotsReceived()
	}
	e.mesh.MirrorToGUI(e.ctx, codec.VoteReceivedMsg{Type: codec.VoteReceived, RoundID: roundID, EncryptedVotes: encryptedCount})
}

// HandleFrame dispatches one voting-plane frame by type; it implements
// mesh.VotingHandler.
func (e *Engine) HandleFrame(mt codec.MessageType, raw []byte) {
	switch mt {
	case codec.RoundStart:
		e.HandleRoundStart(raw)
	case codec.EncryptedVote:
		e.HandleEncryptedVote(raw)
	case codec.BatchVoteKeys:
		e.HandleBatchVoteKeys(raw)
	case codec.VoteKey:
		e.HandleVoteKey(raw)
	case codec.ResultProposal:
		e.HandleResultProposal(raw)
	}
}

// shuffle returns a uniformly random permutation of ids.
func shuffle(ids []string) []string {
	out := append([]string{}, ids...)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
