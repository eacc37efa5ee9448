package codec

import (
	"encoding/json"
	"fmt"
)

// MessageType is the mandatory "type" discriminant every frame
// carries. Unknown types are ignored by the mesh manager with a debug
// log; they are never an error at the codec layer.
type MessageType string

const (
	Handshake              MessageType = "HANDSHAKE"
	HandshakeAck           MessageType = "HANDSHAKE_ACK"
	Heartbeat              MessageType = "HEARTBEAT"
	PeerExchangeRequest    MessageType = "PEER_EXCHANGE_REQUEST"
	PeerExchangeResponse   MessageType = "PEER_EXCHANGE_RESPONSE"
	DuplicateNodeRejection MessageType = "DUPLICATE_NODE_REJECTION"
	RoundStart             MessageType = "ROUND_START"
	EncryptedVote          MessageType = "ENCRYPTED_VOTE"
	BatchVoteKeys          MessageType = "BATCH_VOTE_KEYS"
	VoteKey                MessageType = "VOTE_KEY"
	ResultProposal         MessageType = "RESULT_PROPOSAL"

	// Observer (GUI) plane.
	StatusUpdate    MessageType = "STATUS_UPDATE"
	PhaseChange     MessageType = "PHASE_CHANGE"
	VoteReceived    MessageType = "VOTE_RECEIVED"
	Results         MessageType = "RESULTS"
	Command         MessageType = "COMMAND"
	CommandResponse MessageType = "COMMAND_RESPONSE"
)

// typeOnly is used to sniff a frame's type before deciding which
// concrete struct to unmarshal the rest of it into.
type typeOnly struct {
	Type MessageType `json:"type"`
}

// PeekType returns the MessageType of a raw frame without fully
// decoding it. Malformed frames (bad JSON, missing type) return an
// error; callers must drop the frame without closing the link.
func PeekType(raw []byte) (MessageType, error) {
	var t typeOnly
	if err := json.Unmarshal(raw, &t); err != nil {
		return "", fmt.Errorf("peek frame type: %w", err)
	}
	if t.Type == "" {
		return "", fmt.Errorf("peek frame type: missing type field")
	}
	return t.Type, nil
}

// PeerAddr identifies one node's transport address for gossip and
// handshake peer-list exchange.
type PeerAddr struct {
	NodeID string `json:"nodeId"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// HandshakeMsg is sent by the initiator of a link on open, and as the
// reply to a HANDSHAKE (as HANDSHAKE_ACK). Both carry the sender's
// known peer list so gossip can start immediately after open.
type HandshakeMsg struct {
	Type        MessageType `json:"type"`
	From        string      `json:"from"`
	Port        int         `json:"port"`
	KnownPeers  []PeerAddr  `json:"knownPeers,omitempty"`
	StartupTime int64       `json:"startupTime"`
	IsGUI       bool        `json:"isGUI,omitempty"`
}

// HeartbeatMsg is broadcast every HeartbeatInterval to keep the
// active-peer set warm even when no voting traffic is flowing.
type HeartbeatMsg struct {
	Type MessageType `json:"type"`
	From string      `json:"from"`
}

// PeerExchangeRequestMsg asks a peer to enumerate everyone it knows.
// IsValidation marks a transient startup duplicate-identity probe
// rather than ordinary gossip.
type PeerExchangeRequestMsg struct {
	Type         MessageType `json:"type"`
	From         string      `json:"from"`
	IsValidation bool        `json:"isValidation,omitempty"`
}

// PeerExchangeResponseMsg answers a PEER_EXCHANGE_REQUEST with the
// responder's seed peers plus every currently-active peer; a response
// to a validation probe also lists the responder itself.
type PeerExchangeResponseMsg struct {
	Type  MessageType `json:"type"`
	Peers []PeerAddr  `json:"peers"`
}

// DuplicateNodeRejectionMsg is sent to (and closes the link of) a peer
// whose asserted nodeId collides with our own.
type DuplicateNodeRejectionMsg struct {
	Type           MessageType `json:"type"`
	Reason         string      `json:"reason"`
	ExistingNodeID string      `json:"existingNodeId"`
}

// RoundStartMsg announces a new voting round. AllowedChoices is nil
// for an "any choice accepted" round.
type RoundStartMsg struct {
	Type              MessageType `json:"type"`
	RoundID           string      `json:"roundId"`
	Topic             string      `json:"topic"`
	AllowedChoices    []string    `json:"allowedChoices,omitempty"`
	VotingTimeSeconds int         `json:"votingTimeSeconds"`
	StartTime         int64       `json:"startTime"`
	From              string      `json:"from"`
}

// EncryptedVoteMsg carries one ballot's ciphertext. It deliberately
// has no From field: the casting node must not be linkable to the
// ballot on the wire.
type EncryptedVoteMsg struct {
	Type            MessageType `json:"type"`
	RoundID         string      `json:"roundId"`
	AnonymousVoteID string      `json:"anonymousVoteId"`
	EncryptedData   string      `json:"encryptedData"`
	IV              string      `json:"iv"`
	Timestamp       int64       `json:"timestamp"`
	Signature       string      `json:"signature,omitempty"`
}

// KeyEntry is one (anonymousVoteId, key) pair released during
// CONSENSUS.
type KeyEntry struct {
	AnonymousVoteID string `json:"anonymousVoteId"`
	Key             string `json:"key"`
}

// BatchVoteKeysMsg is the shuffled batch of keys a node releases once,
// after the CONSENSUS delay. From identifies the key provider so
// readiness can count unique providers, not individual ballots.
type BatchVoteKeysMsg struct {
	Type    MessageType `json:"type"`
	RoundID string      `json:"roundId"`
	Keys    []KeyEntry  `json:"keys"`
	From    string      `json:"from"`
}

// VoteKeyMsg is a single-key release. Not used by normal operation
// (BATCH_VOTE_KEYS is) but accepted defensively on ingress.
type VoteKeyMsg struct {
	Type            MessageType `json:"type"`
	RoundID         string      `json:"roundId"`
	AnonymousVoteID string      `json:"anonymousVoteId"`
	Key             string      `json:"key"`
	From            string      `json:"from"`
}

// TallyEntry is one ordered (choice, count) pair of a computed tally.
type TallyEntry struct {
	Choice string `json:"choice"`
	Count  int    `json:"count"`
}

// ResultProposalMsg is a node's proposed final tally, broadcast once
// it believes every ballot it can decrypt has been decrypted.
type ResultProposalMsg struct {
	Type      MessageType  `json:"type"`
	RoundID   string       `json:"roundId"`
	Results   []TallyEntry `json:"results"`
	VoteCount int          `json:"voteCount"`
	From      string       `json:"from"`
}

// StatusUpdateMsg is streamed to GUI observers every 2s.
type StatusUpdateMsg struct {
	Type           MessageType `json:"type"`
	NodeID         string      `json:"nodeId"`
	Peers          int         `json:"peers"`
	PeersList      []string    `json:"peersList"`
	RoundTopic     string      `json:"roundTopic,omitempty"`
	Phase          string      `json:"phase,omitempty"`
	TimeRemaining  int64       `json:"timeRemaining,omitempty"`
	EncryptedVotes int         `json:"encryptedVotes"`
	DecryptedVotes int         `json:"decryptedVotes"`
}

// PhaseChangeMsg mirrors a round's phase transition to observers.
type PhaseChangeMsg struct {
	Type    MessageType `json:"type"`
	RoundID string      `json:"roundId"`
	Phase   string      `json:"phase"`
}

// VoteReceivedMsg mirrors ballot arrival to observers (count only,
// never the ballot itself).
type VoteReceivedMsg struct {
	Type           MessageType `json:"type"`
	RoundID        string      `json:"roundId"`
	EncryptedVotes int         `json:"encryptedVotes"`
}

// ResultsMsg is the final, frozen tally emitted once a round reaches
// FINISHED.
type ResultsMsg struct {
	Type               MessageType  `json:"type"`
	RoundID            string       `json:"roundId"`
	Results            []TallyEntry `json:"results"`
	VoteCount          int          `json:"voteCount"`
	ParticipatingNodes int          `json:"participatingNodes"`
	ActiveNodes        int          `json:"activeNodes"`
	ConsensusAchieved  bool         `json:"consensusAchieved"`
}

// CommandMsg is an observer-issued high-level operator command,
// translated by the GUI fan-out into the equivalent CLI operation.
type CommandMsg struct {
	Type    MessageType `json:"type"`
	Command string      `json:"command"`
	Args    []string    `json:"args,omitempty"`
}

// CommandResponseMsg answers a CommandMsg.
type CommandResponseMsg struct {
	Type     MessageType `json:"type"`
	Response string      `json:"response"`
}
