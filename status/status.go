// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package status defines the one snapshot type shared by the CLI's
// status command and the GUI fan-out's STATUS_UPDATE message, so both
// surfaces always agree on what a node's current state looks like.
package status

import "time"

// Snapshot is a point-in-time view of a node's mesh and round state.
type Snapshot struct {
	NodeID         string
	Peers          int
	PeersList      []string
	RoundID        string
	RoundTopic     string
	Phase          string
	TimeRemaining  time.Duration
	EncryptedVotes int
	DecryptedVotes int
	HasVoted       bool
}
