// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/luxfi/votemesh/codec"
	"github.com/luxfi/votemesh/status"
)

// PeerSummary is one row of the peers/network listing.
type PeerSummary struct {
	NodeID   string
	Host     string
	Port     int
	Active   bool
	LastSeen time.Time
}

// ResultsSummary is the final tally of a finished round, or the
// best-effort current tally of one still in progress.
type ResultsSummary struct {
	RoundID            string
	Topic              string
	Results            []codec.TallyEntry
	VoteCount          int
	ParticipatingNodes int
	ActiveNodes        int
	ConsensusAchieved  bool
	Final              bool
}

// WhoamiInfo answers the whoami/info command.
type WhoamiInfo struct {
	NodeID      string
	ListenPort  int
	StartupTime time.Time
	ActivePeers int
}

// Dispatcher is every operation a Command can trigger. The root node
// type implements it; the REPL and the GUI fan-out's COMMAND handler
// both execute against the same interface.
type Dispatcher interface {
	Status() status.Snapshot
	Peers() []PeerSummary
	Network() []PeerSummary
	Discover()
	StartVotingRound(topic string, allowedChoices []string, votingTimeSeconds int) (string, error)
	CastVote(choice string) error
	Results() (ResultsSummary, bool)
	Verify() (bool, string)
	CheckDuplicates() error
	Whoami() WhoamiInfo
	GUIInfo() []string
}

// Execute runs cmd against d and returns the human-readable response
// line, used both as REPL output and as a COMMAND_RESPONSE payload.
// Help and Quit get a reply too: the REPL prints it (and then stops on
// Quit), and a GUI observer issuing COMMAND{"quit"} receives it
// without stopping anything.
func Execute(cmd Command, d Dispatcher) string {
	switch cmd.Kind {
	case Help:
		return helpText
	case Status:
		return formatStatus(d.Status())
	case Peers:
		return formatPeers("peers", d.Peers())
	case Network:
		return formatPeers("network", d.Network())
	case Discover:
		d.Discover()
		return "discovery beacon triggered"
	case Start:
		roundID, err := d.StartVotingRound(cmd.Topic, cmd.AllowedChoices, cmd.VotingTimeSeconds)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return fmt.Sprintf("started round %s: %q", roundID, cmd.Topic)
	case Vote:
		if err := d.CastVote(cmd.Choice); err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return fmt.Sprintf("voted %q", cmd.Choice)
	case Results:
		r, ok := d.Results()
		if !ok {
			return "no round to report on"
		}
		return formatResults(r)
	case Verify:
		ok, msg := d.Verify()
		if !ok {
			return fmt.Sprintf("verification failed: %s", msg)
		}
		return fmt.Sprintf("verified: %s", msg)
	case Debug:
		s := d.Status()
		return fmt.Sprintf("roundId=%s phase=%s encrypted=%d decrypted=%d peers=%d", s.RoundID, s.Phase, s.EncryptedVotes, s.DecryptedVotes, s.Peers)
	case CheckDuplicates:
		if err := d.CheckDuplicates(); err != nil {
			return fmt.Sprintf("duplicate identity detected: %v", err)
		}
		return "no duplicate identity detected"
	case Whoami:
		w := d.Whoami()
		return fmt.Sprintf("nodeId=%s port=%d activePeers=%d startedAt=%s", w.NodeID, w.ListenPort, w.ActivePeers, w.StartupTime.Format(time.RFC3339))
	case GUIInfo:
		observers := d.GUIInfo()
		if len(observers) == 0 {
			return "no GUI observers connected"
		}
		return fmt.Sprintf("%d GUI observer(s): %s", len(observers), strings.Join(observers, ", "))
	case Quit:
		return "goodbye"
	default:
		return "unknown command"
	}
}

const helpText = `commands: help, status, peers, network|topology, discover|find-peers,
start <topic> [choices] [seconds], vote <choice>, results, verify, debug,
check-duplicates|validate, whoami|info, gui-info, quit|exit`

func formatStatus(s status.Snapshot) string {
	if s.RoundID == "" {
		return fmt.Sprintf("peers=%d (no active round)", s.Peers)
	}
	return fmt.Sprintf("round=%s topic=%q phase=%s remaining=%s encrypted=%d decrypted=%d voted=%t peers=%d",
		s.RoundID, s.RoundTopic, s.Phase, s.TimeRemaining.Round(time.Second), s.EncryptedVotes, s.DecryptedVotes, s.HasVoted, s.Peers)
}

func formatPeers(label string, peers []PeerSummary) string {
	if len(peers) == 0 {
		return fmt.Sprintf("%s: no peers known", label)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d):\n", label, len(peers))
	for _, p := range peers {
		state := "inactive"
		if p.Active {
			state = "active"
		}
		fmt.Fprintf(&b, "  %s %s:%d [%s]\n", p.NodeID, p.Host, p.Port, state)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatResults(r ResultsSummary) string {
	var b strings.Builder
	state := "in progress"
	if r.Final {
		state = "final"
	}
	fmt.Fprintf(&b, "round %s (%s) - %q [%s]\n", r.RoundID, state, r.Topic, consensusLabel(r.ConsensusAchieved))
	for _, t := range r.Results {
		fmt.Fprintf(&b, "  %-20s %d\n", t.Choice, t.Count)
	}
	fmt.Fprintf(&b, "%d votes, %d/%d nodes participating", r.VoteCount, r.ParticipatingNodes, r.ActiveNodes)
	return b.String()
}

func consensusLabel(achieved bool) string {
	if achieved {
		return "consensus reached"
	}
	return "consensus pending"
}
