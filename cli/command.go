// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cli implements the operator command language: parsing a
// typed command once at the boundary (rather than dispatching on a
// raw string repeatedly), and executing it against a Dispatcher. Both
// the interactive REPL and the GUI fan-out's COMMAND handler share
// this parser and executor, so "typed at the console" and "typed
// through an observer client" always behave identically.
package cli

import (
	"errors"
	"strconv"
	"strings"
)

// Kind identifies which operation a Command performs.
type Kind int

const (
	Help Kind = iota
	Status
	Peers
	Network
	Discover
	Start
	Vote
	Results
	Verify
	Debug
	CheckDuplicates
	Whoami
	GUIInfo
	Quit
)

// ErrUnknownCommand is returned by Parse for a first word that is not
// one of the recognized commands.
var ErrUnknownCommand = errors.New("cli: unknown command")

// Command is the explicit sum type every input line or COMMAND frame
// is parsed into exactly once, replacing a string-keyed dispatch that
// would otherwise happen on every line read.
type Command struct {
	Kind Kind

	// Start fields.
	Topic             string
	AllowedChoices    []string
	VotingTimeSeconds int

	// Vote field.
	Choice string
}

var keywords = map[string]Kind{
	"help":            Help,
	"status":          Status,
	"peers":           Peers,
	"network":         Network,
	"topology":        Network,
	"discover":        Discover,
	"find-peers":      Discover,
	"start":           Start,
	"vote":            Vote,
	"results":         Results,
	"verify":          Verify,
	"debug":           Debug,
	"check-duplicates": CheckDuplicates,
	"validate":        CheckDuplicates,
	"whoami":          Whoami,
	"info":            Whoami,
	"gui-info":        GUIInfo,
	"quit":            Quit,
	"exit":            Quit,
}

// Parse parses one input line, already split into a command word and
// its arguments, into a Command.
func Parse(word string, args []string) (Command, error) {
	kind, ok := keywords[strings.ToLower(word)]
	if !ok {
		return Command{}, ErrUnknownCommand
	}

	switch kind {
	case Vote:
		if len(args) < 1 {
			return Command{}, errors.New("cli: vote requires a choice")
		}
		return Command{Kind: Vote, Choice: strings.Join(args, " ")}, nil
	case Start:
		return Command{Kind: Start, Topic: topic(args), AllowedChoices: allowedChoices(args), VotingTimeSeconds: votingSeconds(args)}, nil
	default:
		return Command{Kind: kind}, nil
	}
}

// ParseLine splits a raw input line on whitespace and parses it.
func ParseLine(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrUnknownCommand
	}
	return Parse(fields[0], fields[1:])
}

// votingSeconds implements the start grammar's trailing-integer rule:
// the final argument is the duration iff it parses as a pure integer.
func votingSeconds(args []string) int {
	if len(args) == 0 {
		return 0
	}
	last := args[len(args)-1]
	n, err := strconv.Atoi(last)
	if err != nil {
		return 0
	}
	return n
}

// allowedChoices implements the grammar's comma rule: once a trailing
// integer has been consumed, the new last argument is the choice list
// iff it contains a comma.
func allowedChoices(args []string) []string {
	rest := dropTrailingSeconds(args)
	if len(rest) == 0 {
		return nil
	}
	last := rest[len(rest)-1]
	if !strings.Contains(last, ",") {
		return nil
	}
	parts := strings.Split(last, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// topic implements the grammar's remainder rule: whatever is left
// after stripping a trailing seconds integer and a trailing choice
// list, joined by spaces.
func topic(args []string) string {
	rest := dropTrailingSeconds(args)
	rest = dropTrailingChoices(rest)
	return strings.Join(rest, " ")
}

func dropTrailingSeconds(args []string) []string {
	if len(args) == 0 {
		return args
	}
	if _, err := strconv.Atoi(args[len(args)-1]); err == nil {
		return args[:len(args)-1]
	}
	return args
}

func dropTrailingChoices(args []string) []string {
	if len(args) == 0 {
		return args
	}
	if strings.Contains(args[len(args)-1], ",") {
		return args[:len(args)-1]
	}
	return args
}
