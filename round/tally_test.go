// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package round

import (
	"testing"
	"time"

	"github.com/luxfi/votemesh/codec"
	"github.com/stretchr/testify/require"
)

func TestTallyOrdersByCountThenChoice(t *testing.T) {
	decrypted := map[string]DecryptedVote{
		"v1": {Choice: "a"},
		"v2": {Choice: "a"},
		"v3": {Choice: "b"},
		"v4": {Choice: "b"},
		"v5": {Choice: "c"},
	}
	got := Tally(decrypted)
	want := []codec.TallyEntry{{Choice: "a", Count: 2}, {Choice: "b", Count: 2}, {Choice: "c", Count: 1}}
	require.Equal(t, want, got)
}

func TestTallyNormalizesCase(t *testing.T) {
	decrypted := map[string]DecryptedVote{
		"v1": {Choice: "Yes"},
		"v2": {Choice: "yes"},
		"v3": {Choice: "YES"},
	}
	got := Tally(decrypted)
	require.Equal(t, []codec.TallyEntry{{Choice: "yes", Count: 3}}, got)
}

func TestTallyDeterministicAcrossEquivalentMultisets(t *testing.T) {
	a := map[string]DecryptedVote{"v1": {Choice: "x"}, "v2": {Choice: "y"}}
	b := map[string]DecryptedVote{"different-id-1": {Choice: "y"}, "different-id-2": {Choice: "x"}}
	require.Equal(t, Tally(a), Tally(b))
}

func TestTalliesEqual(t *testing.T) {
	a := []codec.TallyEntry{{Choice: "x", Count: 2}, {Choice: "y", Count: 1}}
	b := []codec.TallyEntry{{Choice: "x", Count: 2}, {Choice: "y", Count: 1}}
	c := []codec.TallyEntry{{Choice: "x", Count: 2}, {Choice: "z", Count: 1}}

	require.True(t, TalliesEqual(a, b))
	require.False(t, TalliesEqual(a, c))
	require.False(t, TalliesEqual(a, []codec.TallyEntry{{Choice: "x", Count: 2}}))
}

func TestRoundAllowsChoiceCaseInsensitive(t *testing.T) {
	r := NewRound("r1", "topic", []string{"Yes", "No"}, time.Now(), 60, "alice")
	require.True(t, r.AllowsChoice("yes"))
	require.True(t, r.AllowsChoice("NO"))
	require.False(t, r.AllowsChoice("maybe"))
}

func TestRoundAllowsAnyChoiceWhenNilAllowedChoices(t *testing.T) {
	r := NewRound("r1", "topic", nil, time.Now(), 60, "alice")
	require.True(t, r.AllowsChoice("anything"))
}
