// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package round

import (
	"sort"
	"strings"

	"github.com/luxfi/votemesh/codec"
)

// Tally computes the deterministic ordered tally of a decrypted-vote
// map: choices normalized to lowercase, ordered by count descending
// then choice ascending.
func Tally(decrypted map[string]DecryptedVote) []codec.TallyEntry {
	counts := make(map[string]int)
	for _, v := range decrypted {
		counts[strings.ToLower(v.Choice)]++
	}

	entries := make([]codec.TallyEntry, 0, len(counts))
	for choice, count := range counts {
		entries = append(entries, codec.TallyEntry{Choice: choice, Count: count})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Choice < entries[j].Choice
	})
	return entries
}

// TalliesEqual reports whether two ordered tallies are element-wise
// equal on both fields.
func TalliesEqual(a, b []codec.TallyEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Choice != b[i].Choice || a[i].Count != b[i].Count {
			return false
		}
	}
	return true
}
