// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package command

// suggest returns the closest command name or alias to unknown, or ""
// if none is within an edit distance of 3.
func suggest(unknown string) string {
	bestName := ""
	bestDistance := 4

	for _, entry := range definitions {
		for _, name := range append([]string{entry.name}, entry.aliases...) {
			distance := levenshtein(unknown, name)
			if distance < bestDistance {
				bestDistance = distance
				bestName = name
			}
		}
	}
	return bestName
}

// levenshtein computes the edit distance between two strings using a
// single rolling row.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	if len(a) > len(b) {
		a, b = b, a
	}

	previous := make([]int, len(a)+1)
	for i := range previous {
		previous[i] = i
	}
	current := make([]int, len(a)+1)
	for j := 1; j <= len(b); j++ {
		current[0] = j
		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			current[i] = min(previous[i]+1, current[i-1]+1, previous[i-1]+cost)
		}
		previous, current = current, previous
	}
	return previous[len(a)]
}
