package fuzzy

import (
	"sort"
	"strings"
)

// DefaultThreshold is the minimum similarity for a confident match. The
// scores are normalized ratios in [0, 1].
const DefaultThreshold = 0.60

// Candidate is one directory entry to match against.
type Candidate struct {
	Slug string
	Name string
}

// Match is a candidate that cleared the threshold.
type Match struct {
	Candidate
	Score float64
	Exact bool
}

// Resolve scores input against every candidate's slug and display name and
// returns matches above threshold, best first. Ties break toward the shorter
// slug, then lexicographic order. An exact slug match short-circuits into a
// single confident result.
func Resolve(input string, candidates []Candidate, threshold float64) []Match {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return nil
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	for _, c := range candidates {
		if strings.ToLower(c.Slug) == input {
			return []Match{{Candidate: c, Score: 1, Exact: true}}
		}
	}

	var matches []Match
	for _, c := range candidates {
		score := Ratio(input, strings.ToLower(c.Slug))
		if nameScore := Ratio(input, strings.ToLower(c.Name)); nameScore > score {
			score = nameScore
		}
		if score >= threshold {
			matches = append(matches, Match{Candidate: c, Score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if len(matches[i].Slug) != len(matches[j].Slug) {
			return len(matches[i].Slug) < len(matches[j].Slug)
		}
		return matches[i].Slug < matches[j].Slug
	})
	return matches
}

// Ratio is a normalized Levenshtein similarity: 1 - distance/maxLen.
func Ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

// levenshtein computes edit distance with a single rolling row.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		current := prev[0]
		prev[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			next := min3(prev[j]+1, prev[j-1]+1, current+cost)
			current = prev[j]
			prev[j] = next
		}
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
