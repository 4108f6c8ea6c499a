package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var directory = []Candidate{
	{Slug: "uniswap", Name: "Uniswap"},
	{Slug: "compound", Name: "Compound"},
	{Slug: "aave", Name: "Aave"},
	{Slug: "makerdao", Name: "MakerDAO"},
	{Slug: "curve", Name: "Curve"},
}

func TestTypoResolvesToClosestSlug(t *testing.T) {
	matches := Resolve("uniswp", directory, DefaultThreshold)
	require.NotEmpty(t, matches)
	assert.Equal(t, "uniswap", matches[0].Slug)
}

func TestGarbageInputHasNoConfidentMatch(t *testing.T) {
	matches := Resolve("xyz123", directory, DefaultThreshold)
	assert.Empty(t, matches)
}

func TestExactSlugShortCircuits(t *testing.T) {
	matches := Resolve("AAVE", directory, DefaultThreshold)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].Exact)
	assert.Equal(t, "aave", matches[0].Slug)
	assert.Equal(t, 1.0, matches[0].Score)
}

func TestDisplayNameAlsoMatches(t *testing.T) {
	matches := Resolve("maker dao", directory, DefaultThreshold)
	require.NotEmpty(t, matches)
	assert.Equal(t, "makerdao", matches[0].Slug)
}

func TestTieBreaksPreferShorterThenLexicographic(t *testing.T) {
	candidates := []Candidate{
		{Slug: "zorb", Name: "zorb"},
		{Slug: "corb", Name: "corb"},
		{Slug: "corba", Name: "corba"},
	}
	matches := Resolve("torb", candidates, 0.5)
	require.Len(t, matches, 3)
	// Equal scores for the 4-rune slugs; corb sorts before zorb, and the
	// longer corba ranks last.
	assert.Equal(t, "corb", matches[0].Slug)
	assert.Equal(t, "zorb", matches[1].Slug)
	assert.Equal(t, "corba", matches[2].Slug)
}

func TestEmptyInputReturnsNothing(t *testing.T) {
	assert.Empty(t, Resolve("   ", directory, DefaultThreshold))
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 1.0, Ratio("curve", "curve"))
	assert.InDelta(t, 0.857, Ratio("uniswp", "uniswap"), 0.001)
	assert.Equal(t, 0.0, Ratio("", "abc"))
}
