package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCorrectorLegend(t *testing.T) *Legend {
	// Round X barcodes are pairwise distance >= 3 except for the last
	// two, which are distance 2 from each other so that a fragment can
	// sit one edit from both.
	data := `WellPosition,Name,Barcode,X,Y
A1,Bc_1,AAAAAA,0,
A2,Bc_2,CCCCCC,1,
A3,Bc_3,GGGGGG,2,
A4,Bc_4,TTTTAA,3,
A5,Bc_5,TTTTCC,4,
B1,Bc_9,ACGT,,0
B2,Bc_10,TGCA,,1
`
	l, err := ParseLegend([]byte(data))
	require.NoError(t, err)
	return l
}

func TestCorrectExact(t *testing.T) {
	l := testCorrectorLegend(t)
	c := NewCorrector(l, &DefaultOpts)

	entry, edits, outcome := c.Correct(RoundX, "CCCCCC")
	assert.Equal(t, MatchExact, outcome)
	assert.Equal(t, 0, edits)
	assert.Equal(t, "A02", entry.Well)

	// Lowercase input resolves too.
	entry, _, outcome = c.Correct(RoundX, "cccccc")
	assert.Equal(t, MatchExact, outcome)
	assert.Equal(t, "A02", entry.Well)
}

func TestCorrectSingleMismatch(t *testing.T) {
	l := testCorrectorLegend(t)
	c := NewCorrector(l, &DefaultOpts)

	entry, edits, outcome := c.Correct(RoundX, "CCCCCA")
	require.Equal(t, MatchCorrected, outcome)
	assert.Equal(t, 1, edits)
	assert.Equal(t, "CCCCCC", entry.Seq)
	assert.True(t, outcome.Matched())
}

func TestCorrectAmbiguousTie(t *testing.T) {
	l := testCorrectorLegend(t)
	c := NewCorrector(l, &DefaultOpts)

	// TTTTAC is one substitution from both TTTTAA and TTTTCC.
	entry, edits, outcome := c.Correct(RoundX, "TTTTAC")
	assert.Equal(t, Ambiguous, outcome)
	assert.Nil(t, entry)
	assert.Equal(t, -1, edits)
	assert.False(t, outcome.Matched())
}

func TestCorrectNoMatch(t *testing.T) {
	l := testCorrectorLegend(t)
	c := NewCorrector(l, &DefaultOpts)

	// Two substitutions from the nearest barcode.
	entry, edits, outcome := c.Correct(RoundX, "CCCCAA")
	assert.Equal(t, NoMatch, outcome)
	assert.Nil(t, entry)
	assert.Equal(t, -1, edits)

	// Length mismatch can never resolve under Hamming.
	_, _, outcome = c.Correct(RoundX, "CCCCC")
	assert.Equal(t, NoMatch, outcome)
}

func TestCorrectRoundsAreIndependent(t *testing.T) {
	l := testCorrectorLegend(t)
	c := NewCorrector(l, &DefaultOpts)

	// ACGT is a Y barcode, not an X one, and X rejects it on length.
	_, _, outcome := c.Correct(RoundX, "ACGT")
	assert.Equal(t, NoMatch, outcome)
	entry, _, outcome := c.Correct(RoundY, "ACGT")
	assert.Equal(t, MatchExact, outcome)
	assert.Equal(t, "B01", entry.Well)
}

func TestCorrectZeroThreshold(t *testing.T) {
	l := testCorrectorLegend(t)
	opts := DefaultOpts
	opts.MaxBarcodeDist = 0
	c := NewCorrector(l, &opts)

	_, _, outcome := c.Correct(RoundX, "AAAAAA")
	assert.Equal(t, MatchExact, outcome)
	_, _, outcome = c.Correct(RoundX, "AAAAAC")
	assert.Equal(t, NoMatch, outcome)
}

func TestCorrectLevenshtein(t *testing.T) {
	l := testCorrectorLegend(t)
	opts := DefaultOpts
	opts.Metric = MetricLevenshtein
	c := NewCorrector(l, &opts)

	// A deletion shortens the fragment; Levenshtein still resolves it.
	entry, edits, outcome := c.Correct(RoundX, "GGGGG")
	require.Equal(t, MatchCorrected, outcome)
	assert.Equal(t, 1, edits)
	assert.Equal(t, "GGGGGG", entry.Seq)
}

func TestCorrectWiderThreshold(t *testing.T) {
	l := testCorrectorLegend(t)
	opts := DefaultOpts
	opts.MaxBarcodeDist = 2
	c := NewCorrector(l, &opts)

	// Two substitutions from GGGGGG, at least four from the rest.
	entry, edits, outcome := c.Correct(RoundX, "GGGGCC")
	require.Equal(t, MatchCorrected, outcome)
	assert.Equal(t, 2, edits)
	assert.Equal(t, "GGGGGG", entry.Seq)

	// TTTTGG is distance 2 from both TTTTAA and TTTTCC.
	_, _, outcome = c.Correct(RoundX, "TTTTGG")
	assert.Equal(t, Ambiguous, outcome)
}
