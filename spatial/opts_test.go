package spatial

import (
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("hamming")
	expect.NoError(t, err)
	expect.EQ(t, m, MetricHamming)
	m, err = ParseMetric("levenshtein")
	expect.NoError(t, err)
	expect.EQ(t, m, MetricLevenshtein)
	_, err = ParseMetric("euclidean")
	if err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestRoundTags(t *testing.T) {
	opts := DefaultOpts
	expect.EQ(t, opts.roundTag(RoundX), "XX")
	expect.EQ(t, opts.roundTag(RoundY), "XY")
	expect.EQ(t, opts.roundTag(RoundZ), "XZ")
}
