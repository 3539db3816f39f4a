package spatial

import (
	"fmt"
	"strings"

	"github.com/jiangfuqing/xDBiT/util"
)

// Outcome is the result of one barcode correction attempt. Rejection is
// an expected, high-frequency outcome, so it is a value rather than an
// error.
type Outcome int

const (
	// MatchExact: the fragment is a legend barcode verbatim.
	MatchExact Outcome = iota
	// MatchCorrected: a unique legend barcode lies within the distance
	// threshold.
	MatchCorrected
	// NoMatch: no legend barcode lies within the threshold.
	NoMatch
	// Ambiguous: two or more legend barcodes tie at the minimum
	// distance, so snapping would risk a false collapse.
	Ambiguous
)

func (o Outcome) String() string {
	switch o {
	case MatchExact:
		return "exact"
	case MatchCorrected:
		return "corrected"
	case NoMatch:
		return "no-match"
	case Ambiguous:
		return "ambiguous"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Matched reports whether the outcome carries a usable entry.
func (o Outcome) Matched() bool { return o == MatchExact || o == MatchCorrected }

// Corrector snaps observed barcode fragments onto the legend of their
// round within a bounded edit distance. It is stateless apart from the
// immutable legend, so a single Corrector is shared by all workers.
type Corrector struct {
	legend  *Legend
	metric  Metric
	maxDist int
}

// NewCorrector returns a corrector over legend using opts.Metric and
// opts.MaxBarcodeDist.
func NewCorrector(legend *Legend, opts *Opts) *Corrector {
	return &Corrector{legend: legend, metric: opts.Metric, maxDist: opts.MaxBarcodeDist}
}

// Correct resolves frag against round r's legend. The exact index is
// consulted first; on a miss, every legend barcode of the round is
// scored and the unique minimum within the threshold wins. A tie at the
// minimum is Ambiguous, anything above the threshold is NoMatch.
// edits is the distance to the returned entry, or -1 on rejection.
func (c *Corrector) Correct(r Round, frag string) (entry *BarcodeEntry, edits int, outcome Outcome) {
	frag = strings.ToUpper(frag)
	if e, ok := c.legend.Lookup(r, frag); ok {
		return e, 0, MatchExact
	}
	if c.maxDist <= 0 {
		return nil, -1, NoMatch
	}
	// Candidates are partitioned by round, and within a round all
	// sequences share one length; a fragment of a different length can
	// never be within a pure-substitution threshold.
	sameLen := len(frag) == c.legend.SeqLen(r)
	if c.metric == MetricHamming && !sameLen {
		return nil, -1, NoMatch
	}
	limit := c.maxDist + 1 // distances beyond the threshold all rank equal
	best, second := limit, limit
	var bestEntry *BarcodeEntry
	for _, e := range c.legend.Entries(r) {
		var d int
		if c.metric == MetricHamming {
			d = util.HammingBounded(frag, e.Seq, limit)
		} else {
			d = util.Levenshtein(frag, e.Seq)
			if d > limit {
				d = limit
			}
		}
		if d < best {
			best, second = d, best
			bestEntry = e
		} else if d < second {
			second = d
		}
	}
	if best > c.maxDist {
		return nil, -1, NoMatch
	}
	if second == best {
		return nil, -1, Ambiguous
	}
	return bestEntry, best, MatchCorrected
}
