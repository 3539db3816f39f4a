package spatial

import (
	"fmt"
	"io"
)

// RoundStats tallies correction outcomes for one barcoding round.
type RoundStats struct {
	// Exact and Corrected are reads whose fragment resolved directly or
	// after bounded correction.
	Exact, Corrected int
	// NoMatch and Ambiguous are rejections: nothing within threshold,
	// or a tie at the minimum distance.
	NoMatch, Ambiguous int
	// WellCounts is the number of resolved reads per well, for plate
	// quality overviews.
	WellCounts map[string]int
}

func (r *RoundStats) merge(o *RoundStats) {
	r.Exact += o.Exact
	r.Corrected += o.Corrected
	r.NoMatch += o.NoMatch
	r.Ambiguous += o.Ambiguous
	for w, n := range o.WellCounts {
		r.WellCounts[w] += n
	}
}

// Stats is the operator-facing accounting of one pipeline run: how many
// reads went in, why reads were dropped, and what came out. Per-read
// failures are never fatal, so these tallies are the contract surface
// for judging run quality.
type Stats struct {
	// TotalReads is the number of input records examined.
	TotalReads int
	// Secondary counts secondary/supplementary alignments, which are
	// skipped outright.
	Secondary int
	// LowMapQ counts reads below Opts.MinMapQ.
	LowMapQ int
	// AllExact counts reads whose every design-round barcode matched
	// verbatim.
	AllExact int
	// BarcodeRejected counts reads dropped because a round fragment
	// could not be confidently resolved.
	BarcodeRejected int
	// SpotUnresolved counts reads dropped because a required round
	// fragment was absent from the record.
	SpotUnresolved int
	// NoGene counts spatially placed reads without a gene assignment.
	NoGene int
	// Kept is the number of reads that produced a (spot, gene, umi)
	// triple.
	Kept int

	// Molecules, Duplicates, and OverflowKeys mirror the deduplicator
	// tallies at the end of the run.
	Molecules    int
	Duplicates   int
	OverflowKeys int

	Rounds [numRounds]RoundStats
}

// NewStats returns a zeroed Stats with allocated per-round maps.
func NewStats() *Stats {
	s := &Stats{}
	for r := range s.Rounds {
		s.Rounds[r].WellCounts = map[string]int{}
	}
	return s
}

// Merge adds o into s. Worker goroutines keep local Stats and the
// collector merges them at the end of the run.
func (s *Stats) Merge(o *Stats) {
	s.TotalReads += o.TotalReads
	s.Secondary += o.Secondary
	s.LowMapQ += o.LowMapQ
	s.AllExact += o.AllExact
	s.BarcodeRejected += o.BarcodeRejected
	s.SpotUnresolved += o.SpotUnresolved
	s.NoGene += o.NoGene
	s.Kept += o.Kept
	s.Molecules += o.Molecules
	s.Duplicates += o.Duplicates
	s.OverflowKeys += o.OverflowKeys
	for r := range s.Rounds {
		s.Rounds[r].merge(&o.Rounds[r])
	}
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}

// Summary writes the run report: totals, dropped-by-reason counts, and
// final molecule tallies. rounds selects which per-round sections to
// print, in axis order.
func (s *Stats) Summary(w io.Writer, rounds []Round) error {
	p := func(format string, args ...interface{}) (err error) {
		_, err = fmt.Fprintf(w, format+"\n", args...)
		return err
	}
	if err := p("Read %d entries", s.TotalReads); err != nil {
		return err
	}
	if err := p("Found %d [%.2f%%] reads with all barcodes matching exactly",
		s.AllExact, pct(s.AllExact, s.TotalReads)); err != nil {
		return err
	}
	for _, r := range rounds {
		rs := &s.Rounds[r]
		if err := p("Round %s: %d [%.2f%%] exact, %d [%.2f%%] corrected, %d no-match, %d ambiguous",
			r, rs.Exact, pct(rs.Exact, s.TotalReads),
			rs.Corrected, pct(rs.Corrected, s.TotalReads),
			rs.NoMatch, rs.Ambiguous); err != nil {
			return err
		}
	}
	if err := p("Dropped %d barcode-rejected, %d spot-unresolved, %d without gene, %d secondary, %d low-mapq",
		s.BarcodeRejected, s.SpotUnresolved, s.NoGene, s.Secondary, s.LowMapQ); err != nil {
		return err
	}
	if err := p("Retained %d [%.2f%%] reads after barcode matching and filtering",
		s.Kept, pct(s.Kept, s.TotalReads)); err != nil {
		return err
	}
	if err := p("Counted %d unique molecules (%d duplicate observations merged)",
		s.Molecules, s.Duplicates); err != nil {
		return err
	}
	if s.OverflowKeys > 0 {
		if err := p("WARNING: %d spot/gene keys exceeded the UMI set bound", s.OverflowKeys); err != nil {
			return err
		}
	}
	return nil
}
