package spatial

import (
	"github.com/grailbio/base/log"

	"github.com/jiangfuqing/xDBiT/util"
)

// dedupKey identifies one molecule population: one gene observed at one
// spot.
type dedupKey struct {
	spot SpotID
	gene string
}

// umiSet holds the UMIs seen for one (spot, gene) key. order lists the
// cluster representatives (one per registered molecule) in first-seen
// order; seen additionally contains every near-duplicate that was merged
// into a representative, so exact repeats of a merged UMI skip the scan.
type umiSet struct {
	order      []string
	seen       map[string]struct{}
	overflowed bool
}

// Deduplicator collapses repeated (spot, gene, UMI) observations into
// unique molecules. A new UMI within MaxUMIDist of an already-registered
// UMI of the same key is a sequencing-error echo of that molecule, not a
// new one. Clustering is first-wins in input order: the first UMI of a
// cluster becomes its representative and later near-duplicates merge
// into it, which keeps the result deterministic for a fixed input order.
//
// Deduplicator is not safe for concurrent use; the pipeline gives it a
// single owning goroutine.
type Deduplicator struct {
	maxDist   int
	maxPerKey int

	keys         map[dedupKey]*umiSet
	molecules    int
	duplicates   int
	overflowKeys int
}

// NewDeduplicator returns an empty deduplicator configured from opts.
func NewDeduplicator(opts *Opts) *Deduplicator {
	return &Deduplicator{
		maxDist:   opts.MaxUMIDist,
		maxPerKey: opts.MaxUMIsPerSpotGene,
		keys:      map[dedupKey]*umiSet{},
	}
}

// Observe records one (spot, gene, umi) triple and reports whether it is
// a new molecule. Exactly one of the result values increments the
// molecule or duplicate tally.
func (d *Deduplicator) Observe(spot SpotID, gene, umi string) (isNewMolecule bool) {
	k := dedupKey{spot: spot, gene: gene}
	s := d.keys[k]
	if s == nil {
		s = &umiSet{seen: map[string]struct{}{}}
		d.keys[k] = s
	}
	if _, ok := s.seen[umi]; ok {
		d.duplicates++
		return false
	}
	if d.maxDist > 0 {
		for _, rep := range s.order {
			if d.withinDist(umi, rep) {
				s.seen[umi] = struct{}{}
				d.duplicates++
				return false
			}
		}
	}
	s.order = append(s.order, umi)
	s.seen[umi] = struct{}{}
	d.molecules++
	if d.maxPerKey > 0 && len(s.order) > d.maxPerKey && !s.overflowed {
		s.overflowed = true
		d.overflowKeys++
		log.Error.Printf("aggregation overflow: spot %s gene %s has more than %d distinct UMIs; "+
			"possible index collision or barcode leakage, counts are kept", spot, gene, d.maxPerKey)
	}
	return true
}

func (d *Deduplicator) withinDist(u1, u2 string) bool {
	if len(u1) == len(u2) {
		return util.HammingBounded(u1, u2, d.maxDist+1) <= d.maxDist
	}
	// Length drift means an indel somewhere; Hamming does not apply.
	return util.Levenshtein(u1, u2) <= d.maxDist
}

// Molecules returns the number of unique molecules registered so far.
func (d *Deduplicator) Molecules() int { return d.molecules }

// Duplicates returns the number of observations merged into an existing
// molecule.
func (d *Deduplicator) Duplicates() int { return d.duplicates }

// OverflowKeys returns the number of (spot, gene) keys whose UMI list
// exceeded the configured bound.
func (d *Deduplicator) OverflowKeys() int { return d.overflowKeys }
