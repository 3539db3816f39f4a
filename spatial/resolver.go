package spatial

import (
	"fmt"
	"strconv"
)

// SpotID is the spatial address of one tissue location: the tuple of
// per-round coordinates. Equality is structural. Z is meaningful only
// when HasZ is set (two-round designs have no z axis).
type SpotID struct {
	X, Y, Z int
	HasZ    bool
}

// String renders the coordinates joined by 'x' ("48x1" or "48x1x2"),
// the form used for the combined spot tag on filtered output.
func (s SpotID) String() string {
	out := strconv.Itoa(s.X) + "x" + strconv.Itoa(s.Y)
	if s.HasZ {
		out += "x" + strconv.Itoa(s.Z)
	}
	return out
}

// Resolver combines per-round corrected barcodes into a spot identity by
// mapping each entry's well through the round's well-coordinate
// assignment.
type Resolver struct {
	legend *Legend
}

// NewResolver returns a resolver over legend.
func NewResolver(legend *Legend) *Resolver {
	return &Resolver{legend: legend}
}

// Resolve builds the spot identity from the corrected entries, indexed
// by round. Every round in the experiment design is required: a read
// that lost a design-round barcode upstream cannot be spatially placed
// and is dropped, never given a null coordinate. ok is false when a
// required entry is missing.
func (r *Resolver) Resolve(entries [numRounds]*BarcodeEntry) (spot SpotID, ok bool) {
	for _, round := range r.legend.Rounds() {
		e := entries[round]
		if e == nil {
			return SpotID{}, false
		}
		coord, found := r.legend.CoordOf(round, e.Well)
		if !found {
			// Entries are built from the legend, so the well always
			// resolves; a miss means the entry belongs to another legend.
			panic(fmt.Sprintf("resolve: round %s well %s has no coordinate", round, e.Well))
		}
		switch round {
		case RoundX:
			spot.X = coord
		case RoundY:
			spot.Y = coord
		case RoundZ:
			spot.Z = coord
			spot.HasZ = true
		}
	}
	return spot, true
}
