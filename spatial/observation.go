package spatial

import (
	"strconv"

	"github.com/grailbio/hts/sam"
)

// tagSet holds the parsed aux tags so workers do not rebuild them per
// record.
type tagSet struct {
	round [numRounds]sam.Tag
	umi   sam.Tag
	gene  sam.Tag
	spot  sam.Tag
}

func newTagSet(opts *Opts) *tagSet {
	t := &tagSet{
		umi:  sam.NewTag(opts.TagUMI),
		gene: sam.NewTag(opts.TagGene),
		spot: sam.NewTag(opts.TagSpot),
	}
	for r := RoundX; r < numRounds; r++ {
		t.round[r] = sam.NewTag(opts.roundTag(r))
	}
	return t
}

// Observation is the per-read raw material of spot resolution: the
// extracted round fragments, the UMI, and the aligner's gene
// assignment. It lives only for the duration of one read's processing.
type Observation struct {
	Name      string
	Fragments [numRounds]string
	UMI       string
	Gene      string
	MapQ      byte
}

// stringAux returns the string value of an aux tag, or "" when the tag
// is absent.
func stringAux(rec *sam.Record, tag sam.Tag) string {
	aux := rec.AuxFields.Get(tag)
	if aux == nil {
		return ""
	}
	switch v := aux.Value().(type) {
	case string:
		return v
	case byte:
		return string(v)
	}
	return ""
}

// parseRecord extracts the observation from a tagged, aligned record.
func parseRecord(rec *sam.Record, tags *tagSet) Observation {
	obs := Observation{
		Name: rec.Name,
		UMI:  stringAux(rec, tags.umi),
		Gene: stringAux(rec, tags.gene),
		MapQ: rec.MapQ,
	}
	for r := RoundX; r < numRounds; r++ {
		obs.Fragments[r] = stringAux(rec, tags.round[r])
	}
	return obs
}

// setAux replaces the value of tag on rec, adding the tag if absent.
func setAux(rec *sam.Record, tag sam.Tag, value string) error {
	aux, err := sam.NewAux(tag, value)
	if err != nil {
		return err
	}
	fields := rec.AuxFields[:0]
	for _, a := range rec.AuxFields {
		if a.Tag() != tag {
			fields = append(fields, a)
		}
	}
	rec.AuxFields = append(fields, aux)
	return nil
}

// tagResolved rewrites the round tags of a kept record with the
// corrected coordinates and adds the combined spot tag ("XxY" or
// "XxYxZ"), the form downstream tooling keys on.
func tagResolved(rec *sam.Record, spot SpotID, rounds []Round, tags *tagSet) error {
	for _, r := range rounds {
		var coord int
		switch r {
		case RoundX:
			coord = spot.X
		case RoundY:
			coord = spot.Y
		case RoundZ:
			coord = spot.Z
		}
		if err := setAux(rec, tags.round[r], strconv.Itoa(coord)); err != nil {
			return err
		}
	}
	return setAux(rec, tags.spot, spot.String())
}
